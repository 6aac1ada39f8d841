package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	Eventing     EventingConfig
	GCP          GCPConfig
	GCS          GCSConfig
	PubSub       PubSubConfig
	Stripe       StripeConfig
	Sendgrid     SendgridConfig
	Outbox       OutboxConfig
	Settlement   SettlementConfig
	Invoice      InvoiceConfig
	Cron         CronConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Settlement.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadDB reads only the database settings, for tools that never touch the
// other dependencies.
func LoadDB() (DBConfig, error) {
	var db DBConfig
	if err := envconfig.Process(EnvPrefix, &db); err != nil {
		return DBConfig{}, fmt.Errorf("parsing db config: %w", err)
	}
	if err := db.ensureDSN(); err != nil {
		return DBConfig{}, err
	}
	return db, nil
}

type AppConfig struct {
	Env          string `envconfig:"LACKMARKT_APP_ENV" required:"true"`
	Port         string `envconfig:"LACKMARKT_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"LACKMARKT_LOG_LEVEL" default:"info"`
	LogFormat    string `envconfig:"LACKMARKT_LOG_FORMAT" default:"json"`
	LogWarnStack bool   `envconfig:"LACKMARKT_LOG_WARN_STACK" default:"false"`
	// CORSOrigins overrides the built-in origin allow list when set.
	CORSOrigins []string `envconfig:"LACKMARKT_CORS_ORIGINS"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd) || strings.EqualFold(a.Env, "production")
}

type ServiceConfig struct {
	Kind string `envconfig:"LACKMARKT_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN string `envconfig:"LACKMARKT_DB_DSN"`

	LegacyHost     string `envconfig:"LACKMARKT_DB_HOST"`
	LegacyPort     int    `envconfig:"LACKMARKT_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"LACKMARKT_DB_USER"`
	LegacyPassword string `envconfig:"LACKMARKT_DB_PASSWORD"`
	LegacyName     string `envconfig:"LACKMARKT_DB_NAME"`
	LegacySSLMode  string `envconfig:"LACKMARKT_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"LACKMARKT_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"LACKMARKT_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"LACKMARKT_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"LACKMARKT_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	// SlowQuery logs statements slower than this at warn; zero disables it.
	SlowQuery time.Duration `envconfig:"LACKMARKT_DB_SLOW_QUERY" default:"500ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"LACKMARKT_REDIS_URL"`
	Address      string        `envconfig:"LACKMARKT_REDIS_ADDR"`
	Password     string        `envconfig:"LACKMARKT_REDIS_PASSWORD"`
	DB           int           `envconfig:"LACKMARKT_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"LACKMARKT_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"LACKMARKT_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"LACKMARKT_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"LACKMARKT_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"LACKMARKT_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// JWTConfig holds the shared secret used to verify tokens minted by the auth
// provider. Leeway absorbs clock skew on exp and iat.
type JWTConfig struct {
	Secret string        `envconfig:"LACKMARKT_JWT_SECRET" required:"true"`
	Issuer string        `envconfig:"LACKMARKT_JWT_ISSUER" required:"true"`
	Leeway time.Duration `envconfig:"LACKMARKT_JWT_LEEWAY" default:"30s"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"LACKMARKT_AUTO_MIGRATE" default:"false"`
}

type EventingConfig struct {
	ConsumerIdempotencyTTL time.Duration `envconfig:"LACKMARKT_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
	WebhookIdempotencyTTL  time.Duration `envconfig:"LACKMARKT_WEBHOOK_IDEMPOTENCY_TTL" default:"72h"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"LACKMARKT_GCP_PROJECT_ID" required:"true"`
	CredentialsJSON        string `envconfig:"LACKMARKT_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"LACKMARKT_GOOGLE_APPLICATION_CREDENTIALS"`
}

type GCSConfig struct {
	BucketName        string        `envconfig:"LACKMARKT_GCS_BUCKET_NAME" required:"true"`
	DownloadURLExpiry time.Duration `envconfig:"LACKMARKT_GCS_DOWNLOAD_URL_EXPIRY" default:"15m"`
}

type PubSubConfig struct {
	NotificationTopic        string `envconfig:"LACKMARKT_PUBSUB_NOTIFICATION_TOPIC" default:"lm-notification-events"`
	NotificationSubscription string `envconfig:"LACKMARKT_PUBSUB_NOTIFICATION_SUBSCRIPTION" required:"true"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"LACKMARKT_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"LACKMARKT_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"LACKMARKT_OUTBOX_MAX_ATTEMPTS" default:"10"`
	RetentionDays  int `envconfig:"LACKMARKT_OUTBOX_RETENTION_DAYS" default:"30"`
}

type StripeConfig struct {
	APIKey string `envconfig:"LACKMARKT_STRIPE_API_KEY"`
	Secret string `envconfig:"LACKMARKT_STRIPE_SECRET"`
	Env    string `envconfig:"LACKMARKT_STRIPE_ENV" default:"test"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

type SendgridConfig struct {
	APIKey      string `envconfig:"LACKMARKT_SENDGRID_API_KEY"`
	DefaultFrom string `envconfig:"LACKMARKT_SENDGRID_FROM_EMAIL"`
	BaseURL     string `envconfig:"LACKMARKT_SENDGRID_BASE_URL" default:"https://api.sendgrid.com"`
}

// SettlementConfig carries the money and timer constants of the marketplace.
type SettlementConfig struct {
	Currency          string `envconfig:"LACKMARKT_SETTLEMENT_CURRENCY" default:"eur"`
	PlatformFeeBps    int    `envconfig:"LACKMARKT_SETTLEMENT_PLATFORM_FEE_BPS" default:"700"`
	OfferValidityDays int    `envconfig:"LACKMARKT_SETTLEMENT_OFFER_VALIDITY_DAYS" default:"14"`
	AutoReleaseDays   int    `envconfig:"LACKMARKT_SETTLEMENT_AUTO_RELEASE_DAYS" default:"28"`
	AutoRefundDays    int    `envconfig:"LACKMARKT_SETTLEMENT_AUTO_REFUND_DAYS" default:"7"`
	SweepBatchSize    int    `envconfig:"LACKMARKT_SETTLEMENT_SWEEP_BATCH_SIZE" default:"200"`

	OfferRateLimit  int           `envconfig:"LACKMARKT_SETTLEMENT_OFFER_RATE_LIMIT" default:"20"`
	OfferRateWindow time.Duration `envconfig:"LACKMARKT_SETTLEMENT_OFFER_RATE_WINDOW" default:"1h"`
}

func (s SettlementConfig) OfferValidity() time.Duration {
	return days(s.OfferValidityDays)
}

func (s SettlementConfig) AutoReleaseGrace() time.Duration {
	return days(s.AutoReleaseDays)
}

func (s SettlementConfig) AutoRefundAge() time.Duration {
	return days(s.AutoRefundDays)
}

func (s SettlementConfig) validate() error {
	if s.PlatformFeeBps < 0 || s.PlatformFeeBps > 10000 {
		return fmt.Errorf("%s must be between 0 and 10000", EnvPlatformFeeBps)
	}
	if s.AutoReleaseDays <= 0 || s.AutoRefundDays <= 0 || s.OfferValidityDays <= 0 {
		return fmt.Errorf("settlement timers must be positive")
	}
	return nil
}

type InvoiceConfig struct {
	NumberPrefix  string `envconfig:"LACKMARKT_INVOICE_NUMBER_PREFIX" default:"LM"`
	IssuerName    string `envconfig:"LACKMARKT_INVOICE_ISSUER_NAME" default:"Lackmarkt GmbH"`
	IssuerAddress string `envconfig:"LACKMARKT_INVOICE_ISSUER_ADDRESS"`
	IssuerTaxID   string `envconfig:"LACKMARKT_INVOICE_ISSUER_TAX_ID"`
}

// CronConfig drives the cron worker. Interval is the tick; RetentionEvery
// throttles the outbox cleanup to a slower cadence than the sweeps.
type CronConfig struct {
	Interval       time.Duration `envconfig:"LACKMARKT_CRON_INTERVAL" default:"15m"`
	RetentionEvery time.Duration `envconfig:"LACKMARKT_CRON_RETENTION_EVERY" default:"24h"`
	MetricsAddr    string        `envconfig:"LACKMARKT_CRON_METRICS_ADDR"`
}

func days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
