package config

// EnvPrefix is empty because every tag already carries the LACKMARKT_ prefix.
const EnvPrefix = ""

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv              = "LACKMARKT_APP_ENV"
	EnvPort                = "LACKMARKT_APP_PORT"
	EnvLogLevel            = "LACKMARKT_LOG_LEVEL"
	EnvDBDSN               = "LACKMARKT_DB_DSN"
	EnvDBHost              = "LACKMARKT_DB_HOST"
	EnvDBUser              = "LACKMARKT_DB_USER"
	EnvDBName              = "LACKMARKT_DB_NAME"
	EnvRedisURL            = "LACKMARKT_REDIS_URL"
	EnvJWTSecret           = "LACKMARKT_JWT_SECRET"
	EnvJWTIssuer           = "LACKMARKT_JWT_ISSUER"
	EnvGCPProjectID        = "LACKMARKT_GCP_PROJECT_ID"
	EnvGCSBucket           = "LACKMARKT_GCS_BUCKET_NAME"
	EnvPubSubNotifySub     = "LACKMARKT_PUBSUB_NOTIFICATION_SUBSCRIPTION"
	EnvPlatformFeeBps      = "LACKMARKT_SETTLEMENT_PLATFORM_FEE_BPS"
	EnvAutoReleaseDays     = "LACKMARKT_SETTLEMENT_AUTO_RELEASE_DAYS"
	EnvSettlementCurrency  = "LACKMARKT_SETTLEMENT_CURRENCY"
	EnvInvoiceNumberPrefix = "LACKMARKT_INVOICE_NUMBER_PREFIX"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
