package stripe

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/lackmarkt-backend/pkg/config"
	"github.com/angelmondragon/lackmarkt-backend/pkg/logger"
)

const (
	EnvTest = "test"
	EnvLive = "live"
)

// Client holds the validated Stripe settings for one process. Creating it
// configures the package-level stripe-go key that the gateway calls use.
type Client struct {
	environment   string
	signingSecret string
}

type settings struct {
	env, apiKey, signingSecret string
}

// parseSettings checks that the key matches the environment so a live key is
// never used against test data and the other way around.
func parseSettings(cfg config.StripeConfig) (settings, error) {
	s := settings{
		env:           cfg.Environment(),
		apiKey:        strings.TrimSpace(cfg.APIKey),
		signingSecret: strings.TrimSpace(cfg.Secret),
	}
	if s.env != EnvTest && s.env != EnvLive {
		return settings{}, fmt.Errorf("stripe env %q: want %q or %q", s.env, EnvTest, EnvLive)
	}
	if s.apiKey == "" {
		return settings{}, errors.New("stripe api key is required")
	}
	if !strings.HasPrefix(s.apiKey, "sk_"+s.env+"_") && !strings.HasPrefix(s.apiKey, "rk_"+s.env+"_") {
		return settings{}, fmt.Errorf("stripe %s mode needs an sk_%s_ or rk_%s_ key", s.env, s.env, s.env)
	}
	if !strings.HasPrefix(s.signingSecret, "whsec_") {
		return settings{}, errors.New("stripe webhook signing secret must start with whsec_")
	}
	return s, nil
}

func NewClient(ctx context.Context, cfg config.StripeConfig, logg *logger.Logger) (*Client, error) {
	s, err := parseSettings(cfg)
	if err != nil {
		return nil, err
	}

	stripe.Key = s.apiKey
	stripe.SetAppInfo(&stripe.AppInfo{Name: "lackmarkt-backend"})
	if logg != nil {
		stripe.DefaultLeveledLogger = &leveledLogger{ctx: logg.WithField(ctx, "component", "stripe-go"), logg: logg}
		logg.Info(logg.WithField(ctx, "stripe_env", s.env), "stripe client initialized")
	}
	return &Client{environment: s.env, signingSecret: s.signingSecret}, nil
}

// Environment is "test" or "live".
func (c *Client) Environment() string {
	if c == nil {
		return ""
	}
	return c.environment
}

// SigningSecret verifies webhook signatures.
func (c *Client) SigningSecret() string {
	if c == nil {
		return ""
	}
	return c.signingSecret
}

// leveledLogger routes stripe-go's own logging into the service logger.
// Debug output is dropped.
type leveledLogger struct {
	ctx  context.Context
	logg *logger.Logger
}

func (l *leveledLogger) Debugf(string, ...interface{}) {}

func (l *leveledLogger) Infof(format string, v ...interface{}) {
	l.logg.Debug(l.ctx, fmt.Sprintf(format, v...))
}

func (l *leveledLogger) Warnf(format string, v ...interface{}) {
	l.logg.Warn(l.ctx, fmt.Sprintf(format, v...))
}

func (l *leveledLogger) Errorf(format string, v ...interface{}) {
	msg := fmt.Sprintf(format, v...)
	l.logg.Error(l.ctx, "stripe-go error", errors.New(msg))
}
