package stripe

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/lackmarkt-backend/pkg/config"
	"github.com/angelmondragon/lackmarkt-backend/pkg/logger"
)

func TestParseSettingsMatchesKeyToEnvironment(t *testing.T) {
	cases := []struct {
		name string
		cfg  config.StripeConfig
		ok   bool
	}{
		{"test secret key", config.StripeConfig{APIKey: "sk_test_abc", Secret: "whsec_1"}, true},
		{"restricted live key", config.StripeConfig{APIKey: "rk_live_abc", Secret: "whsec_1", Env: " LIVE "}, true},
		{"live key in test mode", config.StripeConfig{APIKey: "sk_live_abc", Secret: "whsec_1"}, false},
		{"test key in live mode", config.StripeConfig{APIKey: "sk_test_abc", Secret: "whsec_1", Env: "live"}, false},
		{"publishable key", config.StripeConfig{APIKey: "pk_test_abc", Secret: "whsec_1"}, false},
		{"unknown env", config.StripeConfig{APIKey: "sk_test_abc", Secret: "whsec_1", Env: "staging"}, false},
		{"missing key", config.StripeConfig{Secret: "whsec_1"}, false},
		{"bad signing secret", config.StripeConfig{APIKey: "sk_test_abc", Secret: "secret"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := parseSettings(tc.cfg)
			if tc.ok {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
			}
		})
	}
}

func TestNewClientExposesSettings(t *testing.T) {
	c, err := NewClient(context.Background(), config.StripeConfig{APIKey: "sk_test_abc", Secret: " whsec_1 "}, nil)
	require.NoError(t, err)
	require.Equal(t, EnvTest, c.Environment())
	require.Equal(t, "whsec_1", c.SigningSecret())

	var nilClient *Client
	require.Empty(t, nilClient.SigningSecret())
}

func TestLeveledLoggerForwardsWarnings(t *testing.T) {
	buf := &bytes.Buffer{}
	logg := logger.New(logger.Options{ServiceName: "test", Output: buf})
	l := &leveledLogger{ctx: context.Background(), logg: logg}

	l.Debugf("noise %d", 1)
	require.Zero(t, buf.Len())

	l.Warnf("request %s retried", "req_1")
	require.Contains(t, buf.String(), "request req_1 retried")
}
