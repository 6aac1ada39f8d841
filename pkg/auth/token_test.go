package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/lackmarkt-backend/pkg/config"
	"github.com/angelmondragon/lackmarkt-backend/pkg/enums"
)

var testCfg = config.JWTConfig{Secret: "secret", Issuer: "lackmarkt-auth", Leeway: 30 * time.Second}

func newVerifier(t *testing.T) *Verifier {
	t.Helper()
	v, err := NewVerifier(testCfg)
	require.NoError(t, err)
	return v
}

func mint(t *testing.T, cfg config.JWTConfig, issuedAt time.Time, ttl time.Duration) string {
	t.Helper()
	token, err := Mint(cfg, Identity{UserID: uuid.New(), Role: enums.RoleUser}, issuedAt, ttl)
	require.NoError(t, err)
	return token
}

func TestVerifyRoundTrip(t *testing.T) {
	want := Identity{UserID: uuid.New(), Email: "buyer@example.com", Role: enums.RoleUser}
	token, err := Mint(testCfg, want, time.Now(), 30*time.Minute)
	require.NoError(t, err)

	got, err := newVerifier(t).Verify(token)
	require.NoError(t, err)
	require.Equal(t, want, got)
	require.False(t, got.IsAdmin())
}

func TestVerifyRejects(t *testing.T) {
	v := newVerifier(t)
	now := time.Now()

	tampered := strings.Split(mint(t, testCfg, now, time.Minute), ".")
	tampered[2] = strings.Repeat("A", len(tampered[2]))

	otherIssuer := testCfg
	otherIssuer.Issuer = "someone-else"

	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, AccessTokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uuid.NewString(),
			Issuer:    testCfg.Issuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}).SignedString([]byte(testCfg.Secret))
	require.NoError(t, err)

	noExpiry, err := jwt.NewWithClaims(signingMethod, AccessTokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: uuid.NewString(), Issuer: testCfg.Issuer},
	}).SignedString([]byte(testCfg.Secret))
	require.NoError(t, err)

	cases := map[string]string{
		"garbage":        "not-a-jwt",
		"bad signature":  strings.Join(tampered, "."),
		"wrong issuer":   mint(t, otherIssuer, now, time.Hour),
		"expired":        mint(t, testCfg, now.Add(-2*time.Hour), time.Hour),
		"other hmac alg": hs512,
		"missing expiry": noExpiry,
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := v.Verify(token)
			require.Error(t, err)
		})
	}
}

func TestVerifyAllowsClockSkewWithinLeeway(t *testing.T) {
	token := mint(t, testCfg, time.Now().Add(-time.Hour-10*time.Second), time.Hour)
	_, err := newVerifier(t).Verify(token)
	require.NoError(t, err)
}

func TestNewVerifierNeedsSecretAndIssuer(t *testing.T) {
	_, err := NewVerifier(config.JWTConfig{Issuer: "x"})
	require.Error(t, err)
	_, err = NewVerifier(config.JWTConfig{Secret: "x"})
	require.Error(t, err)
}

func TestClaimsDefaultRoleIsUser(t *testing.T) {
	claims := AccessTokenClaims{}
	claims.Subject = uuid.NewString()
	identity, err := claims.Identity()
	require.NoError(t, err)
	require.Equal(t, enums.RoleUser, identity.Role)
}
