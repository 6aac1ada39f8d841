package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/lackmarkt-backend/pkg/config"
)

var signingMethod = jwt.SigningMethodHS256

// Verifier checks access tokens issued by the auth provider. Tokens must be
// HS256, carry the configured issuer and an expiry.
type Verifier struct {
	key    []byte
	parser *jwt.Parser
}

func NewVerifier(cfg config.JWTConfig) (*Verifier, error) {
	if cfg.Secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	if cfg.Issuer == "" {
		return nil, errors.New("jwt issuer is required")
	}
	return &Verifier{
		key: []byte(cfg.Secret),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{signingMethod.Alg()}),
			jwt.WithIssuer(cfg.Issuer),
			jwt.WithExpirationRequired(),
			jwt.WithLeeway(cfg.Leeway),
		),
	}, nil
}

// Claims validates raw and returns its claims.
func (v *Verifier) Claims(raw string) (*AccessTokenClaims, error) {
	claims := &AccessTokenClaims{}
	if _, err := v.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) { return v.key, nil }); err != nil {
		return nil, err
	}
	if claims.Role != "" && !claims.Role.IsValid() {
		return nil, fmt.Errorf("unknown role %q", claims.Role)
	}
	return claims, nil
}

// Verify resolves the caller behind raw.
func (v *Verifier) Verify(raw string) (Identity, error) {
	claims, err := v.Claims(raw)
	if err != nil {
		return Identity{}, err
	}
	identity, err := claims.Identity()
	if err != nil {
		return Identity{}, fmt.Errorf("subject is not a user id: %w", err)
	}
	return identity, nil
}

// Mint signs a token shaped like the provider's. Only tests and local
// tooling call it; production tokens come from the provider.
func Mint(cfg config.JWTConfig, identity Identity, issuedAt time.Time, ttl time.Duration) (string, error) {
	switch {
	case cfg.Secret == "" || cfg.Issuer == "":
		return "", errors.New("jwt secret and issuer are required")
	case ttl <= 0:
		return "", errors.New("jwt ttl must be positive")
	case !identity.Role.IsValid():
		return "", fmt.Errorf("unknown role %q", identity.Role)
	}
	claims := AccessTokenClaims{
		Email: identity.Email,
		Role:  identity.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   identity.UserID.String(),
			Issuer:    cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(signingMethod, claims).SignedString([]byte(cfg.Secret))
	if err != nil {
		return "", fmt.Errorf("sign jwt: %w", err)
	}
	return signed, nil
}
