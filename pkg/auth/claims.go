package auth

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/lackmarkt-backend/pkg/enums"
)

// Identity is the authenticated caller as asserted by the auth provider.
type Identity struct {
	UserID uuid.UUID
	Email  string
	Role   enums.Role
}

// IsAdmin reports whether the caller may override buyer/seller checks.
func (i Identity) IsAdmin() bool {
	return i.Role == enums.RoleAdmin || i.Role == enums.RoleSystem
}

// AccessTokenClaims is the provider-issued JWT. The user id travels in "sub".
type AccessTokenClaims struct {
	Email string     `json:"email"`
	Role  enums.Role `json:"role"`
	jwt.RegisteredClaims
}

// Identity converts verified claims into an Identity.
func (c AccessTokenClaims) Identity() (Identity, error) {
	id, err := uuid.Parse(c.Subject)
	if err != nil {
		return Identity{}, err
	}
	role := c.Role
	if role == "" {
		role = enums.RoleUser
	}
	return Identity{UserID: id, Email: c.Email, Role: role}, nil
}
