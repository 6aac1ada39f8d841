package middleware

import (
	"context"

	pkgAuth "github.com/angelmondragon/lackmarkt-backend/pkg/auth"
	pkgerrors "github.com/angelmondragon/lackmarkt-backend/pkg/errors"
)

type contextKey string

const ctxIdentity contextKey = "identity"

// WithIdentity injects the caller identity into the context.
func WithIdentity(ctx context.Context, identity pkgAuth.Identity) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxIdentity, identity)
}

// IdentityFromContext returns the identity seeded by Auth.
func IdentityFromContext(ctx context.Context) (pkgAuth.Identity, bool) {
	if ctx == nil {
		return pkgAuth.Identity{}, false
	}
	identity, ok := ctx.Value(ctxIdentity).(pkgAuth.Identity)
	return identity, ok
}

func UserIDFromContext(ctx context.Context) string {
	identity, ok := IdentityFromContext(ctx)
	if !ok {
		return ""
	}
	return identity.UserID.String()
}

func RoleFromContext(ctx context.Context) string {
	identity, ok := IdentityFromContext(ctx)
	if !ok {
		return ""
	}
	return string(identity.Role)
}

// RequireIdentity returns the caller identity or an UNAUTHORIZED error.
func RequireIdentity(ctx context.Context) (pkgAuth.Identity, error) {
	identity, ok := IdentityFromContext(ctx)
	if !ok {
		return pkgAuth.Identity{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}
	return identity, nil
}
