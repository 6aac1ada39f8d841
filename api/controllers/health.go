package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/angelmondragon/lackmarkt-backend/api/middleware"
	"github.com/angelmondragon/lackmarkt-backend/api/responses"
	"github.com/angelmondragon/lackmarkt-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/lackmarkt-backend/pkg/errors"
	"github.com/angelmondragon/lackmarkt-backend/pkg/health"
	"github.com/angelmondragon/lackmarkt-backend/pkg/logger"
)

const (
	envHeader    = "X-Lackmarkt-Env"
	readyTimeout = 2 * time.Second
)

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(envHeader, cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady answers 503 with the failing dependency names when any check is
// down.
func HealthReady(cfg *config.Config, checks health.Checks, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(envHeader, cfg.App.Env)

		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()

		statuses, err := checks.Run(ctx)
		if err != nil {
			responses.WriteError(r.Context(), logg, w,
				pkgerrors.Wrap(pkgerrors.CodeDependency, err, "dependency unavailable").
					WithDetails(map[string]any{"checks": statuses, "down": health.Down(err)}))
			return
		}
		responses.WriteSuccess(w, map[string]any{"status": "ready", "checks": statuses})
	}
}

// Ping confirms the caller got through the middleware of scope's route group
// and echoes the identity it was authenticated as.
func Ping(scope string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload := map[string]string{"scope": scope, "status": "ok"}
		if identity, ok := middleware.IdentityFromContext(r.Context()); ok {
			payload["user_id"] = identity.UserID.String()
			payload["role"] = string(identity.Role)
		}
		responses.WriteSuccess(w, payload)
	}
}
