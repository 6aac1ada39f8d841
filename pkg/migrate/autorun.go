package migrate

import (
	"context"
	"fmt"

	"github.com/angelmondragon/lackmarkt-backend/pkg/config"
	"github.com/angelmondragon/lackmarkt-backend/pkg/db"
	"github.com/angelmondragon/lackmarkt-backend/pkg/logger"
)

// AutoApply brings a dev database up to date on boot when
// LACKMARKT_AUTO_MIGRATE is set. Other environments run cmd/migrate.
func AutoApply(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if !cfg.App.IsDev() || !cfg.FeatureFlags.AutoMigrate {
		return nil
	}
	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("sql handle: %w", err)
	}
	src, err := Source("")
	if err != nil {
		return err
	}
	m, err := NewMigrator(sqlDB, src)
	if err != nil {
		return err
	}

	applied, err := m.Up(ctx)
	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "applied": applied})
	if err != nil {
		return err
	}
	if len(applied) > 0 {
		logg.Info(ctx, "dev migrations applied")
	}
	return nil
}
