package migrate

import (
	"context"
	"fmt"

	"github.com/angelmondragon/shoppad-backend/pkg/config"
	"github.com/angelmondragon/shoppad-backend/pkg/db"
	"github.com/angelmondragon/shoppad-backend/pkg/logger"
)

// MaybeRunDev applies the embedded migrations when running in dev with
// SHOPPAD_AUTO_MIGRATE enabled.
func MaybeRunDev(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if !cfg.App.IsDev() || !cfg.DB.AutoMigrate {
		return nil
	}

	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("extracting sql.DB: %w", err)
	}

	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "dialect": cfg.DB.Dialect()})
	logg.Info(ctx, "running embedded migrations (dev auto-run)")

	if err := Run(ctx, sqlDB, cfg.DB.Dialect(), "", "up"); err != nil {
		return fmt.Errorf("running goose up: %w", err)
	}

	logg.Info(ctx, "migrations completed")
	return nil
}
