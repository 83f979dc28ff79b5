package migrate

import (
	"context"
	"fmt"

	"github.com/angelmondragon/entitlements-backend/pkg/config"
	"github.com/angelmondragon/entitlements-backend/pkg/db"
	"github.com/angelmondragon/entitlements-backend/pkg/logger"
)

// MaybeRunDev applies pending migrations on boot, but only in dev with the
// auto-migrate flag set.
func MaybeRunDev(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if !cfg.App.IsDev() || !cfg.FeatureFlags.AutoMigrate {
		return nil
	}
	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("unwrap sql.DB: %w", err)
	}

	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "dir": DefaultDir})
	runner := Runner{DB: sqlDB, Dir: DefaultDir, Logger: logg}
	if err := runner.Exec(ctx, "up"); err != nil {
		return err
	}
	logg.Info(ctx, "dev migrations applied")
	return nil
}
