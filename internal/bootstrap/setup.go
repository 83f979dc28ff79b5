package bootstrap

import (
	"context"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/entitlements-backend/pkg/config"
	"github.com/angelmondragon/entitlements-backend/pkg/logger"
)

// Setup reads .env when present, loads the config and returns a logger at
// the configured level. The returned logger is usable even on error.
func Setup(service string) (*config.Config, *logger.Logger, error) {
	logg := logger.New(logger.Options{ServiceName: service})
	if err := godotenv.Load(); err != nil {
		logg.Debug(context.Background(), ".env file not found, relying on environment")
	}
	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		return nil, logg, err
	}
	cfg.Service.Kind = service
	return cfg, logger.New(logger.Options{
		ServiceName: service,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	}), nil
}
