// Package db owns the relational store handle shared by every repository.
// Postgres is the production driver; SQLite backs local runs and tests.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/angelmondragon/entitlements-backend/pkg/config"
	"github.com/angelmondragon/entitlements-backend/pkg/logger"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

var errNoDSN = errors.New("database DSN is required")

// Client wraps the shared GORM connection.
type Client struct {
	conn *gorm.DB
}

// New opens the configured driver and applies the pool limits.
func New(ctx context.Context, cfg config.DBConfig, logg *logger.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, errNoDSN
	}
	driver := Driver(cfg)

	conn, err := gorm.Open(dialector(driver, cfg.DSN), Options())
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	pool, err := conn.DB()
	if err != nil {
		return nil, fmt.Errorf("%s pool: %w", driver, err)
	}
	limit(pool, cfg)

	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{
			"driver":         driver,
			"max_open_conns": cfg.MaxOpenConns,
		}), "database connection established")
	}
	return &Client{conn: conn}, nil
}

// NewFromConn wraps an already opened connection.
func NewFromConn(conn *gorm.DB) *Client {
	return &Client{conn: conn}
}

// Driver normalizes cfg.Driver; anything but sqlite means Postgres.
func Driver(cfg config.DBConfig) string {
	if strings.EqualFold(strings.TrimSpace(cfg.Driver), DriverSQLite) {
		return DriverSQLite
	}
	return DriverPostgres
}

// Options is the GORM configuration shared by services and test databases.
// Driver errors are translated so repositories can match gorm sentinels.
func Options() *gorm.Config {
	return &gorm.Config{
		Logger: gormlogger.New(
			log.New(io.Discard, "", 0),
			gormlogger.Config{LogLevel: gormlogger.Silent},
		),
		SkipDefaultTransaction: true,
		TranslateError:         true,
	}
}

func dialector(driver, dsn string) gorm.Dialector {
	if driver == DriverSQLite {
		return sqlite.Open(dsn)
	}
	return postgres.New(postgres.Config{DSN: dsn, PreferSimpleProtocol: true})
}

func limit(pool *sql.DB, cfg config.DBConfig) {
	if n := cfg.MaxOpenConns; n > 0 {
		pool.SetMaxOpenConns(n)
	}
	if n := cfg.MaxIdleConns; n > 0 {
		pool.SetMaxIdleConns(n)
	}
	if d := cfg.ConnMaxLifetime; d > 0 {
		pool.SetConnMaxLifetime(d)
	}
	if d := cfg.ConnMaxIdleTime; d > 0 {
		pool.SetConnMaxIdleTime(d)
	}
}

func (c *Client) DB() *gorm.DB {
	return c.conn
}

func (c *Client) Ping(ctx context.Context) error {
	pool, err := c.conn.DB()
	if err != nil {
		return err
	}
	return pool.PingContext(ctx)
}

func (c *Client) Close() error {
	pool, err := c.conn.DB()
	if err != nil {
		return err
	}
	return pool.Close()
}

// WithTx runs fn in a transaction. An error or panic from fn rolls it back.
func (c *Client) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return c.conn.WithContext(ctx).Transaction(fn)
}
