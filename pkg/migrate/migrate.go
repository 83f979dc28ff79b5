// Package migrate wraps goose for the entitlement schema: applying, rolling
// back, scaffolding and linting the SQL files under migrations/.
package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/pressly/goose/v3"

	"github.com/angelmondragon/entitlements-backend/pkg/logger"
)

const (
	DefaultDir = "pkg/migrate/migrations"

	// VersionTable is where goose records applied versions.
	VersionTable = "entitlements_schema_version"

	dialect = "postgres"
)

var (
	ErrNoDatabase     = errors.New("migrate: database handle is required")
	ErrNoDirectory    = errors.New("migrate: migrations directory is required")
	ErrInvalidVersion = errors.New("migrate: version must be YYYYMMDDHHMMSS")
	ErrUnknownCommand = errors.New("migrate: unknown command")
)

var versionRe = regexp.MustCompile(`^\d{14}$`)

// ParseVersion converts a timestamp version string into goose's int64 form.
func ParseVersion(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if !versionRe.MatchString(raw) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidVersion, raw)
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidVersion, err)
	}
	return v, nil
}

// goose keeps its dialect, table and logger in package state.
var gooseMu sync.Mutex

// Runner applies migrations from Dir against DB.
type Runner struct {
	DB     *sql.DB
	Dir    string
	Logger *logger.Logger
}

func (r Runner) check() error {
	if r.DB == nil {
		return ErrNoDatabase
	}
	if strings.TrimSpace(r.Dir) == "" {
		return ErrNoDirectory
	}
	return nil
}

func (r Runner) with(ctx context.Context, fn func() error) error {
	if err := r.check(); err != nil {
		return err
	}
	gooseMu.Lock()
	defer gooseMu.Unlock()

	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	goose.SetTableName(VersionTable)
	if r.Logger != nil {
		goose.SetLogger(gooseLogger{ctx: ctx, logg: r.Logger})
	}
	return fn()
}

// Exec runs one of goose's directional commands: up, down, redo or status.
func (r Runner) Exec(ctx context.Context, command string) error {
	var op func(context.Context, *sql.DB, string, ...goose.OptionsFunc) error
	switch command {
	case "up":
		op = goose.UpContext
	case "down":
		op = goose.DownContext
	case "redo":
		op = func(ctx context.Context, db *sql.DB, dir string, _ ...goose.OptionsFunc) error {
			return goose.RedoContext(ctx, db, dir)
		}
	case "status":
		op = func(ctx context.Context, db *sql.DB, dir string, _ ...goose.OptionsFunc) error {
			return goose.StatusContext(ctx, db, dir)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCommand, command)
	}
	return r.with(ctx, func() error {
		if err := op(ctx, r.DB, r.Dir); err != nil {
			return fmt.Errorf("goose %s: %w", command, err)
		}
		return nil
	})
}

// To moves the schema up or down until the recorded version equals target.
func (r Runner) To(ctx context.Context, target string) error {
	version, err := ParseVersion(target)
	if err != nil {
		return err
	}
	return r.with(ctx, func() error {
		current, err := goose.GetDBVersionContext(ctx, r.DB)
		if err != nil {
			return fmt.Errorf("read schema version: %w", err)
		}
		switch {
		case current < version:
			err = goose.UpToContext(ctx, r.DB, r.Dir, version)
		case current > version:
			err = goose.DownToContext(ctx, r.DB, r.Dir, version)
		default:
			return nil
		}
		if err != nil {
			return fmt.Errorf("goose migrate %d -> %d: %w", current, version, err)
		}
		return nil
	})
}

// gooseLogger routes goose's printf output through the structured logger.
type gooseLogger struct {
	ctx  context.Context
	logg *logger.Logger
}

func (g gooseLogger) Printf(format string, v ...any) {
	g.logg.Info(g.ctx, strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (g gooseLogger) Fatalf(format string, v ...any) {
	g.logg.Error(g.ctx, "goose fatal", fmt.Errorf(format, v...))
}
