package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/entitlements-backend/pkg/config"
	"github.com/angelmondragon/entitlements-backend/pkg/db"
	"github.com/angelmondragon/entitlements-backend/pkg/logger"
	"github.com/angelmondragon/entitlements-backend/pkg/migrate"
)

type options struct {
	dir     string
	name    string
	version string
	logg    *logger.Logger
}

type offlineCommand func(opts options) (string, error)

type dbCommand func(ctx context.Context, sqlDB *sql.DB, opts options) error

// Commands that only touch the migrations directory.
var offlineCommands = map[string]offlineCommand{
	"create": func(opts options) (string, error) {
		if strings.TrimSpace(opts.name) == "" {
			return "", fmt.Errorf("missing -name for create")
		}
		path, err := migrate.Scaffold(opts.dir, opts.name, time.Now())
		if err != nil {
			return "", err
		}
		return "created migration: " + path, nil
	},
	"validate": func(opts options) (string, error) {
		if err := migrate.ValidateDir(opts.dir); err != nil {
			return "", err
		}
		return "migration validation passed", nil
	},
}

var dbCommands = map[string]dbCommand{
	"up":     gooseCommand("up"),
	"down":   gooseCommand("down"),
	"redo":   gooseCommand("redo"),
	"status": gooseCommand("status"),
	"version": func(ctx context.Context, sqlDB *sql.DB, opts options) error {
		if strings.TrimSpace(opts.version) == "" {
			return fmt.Errorf("missing -version for version command")
		}
		return migrate.Runner{DB: sqlDB, Dir: opts.dir, Logger: opts.logg}.To(ctx, opts.version)
	},
}

func gooseCommand(name string) dbCommand {
	return func(ctx context.Context, sqlDB *sql.DB, opts options) error {
		return migrate.Runner{DB: sqlDB, Dir: opts.dir, Logger: opts.logg}.Exec(ctx, name)
	}
}

func commandNames() string {
	names := make([]string, 0, len(offlineCommands)+len(dbCommands))
	for name := range offlineCommands {
		names = append(names, name)
	}
	for name := range dbCommands {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, "|")
}

func main() {
	logg := logger.New(logger.Options{ServiceName: "migrate"})

	_ = godotenv.Load()

	cmd := flag.String("cmd", "up", "migration command: "+commandNames())
	var opts options
	flag.StringVar(&opts.dir, "dir", migrate.DefaultDir, "goose migrations directory")
	flag.StringVar(&opts.name, "name", "", "migration name (for create)")
	flag.StringVar(&opts.version, "version", "", "target version (YYYYMMDDHHMMSS) for -cmd=version")
	flag.Parse()

	ctx := logg.WithFields(context.Background(), map[string]any{
		"cmd": *cmd,
		"dir": opts.dir,
	})

	if run, ok := offlineCommands[*cmd]; ok {
		msg, err := run(opts)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s failed: %v\n", *cmd, err)
			os.Exit(1)
		}
		fmt.Println(msg)
		return
	}

	run, ok := dbCommands[*cmd]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown -cmd value %q (want %s)\n", *cmd, commandNames())
		os.Exit(1)
	}

	cfg, err := config.Load()
	requireResource(ctx, logg, "config", err)

	logg = logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})
	ctx = logg.WithField(ctx, "env", cfg.App.Env)
	opts.logg = logg

	dbClient, err := db.New(ctx, cfg.DB, logg)
	requireResource(ctx, logg, "database", err)
	defer dbClient.Close()

	sqlDB, err := dbClient.DB().DB()
	requireResource(ctx, logg, "sql database", err)

	logg.Info(ctx, "migrate ready")
	if err := run(ctx, sqlDB, opts); err != nil {
		fmt.Fprintf(os.Stderr, "goose %s failed: %v\n", *cmd, err)
		os.Exit(1)
	}
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
