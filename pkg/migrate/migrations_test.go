package migrate_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/angelmondragon/entitlements-backend/pkg/migrate"
)

func readMigration(t *testing.T, suffix string) string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join("migrations", "*_"+suffix+".sql"))
	require.NoError(t, err)
	require.NotEmpty(t, matches, "no %s migration", suffix)
	data, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	return string(data)
}

func TestShippedMigrationsLint(t *testing.T) {
	require.NoError(t, migrate.ValidateDir("migrations"))
}

func TestTrialMigrationContainsConstraints(t *testing.T) {
	content := readMigration(t, "create_trials_and_subscriptions")
	for _, sub := range []string{
		"CREATE TABLE IF NOT EXISTS trials",
		"CONSTRAINT ux_trials_user_platform UNIQUE (user_id, platform)",
		"CHECK (usage_count >= 0)",
		"CONSTRAINT ux_subscriptions_user_platform UNIQUE (user_id, platform)",
		"CONSTRAINT ux_access_grants_user_platform UNIQUE (user_id, platform)",
		"DROP TABLE IF EXISTS trials",
	} {
		assert.Contains(t, content, sub)
	}
}

func TestAnalyticsMigrationContainsDedupeKeys(t *testing.T) {
	content := readMigration(t, "create_billing_and_analytics")
	for _, sub := range []string{
		"CONSTRAINT ux_retention_decisions_dedupe UNIQUE (user_id, platform, kind, dedupe_key)",
		"CONSTRAINT ux_experiment_assignments_test_user UNIQUE (test_id, user_id)",
		"CREATE INDEX IF NOT EXISTS ix_usage_events_subject ON usage_events (user_id, platform, occurred_at)",
		"CHECK (score BETWEEN 0 AND 100)",
	} {
		assert.Contains(t, content, sub)
	}
}

func TestValidateDirReportsEveryProblem(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"001_bad.sql":                 "-- +goose Up\n-- +goose Down\n",
		"20260101000000_only_up.sql":  "-- +goose Up\nSELECT 1;\n",
		"20260101000003_reversed.sql": "-- +goose Down\n-- +goose Up\n",
		"20260101000002_again.sql":    "-- +goose Up\n-- +goose Down\n",
		"20260101000002_fine.sql":     "-- +goose Up\nSELECT 1;\n-- +goose Down\nSELECT 1;\n",
		"notes.txt":                   "ignored",
	}
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}

	err := migrate.ValidateDir(dir)
	require.Error(t, err)
	assert.Len(t, multierr.Errors(err), 4)
	assert.Contains(t, err.Error(), "goose Down")
}

func TestScaffoldWritesLintCleanFile(t *testing.T) {
	dir := t.TempDir()
	at := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	path, err := migrate.Scaffold(dir, "Add Trial Usage!", at)
	require.NoError(t, err)
	assert.Equal(t, "20260302100000_add_trial_usage.sql", filepath.Base(path))
	require.NoError(t, migrate.ValidateDir(dir))

	_, err = migrate.Scaffold(dir, "add trial usage", at)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "already exists"))
}

func TestScaffoldRejectsEmptySlug(t *testing.T) {
	_, err := migrate.Scaffold(t.TempDir(), "!!!", time.Now())
	require.Error(t, err)
}

func TestParseVersion(t *testing.T) {
	v, err := migrate.ParseVersion("20260301090000")
	require.NoError(t, err)
	assert.Equal(t, int64(20260301090000), v)

	_, err = migrate.ParseVersion("2026")
	assert.ErrorIs(t, err, migrate.ErrInvalidVersion)
}

func TestRunnerRequiresDatabase(t *testing.T) {
	err := migrate.Runner{Dir: "migrations"}.Exec(context.Background(), "up")
	assert.ErrorIs(t, err, migrate.ErrNoDatabase)

	err = migrate.Runner{Dir: "migrations"}.To(context.Background(), "bad")
	assert.ErrorIs(t, err, migrate.ErrInvalidVersion)
}
