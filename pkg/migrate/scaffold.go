package migrate

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

var slugStrip = regexp.MustCompile(`[^a-z0-9]+`)

const scaffold = `-- +goose Up
-- +goose StatementBegin
-- %[1]s
-- +goose StatementEnd

-- +goose Down
-- +goose StatementBegin
-- revert %[1]s
-- +goose StatementEnd
`

// Slug lowercases name and collapses anything outside [a-z0-9] into single
// underscores.
func Slug(name string) string {
	return strings.Trim(slugStrip.ReplaceAllString(strings.ToLower(name), "_"), "_")
}

// Scaffold writes an empty Up/Down migration named after at and name into dir
// and returns its path.
func Scaffold(dir, name string, at time.Time) (string, error) {
	if strings.TrimSpace(dir) == "" {
		return "", ErrNoDirectory
	}
	slug := Slug(name)
	if slug == "" {
		return "", fmt.Errorf("migration name %q has no usable characters", name)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create migrations dir: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("%s_%s.sql", at.UTC().Format("20060102150405"), slug))
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return "", fmt.Errorf("migration %s already exists", path)
		}
		return "", fmt.Errorf("create migration: %w", err)
	}
	defer f.Close()

	if _, err := fmt.Fprintf(f, scaffold, slug); err != nil {
		return "", fmt.Errorf("write migration: %w", err)
	}
	return path, nil
}
