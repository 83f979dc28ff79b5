package migrate

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"go.uber.org/multierr"
)

const (
	upMarker   = "-- +goose Up"
	downMarker = "-- +goose Down"
)

var fileRe = regexp.MustCompile(`^(\d{14})_([a-z0-9_]+)\.sql$`)

// ValidateDir lints every .sql file in dir and returns all problems found.
// An empty directory is valid.
func ValidateDir(dir string) error {
	if strings.TrimSpace(dir) == "" {
		return ErrNoDirectory
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read migrations dir %q: %w", dir, err)
	}

	var problems error
	owners := make(map[string]string)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != ".sql" {
			continue
		}
		match := fileRe.FindStringSubmatch(name)
		if match == nil {
			problems = multierr.Append(problems, fmt.Errorf("%s: name must look like YYYYMMDDHHMMSS_snake_case.sql", name))
			continue
		}
		if prev, dup := owners[match[1]]; dup {
			problems = multierr.Append(problems, fmt.Errorf("%s: version %s already used by %s", name, match[1], prev))
			continue
		}
		owners[match[1]] = name

		body, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			problems = multierr.Append(problems, fmt.Errorf("%s: %w", name, err))
			continue
		}
		problems = multierr.Append(problems, lintBody(name, string(body)))
	}
	return problems
}

func lintBody(name, body string) error {
	up := strings.Index(body, upMarker)
	down := strings.Index(body, downMarker)
	switch {
	case up < 0:
		return fmt.Errorf("%s: missing %q", name, upMarker)
	case down < 0:
		return fmt.Errorf("%s: missing %q", name, downMarker)
	case down < up:
		return fmt.Errorf("%s: %q must come after %q", name, downMarker, upMarker)
	}
	return nil
}
