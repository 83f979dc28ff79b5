// Package gcp holds the bits shared by the Google Cloud clients.
package gcp

import (
	"errors"
	"fmt"
	"strings"

	"google.golang.org/api/option"

	"github.com/angelmondragon/entitlements-backend/pkg/config"
)

var ErrNoProject = errors.New("gcp: project id is required")

// ClientOptions picks credentials from cfg: inline JSON wins over a file
// path, and neither falls back to application default credentials.
func ClientOptions(cfg config.GCPConfig) []option.ClientOption {
	if js := strings.TrimSpace(cfg.CredentialsJSON); js != "" {
		return []option.ClientOption{option.WithCredentialsJSON([]byte(js))}
	}
	if path := strings.TrimSpace(cfg.ApplicationCredentials); path != "" {
		return []option.ClientOption{option.WithCredentialsFile(path)}
	}
	return nil
}

// ResourceName expands a short id into projects/<project>/<collection>/<id>.
// Already qualified names pass through unchanged.
func ResourceName(project, collection, id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", fmt.Errorf("gcp: empty %s name", strings.TrimSuffix(collection, "s"))
	}
	if strings.HasPrefix(id, "projects/") && strings.Contains(id, "/"+collection+"/") {
		return id, nil
	}
	project = strings.TrimSpace(project)
	if project == "" {
		return "", ErrNoProject
	}
	return "projects/" + project + "/" + collection + "/" + id, nil
}
