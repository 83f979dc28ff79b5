// Package instance names the running process in logs and lock leases.
package instance

import (
	"fmt"
	"os"
	"sync"

	"github.com/angelmondragon/entitlements-backend/pkg/env"
)

var (
	once sync.Once
	id   string
)

// ID returns ENT_WORKER_ID (or WORKER_ID) when set, otherwise <hostname>-<pid>.
// The value is resolved once per process.
func ID() string {
	once.Do(func() {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "worker"
		}
		id = env.First(fmt.Sprintf("%s-%d", host, os.Getpid()), "ENT_WORKER_ID", "WORKER_ID")
	})
	return id
}
