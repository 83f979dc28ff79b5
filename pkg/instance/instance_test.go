package instance

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func reset() {
	once = sync.Once{}
	id = ""
}

func TestIDPrefersEnv(t *testing.T) {
	reset()
	t.Cleanup(reset)
	t.Setenv("WORKER_ID", "bare")
	t.Setenv("ENT_WORKER_ID", "cron-1")

	assert.Equal(t, "cron-1", ID())
	t.Setenv("ENT_WORKER_ID", "changed")
	assert.Equal(t, "cron-1", ID(), "resolved once")
}

func TestIDFallsBackToHostAndPID(t *testing.T) {
	reset()
	t.Cleanup(reset)
	t.Setenv("ENT_WORKER_ID", "")
	t.Setenv("WORKER_ID", "")

	assert.True(t, strings.HasSuffix(ID(), "-"+strconv.Itoa(os.Getpid())))
}
