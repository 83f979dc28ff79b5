package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLockKey(t *testing.T) {
	assert.Equal(t, "ent:cron-worker:lock:prod", lockKey("prod"))
	assert.Equal(t, "ent:cron-worker:lock:local", lockKey(""))
}

func TestDays(t *testing.T) {
	assert.Equal(t, 72*time.Hour, days(3))
	assert.Zero(t, days(0))
}
