package cron

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/angelmondragon/entitlements-backend/pkg/logger"
)

type fakeLocker struct {
	held     bool
	releases int
}

type fakeLease struct{ l *fakeLocker }

func (f fakeLease) Release(context.Context) error {
	f.l.held = false
	f.l.releases++
	return nil
}

func (f *fakeLocker) TryLock(context.Context) (Lease, bool, error) {
	if f.held {
		return nil, false, nil
	}
	f.held = true
	return fakeLease{l: f}, true, nil
}

type testJob struct {
	name  string
	err   error
	panic bool
	runs  int
}

func (t *testJob) Name() string { return t.name }

func (t *testJob) Run(context.Context) error {
	t.runs++
	if t.panic {
		panic("boom")
	}
	return t.err
}

func newTestService(t *testing.T, locker Locker, jobs ...Job) *Service {
	t.Helper()
	registry, err := NewRegistry(jobs...)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	svc, err := NewService(ServiceParams{
		Logger:   logger.New(logger.Options{ServiceName: "cron-test", Output: &bytes.Buffer{}}),
		Registry: registry,
		Locker:   locker,
	})
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}
	return svc
}

func TestRunOnceRunsEveryJobDespiteFailures(t *testing.T) {
	ok := &testJob{name: "ok"}
	failing := &testJob{name: "fail", err: errors.New("boom")}
	panicking := &testJob{name: "panic", panic: true}
	after := &testJob{name: "after"}
	locker := &fakeLocker{}

	err := newTestService(t, locker, ok, failing, panicking, after).RunOnce(context.Background())
	if err == nil {
		t.Fatalf("expected aggregate failure")
	}
	for _, job := range []*testJob{ok, failing, panicking, after} {
		if job.runs != 1 {
			t.Fatalf("job %s ran %d times", job.name, job.runs)
		}
	}
	if locker.held || locker.releases != 1 {
		t.Fatalf("lock should be released once, held=%v releases=%d", locker.held, locker.releases)
	}
}

func TestRunOnceSkipsWhenLockHeld(t *testing.T) {
	job := &testJob{name: "ok"}
	locker := &fakeLocker{held: true}

	if err := newTestService(t, locker, job).RunOnce(context.Background()); err != nil {
		t.Fatalf("skipped cycle should not error: %v", err)
	}
	if job.runs != 0 {
		t.Fatalf("job should not run without the lock")
	}
}

func TestUntilNextAlignsToInterval(t *testing.T) {
	svc := newTestService(t, &fakeLocker{})
	now := time.Date(2026, 10, 18, 9, 20, 0, 0, time.UTC)
	if got := svc.untilNext(now); got != 40*time.Minute {
		t.Fatalf("expected 40m until the next hour, got %s", got)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	job := &testJob{name: "ok"}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := newTestService(t, &fakeLocker{}, job).Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
