package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/stockflow/reminderd/internal/escalation"
	"github.com/stockflow/reminderd/internal/redis"
)

type fakeRunner struct {
	mu   sync.Mutex
	runs int
	err  error
}

func (f *fakeRunner) Run(ctx context.Context, today time.Time) (*escalation.RunSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs++
	if f.err != nil {
		return nil, f.err
	}
	return &escalation.RunSummary{Processed: 1}, nil
}

func (f *fakeRunner) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runs
}

type fakeLock struct {
	mu       sync.Mutex
	acquires int
	releases int
	err      error
}

func (f *fakeLock) Acquire(ctx context.Context, runDate string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acquires++
	return f.err
}

func (f *fakeLock) Release(ctx context.Context, runDate string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.releases++
}

type fakeNotifier struct {
	mu       sync.Mutex
	posts    int
	triggers []string
}

func (f *fakeNotifier) Post(ctx context.Context, runDate, trigger string, summary *escalation.RunSummary) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posts++
	f.triggers = append(f.triggers, trigger)
}

func TestScheduler_RunsImmediatelyOnStart(t *testing.T) {
	runner := &fakeRunner{}
	s := New(runner, nil, nil, Config{Interval: time.Hour}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	waitFor(t, func() bool { return runner.count() >= 1 })
	cancel()
	<-done

	if runner.count() != 1 {
		t.Errorf("runs = %d, want 1", runner.count())
	}
}

func TestScheduler_TicksOnInterval(t *testing.T) {
	runner := &fakeRunner{}
	s := New(runner, nil, nil, Config{Interval: 20 * time.Millisecond}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	waitFor(t, func() bool { return runner.count() >= 3 })
	cancel()
	<-done
}

func TestScheduler_AcquiresAndReleasesLock(t *testing.T) {
	runner := &fakeRunner{}
	lock := &fakeLock{}
	notifier := &fakeNotifier{}
	s := New(runner, lock, notifier, Config{Interval: time.Hour}, zap.NewNop())

	s.attempt(context.Background())

	if lock.acquires != 1 || lock.releases != 1 {
		t.Errorf("acquires = %d, releases = %d, want 1/1", lock.acquires, lock.releases)
	}
	if notifier.posts != 1 {
		t.Errorf("posts = %d, want 1", notifier.posts)
	}
	if notifier.triggers[0] != "scheduler" {
		t.Errorf("trigger = %q, want scheduler", notifier.triggers[0])
	}
}

func TestScheduler_SkipsWhenRunInProgress(t *testing.T) {
	runner := &fakeRunner{}
	lock := &fakeLock{err: redis.ErrRunInProgress}
	s := New(runner, lock, nil, Config{Interval: time.Hour}, zap.NewNop())

	s.attempt(context.Background())

	if runner.count() != 0 {
		t.Errorf("runs = %d, want 0 when another run holds the lock", runner.count())
	}
	if lock.releases != 0 {
		t.Errorf("releases = %d, want 0 for a lock we never held", lock.releases)
	}
}

func TestScheduler_ProceedsWhenLockUnavailable(t *testing.T) {
	runner := &fakeRunner{}
	lock := &fakeLock{err: errors.New("redis: connection refused")}
	s := New(runner, lock, nil, Config{Interval: time.Hour}, zap.NewNop())

	s.attempt(context.Background())

	if runner.count() != 1 {
		t.Errorf("runs = %d, want 1 when the lock service is down", runner.count())
	}
}

func TestScheduler_NoNotificationOnFailure(t *testing.T) {
	runner := &fakeRunner{err: errors.New("database unreachable")}
	notifier := &fakeNotifier{}
	s := New(runner, nil, notifier, Config{Interval: time.Hour}, zap.NewNop())

	s.attempt(context.Background())

	if notifier.posts != 0 {
		t.Errorf("posts = %d, want 0 after a failed run", notifier.posts)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
