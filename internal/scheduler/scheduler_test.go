package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/example/secret-coffee/internal/logging"
	"github.com/example/secret-coffee/internal/testfixtures"
)

func newTestScheduler(clock *testfixtures.Clock) *Scheduler {
	return New(Options{
		Location:     testfixtures.Moscow,
		TickInterval: time.Hour,
		Now:          clock.Now,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func at(hour, minute int) time.Time {
	return time.Date(2024, time.January, 8, hour, minute, 0, 0, testfixtures.Moscow)
}

func TestRegisterValidation(t *testing.T) {
	t.Parallel()

	s := newTestScheduler(testfixtures.NewClock(at(9, 0)))
	noop := func(context.Context) error { return nil }

	cases := []struct {
		name string
		job  Job
	}{
		{"missing name", Job{Spec: "* * * * *", Run: noop}},
		{"missing body", Job{Name: "x", Spec: "* * * * *"}},
		{"bad cron", Job{Name: "x", Spec: "every monday", Run: noop}},
		{"negative retry", Job{Name: "x", Spec: "* * * * *", Run: noop, Retry: RetryPolicy{MaxRetries: -1}}},
	}
	for _, tc := range cases {
		if err := s.Register(tc.job); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}

	if err := s.Register(Job{Name: "x", Spec: "0 10 * * *", Run: noop}); err != nil {
		t.Fatalf("Register returned error: %v", err)
	}
	if err := s.Register(Job{Name: "x", Spec: "0 11 * * *", Run: noop}); !errors.Is(err, ErrDuplicateJob) {
		t.Fatalf("expected ErrDuplicateJob, got %v", err)
	}
}

func TestTickRunsDueJobsOnce(t *testing.T) {
	t.Parallel()

	clock := testfixtures.NewClock(at(9, 59))
	s := newTestScheduler(clock)
	var calls atomic.Int32
	if err := s.Register(Job{Name: "daily", Spec: "0 10 * * *", Run: func(ctx context.Context) error {
		if logging.FromContext(ctx) == nil {
			t.Errorf("expected a job scoped logger in the context")
		}
		calls.Add(1)
		return nil
	}}); err != nil {
		t.Fatalf("Register returned error: %v", err)
	}

	if n := s.Tick(); n != 0 {
		t.Fatalf("expected nothing due at 09:59, got %d", n)
	}

	clock.Set(at(10, 0))
	if n := s.Tick(); n != 1 {
		t.Fatalf("expected one dispatch at 10:00, got %d", n)
	}
	s.inflight.Wait()
	if n := s.Tick(); n != 0 {
		t.Fatalf("expected slot to be consumed, got %d", n)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected one call, got %d", calls.Load())
	}

	status := s.Status()
	if len(status) != 1 {
		t.Fatalf("expected one status entry, got %d", len(status))
	}
	st := status[0]
	if st.Name != "daily" || st.Cron != "0 10 * * *" || st.Running || st.LastError != "" {
		t.Fatalf("unexpected status %+v", st)
	}
	if st.LastRun == nil || !st.LastRun.Equal(at(10, 0)) {
		t.Fatalf("unexpected last run %v", st.LastRun)
	}
	if want := at(10, 0).AddDate(0, 0, 1); !st.NextRun.Equal(want) {
		t.Fatalf("expected next run %s, got %s", want, st.NextRun)
	}
}

func TestTickSkipsSelfOverlap(t *testing.T) {
	t.Parallel()

	clock := testfixtures.NewClock(at(10, 0))
	s := newTestScheduler(clock)
	release := make(chan struct{})
	entered := make(chan struct{}, 4)
	var calls atomic.Int32
	if err := s.Register(Job{Name: "slow", Spec: "* * * * *", Run: func(context.Context) error {
		calls.Add(1)
		entered <- struct{}{}
		<-release
		return nil
	}}); err != nil {
		t.Fatalf("Register returned error: %v", err)
	}

	clock.Advance(time.Minute)
	if n := s.Tick(); n != 1 {
		t.Fatalf("expected first dispatch, got %d", n)
	}
	<-entered

	clock.Advance(time.Minute)
	if n := s.Tick(); n != 0 {
		t.Fatalf("expected overlapping slot to be skipped, got %d", n)
	}
	if st := s.Status()[0]; !st.Running {
		t.Fatalf("expected job to report running")
	}

	close(release)
	s.inflight.Wait()
	if calls.Load() != 1 {
		t.Fatalf("expected a single run, got %d", calls.Load())
	}
}

func TestRetryPolicy(t *testing.T) {
	t.Parallel()

	clock := testfixtures.NewClock(at(9, 59))
	s := newTestScheduler(clock)
	var calls atomic.Int32
	if err := s.Register(Job{
		Name:  "flaky",
		Spec:  "0 10 * * *",
		Retry: RetryPolicy{MaxRetries: 2, Backoff: 5 * time.Minute},
		Run: func(context.Context) error {
			calls.Add(1)
			return errors.New("store unavailable")
		},
	}); err != nil {
		t.Fatalf("Register returned error: %v", err)
	}

	clock.Set(at(10, 0))
	s.Tick()
	s.inflight.Wait()
	if st := s.Status()[0]; st.PendingRetry != 2 || st.LastError != "store unavailable" {
		t.Fatalf("expected retry 2 pending, got %+v", st)
	}

	clock.Advance(4 * time.Minute)
	if n := s.Tick(); n != 0 {
		t.Fatalf("expected backoff to hold the retry, got %d", n)
	}

	for attempt := 2; attempt <= 3; attempt++ {
		clock.Advance(5 * time.Minute)
		if n := s.Tick(); n != 1 {
			t.Fatalf("attempt %d: expected a retry dispatch, got %d", attempt, n)
		}
		s.inflight.Wait()
	}

	if st := s.Status()[0]; st.PendingRetry != 0 {
		t.Fatalf("expected retries exhausted, got %+v", st)
	}
	clock.Advance(time.Hour)
	if n := s.Tick(); n != 0 {
		t.Fatalf("expected job to wait for its next slot, got %d", n)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestPanickingJobIsRecorded(t *testing.T) {
	t.Parallel()

	clock := testfixtures.NewClock(at(10, 0))
	s := newTestScheduler(clock)
	if err := s.Register(Job{Name: "boom", Spec: "0 10 * * *", Run: func(context.Context) error { panic("bad state") }}); err != nil {
		t.Fatalf("Register returned error: %v", err)
	}

	err := s.RunJob(context.Background(), "boom")
	if err == nil || !strings.Contains(err.Error(), "panicked") {
		t.Fatalf("expected panic to become an error, got %v", err)
	}
	if st := s.Status()[0]; !strings.Contains(st.LastError, "bad state") || st.Running {
		t.Fatalf("unexpected status %+v", st)
	}
}

func TestRunJob(t *testing.T) {
	t.Parallel()

	s := newTestScheduler(testfixtures.NewClock(at(10, 0)))
	ran := false
	if err := s.Register(Job{Name: "once", Spec: "0 10 * * 1", Run: func(context.Context) error {
		ran = true
		return nil
	}}); err != nil {
		t.Fatalf("Register returned error: %v", err)
	}

	if err := s.RunJob(context.Background(), "missing"); !errors.Is(err, ErrUnknownJob) {
		t.Fatalf("expected ErrUnknownJob, got %v", err)
	}
	if err := s.RunJob(context.Background(), "once"); err != nil {
		t.Fatalf("RunJob returned error: %v", err)
	}
	if !ran {
		t.Fatalf("expected body to run synchronously")
	}
	if got := s.Jobs(); len(got) != 1 || got[0] != "once" {
		t.Fatalf("unexpected job list %v", got)
	}
}

func TestStartRunsOnStartJobsAndStopWaits(t *testing.T) {
	t.Parallel()

	s := newTestScheduler(testfixtures.NewClock(at(10, 30)))
	started := make(chan struct{})
	var mu sync.Mutex
	var finished bool
	var bodyCtxErr error
	if err := s.Register(Job{Name: "bootstrap", Spec: "0 9 * * 1", RunOnStart: true, Run: func(ctx context.Context) error {
		close(started)
		time.Sleep(50 * time.Millisecond)
		mu.Lock()
		finished = true
		bodyCtxErr = ctx.Err()
		mu.Unlock()
		return nil
	}}); err != nil {
		t.Fatalf("Register returned error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if err := s.Start(ctx); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("expected ErrAlreadyStarted, got %v", err)
	}
	<-started
	cancel()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	if err := s.Stop(stopCtx); err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if !finished {
		t.Fatalf("expected Stop to wait for the in-flight body")
	}
	if bodyCtxErr != nil {
		t.Fatalf("expected body context to survive shutdown, got %v", bodyCtxErr)
	}
}

func TestStopTimesOut(t *testing.T) {
	t.Parallel()

	s := newTestScheduler(testfixtures.NewClock(at(10, 30)))
	release := make(chan struct{})
	defer close(release)
	started := make(chan struct{})
	if err := s.Register(Job{Name: "stuck", Spec: "0 9 * * 1", RunOnStart: true, Run: func(context.Context) error {
		close(started)
		<-release
		return nil
	}}); err != nil {
		t.Fatalf("Register returned error: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := s.Stop(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
