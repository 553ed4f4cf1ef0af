package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/example/secret-coffee/internal/logging"
	"github.com/example/secret-coffee/internal/recurrence"
)

// DefaultTickInterval is used when Options.TickInterval is zero.
const DefaultTickInterval = 30 * time.Second

var (
	// ErrUnknownJob is returned for a job name that was never registered.
	ErrUnknownJob = errors.New("scheduler: unknown job")
	// ErrDuplicateJob is returned when a name is registered twice.
	ErrDuplicateJob = errors.New("scheduler: job already registered")
	// ErrJobRunning is returned by RunJob while the job is in flight.
	ErrJobRunning = errors.New("scheduler: job already running")
	// ErrAlreadyStarted is returned by a second Start call.
	ErrAlreadyStarted = errors.New("scheduler: already started")
)

// RetryPolicy says how often a failed run is retried before the job waits
// for its next cron slot.
type RetryPolicy struct {
	MaxRetries int
	Backoff    time.Duration
}

// Job is one catalog entry.
type Job struct {
	Name string
	// Spec is a five field cron expression evaluated in the scheduler's location.
	Spec       string
	Run        func(context.Context) error
	Retry      RetryPolicy
	RunOnStart bool
}

// JobStatus is a snapshot of one job for operators.
type JobStatus struct {
	Name         string     `json:"name"`
	Cron         string     `json:"cron"`
	NextRun      time.Time  `json:"next_run"`
	LastRun      *time.Time `json:"last_run,omitempty"`
	LastDuration string     `json:"last_duration,omitempty"`
	LastError    string     `json:"last_error,omitempty"`
	Running      bool       `json:"running"`
	// PendingRetry is the attempt number waiting for its backoff, zero when none.
	PendingRetry int `json:"pending_retry,omitempty"`
}

// Options configures a Scheduler.
type Options struct {
	Location     *time.Location
	TickInterval time.Duration
	Now          func() time.Time
	Logger       *slog.Logger
}

type entry struct {
	job      Job
	schedule recurrence.Schedule
	next     time.Time

	running      bool
	lastRun      time.Time
	lastDuration time.Duration
	lastErr      error

	retryAt      time.Time
	retryAttempt int
}

// Scheduler owns the job catalog and the background loop.
type Scheduler struct {
	location *time.Location
	tick     time.Duration
	now      func() time.Time
	logger   *slog.Logger

	mu      sync.Mutex
	entries map[string]*entry
	order   []string

	started  bool
	baseCtx  context.Context
	cancel   context.CancelFunc
	loopDone chan struct{}
	inflight sync.WaitGroup
}

// New constructs an empty scheduler.
func New(opts Options) *Scheduler {
	s := &Scheduler{
		location: opts.Location,
		tick:     opts.TickInterval,
		now:      opts.Now,
		logger:   opts.Logger,
		entries:  make(map[string]*entry),
		baseCtx:  context.Background(),
	}
	if s.location == nil {
		s.location = time.UTC
	}
	if s.tick <= 0 {
		s.tick = DefaultTickInterval
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Register adds a job to the catalog and computes its first slot.
func (s *Scheduler) Register(job Job) error {
	if job.Name == "" {
		return fmt.Errorf("scheduler: job name is required")
	}
	if job.Run == nil {
		return fmt.Errorf("scheduler: job %s has no body", job.Name)
	}
	if job.Retry.MaxRetries < 0 || job.Retry.Backoff < 0 {
		return fmt.Errorf("scheduler: job %s has a negative retry policy", job.Name)
	}
	schedule, err := recurrence.ParseInLocation(job.Spec, s.location)
	if err != nil {
		return fmt.Errorf("scheduler: job %s: %w", job.Name, err)
	}
	next, err := schedule.Next(s.now())
	if err != nil {
		return fmt.Errorf("scheduler: job %s: %w", job.Name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[job.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateJob, job.Name)
	}
	s.entries[job.Name] = &entry{job: job, schedule: schedule, next: next}
	s.order = append(s.order, job.Name)
	return nil
}

// Start dispatches the RunOnStart jobs and launches the tick loop. The loop
// stops when ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.baseCtx = context.WithoutCancel(ctx)
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.loopDone = make(chan struct{})

	var onStart []*entry
	for _, name := range s.order {
		if e := s.entries[name]; e.job.RunOnStart && !e.running {
			e.running = true
			onStart = append(onStart, e)
		}
	}
	s.mu.Unlock()

	s.logger.Info("scheduler started", "jobs", len(s.order), "tick_interval", s.tick.String(), "location", s.location.String())
	for _, e := range onStart {
		s.dispatch(e, 1)
	}

	go s.loop(loopCtx)
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.loopDone)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick()
		}
	}
}

// Tick dispatches every job that is due at the current time and returns how
// many runs were started. Slots missed while a job was running or while the
// process was down collapse into one run.
func (s *Scheduler) Tick() int {
	now := s.now()

	type due struct {
		e       *entry
		attempt int
	}
	var ready []due

	s.mu.Lock()
	for _, name := range s.order {
		e := s.entries[name]
		cronDue := !now.Before(e.next)
		retryDue := e.retryAttempt > 0 && !now.Before(e.retryAt)
		if !cronDue && !retryDue {
			continue
		}
		if cronDue {
			if next, err := e.schedule.Next(now); err == nil {
				e.next = next
			}
		}
		if e.running {
			s.logger.Warn("skipping overlapping run", "job", name)
			continue
		}

		attempt := 1
		if retryDue && !cronDue {
			attempt = e.retryAttempt
		}
		e.retryAttempt = 0
		e.retryAt = time.Time{}
		e.running = true
		ready = append(ready, due{e: e, attempt: attempt})
	}
	s.mu.Unlock()

	for _, d := range ready {
		s.dispatch(d.e, d.attempt)
	}
	return len(ready)
}

func (s *Scheduler) dispatch(e *entry, attempt int) {
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		s.execute(e, attempt)
	}()
}

// execute runs the body of an entry already marked running and records the
// outcome, arming a retry when the policy allows one.
func (s *Scheduler) execute(e *entry, attempt int) error {
	name := e.job.Name
	logger := s.logger.With("job", name, "attempt", attempt)
	ctx := logging.ContextWithLogger(s.baseCtx, logger)

	started := s.now()
	logger.InfoContext(ctx, "job started")
	err := runSafely(ctx, e.job.Run)
	finished := s.now()
	duration := finished.Sub(started)

	s.mu.Lock()
	e.running = false
	e.lastRun = started
	e.lastDuration = duration
	e.lastErr = err
	retry := err != nil && attempt <= e.job.Retry.MaxRetries
	if retry {
		e.retryAttempt = attempt + 1
		e.retryAt = finished.Add(e.job.Retry.Backoff)
	}
	retryAt := e.retryAt
	s.mu.Unlock()

	switch {
	case err == nil:
		logger.InfoContext(ctx, "job finished", "duration", duration.String())
	case retry:
		logger.WarnContext(ctx, "job failed, retry scheduled", "duration", duration.String(), "error", err, "retry_at", retryAt)
	default:
		logger.ErrorContext(ctx, "job failed", "duration", duration.String(), "error", err)
	}
	return err
}

func runSafely(ctx context.Context, run func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return run(ctx)
}

// RunJob runs one job synchronously, outside its cadence, and returns the
// body's error. Retries are not scheduled for manual runs.
func (s *Scheduler) RunJob(ctx context.Context, name string) error {
	s.mu.Lock()
	e, ok := s.entries[name]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	if e.running {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrJobRunning, name)
	}
	e.running = true
	s.mu.Unlock()

	logger := s.logger.With("job", name, "attempt", 1, "manual", true)
	runCtx := logging.ContextWithLogger(ctx, logger)
	started := s.now()
	logger.InfoContext(runCtx, "job started")
	err := runSafely(runCtx, e.job.Run)
	duration := s.now().Sub(started)

	s.mu.Lock()
	e.running = false
	e.lastRun = started
	e.lastDuration = duration
	e.lastErr = err
	s.mu.Unlock()

	if err != nil {
		logger.ErrorContext(runCtx, "job failed", "duration", duration.String(), "error", err)
		return err
	}
	logger.InfoContext(runCtx, "job finished", "duration", duration.String())
	return nil
}

// Stop ends the tick loop and waits for in-flight job bodies to finish or
// for ctx to expire, whichever comes first.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel, loopDone := s.cancel, s.loopDone
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-loopDone
	}

	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		s.logger.Warn("scheduler stop timed out with jobs in flight", "error", ctx.Err())
		return ctx.Err()
	}
}

// Status lists every job in registration order.
func (s *Scheduler) Status() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]JobStatus, 0, len(s.order))
	for _, name := range s.order {
		e := s.entries[name]
		st := JobStatus{
			Name:         name,
			Cron:         e.schedule.String(),
			NextRun:      e.next,
			Running:      e.running,
			PendingRetry: e.retryAttempt,
		}
		if !e.lastRun.IsZero() {
			last := e.lastRun
			st.LastRun = &last
			st.LastDuration = e.lastDuration.String()
		}
		if e.lastErr != nil {
			st.LastError = e.lastErr.Error()
		}
		out = append(out, st)
	}
	return out
}

// Jobs returns the registered job names in registration order.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...)
}
