package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"jobwatch/common/telemetry"
	"jobwatch/services/ingestion/internal/config"
	"jobwatch/services/ingestion/internal/errors"
	"jobwatch/services/ingestion/internal/models"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

var tracer = telemetry.GetTracer("jobwatch/ingestion/scheduler")

var (
	ErrAlreadyRunning  = errors.Conflict("scheduler is already running", nil)
	ErrCycleInProgress = errors.Conflict("an ingestion cycle is already in progress", nil)
)

// CycleRunner is implemented by ingest.Cycle.
type CycleRunner interface {
	Run(ctx context.Context, doc config.Document) ([]models.CycleResult, error)
}

// DocumentSource is implemented by config.Store.
type DocumentSource interface {
	Load() (config.Document, error)
}

type Options struct {
	// CrashCooldown is the pause after a cycle panics or fails unexpectedly.
	CrashCooldown time.Duration
}

// Status is a snapshot for the control surface.
type Status struct {
	Running      bool                 `json:"running"`
	CycleActive  bool                 `json:"cycle_active"`
	Cycles       int                  `json:"cycles"`
	LastStarted  time.Time            `json:"last_started,omitempty"`
	LastFinished time.Time            `json:"last_finished,omitempty"`
	NextRun      time.Time            `json:"next_run,omitempty"`
	LastError    string               `json:"last_error,omitempty"`
	LastResults  []models.CycleResult `json:"last_results"`
}

// Scheduler runs ingestion cycles on the document's interval. At most one
// loop and one cycle are active at a time.
type Scheduler struct {
	cycle  CycleRunner
	docs   DocumentSource
	logger *zap.Logger
	opts   Options

	// intervalUnit scales Document.IntervalRun.
	intervalUnit time.Duration

	sem *semaphore.Weighted

	mu     sync.Mutex
	stop   chan struct{}
	done   chan struct{}
	status Status
}

func NewScheduler(logger *zap.Logger, cycle CycleRunner, docs DocumentSource, opts Options) *Scheduler {
	return &Scheduler{
		cycle:        cycle,
		docs:         docs,
		logger:       logger,
		opts:         opts,
		intervalUnit: time.Minute,
		sem:          semaphore.NewWeighted(1),
	}
}

// Start launches the loop: one cycle now, then one every interval. ctx
// bounds the loop and any cycle it runs; Stop only prevents further cycles.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stop != nil {
		return ErrAlreadyRunning
	}
	prev := s.done
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	s.status.Running = true

	go s.loop(ctx, s.stop, prev, s.done)
	s.logger.Info("scheduler started")
	return nil
}

// Stop prevents the next cycle from being scheduled and returns at once.
// A cycle already in flight runs to completion.
func (s *Scheduler) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stop == nil {
		return false
	}
	close(s.stop)
	s.stop = nil
	s.status.Running = false
	s.status.NextRun = time.Time{}
	s.logger.Info("scheduler stopped")
	return true
}

// Wait blocks until every started loop has exited or ctx ends. A loop does
// not finish before the one it replaced.
func (s *Scheduler) Wait(ctx context.Context) error {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()

	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stop != nil
}

func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.status
	st.LastResults = append([]models.CycleResult(nil), s.status.LastResults...)
	return st
}

// RunOnce runs a single cycle synchronously.
func (s *Scheduler) RunOnce(ctx context.Context) ([]models.CycleResult, error) {
	if !s.sem.TryAcquire(1) {
		return nil, ErrCycleInProgress
	}
	defer s.sem.Release(1)

	out := s.runCycle(ctx)
	return out.results, out.err
}

// TriggerNow starts one cycle outside the schedule and returns without
// waiting for it. It is rejected, not queued, when a cycle is active.
func (s *Scheduler) TriggerNow(ctx context.Context) error {
	if !s.sem.TryAcquire(1) {
		return ErrCycleInProgress
	}

	go func() {
		defer s.sem.Release(1)
		s.runCycle(context.WithoutCancel(ctx))
	}()
	return nil
}

// loop runs cycles until stop or ctx ends. It first joins the loop it
// replaced (prev), then waits for the cycle slot instead of skipping a tick,
// so a restart while a cycle is in flight runs as soon as that cycle ends.
func (s *Scheduler) loop(ctx context.Context, stop <-chan struct{}, prev <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	if prev != nil {
		<-prev
	}

	interval := time.Duration(config.DefaultDocument().IntervalRun) * s.intervalUnit
	for {
		if !s.acquire(ctx, stop) {
			return
		}
		out := s.runCycle(ctx)
		s.sem.Release(1)

		if out.interval > 0 {
			interval = out.interval
		}
		wait := interval
		if out.crashed {
			wait = s.opts.CrashCooldown
			s.logger.Warn("cycle crashed, cooling down before retrying",
				zap.Duration("cooldown", wait))
		}

		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		s.mu.Lock()
		if s.stop != nil {
			s.status.NextRun = time.Now().Add(wait)
		}
		s.mu.Unlock()
		s.logger.Info("next cycle scheduled", zap.Duration("in", wait))

		timer := time.NewTimer(wait)
		select {
		case <-stop:
			timer.Stop()
			return
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// acquire takes the cycle slot, blocking behind a triggered cycle if needed.
// It gives up when stop is closed or ctx ends.
func (s *Scheduler) acquire(ctx context.Context, stop <-chan struct{}) bool {
	select {
	case <-stop:
		return false
	case <-ctx.Done():
		return false
	default:
	}
	if s.sem.TryAcquire(1) {
		return true
	}

	s.logger.Info("waiting for the cycle in progress to finish")
	actx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-stop:
			cancel()
		case <-actx.Done():
		}
	}()
	if err := s.sem.Acquire(actx, 1); err != nil {
		return false
	}
	select {
	case <-stop:
		s.sem.Release(1)
		return false
	default:
		return true
	}
}

type cycleOutcome struct {
	results  []models.CycleResult
	err      error
	interval time.Duration
	crashed  bool
}

// runCycle loads the document and runs one cycle. The caller holds the
// semaphore. Panics are recovered and reported as a crash.
func (s *Scheduler) runCycle(ctx context.Context) (out cycleOutcome) {
	ctx, span := tracer.Start(ctx, "Scheduler.runCycle")
	defer span.End()

	started := time.Now()
	s.mu.Lock()
	s.status.CycleActive = true
	s.status.LastStarted = started
	s.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			out.crashed = true
			out.err = errors.Internal(fmt.Sprintf("cycle panicked: %v", r), nil)
			s.logger.Error("cycle panicked", zap.Any("panic", r), zap.Stack("stack"))
		}
		telemetry.RecordError(span, out.err)

		s.mu.Lock()
		s.status.CycleActive = false
		s.status.LastFinished = time.Now()
		s.status.Cycles++
		s.status.LastResults = out.results
		s.status.LastError = ""
		if out.err != nil {
			s.status.LastError = out.err.Error()
		}
		s.mu.Unlock()
	}()

	doc, err := s.docs.Load()
	if err != nil {
		s.logger.Error("cannot load configuration, skipping cycle", zap.Error(err))
		out.err = err
		return out
	}
	out.interval = time.Duration(doc.IntervalRun) * s.intervalUnit

	results, err := s.cycle.Run(ctx, doc)
	out.results, out.err = results, err
	switch {
	case err == nil:
		var failed int
		for _, r := range results {
			if r.Failed() {
				failed++
			}
		}
		span.SetAttributes(telemetry.Int("cycle.failed_terms", failed))
		s.logger.Info("cycle completed",
			zap.Int("terms", len(results)),
			zap.Int("failed_terms", failed),
			zap.Duration("took", time.Since(started)))
	case errors.IsType(err, errors.ErrTypeConfig):
		s.logger.Warn("cycle skipped", zap.Error(err))
	case ctx.Err() != nil:
		s.logger.Info("cycle interrupted", zap.Error(err))
	default:
		out.crashed = true
		s.logger.Error("cycle failed", zap.Error(err))
	}
	return out
}
