// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package tasks runs background jobs on a fixed pool of workers. Jobs are
// typed (run an analysis, recompute evidence, notify reviewers), persisted
// in an Outbox before dispatch, and retried with exponential backoff.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/pdiddy/irb-engine/internal/logging"
	"github.com/pdiddy/irb-engine/internal/telemetry"
	"github.com/pdiddy/irb-engine/pkg/types"
)

// RetryBaseDelay is the backoff before the second attempt; it doubles per
// attempt. Tests shorten it.
var RetryBaseDelay = 500 * time.Millisecond

// Handler processes one job. Handlers must be idempotent.
type Handler func(ctx context.Context, job types.Job) error

// Pool dispatches jobs to workers.
type Pool struct {
	outbox   Outbox
	handlers map[types.JobKind]Handler
	workers  int
	attempts int
	logger   *slog.Logger
	metrics  *telemetry.Metrics

	queue chan types.Job
	quit  chan struct{}
	group *errgroup.Group

	mu        sync.Mutex
	started   bool
	stopped   bool
	abandoned bool
	queued    map[string]bool
	inflight  int
}

// Option configures a Pool.
type Option func(*Pool)

// WithLogger sets the pool's logger.
func WithLogger(l *slog.Logger) Option { return func(p *Pool) { p.logger = l } }

// WithMetrics sets the pool's metric instruments.
func WithMetrics(m *telemetry.Metrics) Option { return func(p *Pool) { p.metrics = m } }

// NewPool returns a stopped pool over outbox.
func NewPool(outbox Outbox, cfg types.WorkerConfig, opts ...Option) *Pool {
	p := &Pool{
		outbox:   outbox,
		handlers: make(map[types.JobKind]Handler),
		workers:  max(cfg.Count, 1),
		attempts: max(cfg.MaxAttempts, 1),
		queue:    make(chan types.Job, max(cfg.QueueSize, 1)),
		quit:     make(chan struct{}),
		queued:   make(map[string]bool),
	}
	for _, o := range opts {
		o(p)
	}
	if p.logger == nil {
		p.logger = logging.New("tasks")
	}
	if p.metrics == nil {
		p.metrics = telemetry.Default()
	}
	return p
}

// Handle registers the handler for kind. Register before Start.
func (p *Pool) Handle(kind types.JobKind, h Handler) {
	p.handlers[kind] = h
}

// Start launches the workers. They run until Stop or until ctx is done.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.workers; i++ {
		g.Go(func() error {
			p.work(gctx)
			return nil
		})
	}
	p.group = g
	go func() {
		g.Wait()
		p.abandon()
	}()
}

// Stop signals the workers to exit and waits for them. Jobs still queued
// stay pending in the outbox.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.started || p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.quit)
	g := p.group
	p.mu.Unlock()
	g.Wait()
	p.abandon()
}

// Enqueue persists job and dispatches it. A job the queue cannot accept
// right now is still persisted and will be picked up by Resume.
func (p *Pool) Enqueue(ctx context.Context, job types.Job) (types.Job, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	if err := p.outbox.Schedule(ctx, job); err != nil {
		return job, fmt.Errorf("scheduling %s job: %w", job.Kind, err)
	}
	p.Dispatch(job)
	return job, nil
}

// Dispatch hands an already persisted job to the workers without blocking.
// It reports whether the job is now queued.
func (p *Pool) Dispatch(job types.Job) bool {
	if !p.claim(job.ID) {
		return p.isQueued(job.ID)
	}
	select {
	case p.queue <- job:
		return p.accepted()
	default:
		p.release(job.ID)
		return false
	}
}

// Resume dispatches every pending outbox job, waiting for queue space as
// needed. It returns the number of jobs dispatched.
func (p *Pool) Resume(ctx context.Context) (int, error) {
	jobs, err := p.outbox.Pending(ctx, 0)
	if err != nil {
		return 0, fmt.Errorf("listing pending jobs: %w", err)
	}
	n := 0
	for _, job := range jobs {
		if !p.claim(job.ID) {
			continue
		}
		select {
		case p.queue <- job:
			if !p.accepted() {
				return n, errors.New("pool stopped")
			}
			n++
		case <-p.quit:
			p.release(job.ID)
			return n, errors.New("pool stopped")
		case <-ctx.Done():
			p.release(job.ID)
			return n, ctx.Err()
		}
	}
	return n, nil
}

// Drain waits until no job is queued or running.
func (p *Pool) Drain(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		p.mu.Lock()
		idle := p.inflight == 0
		p.mu.Unlock()
		if idle {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// claim marks id as queued. It fails when the pool is not running or the
// job is already queued.
func (p *Pool) claim(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started || p.stopped || p.queued[id] {
		return false
	}
	p.queued[id] = true
	p.inflight++
	return true
}

func (p *Pool) release(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.queued, id)
	p.inflight--
}

// abandon runs once the workers have exited. It releases the jobs left in
// the queue, which stay pending in the outbox for the next Resume, and
// refuses further claims.
func (p *Pool) abandon() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped = true
	p.abandoned = true
	for {
		select {
		case job := <-p.queue:
			delete(p.queued, job.ID)
			p.inflight--
		default:
			return
		}
	}
}

// accepted reports whether a job just sent to the queue will be run. A
// send that raced with abandon is released again.
func (p *Pool) accepted() bool {
	p.mu.Lock()
	gone := p.abandoned
	p.mu.Unlock()
	if gone {
		p.abandon()
		return false
	}
	return true
}

func (p *Pool) isQueued(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queued[id]
}

func (p *Pool) work(ctx context.Context) {
	for {
		// Shutdown wins over queued work.
		select {
		case <-p.quit:
			return
		case <-ctx.Done():
			return
		default:
		}

		select {
		case <-p.quit:
			return
		case <-ctx.Done():
			return
		case job := <-p.queue:
			p.process(ctx, job)
			p.release(job.ID)
		}
	}
}

// process runs the job's handler until it succeeds or attempts run out.
func (p *Pool) process(ctx context.Context, job types.Job) {
	log := p.logger.With("job", job.ID, "kind", string(job.Kind))

	h, ok := p.handlers[job.Kind]
	if !ok {
		log.Error("no handler registered")
		p.closeJob(ctx, log, job, fmt.Errorf("no handler for %s", job.Kind))
		return
	}

	for {
		job.Attempt++
		err := h(ctx, job)
		if err == nil {
			if err := p.outbox.MarkDone(ctx, job.ID, job.Attempt); err != nil {
				log.Warn("marking job done", "error", err)
			}
			p.metrics.Job(ctx, string(job.Kind), "done")
			return
		}
		if job.Attempt >= p.attempts {
			log.Error("job failed", "attempt", job.Attempt, "error", err)
			p.closeJob(ctx, log, job, err)
			return
		}

		delay := RetryBaseDelay << (job.Attempt - 1)
		log.Warn("job attempt failed, retrying", "attempt", job.Attempt, "delay", delay, "error", err)
		select {
		case <-time.After(delay):
		case <-p.quit:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (p *Pool) closeJob(ctx context.Context, log *slog.Logger, job types.Job, cause error) {
	if err := p.outbox.MarkFailed(ctx, job.ID, job.Attempt, cause.Error()); err != nil {
		log.Warn("marking job failed", "error", err)
	}
	p.metrics.Job(ctx, string(job.Kind), "failed")
}
