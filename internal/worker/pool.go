// Package worker runs pipelines for claimed jobs. A Pool owns a fixed number
// of workers; each one processes a single job at a time and goes back to the
// queue when it is done.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/kiranshivaraju/sitepulse/internal/config"
	"github.com/kiranshivaraju/sitepulse/internal/metrics"
	"github.com/kiranshivaraju/sitepulse/internal/notify"
	"github.com/kiranshivaraju/sitepulse/internal/pipeline"
	"github.com/kiranshivaraju/sitepulse/internal/queue"
	"github.com/kiranshivaraju/sitepulse/internal/store"
	"github.com/kiranshivaraju/sitepulse/pkg/models"
)

// Queue is the part of the job queue a worker drives.
type Queue interface {
	ClaimNext(ctx context.Context, workerID string) (*models.Job, error)
	Complete(ctx context.Context, job *models.Job, workerID string, result json.RawMessage) error
	Fail(ctx context.Context, job *models.Job, workerID string, cause error, retryable bool) (models.JobStatus, error)
	Release(ctx context.Context, job *models.Job, workerID string) error
	ReportProgress(ctx context.Context, id uuid.UUID, workerID string, p models.Progress) error
	Heartbeat(ctx context.Context, id uuid.UUID, workerID string) error
	IsCancelled(ctx context.Context, id uuid.UUID) (bool, error)
	ReapStale(ctx context.Context, staleAfter time.Duration) (store.StaleJobsResult, error)
}

// Runner executes the pipeline of one job.
type Runner interface {
	Run(ctx context.Context, job *models.Job, canceled pipeline.CancelCheck, onProgress pipeline.ProgressFunc) (json.RawMessage, error)
}

// Options configures a Pool.
type Options struct {
	// Name prefixes the worker ids stamped on claimed jobs.
	Name              string
	Concurrency       int
	PollInterval      time.Duration
	HeartbeatInterval time.Duration
	StaleAfter        time.Duration
	// ReaperSchedule is a cron spec; empty disables the reaper.
	ReaperSchedule string
}

// OptionsFromConfig maps worker configuration to Options. The name is derived
// from the host name and process id.
func OptionsFromConfig(cfg config.WorkerConfig) Options {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return Options{
		Name:              fmt.Sprintf("%s-%d", host, os.Getpid()),
		Concurrency:       cfg.Concurrency,
		PollInterval:      cfg.PollInterval,
		HeartbeatInterval: cfg.HeartbeatInterval,
		StaleAfter:        cfg.StaleAfter,
		ReaperSchedule:    cfg.ReaperSchedule,
	}
}

// Pool runs Options.Concurrency workers against one queue.
type Pool struct {
	queue    Queue
	runner   Runner
	notifier notify.Notifier
	opts     Options
	wake     chan struct{}
}

// NewPool creates a Pool. n may be nil, in which case workers only poll.
func NewPool(q Queue, r Runner, n notify.Notifier, opts Options) *Pool {
	if n == nil {
		n = notify.Noop{}
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.Name == "" {
		opts.Name = "worker"
	}
	return &Pool{
		queue:    q,
		runner:   r,
		notifier: n,
		opts:     opts,
		wake:     make(chan struct{}, opts.Concurrency),
	}
}

// Run blocks until ctx is cancelled and every worker has finished its
// current job.
func (p *Pool) Run(ctx context.Context) error {
	var reaper *cron.Cron
	if p.opts.ReaperSchedule != "" {
		reaper = cron.New()
		if _, err := reaper.AddFunc(p.opts.ReaperSchedule, func() { p.reap(ctx) }); err != nil {
			return fmt.Errorf("scheduling stale job reaper %q: %w", p.opts.ReaperSchedule, err)
		}
	}

	events, err := p.notifier.Subscribe(ctx)
	if err != nil {
		slog.Warn("job event subscription failed, polling only", "error", err)
		events = nil
	}

	slog.Info("starting worker pool",
		"name", p.opts.Name,
		"concurrency", p.opts.Concurrency,
		"poll_interval", p.opts.PollInterval,
		"reaper_schedule", p.opts.ReaperSchedule,
	)

	if reaper != nil {
		reaper.Start()
		defer func() { <-reaper.Stop().Done() }()
	}

	g, gctx := errgroup.WithContext(ctx)
	if events != nil {
		g.Go(func() error {
			p.relay(gctx, events)
			return nil
		})
	}
	for i := 0; i < p.opts.Concurrency; i++ {
		workerID := fmt.Sprintf("%s-%d", p.opts.Name, i+1)
		g.Go(func() error {
			p.loop(gctx, workerID)
			return nil
		})
	}
	err = g.Wait()
	slog.Info("worker pool stopped", "name", p.opts.Name)
	return err
}

// relay turns job events into wake-ups for idle workers.
func (p *Pool) relay(ctx context.Context, events <-chan notify.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Status != "" && ev.Status != models.JobStatusPending {
				continue
			}
			select {
			case p.wake <- struct{}{}:
			default:
			}
		}
	}
}

func (p *Pool) loop(ctx context.Context, workerID string) {
	for {
		if ctx.Err() != nil {
			return
		}
		if p.processNext(ctx, workerID) {
			continue
		}

		timer := time.NewTimer(p.opts.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-p.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// processNext claims and runs one job. It reports whether a job was claimed.
func (p *Pool) processNext(ctx context.Context, workerID string) bool {
	job, err := p.queue.ClaimNext(ctx, workerID)
	if err != nil {
		if ctx.Err() == nil {
			slog.Warn("claiming job failed", "worker_id", workerID, "error", err)
		}
		return false
	}
	if job == nil {
		return false
	}
	p.process(ctx, job, workerID)
	return true
}

func (p *Pool) process(ctx context.Context, job *models.Job, workerID string) {
	metrics.WorkersBusy.Inc()
	defer metrics.WorkersBusy.Dec()

	log := slog.With("job_id", job.ID, "job_type", job.Type, "worker_id", workerID, "attempt", job.Attempts+1)
	log.Info("job claimed")
	start := time.Now()

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	go p.heartbeat(hbCtx, job, workerID)

	result, runErr := p.runSafely(ctx, job, workerID)
	stopHeartbeat()
	metrics.JobDuration.WithLabelValues(string(job.Type)).Observe(time.Since(start).Seconds())

	// Record the outcome even when the pool is shutting down.
	interrupted := ctx.Err() != nil
	finishCtx := context.WithoutCancel(ctx)
	outcome := p.finish(finishCtx, log, job, workerID, result, runErr, interrupted)
	metrics.JobsProcessed.WithLabelValues(string(job.Type), outcome).Inc()
	log.Info("job finished", "outcome", outcome, "duration_ms", time.Since(start).Milliseconds())
}

// finish records the outcome of one run. A run cut short by shutdown goes
// back to the queue without being charged an attempt.
func (p *Pool) finish(ctx context.Context, log *slog.Logger, job *models.Job, workerID string, result json.RawMessage, runErr error, interrupted bool) string {
	switch {
	case runErr == nil:
		if err := p.queue.Complete(ctx, job, workerID, result); err != nil {
			return lostClaim(log, "complete", err)
		}
		return "succeeded"

	case errors.Is(runErr, pipeline.ErrCancelled):
		return "cancelled"

	case interrupted:
		if err := p.queue.Release(ctx, job, workerID); err != nil {
			return lostClaim(log, "release", err)
		}
		log.Info("job released on shutdown", "error", runErr)
		return "released"

	default:
		retryable := pipeline.IsRetryable(runErr)
		status, err := p.queue.Fail(ctx, job, workerID, runErr, retryable)
		if err != nil {
			return lostClaim(log, "fail", err)
		}
		if status == models.JobStatusPending {
			log.Warn("job failed, will retry", "error", runErr)
			return "retried"
		}
		log.Error("job failed", "error", runErr, "retryable", retryable)
		return "failed"
	}
}

func lostClaim(log *slog.Logger, op string, err error) string {
	var stateErr *queue.InvalidStateError
	switch {
	case errors.As(err, &stateErr) && stateErr.Status == models.JobStatusCancelled:
		log.Info("job was cancelled while running", "op", op)
		return "cancelled"
	case errors.Is(err, queue.ErrNotOwned), errors.Is(err, queue.ErrInvalidState), errors.Is(err, queue.ErrNotFound):
		log.Warn("claim lost before the outcome was recorded", "op", op, "error", err)
		return "lost"
	default:
		log.Error("recording job outcome failed", "op", op, "error", err)
		return "lost"
	}
}

// runSafely runs the pipeline, turning a panic into a retryable failure.
func (p *Pool) runSafely(ctx context.Context, job *models.Job, workerID string) (result json.RawMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in pipeline",
				"job_id", job.ID,
				"job_type", job.Type,
				"worker_id", workerID,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			result, err = nil, fmt.Errorf("panic in pipeline: %v", r)
		}
	}()

	canceled := func(ctx context.Context) (bool, error) {
		return p.queue.IsCancelled(ctx, job.ID)
	}
	progress := func(ctx context.Context, pr models.Progress) error {
		return p.queue.ReportProgress(ctx, job.ID, workerID, pr)
	}
	return p.runner.Run(ctx, job, canceled, progress)
}

func (p *Pool) heartbeat(ctx context.Context, job *models.Job, workerID string) {
	if p.opts.HeartbeatInterval <= 0 {
		return
	}
	ticker := time.NewTicker(p.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.queue.Heartbeat(ctx, job.ID, workerID); err != nil && ctx.Err() == nil {
				slog.Warn("heartbeat failed", "job_id", job.ID, "worker_id", workerID, "error", err)
			}
		}
	}
}

func (p *Pool) reap(ctx context.Context) {
	if p.opts.StaleAfter <= 0 {
		return
	}
	res, err := p.queue.ReapStale(ctx, p.opts.StaleAfter)
	if err != nil {
		if ctx.Err() == nil {
			slog.Error("reaping stale jobs failed", "error", err)
		}
		return
	}
	if res.Requeued > 0 || res.Failed > 0 {
		slog.Info("stale jobs reaped", "requeued", res.Requeued, "failed", res.Failed)
	}
}

var _ Queue = (*queue.Queue)(nil)
