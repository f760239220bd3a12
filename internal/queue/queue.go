// Package queue is the job queue: admission control, claiming and every
// status transition of a job. All state lives in the store; a Queue holds no
// job state of its own, so any number of API and worker processes can share one.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/sitepulse/internal/config"
	"github.com/kiranshivaraju/sitepulse/internal/metrics"
	"github.com/kiranshivaraju/sitepulse/internal/notify"
	"github.com/kiranshivaraju/sitepulse/internal/store"
	"github.com/kiranshivaraju/sitepulse/pkg/models"
)

// admissionRetries bounds how often Submit retries when the job that blocked
// admission finishes before it can be read back.
const admissionRetries = 3

// Options tunes the retry policy.
type Options struct {
	MaxAttempts    int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	StatusTTL      time.Duration
}

// OptionsFromConfig maps queue configuration to Options.
func OptionsFromConfig(cfg config.QueueConfig) Options {
	return Options{
		MaxAttempts:    cfg.MaxAttempts,
		BackoffInitial: cfg.BackoffInitial,
		BackoffMax:     cfg.BackoffMax,
		StatusTTL:      30 * time.Minute,
	}
}

// SubmitRequest is one caller request for background work.
type SubmitRequest struct {
	Type     models.JobType
	Payload  json.RawMessage
	Tenant   models.Tenant
	Priority int
}

// StatusCache mirrors job statuses outside the store.
type StatusCache interface {
	SetJobStatus(ctx context.Context, jobID uuid.UUID, status models.JobStatus, ttl time.Duration) error
	GetJobStatus(ctx context.Context, jobID uuid.UUID) (models.JobStatus, bool, error)
	DeleteJobStatus(ctx context.Context, jobID uuid.UUID) error
}

// Queue drives jobs through their lifecycle.
type Queue struct {
	store    store.Store
	cache    StatusCache
	notifier notify.Notifier
	opts     Options
	now      func() time.Time
}

// New creates a Queue. ca may be nil, in which case status snapshots are
// skipped and cancellation checks always read the store.
func New(st store.Store, ca StatusCache, n notify.Notifier, opts Options) *Queue {
	if n == nil {
		n = notify.Noop{}
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.StatusTTL <= 0 {
		opts.StatusTTL = 30 * time.Minute
	}
	return &Queue{
		store:    st,
		cache:    ca,
		notifier: n,
		opts:     opts,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source. Used by tests.
func (q *Queue) WithClock(now func() time.Time) *Queue {
	q.now = now
	return q
}

// Submit validates the request and enqueues a pending job. When the tenant
// already has a pending or processing job of the same type, the existing job
// is returned together with a *DuplicateActiveError.
func (q *Queue) Submit(ctx context.Context, req SubmitRequest) (*models.Job, error) {
	tenant := models.Tenant{
		UserID:    strings.TrimSpace(req.Tenant.UserID),
		SessionID: strings.TrimSpace(req.Tenant.SessionID),
	}
	canonical, err := validateSubmission(req.Type, req.Payload, tenant)
	if err != nil {
		metrics.JobsRejected.WithLabelValues(string(req.Type), "validation").Inc()
		return nil, err
	}

	for i := 0; i < admissionRetries; i++ {
		now := q.now()
		job := &models.Job{
			ID:          uuid.New(),
			Type:        req.Type,
			Tenant:      tenant,
			Status:      models.JobStatusPending,
			Priority:    req.Priority,
			MaxAttempts: q.opts.MaxAttempts,
			Payload:     canonical,
			RunAfter:    now,
			CreatedAt:   now,
			UpdatedAt:   now,
		}

		err := q.store.CreateJob(ctx, job)
		if err == nil {
			metrics.JobsSubmitted.WithLabelValues(string(job.Type)).Inc()
			slog.Info("job submitted", "job_id", job.ID, "job_type", job.Type, "tenant", tenant.Key())
			q.snapshot(ctx, job.ID, job.Status)
			q.announce(ctx, job)
			return job, nil
		}
		if !errors.Is(err, store.ErrDuplicateKey) {
			return nil, fmt.Errorf("creating job: %w", err)
		}

		existing, err := q.store.GetActiveJob(ctx, tenant, req.Type)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("loading active job: %w", err)
		}
		metrics.JobsRejected.WithLabelValues(string(req.Type), "duplicate").Inc()
		return existing, &DuplicateActiveError{Job: existing}
	}
	return nil, fmt.Errorf("creating job: admission did not settle after %d attempts", admissionRetries)
}

func validateSubmission(jobType models.JobType, raw json.RawMessage, tenant models.Tenant) (json.RawMessage, error) {
	if err := tenant.Validate(); err != nil {
		return nil, &ValidationError{Field: "tenant", Message: err.Error()}
	}
	if !jobType.Valid() {
		return nil, &ValidationError{Field: "type", Message: fmt.Sprintf("unknown job type %q", jobType)}
	}

	payload, err := models.DecodePayload(jobType, raw)
	if err == nil {
		err = payload.Validate()
	}
	if err != nil {
		var fe *models.FieldError
		if errors.As(err, &fe) {
			return nil, &ValidationError{Field: fe.Field, Message: fe.Message}
		}
		return nil, &ValidationError{Field: "payload", Message: err.Error()}
	}

	canonical, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding payload: %w", err)
	}
	return canonical, nil
}

// ClaimNext hands the most urgent runnable job to workerID. Returns nil, nil
// when nothing is runnable.
func (q *Queue) ClaimNext(ctx context.Context, workerID string) (*models.Job, error) {
	job, err := q.store.ClaimNextJob(ctx, workerID, q.now())
	if err != nil {
		return nil, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return nil, nil
	}
	q.snapshot(ctx, job.ID, job.Status)
	return job, nil
}

// Complete records a successful run of a job claimed by workerID.
func (q *Queue) Complete(ctx context.Context, job *models.Job, workerID string, result json.RawMessage) error {
	err := q.store.CompleteJob(ctx, job.ID, workerID, result, q.now())
	if errors.Is(err, store.ErrStaleState) {
		return q.explainLostClaim(ctx, job.ID, workerID, "complete")
	}
	if err != nil {
		return fmt.Errorf("completing job: %w", err)
	}
	q.snapshot(ctx, job.ID, models.JobStatusSucceeded)
	return nil
}

// Fail records a failed run. A retryable failure with attempts left returns
// the job to pending after a backoff delay; anything else is terminal.
// It returns the status the job moved to.
func (q *Queue) Fail(ctx context.Context, job *models.Job, workerID string, cause error, retryable bool) (models.JobStatus, error) {
	now := q.now()
	attempts := job.Attempts + 1
	terminal := !retryable || attempts >= job.MaxAttempts

	runAfter := now
	if !terminal {
		runAfter = now.Add(q.Backoff(attempts))
	}

	err := q.store.FailJob(ctx, store.JobFailure{
		ID:           job.ID,
		WorkerID:     workerID,
		PrevAttempts: job.Attempts,
		Terminal:     terminal,
		ErrorMessage: cause.Error(),
		RunAfter:     runAfter,
		At:           now,
	})
	if errors.Is(err, store.ErrStaleState) {
		return "", q.explainLostClaim(ctx, job.ID, workerID, "fail")
	}
	if err != nil {
		return "", fmt.Errorf("failing job: %w", err)
	}

	status := models.JobStatusPending
	if terminal {
		status = models.JobStatusFailed
	}
	q.snapshot(ctx, job.ID, status)
	return status, nil
}

// Release hands a job claimed by workerID back to the queue without charging
// an attempt. Workers call it when they stop before the pipeline finished.
func (q *Queue) Release(ctx context.Context, job *models.Job, workerID string) error {
	err := q.store.ReleaseJob(ctx, job.ID, workerID, q.now())
	if errors.Is(err, store.ErrStaleState) {
		return q.explainLostClaim(ctx, job.ID, workerID, "release")
	}
	if err != nil {
		return fmt.Errorf("releasing job: %w", err)
	}
	slog.Info("job released", "job_id", job.ID, "job_type", job.Type, "worker_id", workerID)
	q.snapshot(ctx, job.ID, models.JobStatusPending)
	q.announce(ctx, &models.Job{ID: job.ID, Type: job.Type, Status: models.JobStatusPending})
	return nil
}

// Backoff is the delay before the given attempt number is retried:
// exponential from BackoffInitial, doubling per attempt, capped at BackoffMax.
func (q *Queue) Backoff(attempt int) time.Duration {
	if attempt < 1 || q.opts.BackoffInitial <= 0 {
		return 0
	}
	d := q.opts.BackoffInitial
	for i := 1; i < attempt; i++ {
		d *= 2
		if q.opts.BackoffMax > 0 && d >= q.opts.BackoffMax {
			return q.opts.BackoffMax
		}
	}
	if q.opts.BackoffMax > 0 && d > q.opts.BackoffMax {
		return q.opts.BackoffMax
	}
	return d
}

// Retry re-enables a failed job. The attempts counter keeps its history.
func (q *Queue) Retry(ctx context.Context, id uuid.UUID, tenant models.Tenant) (*models.Job, error) {
	job, err := q.store.RetryJob(ctx, id, tenant, q.now())
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil, ErrNotFound
	case errors.Is(err, store.ErrStaleState):
		return nil, q.explainTenantState(ctx, id, tenant, "retry")
	case errors.Is(err, store.ErrDuplicateKey):
		current, getErr := q.store.GetTenantJob(ctx, id, tenant)
		if getErr != nil {
			return nil, fmt.Errorf("loading job: %w", getErr)
		}
		existing, getErr := q.store.GetActiveJob(ctx, tenant, current.Type)
		if getErr != nil {
			return nil, fmt.Errorf("loading active job: %w", getErr)
		}
		return existing, &DuplicateActiveError{Job: existing}
	case err != nil:
		return nil, fmt.Errorf("retrying job: %w", err)
	}

	slog.Info("job retried", "job_id", job.ID, "job_type", job.Type, "attempts", job.Attempts)
	q.snapshot(ctx, job.ID, job.Status)
	q.announce(ctx, job)
	return job, nil
}

// Cancel stops a pending or processing job. A processing job stops at its
// next stage boundary; completed stages are not undone.
func (q *Queue) Cancel(ctx context.Context, id uuid.UUID, tenant models.Tenant) (*models.Job, error) {
	job, err := q.store.CancelJob(ctx, id, tenant, q.now())
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil, ErrNotFound
	case errors.Is(err, store.ErrStaleState):
		return nil, q.explainTenantState(ctx, id, tenant, "cancel")
	case err != nil:
		return nil, fmt.Errorf("cancelling job: %w", err)
	}

	slog.Info("job cancelled", "job_id", job.ID, "job_type", job.Type)
	q.snapshot(ctx, job.ID, job.Status)
	return job, nil
}

// Status returns the job if it belongs to tenant.
func (q *Queue) Status(ctx context.Context, id uuid.UUID, tenant models.Tenant) (*models.Job, error) {
	job, err := q.store.GetTenantJob(ctx, id, tenant)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading job: %w", err)
	}
	return job, nil
}

// ReportProgress persists the latest progress of a job claimed by workerID.
func (q *Queue) ReportProgress(ctx context.Context, id uuid.UUID, workerID string, p models.Progress) error {
	err := q.store.UpdateJobProgress(ctx, id, workerID, p, q.now())
	if errors.Is(err, store.ErrStaleState) {
		return q.explainLostClaim(ctx, id, workerID, "report progress on")
	}
	if err != nil {
		return fmt.Errorf("updating progress: %w", err)
	}
	return nil
}

// Heartbeat marks a claimed job as still being worked on.
func (q *Queue) Heartbeat(ctx context.Context, id uuid.UUID, workerID string) error {
	err := q.store.HeartbeatJob(ctx, id, workerID, q.now())
	if errors.Is(err, store.ErrStaleState) {
		return q.explainLostClaim(ctx, id, workerID, "heartbeat")
	}
	if err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	return nil
}

// IsCancelled reports whether the job was cancelled. Only a cached
// cancelled snapshot is trusted; snapshot writes are unordered, so any other
// cached status may be stale and the store decides.
func (q *Queue) IsCancelled(ctx context.Context, id uuid.UUID) (bool, error) {
	if q.cache != nil {
		status, found, err := q.cache.GetJobStatus(ctx, id)
		if err == nil && found && status == models.JobStatusCancelled {
			return true, nil
		}
	}

	job, err := q.store.GetJob(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("loading job: %w", err)
	}
	return job.Status == models.JobStatusCancelled, nil
}

// Adopt re-keys every job and tenant record of sessionID to userID.
// Adopting the same session again is a no-op.
func (q *Queue) Adopt(ctx context.Context, sessionID, userID string) (models.AdoptionResult, error) {
	sessionID, userID = strings.TrimSpace(sessionID), strings.TrimSpace(userID)
	if sessionID == "" {
		return models.AdoptionResult{}, &ValidationError{Field: "session_id", Message: "is required"}
	}
	if userID == "" {
		return models.AdoptionResult{}, &ValidationError{Field: "user_id", Message: "is required"}
	}

	res, err := q.store.AdoptSession(ctx, sessionID, userID, q.now())
	if err != nil {
		return models.AdoptionResult{}, fmt.Errorf("adopting session: %w", err)
	}
	if !res.Noop() {
		slog.Info("session adopted",
			"session_id", sessionID, "user_id", userID,
			"jobs_moved", res.JobsMoved, "jobs_cancelled", res.JobsCancelled,
			"records_moved", res.RecordsMoved, "records_dropped", res.RecordsDropped)
	}
	return res, nil
}

// ReapStale recovers processing jobs whose worker has not heartbeated for
// staleAfter. Each lost run counts as an attempt.
func (q *Queue) ReapStale(ctx context.Context, staleAfter time.Duration) (store.StaleJobsResult, error) {
	now := q.now()
	res, err := q.store.RequeueStaleJobs(ctx, now.Add(-staleAfter), now)
	if err != nil {
		return store.StaleJobsResult{}, fmt.Errorf("reaping stale jobs: %w", err)
	}
	metrics.StaleJobsReaped.WithLabelValues("requeued").Add(float64(res.Requeued))
	metrics.StaleJobsReaped.WithLabelValues("failed").Add(float64(res.Failed))
	if res.Requeued > 0 {
		if err := q.notifier.Publish(ctx, notify.Event{Status: models.JobStatusPending}); err != nil {
			slog.Warn("publishing job event failed", "error", err)
		}
	}
	return res, nil
}

// explainLostClaim maps a conditional update that matched nothing to the
// reason a worker lost its claim.
func (q *Queue) explainLostClaim(ctx context.Context, id uuid.UUID, workerID, op string) error {
	job, err := q.store.GetJob(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("loading job: %w", err)
	}
	if job.Status != models.JobStatusProcessing {
		return &InvalidStateError{Op: op, Status: job.Status}
	}
	return ErrNotOwned
}

func (q *Queue) explainTenantState(ctx context.Context, id uuid.UUID, tenant models.Tenant, op string) error {
	job, err := q.store.GetTenantJob(ctx, id, tenant)
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("loading job: %w", err)
	}
	return &InvalidStateError{Op: op, Status: job.Status}
}

func (q *Queue) snapshot(ctx context.Context, id uuid.UUID, status models.JobStatus) {
	if q.cache == nil {
		return
	}
	if err := q.cache.SetJobStatus(ctx, id, status, q.opts.StatusTTL); err != nil {
		slog.Warn("caching job status failed", "job_id", id, "error", err)
		// A stale snapshot must not outlive the transition it missed.
		_ = q.cache.DeleteJobStatus(ctx, id)
	}
}

func (q *Queue) announce(ctx context.Context, job *models.Job) {
	if err := q.notifier.Publish(ctx, notify.Event{JobID: job.ID, Type: job.Type, Status: job.Status}); err != nil {
		slog.Warn("publishing job event failed", "job_id", job.ID, "error", err)
	}
}
