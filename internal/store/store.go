package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/sitepulse/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// ErrStaleState is returned when a conditional update matched no row because
// the record was no longer in the expected state.
var ErrStaleState = errors.New("record not in expected state")

// Store is the data access interface. All database operations go through here.
// Every job transition is a conditional update guarded by the current status,
// so concurrent workers and API processes need no shared lock.
type Store interface {
	Ping(ctx context.Context) error

	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error

	// CreateJob inserts a pending job. Returns ErrDuplicateKey when the tenant
	// already has a pending or processing job of the same type.
	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	GetTenantJob(ctx context.Context, id uuid.UUID, tenant models.Tenant) (*models.Job, error)
	GetActiveJob(ctx context.Context, tenant models.Tenant, jobType models.JobType) (*models.Job, error)

	// ClaimNextJob moves the runnable pending job with the highest priority
	// (oldest first on ties) to processing. Returns nil, nil when nothing is runnable.
	ClaimNextJob(ctx context.Context, workerID string, now time.Time) (*models.Job, error)
	CompleteJob(ctx context.Context, id uuid.UUID, workerID string, result json.RawMessage, now time.Time) error
	FailJob(ctx context.Context, f JobFailure) error
	// ReleaseJob returns a job claimed by workerID to pending without
	// charging an attempt.
	ReleaseJob(ctx context.Context, id uuid.UUID, workerID string, now time.Time) error
	RetryJob(ctx context.Context, id uuid.UUID, tenant models.Tenant, now time.Time) (*models.Job, error)
	CancelJob(ctx context.Context, id uuid.UUID, tenant models.Tenant, now time.Time) (*models.Job, error)
	UpdateJobProgress(ctx context.Context, id uuid.UUID, workerID string, p models.Progress, now time.Time) error
	HeartbeatJob(ctx context.Context, id uuid.UUID, workerID string, now time.Time) error
	RequeueStaleJobs(ctx context.Context, staleBefore, now time.Time) (StaleJobsResult, error)

	UpsertTenantRecord(ctx context.Context, rec *models.TenantRecord) (*models.TenantRecord, error)
	GetTenantRecord(ctx context.Context, tenant models.Tenant) (*models.TenantRecord, error)

	// AdoptSession re-keys every job and tenant record of a session to a user
	// in one transaction. Running it again is a no-op.
	AdoptSession(ctx context.Context, sessionID, userID string, now time.Time) (models.AdoptionResult, error)
}

// JobFailure describes one failed execution of a claimed job. The update only
// applies while the job is still processing, owned by WorkerID and at PrevAttempts.
type JobFailure struct {
	ID           uuid.UUID
	WorkerID     string
	PrevAttempts int
	Terminal     bool
	ErrorMessage string
	RunAfter     time.Time
	At           time.Time
}

// StaleJobsResult counts what the stale-job sweep did.
type StaleJobsResult struct {
	Requeued int64
	Failed   int64
}

const staleJobMessage = "worker stopped reporting while processing the job"

const supersededJobMessage = "cancelled: the adopting user already has an active job of this type"
