package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/sitepulse/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- API Keys ---

func (s *PostgresStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, name, key_hash, key_prefix, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE key_prefix = $1 AND deleted_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.UserID, &k.Name, &k.KeyHash, &k.KeyPrefix,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (id, user_id, name, key_hash, key_prefix, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		key.ID, key.UserID, key.Name, key.KeyHash, key.KeyPrefix, key.CreatedAt, key.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

// --- Jobs ---

const jobColumns = `id, type, user_id, session_id, status, priority, attempts, max_attempts,
	payload, result, error_message, last_error_at, worker_id, progress_step, progress_total,
	progress_label, run_after, heartbeat_at, created_at, started_at, completed_at, updated_at`

func scanJob(row pgx.Row) (*models.Job, error) {
	var (
		j                 models.Job
		userID, sessionID *string
		payload, result   []byte
	)
	err := row.Scan(&j.ID, &j.Type, &userID, &sessionID, &j.Status, &j.Priority, &j.Attempts,
		&j.MaxAttempts, &payload, &result, &j.ErrorMessage, &j.LastErrorAt, &j.WorkerID,
		&j.ProgressStep, &j.ProgressTotal, &j.ProgressLabel, &j.RunAfter, &j.HeartbeatAt,
		&j.CreatedAt, &j.StartedAt, &j.CompletedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if userID != nil {
		j.Tenant.UserID = *userID
	}
	if sessionID != nil {
		j.Tenant.SessionID = *sessionID
	}
	j.Payload = json.RawMessage(payload)
	if result != nil {
		j.Result = json.RawMessage(result)
	}
	return &j, nil
}

func (s *PostgresStore) CreateJob(ctx context.Context, job *models.Job) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO jobs (id, type, tenant_key, user_id, session_id, status, priority, attempts,
		                   max_attempts, payload, run_after, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		job.ID, job.Type, job.Tenant.Key(), nullable(job.Tenant.UserID), nullable(job.Tenant.SessionID),
		job.Status, job.Priority, job.Attempts, job.MaxAttempts, []byte(job.Payload),
		job.RunAfter, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

func (s *PostgresStore) GetTenantJob(ctx context.Context, id uuid.UUID, tenant models.Tenant) (*models.Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1 AND tenant_key = $2`, id, tenant.Key()))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get tenant job: %w", err)
	}
	return j, nil
}

func (s *PostgresStore) GetActiveJob(ctx context.Context, tenant models.Tenant, jobType models.JobType) (*models.Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs
		 WHERE tenant_key = $1 AND type = $2 AND status IN ('pending', 'processing')`,
		tenant.Key(), jobType))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get active job: %w", err)
	}
	return j, nil
}

// ClaimNextJob uses SKIP LOCKED so concurrent claimants each pick a different
// candidate; the outer status guard keeps the claim exclusive regardless.
func (s *PostgresStore) ClaimNextJob(ctx context.Context, workerID string, now time.Time) (*models.Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx,
		`UPDATE jobs SET status = 'processing', worker_id = $1, started_at = $2,
		        heartbeat_at = $2, updated_at = $2,
		        progress_step = 0, progress_total = 0, progress_label = ''
		 WHERE id = (
		     SELECT id FROM jobs
		     WHERE status = 'pending' AND run_after <= $2
		     ORDER BY priority DESC, created_at ASC, id ASC
		     LIMIT 1
		     FOR UPDATE SKIP LOCKED
		 ) AND status = 'pending'
		 RETURNING `+jobColumns, workerID, now))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim next job: %w", err)
	}
	return j, nil
}

func (s *PostgresStore) CompleteJob(ctx context.Context, id uuid.UUID, workerID string, result json.RawMessage, now time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = 'succeeded', result = $3, completed_at = $4, updated_at = $4
		 WHERE id = $1 AND worker_id = $2 AND status = 'processing'`,
		id, workerID, []byte(result), now)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleState
	}
	return nil
}

func (s *PostgresStore) FailJob(ctx context.Context, f JobFailure) error {
	status := models.JobStatusPending
	var completedAt *time.Time
	if f.Terminal {
		status = models.JobStatusFailed
		completedAt = &f.At
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $4, attempts = attempts + 1, error_message = $5,
		        last_error_at = $6, run_after = $7, completed_at = $8, updated_at = $6,
		        worker_id = CASE WHEN $4 = 'failed' THEN worker_id ELSE NULL END
		 WHERE id = $1 AND worker_id = $2 AND attempts = $3 AND status = 'processing'`,
		f.ID, f.WorkerID, f.PrevAttempts, status, f.ErrorMessage, f.At, f.RunAfter, completedAt)
	if err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleState
	}
	return nil
}

func (s *PostgresStore) ReleaseJob(ctx context.Context, id uuid.UUID, workerID string, now time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = 'pending', run_after = $3, worker_id = NULL,
		        started_at = NULL, heartbeat_at = NULL,
		        progress_step = 0, progress_total = 0, progress_label = '', updated_at = $3
		 WHERE id = $1 AND worker_id = $2 AND status = 'processing'`,
		id, workerID, now)
	if err != nil {
		return fmt.Errorf("release job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleState
	}
	return nil
}

func (s *PostgresStore) RetryJob(ctx context.Context, id uuid.UUID, tenant models.Tenant, now time.Time) (*models.Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx,
		`UPDATE jobs SET status = 'pending', run_after = $3, worker_id = NULL,
		        started_at = NULL, completed_at = NULL, heartbeat_at = NULL,
		        progress_step = 0, progress_total = 0, progress_label = '', updated_at = $3
		 WHERE id = $1 AND tenant_key = $2 AND status = 'failed'
		 RETURNING `+jobColumns, id, tenant.Key(), now))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, s.missOrStale(ctx, id, tenant)
	}
	if err != nil {
		if isDuplicateKeyError(err) {
			return nil, ErrDuplicateKey
		}
		return nil, fmt.Errorf("retry job: %w", err)
	}
	return j, nil
}

func (s *PostgresStore) CancelJob(ctx context.Context, id uuid.UUID, tenant models.Tenant, now time.Time) (*models.Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx,
		`UPDATE jobs SET status = 'cancelled', completed_at = $3, updated_at = $3
		 WHERE id = $1 AND tenant_key = $2 AND status IN ('pending', 'processing')
		 RETURNING `+jobColumns, id, tenant.Key(), now))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, s.missOrStale(ctx, id, tenant)
	}
	if err != nil {
		return nil, fmt.Errorf("cancel job: %w", err)
	}
	return j, nil
}

func (s *PostgresStore) missOrStale(ctx context.Context, id uuid.UUID, tenant models.Tenant) error {
	if _, err := s.GetTenantJob(ctx, id, tenant); err != nil {
		return err
	}
	return ErrStaleState
}

func (s *PostgresStore) UpdateJobProgress(ctx context.Context, id uuid.UUID, workerID string, p models.Progress, now time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET progress_step = $3, progress_total = $4, progress_label = $5,
		        heartbeat_at = $6, updated_at = $6
		 WHERE id = $1 AND worker_id = $2 AND status = 'processing'`,
		id, workerID, p.Step, p.Total, p.Label, now)
	if err != nil {
		return fmt.Errorf("update job progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleState
	}
	return nil
}

func (s *PostgresStore) HeartbeatJob(ctx context.Context, id uuid.UUID, workerID string, now time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET heartbeat_at = $3 WHERE id = $1 AND worker_id = $2 AND status = 'processing'`,
		id, workerID, now)
	if err != nil {
		return fmt.Errorf("heartbeat job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleState
	}
	return nil
}

func (s *PostgresStore) RequeueStaleJobs(ctx context.Context, staleBefore, now time.Time) (StaleJobsResult, error) {
	var res StaleJobsResult
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE jobs SET status = 'failed', attempts = attempts + 1, error_message = $2,
			        last_error_at = $3, completed_at = $3, updated_at = $3
			 WHERE status = 'processing' AND heartbeat_at < $1 AND attempts + 1 >= max_attempts`,
			staleBefore, staleJobMessage, now)
		if err != nil {
			return fmt.Errorf("fail exhausted stale jobs: %w", err)
		}
		res.Failed = tag.RowsAffected()

		tag, err = tx.Exec(ctx,
			`UPDATE jobs SET status = 'pending', attempts = attempts + 1, error_message = $2,
			        last_error_at = $3, run_after = $3, worker_id = NULL, updated_at = $3
			 WHERE status = 'processing' AND heartbeat_at < $1`,
			staleBefore, staleJobMessage, now)
		if err != nil {
			return fmt.Errorf("requeue stale jobs: %w", err)
		}
		res.Requeued = tag.RowsAffected()
		return nil
	})
	return res, err
}

// --- Tenant Records ---

const tenantRecordColumns = `id, user_id, session_id, website_url, business_name, business_type,
	target_audience, brand_voice, analysis, created_at, updated_at`

func scanTenantRecord(row pgx.Row) (*models.TenantRecord, error) {
	var (
		r                 models.TenantRecord
		userID, sessionID *string
		analysis          []byte
	)
	err := row.Scan(&r.ID, &userID, &sessionID, &r.WebsiteURL, &r.BusinessName, &r.BusinessType,
		&r.TargetAudience, &r.BrandVoice, &analysis, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if userID != nil {
		r.Tenant.UserID = *userID
	}
	if sessionID != nil {
		r.Tenant.SessionID = *sessionID
	}
	if len(analysis) > 0 {
		if err := json.Unmarshal(analysis, &r.Analysis); err != nil {
			return nil, fmt.Errorf("decode tenant record analysis: %w", err)
		}
	}
	return &r, nil
}

// UpsertTenantRecord writes the record keyed by tenant; repeated calls update
// the same row instead of inserting duplicates.
func (s *PostgresStore) UpsertTenantRecord(ctx context.Context, rec *models.TenantRecord) (*models.TenantRecord, error) {
	analysis, err := json.Marshal(rec.Analysis)
	if err != nil {
		return nil, fmt.Errorf("encode tenant record analysis: %w", err)
	}

	out, err := scanTenantRecord(s.pool.QueryRow(ctx,
		`INSERT INTO tenant_records (id, tenant_key, user_id, session_id, website_url, business_name,
		                             business_type, target_audience, brand_voice, analysis, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 ON CONFLICT (tenant_key) DO UPDATE SET
		   website_url = EXCLUDED.website_url,
		   business_name = EXCLUDED.business_name,
		   business_type = EXCLUDED.business_type,
		   target_audience = EXCLUDED.target_audience,
		   brand_voice = EXCLUDED.brand_voice,
		   analysis = EXCLUDED.analysis,
		   updated_at = EXCLUDED.updated_at
		 RETURNING `+tenantRecordColumns,
		rec.ID, rec.Tenant.Key(), nullable(rec.Tenant.UserID), nullable(rec.Tenant.SessionID),
		rec.WebsiteURL, rec.BusinessName, rec.BusinessType, rec.TargetAudience, rec.BrandVoice,
		analysis, rec.CreatedAt, rec.UpdatedAt))
	if err != nil {
		return nil, fmt.Errorf("upsert tenant record: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) GetTenantRecord(ctx context.Context, tenant models.Tenant) (*models.TenantRecord, error) {
	r, err := scanTenantRecord(s.pool.QueryRow(ctx,
		`SELECT `+tenantRecordColumns+` FROM tenant_records WHERE tenant_key = $1`, tenant.Key()))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get tenant record: %w", err)
	}
	return r, nil
}

// --- Session Adoption ---

func (s *PostgresStore) AdoptSession(ctx context.Context, sessionID, userID string, now time.Time) (models.AdoptionResult, error) {
	var res models.AdoptionResult
	sessionKey := models.SessionTenant(sessionID).Key()
	userKey := models.UserTenant(userID).Key()

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		// Serialize adoptions into the same user so the collision check below is stable.
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, userKey); err != nil {
			return fmt.Errorf("lock user: %w", err)
		}

		tag, err := tx.Exec(ctx,
			`UPDATE jobs AS s SET status = 'cancelled', error_message = $3, completed_at = $4, updated_at = $4
			 WHERE s.tenant_key = $1 AND s.status IN ('pending', 'processing')
			   AND EXISTS (SELECT 1 FROM jobs u
			               WHERE u.tenant_key = $2 AND u.type = s.type
			                 AND u.status IN ('pending', 'processing'))`,
			sessionKey, userKey, supersededJobMessage, now)
		if err != nil {
			return fmt.Errorf("cancel colliding session jobs: %w", err)
		}
		res.JobsCancelled = tag.RowsAffected()

		tag, err = tx.Exec(ctx,
			`UPDATE jobs SET tenant_key = $2, user_id = $3, session_id = NULL, updated_at = $4
			 WHERE tenant_key = $1`,
			sessionKey, userKey, userID, now)
		if err != nil {
			return fmt.Errorf("re-key session jobs: %w", err)
		}
		res.JobsMoved = tag.RowsAffected()

		var userHasRecord bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM tenant_records WHERE tenant_key = $1)`, userKey,
		).Scan(&userHasRecord); err != nil {
			return fmt.Errorf("check user tenant record: %w", err)
		}

		if userHasRecord {
			tag, err = tx.Exec(ctx, `DELETE FROM tenant_records WHERE tenant_key = $1`, sessionKey)
			if err != nil {
				return fmt.Errorf("drop session tenant record: %w", err)
			}
			res.RecordsDropped = tag.RowsAffected()
			return nil
		}

		tag, err = tx.Exec(ctx,
			`UPDATE tenant_records SET tenant_key = $2, user_id = $3, session_id = NULL, updated_at = $4
			 WHERE tenant_key = $1`,
			sessionKey, userKey, userID, now)
		if err != nil {
			return fmt.Errorf("re-key session tenant record: %w", err)
		}
		res.RecordsMoved = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return models.AdoptionResult{}, err
	}
	return res, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

var _ Store = (*PostgresStore)(nil)
