package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/sitepulse/pkg/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// claimRetries bounds how often ClaimNextJob re-selects after losing a race
// for the candidate it picked.
const claimRetries = 5

var activeStatuses = []models.JobStatus{models.JobStatusPending, models.JobStatusProcessing}

type apiKeyRow struct {
	ID         string `gorm:"primaryKey;size:36"`
	UserID     string `gorm:"not null"`
	Name       string `gorm:"not null"`
	KeyHash    string `gorm:"not null"`
	KeyPrefix  string `gorm:"not null;index"`
	LastUsedAt *time.Time
	DeletedAt  *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (apiKeyRow) TableName() string { return "api_keys" }

type jobRow struct {
	ID            string `gorm:"primaryKey;size:36"`
	Type          string `gorm:"not null"`
	TenantKey     string `gorm:"not null;index"`
	UserID        *string
	SessionID     *string
	Status        string `gorm:"not null;index"`
	Priority      int    `gorm:"not null;default:0"`
	Attempts      int    `gorm:"not null;default:0"`
	MaxAttempts   int    `gorm:"not null;default:3"`
	Payload       []byte `gorm:"not null"`
	Result        []byte
	ErrorMessage  *string
	LastErrorAt   *time.Time
	WorkerID      *string
	ProgressStep  int       `gorm:"not null;default:0"`
	ProgressTotal int       `gorm:"not null;default:0"`
	ProgressLabel string    `gorm:"not null;default:''"`
	RunAfter      time.Time `gorm:"not null;index"`
	HeartbeatAt   *time.Time
	CreatedAt     time.Time
	StartedAt     *time.Time
	CompletedAt   *time.Time
	UpdatedAt     time.Time
}

func (jobRow) TableName() string { return "jobs" }

type tenantRecordRow struct {
	ID             string `gorm:"primaryKey;size:36"`
	TenantKey      string `gorm:"not null;uniqueIndex"`
	UserID         *string
	SessionID      *string
	WebsiteURL     string
	BusinessName   string
	BusinessType   string
	TargetAudience string
	BrandVoice     string
	Analysis       []byte
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (tenantRecordRow) TableName() string { return "tenant_records" }

// GormStore implements the Store interface using GORM. It backs single-node
// and test deployments on SQLite.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// OpenSQLite opens a SQLite database at dsn and migrates it. SQLite allows a
// single writer, so the pool is pinned to one connection.
func OpenSQLite(ctx context.Context, dsn string) (*GormStore, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql db: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	s := NewGormStore(db)
	if err := s.Migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Migrate creates the necessary tables and the partial unique index that
// enforces one active job per tenant and type.
func (s *GormStore) Migrate(ctx context.Context) error {
	db := s.db.WithContext(ctx)
	if err := db.AutoMigrate(&apiKeyRow{}, &jobRow{}, &tenantRecordRow{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	err := db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_jobs_one_active_per_tenant_type
		ON jobs (tenant_key, type) WHERE status IN ('pending', 'processing')`).Error
	if err != nil {
		return fmt.Errorf("create active job index: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// --- API Keys ---

func (s *GormStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	var rows []apiKeyRow
	err := s.db.WithContext(ctx).
		Where("key_prefix = ? AND deleted_at IS NULL", prefix).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}

	keys := make([]*models.APIKey, 0, len(rows))
	for _, r := range rows {
		id, err := uuid.Parse(r.ID)
		if err != nil {
			return nil, fmt.Errorf("parse api key id: %w", err)
		}
		keys = append(keys, &models.APIKey{
			ID:         id,
			UserID:     r.UserID,
			Name:       r.Name,
			KeyHash:    r.KeyHash,
			KeyPrefix:  r.KeyPrefix,
			LastUsedAt: r.LastUsedAt,
			DeletedAt:  r.DeletedAt,
			CreatedAt:  r.CreatedAt,
			UpdatedAt:  r.UpdatedAt,
		})
	}
	return keys, nil
}

func (s *GormStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	now := time.Now().UTC()
	err := s.db.WithContext(ctx).
		Model(&apiKeyRow{}).
		Where("id = ?", id.String()).
		Updates(map[string]interface{}{"last_used_at": now, "updated_at": now}).Error
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

func (s *GormStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	row := apiKeyRow{
		ID:        key.ID.String(),
		UserID:    key.UserID,
		Name:      key.Name,
		KeyHash:   key.KeyHash,
		KeyPrefix: key.KeyPrefix,
		CreatedAt: key.CreatedAt.UTC(),
		UpdatedAt: key.UpdatedAt.UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		if isGormDuplicate(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

// --- Jobs ---

func jobToRow(j *models.Job) jobRow {
	return jobRow{
		ID:            j.ID.String(),
		Type:          string(j.Type),
		TenantKey:     j.Tenant.Key(),
		UserID:        nullable(j.Tenant.UserID),
		SessionID:     nullable(j.Tenant.SessionID),
		Status:        string(j.Status),
		Priority:      j.Priority,
		Attempts:      j.Attempts,
		MaxAttempts:   j.MaxAttempts,
		Payload:       []byte(j.Payload),
		ProgressLabel: j.ProgressLabel,
		RunAfter:      j.RunAfter.UTC(),
		CreatedAt:     j.CreatedAt.UTC(),
		UpdatedAt:     j.UpdatedAt.UTC(),
	}
}

func (r *jobRow) toModel() (*models.Job, error) {
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return nil, fmt.Errorf("parse job id: %w", err)
	}
	j := &models.Job{
		ID:            id,
		Type:          models.JobType(r.Type),
		Status:        models.JobStatus(r.Status),
		Priority:      r.Priority,
		Attempts:      r.Attempts,
		MaxAttempts:   r.MaxAttempts,
		Payload:       json.RawMessage(r.Payload),
		ErrorMessage:  r.ErrorMessage,
		LastErrorAt:   r.LastErrorAt,
		WorkerID:      r.WorkerID,
		ProgressStep:  r.ProgressStep,
		ProgressTotal: r.ProgressTotal,
		ProgressLabel: r.ProgressLabel,
		RunAfter:      r.RunAfter,
		HeartbeatAt:   r.HeartbeatAt,
		CreatedAt:     r.CreatedAt,
		StartedAt:     r.StartedAt,
		CompletedAt:   r.CompletedAt,
		UpdatedAt:     r.UpdatedAt,
	}
	if len(r.Result) > 0 {
		j.Result = json.RawMessage(r.Result)
	}
	if r.UserID != nil {
		j.Tenant.UserID = *r.UserID
	}
	if r.SessionID != nil {
		j.Tenant.SessionID = *r.SessionID
	}
	return j, nil
}

func (s *GormStore) CreateJob(ctx context.Context, job *models.Job) error {
	row := jobToRow(job)
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		if isGormDuplicate(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (s *GormStore) findJob(db *gorm.DB, query string, args ...interface{}) (*models.Job, error) {
	var row jobRow
	err := db.Where(query, args...).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.toModel()
}

func (s *GormStore) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	j, err := s.findJob(s.db.WithContext(ctx), "id = ?", id.String())
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, err
}

func (s *GormStore) GetTenantJob(ctx context.Context, id uuid.UUID, tenant models.Tenant) (*models.Job, error) {
	j, err := s.findJob(s.db.WithContext(ctx), "id = ? AND tenant_key = ?", id.String(), tenant.Key())
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("get tenant job: %w", err)
	}
	return j, err
}

func (s *GormStore) GetActiveJob(ctx context.Context, tenant models.Tenant, jobType models.JobType) (*models.Job, error) {
	j, err := s.findJob(s.db.WithContext(ctx),
		"tenant_key = ? AND type = ? AND status IN ?", tenant.Key(), string(jobType), activeStatuses)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("get active job: %w", err)
	}
	return j, err
}

// ClaimNextJob selects the best candidate and flips it with a status-guarded
// update. Losing the race to another claimant just moves on to the next candidate.
func (s *GormStore) ClaimNextJob(ctx context.Context, workerID string, now time.Time) (*models.Job, error) {
	now = now.UTC()
	for i := 0; i < claimRetries; i++ {
		var claimed *models.Job
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var row jobRow
			err := tx.
				Where("status = ? AND run_after <= ?", models.JobStatusPending, now).
				Order("priority DESC, created_at ASC, id ASC").
				First(&row).Error
			if err != nil {
				return err
			}

			res := tx.Model(&jobRow{}).
				Where("id = ? AND status = ?", row.ID, models.JobStatusPending).
				Updates(map[string]interface{}{
					"status":         models.JobStatusProcessing,
					"worker_id":      workerID,
					"started_at":     now,
					"heartbeat_at":   now,
					"updated_at":     now,
					"progress_step":  0,
					"progress_total": 0,
					"progress_label": "",
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return ErrStaleState
			}

			claimed, err = s.findJob(tx, "id = ?", row.ID)
			return err
		})
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			return nil, nil
		case errors.Is(err, ErrStaleState):
			continue
		case err != nil:
			return nil, fmt.Errorf("claim next job: %w", err)
		}
		return claimed, nil
	}
	return nil, nil
}

func (s *GormStore) guardedJobUpdate(ctx context.Context, op string, where string, args []interface{}, updates map[string]interface{}) error {
	res := s.db.WithContext(ctx).Model(&jobRow{}).Where(where, args...).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("%s: %w", op, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrStaleState
	}
	return nil
}

func (s *GormStore) CompleteJob(ctx context.Context, id uuid.UUID, workerID string, result json.RawMessage, now time.Time) error {
	now = now.UTC()
	return s.guardedJobUpdate(ctx, "complete job",
		"id = ? AND worker_id = ? AND status = ?",
		[]interface{}{id.String(), workerID, models.JobStatusProcessing},
		map[string]interface{}{
			"status":       models.JobStatusSucceeded,
			"result":       []byte(result),
			"completed_at": now,
			"updated_at":   now,
		})
}

func (s *GormStore) FailJob(ctx context.Context, f JobFailure) error {
	at := f.At.UTC()
	updates := map[string]interface{}{
		"attempts":      gorm.Expr("attempts + 1"),
		"error_message": f.ErrorMessage,
		"last_error_at": at,
		"run_after":     f.RunAfter.UTC(),
		"updated_at":    at,
	}
	if f.Terminal {
		updates["status"] = models.JobStatusFailed
		updates["completed_at"] = at
	} else {
		updates["status"] = models.JobStatusPending
		updates["worker_id"] = nil
	}
	return s.guardedJobUpdate(ctx, "fail job",
		"id = ? AND worker_id = ? AND attempts = ? AND status = ?",
		[]interface{}{f.ID.String(), f.WorkerID, f.PrevAttempts, models.JobStatusProcessing},
		updates)
}

func (s *GormStore) ReleaseJob(ctx context.Context, id uuid.UUID, workerID string, now time.Time) error {
	now = now.UTC()
	return s.guardedJobUpdate(ctx, "release job",
		"id = ? AND worker_id = ? AND status = ?",
		[]interface{}{id.String(), workerID, models.JobStatusProcessing},
		map[string]interface{}{
			"status":         models.JobStatusPending,
			"run_after":      now,
			"worker_id":      nil,
			"started_at":     nil,
			"heartbeat_at":   nil,
			"progress_step":  0,
			"progress_total": 0,
			"progress_label": "",
			"updated_at":     now,
		})
}

func (s *GormStore) RetryJob(ctx context.Context, id uuid.UUID, tenant models.Tenant, now time.Time) (*models.Job, error) {
	now = now.UTC()
	err := s.guardedJobUpdate(ctx, "retry job",
		"id = ? AND tenant_key = ? AND status = ?",
		[]interface{}{id.String(), tenant.Key(), models.JobStatusFailed},
		map[string]interface{}{
			"status":         models.JobStatusPending,
			"run_after":      now,
			"worker_id":      nil,
			"started_at":     nil,
			"completed_at":   nil,
			"heartbeat_at":   nil,
			"progress_step":  0,
			"progress_total": 0,
			"progress_label": "",
			"updated_at":     now,
		})
	return s.afterTenantUpdate(ctx, id, tenant, err)
}

func (s *GormStore) CancelJob(ctx context.Context, id uuid.UUID, tenant models.Tenant, now time.Time) (*models.Job, error) {
	now = now.UTC()
	err := s.guardedJobUpdate(ctx, "cancel job",
		"id = ? AND tenant_key = ? AND status IN ?",
		[]interface{}{id.String(), tenant.Key(), activeStatuses},
		map[string]interface{}{
			"status":       models.JobStatusCancelled,
			"completed_at": now,
			"updated_at":   now,
		})
	return s.afterTenantUpdate(ctx, id, tenant, err)
}

// afterTenantUpdate turns the outcome of a tenant-scoped transition into the
// updated job, ErrNotFound for a foreign or missing job, or ErrStaleState.
func (s *GormStore) afterTenantUpdate(ctx context.Context, id uuid.UUID, tenant models.Tenant, updateErr error) (*models.Job, error) {
	if updateErr != nil && !errors.Is(updateErr, ErrStaleState) {
		if isGormDuplicate(updateErr) {
			return nil, ErrDuplicateKey
		}
		return nil, updateErr
	}
	j, err := s.GetTenantJob(ctx, id, tenant)
	if err != nil {
		return nil, err
	}
	if updateErr != nil {
		return nil, ErrStaleState
	}
	return j, nil
}

func (s *GormStore) UpdateJobProgress(ctx context.Context, id uuid.UUID, workerID string, p models.Progress, now time.Time) error {
	now = now.UTC()
	return s.guardedJobUpdate(ctx, "update job progress",
		"id = ? AND worker_id = ? AND status = ?",
		[]interface{}{id.String(), workerID, models.JobStatusProcessing},
		map[string]interface{}{
			"progress_step":  p.Step,
			"progress_total": p.Total,
			"progress_label": p.Label,
			"heartbeat_at":   now,
			"updated_at":     now,
		})
}

func (s *GormStore) HeartbeatJob(ctx context.Context, id uuid.UUID, workerID string, now time.Time) error {
	return s.guardedJobUpdate(ctx, "heartbeat job",
		"id = ? AND worker_id = ? AND status = ?",
		[]interface{}{id.String(), workerID, models.JobStatusProcessing},
		map[string]interface{}{"heartbeat_at": now.UTC()})
}

func (s *GormStore) RequeueStaleJobs(ctx context.Context, staleBefore, now time.Time) (StaleJobsResult, error) {
	var res StaleJobsResult
	staleBefore, now = staleBefore.UTC(), now.UTC()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		failed := tx.Model(&jobRow{}).
			Where("status = ? AND heartbeat_at < ? AND attempts + 1 >= max_attempts",
				models.JobStatusProcessing, staleBefore).
			Updates(map[string]interface{}{
				"status":        models.JobStatusFailed,
				"attempts":      gorm.Expr("attempts + 1"),
				"error_message": staleJobMessage,
				"last_error_at": now,
				"completed_at":  now,
				"updated_at":    now,
			})
		if failed.Error != nil {
			return fmt.Errorf("fail exhausted stale jobs: %w", failed.Error)
		}
		res.Failed = failed.RowsAffected

		requeued := tx.Model(&jobRow{}).
			Where("status = ? AND heartbeat_at < ?", models.JobStatusProcessing, staleBefore).
			Updates(map[string]interface{}{
				"status":        models.JobStatusPending,
				"attempts":      gorm.Expr("attempts + 1"),
				"error_message": staleJobMessage,
				"last_error_at": now,
				"run_after":     now,
				"worker_id":     nil,
				"updated_at":    now,
			})
		if requeued.Error != nil {
			return fmt.Errorf("requeue stale jobs: %w", requeued.Error)
		}
		res.Requeued = requeued.RowsAffected
		return nil
	})
	return res, err
}

// --- Tenant Records ---

func (r *tenantRecordRow) toModel() (*models.TenantRecord, error) {
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return nil, fmt.Errorf("parse tenant record id: %w", err)
	}
	rec := &models.TenantRecord{
		ID:             id,
		WebsiteURL:     r.WebsiteURL,
		BusinessName:   r.BusinessName,
		BusinessType:   r.BusinessType,
		TargetAudience: r.TargetAudience,
		BrandVoice:     r.BrandVoice,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
	if r.UserID != nil {
		rec.Tenant.UserID = *r.UserID
	}
	if r.SessionID != nil {
		rec.Tenant.SessionID = *r.SessionID
	}
	if len(r.Analysis) > 0 {
		if err := json.Unmarshal(r.Analysis, &rec.Analysis); err != nil {
			return nil, fmt.Errorf("decode tenant record analysis: %w", err)
		}
	}
	return rec, nil
}

func (s *GormStore) UpsertTenantRecord(ctx context.Context, rec *models.TenantRecord) (*models.TenantRecord, error) {
	analysis, err := json.Marshal(rec.Analysis)
	if err != nil {
		return nil, fmt.Errorf("encode tenant record analysis: %w", err)
	}

	var out *models.TenantRecord
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row tenantRecordRow
		err := tx.Where("tenant_key = ?", rec.Tenant.Key()).Take(&row).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			row = tenantRecordRow{
				ID:        rec.ID.String(),
				TenantKey: rec.Tenant.Key(),
				UserID:    nullable(rec.Tenant.UserID),
				SessionID: nullable(rec.Tenant.SessionID),
				CreatedAt: rec.CreatedAt.UTC(),
			}
		case err != nil:
			return err
		}

		row.WebsiteURL = rec.WebsiteURL
		row.BusinessName = rec.BusinessName
		row.BusinessType = rec.BusinessType
		row.TargetAudience = rec.TargetAudience
		row.BrandVoice = rec.BrandVoice
		row.Analysis = analysis
		row.UpdatedAt = rec.UpdatedAt.UTC()
		if err := tx.Save(&row).Error; err != nil {
			return err
		}

		out, err = row.toModel()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("upsert tenant record: %w", err)
	}
	return out, nil
}

func (s *GormStore) GetTenantRecord(ctx context.Context, tenant models.Tenant) (*models.TenantRecord, error) {
	var row tenantRecordRow
	err := s.db.WithContext(ctx).Where("tenant_key = ?", tenant.Key()).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get tenant record: %w", err)
	}
	return row.toModel()
}

// --- Session Adoption ---

func (s *GormStore) AdoptSession(ctx context.Context, sessionID, userID string, now time.Time) (models.AdoptionResult, error) {
	var res models.AdoptionResult
	sessionKey := models.SessionTenant(sessionID).Key()
	userKey := models.UserTenant(userID).Key()
	now = now.UTC()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		userActiveTypes := tx.Model(&jobRow{}).
			Select("type").
			Where("tenant_key = ? AND status IN ?", userKey, activeStatuses)

		cancelled := tx.Model(&jobRow{}).
			Where("tenant_key = ? AND status IN ? AND type IN (?)", sessionKey, activeStatuses, userActiveTypes).
			Updates(map[string]interface{}{
				"status":        models.JobStatusCancelled,
				"error_message": supersededJobMessage,
				"completed_at":  now,
				"updated_at":    now,
			})
		if cancelled.Error != nil {
			return fmt.Errorf("cancel colliding session jobs: %w", cancelled.Error)
		}
		res.JobsCancelled = cancelled.RowsAffected

		moved := tx.Model(&jobRow{}).
			Where("tenant_key = ?", sessionKey).
			Updates(map[string]interface{}{
				"tenant_key": userKey,
				"user_id":    userID,
				"session_id": nil,
				"updated_at": now,
			})
		if moved.Error != nil {
			return fmt.Errorf("re-key session jobs: %w", moved.Error)
		}
		res.JobsMoved = moved.RowsAffected

		var userRecords int64
		if err := tx.Model(&tenantRecordRow{}).Where("tenant_key = ?", userKey).Count(&userRecords).Error; err != nil {
			return fmt.Errorf("check user tenant record: %w", err)
		}

		if userRecords > 0 {
			dropped := tx.Where("tenant_key = ?", sessionKey).Delete(&tenantRecordRow{})
			if dropped.Error != nil {
				return fmt.Errorf("drop session tenant record: %w", dropped.Error)
			}
			res.RecordsDropped = dropped.RowsAffected
			return nil
		}

		recs := tx.Model(&tenantRecordRow{}).
			Where("tenant_key = ?", sessionKey).
			Updates(map[string]interface{}{
				"tenant_key": userKey,
				"user_id":    userID,
				"session_id": nil,
				"updated_at": now,
			})
		if recs.Error != nil {
			return fmt.Errorf("re-key session tenant record: %w", recs.Error)
		}
		res.RecordsMoved = recs.RowsAffected
		return nil
	})
	if err != nil {
		return models.AdoptionResult{}, err
	}
	return res, nil
}

// isGormDuplicate reports unique constraint violations, translated or raw.
func isGormDuplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

var _ Store = (*GormStore)(nil)
