package models

import (
	"time"

	"github.com/google/uuid"
)

// APIKey authenticates a user. Raw keys are shown once at creation; only the
// bcrypt hash is stored.
type APIKey struct {
	ID         uuid.UUID  `db:"id"           json:"id"`
	UserID     string     `db:"user_id"      json:"user_id"`
	Name       string     `db:"name"         json:"name"`
	KeyHash    string     `db:"key_hash"     json:"-"`
	KeyPrefix  string     `db:"key_prefix"   json:"key_prefix"`
	LastUsedAt *time.Time `db:"last_used_at" json:"last_used_at,omitempty"`
	DeletedAt  *time.Time `db:"deleted_at"   json:"-"`
	CreatedAt  time.Time  `db:"created_at"   json:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at"   json:"updated_at"`
}

// TenantRecord is the durable per-tenant business record written by the
// website analysis pipeline. There is at most one record per tenant key.
type TenantRecord struct {
	ID             uuid.UUID `db:"id"              json:"id"`
	Tenant         Tenant    `db:"-"               json:"tenant"`
	WebsiteURL     string    `db:"website_url"     json:"website_url"`
	BusinessName   string    `db:"business_name"   json:"business_name"`
	BusinessType   string    `db:"business_type"   json:"business_type"`
	TargetAudience string    `db:"target_audience" json:"target_audience"`
	BrandVoice     string    `db:"brand_voice"     json:"brand_voice"`
	Analysis       Analysis  `db:"analysis"        json:"analysis"`
	CreatedAt      time.Time `db:"created_at"      json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"      json:"updated_at"`
}

// AdoptionResult counts what a session-to-user adoption re-keyed.
type AdoptionResult struct {
	JobsMoved      int64 `json:"jobs_moved"`
	JobsCancelled  int64 `json:"jobs_cancelled"`
	RecordsMoved   int64 `json:"records_moved"`
	RecordsDropped int64 `json:"records_dropped"`
}

// Noop reports whether the adoption found nothing keyed by the session.
func (r AdoptionResult) Noop() bool {
	return r.JobsMoved == 0 && r.JobsCancelled == 0 && r.RecordsMoved == 0 && r.RecordsDropped == 0
}
