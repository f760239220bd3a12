package cache

import (
	"github.com/google/uuid"
)

// JobEventsChannel is the pub/sub channel job transitions are published on.
const JobEventsChannel = "sitepulse:job-events"

const (
	jobStatusPrefix = "sitepulse:job-status:"
	rateLimitPrefix = "sitepulse:ratelimit:"
)

// JobStatusKey is where the status snapshot of one job lives.
func JobStatusKey(jobID uuid.UUID) string {
	return jobStatusPrefix + jobID.String()
}

// RateLimitKey is the per-minute request counter of one tenant. tenantKey is
// models.Tenant.Key, so sessions and users never share a counter.
func RateLimitKey(tenantKey string) string {
	return rateLimitPrefix + tenantKey
}
