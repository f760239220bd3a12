package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/sitepulse/pkg/models"
	"github.com/redis/go-redis/v9"
)

// Cache holds short-lived job state and request counters.
// Implementations must be safe for concurrent use.
type Cache interface {
	Ping(ctx context.Context) error
	// SetJobStatus mirrors a job's status so cancellation checks can skip the database.
	SetJobStatus(ctx context.Context, jobID uuid.UUID, status models.JobStatus, ttl time.Duration) error
	GetJobStatus(ctx context.Context, jobID uuid.UUID) (models.JobStatus, bool, error)
	DeleteJobStatus(ctx context.Context, jobID uuid.UUID) error
	IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error)
}

// RedisCache implements Cache on go-redis/v9.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache parses redisURL and returns a cache over a new client. No
// connection is made until the first command.
func NewRedisCache(redisURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	return &RedisCache{client: redis.NewClient(opts)}, nil
}

// Client exposes the underlying connection so pub/sub can share it.
func (c *RedisCache) Client() *redis.Client {
	return c.client
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) SetJobStatus(ctx context.Context, jobID uuid.UUID, status models.JobStatus, ttl time.Duration) error {
	if !status.Valid() {
		return fmt.Errorf("refusing to cache unknown job status %q", status)
	}
	return c.client.Set(ctx, JobStatusKey(jobID), string(status), ttl).Err()
}

// GetJobStatus returns the mirrored status. A value that is not a known
// status is treated as a miss.
func (c *RedisCache) GetJobStatus(ctx context.Context, jobID uuid.UUID) (models.JobStatus, bool, error) {
	val, err := c.client.Get(ctx, JobStatusKey(jobID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	status := models.JobStatus(val)
	if !status.Valid() {
		return "", false, nil
	}
	return status, true, nil
}

func (c *RedisCache) DeleteJobStatus(ctx context.Context, jobID uuid.UUID) error {
	return c.client.Del(ctx, JobStatusKey(jobID)).Err()
}

// IncrWithExpiry increments key and arms its expiry in one transaction.
// The expiry is only set when the key is new, so a window is fixed from its
// first hit.
func (c *RedisCache) IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error) {
	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, expiry)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

var _ Cache = (*RedisCache)(nil)
