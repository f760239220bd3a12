// Package notify tells idle workers that a job became runnable so they do not
// have to wait out a full poll interval.
package notify

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/sitepulse/internal/config"
	"github.com/kiranshivaraju/sitepulse/pkg/models"
	"github.com/redis/go-redis/v9"
)

// Event announces a job transition. Delivery is best effort; the store stays
// the source of truth and workers keep polling.
type Event struct {
	JobID  uuid.UUID        `json:"job_id"`
	Type   models.JobType   `json:"type"`
	Status models.JobStatus `json:"status"`
}

// Notifier publishes and subscribes to job events.
type Notifier interface {
	Publish(ctx context.Context, ev Event) error
	// Subscribe returns a channel of events that is closed once ctx is done.
	Subscribe(ctx context.Context) (<-chan Event, error)
	Close() error
}

// New builds the notifier selected by cfg.Backend. rc is used by the redis backend.
func New(cfg config.NotifyConfig, rc *redis.Client) (Notifier, error) {
	switch cfg.Backend {
	case "redis":
		if rc == nil {
			return nil, fmt.Errorf("redis notifier requires a redis client")
		}
		return NewRedisNotifier(rc), nil
	case "amqp":
		return DialAMQP(cfg.RabbitMQURL)
	case "none", "":
		return Noop{}, nil
	default:
		return nil, fmt.Errorf("unknown notify backend %q: must be one of redis, amqp, none", cfg.Backend)
	}
}

// Noop drops every event. Workers then rely on polling alone.
type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }

func (Noop) Subscribe(ctx context.Context) (<-chan Event, error) {
	ch := make(chan Event)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

func (Noop) Close() error { return nil }

var _ Notifier = Noop{}
