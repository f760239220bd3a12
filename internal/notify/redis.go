package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/kiranshivaraju/sitepulse/internal/cache"
	"github.com/redis/go-redis/v9"
)

// RedisNotifier fans events out over Redis pub/sub.
type RedisNotifier struct {
	client  *redis.Client
	channel string
}

func NewRedisNotifier(client *redis.Client) *RedisNotifier {
	return &RedisNotifier{client: client, channel: cache.JobEventsChannel}
}

func (n *RedisNotifier) Publish(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding job event: %w", err)
	}
	if err := n.client.Publish(ctx, n.channel, body).Err(); err != nil {
		return fmt.Errorf("publishing job event: %w", err)
	}
	return nil
}

func (n *RedisNotifier) Subscribe(ctx context.Context) (<-chan Event, error) {
	sub := n.client.Subscribe(ctx, n.channel)
	// Wait for the subscription to be confirmed so no event published after
	// Subscribe returns is missed.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribing to job events: %w", err)
	}

	out := make(chan Event, 16)
	go func() {
		defer close(out)
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					slog.Warn("dropping malformed job event", "error", err)
					continue
				}
				select {
				case out <- ev:
				default:
					// Subscribers only need a wake-up; a full buffer already guarantees one.
				}
			}
		}
	}()
	return out, nil
}

// Close is a no-op; the client is owned by the cache.
func (n *RedisNotifier) Close() error { return nil }

var _ Notifier = (*RedisNotifier)(nil)
