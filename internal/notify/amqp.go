package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// EventsExchange is the fanout exchange job events are published to.
const EventsExchange = "sitepulse.job-events"

// AMQPNotifier publishes events to a RabbitMQ fanout exchange. Each subscriber
// binds its own exclusive, auto-deleted queue.
type AMQPNotifier struct {
	conn *amqp.Connection
	mu   sync.Mutex
	ch   *amqp.Channel
}

// DialAMQP connects to RabbitMQ and declares the events exchange. Idempotent.
func DialAMQP(url string) (*AMQPNotifier, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}

	if err := ch.ExchangeDeclare(EventsExchange, "fanout", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declaring events exchange: %w", err)
	}

	return &AMQPNotifier{conn: conn, ch: ch}, nil
}

func (n *AMQPNotifier) Publish(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding job event: %w", err)
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	err = n.ch.PublishWithContext(ctx,
		EventsExchange, // exchange
		"",             // routing key, ignored by fanout
		false,          // mandatory
		false,          // immediate
		amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
		})
	if err != nil {
		return fmt.Errorf("publishing job event: %w", err)
	}
	return nil
}

func (n *AMQPNotifier) Subscribe(ctx context.Context) (<-chan Event, error) {
	ch, err := n.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}

	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("declaring subscriber queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, "", EventsExchange, false, nil); err != nil {
		ch.Close()
		return nil, fmt.Errorf("binding subscriber queue: %w", err)
	}

	deliveries, err := ch.Consume(
		q.Name,
		"",    // consumer
		true,  // auto-ack; a lost wake-up is covered by polling
		true,  // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("consuming job events: %w", err)
	}

	out := make(chan Event, 16)
	go func() {
		defer close(out)
		defer ch.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				var ev Event
				if err := json.Unmarshal(d.Body, &ev); err != nil {
					slog.Warn("dropping malformed job event", "error", err)
					continue
				}
				select {
				case out <- ev:
				default:
				}
			}
		}
	}()
	return out, nil
}

func (n *AMQPNotifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ch.Close()
	return n.conn.Close()
}

var _ Notifier = (*AMQPNotifier)(nil)
