package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"wadesk/internal/constants"
	"wadesk/internal/metrics"
	"wadesk/internal/realtime"
	"wadesk/internal/retry"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// Envelope is the wire shape of every mirrored event.
type Envelope struct {
	ID         string      `json:"id"`
	Event      string      `json:"event"`
	OccurredAt time.Time   `json:"occurredAt"`
	Data       interface{} `json:"data"`
}

// Publisher mirrors realtime events to a message broker for consumers that
// cannot hold a WebSocket open.
type Publisher interface {
	Publish(ctx context.Context, event string, data interface{}) error
	Close() error
}

type amqpPublisher struct {
	conn     *amqp091.Connection
	exchange string
	logger   *logrus.Logger
}

// NewPublisher connects to the broker and declares the topic exchange.
// The initial dial retries with backoff so the process can start while the
// broker is still coming up.
func NewPublisher(ctx context.Context, url, exchange string, logger *logrus.Logger) (Publisher, error) {
	var conn *amqp091.Connection

	backoff := retry.NewBackoff(retry.BackoffConfig{
		InitialDelay: constants.DefaultAMQPDialDelayMs * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		MaxAttempts:  constants.DefaultAMQPDialAttempts,
		Jitter:       true,
	})
	err := backoff.Retry(ctx, func() error {
		var dialErr error
		conn, dialErr = amqp091.Dial(url)
		if dialErr != nil {
			logger.WithError(dialErr).Warn("Broker dial failed, retrying")
		}
		return dialErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(
		exchange, "topic", true, false, false, false, nil,
	); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	logger.WithField("exchange", exchange).Info("Broker publisher connected")

	return &amqpPublisher{
		conn:     conn,
		exchange: exchange,
		logger:   logger,
	}, nil
}

// RoutingKey derives the broker routing key from an event name.
// "message:new" becomes "wadesk.message.new".
func RoutingKey(event string) string {
	return constants.DefaultRoutingKeyPrefix + "." + strings.ReplaceAll(event, ":", ".")
}

func (p *amqpPublisher) Publish(ctx context.Context, event string, data interface{}) error {
	ch, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}
	defer ch.Close()

	env := Envelope{
		ID:         uuid.NewString(),
		Event:      event,
		OccurredAt: time.Now().UTC(),
		Data:       data,
	}
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	key := RoutingKey(event)
	err = ch.PublishWithContext(
		ctx, p.exchange, key, false, false,
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			MessageId:    env.ID,
			Timestamp:    env.OccurredAt,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish %s: %w", key, err)
	}

	metrics.IncrementCounter("broker_events_published_total", map[string]string{
		"event": event,
	}, "Events mirrored to the broker")
	p.logger.WithFields(logrus.Fields{
		"key":      key,
		"exchange": p.exchange,
	}).Debug("Event published to broker")
	return nil
}

func (p *amqpPublisher) Close() error {
	return p.conn.Close()
}

// Bridge consumes a hub subscriber and republishes every global event to the
// broker. It returns when the context is cancelled or the subscriber closes.
// Publish failures are logged and skipped; the broker mirror is best-effort.
func Bridge(ctx context.Context, sub *realtime.Subscriber, publisher Publisher, logger *logrus.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-sub.Events():
			if !ok {
				return
			}
			if evt.Topic != "" {
				continue
			}
			if err := publisher.Publish(ctx, evt.Event, evt.Payload); err != nil {
				logger.WithError(err).WithField("event", evt.Event).Error("Failed to mirror event to broker")
				metrics.IncrementCounter("broker_publish_errors_total", nil, "Broker publish failures")
			}
		}
	}
}
