// Package notify publishes pipeline events to RabbitMQ.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
	log "github.com/sirupsen/logrus"
)

type Publisher interface {
	Publish(ctx context.Context, key string, msg Envelope) error
	Close() error
}

type ConnectionOptions struct {
	URL           string
	RetryAttempts int
	Delay         time.Duration
}

const MaxDelay = time.Minute

// backoff doubles delay per attempt, capped at MaxDelay.
func backoff(delay time.Duration, attempt int) time.Duration {
	sleep := delay
	for i := 1; i < attempt && sleep < MaxDelay; i++ {
		sleep *= 2
	}
	return min(sleep, MaxDelay)
}

// DialWithRetry connects with exponential backoff. Waits end early when ctx
// is cancelled.
func DialWithRetry(ctx context.Context, cfg ConnectionOptions) (*amqp091.Connection, error) {
	attempts := max(cfg.RetryAttempts, 1)
	var lastErr error
	for i := 1; i <= attempts; i++ {
		conn, err := amqp091.Dial(cfg.URL)
		if err == nil {
			if i > 1 {
				log.WithField("attempt", i).Info("RabbitMQ connected.")
			}
			return conn, nil
		}
		lastErr = err
		if i == attempts {
			break
		}

		sleep := backoff(cfg.Delay, i)
		log.WithError(err).WithFields(log.Fields{"attempt": i, "sleep": sleep}).Warn("RabbitMQ dial failed.")

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("dial cancelled: %w", ctx.Err())
		case <-timer.C:
		}
	}
	return nil, fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", attempts, lastErr)
}

type rmqClient struct {
	conn     *amqp091.Connection
	exchange string
}

// New declares a durable topic exchange on conn.
func New(conn *amqp091.Connection, exchange string) (Publisher, error) {
	if exchange == "" {
		return nil, errors.New("notify: exchange is required")
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	return &rmqClient{conn: conn, exchange: exchange}, nil
}

// Publish sends msg and waits for the broker to confirm it.
func (r *rmqClient) Publish(ctx context.Context, key string, msg Envelope) error {
	ch, err := r.conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()
	if err := ch.Confirm(false); err != nil {
		return fmt.Errorf("enable confirms: %w", err)
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	msgID := msg.Meta.ID
	if msgID == "" {
		msgID = uuid.NewString()
	}

	conf, err := ch.PublishWithDeferredConfirmWithContext(
		ctx, r.exchange, key, false, false,
		amqp091.Publishing{
			ContentType:   "application/json",
			DeliveryMode:  amqp091.Persistent,
			MessageId:     msgID,
			CorrelationId: msg.Meta.CorrelationID,
			Timestamp:     time.Now(),
			Body:          body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	acked, err := conf.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("await confirm: %w", err)
	}
	if !acked {
		return errors.New("publish: broker nacked message")
	}
	log.WithFields(log.Fields{"key": key, "exchange": r.exchange, "message_id": msgID}).Info("Published event.")
	return nil
}

func (r *rmqClient) Close() error {
	return r.conn.Close()
}

// Nop drops every message. It stands in when no broker is configured.
type Nop struct{}

func (Nop) Publish(_ context.Context, key string, _ Envelope) error {
	log.WithField("key", key).Debug("No broker configured, event dropped.")
	return nil
}

func (Nop) Close() error { return nil }
