package notification

import (
	"context"
	"errors"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	headerDeduplication = "x-deduplication-header"
	exchangeKind        = "topic"
)

type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// dialFunc opens a channel with the exchange already declared.
type dialFunc func() (channel, func() error, error)

// AMQPPublisher publishes to a durable topic exchange, using the message
// topic as routing key. The connection is opened on first use and dropped
// after a failed publish so the next attempt redials.
type AMQPPublisher struct {
	log      *zap.Logger
	exchange string
	timeout  time.Duration
	backoff  time.Duration
	dial     dialFunc

	mu        sync.Mutex
	ch        channel
	closeConn func() error
}

func NewAMQPPublisher(url, exchange string, timeout time.Duration, log *zap.Logger) *AMQPPublisher {
	p := newAMQPPublisher(exchange, timeout, log, nil)
	p.dial = func() (channel, func() error, error) {
		return dialExchange(url, exchange)
	}
	return p
}

func newAMQPPublisher(exchange string, timeout time.Duration, log *zap.Logger, dial dialFunc) *AMQPPublisher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &AMQPPublisher{
		log:      log.Named("notification.amqp"),
		exchange: exchange,
		timeout:  timeout,
		backoff:  200 * time.Millisecond,
		dial:     dial,
	}
}

func dialExchange(url, exchange string) (channel, func() error, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}

	if err := ch.ExchangeDeclare(
		exchange,
		exchangeKind,
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, nil, err
	}

	return ch, conn.Close, nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	publishing := buildPublishing(msg, time.Now().UTC())
	attempts := msg.Retries + 1
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return errors.Join(lastErr, ctx.Err())
			case <-time.After(p.backoff * time.Duration(attempt-1)):
			}
		}

		lastErr = p.publishOnce(ctx, msg.Topic, publishing)
		if lastErr == nil {
			p.log.Debug("notification published",
				zap.String("topic", msg.Topic),
				zap.String("deduplication_id", msg.DeduplicationID),
				zap.Int("attempt", attempt),
			)
			return nil
		}
		p.log.Warn("notification publish attempt failed",
			zap.String("topic", msg.Topic),
			zap.String("deduplication_id", msg.DeduplicationID),
			zap.Int("attempt", attempt),
			zap.Error(lastErr),
		)
	}
	return lastErr
}

func (p *AMQPPublisher) publishOnce(ctx context.Context, topic string, publishing amqp.Publishing) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ch == nil {
		if p.dial == nil {
			return errors.New("amqp_publisher_not_configured")
		}
		ch, closeConn, err := p.dial()
		if err != nil {
			return err
		}
		p.ch, p.closeConn = ch, closeConn
	}

	pubCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if err := p.ch.PublishWithContext(pubCtx, p.exchange, topic, false, false, publishing); err != nil {
		p.resetLocked()
		return err
	}
	return nil
}

func (p *AMQPPublisher) resetLocked() {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.closeConn != nil {
		_ = p.closeConn()
	}
	p.ch, p.closeConn = nil, nil
}

func (p *AMQPPublisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resetLocked()
}

func buildPublishing(msg Message, now time.Time) amqp.Publishing {
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.DeduplicationID,
		Timestamp:    now,
		Type:         msg.Topic,
		Body:         msg.Payload,
		Headers: amqp.Table{
			headerDeduplication: msg.DeduplicationID,
		},
	}
}
