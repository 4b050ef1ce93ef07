package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/privateness-network/bot-access/internal/metrics"
	"github.com/privateness-network/bot-access/pkg/model"
)

// amqpChannel is the subset of *amqp.Channel used for publishing.
type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPPublisher publishes access events to a RabbitMQ exchange, routed by event subject.
type AMQPPublisher struct {
	conn     *amqp.Connection
	channel  amqpChannel
	exchange string
	logger   *zap.Logger
}

// NewAMQP dials RabbitMQ and declares a durable topic exchange.
func NewAMQP(url, exchange string, logger *zap.Logger) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if exchange != "" {
		if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
			_ = ch.Close()
			_ = conn.Close()
			return nil, fmt.Errorf("declare exchange %q: %w", exchange, err)
		}
	}

	p := newAMQP(ch, exchange, logger)
	p.conn = conn
	return p, nil
}

func newAMQP(ch amqpChannel, exchange string, logger *zap.Logger) *AMQPPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AMQPPublisher{channel: ch, exchange: exchange, logger: logger}
}

func (p *AMQPPublisher) Name() string { return "amqp" }

// PublishEvent publishes evt as a persistent JSON message.
func (p *AMQPPublisher) PublishEvent(ctx context.Context, evt model.AccessEvent) error {
	key := evt.Subject()
	body, err := json.Marshal(evt)
	if err != nil {
		metrics.IncError("publisher", "marshal_failed")
		return fmt.Errorf("marshal event: %w", err)
	}

	start := time.Now()
	err = p.channel.PublishWithContext(ctx,
		p.exchange,
		key,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    evt.ID.String(),
			Type:         evt.Type,
			Timestamp:    evt.OccurredAt,
			Body:         body,
		},
	)
	metrics.ObserveDuration(metrics.EventPublishLatency, start, p.Name())

	if err != nil {
		p.logger.Error("publisher.amqp_publish_failed",
			zap.String("routing_key", key),
			zap.Error(err))
		metrics.IncEventPublished(p.Name(), key, "error")
		return err
	}
	metrics.IncEventPublished(p.Name(), key, "ok")
	return nil
}

// HealthCheck reports whether the connection is still open.
func (p *AMQPPublisher) HealthCheck(context.Context) error {
	if p.conn == nil || p.conn.IsClosed() {
		return fmt.Errorf("amqp connection closed")
	}
	return nil
}

func (p *AMQPPublisher) Close() error {
	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
