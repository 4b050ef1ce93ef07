package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/privateness-network/bot-access/internal/metrics"
	"github.com/privateness-network/bot-access/pkg/model"
)

// jetStream is the subset of nats.JetStreamContext used for publishing.
type jetStream interface {
	PublishMsg(m *nats.Msg, opts ...nats.PubOpt) (*nats.PubAck, error)
}

// NATSPublisher publishes access events to NATS JetStream.
type NATSPublisher struct {
	nc      *nats.Conn
	js      jetStream
	service string
	logger  *zap.Logger
}

// NewNATS creates a publisher on an existing connection with JetStream enabled.
func NewNATS(nc *nats.Conn, service string, logger *zap.Logger) (*NATSPublisher, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("jetstream context: %w", err)
	}
	return newNATS(nc, js, service, logger), nil
}

func newNATS(nc *nats.Conn, js jetStream, service string, logger *zap.Logger) *NATSPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NATSPublisher{nc: nc, js: js, service: service, logger: logger}
}

func (p *NATSPublisher) Name() string { return "nats" }

// PublishEvent serializes evt and publishes it on evt.Subject().
func (p *NATSPublisher) PublishEvent(ctx context.Context, evt model.AccessEvent) error {
	subject := evt.Subject()
	data, err := json.Marshal(evt)
	if err != nil {
		metrics.IncError("publisher", "marshal_failed")
		return fmt.Errorf("marshal event: %w", err)
	}

	msg := &nats.Msg{
		Subject: subject,
		Data:    data,
		Header: nats.Header{
			"event_type":     []string{evt.Type},
			"correlation_id": []string{evt.ID.String()},
			"service":        []string{p.service},
			"content_type":   []string{"application/json"},
			"product_key":    []string{evt.ProductKey},
		},
	}

	start := time.Now()
	_, err = p.js.PublishMsg(msg, nats.Context(ctx))
	metrics.ObserveDuration(metrics.EventPublishLatency, start, p.Name())

	if err != nil {
		p.logger.Error("publisher.nats_publish_failed",
			zap.String("subject", subject),
			zap.String("event_type", evt.Type),
			zap.Error(err))
		metrics.IncEventPublished(p.Name(), subject, "error")
		return err
	}

	p.logger.Debug("publisher.nats_publish_success",
		zap.String("subject", subject),
		zap.String("user_id", evt.UserID))
	metrics.IncEventPublished(p.Name(), subject, "ok")
	return nil
}

// HealthCheck reports whether the underlying connection is up.
func (p *NATSPublisher) HealthCheck(context.Context) error {
	if p.nc == nil || !p.nc.IsConnected() {
		return fmt.Errorf("nats not connected")
	}
	return nil
}

func (p *NATSPublisher) Close() error {
	if p.nc != nil && !p.nc.IsClosed() {
		if err := p.nc.Drain(); err != nil {
			p.nc.Close()
		}
	}
	return nil
}
