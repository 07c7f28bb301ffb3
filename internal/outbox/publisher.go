package outbox

import (
	"context"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/seatmap-booking/internal/adapters/crdb"
	"github.com/robertarktes/seatmap-booking/internal/observability"
)

const batchSize = 50

// Store hands out unpublished outbox records.
type Store interface {
	ClaimOutbox(ctx context.Context, limit int, publish func(crdb.OutboxRecord) error) (int, error)
}

// Broker publishes one message under a routing key.
type Broker interface {
	Publish(ctx context.Context, key string, msg amqp.Publishing) error
}

// Publisher relays outbox rows to the broker in creation order.
type Publisher struct {
	store    Store
	broker   Broker
	logger   observability.Logger
	interval time.Duration
	now      func() time.Time
}

func NewPublisher(store Store, broker Broker, logger observability.Logger, interval time.Duration) *Publisher {
	if logger == nil {
		logger = observability.NopLogger()
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Publisher{store: store, broker: broker, logger: logger.WithField("component", "outbox"), interval: interval, now: time.Now}
}

func (p *Publisher) Run(ctx context.Context) {
	p.logger.Info("outbox publisher started")
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("outbox publisher stopped")
			return
		case <-ticker.C:
			// Drain full batches before waiting for the next tick.
			for {
				n, err := p.Flush(ctx)
				if err != nil {
					p.logger.WithError(err).Error("outbox flush failed")
					break
				}
				if n < batchSize {
					break
				}
			}
		}
	}
}

// Flush publishes one batch and returns how many records went out.
func (p *Publisher) Flush(ctx context.Context) (int, error) {
	return p.store.ClaimOutbox(ctx, batchSize, func(rec crdb.OutboxRecord) error {
		msg := amqp.Publishing{
			MessageId:    rec.DedupeKey,
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    rec.CreatedAt,
			Type:         rec.EventType,
			Body:         rec.Payload,
		}
		if err := p.broker.Publish(ctx, rec.EventType, msg); err != nil {
			observability.RabbitPublishFailures.Inc()
			return err
		}
		observability.OutboxLag.Set(p.now().Sub(rec.CreatedAt).Seconds())
		return nil
	})
}
