package rabbit

import (
	"context"
	"encoding/json"

	"github.com/cockroachdb/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/seatmap-booking/internal/domain"
	"github.com/robertarktes/seatmap-booking/internal/observability"
)

// Consumer receives booking events on a queue private to this process.
type Consumer struct {
	ch     *amqp.Channel
	queue  string
	logger observability.Logger
}

// NewConsumer declares a server-named exclusive queue bound to keys on the
// events exchange.
func NewConsumer(conn *amqp.Connection, logger observability.Logger, keys ...string) (*Consumer, error) {
	if logger == nil {
		logger = observability.NopLogger()
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	if err := ch.ExchangeDeclare(Exchange, "topic", true, false, false, false, nil); err != nil {
		return nil, err
	}
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		keys = []string{"booking.*"}
	}
	for _, key := range keys {
		if err := ch.QueueBind(q.Name, key, Exchange, false, nil); err != nil {
			return nil, errors.Wrapf(err, "bind %s", key)
		}
	}
	return &Consumer{ch: ch, queue: q.Name, logger: logger.WithField("component", "rabbit-consumer")}, nil
}

// Consume hands every decoded event to handle until ctx is done or the
// channel closes. Undecodable messages are dropped.
func (c *Consumer) Consume(ctx context.Context, handle func(context.Context, domain.BookingEvent) error) error {
	deliveries, err := c.ch.ConsumeWithContext(ctx, c.queue, "", false, true, false, false, nil)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("delivery channel closed")
			}
			var ev domain.BookingEvent
			if err := json.Unmarshal(d.Body, &ev); err != nil {
				c.logger.WithError(err).WithField("message_id", d.MessageId).Warn("dropping undecodable event")
				_ = d.Nack(false, false)
				continue
			}
			if err := handle(ctx, ev); err != nil {
				c.logger.WithError(err).WithField("message_id", d.MessageId).Warn("event handler failed")
				_ = d.Nack(false, false)
				continue
			}
			_ = d.Ack(false)
		}
	}
}

func (c *Consumer) Close() error {
	return c.ch.Close()
}
