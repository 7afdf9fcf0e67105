package queue

import (
	"context"
	"errors"

	"github.com/OFFIS-RIT/ingest/backend/pkg/logger"

	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/sync/errgroup"
)

type consumeChannel interface {
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
}

// Consumer feeds deliveries of the process queue to a Handler, at most
// concurrency at a time.
type Consumer struct {
	ch          consumeChannel
	handler     *Handler
	concurrency int
}

func NewConsumer(ch consumeChannel, handler *Handler, concurrency int) *Consumer {
	return &Consumer{ch: ch, handler: handler, concurrency: max(concurrency, 1)}
}

// Run consumes until ctx ends or the broker closes the delivery channel.
// In-flight messages are finished before Run returns.
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.ch.Qos(c.concurrency, 0, false); err != nil {
		return err
	}
	deliveries, err := c.ch.Consume(c.handler.queue, c.handler.queue+"_consumer", false, false, false, false, nil)
	if err != nil {
		return err
	}

	var g errgroup.Group
	g.SetLimit(c.concurrency)
	for {
		select {
		case <-ctx.Done():
			logger.Info("[Queue] Stopping consumer", "queue", c.handler.queue)
			return g.Wait()
		case d, ok := <-deliveries:
			if !ok {
				_ = g.Wait()
				return errors.New("delivery channel closed")
			}
			g.Go(func() error {
				c.handler.Handle(ctx, d)
				return nil
			})
		}
	}
}
