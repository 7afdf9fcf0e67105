package queue

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/OFFIS-RIT/ingest/backend/pkg/pipeline"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

type fakeConsumeChannel struct {
	deliveries chan amqp.Delivery
	prefetch   int
}

func (f *fakeConsumeChannel) Qos(prefetch, _ int, _ bool) error {
	f.prefetch = prefetch
	return nil
}

func (f *fakeConsumeChannel) Consume(string, string, bool, bool, bool, bool, amqp.Table) (<-chan amqp.Delivery, error) {
	return f.deliveries, nil
}

func TestConsumerHandlesAllDeliveries(t *testing.T) {
	var processed atomic.Int32
	h := NewHandler(processorFunc(func(context.Context, uuid.UUID) (pipeline.Result, error) {
		processed.Add(1)
		return pipeline.Result{}, nil
	}), &fakeChannel{})

	ch := &fakeConsumeChannel{deliveries: make(chan amqp.Delivery, 5)}
	ack := &ackRecorder{}
	for range 5 {
		ch.deliveries <- delivery(ack, `{"file_id":"`+uuid.NewString()+`"}`, nil)
	}
	close(ch.deliveries)

	err := NewConsumer(ch, h, 3).Run(context.Background())
	if err == nil {
		t.Fatalf("expected error when the delivery channel closes")
	}
	if ch.prefetch != 3 {
		t.Fatalf("expected prefetch 3, got %d", ch.prefetch)
	}
	if processed.Load() != 5 || ack.acks != 5 {
		t.Fatalf("expected 5 processed and acked, got %d/%d", processed.Load(), ack.acks)
	}
}

func TestConsumerStopsOnContext(t *testing.T) {
	h := NewHandler(processorFunc(func(context.Context, uuid.UUID) (pipeline.Result, error) {
		return pipeline.Result{}, nil
	}), &fakeChannel{})
	ch := &fakeConsumeChannel{deliveries: make(chan amqp.Delivery)}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := NewConsumer(ch, h, 1).Run(ctx); err != nil {
		t.Fatalf("expected clean stop, got %v", err)
	}
}
