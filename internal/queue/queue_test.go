package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

type published struct {
	key string
	msg amqp.Publishing
}

type fakeChannel struct {
	mu        sync.Mutex
	published []published
	declared  map[string]amqp.Table
	failPub   error
}

func (f *fakeChannel) PublishWithContext(_ context.Context, _ string, key string, _ bool, _ bool, msg amqp.Publishing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failPub != nil {
		return f.failPub
	}
	f.published = append(f.published, published{key: key, msg: msg})
	return nil
}

func (f *fakeChannel) QueueDeclare(name string, _, _, _, _ bool, args amqp.Table) (amqp.Queue, error) {
	if f.declared == nil {
		f.declared = map[string]amqp.Table{}
	}
	f.declared[name] = args
	return amqp.Queue{Name: name}, nil
}

func TestConfigURL(t *testing.T) {
	cfg := Config{User: "ingest", Password: "p@ss", Host: "mq", Port: "5672"}
	if got := cfg.URL(); got != "amqp://ingest:p%40ss@mq:5672/" {
		t.Fatalf("unexpected url %q", got)
	}
}

func TestSetup(t *testing.T) {
	ch := &fakeChannel{}
	if err := Setup(ch, ProcessQueue); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	for _, name := range []string{"process_queue", "process_queue_dlq", "process_queue_retry"} {
		if _, ok := ch.declared[name]; !ok {
			t.Fatalf("expected %s to be declared", name)
		}
	}
	retry := ch.declared["process_queue_retry"]
	if retry["x-dead-letter-routing-key"] != "process_queue" {
		t.Fatalf("expected retry queue to dead-letter into process_queue, got %v", retry)
	}
	if retry["x-message-ttl"] != int32(10000) {
		t.Fatalf("expected 10s ttl, got %v", retry["x-message-ttl"])
	}
}

func TestEnqueueProcessing(t *testing.T) {
	ch := &fakeChannel{}
	id := uuid.New()

	corr, err := NewProducer(ch).EnqueueProcessing(context.Background(), id, "upload")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if len(ch.published) != 1 || ch.published[0].key != ProcessQueue {
		t.Fatalf("expected one message on %s, got %+v", ProcessQueue, ch.published)
	}
	pub := ch.published[0].msg
	if pub.DeliveryMode != amqp.Persistent || pub.CorrelationId != corr {
		t.Fatalf("unexpected publishing %+v", pub)
	}

	var msg ProcessMessage
	if err := json.Unmarshal(pub.Body, &msg); err != nil {
		t.Fatalf("expected json body, got %v", err)
	}
	if msg.FileID != id || msg.CorrelationID != corr || msg.Reason != "upload" {
		t.Fatalf("unexpected message %+v", msg)
	}
}

func TestEnqueueProcessingError(t *testing.T) {
	boom := errors.New("channel closed")
	ch := &fakeChannel{failPub: boom}
	if _, err := NewProducer(ch).EnqueueProcessing(context.Background(), uuid.New(), ""); !errors.Is(err, boom) {
		t.Fatalf("expected publish error, got %v", err)
	}
}
