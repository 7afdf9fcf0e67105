package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/ingest/backend/pkg/ingest"
	"github.com/OFFIS-RIT/ingest/backend/pkg/logger"
	"github.com/OFFIS-RIT/ingest/backend/pkg/pipeline"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// MaxRetries is the number of redeliveries through the retry queue before a
// message goes to the dead letter queue.
const MaxRetries = 10

const retriesHeader = "x-retries"

type Action int

const (
	ActionAck Action = iota
	ActionRetry
	ActionDeadLetter
	ActionRequeue
)

func (a Action) String() string {
	switch a {
	case ActionAck:
		return "ack"
	case ActionRetry:
		return "retry"
	case ActionDeadLetter:
		return "dead_letter"
	case ActionRequeue:
		return "requeue"
	}
	return fmt.Sprintf("action(%d)", int(a))
}

var errMalformed = errors.New("malformed process message")

type Processor interface {
	Process(ctx context.Context, fileID uuid.UUID) (pipeline.Result, error)
}

// Handler runs the pipeline for one delivery and settles it.
type Handler struct {
	proc  Processor
	ch    publisher
	queue string
}

func NewHandler(proc Processor, ch publisher) *Handler {
	return &Handler{proc: proc, ch: ch, queue: ProcessQueue}
}

// Decide maps a processing outcome to what happens with the message. A
// session that reached a terminal state has its outcome recorded and is not
// retried; neither is a file that is already being processed elsewhere.
func Decide(ctx context.Context, res pipeline.Result, err error, retries int) Action {
	switch {
	case err == nil:
		return ActionAck
	case ctx.Err() != nil:
		return ActionRequeue
	case errors.Is(err, ingest.ErrConcurrentSessionExists), errors.Is(err, pipeline.ErrAborted):
		return ActionAck
	case res.Session.Status.Terminal():
		return ActionAck
	case errors.Is(err, errMalformed), errors.Is(err, ingest.ErrNotFound):
		return ActionDeadLetter
	case retries >= MaxRetries:
		return ActionDeadLetter
	}
	return ActionRetry
}

func (h *Handler) Handle(ctx context.Context, d amqp.Delivery) {
	start := time.Now()

	res, err := h.process(ctx, d.Body)
	action := Decide(ctx, res, err, retries(d.Headers))
	if err != nil {
		logger.Error("[Queue] Processing failed", "queue", h.queue, "action", action, "err", err)
	}

	settleCtx := context.WithoutCancel(ctx)
	switch action {
	case ActionAck:
		if err := d.Ack(false); err != nil {
			logger.Error("[Queue] Failed to ack message", "err", err)
		}
	case ActionRequeue:
		if err := d.Nack(false, true); err != nil {
			logger.Error("[Queue] Failed to requeue message", "err", err)
		}
	case ActionRetry:
		h.forward(settleCtx, d, h.queue+retrySuffix, retries(d.Headers)+1)
	case ActionDeadLetter:
		h.forward(settleCtx, d, h.queue+dlqSuffix, retries(d.Headers))
	}

	logger.Info("[Queue] Message handled", "queue", h.queue, "action", action, "duration", time.Since(start))
}

func (h *Handler) process(ctx context.Context, body []byte) (pipeline.Result, error) {
	var msg ProcessMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return pipeline.Result{}, fmt.Errorf("%w: %v", errMalformed, err)
	}
	if msg.FileID == uuid.Nil {
		return pipeline.Result{}, fmt.Errorf("%w: file_id is missing", errMalformed)
	}
	logger.Info("[Queue] Received message", "file", msg.FileID, "correlation_id", msg.CorrelationID)
	return h.proc.Process(ctx, msg.FileID)
}

// forward republishes the message to target and acks the original. If the
// publish fails the original is requeued instead.
func (h *Handler) forward(ctx context.Context, d amqp.Delivery, target string, retries int) {
	headers := amqp.Table{}
	for k, v := range d.Headers {
		headers[k] = v
	}
	headers[retriesHeader] = int32(retries)

	err := h.ch.PublishWithContext(ctx, "", target, false, false, amqp.Publishing{
		ContentType:   d.ContentType,
		Body:          d.Body,
		Headers:       headers,
		DeliveryMode:  amqp.Persistent,
		CorrelationId: d.CorrelationId,
	})
	if err != nil {
		logger.Error("[Queue] Failed to forward message", "target", target, "err", err)
		_ = d.Nack(false, true)
		return
	}
	if err := d.Ack(false); err != nil {
		logger.Error("[Queue] Failed to ack forwarded message", "err", err)
	}
}

// retries reads the retry counter. Brokers and clients differ in the integer
// type they use for header values.
func retries(h amqp.Table) int {
	switch v := h[retriesHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	}
	return 0
}
