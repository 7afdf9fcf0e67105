// Package queue carries processing requests over RabbitMQ. Every work queue
// has a _retry sibling that dead-letters back after a delay and a _dlq for
// messages that exhausted their retries.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/OFFIS-RIT/ingest/backend/internal/util"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	ProcessQueue = "process_queue"

	retrySuffix = "_retry"
	dlqSuffix   = "_dlq"
	retryDelay  = 10 * time.Second
)

type Config struct {
	User     string
	Password string
	Host     string
	Port     string
}

func ConfigFromEnv() Config {
	return Config{
		User:     util.GetEnvString("RABBITMQ_USER", "guest"),
		Password: util.GetEnvString("RABBITMQ_PASSWORD", "guest"),
		Host:     util.GetEnvString("RABBITMQ_HOST", "localhost"),
		Port:     util.GetEnvString("RABBITMQ_PORT", "5672"),
	}
}

func (c Config) URL() string {
	u := url.URL{
		Scheme: "amqp",
		User:   url.UserPassword(c.User, c.Password),
		Host:   c.Host + ":" + c.Port,
		Path:   "/",
	}
	return u.String()
}

func Dial(cfg Config) (*amqp.Connection, error) {
	conn, err := amqp.Dial(cfg.URL())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq at %s:%s: %w", cfg.Host, cfg.Port, err)
	}
	return conn, nil
}

type declarer interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
}

// Setup declares each work queue together with its retry and dead letter
// queues.
func Setup(ch declarer, names ...string) error {
	for _, name := range names {
		if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare %s: %w", name, err)
		}
		if _, err := ch.QueueDeclare(name+dlqSuffix, true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare %s: %w", name+dlqSuffix, err)
		}
		_, err := ch.QueueDeclare(name+retrySuffix, true, false, false, false, amqp.Table{
			"x-message-ttl":             int32(retryDelay.Milliseconds()),
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": name,
		})
		if err != nil {
			return fmt.Errorf("failed to declare %s: %w", name+retrySuffix, err)
		}
	}
	return nil
}

// ProcessMessage asks a worker to run the pipeline for one file.
type ProcessMessage struct {
	FileID        uuid.UUID `json:"file_id"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	Reason        string    `json:"reason,omitempty"`
}

type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Producer publishes processing requests.
type Producer struct {
	ch    publisher
	queue string
}

func NewProducer(ch publisher) *Producer {
	return &Producer{ch: ch, queue: ProcessQueue}
}

// EnqueueProcessing publishes a persistent ProcessMessage and returns its
// correlation id.
func (p *Producer) EnqueueProcessing(ctx context.Context, fileID uuid.UUID, reason string) (string, error) {
	id, err := gonanoid.New()
	if err != nil {
		return "", err
	}
	body, err := json.Marshal(ProcessMessage{FileID: fileID, CorrelationID: id, Reason: reason})
	if err != nil {
		return "", err
	}
	err = p.ch.PublishWithContext(ctx, "", p.queue, false, false, amqp.Publishing{
		ContentType:   "application/json",
		Body:          body,
		DeliveryMode:  amqp.Persistent,
		Timestamp:     time.Now(),
		CorrelationId: id,
	})
	if err != nil {
		return "", fmt.Errorf("failed to publish to %s: %w", p.queue, err)
	}
	return id, nil
}
