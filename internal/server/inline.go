package server

import (
	"context"
	"errors"
	"fmt"
	"sync"

	mid "github.com/OFFIS-RIT/ingest/backend/internal/server/middleware"
	"github.com/OFFIS-RIT/ingest/backend/pkg/logger"
	"github.com/OFFIS-RIT/ingest/backend/pkg/pipeline"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

var errInlineClosed = errors.New("inline queue is closed")

type fileProcessor interface {
	Process(ctx context.Context, fileID uuid.UUID) (pipeline.Result, error)
}

type inlineJob struct {
	ctx    context.Context
	fileID uuid.UUID
	id     string
	reason string
}

// InlineQueue processes files in the server process when no message broker
// is configured. A fixed set of workers drains a bounded backlog; requests
// beyond it are refused with mid.ErrQueueFull.
type InlineQueue struct {
	proc    fileProcessor
	jobs    chan inlineJob
	pending sync.WaitGroup
	workers sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func NewInlineQueue(proc fileProcessor, workers, backlog int) *InlineQueue {
	q := &InlineQueue{proc: proc, jobs: make(chan inlineJob, max(backlog, 0))}
	for range max(workers, 1) {
		q.workers.Add(1)
		go q.work()
	}
	return q
}

func (q *InlineQueue) EnqueueProcessing(ctx context.Context, fileID uuid.UUID, reason string) (string, error) {
	id, err := gonanoid.New()
	if err != nil {
		return "", err
	}

	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return "", errInlineClosed
	}

	q.pending.Add(1)
	select {
	case q.jobs <- inlineJob{ctx: context.WithoutCancel(ctx), fileID: fileID, id: id, reason: reason}:
		return id, nil
	default:
		q.pending.Done()
		return "", fmt.Errorf("%w: %d files waiting", mid.ErrQueueFull, cap(q.jobs))
	}
}

func (q *InlineQueue) work() {
	defer q.workers.Done()
	for j := range q.jobs {
		res, err := q.proc.Process(j.ctx, j.fileID)
		if err != nil {
			logger.Error("[Inline] Processing failed", "file", j.fileID, "correlation_id", j.id, "reason", j.reason, "err", err)
		} else {
			logger.Info("[Inline] Processed file", "file", j.fileID, "correlation_id", j.id, "relationships", len(res.Relationships))
		}
		q.pending.Done()
	}
}

// Wait blocks until every accepted file has been processed.
func (q *InlineQueue) Wait() {
	q.pending.Wait()
}

// Close refuses new files, finishes the accepted ones and stops the workers.
func (q *InlineQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.jobs)
	q.mu.Unlock()
	q.workers.Wait()
}
