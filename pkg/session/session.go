// Package session drives processing sessions through their state machine:
//
//	queued -> processing -> completed | failed | cancelled
//	queued -> failed | cancelled
//
// Every transition is applied through an atomic read-modify-write in the
// store, so two concurrent transitions of one session cannot both succeed.
// Completing or failing a session updates its file in the same step.
package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/OFFIS-RIT/ingest/backend/pkg/events"
	"github.com/OFFIS-RIT/ingest/backend/pkg/ingest"
	"github.com/OFFIS-RIT/ingest/backend/pkg/logger"
	"github.com/OFFIS-RIT/ingest/backend/pkg/store"

	"github.com/google/uuid"
)

// Step outcomes used by the pipeline. RecordStep accepts any non-empty value.
const (
	OutcomeStarted   = "started"
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped"
)

// StaleMessage is the error message of sessions failed by FailStale.
const StaleMessage = "stale session"

type Engine struct {
	sessions  store.SessionStore
	publisher events.Publisher
	now       func() time.Time
}

type Option func(*Engine)

func WithPublisher(p events.Publisher) Option {
	return func(e *Engine) {
		if p != nil {
			e.publisher = p
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

func New(sessions store.SessionStore, opts ...Option) *Engine {
	e := &Engine{
		sessions:  sessions,
		publisher: events.Nop{},
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(e)
	}
	return e
}

// Open creates a queued session for fileID. It fails with
// ingest.ErrConcurrentSessionExists while another session of the file is
// queued or processing.
func (e *Engine) Open(ctx context.Context, fileID uuid.UUID) (ingest.ProcessingSession, error) {
	sess, err := e.sessions.InsertSessionIfNoneActive(ctx, ingest.ProcessingSession{
		ID:        store.NewID(),
		FileID:    fileID,
		Status:    ingest.SessionQueued,
		Steps:     []ingest.Step{},
		StartedAt: e.now(),
	})
	if err != nil {
		return ingest.ProcessingSession{}, fmt.Errorf("failed to open session for file %s: %w", fileID, err)
	}
	logger.Debug("[Session] Opened", "session", sess.ID, "file", fileID)
	e.publish(ctx, sess)
	return sess, nil
}

// Begin moves a queued session to processing.
func (e *Engine) Begin(ctx context.Context, id uuid.UUID) (ingest.ProcessingSession, error) {
	return e.transition(ctx, id, ingest.SessionProcessing, func(s *ingest.ProcessingSession) {}, ingest.SessionQueued)
}

// RecordStep appends an audit entry. Only a processing session accepts steps.
func (e *Engine) RecordStep(ctx context.Context, id uuid.UUID, name string, outcome string) (ingest.ProcessingSession, error) {
	name = strings.TrimSpace(name)
	outcome = strings.TrimSpace(outcome)
	if name == "" || outcome == "" {
		return ingest.ProcessingSession{}, fmt.Errorf("%w: step name and outcome are required", ingest.ErrInvalidInput)
	}

	sess, err := e.sessions.UpdateSession(ctx, id, func(s *ingest.ProcessingSession) error {
		if s.Status != ingest.SessionProcessing {
			return fmt.Errorf("%w: cannot record step on %s session", ingest.ErrInvalidTransition, s.Status)
		}
		s.Steps = append(s.Steps, ingest.Step{Name: name, Outcome: outcome, Timestamp: e.now()})
		return nil
	})
	if err != nil {
		return ingest.ProcessingSession{}, err
	}
	e.publish(ctx, sess)
	return sess, nil
}

// Complete finishes a processing session and marks its file processed.
func (e *Engine) Complete(ctx context.Context, id uuid.UUID) (ingest.ProcessingSession, error) {
	return e.finishWithFile(ctx, id, ingest.SessionCompleted, ingest.FileStatusProcessed, e.finish, ingest.SessionProcessing)
}

// Fail finishes a queued or processing session with msg and marks its file
// failed. A file that already left pending keeps its status.
func (e *Engine) Fail(ctx context.Context, id uuid.UUID, msg string) (ingest.ProcessingSession, error) {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		msg = "processing failed"
	}
	return e.finishWithFile(ctx, id, ingest.SessionFailed, ingest.FileStatusFailed, func(s *ingest.ProcessingSession) {
		e.finish(s)
		s.ErrorMessage = &msg
	}, ingest.SessionQueued, ingest.SessionProcessing)
}

// Cancel aborts a queued or processing session. The file stays pending and
// can be processed again by a new session.
func (e *Engine) Cancel(ctx context.Context, id uuid.UUID) (ingest.ProcessingSession, error) {
	return e.transition(ctx, id, ingest.SessionCancelled, e.finish, ingest.SessionQueued, ingest.SessionProcessing)
}

func (e *Engine) Get(ctx context.Context, id uuid.UUID) (ingest.ProcessingSession, error) {
	return e.sessions.GetSession(ctx, id)
}

// ListForFile returns every session of a file, newest first.
func (e *Engine) ListForFile(ctx context.Context, fileID uuid.UUID) ([]ingest.ProcessingSession, error) {
	return e.sessions.ListSessions(ctx, fileID)
}

// Active returns the queued or processing session of a file, or nil.
func (e *Engine) Active(ctx context.Context, fileID uuid.UUID) (*ingest.ProcessingSession, error) {
	sess, err := e.sessions.ActiveSession(ctx, fileID)
	if errors.Is(err, ingest.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// FailStale fails every queued or processing session started more than
// olderThan ago and returns how many it failed.
func (e *Engine) FailStale(ctx context.Context, olderThan time.Duration) (int, error) {
	stale, err := e.sessions.ListStaleSessions(ctx, e.now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("failed to list stale sessions: %w", err)
	}

	failed := 0
	for _, s := range stale {
		if err := ctx.Err(); err != nil {
			return failed, err
		}
		_, err := e.Fail(ctx, s.ID, StaleMessage)
		if errors.Is(err, ingest.ErrInvalidTransition) {
			// finished while we were sweeping
			continue
		}
		if err != nil {
			return failed, err
		}
		logger.Warn("[Session] Failed stale session", "session", s.ID, "file", s.FileID, "started_at", s.StartedAt)
		failed++
	}
	return failed, nil
}

func (e *Engine) finish(s *ingest.ProcessingSession) {
	now := e.now()
	s.CompletedAt = &now
	d := now.Sub(s.StartedAt).Milliseconds()
	if d < 0 {
		d = 0
	}
	s.DurationMs = &d
}

func (e *Engine) transition(
	ctx context.Context,
	id uuid.UUID,
	to ingest.SessionStatus,
	apply func(*ingest.ProcessingSession),
	from ...ingest.SessionStatus,
) (ingest.ProcessingSession, error) {
	sess, err := e.sessions.UpdateSession(ctx, id, func(s *ingest.ProcessingSession) error {
		if !slices.Contains(from, s.Status) {
			return fmt.Errorf("%w: %s -> %s", ingest.ErrInvalidTransition, s.Status, to)
		}
		s.Status = to
		apply(s)
		return nil
	})
	if err != nil {
		return ingest.ProcessingSession{}, err
	}
	logger.Debug("[Session] Transition", "session", id, "status", to)
	e.publish(ctx, sess)
	return sess, nil
}

// finishWithFile ends a session and moves its file to fileStatus in one store
// update. A file that already left pending keeps its status.
func (e *Engine) finishWithFile(
	ctx context.Context,
	id uuid.UUID,
	to ingest.SessionStatus,
	fileStatus ingest.FileStatus,
	apply func(*ingest.ProcessingSession),
	from ...ingest.SessionStatus,
) (ingest.ProcessingSession, error) {
	var fileErr error
	sess, _, err := e.sessions.FinishSession(ctx, id, func(s *ingest.ProcessingSession, f *ingest.File) error {
		if !slices.Contains(from, s.Status) {
			return fmt.Errorf("%w: %s -> %s", ingest.ErrInvalidTransition, s.Status, to)
		}
		s.Status = to
		apply(s)
		fileErr = f.Finish(fileStatus, e.now())
		return nil
	})
	if err != nil {
		return ingest.ProcessingSession{}, err
	}
	if fileErr != nil {
		logger.Warn("[Session] File no longer pending, status left unchanged", "session", id, "file", sess.FileID, "err", fileErr)
	}
	logger.Debug("[Session] Transition", "session", id, "status", to)
	e.publish(ctx, sess)
	return sess, nil
}

func (e *Engine) publish(ctx context.Context, sess ingest.ProcessingSession) {
	if err := e.publisher.Publish(ctx, events.FromSession(sess, e.now())); err != nil {
		logger.Warn("[Session] Failed to publish event", "session", sess.ID, "err", err)
	}
}
