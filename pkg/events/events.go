// Package events announces processing session transitions to other
// processes. Delivery is best effort; nothing in the engine depends on it.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/OFFIS-RIT/ingest/backend/pkg/ingest"

	"github.com/google/uuid"
)

// SessionEvent describes one session transition or recorded step.
type SessionEvent struct {
	SessionID uuid.UUID            `json:"session_id"`
	FileID    uuid.UUID            `json:"file_id"`
	Status    ingest.SessionStatus `json:"status"`
	Step      string               `json:"step,omitempty"`
	Outcome   string               `json:"outcome,omitempty"`
	Error     *string              `json:"error,omitempty"`
	At        time.Time            `json:"at"`
}

// FromSession builds the event for the current state of sess.
func FromSession(sess ingest.ProcessingSession, at time.Time) SessionEvent {
	ev := SessionEvent{
		SessionID: sess.ID,
		FileID:    sess.FileID,
		Status:    sess.Status,
		Error:     sess.ErrorMessage,
		At:        at,
	}
	if n := len(sess.Steps); n > 0 {
		ev.Step = sess.Steps[n-1].Name
		ev.Outcome = sess.Steps[n-1].Outcome
	}
	return ev
}

type Publisher interface {
	Publish(ctx context.Context, ev SessionEvent) error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, SessionEvent) error { return nil }

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []SessionEvent
}

func (r *Recorder) Publish(_ context.Context, ev SessionEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

// Events returns a copy of everything published so far.
func (r *Recorder) Events() []SessionEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]SessionEvent, len(r.events))
	copy(out, r.events)
	return out
}
