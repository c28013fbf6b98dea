// Package events is the append-only run-event log described in spec §7:
// every phase transition, query, and search result the pipeline produces is
// recorded via Store.AddEvent for later keyset-paginated retrieval, and
// fanned out in-process to any live subscriber (the CLI's "watch" mode, or
// an API long-poll) without requiring a subscriber to be present to record.
//
// Grounded on tarsy's pkg/events/manager.go: a registry of channel
// subscribers guarded by a mutex, with Broadcast copying subscriber
// references out from under the lock before sending so a slow or blocked
// receiver can't stall publication. Adapted from tarsy's WebSocket
// connections to plain buffered channels, since this module has no
// transport layer of its own to carry a socket.
package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/codeready-toolchain/deepcite/internal/models"
	"github.com/codeready-toolchain/deepcite/internal/store"
)

// subscriberBuffer bounds how many events a slow subscriber can fall behind
// by before new events are dropped for it rather than blocking the
// publisher; a dropped event is still durably recorded in the store and
// recoverable via GetRunEventsPage.
const subscriberBuffer = 64

// Recorder appends run events to the durable store and fans each one out to
// any live in-process subscribers for the event's session.
type Recorder struct {
	store *store.Store

	mu   sync.RWMutex
	subs map[string]map[int]chan *models.RunEvent
	next int
}

// NewRecorder builds a Recorder over an open Store.
func NewRecorder(s *store.Store) *Recorder {
	return &Recorder{
		store: s,
		subs:  make(map[string]map[int]chan *models.RunEvent),
	}
}

// Emit persists an event and broadcasts it to the session's subscribers.
// CreatedAt and Severity are defaulted by the store if left zero.
func (r *Recorder) Emit(ctx context.Context, ev *models.RunEvent) error {
	if err := r.store.AddEvent(ctx, ev); err != nil {
		return fmt.Errorf("recording event: %w", err)
	}
	r.broadcast(ev)
	return nil
}

// PhaseChanged records a phase-transition event for sessionID.
func (r *Recorder) PhaseChanged(ctx context.Context, sessionID string, phase models.Phase) error {
	return r.Emit(ctx, &models.RunEvent{
		SessionID: sessionID,
		EventType: models.EventPhaseChanged,
		Phase:     string(phase),
		Severity:  models.SeverityInfo,
	})
}

// AgentAction records a free-text progress note for sessionID, optionally
// attributed to a task.
func (r *Recorder) AgentAction(ctx context.Context, sessionID string, taskID *int64, phase, payload string, severity models.Severity) error {
	return r.Emit(ctx, &models.RunEvent{
		SessionID: sessionID,
		TaskID:    taskID,
		EventType: models.EventAgentAction,
		Phase:     phase,
		Severity:  severity,
		Payload:   payload,
	})
}

// Query records a search query dispatched for a task.
func (r *Recorder) Query(ctx context.Context, sessionID string, taskID *int64, phase, group, text string) error {
	return r.Emit(ctx, &models.RunEvent{
		SessionID: sessionID,
		TaskID:    taskID,
		EventType: models.EventQuery,
		Phase:     phase,
		QueryGroup: group,
		QueryText:  text,
		Severity:   models.SeverityInfo,
	})
}

// Result records one accepted (or rejected, via severity) search result.
func (r *Recorder) Result(ctx context.Context, sessionID string, taskID *int64, phase, group, url, title, snippet string, quality float64) error {
	q := quality
	return r.Emit(ctx, &models.RunEvent{
		SessionID:    sessionID,
		TaskID:       taskID,
		EventType:    models.EventResult,
		Phase:        phase,
		QueryGroup:   group,
		URL:          url,
		Title:        title,
		Snippet:      snippet,
		QualityScore: &q,
		Severity:     models.SeverityInfo,
	})
}

// CancellationRequested records the moment a session's cancel flag was set.
func (r *Recorder) CancellationRequested(ctx context.Context, sessionID string) error {
	return r.Emit(ctx, &models.RunEvent{
		SessionID: sessionID,
		EventType: models.EventCancellationRequested,
		Severity:  models.SeverityWarning,
	})
}

// Page returns a keyset page of a session's events, delegating directly to
// the store's pagination.
func (r *Recorder) Page(ctx context.Context, sessionID, cursor string, limit int) ([]*models.RunEvent, string, error) {
	return r.store.EventsAfter(ctx, sessionID, cursor, limit)
}

// Subscribe registers a live listener for sessionID's events and returns a
// channel of future events plus an unsubscribe func the caller must call
// when done listening. Subscribe does not replay past events — callers that
// need history should call Page first.
func (r *Recorder) Subscribe(sessionID string) (<-chan *models.RunEvent, func()) {
	ch := make(chan *models.RunEvent, subscriberBuffer)

	r.mu.Lock()
	if r.subs[sessionID] == nil {
		r.subs[sessionID] = make(map[int]chan *models.RunEvent)
	}
	id := r.next
	r.next++
	r.subs[sessionID][id] = ch
	r.mu.Unlock()

	unsubscribe := func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if subs, ok := r.subs[sessionID]; ok {
			delete(subs, id)
			if len(subs) == 0 {
				delete(r.subs, sessionID)
			}
		}
		close(ch)
	}
	return ch, unsubscribe
}

// broadcast fans ev out to every live subscriber for its session, dropping
// the event for any subscriber whose buffer is full rather than blocking.
func (r *Recorder) broadcast(ev *models.RunEvent) {
	r.mu.RLock()
	subs := r.subs[ev.SessionID]
	chans := make([]chan *models.RunEvent, 0, len(subs))
	for _, ch := range subs {
		chans = append(chans, ch)
	}
	r.mu.RUnlock()

	for _, ch := range chans {
		select {
		case ch <- ev:
		default:
		}
	}
}

// WaitForQuiet blocks until sessionID has had no new event for quietFor, or
// ctx is cancelled — used by tests and the CLI's "watch" mode to detect a
// session has gone idle without polling the store in a tight loop.
func (r *Recorder) WaitForQuiet(ctx context.Context, sessionID string, quietFor time.Duration) error {
	ch, unsubscribe := r.Subscribe(sessionID)
	defer unsubscribe()

	timer := time.NewTimer(quietFor)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return nil
		case <-ch:
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(quietFor)
		}
	}
}
