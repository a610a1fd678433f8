// Package cancel implements cooperative cancellation for in-flight
// sessions (spec §4.4): a single-slot mailbox per session key and a guard
// function the runtime must call before every model or tool call. Grounded
// on original_source/main_web_start_steering.py's ContextVar-based
// current_session_key + interruption_queues + interruption_guard pattern,
// translated from Python's asyncio.Queue-per-session into a Go
// buffered-1-channel mailbox: it holds at most one pending signal and never
// blocks a second send (a duplicate signal is dropped while one is pending).
package cancel

import (
	"context"
	"sync"

	"github.com/agentswarm/swarmnode/pkg/models"
)

// Mailboxes tracks one cancellation signal slot per session. A signal
// posted while no run is guarding against it stays pending until the next
// guard check, so a cancel that races a run's very first guard call is
// never lost.
type Mailboxes struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

func NewMailboxes() *Mailboxes {
	return &Mailboxes{slots: make(map[string]chan struct{})}
}

func (m *Mailboxes) getOrCreate(key models.SessionKey) chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key.String()
	ch, ok := m.slots[k]
	if !ok {
		ch = make(chan struct{}, 1)
		m.slots[k] = ch
	}
	return ch
}

// Cancel posts a cancellation signal for a session. Non-blocking: if a
// signal is already pending, this is a no-op (single-slot mailbox, spec
// §4.4 — only the most recent cancel request matters).
func (m *Mailboxes) Cancel(key models.SessionKey) {
	ch := m.getOrCreate(key)
	select {
	case ch <- struct{}{}:
	default:
	}
}

// Guard must be called synchronously before every model or tool call
// inside the runtime's turn loop. It returns models.Cancelled if a signal
// is pending for this session, consuming the signal so the run can
// continue past future guard points once cancellation is handled; it also
// returns Cancelled if ctx itself was cancelled, so callers only need to
// check one error.
func (m *Mailboxes) Guard(ctx context.Context, key models.SessionKey) error {
	if err := ctx.Err(); err != nil {
		return models.Cancelled("context cancelled")
	}
	ch := m.getOrCreate(key)
	select {
	case <-ch:
		return models.Cancelled("cancellation requested")
	default:
		return nil
	}
}

// Clear discards any pending signal for a session, called once a run
// finishes (successfully or not) so a stale cancel from a previous turn
// never bleeds into the next one.
func (m *Mailboxes) Clear(key models.SessionKey) {
	ch := m.getOrCreate(key)
	select {
	case <-ch:
	default:
	}
}
