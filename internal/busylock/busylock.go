// Package busylock implements the per-node busy lock (spec §3 "Busy
// state", §4.4): a non-reentrant mutex with observable state, try-acquire
// semantics for the normal rejection path, and urgent-preemption-with-poll
// semantics for the [URGENT_INTERRUPT] path. There is no literal Python
// source for this mechanism in original_source/ (grepping the whole tree
// for busy/task_preview/running_time/threading.Lock turned up nothing
// outside remote_worker_connector's *consumption* of a peer's 503
// response) — this is grounded instead on the teacher's
// internal/process/manager.go mutex+observable-ProcessInfo idiom, adapted
// from tracking subprocess state to tracking "is this node currently
// running a session's turn".
package busylock

import (
	"context"
	"sync"
	"time"

	"github.com/agentswarm/swarmnode/pkg/models"
)

// PreemptionPollInterval is how often TryAcquireUrgent re-checks the lock
// while waiting for the current holder to notice its cancellation signal
// and release (spec §4.4: "polls for ~2 seconds").
const PreemptionPollInterval = 200 * time.Millisecond

// PreemptionTimeout bounds how long an urgent request waits for the
// current holder to yield before giving up.
const PreemptionTimeout = 2 * time.Second

// Lock is the per-node busy lock. Not reentrant: a second acquire without
// an intervening release fails (TryAcquire returns false), even from the
// same goroutine — a node only ever runs one turn at a time.
type Lock struct {
	mu    sync.Mutex
	state models.BusyState
}

func New() *Lock {
	return &Lock{}
}

// State returns the current observable busy state (for the 503 payload).
func (l *Lock) State() models.BusyState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// TryAcquire attempts a non-blocking acquire for a normal-priority
// request. Returns false immediately if the node is already busy — the
// caller should respond HTTP 503 (spec §6.1).
func (l *Lock) TryAcquire(sessionKey models.SessionKey, taskPreview string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state.Locked {
		return false
	}
	l.state = models.BusyState{Locked: true, TaskPreview: taskPreview, SessionKey: sessionKey, StartedAt: time.Now()}
	return true
}

// Release clears the lock. Safe to call even if the lock was never
// acquired (idempotent), so a defer in the runtime's turn loop never needs
// its own extra bookkeeping to avoid a double-release panic.
func (l *Lock) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state = models.BusyState{}
}

// TryAcquireUrgent implements the urgent-preemption path: it signals the
// current holder to cancel (via the caller-supplied cancelFn, typically
// cancel.Mailboxes.Cancel for the busy session) and polls until either the
// lock frees up or PreemptionTimeout elapses. Returns models.PeerBusy if
// preemption times out.
func (l *Lock) TryAcquireUrgent(ctx context.Context, sessionKey models.SessionKey, taskPreview string, cancelHolder func(models.SessionKey)) error {
	l.mu.Lock()
	if !l.state.Locked {
		l.state = models.BusyState{Locked: true, TaskPreview: taskPreview, SessionKey: sessionKey, StartedAt: time.Now()}
		l.mu.Unlock()
		return nil
	}
	holder := l.state.SessionKey
	l.mu.Unlock()

	cancelHolder(holder)

	deadline := time.Now().Add(PreemptionTimeout)
	ticker := time.NewTicker(PreemptionPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return models.Cancelled("urgent acquire cancelled")
		case <-ticker.C:
			if l.TryAcquire(sessionKey, taskPreview) {
				return nil
			}
			if time.Now().After(deadline) {
				state := l.State()
				return models.PeerBusy(0, state.TaskPreview, state.RunningTimeSeconds())
			}
		}
	}
}
