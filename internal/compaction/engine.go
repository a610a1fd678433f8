// Package compaction implements the three-tier context-compaction engine
// (spec §4.3): predictive (token-estimate), structural (event-count), and
// reactive (context-window-exceeded) triggers, all funneling into the same
// in-place event-splice routine. Grounded on
// original_source/skills/adk_agent/.claude/skills/compactor/tools.py's
// smart_compact, including its backward search for the function_call that
// pairs with a response at the cut (pulled forward into the kept tail; no
// stub response is synthesized for a call left without one), and its
// summary placeholder event, translated from Python's
// session.events.clear()+.extend() plus a manual re-sync into the backing
// store's internal map into Go's explicit store.ReplaceEvents call — the
// idiomatic equivalent of forcing the mutation into whatever the store
// considers authoritative.
package compaction

import (
	"context"
	"fmt"
	"time"

	"github.com/agentswarm/swarmnode/internal/store"
	"github.com/agentswarm/swarmnode/pkg/models"
)

// Tunables. Both a structural threshold and a floor are configuration
// constants (Open Question decision, see DESIGN.md): the floor prevents
// compaction from ever firing on a session too small for a summary to be
// worth the round trip, even under predictive pressure.
const (
	StructuralEventThreshold = 700
	MinEventsFloor           = 10

	// PredictiveCharsPerToken is the crude chars-per-token ratio used for
	// the predictive trigger's estimate; good enough to decide "getting
	// close", not meant to match a real tokenizer.
	PredictiveCharsPerToken = 4
	PredictiveTokenBudget   = 100_000

	// KeepTailEvents is how many of the most recent events survive a
	// compaction untouched.
	KeepTailEvents = 20
)

// Summarizer produces a natural-language summary of the events being
// dropped. In production this is an llm.Client call; tests can substitute
// a fake to avoid model calls.
type Summarizer interface {
	Summarize(ctx context.Context, events []models.Event) (string, error)
}

// Engine drives compaction decisions and performs the splice.
type Engine struct {
	sessions   store.SessionStore
	summarizer Summarizer
}

func NewEngine(sessions store.SessionStore, summarizer Summarizer) *Engine {
	return &Engine{sessions: sessions, summarizer: summarizer}
}

// Status is the read-only diagnostic the original ships alongside
// smart_compact as get_compression_status: reports current pressure
// without mutating anything (§4 supplemented feature).
type Status struct {
	EventCount        int
	ToolCallCount     int
	EstimatedTokens   int
	ShouldCompact      bool
	Reason            string
}

// Status computes the current compaction pressure for a session without
// mutating it, mirroring the original's turn_count > 100 or tool_count > 50
// heuristic while reusing this engine's own thresholds instead of
// duplicating separate ones.
func (e *Engine) Status(ctx context.Context, key models.SessionKey) (Status, error) {
	sess, err := e.sessions.GetSession(ctx, key)
	if err != nil {
		return Status{}, err
	}

	toolCalls := 0
	for _, ev := range sess.Events {
		if ev.HasFunctionCall() {
			toolCalls++
		}
	}
	estTokens := estimateTokens(sess.Events)

	st := Status{
		EventCount:      len(sess.Events),
		ToolCallCount:   toolCalls,
		EstimatedTokens: estTokens,
	}
	if reason, should := e.shouldCompact(sess.Events, estTokens); should {
		st.ShouldCompact = true
		st.Reason = reason
	}
	return st, nil
}

func (e *Engine) shouldCompact(events []models.Event, estTokens int) (string, bool) {
	if len(events) < MinEventsFloor {
		return "", false
	}
	if estTokens > PredictiveTokenBudget {
		return "predictive: estimated token usage exceeds budget", true
	}
	if len(events) > StructuralEventThreshold {
		return "structural: event count exceeds threshold", true
	}
	return "", false
}

// MaybeCompact checks predictive and structural triggers and compacts if
// warranted. Called by the runtime before each turn (spec §4.3).
func (e *Engine) MaybeCompact(ctx context.Context, key models.SessionKey) error {
	sess, err := e.sessions.GetSession(ctx, key)
	if err != nil {
		return err
	}
	estTokens := estimateTokens(sess.Events)
	if _, should := e.shouldCompact(sess.Events, estTokens); !should {
		return nil
	}
	return e.compact(ctx, key, sess.Events)
}

// CompactReactive is called when the model itself reports the context
// window was exceeded (the third tier): it compacts regardless of the
// predictive and structural thresholds, since the model has already told us it's too
// big, but still respects MinEventsFloor since a context-window error on a
// tiny session indicates a different bug, not something compaction fixes.
func (e *Engine) CompactReactive(ctx context.Context, key models.SessionKey) error {
	sess, err := e.sessions.GetSession(ctx, key)
	if err != nil {
		return err
	}
	if len(sess.Events) < MinEventsFloor {
		return models.CompactionFailed("session too small to compact despite reactive trigger", nil)
	}
	return e.compact(ctx, key, sess.Events)
}

// compact is the actual splice: summarize everything except the tail,
// preserve tool-call/response balance across the cut, and force the
// result into the store via ReplaceEvents.
func (e *Engine) compact(ctx context.Context, key models.SessionKey, events []models.Event) error {
	cut := len(events) - KeepTailEvents
	if cut <= 0 {
		return nil // nothing meaningful to drop
	}

	head := events[:cut]
	tail := events[cut:]

	// Preserve tool-call/response balance across the cut: if the first
	// surviving event is a function_response with no matching call in the
	// tail, walk backward into head to find the call and pull it forward
	// too, rather than leaving a dangling response the model has never
	// seen the request for.
	if len(tail) > 0 && firstIsDanglingResponse(tail) {
		if idx, ok := findMatchingCall(head, tail[0]); ok {
			tail = append([]models.Event{head[idx]}, tail...)
			head = append(head[:idx], head[idx+1:]...)
		}
	}

	summary, err := e.summarizer.Summarize(ctx, head)
	if err != nil {
		return models.CompactionFailed("summarization failed", err)
	}

	placeholder := models.Event{
		Author: models.AuthorSystem,
		Content: models.Content{
			Role:  string(models.AuthorUser),
			Parts: []models.Part{models.TextPart(fmt.Sprintf("[System] Context cleared. Summary of previous conversation:\n%s", summary))},
		},
		CreatedAt: time.Now(),
	}

	newEvents := make([]models.Event, 0, 1+len(tail))
	newEvents = append(newEvents, placeholder)
	newEvents = append(newEvents, tail...)

	if err := e.sessions.ReplaceEvents(ctx, key, newEvents); err != nil {
		return models.CompactionFailed("failed to persist compacted events", err)
	}
	return nil
}

func firstIsDanglingResponse(tail []models.Event) bool {
	for _, p := range tail[0].Content.Parts {
		if p.Kind == models.PartFunctionResponse {
			return true
		}
	}
	return false
}

// findMatchingCall searches head backward for the function_call event that
// pairs with tail[0]'s dangling function_response, matching by CallID.
func findMatchingCall(head []models.Event, response models.Event) (int, bool) {
	var wantID string
	for _, p := range response.Content.Parts {
		if p.Kind == models.PartFunctionResponse {
			wantID = p.CallID
			break
		}
	}
	if wantID == "" {
		return 0, false
	}
	for i := len(head) - 1; i >= 0; i-- {
		for _, p := range head[i].Content.Parts {
			if p.Kind == models.PartFunctionCall && p.CallID == wantID {
				return i, true
			}
		}
	}
	return 0, false
}

func estimateTokens(events []models.Event) int {
	chars := 0
	for _, ev := range events {
		chars += len(ev.Text())
	}
	return chars / PredictiveCharsPerToken
}
