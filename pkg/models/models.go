// Package models defines the core data types shared across the swarm node:
// sessions, events, tool bindings, registry records, and the busy/swarm
// state that the runtime and HTTP facade both need to agree on.
package models

import (
	"time"
)

// ── Node identity ────────────────────────────────────────────

// NodeIdentity is a node's launch port and base URL. Nothing in this
// module writes it into the process environment; the dispatcher's
// self-exclusion uses the port held by internal/registry.Registry.
type NodeIdentity struct {
	Port    int    `json:"port"`
	BaseURL string `json:"base_url"`
}

// ── Registry record ──────────────────────────────────────────

// RegistryRecord is a single row of the shared swarm registry: one active
// peer. Invariant: at most one row per Port.
type RegistryRecord struct {
	Port     int       `json:"port" db:"port"`
	URL      string    `json:"url" db:"url"`
	Status   string    `json:"status" db:"status"` // always "active"; rows are deleted, not marked inactive
	LastSeen time.Time `json:"last_seen" db:"last_seen"`
}

const RegistryStatusActive = "active"

// ── Session key ──────────────────────────────────────────────

// SessionKey is the triple that uniquely identifies a conversation.
type SessionKey struct {
	AppName   string `json:"app_name"`
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
}

func (k SessionKey) String() string {
	return k.AppName + "/" + k.UserID + "/" + k.SessionID
}

// ── Author / roles ───────────────────────────────────────────

type Author string

const (
	AuthorUser   Author = "user"
	AuthorModel  Author = "model"
	AuthorSystem Author = "system"
)

// ── Part (tagged union) ──────────────────────────────────────

type PartKind string

const (
	PartText             PartKind = "text"
	PartThought          PartKind = "thought"
	PartFunctionCall     PartKind = "function_call"
	PartFunctionResponse PartKind = "function_response"
)

// Part is a tagged union. Exactly one of the fields matching Kind is set.
type Part struct {
	Kind PartKind `json:"kind"`

	Text string `json:"text,omitempty"`

	// FunctionCall fields (Kind == PartFunctionCall).
	ToolName string         `json:"tool_name,omitempty"`
	Args     map[string]any `json:"args,omitempty"`

	// FunctionResponse fields (Kind == PartFunctionResponse). ToolName is
	// shared with the call above so the two can be matched.
	Result any `json:"result,omitempty"`

	// CallID correlates a function_call part with its function_response,
	// so compaction can find the call that pairs with a response at its cut
	// without guessing which one it belongs to when a turn issues several
	// calls to the same tool name. Compaction does not synthesize a stub
	// response for a call left without one.
	CallID string `json:"call_id,omitempty"`
}

func TextPart(text string) Part               { return Part{Kind: PartText, Text: text} }
func ThoughtPart(text string) Part            { return Part{Kind: PartThought, Text: text} }
func FunctionCallPart(callID, name string, args map[string]any) Part {
	return Part{Kind: PartFunctionCall, CallID: callID, ToolName: name, Args: args}
}
func FunctionResponsePart(callID, name string, result any) Part {
	return Part{Kind: PartFunctionResponse, CallID: callID, ToolName: name, Result: result}
}

// ── Content / Event ──────────────────────────────────────────

// Content is a role-tagged bundle of parts, mirroring the shape the
// upstream model API and the persisted event log both use.
type Content struct {
	Role  string `json:"role"`
	Parts []Part `json:"parts"`
}

// Event is one entry in a session's append-only log. Events are never
// mutated after append except during compaction, which replaces the whole
// list in place (spec §4.3).
type Event struct {
	Author    Author    `json:"author"`
	Content   Content   `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// HasFunctionCall reports whether the event carries a function_call part.
func (e Event) HasFunctionCall() bool {
	for _, p := range e.Content.Parts {
		if p.Kind == PartFunctionCall {
			return true
		}
	}
	return false
}

// Text concatenates all text/thought parts of the event, used by the
// compaction engine's text rendering and by title derivation.
func (e Event) Text() string {
	var out string
	for _, p := range e.Content.Parts {
		if p.Kind == PartText || p.Kind == PartThought {
			out += p.Text
		}
	}
	return out
}

// ── Session ──────────────────────────────────────────────────

// Session is one logical, multi-turn conversation, owned by exactly one
// node and keyed by (app, user, id).
type Session struct {
	Key       SessionKey     `json:"key"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	Title     string         `json:"title"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Events    []Event        `json:"events"`
}

// MaxTitleChars bounds the auto-derived title (spec §3: "first ~30 characters").
const MaxTitleChars = 30

// DeriveTitle produces the auto-title heuristic from the first user turn.
func DeriveTitle(firstUserMessage string) string {
	r := []rune(firstUserMessage)
	if len(r) <= MaxTitleChars {
		return string(r)
	}
	return string(r[:MaxTitleChars])
}

// ── Tool binding ─────────────────────────────────────────────

// ToolSchema is a JSON-Schema-shaped description of a tool's parameters,
// sent to the model alongside the conversation on every turn.
type ToolSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ── Busy state ───────────────────────────────────────────────

// BusyState is the per-node observable state of the busy lock (spec §3, §4.4).
type BusyState struct {
	Locked      bool       `json:"locked"`
	TaskPreview string     `json:"task_preview,omitempty"`
	SessionKey  SessionKey `json:"session_key,omitempty"`
	StartedAt   time.Time  `json:"started_at,omitempty"`
}

// RunningTimeSeconds is a convenience for the 503 busy-response payload.
func (b BusyState) RunningTimeSeconds() float64 {
	if !b.Locked || b.StartedAt.IsZero() {
		return 0
	}
	return time.Since(b.StartedAt).Seconds()
}

// ── Priority / swarm record ──────────────────────────────────

type Priority string

const (
	PriorityNormal Priority = "NORMAL"
	PriorityUrgent Priority = "URGENT"
)

// SwarmRecord describes one in-flight dispatched sub-task. Not persisted
// beyond the lifetime of the HTTP exchange (spec §3).
type SwarmRecord struct {
	TargetPort   int      `json:"target_port"`
	SubSessionID string   `json:"sub_session_id"`
	CallerPort   int      `json:"caller_port"`
	Priority     Priority `json:"priority"`
}

// UrgentPrefix is the literal marker the chat endpoint looks for to trigger
// urgent preemption (spec §6.1).
const UrgentPrefix = "[URGENT_INTERRUPT] "
