// Package contracts holds the small cross-cutting interfaces that internal
// packages depend on but that a caller assembling a node (pkg/server, or an
// alternate build swapping a provider) needs to see without importing the
// concrete internal package. Mirrors the teacher's pkg/contracts split
// between wire-level types and behavioral interfaces.
package contracts

import (
	"context"

	"github.com/agentswarm/swarmnode/pkg/models"
)

// ModelClient is the minimal surface the runtime needs from an LLM
// provider: send a conversation plus tool schemas, get back a streamed
// sequence of content chunks. Concrete implementations live in
// internal/llm; this interface exists so internal/runtime doesn't import
// a specific provider SDK.
type ModelClient interface {
	// Stream sends systemInstruction, the conversation, and the available
	// tools to the model and invokes emit for each chunk as it arrives.
	// systemInstruction carries the turn's skill discovery catalog (spec
	// §4.7 Phase 1) so the model can learn a legal skill_id before it ever
	// calls skill_load. Stream returns once the model has finished the
	// turn (either final text or one or more function calls).
	Stream(ctx context.Context, systemInstruction string, contents []models.Content, tools []models.ToolSchema, emit func(models.Part)) error
}

// ToolInvoker executes a single named tool call and returns its result.
// Implemented by internal/tools; consumed by internal/runtime without
// importing the tool registry directly.
type ToolInvoker interface {
	Invoke(ctx context.Context, sessionKey models.SessionKey, name string, args map[string]any) (any, error)
}

// SessionResolver looks up a session by key without exposing the full
// store surface, used by internal/runtime, which only needs read access.
type SessionResolver interface {
	GetSession(ctx context.Context, key models.SessionKey) (*models.Session, error)
}

// Guardrail evaluates arbitrary text for safety-policy violations, applied
// at tool and dispatcher payload boundaries.
type Guardrail interface {
	Evaluate(ctx context.Context, text string) (allowed bool, reason string)
}
