package compaction

import (
	"context"

	"github.com/agentswarm/swarmnode/pkg/models"
)

// SmartCompactSchema and CompressionStatusSchema are the two tools the
// original ships alongside each other (§4 supplemented feature): a mutating
// force-compact and a read-only pressure check. Both are registered as the
// compactor skill's tools, so they bind into a session only once
// skill_load("compactor") has run there.
var SmartCompactSchema = models.ToolSchema{
	Name:        "smart_compact",
	Description: "Force this session's conversation history to be summarized and trimmed now, regardless of current size.",
	Parameters: map[string]any{
		"type":       "object",
		"properties": map[string]any{},
	},
}

var CompressionStatusSchema = models.ToolSchema{
	Name:        "get_compression_status",
	Description: "Report this session's current event/tool-call counts and estimated token usage, and whether compaction would trigger, without changing anything.",
	Parameters: map[string]any{
		"type":       "object",
		"properties": map[string]any{},
	},
}

// ToolHandlerSmartCompact adapts CompactReactive to the tools.Handler shape:
// a manually-invoked compaction skips the usual predictive/structural gate
// the same way a model-reported context-window error does.
func (e *Engine) ToolHandlerSmartCompact(ctx context.Context, sessionKey models.SessionKey, args map[string]any) (any, error) {
	if err := e.CompactReactive(ctx, sessionKey); err != nil {
		return nil, err
	}
	return map[string]any{"compacted": true}, nil
}

// ToolHandlerCompressionStatus adapts Status to the tools.Handler shape.
func (e *Engine) ToolHandlerCompressionStatus(ctx context.Context, sessionKey models.SessionKey, args map[string]any) (any, error) {
	st, err := e.Status(ctx, sessionKey)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"event_count":      st.EventCount,
		"tool_call_count":  st.ToolCallCount,
		"estimated_tokens": st.EstimatedTokens,
		"should_compact":   st.ShouldCompact,
		"reason":           st.Reason,
	}, nil
}
