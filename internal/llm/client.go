// Package llm provides the model-calling side of the runtime: a Client
// interface generalized from the teacher's internal/router.ModelRouter
// (HTTP-provider polling with cost/latency tracking) down to a single
// streaming Stream method, a genai-backed concrete implementation, and a
// fallback-ordered Router that tries a primary then a backup client the
// same way the teacher's Route/RouteWithBackup pair does.
package llm

import (
	"context"

	"github.com/agentswarm/swarmnode/pkg/models"
)

// Client is the minimal streaming chat interface the runtime needs.
// Concrete implementations translate models.Content/models.ToolSchema into
// a provider's wire format and translate streamed chunks back.
type Client interface {
	Stream(ctx context.Context, systemInstruction string, contents []models.Content, tools []models.ToolSchema, emit func(models.Part)) error
}

// ClientFunc adapts a plain function to Client, used by tests.
type ClientFunc func(ctx context.Context, systemInstruction string, contents []models.Content, tools []models.ToolSchema, emit func(models.Part)) error

func (f ClientFunc) Stream(ctx context.Context, systemInstruction string, contents []models.Content, tools []models.ToolSchema, emit func(models.Part)) error {
	return f(ctx, systemInstruction, contents, tools, emit)
}
