package models

import "context"

// Chunk is one piece of a streaming turn response (spec §4.1, §6.1). It
// lives here rather than in internal/runtime so internal/dispatcher can
// emit swarm_event chunks into the same stream a session's runtime is
// already writing to, without an import cycle back into runtime.
type Chunk struct {
	Type string // "text", "thought", "tool_call", "tool_result", "swarm_event"
	Part Part
	Text string

	// swarm_event fields (spec §4.5 step 5): SubType is one of
	// init/chunk/finish/fail, describing one leg of a nested dispatch.
	SubType     string
	WorkerPort  int
	TaskPreview string
	Content     string
	ErrorMsg    string
}

type emitterKey struct{}

// WithEmitter attaches a chunk sink to ctx so a tool invoked mid-loop (in
// particular the swarm dispatcher) can stream its own progress into the
// caller's output without an emit parameter threaded through
// contracts.ToolInvoker.
func WithEmitter(ctx context.Context, emit func(Chunk)) context.Context {
	return context.WithValue(ctx, emitterKey{}, emit)
}

// EmitterFromContext returns the attached emitter, or a no-op if none was
// set, so a handler invoked directly (as in a unit test) doesn't need to
// special-case a nil sink.
func EmitterFromContext(ctx context.Context) func(Chunk) {
	if e, ok := ctx.Value(emitterKey{}).(func(Chunk)); ok && e != nil {
		return e
	}
	return func(Chunk) {}
}
