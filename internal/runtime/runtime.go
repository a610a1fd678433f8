// Package runtime implements the Session Runtime: the per-request ReAct
// loop that drives one node's handling of a chat turn (spec §4.1).
// Grounded on the teacher's internal/executor/executor.go Execute() turn
// loop, generalized from a single-shot managed-agent call into a
// streaming, cancellable, tool-registry-driven loop that also owns the
// busy lock and pre-flight compaction check the teacher's executor never
// needed (it ran one agent at a time under a workflow engine, not as a
// standalone HTTP-facing node).
package runtime

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/agentswarm/swarmnode/internal/skills"
	"github.com/agentswarm/swarmnode/pkg/contracts"
	"github.com/agentswarm/swarmnode/pkg/models"
)

// DefaultMaxTurns bounds the ReAct loop the same way executor.go's
// DefaultMaxTurns does: a runaway tool-calling loop must terminate.
const DefaultMaxTurns = 10

// Compactor is the subset of internal/compaction.Engine the runtime calls.
// Declared as a local interface so tests can substitute a no-op.
type Compactor interface {
	MaybeCompact(ctx context.Context, key models.SessionKey) error
	CompactReactive(ctx context.Context, key models.SessionKey) error
}

// BusyLock is the subset of internal/busylock.Lock the runtime calls.
type BusyLock interface {
	TryAcquire(key models.SessionKey, taskPreview string) bool
	TryAcquireUrgent(ctx context.Context, key models.SessionKey, taskPreview string, cancelHolder func(models.SessionKey)) error
	State() models.BusyState
	Release()
}

// Canceller is the subset of internal/cancel.Mailboxes the runtime calls.
type Canceller interface {
	Guard(ctx context.Context, key models.SessionKey) error
	Cancel(key models.SessionKey)
	Clear(key models.SessionKey)
}

// ToolSchemas resolves the tool schemas currently bound into a session,
// implemented by internal/tools.Registry.Bound.
type ToolSchemas func(key models.SessionKey) []models.ToolSchema

// SkillCatalog is the subset of internal/skills.Manager the runtime calls
// to build the Phase 1 discovery catalog (spec §4.7) that goes into the
// system prompt every turn, so the model can learn a legal skill_id before
// it ever calls skill_load.
type SkillCatalog interface {
	Discover() []skills.Manifest
}

// systemPromptPreamble describes the swarm node persona and its always-on
// built-in tools, grounded on
// original_source/skills/adk_agent/config.py's SYSTEM_PROMPT_TEMPLATE
// (agent identity + built-in tools + skill list sections), rewritten in
// English for this port.
const systemPromptPreamble = "You are a swarm node: an autonomous agent that can dispatch work to peer " +
	"nodes and load additional skills on demand.\n\n" +
	"Built-in tools are always available: dispatch_task and dispatch_batch_tasks send sub-tasks to other " +
	"nodes in the swarm; skill_load(skill_id) activates one of the skills listed below and binds its " +
	"tools into this session. Only a skill_id from that list is valid. Read the instructions skill_load " +
	"returns carefully before using a newly loaded skill's tools."

// buildSystemInstruction renders the discovery catalog into the system
// prompt text passed to contracts.ModelClient.Stream (spec §4.7 Phase 1,
// spec.md:183: the manifest list is "used in the system prompt").
func buildSystemInstruction(manifests []skills.Manifest) string {
	if len(manifests) == 0 {
		return systemPromptPreamble
	}
	var b strings.Builder
	b.WriteString(systemPromptPreamble)
	b.WriteString("\n\nAvailable skills:\n")
	for _, m := range manifests {
		fmt.Fprintf(&b, "- %s (%s): %s\n", m.ID, m.Name, m.Description)
	}
	return b.String()
}

// Chunk is one piece of a streaming response, forwarded to the HTTP
// facade's newline-delimited JSON writer as it's produced.
// Defined in pkg/models so internal/dispatcher can emit into the same
// stream via a context-carried emitter.
type Chunk = models.Chunk

// Runtime owns one node's turn-execution logic.
type Runtime struct {
	sessions    contracts.SessionResolver
	appendEvent func(ctx context.Context, key models.SessionKey, ev models.Event) error
	setTitle    func(ctx context.Context, key models.SessionKey, title string) error

	model        contracts.ModelClient
	tools        contracts.ToolInvoker
	toolSchemas  ToolSchemas
	skillCatalog SkillCatalog
	compactor    Compactor
	busy         BusyLock
	cancel       Canceller
	maxTurns     int
}

// New wires a Runtime. appendEvent/setTitle are passed as funcs rather
// than a full store.SessionStore so tests can exercise the loop against a
// minimal fake without standing up a real store.
func New(
	sessions contracts.SessionResolver,
	appendEvent func(ctx context.Context, key models.SessionKey, ev models.Event) error,
	setTitle func(ctx context.Context, key models.SessionKey, title string) error,
	model contracts.ModelClient,
	tools contracts.ToolInvoker,
	toolSchemas ToolSchemas,
	skillCatalog SkillCatalog,
	compactor Compactor,
	busy BusyLock,
	canceller Canceller,
) *Runtime {
	return &Runtime{
		sessions:     sessions,
		appendEvent:  appendEvent,
		setTitle:     setTitle,
		model:        model,
		tools:        tools,
		toolSchemas:  toolSchemas,
		skillCatalog: skillCatalog,
		compactor:    compactor,
		busy:         busy,
		cancel:       canceller,
		maxTurns:     DefaultMaxTurns,
	}
}

// WithMaxTurns overrides the default per-turn ReAct loop cap, letting a
// deployment configure it (spec §4.1) instead of always taking
// DefaultMaxTurns.
func (r *Runtime) WithMaxTurns(n int) *Runtime {
	if n > 0 {
		r.maxTurns = n
	}
	return r
}

// HandleMessage runs one full ReAct loop for a user message and returns
// the final text response. emit, if non-nil, receives every chunk as it is
// produced for streaming to the client (spec §6.1).
func (r *Runtime) HandleMessage(ctx context.Context, key models.SessionKey, userMessage string, urgent bool, emit func(Chunk)) (string, error) {
	if emit == nil {
		emit = func(Chunk) {}
	}

	taskPreview := previewOf(userMessage)
	if urgent {
		if err := r.busy.TryAcquireUrgent(ctx, key, taskPreview, r.cancel.Cancel); err != nil {
			return "", err
		}
	} else if !r.busy.TryAcquire(key, taskPreview) {
		state := r.busy.State()
		return "", models.PeerBusy(0, state.TaskPreview, state.RunningTimeSeconds())
	}
	defer r.busy.Release()
	defer r.cancel.Clear(key)

	if err := r.appendEvent(ctx, key, models.Event{
		Author:  models.AuthorUser,
		Content: models.Content{Role: "user", Parts: []models.Part{models.TextPart(userMessage)}},
	}); err != nil {
		return "", err
	}

	if sess, err := r.sessions.GetSession(ctx, key); err == nil && sess.Title == "" {
		_ = r.setTitle(ctx, key, models.DeriveTitle(userMessage))
	}

	if err := r.compactor.MaybeCompact(ctx, key); err != nil {
		log.Warn().Err(err).Str("session", key.String()).Msg("pre-flight compaction failed, continuing anyway")
	}

	return r.loop(ctx, key, emit, false)
}

func (r *Runtime) loop(ctx context.Context, key models.SessionKey, emit func(Chunk), reactiveRetry bool) (string, error) {
	ctx = models.WithEmitter(ctx, emit)

	var systemInstruction string
	if r.skillCatalog != nil {
		systemInstruction = buildSystemInstruction(r.skillCatalog.Discover())
	}

	for turn := 1; turn <= r.maxTurns; turn++ {
		if err := r.cancel.Guard(ctx, key); err != nil {
			return "", err
		}

		sess, err := r.sessions.GetSession(ctx, key)
		if err != nil {
			return "", err
		}

		var parts []models.Part
		streamErr := r.model.Stream(ctx, systemInstruction, contentsOf(sess.Events), r.toolSchemas(key), func(p models.Part) {
			parts = append(parts, p)
			switch p.Kind {
			case models.PartText:
				emit(Chunk{Type: "text", Part: p, Text: p.Text})
			case models.PartThought:
				emit(Chunk{Type: "thought", Part: p, Text: p.Text})
			case models.PartFunctionCall:
				emit(Chunk{Type: "tool_call", Part: p})
			}
		})
		if streamErr != nil {
			if isContextWindowExceeded(streamErr) && !reactiveRetry {
				if err := r.compactor.CompactReactive(ctx, key); err != nil {
					return "", models.ContextWindowExceeded(fmt.Sprintf("context exceeded and compaction failed: %v", err))
				}
				return r.loop(ctx, key, emit, true)
			}
			return "", models.ToolError("model call failed", streamErr)
		}

		if err := r.appendEvent(ctx, key, models.Event{
			Author:  models.AuthorModel,
			Content: models.Content{Role: "model", Parts: parts},
		}); err != nil {
			return "", err
		}

		calls := functionCallsOf(parts)
		if len(calls) == 0 {
			return textOf(parts), nil
		}

		for _, call := range calls {
			if err := r.cancel.Guard(ctx, key); err != nil {
				return "", err
			}
			result, err := r.tools.Invoke(ctx, key, call.ToolName, call.Args)
			if err != nil {
				result = fmt.Sprintf("error: %v", err)
			}
			respPart := models.FunctionResponsePart(call.CallID, call.ToolName, result)
			emit(Chunk{Type: "tool_result", Part: respPart})
			if err := r.appendEvent(ctx, key, models.Event{
				Author:  models.AuthorUser,
				Content: models.Content{Role: "user", Parts: []models.Part{respPart}},
			}); err != nil {
				return "", err
			}
		}
	}

	return fmt.Sprintf("[Max turns (%d) reached without a final response]", r.maxTurns), nil
}

func previewOf(s string) string {
	const limit = 120
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit]) + "..."
}

func contentsOf(events []models.Event) []models.Content {
	out := make([]models.Content, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Content)
	}
	return out
}

func functionCallsOf(parts []models.Part) []models.Part {
	var out []models.Part
	for _, p := range parts {
		if p.Kind == models.PartFunctionCall {
			out = append(out, p)
		}
	}
	return out
}

func textOf(parts []models.Part) string {
	var out string
	for _, p := range parts {
		if p.Kind == models.PartText {
			out += p.Text
		}
	}
	return out
}

func isContextWindowExceeded(err error) bool {
	me, ok := err.(*models.Error)
	return ok && me.Kind == models.ErrKindContextExceeded
}
