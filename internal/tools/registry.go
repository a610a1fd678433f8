// Package tools implements the per-session tool registry (spec §3, §4.2):
// the set of tool schemas currently bound into a session, the built-in
// skill_load meta-tool that dynamically expands that set, and a JSON-RPC
// shaped local dispatch surface adapted from the teacher's
// internal/mcpgw/gateway.go so in-process tools are invoked the same way
// an external MCP server's tools would be.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/agentswarm/swarmnode/internal/skills"
	"github.com/agentswarm/swarmnode/pkg/models"
)

// Handler is the concrete implementation behind a bound tool. Handlers are
// registered once at startup (built-ins: dispatch_task, dispatch_batch_tasks;
// compactor skill tools: smart_compact, get_compression_status) or attached
// dynamically when a skill activates and brings its own tools. skill_load
// itself is answered by the Registry, not by a registered Handler.
type Handler func(ctx context.Context, sessionKey models.SessionKey, args map[string]any) (any, error)

type binding struct {
	schema  models.ToolSchema
	handler Handler
}

// Registry holds the tools available process-wide (built-ins and
// skill-provided) and tracks which ones are bound into each session, since
// spec §4.2 scopes dynamically-loaded skill tools to the session that
// loaded them rather than exposing them globally.
type Registry struct {
	mu         sync.RWMutex
	global     map[string]binding         // always available in every session (built-ins)
	bound      map[string]map[string]bool // session key -> tool name -> bound
	skillTools map[string]binding         // name -> binding, populated as skills activate
	skillGroup map[string][]string        // skill id -> tool names, for skills wired entirely in Go

	skillMgr *skills.Manager
}

func NewRegistry(skillMgr *skills.Manager) *Registry {
	return &Registry{
		global:     make(map[string]binding),
		bound:      make(map[string]map[string]bool),
		skillTools: make(map[string]binding),
		skillGroup: make(map[string][]string),
		skillMgr:   skillMgr,
	}
}

// RegisterBuiltin adds a tool available to every session unconditionally.
func (r *Registry) RegisterBuiltin(schema models.ToolSchema, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.global[schema.Name] = binding{schema: schema, handler: h}
}

// SkillLoadSchema describes the meta-tool every session starts with: the
// only way, besides the built-ins, to discover what else is available
// (spec §4.7 Phase 2 trigger).
var SkillLoadSchema = models.ToolSchema{
	Name:        "skill_load",
	Description: "Load a skill's full standard operating procedure and bind its tools into this session.",
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"skill_id": map[string]any{"type": "string", "description": "id of the skill to load, from the discovery manifest"},
		},
		"required": []string{"skill_id"},
	},
}

// SkillLoad handles skill_load: it activates the skill (Phase 2), binds
// its declared tools into the calling session, and returns the SOP body
// text as the tool result so the model can read its instructions.
//
// A skill whose id matches skills.CompactorSkillID is a special case
// (spec §4.7): it has no markdown SOP body or front-matter tool list, so
// activating it binds the pre-registered Go-native compaction tools
// (RegisterSkillTool at startup) directly instead of going through the
// usual schema-from-front-matter path.
func (r *Registry) SkillLoad(ctx context.Context, sessionKey models.SessionKey, args map[string]any) (any, error) {
	id, _ := args["skill_id"].(string)
	if id == "" {
		return nil, models.ToolError("skill_load requires skill_id", nil)
	}

	skill, err := r.skillMgr.Load(ctx, id)
	if err != nil {
		return nil, err
	}

	if id == skills.CompactorSkillID {
		r.mu.Lock()
		names := r.skillGroup[id]
		for _, name := range names {
			r.bindLocked(sessionKey, name)
		}
		r.mu.Unlock()
		return map[string]any{"skill_id": id, "sop": skill.Body, "tools": names}, nil
	}

	r.mu.Lock()
	for _, schema := range skill.Tools {
		r.skillTools[schema.Name] = binding{schema: schema, handler: r.unresolvedSkillTool(schema.Name)}
		r.bindLocked(sessionKey, schema.Name)
	}
	r.mu.Unlock()

	return map[string]any{
		"skill_id": id,
		"sop":      skill.Body,
		"tools":    skill.Tools,
	}, nil
}

// unresolvedSkillTool is the placeholder handler for a skill-declared tool
// backed by markdown front-matter with no Go implementation registered for
// it. Individual skill implementations are out of scope (spec §1
// non-goals list them as external collaborators), so by default this
// simply reports the tool as not yet wired rather than panicking.
func (r *Registry) unresolvedSkillTool(name string) Handler {
	return func(ctx context.Context, sessionKey models.SessionKey, args map[string]any) (any, error) {
		return nil, models.ToolError(fmt.Sprintf("tool %q has no registered implementation on this node", name), nil)
	}
}

// RegisterSkillTool pre-declares a skill-provided tool's full schema and
// handler without binding it into any session, for a skill whose tools are
// implemented in Go rather than discovered from a SKILL.md manifest (the
// compactor special case, spec §4.7: internal/compaction owns
// smart_compact and get_compression_status). The tool becomes available to
// a session only once skill_load(skillID) activates it.
func (r *Registry) RegisterSkillTool(skillID string, schema models.ToolSchema, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.skillTools[schema.Name] = binding{schema: schema, handler: h}
	r.skillGroup[skillID] = append(r.skillGroup[skillID], schema.Name)
}

func (r *Registry) bindLocked(sessionKey models.SessionKey, name string) {
	k := sessionKey.String()
	if r.bound[k] == nil {
		r.bound[k] = make(map[string]bool)
	}
	r.bound[k][name] = true
}

// Bound returns the tool schemas currently available to a session: every
// global built-in plus whatever skills that session has loaded.
func (r *Registry) Bound(sessionKey models.SessionKey) []models.ToolSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.ToolSchema, 0, len(r.global)+1)
	out = append(out, SkillLoadSchema)
	for _, b := range r.global {
		out = append(out, b.schema)
	}
	for name := range r.bound[sessionKey.String()] {
		if b, ok := r.skillTools[name]; ok {
			out = append(out, b.schema)
		}
	}
	return out
}

// mcpRequest/mcpResponse mirror the JSON-RPC 2.0 envelope the teacher's
// mcpgw.Gateway speaks, so in-process tool calls and calls proxied to an
// actual external MCP server look identical to the runtime.
type mcpRequest struct {
	Jsonrpc string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      any             `json:"id"`
}

type mcpToolCallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

type mcpResponse struct {
	Jsonrpc string       `json:"jsonrpc"`
	Result  any          `json:"result,omitempty"`
	Error   *mcpRPCError `json:"error,omitempty"`
	ID      any          `json:"id"`
}

type mcpRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Invoke performs a tool call the way the runtime's ReAct loop does: builds
// the JSON-RPC "tools/call" envelope, dispatches to the resolved handler
// (skipping the actual JSON encode/decode round trip since this is
// in-process, unlike the teacher's HTTP-facing gateway), and unwraps the
// result. Satisfies contracts.ToolInvoker.
func (r *Registry) Invoke(ctx context.Context, sessionKey models.SessionKey, name string, args map[string]any) (any, error) {
	r.mu.RLock()
	b, ok := r.global[name]
	if !ok {
		if name == SkillLoadSchema.Name {
			r.mu.RUnlock()
			return r.SkillLoad(ctx, sessionKey, args)
		}
		if r.bound[sessionKey.String()][name] {
			b, ok = r.skillTools[name]
		}
	}
	r.mu.RUnlock()

	if !ok {
		return nil, models.ToolError(fmt.Sprintf("tool %q is not bound in this session", name), nil)
	}

	req := mcpRequest{Jsonrpc: "2.0", Method: "tools/call", ID: 1}
	params, _ := json.Marshal(mcpToolCallParams{Name: name, Arguments: args})
	req.Params = params

	result, err := b.handler(ctx, sessionKey, args)
	if err != nil {
		return nil, err
	}
	return result, nil
}
