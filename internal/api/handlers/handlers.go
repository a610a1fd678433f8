// Package handlers implements the HTTP Facade's route handlers (spec
// §6.1). One handler function per route, JSON in/out, the same shape as
// the teacher's internal/api/handlers package (though the teacher's own
// handler bodies were not carried over — this domain's endpoint surface is
// small enough, and different enough in shape, to write fresh against
// spec §6.1's table rather than mirror per-resource CRUD).
package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/agentswarm/swarmnode/internal/cancel"
	"github.com/agentswarm/swarmnode/internal/registry"
	"github.com/agentswarm/swarmnode/internal/runtime"
	"github.com/agentswarm/swarmnode/internal/store"
	"github.com/agentswarm/swarmnode/pkg/models"
)

// Handlers bundles the dependencies every route needs.
type Handlers struct {
	Runtime   *runtime.Runtime
	Sessions  store.SessionStore
	Canceller *cancel.Mailboxes
	Registry  *registry.Registry
	version   string

	// httpClient calls a peer's own HTTP facade, the way
	// internal/dispatcher.Dispatcher does for /api/chat, but here for
	// StopWorker's peer /api/cancel relay.
	httpClient *http.Client
}

func New(rt *runtime.Runtime, sessions store.SessionStore, canceller *cancel.Mailboxes, reg *registry.Registry, version string) *Handlers {
	return &Handlers{
		Runtime:    rt,
		Sessions:   sessions,
		Canceller:  canceller,
		Registry:   reg,
		version:    version,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

type chatRequest struct {
	AppName   string `json:"app_name"`
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// Chat handles POST /api/chat (spec §6.1): runs one ReAct turn and streams
// newline-delimited JSON chunks back to the caller as they're produced.
func (h *Handlers) Chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.AppName == "" || req.UserID == "" || req.SessionID == "" || req.Message == "" {
		writeError(w, http.StatusBadRequest, errMissingField("app_name, user_id, session_id, message are all required"))
		return
	}
	key := models.SessionKey{AppName: req.AppName, UserID: req.UserID, SessionID: req.SessionID}
	trace.SpanFromContext(r.Context()).SetAttributes(
		attribute.String("swarmnode.session.app_name", key.AppName),
		attribute.String("swarmnode.session.user_id", key.UserID),
		attribute.String("swarmnode.session.id", key.SessionID),
	)

	if _, err := h.Sessions.CreateSession(r.Context(), key); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	urgent := false
	message := req.Message
	if len(message) >= len(models.UrgentPrefix) && message[:len(models.UrgentPrefix)] == models.UrgentPrefix {
		urgent = true
		message = message[len(models.UrgentPrefix):]
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	flusher, _ := w.(http.Flusher)

	writeChunk := func(payload map[string]any) {
		_ = json.NewEncoder(w).Encode(map[string]any{"chunk": payload})
		if flusher != nil {
			flusher.Flush()
		}
	}
	emit := func(c runtime.Chunk) {
		writeChunk(chunkPayload(c))
	}

	reply, err := h.Runtime.HandleMessage(r.Context(), key, message, urgent, emit)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusServiceUnavailable {
			w.WriteHeader(status)
			_ = json.NewEncoder(w).Encode(busyPayload(err))
			return
		}
		log.Error().Err(err).Str("session", key.String()).Msg("chat turn failed")
		writeChunk(map[string]any{"type": "error", "text": err.Error()})
		return
	}
	writeChunk(map[string]any{"type": "final", "text": reply})
}

// chunkPayload renders a runtime.Chunk into the wire shape spec §6.1
// defines: tool_call carries tool_name/args, tool_result carries
// tool_name/content, swarm_event carries the nested-progress fields from a
// dispatched sub-task, everything else carries text.
func chunkPayload(c runtime.Chunk) map[string]any {
	payload := map[string]any{"type": c.Type}
	switch c.Type {
	case "tool_call":
		payload["tool_name"] = c.Part.ToolName
		payload["args"] = c.Part.Args
	case "tool_result":
		payload["tool_name"] = c.Part.ToolName
		payload["content"] = c.Part.Result
	case "swarm_event":
		payload["sub_type"] = c.SubType
		payload["worker_port"] = c.WorkerPort
		if c.TaskPreview != "" {
			payload["task_preview"] = c.TaskPreview
		}
		if c.Content != "" {
			payload["content"] = c.Content
		}
		if c.ErrorMsg != "" {
			payload["error"] = c.ErrorMsg
		}
	default: // "text", "thought"
		payload["text"] = c.Text
	}
	return payload
}

type cancelRequest struct {
	AppName   string `json:"app_name"`
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
}

// Cancel handles POST /api/cancel: posts a cancellation signal for a
// session's in-flight run (spec §4.4, §6.1).
func (h *Handlers) Cancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	key := models.SessionKey{AppName: req.AppName, UserID: req.UserID, SessionID: req.SessionID}
	h.Canceller.Cancel(key)
	writeJSON(w, http.StatusOK, map[string]any{"cancelled": true})
}

type stopWorkerRequest struct {
	WorkerPort      int    `json:"worker_port"`
	WorkerSessionID string `json:"worker_session_id"`
	AppName         string `json:"app_name"`
	UserID          string `json:"user_id"`
}

// StopWorker handles POST /api/stop_worker (spec §6.1): a leader-initiated
// kill of a specific peer's in-flight session. It looks the peer up in the
// registry and relays a cancellation to that peer's own /api/cancel
// endpoint (the same peer-calls-peer shape internal/dispatcher.Dispatcher
// uses for /api/chat), rather than acting on any local state — the target
// session doesn't live on this node.
func (h *Handlers) StopWorker(w http.ResponseWriter, r *http.Request) {
	var req stopWorkerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.WorkerPort == 0 || req.WorkerSessionID == "" || req.AppName == "" || req.UserID == "" {
		writeError(w, http.StatusBadRequest, errMissingField("worker_port, worker_session_id, app_name, user_id are all required"))
		return
	}

	peers, err := h.Registry.Peers(r.Context())
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"status": "error", "error": err.Error()})
		return
	}
	var peerURL string
	for _, p := range peers {
		if p.Port == req.WorkerPort {
			peerURL = p.URL
			break
		}
	}
	if peerURL == "" {
		writeJSON(w, http.StatusOK, map[string]any{"status": "error", "error": fmt.Sprintf("peer on port %d not found in registry", req.WorkerPort)})
		return
	}

	body, _ := json.Marshal(cancelRequest{AppName: req.AppName, UserID: req.UserID, SessionID: req.WorkerSessionID})
	httpReq, err := http.NewRequestWithContext(r.Context(), http.MethodPost, peerURL+"/api/cancel", bytes.NewReader(body))
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"status": "error", "error": err.Error()})
		return
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := h.httpClient.Do(httpReq)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"status": "error", "error": err.Error()})
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		writeJSON(w, http.StatusOK, map[string]any{"status": "error", "error": fmt.Sprintf("peer returned status %d", resp.StatusCode)})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

type createSessionRequest struct {
	AppName   string `json:"app_name"`
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
}

// CreateSession handles POST /api/sessions.
func (h *Handlers) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	key := models.SessionKey{AppName: req.AppName, UserID: req.UserID, SessionID: req.SessionID}
	sess, err := h.Sessions.CreateSession(r.Context(), key)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

// ListSessions handles GET /api/sessions?app_name=&user_id=.
func (h *Handlers) ListSessions(w http.ResponseWriter, r *http.Request) {
	appName := r.URL.Query().Get("app_name")
	userID := r.URL.Query().Get("user_id")
	if appName == "" || userID == "" {
		writeError(w, http.StatusBadRequest, errMissingField("app_name and user_id query params are required"))
		return
	}
	sessions, err := h.Sessions.ListSessions(r.Context(), appName, userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

// SessionHistory handles GET /api/sessions/{id}/history?app_name=&user_id=.
func (h *Handlers) SessionHistory(w http.ResponseWriter, r *http.Request) {
	key, ok := h.keyFromRequest(w, r)
	if !ok {
		return
	}
	sess, err := h.Sessions.GetSession(r.Context(), key)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// DeleteSession handles DELETE /api/sessions/{id}?app_name=&user_id=.
func (h *Handlers) DeleteSession(w http.ResponseWriter, r *http.Request) {
	key, ok := h.keyFromRequest(w, r)
	if !ok {
		return
	}
	if err := h.Sessions.DeleteSession(r.Context(), key); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) keyFromRequest(w http.ResponseWriter, r *http.Request) (models.SessionKey, bool) {
	sessionID := chi.URLParam(r, "id")
	appName := r.URL.Query().Get("app_name")
	userID := r.URL.Query().Get("user_id")
	if appName == "" || userID == "" {
		writeError(w, http.StatusBadRequest, errMissingField("app_name and user_id query params are required"))
		return models.SessionKey{}, false
	}
	return models.SessionKey{AppName: appName, UserID: userID, SessionID: sessionID}, true
}

// Health handles GET /healthz.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	if err := pingIfPossible(r.Context(), h.Sessions); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unhealthy", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// Version handles GET /version.
func (h *Handlers) Version(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"version": h.version})
}

func pingIfPossible(ctx context.Context, s store.SessionStore) error {
	type pinger interface{ Ping(context.Context) error }
	if p, ok := s.(pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

type errMissingField string

func (e errMissingField) Error() string { return string(e) }

// statusFor maps the runtime's typed errors to HTTP status codes, the
// single type switch the HTTP facade needs (spec §7).
func statusFor(err error) int {
	if _, ok := err.(*models.ErrNotFound); ok {
		return http.StatusNotFound
	}
	me, ok := err.(*models.Error)
	if !ok {
		return http.StatusInternalServerError
	}
	switch me.Kind {
	case models.ErrKindPeerBusy:
		return http.StatusServiceUnavailable
	case models.ErrKindCancelled:
		return http.StatusConflict
	case models.ErrKindSkillNotFound, models.ErrKindContextExceeded:
		return http.StatusUnprocessableEntity
	case models.ErrKindRegistryUnavailable, models.ErrKindPeerUnreachable:
		return http.StatusBadGateway
	case models.ErrKindTool, models.ErrKindCompactionFailed:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// busyPayload renders the 503 busy-rejection body (spec §6.1): the task
// currently occupying the node, how long it's been running, and a
// suggestion for the caller (retry later, or reissue as [URGENT_INTERRUPT]).
func busyPayload(err error) map[string]any {
	me, ok := err.(*models.Error)
	if !ok || me.Busy == nil {
		return map[string]any{"status": "busy", "message": err.Error()}
	}
	return map[string]any{
		"status":              "busy",
		"current_task":        me.Busy.CurrentTask,
		"running_time_seconds": me.Busy.RunningTimeSeconds,
		"suggestion":          "retry later, or resend with the [URGENT_INTERRUPT] prefix to preempt",
	}
}
