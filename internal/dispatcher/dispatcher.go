// Package dispatcher implements the Swarm Dispatcher tool (spec §4.5) and
// the Batch Dispatcher tool (spec §4.6): sending a sub-task to a peer node
// (or fanning one out to several), reading back its result, and folding
// dead peers out of the registry on connection failure. Grounded on
// original_source/skills/adk_agent/.claude/skills/remote_worker_connector/tools.py's
// dispatch_task and dispatch_batch_tasks, and on the teacher's
// internal/workflow/engine.go fan-out/fan-in idiom for the batch join.
package dispatcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/agentswarm/swarmnode/internal/registry"
	"github.com/agentswarm/swarmnode/pkg/contracts"
	"github.com/agentswarm/swarmnode/pkg/models"
)

// resultDelimiterFormat is the batch-result join format, preserved byte for byte
// from dispatch_batch_tasks's f"--- 任务 {index+1} 结果 ---\n{result}\n" so
// downstream tooling or tests that parse a batch report keep working
// regardless of which language wrote the dispatcher.
const resultDelimiterFormat = "--- 任务 %d 结果 ---\n%s\n"

// workerContractPrefix is injected ahead of the task payload sent to a
// worker, the "you are a worker, report only, don't dump full code"
// contract from remote_worker_connector's system-instruction wrapper
// (spec §4.5 step 4).
const workerContractPrefix = "You are a worker node in a swarm. Do the requested task and report your findings " +
	"concisely: summarize what you did and its outcome. Do not paste full file contents or code unless " +
	"explicitly asked to. Task:\n\n"

const maxRetries = 5

// localExecutionInstruction is what DispatchTask returns instead of an
// error when the swarm has no peers to delegate to (spec §4.5 step 2,
// spec.md:141/271): an empty candidate set never raises, it just tells the
// caller to do the work itself.
const localExecutionInstruction = "No peers are currently available in the swarm. Do this task yourself " +
	"instead of dispatching it."

// reportFormat wraps a worker's raw final text into the structured report
// the caller's model sees in its tool_result (spec §4.5 step 5), so it can
// cite which worker (port/session) produced which finding instead of
// presenting sub-task output as its own.
const reportFormat = "✅ [SWARM TASK COMPLETED]\nWorker: port=%d, session=%s\n%s\n\n" +
	"[Cite this worker (port=%d, session=%s) when relaying its findings.]"

func formatReport(port int, sessionID, finalReport string) string {
	return fmt.Sprintf(reportFormat, port, sessionID, finalReport, port, sessionID)
}

func previewOf(s string) string {
	const limit = 120
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit]) + "..."
}

// Dispatcher sends sub-tasks to peer nodes and folds their streamed
// responses into a single report, discarding intermediate tool-call noise
// (process masking, spec §4.5 step 6).
type Dispatcher struct {
	reg    *registry.Registry
	client *http.Client
	rand   *rand.Rand
	guard  contracts.Guardrail
}

func New(reg *registry.Registry, guard contracts.Guardrail) *Dispatcher {
	return &Dispatcher{
		reg:    reg,
		client: &http.Client{Timeout: 120 * time.Second},
		rand:   rand.New(rand.NewSource(time.Now().UnixNano())),
		guard:  guard,
	}
}

// chatRequest/chatResponse mirror the wire shape of the HTTP facade's own
// /api/chat endpoint, since a dispatch target is just another node's
// facade.
type chatRequest struct {
	AppName   string `json:"app_name"`
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// chatChunk mirrors the fields the HTTP facade's chunkPayload can put on
// the wire; a worker's response is literally another node's own
// /api/chat stream, wrapped in the {"chunk": {...}} envelope (spec §6.1).
type chatChunk struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ToolName string `json:"tool_name,omitempty"`
}

type chatChunkEnvelope struct {
	Chunk chatChunk `json:"chunk"`
}

// DispatchTask sends a single task to a peer, selected from the registry
// with self-exclusion and shuffle for load spreading (spec §4.5 steps 1-2)
// unless targetPort pins a specific peer. If no peers remain and no
// targetPort was pinned, it returns localExecutionInstruction with a nil
// error rather than raising (spec §4.5 step 2, spec.md:141/271); a pinned
// targetPort absent from the registry still raises, per spec §4.5 step 3.
// On success returns the peer's report wrapped as a structured
// "SWARM TASK COMPLETED" block (spec §4.5 step 5) citing the worker's port
// and sub-session id; the sub-task's own stream is forwarded inline as
// swarm_event chunks via the emitter carried on ctx (models.WithEmitter),
// for nested-progress UI rendering.
func (d *Dispatcher) DispatchTask(ctx context.Context, task string, targetPort int, urgent bool) (string, error) {
	if d.guard != nil {
		if allowed, reason := d.guard.Evaluate(ctx, task); !allowed {
			return "", models.ToolError("task payload rejected by guardrail: "+reason, nil)
		}
	}

	candidates, err := d.candidates(ctx, targetPort)
	if err != nil {
		return "", err
	}
	if len(candidates) == 0 {
		if targetPort != 0 {
			return "", models.ToolError(fmt.Sprintf("peer on port %d not found in registry", targetPort), nil)
		}
		return localExecutionInstruction, nil
	}

	var lastErr error
	for _, peer := range candidates {
		subSessionID := "sub-" + uuid.NewString()
		result, err := d.tryDispatch(ctx, peer, task, urgent, subSessionID)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if isUnreachable(err) {
			log.Warn().Int("port", peer.Port).Err(err).Msg("peer unreachable, pruning from registry")
			_ = d.reg.RemovePeer(ctx, peer.Port)
			continue
		}
		if isPeerBusyErr(err) && targetPort == 0 {
			continue // try the next candidate rather than giving up (load spreading)
		}
		return "", err
	}
	return "", lastErr
}

// candidates returns the shuffled peer list, or a single pinned target.
func (d *Dispatcher) candidates(ctx context.Context, targetPort int) ([]models.RegistryRecord, error) {
	peers, err := d.reg.Peers(ctx)
	if err != nil {
		return nil, models.RegistryUnavailable("failed to read swarm registry", err)
	}
	if targetPort != 0 {
		for _, p := range peers {
			if p.Port == targetPort {
				return []models.RegistryRecord{p}, nil
			}
		}
		return nil, nil
	}
	d.rand.Shuffle(len(peers), func(i, j int) { peers[i], peers[j] = peers[j], peers[i] })
	return peers, nil
}

func (d *Dispatcher) tryDispatch(ctx context.Context, peer models.RegistryRecord, task string, urgent bool, subSessionID string) (string, error) {
	emit := models.EmitterFromContext(ctx)
	preview := previewOf(task)
	trace.SpanFromContext(ctx).SetAttributes(attribute.Int("swarmnode.dispatch.worker_port", peer.Port))
	emit(models.Chunk{Type: "swarm_event", SubType: "init", WorkerPort: peer.Port, TaskPreview: preview})

	message := workerContractPrefix + task
	if urgent {
		message = models.UrgentPrefix + message
	}

	body, _ := json.Marshal(chatRequest{
		AppName:   "swarm",
		UserID:    "dispatcher",
		SessionID: subSessionID,
		Message:   message,
	})

	var respText string
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, peer.URL+"/api/chat", bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := d.client.Do(req)
		if err != nil {
			return &unreachableErr{cause: err}
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusServiceUnavailable {
			return &peerBusyErr{}
		}
		if resp.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(resp.Body)
			return backoff.Permanent(fmt.Errorf("peer returned status %d: %s", resp.StatusCode, string(b)))
		}

		respText, err = readTextOnly(resp.Body, emit, peer.Port, preview)
		return err
	}

	bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxRetries)
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		classified := classifyError(peer.Port, err)
		emit(models.Chunk{Type: "swarm_event", SubType: "fail", WorkerPort: peer.Port, TaskPreview: preview, ErrorMsg: classified.Error()})
		return "", classified
	}

	emit(models.Chunk{Type: "swarm_event", SubType: "finish", WorkerPort: peer.Port, TaskPreview: preview, Content: respText})
	return formatReport(peer.Port, subSessionID, respText), nil
}

// readTextOnly implements process masking (spec §4.5 step 6): the
// worker's response stream carries text, tool_call, and tool_result
// chunks the same as this node's own /api/chat does. Only "text" chunks
// are folded into the leader's aggregated final report; text, tool_call
// and tool_result chunks are also forwarded inline as a swarm_event
// "chunk" (tool chunks as a one-line label; other chunk types are dropped)
// (spec §4.1, §4.5 step 5) so a caller-side UI can render the sub-task's
// live progress nested under the parent turn.
func readTextOnly(r io.Reader, emit func(models.Chunk), port int, taskPreview string) (string, error) {
	dec := json.NewDecoder(r)
	var out bytes.Buffer
	for {
		var env chatChunkEnvelope
		if err := dec.Decode(&env); err != nil {
			if err == io.EOF {
				break
			}
			return "", fmt.Errorf("decode worker response: %w", err)
		}
		chunk := env.Chunk
		switch chunk.Type {
		case "text":
			out.WriteString(chunk.Text)
			emit(models.Chunk{Type: "swarm_event", SubType: "chunk", WorkerPort: port, TaskPreview: taskPreview, Content: chunk.Text})
		case "tool_call", "tool_result":
			label := chunk.Type
			if chunk.ToolName != "" {
				label = chunk.Type + ": " + chunk.ToolName
			}
			emit(models.Chunk{Type: "swarm_event", SubType: "chunk", WorkerPort: port, TaskPreview: taskPreview, Content: label})
		}
	}
	return out.String(), nil
}

type unreachableErr struct{ cause error }

func (e *unreachableErr) Error() string { return "peer unreachable: " + e.cause.Error() }
func (e *unreachableErr) Unwrap() error { return e.cause }

type peerBusyErr struct{}

func (e *peerBusyErr) Error() string { return "peer busy" }

func isUnreachable(err error) bool {
	_, ok := err.(*unreachableErr)
	if ok {
		return true
	}
	me, ok := err.(*models.Error)
	return ok && me.Kind == models.ErrKindPeerUnreachable
}

func isPeerBusyErr(err error) bool {
	_, ok := err.(*peerBusyErr)
	if ok {
		return true
	}
	me, ok := err.(*models.Error)
	return ok && me.Kind == models.ErrKindPeerBusy
}

func classifyError(port int, err error) error {
	switch err.(type) {
	case *unreachableErr:
		return models.PeerUnreachable(port, err)
	case *peerBusyErr:
		return models.PeerBusy(port, "", 0)
	default:
		return models.ToolError(fmt.Sprintf("dispatch to peer %d failed", port), err)
	}
}

// DispatchBatch runs a set of tasks concurrently, each through its own
// DispatchTask peer selection (two tasks may land on the same peer), and
// joins their reports with the stable delimiter format, grounded on
// dispatch_batch_tasks. A failed task contributes an "error: ..." entry
// instead of aborting the batch.
func (d *Dispatcher) DispatchBatch(ctx context.Context, tasks []string) (string, error) {
	results := make([]string, len(tasks))
	g, gctx := errgroup.WithContext(ctx)
	for i, task := range tasks {
		i, task := i, task
		g.Go(func() error {
			result, err := d.DispatchTask(gctx, task, 0, false)
			if err != nil {
				result = fmt.Sprintf("error: %v", err)
			}
			results[i] = result
			return nil // a single task's failure does not abort the whole batch
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}

	var out bytes.Buffer
	for i, result := range results {
		fmt.Fprintf(&out, resultDelimiterFormat, i+1, result)
	}
	return out.String(), nil
}
