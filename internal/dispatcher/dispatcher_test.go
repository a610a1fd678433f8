package dispatcher

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentswarm/swarmnode/internal/registry"
	"github.com/agentswarm/swarmnode/internal/store"
	"github.com/agentswarm/swarmnode/pkg/models"
)

func writeChunks(w http.ResponseWriter, chunks ...chatChunk) {
	enc := json.NewEncoder(w)
	for _, c := range chunks {
		_ = enc.Encode(chatChunkEnvelope{Chunk: c})
	}
}

func TestDispatcher_DispatchTask_MasksNonTextChunks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeChunks(w,
			chatChunk{Type: "tool_call", Text: "should be masked"},
			chatChunk{Type: "text", Text: "hello "},
			chatChunk{Type: "tool_result", Text: "also masked"},
			chatChunk{Type: "text", Text: "world"},
		)
	}))
	defer srv.Close()

	s := store.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, models.RegistryRecord{Port: 9001, URL: srv.URL, Status: models.RegistryStatusActive, LastSeen: time.Now()}))

	reg := registry.New(s, 8000, "http://localhost:8000")
	d := New(reg, nil)

	result, err := d.DispatchTask(ctx, "do something", 9001, false)
	require.NoError(t, err)
	assert.Contains(t, result, "✅ [SWARM TASK COMPLETED]")
	assert.Contains(t, result, "port=9001")
	assert.Contains(t, result, "hello world")
	assert.NotContains(t, result, "should be masked")
	assert.NotContains(t, result, "also masked")
}

func TestDispatcher_DispatchTask_EmitsSwarmEventsViaContextEmitter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeChunks(w, chatChunk{Type: "text", Text: "partial "}, chatChunk{Type: "text", Text: "result"})
	}))
	defer srv.Close()

	s := store.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, models.RegistryRecord{Port: 9006, URL: srv.URL, Status: models.RegistryStatusActive, LastSeen: time.Now()}))

	reg := registry.New(s, 8000, "http://localhost:8000")
	d := New(reg, nil)

	var subTypes []string
	ctx = models.WithEmitter(ctx, func(c models.Chunk) {
		if c.Type == "swarm_event" {
			subTypes = append(subTypes, c.SubType)
		}
	})

	result, err := d.DispatchTask(ctx, "do something", 9006, false)
	require.NoError(t, err)
	assert.Contains(t, result, "partial result")
	assert.Equal(t, []string{"init", "chunk", "chunk", "finish"}, subTypes)
}

func TestDispatcher_DispatchTask_PrunesUnreachablePeer(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, models.RegistryRecord{Port: 9002, URL: "http://127.0.0.1:1", Status: models.RegistryStatusActive, LastSeen: time.Now()}))

	reg := registry.New(s, 8000, "http://localhost:8000")
	d := New(reg, nil)
	d.client.Timeout = 500 * time.Millisecond

	_, err := d.DispatchTask(ctx, "do something", 9002, false)
	require.Error(t, err)

	peers, err := reg.Peers(ctx)
	require.NoError(t, err)
	assert.Empty(t, peers, "unreachable peer should be pruned")
}

func TestDispatcher_DispatchTask_NoPeersAvailable(t *testing.T) {
	s := store.NewMemoryStore()
	reg := registry.New(s, 8000, "http://localhost:8000")
	d := New(reg, nil)

	result, err := d.DispatchTask(context.Background(), "task", 0, false)
	require.NoError(t, err)
	assert.Equal(t, localExecutionInstruction, result)
}

func TestDispatcher_DispatchTask_PinnedTargetNotInRegistryErrors(t *testing.T) {
	s := store.NewMemoryStore()
	reg := registry.New(s, 8000, "http://localhost:8000")
	d := New(reg, nil)

	_, err := d.DispatchTask(context.Background(), "task", 9999, false)
	require.Error(t, err)
}

func TestDispatcher_DispatchTask_GuardrailBlocksPayload(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, models.RegistryRecord{Port: 9003, URL: "http://unused", Status: models.RegistryStatusActive, LastSeen: time.Now()}))
	reg := registry.New(s, 8000, "http://localhost:8000")

	blocked := blockingGuard{}
	d := New(reg, blocked)

	_, err := d.DispatchTask(ctx, "anything", 9003, false)
	require.Error(t, err)
}

type blockingGuard struct{}

func (blockingGuard) Evaluate(ctx context.Context, text string) (bool, string) { return false, "blocked" }

func TestDispatcher_DispatchBatch_JoinsWithStableDelimiter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeChunks(w, chatChunk{Type: "text", Text: "done"})
	}))
	defer srv.Close()

	s := store.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, models.RegistryRecord{Port: 9004, URL: srv.URL, Status: models.RegistryStatusActive, LastSeen: time.Now()}))
	require.NoError(t, s.Upsert(ctx, models.RegistryRecord{Port: 9005, URL: srv.URL, Status: models.RegistryStatusActive, LastSeen: time.Now()}))

	reg := registry.New(s, 8000, "http://localhost:8000")
	d := New(reg, nil)

	result, err := d.DispatchBatch(ctx, []string{"task one", "task two"})
	require.NoError(t, err)
	assert.Contains(t, result, "--- 任务 1 结果 ---\n✅ [SWARM TASK COMPLETED]")
	assert.Contains(t, result, "--- 任务 2 结果 ---\n✅ [SWARM TASK COMPLETED]")
	assert.Equal(t, 2, strings.Count(result, "done"))
}
