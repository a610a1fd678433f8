package runtime

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentswarm/swarmnode/internal/busylock"
	"github.com/agentswarm/swarmnode/internal/cancel"
	"github.com/agentswarm/swarmnode/internal/skills"
	"github.com/agentswarm/swarmnode/internal/store"
	"github.com/agentswarm/swarmnode/pkg/models"
)

type noopCompactor struct{}

func (noopCompactor) MaybeCompact(ctx context.Context, key models.SessionKey) error    { return nil }
func (noopCompactor) CompactReactive(ctx context.Context, key models.SessionKey) error { return nil }

type fakeModel struct {
	responses          [][]models.Part
	call               int
	lastSystemInstruct string
}

func (f *fakeModel) Stream(ctx context.Context, systemInstruction string, contents []models.Content, tools []models.ToolSchema, emit func(models.Part)) error {
	f.lastSystemInstruct = systemInstruction
	if f.call >= len(f.responses) {
		f.call++
		return nil
	}
	for _, p := range f.responses[f.call] {
		emit(p)
	}
	f.call++
	return nil
}

type fakeSkillCatalog struct{ manifests []skills.Manifest }

func (f fakeSkillCatalog) Discover() []skills.Manifest { return f.manifests }

type fakeTools struct{}

func (fakeTools) Invoke(ctx context.Context, key models.SessionKey, name string, args map[string]any) (any, error) {
	return "tool result for " + name, nil
}

func newTestRuntime(t *testing.T, model *fakeModel) (*Runtime, *store.MemoryStore) {
	t.Helper()
	s := store.NewMemoryStore()
	rt := New(
		s,
		s.AppendEvent,
		s.SetTitle,
		model,
		fakeTools{},
		func(models.SessionKey) []models.ToolSchema { return nil },
		fakeSkillCatalog{manifests: []skills.Manifest{
			{ID: "compactor", Name: "Context Compaction", Description: "force a summarize+trim pass now"},
		}},
		noopCompactor{},
		busylock.New(),
		cancel.NewMailboxes(),
	)
	return rt, s
}

func testKey() models.SessionKey {
	return models.SessionKey{AppName: "chat", UserID: "u1", SessionID: "s1"}
}

func TestRuntime_SimpleTextResponse(t *testing.T) {
	model := &fakeModel{responses: [][]models.Part{{models.TextPart("hello there")}}}
	rt, s := newTestRuntime(t, model)
	ctx := context.Background()

	_, err := s.CreateSession(ctx, testKey())
	require.NoError(t, err)

	reply, err := rt.HandleMessage(ctx, testKey(), "hi", false, nil)
	require.NoError(t, err)
	assert.Equal(t, "hello there", reply)
}

func TestRuntime_DerivesTitleFromFirstMessage(t *testing.T) {
	model := &fakeModel{responses: [][]models.Part{{models.TextPart("ok")}}}
	rt, s := newTestRuntime(t, model)
	ctx := context.Background()
	_, _ = s.CreateSession(ctx, testKey())

	_, err := rt.HandleMessage(ctx, testKey(), "what's the weather like today", false, nil)
	require.NoError(t, err)

	sess, err := s.GetSession(ctx, testKey())
	require.NoError(t, err)
	assert.Equal(t, "what's the weather like today", sess.Title)
}

func TestRuntime_ExecutesToolCallThenReturnsFinalText(t *testing.T) {
	model := &fakeModel{responses: [][]models.Part{
		{models.FunctionCallPart("call-1", "lookup", map[string]any{"q": "x"})},
		{models.TextPart("final answer")},
	}}
	rt, s := newTestRuntime(t, model)
	ctx := context.Background()
	_, _ = s.CreateSession(ctx, testKey())

	var chunks []Chunk
	reply, err := rt.HandleMessage(ctx, testKey(), "look something up", false, func(c Chunk) { chunks = append(chunks, c) })
	require.NoError(t, err)
	assert.Equal(t, "final answer", reply)

	hasToolCall, hasToolResult := false, false
	for _, c := range chunks {
		if c.Type == "tool_call" {
			hasToolCall = true
		}
		if c.Type == "tool_result" {
			hasToolResult = true
		}
	}
	assert.True(t, hasToolCall)
	assert.True(t, hasToolResult)
}

func TestRuntime_RejectsWhenBusy(t *testing.T) {
	model := &fakeModel{}
	rt, s := newTestRuntime(t, model)
	ctx := context.Background()
	_, _ = s.CreateSession(ctx, testKey())

	require.True(t, rt.busy.(*busylock.Lock).TryAcquire(testKey(), "already running"))

	_, err := rt.HandleMessage(ctx, testKey(), "hi", false, nil)
	require.Error(t, err)
	var me *models.Error
	require.ErrorAs(t, err, &me)
	assert.Equal(t, models.ErrKindPeerBusy, me.Kind)
	require.NotNil(t, me.Busy)
	assert.Equal(t, "already running", me.Busy.CurrentTask)
}

func TestRuntime_ForwardsThoughtChunks(t *testing.T) {
	model := &fakeModel{responses: [][]models.Part{{models.ThoughtPart("thinking..."), models.TextPart("done")}}}
	rt, s := newTestRuntime(t, model)
	ctx := context.Background()
	_, _ = s.CreateSession(ctx, testKey())

	var chunks []Chunk
	_, err := rt.HandleMessage(ctx, testKey(), "hi", false, func(c Chunk) { chunks = append(chunks, c) })
	require.NoError(t, err)

	hasThought := false
	for _, c := range chunks {
		if c.Type == "thought" {
			hasThought = true
			assert.Equal(t, "thinking...", c.Text)
		}
	}
	assert.True(t, hasThought)
}

func TestRuntime_SendsSkillCatalogAsSystemInstruction(t *testing.T) {
	model := &fakeModel{responses: [][]models.Part{{models.TextPart("ok")}}}
	rt, s := newTestRuntime(t, model)
	ctx := context.Background()
	_, _ = s.CreateSession(ctx, testKey())

	_, err := rt.HandleMessage(ctx, testKey(), "hi", false, nil)
	require.NoError(t, err)

	assert.Contains(t, model.lastSystemInstruct, "compactor")
	assert.Contains(t, model.lastSystemInstruct, "force a summarize+trim pass now")
}

func TestRuntime_MaxTurnsReached(t *testing.T) {
	responses := make([][]models.Part, DefaultMaxTurns+2)
	for i := range responses {
		responses[i] = []models.Part{models.FunctionCallPart("call", "loop", nil)}
	}
	model := &fakeModel{responses: responses}
	rt, s := newTestRuntime(t, model)
	ctx := context.Background()
	_, _ = s.CreateSession(ctx, testKey())

	reply, err := rt.HandleMessage(ctx, testKey(), "loop forever", false, nil)
	require.NoError(t, err)
	assert.Contains(t, reply, "Max turns")
}
