package compaction

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentswarm/swarmnode/internal/store"
	"github.com/agentswarm/swarmnode/pkg/models"
)

type fakeSummarizer struct{ text string }

func (f fakeSummarizer) Summarize(ctx context.Context, events []models.Event) (string, error) {
	return f.text, nil
}

func seedSession(t *testing.T, s store.SessionStore, key models.SessionKey, n int) {
	t.Helper()
	ctx := context.Background()
	_, err := s.CreateSession(ctx, key)
	require.NoError(t, err)
	for i := 0; i < n; i++ {
		require.NoError(t, s.AppendEvent(ctx, key, models.Event{
			Author:  models.AuthorUser,
			Content: models.Content{Role: "user", Parts: []models.Part{models.TextPart("message")}},
		}))
	}
}

func TestEngine_MaybeCompact_NoOpBelowThreshold(t *testing.T) {
	s := store.NewMemoryStore()
	key := models.SessionKey{AppName: "chat", UserID: "u1", SessionID: "s1"}
	seedSession(t, s, key, 5)

	e := NewEngine(s, fakeSummarizer{text: "summary"})
	require.NoError(t, e.MaybeCompact(context.Background(), key))

	got, _ := s.GetSession(context.Background(), key)
	assert.Len(t, got.Events, 5)
}

func TestEngine_MaybeCompact_StructuralTrigger(t *testing.T) {
	s := store.NewMemoryStore()
	key := models.SessionKey{AppName: "chat", UserID: "u1", SessionID: "s1"}
	seedSession(t, s, key, StructuralEventThreshold+5)

	e := NewEngine(s, fakeSummarizer{text: "the user discussed X and Y"})
	require.NoError(t, e.MaybeCompact(context.Background(), key))

	got, _ := s.GetSession(context.Background(), key)
	// placeholder + tail
	assert.Len(t, got.Events, 1+KeepTailEvents)
	assert.Contains(t, got.Events[0].Text(), "the user discussed X and Y")
}

func TestEngine_CompactReactive_TooSmallFails(t *testing.T) {
	s := store.NewMemoryStore()
	key := models.SessionKey{AppName: "chat", UserID: "u1", SessionID: "s1"}
	seedSession(t, s, key, 3)

	e := NewEngine(s, fakeSummarizer{text: "x"})
	err := e.CompactReactive(context.Background(), key)
	require.Error(t, err)
}

func TestEngine_PreservesDanglingFunctionCall(t *testing.T) {
	s := store.NewMemoryStore()
	key := models.SessionKey{AppName: "chat", UserID: "u1", SessionID: "s1"}
	ctx := context.Background()
	_, err := s.CreateSession(ctx, key)
	require.NoError(t, err)

	// Total events land exactly one above the structural threshold, with
	// the function_call placed as the very last event of what will become
	// the "head" half and its response as the very first event of the
	// "tail" half, so the cut isolates the response without its call
	// unless findMatchingCall pulls the call forward.
	const total = StructuralEventThreshold + 1
	const cut = total - KeepTailEvents
	callIndex := cut - 1

	for i := 0; i < total; i++ {
		switch i {
		case callIndex:
			require.NoError(t, s.AppendEvent(ctx, key, models.Event{
				Author:  models.AuthorModel,
				Content: models.Content{Parts: []models.Part{models.FunctionCallPart("call-1", "lookup", nil)}},
			}))
		case callIndex + 1:
			require.NoError(t, s.AppendEvent(ctx, key, models.Event{
				Author:  models.AuthorUser,
				Content: models.Content{Parts: []models.Part{models.FunctionResponsePart("call-1", "lookup", "result")}},
			}))
		default:
			require.NoError(t, s.AppendEvent(ctx, key, models.Event{Content: models.Content{Parts: []models.Part{models.TextPart("filler")}}}))
		}
	}

	e := NewEngine(s, fakeSummarizer{text: "summary"})
	require.NoError(t, e.MaybeCompact(ctx, key))

	got, err := s.GetSession(ctx, key)
	require.NoError(t, err)

	hasCall, hasResponse := false, false
	for _, ev := range got.Events {
		if ev.HasFunctionCall() {
			hasCall = true
		}
		for _, p := range ev.Content.Parts {
			if p.Kind == models.PartFunctionResponse {
				hasResponse = true
			}
		}
	}
	assert.True(t, hasCall, "compacted history should still contain the tool call")
	assert.True(t, hasResponse, "compacted history should still contain the tool response")
}
