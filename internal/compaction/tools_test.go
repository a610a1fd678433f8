package compaction

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentswarm/swarmnode/internal/store"
	"github.com/agentswarm/swarmnode/pkg/models"
)

func TestToolHandlerCompressionStatus_ReportsPressure(t *testing.T) {
	s := store.NewMemoryStore()
	key := models.SessionKey{AppName: "chat", UserID: "u1", SessionID: "s1"}
	seedSession(t, s, key, StructuralEventThreshold+5)

	e := NewEngine(s, fakeSummarizer{text: "summary"})
	result, err := e.ToolHandlerCompressionStatus(context.Background(), key, nil)
	require.NoError(t, err)

	m, ok := result.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, m["should_compact"])
	assert.Equal(t, StructuralEventThreshold+5, m["event_count"])
}

func TestToolHandlerSmartCompact_ForcesCompactionRegardlessOfSize(t *testing.T) {
	s := store.NewMemoryStore()
	key := models.SessionKey{AppName: "chat", UserID: "u1", SessionID: "s1"}
	seedSession(t, s, key, KeepTailEvents+5)

	e := NewEngine(s, fakeSummarizer{text: "manual summary"})
	result, err := e.ToolHandlerSmartCompact(context.Background(), key, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"compacted": true}, result)

	got, err := s.GetSession(context.Background(), key)
	require.NoError(t, err)
	assert.Contains(t, got.Events[0].Text(), "manual summary")
}

func TestToolHandlerSmartCompact_TooSmallReturnsError(t *testing.T) {
	s := store.NewMemoryStore()
	key := models.SessionKey{AppName: "chat", UserID: "u1", SessionID: "s1"}
	seedSession(t, s, key, 3)

	e := NewEngine(s, fakeSummarizer{text: "x"})
	_, err := e.ToolHandlerSmartCompact(context.Background(), key, nil)
	assert.Error(t, err)
}
