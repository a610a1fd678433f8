package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentswarm/swarmnode/internal/store"
	"github.com/agentswarm/swarmnode/pkg/models"
)

func TestRegistry_RegisterExcludesSelfFromPeers(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	r1 := New(s, 8000, "http://localhost:8000")
	require.NoError(t, r1.heartbeatOnce(ctx))

	r2 := New(s, 8001, "http://localhost:8001")
	require.NoError(t, r2.heartbeatOnce(ctx))

	peers, err := r1.Peers(ctx)
	require.NoError(t, err)
	require.Len(t, peers, 1)
	assert.Equal(t, 8001, peers[0].Port)
}

func TestRegistry_Prune(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	r := New(s, 8000, "http://localhost:8000")
	require.NoError(t, r.heartbeatOnce(ctx))

	// simulate a stale peer
	require.NoError(t, s.Upsert(ctx, models.RegistryRecord{
		Port:     8001,
		URL:      "http://localhost:8001",
		Status:   models.RegistryStatusActive,
		LastSeen: time.Now().Add(-time.Hour),
	}))

	n, err := r.Prune(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	peers, err := r.Peers(ctx)
	require.NoError(t, err)
	assert.Empty(t, peers)
}
