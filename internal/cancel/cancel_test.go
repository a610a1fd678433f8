package cancel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentswarm/swarmnode/pkg/models"
)

func testKey() models.SessionKey {
	return models.SessionKey{AppName: "chat", UserID: "u1", SessionID: "s1"}
}

func TestMailboxes_GuardPassesWithNoSignal(t *testing.T) {
	m := NewMailboxes()
	require.NoError(t, m.Guard(context.Background(), testKey()))
}

func TestMailboxes_CancelThenGuardReturnsError(t *testing.T) {
	m := NewMailboxes()
	m.Cancel(testKey())

	err := m.Guard(context.Background(), testKey())
	require.Error(t, err)

	// signal consumed: a second guard call passes.
	require.NoError(t, m.Guard(context.Background(), testKey()))
}

func TestMailboxes_CancelIsSingleSlot(t *testing.T) {
	m := NewMailboxes()
	m.Cancel(testKey())
	m.Cancel(testKey()) // second cancel while one is pending is a no-op, not a panic or block

	require.Error(t, m.Guard(context.Background(), testKey()))
	require.NoError(t, m.Guard(context.Background(), testKey()))
}

func TestMailboxes_ContextCancelledFailsGuard(t *testing.T) {
	m := NewMailboxes()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := m.Guard(ctx, testKey())
	require.Error(t, err)
}

func TestMailboxes_ClearDiscardsPendingSignal(t *testing.T) {
	m := NewMailboxes()
	m.Cancel(testKey())
	m.Clear(testKey())

	require.NoError(t, m.Guard(context.Background(), testKey()))
}

func TestMailboxes_SessionsAreIndependent(t *testing.T) {
	m := NewMailboxes()
	other := models.SessionKey{AppName: "chat", UserID: "u2", SessionID: "s2"}

	m.Cancel(testKey())
	assert.NoError(t, m.Guard(context.Background(), other))
	assert.Error(t, m.Guard(context.Background(), testKey()))
}
