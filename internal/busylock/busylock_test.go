package busylock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentswarm/swarmnode/pkg/models"
)

func TestLock_TryAcquireAndRelease(t *testing.T) {
	l := New()
	key := models.SessionKey{AppName: "chat", UserID: "u1", SessionID: "s1"}

	assert.True(t, l.TryAcquire(key, "doing work"))
	assert.True(t, l.State().Locked)

	assert.False(t, l.TryAcquire(key, "doing more work"), "second acquire while locked must fail")

	l.Release()
	assert.False(t, l.State().Locked)
	assert.True(t, l.TryAcquire(key, "new work"))
}

func TestLock_TryAcquireUrgent_ImmediateWhenFree(t *testing.T) {
	l := New()
	key := models.SessionKey{AppName: "chat", UserID: "u1", SessionID: "s1"}

	err := l.TryAcquireUrgent(context.Background(), key, "urgent task", func(models.SessionKey) {
		t.Fatal("cancelHolder should not be called when the lock is already free")
	})
	require.NoError(t, err)
	assert.True(t, l.State().Locked)
}

func TestLock_TryAcquireUrgent_PreemptsHolder(t *testing.T) {
	l := New()
	holder := models.SessionKey{AppName: "chat", UserID: "u1", SessionID: "holder"}
	urgent := models.SessionKey{AppName: "chat", UserID: "u2", SessionID: "urgent"}

	require.True(t, l.TryAcquire(holder, "long task"))

	var cancelledKey models.SessionKey
	go func() {
		time.Sleep(50 * time.Millisecond)
		l.Release() // simulate the holder noticing cancellation and yielding
	}()

	err := l.TryAcquireUrgent(context.Background(), urgent, "urgent task", func(k models.SessionKey) {
		cancelledKey = k
	})
	require.NoError(t, err)
	assert.Equal(t, holder, cancelledKey)
	assert.Equal(t, urgent, l.State().SessionKey)
}

func TestLock_TryAcquireUrgent_TimesOutIfHolderNeverYields(t *testing.T) {
	l := New()
	holder := models.SessionKey{AppName: "chat", UserID: "u1", SessionID: "holder"}
	urgent := models.SessionKey{AppName: "chat", UserID: "u2", SessionID: "urgent"}

	require.True(t, l.TryAcquire(holder, "stuck task"))

	err := l.TryAcquireUrgent(context.Background(), urgent, "urgent task", func(models.SessionKey) {})
	require.Error(t, err)
}
