package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentswarm/swarmnode/pkg/models"
)

func TestRouter_UsesPrimaryOnSuccess(t *testing.T) {
	primary := ClientFunc(func(ctx context.Context, systemInstruction string, contents []models.Content, tools []models.ToolSchema, emit func(models.Part)) error {
		emit(models.TextPart("from primary"))
		return nil
	})
	backupCalled := false
	backup := ClientFunc(func(ctx context.Context, systemInstruction string, contents []models.Content, tools []models.ToolSchema, emit func(models.Part)) error {
		backupCalled = true
		return nil
	})

	r := NewRouter(primary, backup)
	var got string
	err := r.Stream(context.Background(), "", nil, nil, func(p models.Part) { got = p.Text })
	require.NoError(t, err)
	assert.Equal(t, "from primary", got)
	assert.False(t, backupCalled)
}

func TestRouter_FallsBackOnPrimaryError(t *testing.T) {
	primary := ClientFunc(func(ctx context.Context, systemInstruction string, contents []models.Content, tools []models.ToolSchema, emit func(models.Part)) error {
		return errors.New("primary down")
	})
	backup := ClientFunc(func(ctx context.Context, systemInstruction string, contents []models.Content, tools []models.ToolSchema, emit func(models.Part)) error {
		emit(models.TextPart("from backup"))
		return nil
	})

	r := NewRouter(primary, backup)
	var got string
	err := r.Stream(context.Background(), "", nil, nil, func(p models.Part) { got = p.Text })
	require.NoError(t, err)
	assert.Equal(t, "from backup", got)
}

func TestRouter_ErrorsWhenNoBackupConfigured(t *testing.T) {
	primary := ClientFunc(func(ctx context.Context, systemInstruction string, contents []models.Content, tools []models.ToolSchema, emit func(models.Part)) error {
		return errors.New("primary down")
	})

	r := NewRouter(primary, nil)
	err := r.Stream(context.Background(), "", nil, nil, func(models.Part) {})
	require.Error(t, err)
}

func TestRouter_ErrorsWhenBothFail(t *testing.T) {
	fail := ClientFunc(func(ctx context.Context, systemInstruction string, contents []models.Content, tools []models.ToolSchema, emit func(models.Part)) error {
		return errors.New("down")
	})

	r := NewRouter(fail, fail)
	err := r.Stream(context.Background(), "", nil, nil, func(models.Part) {})
	require.Error(t, err)
}
