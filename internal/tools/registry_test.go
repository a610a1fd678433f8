package tools

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentswarm/swarmnode/internal/skills"
	"github.com/agentswarm/swarmnode/internal/store"
	"github.com/agentswarm/swarmnode/pkg/models"
)

func newTestRegistry(t *testing.T) (*Registry, models.SessionKey) {
	t.Helper()
	dir := t.TempDir()
	skillDir := filepath.Join(dir, "echo")
	require.NoError(t, os.MkdirAll(skillDir, 0o755))
	body := "---\nname: Echo\ndescription: echoes input\ntools:\n  - name: echo\n    description: echoes\n    parameters: {}\n---\nEcho the input back.\n"
	require.NoError(t, os.WriteFile(filepath.Join(skillDir, "SKILL.md"), []byte(body), 0o644))

	mgr := skills.NewManager(dir, store.NewMemoryStore())
	require.NoError(t, mgr.Scan(context.Background()))

	reg := NewRegistry(mgr)
	key := models.SessionKey{AppName: "chat", UserID: "u1", SessionID: "s1"}
	return reg, key
}

func TestRegistry_SkillLoadBindsTools(t *testing.T) {
	reg, key := newTestRegistry(t)
	ctx := context.Background()

	before := reg.Bound(key)
	assert.Len(t, before, 1) // just skill_load

	result, err := reg.Invoke(ctx, key, "skill_load", map[string]any{"skill_id": "echo"})
	require.NoError(t, err)
	assert.Contains(t, result.(map[string]any)["sop"], "Echo the input back")

	after := reg.Bound(key)
	assert.Len(t, after, 2) // skill_load + echo
}

func TestRegistry_InvokeUnboundTool(t *testing.T) {
	reg, key := newTestRegistry(t)
	_, err := reg.Invoke(context.Background(), key, "echo", map[string]any{})
	require.Error(t, err)
}

func TestRegistry_InvokeUnresolvedSkillToolReportsClearly(t *testing.T) {
	reg, key := newTestRegistry(t)
	ctx := context.Background()

	_, err := reg.Invoke(ctx, key, "skill_load", map[string]any{"skill_id": "echo"})
	require.NoError(t, err)

	_, err = reg.Invoke(ctx, key, "echo", map[string]any{"text": "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no registered implementation")
}

func TestRegistry_SkillLoadCompactorBindsPreregisteredTools(t *testing.T) {
	reg, key := newTestRegistry(t)
	reg.RegisterSkillTool(skills.CompactorSkillID, models.ToolSchema{Name: "smart_compact"}, func(ctx context.Context, k models.SessionKey, args map[string]any) (any, error) {
		return map[string]any{"compacted": true}, nil
	})
	reg.RegisterSkillTool(skills.CompactorSkillID, models.ToolSchema{Name: "get_compression_status"}, func(ctx context.Context, k models.SessionKey, args map[string]any) (any, error) {
		return map[string]any{"should_compact": false}, nil
	})

	before := reg.Bound(key)
	assert.Len(t, before, 1) // just skill_load, the compactor tools aren't bound until activated

	_, err := reg.Invoke(context.Background(), key, "skill_load", map[string]any{"skill_id": skills.CompactorSkillID})
	require.NoError(t, err)

	after := reg.Bound(key)
	assert.Len(t, after, 3) // skill_load + smart_compact + get_compression_status

	result, err := reg.Invoke(context.Background(), key, "smart_compact", nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"compacted": true}, result)
}

func TestRegistry_RegisterBuiltinAvailableEverywhere(t *testing.T) {
	reg, key := newTestRegistry(t)
	reg.RegisterBuiltin(models.ToolSchema{Name: "ping"}, func(ctx context.Context, k models.SessionKey, args map[string]any) (any, error) {
		return "pong", nil
	})

	result, err := reg.Invoke(context.Background(), key, "ping", nil)
	require.NoError(t, err)
	assert.Equal(t, "pong", result)

	schemas := reg.Bound(key)
	names := make([]string, len(schemas))
	for i, s := range schemas {
		names[i] = s.Name
	}
	assert.Contains(t, names, "ping")
}
