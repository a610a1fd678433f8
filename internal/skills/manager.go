// Package skills implements the two-phase skill loader: a cheap discovery
// scan that only reads front-matter, and a full activation load that
// returns the whole SOP body plus its tool bindings. Grounded on
// original_source/skills/adk_agent/core/manager.py's SkillManager, adapted
// from Python's yaml.safe_load front-matter split into idiomatic Go using
// gopkg.in/yaml.v3 (already present in the teacher's dependency graph as
// an indirect transitive of grpc-gateway, promoted here to a direct,
// actually-imported dependency).
package skills

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/agentswarm/swarmnode/internal/store"
	"github.com/agentswarm/swarmnode/pkg/models"
)

// frontMatterDelim is the literal separator SKILL.md files use around the
// YAML metadata block, matching the original's split(content, '---').
const frontMatterDelim = "---"

// CompactorSkillID is the canonical skill id internal/tools.Registry
// special-cases (spec §4.7): activating it binds the Go-native compaction
// tools directly instead of reading a markdown SOP body from disk, so it
// is always present in the discovery catalog with no backing directory.
const CompactorSkillID = "compactor"

var compactorManifest = Manifest{
	ID:   CompactorSkillID,
	Name: "Context Compaction",
	Description: "Force this session's history to be summarized and trimmed now, or check compaction " +
		"pressure, without waiting for the automatic threshold.",
}

// Manifest is the Phase 1 discovery-time view of a skill: enough to decide
// whether to load it, nothing more (spec §4.7).
type Manifest struct {
	ID          string `yaml:"-"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// Skill is the Phase 2 activation-time view: the full SOP body plus the
// tool schemas it declares, ready to be bound into a session's tool
// registry.
type Skill struct {
	Manifest
	Body  string
	Tools []models.ToolSchema `yaml:"tools"`
}

// skillFrontMatter is the subset of front-matter fields this loader reads;
// a SKILL.md may carry more, unrecognized keys are ignored.
type skillFrontMatter struct {
	Name        string               `yaml:"name"`
	Description string               `yaml:"description"`
	Tools       []models.ToolSchema  `yaml:"tools"`
}

// Manager scans a directory of <id>/SKILL.md files and serves both
// discovery and activation reads. Scan writes each parsed manifest to the
// store's manifest cache, but the Manager never reads that cache back:
// discovery is served from the in-memory map Scan fills, and activation
// always reads the filesystem.
type Manager struct {
	dir   string
	cache store.SkillCacheStore

	mu        sync.RWMutex
	manifests map[string]Manifest
}

func NewManager(dir string, cache store.SkillCacheStore) *Manager {
	return &Manager{dir: dir, cache: cache, manifests: make(map[string]Manifest)}
}

// Scan walks the skills directory and populates the in-memory manifest
// cache, persisting it to the store as it goes. Call once at startup and
// whenever the operator wants to pick up newly added skills without a
// restart.
func (m *Manager) Scan(ctx context.Context) error {
	found := map[string]Manifest{CompactorSkillID: compactorManifest}
	if m.cache != nil {
		_ = m.cache.PutManifest(ctx, compactorManifest.ID, compactorManifest.Name, compactorManifest.Description)
	}

	entries, err := os.ReadDir(m.dir)
	if os.IsNotExist(err) {
		m.mu.Lock()
		m.manifests = found
		m.mu.Unlock()
		return nil // no skills directory configured is not an error
	}
	if err != nil {
		return fmt.Errorf("scan skills dir: %w", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		id := entry.Name()
		fm, _, err := m.readSkillFile(id)
		if err != nil {
			continue // a malformed skill is skipped, not fatal to the whole scan
		}
		manifest := Manifest{ID: id, Name: fm.Name, Description: fm.Description}
		found[id] = manifest
		if m.cache != nil {
			_ = m.cache.PutManifest(ctx, id, manifest.Name, manifest.Description)
		}
	}

	m.mu.Lock()
	m.manifests = found
	m.mu.Unlock()
	return nil
}

// Discover returns the Phase 1 manifest list: id, name, description only,
// cheap enough to send to the model on every turn (spec §4.7).
func (m *Manager) Discover() []Manifest {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Manifest, 0, len(m.manifests))
	for _, mf := range m.manifests {
		out = append(out, mf)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Load performs Phase 2 activation: reads the full SOP body and tool
// bindings for one skill. Returns models.SkillNotFound if the id is
// unknown or the file no longer exists on disk. CompactorSkillID has no
// backing file; internal/tools.Registry special-cases it before ever
// reaching here, but a direct call still resolves to its manifest with an
// empty body, since its tools are wired in Go, not markdown.
func (m *Manager) Load(ctx context.Context, id string) (*Skill, error) {
	m.mu.RLock()
	_, known := m.manifests[id]
	m.mu.RUnlock()
	if !known {
		return nil, models.SkillNotFound(id)
	}
	if id == CompactorSkillID {
		return &Skill{Manifest: compactorManifest}, nil
	}

	fm, body, err := m.readSkillFile(id)
	if err != nil {
		return nil, models.SkillNotFound(id)
	}

	return &Skill{
		Manifest: Manifest{ID: id, Name: fm.Name, Description: fm.Description},
		Body:     body,
		Tools:    fm.Tools,
	}, nil
}

// Exists checks skill presence on disk without loading its body, mirroring
// the original's skill_exists. CompactorSkillID always exists.
func (m *Manager) Exists(id string) bool {
	if id == CompactorSkillID {
		return true
	}
	_, err := os.Stat(filepath.Join(m.dir, id, "SKILL.md"))
	return err == nil
}

func (m *Manager) readSkillFile(id string) (skillFrontMatter, string, error) {
	path := filepath.Join(m.dir, id, "SKILL.md")
	raw, err := os.ReadFile(path)
	if err != nil {
		return skillFrontMatter{}, "", err
	}

	parts := strings.SplitN(string(raw), frontMatterDelim, 3)
	if len(parts) < 3 {
		return skillFrontMatter{}, "", fmt.Errorf("skill %q: malformed front matter", id)
	}

	var fm skillFrontMatter
	if err := yaml.Unmarshal([]byte(parts[1]), &fm); err != nil {
		return skillFrontMatter{}, "", fmt.Errorf("skill %q: invalid front matter: %w", id, err)
	}
	body := strings.TrimSpace(parts[2])
	return fm, body, nil
}
