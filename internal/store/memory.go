package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/agentswarm/swarmnode/pkg/models"
)

// MemoryStore is an in-process Store, grounded on the teacher's
// internal/sessions.MemorySessionStore mutex+map pattern, extended to also
// cover the registry and skill-manifest cache. Used by tests; the node
// built by pkg/server always opens a SQLite or Postgres store.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session

	registryMu sync.RWMutex
	registry   map[int]models.RegistryRecord

	manifestMu sync.RWMutex
	manifests  []SkillManifestRow
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*models.Session),
		registry: make(map[int]models.RegistryRecord),
	}
}

func (m *MemoryStore) CreateSession(ctx context.Context, key models.SessionKey) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key.String()
	if existing, ok := m.sessions[k]; ok {
		return existing, nil
	}
	now := time.Now()
	s := &models.Session{
		Key:       key,
		CreatedAt: now,
		UpdatedAt: now,
		Events:    []models.Event{},
	}
	m.sessions[k] = s
	return s, nil
}

func (m *MemoryStore) GetSession(ctx context.Context, key models.SessionKey) (*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[key.String()]
	if !ok {
		return nil, &models.ErrNotFound{Entity: "session", Key: key.String()}
	}
	cp := *s
	cp.Events = append([]models.Event(nil), s.Events...)
	return &cp, nil
}

func (m *MemoryStore) AppendEvent(ctx context.Context, key models.SessionKey, event models.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[key.String()]
	if !ok {
		return &models.ErrNotFound{Entity: "session", Key: key.String()}
	}
	s.Events = append(s.Events, event)
	s.UpdatedAt = time.Now()
	return nil
}

// ReplaceEvents overwrites the stored slice directly (not a copy the
// caller happens to hold), the invariant compaction and cancellation
// depend on: once this returns, every subsequent GetSession sees exactly
// the events passed in.
func (m *MemoryStore) ReplaceEvents(ctx context.Context, key models.SessionKey, events []models.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[key.String()]
	if !ok {
		return &models.ErrNotFound{Entity: "session", Key: key.String()}
	}
	s.Events = append([]models.Event(nil), events...)
	s.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) SetTitle(ctx context.Context, key models.SessionKey, title string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[key.String()]
	if !ok {
		return &models.ErrNotFound{Entity: "session", Key: key.String()}
	}
	s.Title = title
	return nil
}

func (m *MemoryStore) ListSessions(ctx context.Context, appName, userID string) ([]*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.Session
	for _, s := range m.sessions {
		if s.Key.AppName == appName && s.Key.UserID == userID {
			cp := *s
			cp.Events = nil // list is a summary view, not the full log
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (m *MemoryStore) DeleteSession(ctx context.Context, key models.SessionKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key.String()
	if _, ok := m.sessions[k]; !ok {
		return &models.ErrNotFound{Entity: "session", Key: k}
	}
	delete(m.sessions, k)
	return nil
}

func (m *MemoryStore) Upsert(ctx context.Context, rec models.RegistryRecord) error {
	m.registryMu.Lock()
	defer m.registryMu.Unlock()
	m.registry[rec.Port] = rec
	return nil
}

func (m *MemoryStore) Remove(ctx context.Context, port int) error {
	m.registryMu.Lock()
	defer m.registryMu.Unlock()
	delete(m.registry, port)
	return nil
}

func (m *MemoryStore) List(ctx context.Context) ([]models.RegistryRecord, error) {
	m.registryMu.RLock()
	defer m.registryMu.RUnlock()

	out := make([]models.RegistryRecord, 0, len(m.registry))
	for _, r := range m.registry {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Port < out[j].Port })
	return out, nil
}

func (m *MemoryStore) PruneOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	m.registryMu.Lock()
	defer m.registryMu.Unlock()

	n := 0
	for port, rec := range m.registry {
		if rec.LastSeen.Before(cutoff) {
			delete(m.registry, port)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) PutManifest(ctx context.Context, id, name, description string) error {
	m.manifestMu.Lock()
	defer m.manifestMu.Unlock()

	for i, row := range m.manifests {
		if row.ID == id {
			m.manifests[i] = SkillManifestRow{ID: id, Name: name, Description: description}
			return nil
		}
	}
	m.manifests = append(m.manifests, SkillManifestRow{ID: id, Name: name, Description: description})
	return nil
}

func (m *MemoryStore) ListManifests(ctx context.Context) ([]SkillManifestRow, error) {
	m.manifestMu.RLock()
	defer m.manifestMu.RUnlock()
	return append([]SkillManifestRow(nil), m.manifests...), nil
}

func (m *MemoryStore) ClearManifests(ctx context.Context) error {
	m.manifestMu.Lock()
	defer m.manifestMu.Unlock()
	m.manifests = nil
	return nil
}

func (m *MemoryStore) Ping(ctx context.Context) error { return nil }
func (m *MemoryStore) Close() error                   { return nil }
