// Package store defines the persistence interface a node needs — sessions,
// the shared swarm registry, and the skill manifest cache — plus in-memory,
// SQLite, and Postgres implementations. Split into small sub-interfaces the
// way the teacher's internal/store/store.go composes its big Store
// interface, so callers can depend on only the slice they need.
package store

import (
	"context"
	"time"

	"github.com/agentswarm/swarmnode/pkg/models"
)

// SessionStore persists conversations. GetSession must return a value the
// caller can freely append to, but ReplaceEvents is the only sanctioned way
// to overwrite a session's event list wholesale — compaction relies on it
// to force the new list into whatever the backing
// store considers authoritative, rather than trusting a caller-held slice
// to alias the stored one.
type SessionStore interface {
	CreateSession(ctx context.Context, key models.SessionKey) (*models.Session, error)
	GetSession(ctx context.Context, key models.SessionKey) (*models.Session, error)
	AppendEvent(ctx context.Context, key models.SessionKey, event models.Event) error
	ReplaceEvents(ctx context.Context, key models.SessionKey, events []models.Event) error
	SetTitle(ctx context.Context, key models.SessionKey, title string) error
	ListSessions(ctx context.Context, appName, userID string) ([]*models.Session, error)
	DeleteSession(ctx context.Context, key models.SessionKey) error
}

// RegistryStore persists the shared swarm membership table (spec §4.5
// step 1). Rows are last-write-wins by port: Upsert always overwrites.
type RegistryStore interface {
	Upsert(ctx context.Context, rec models.RegistryRecord) error
	Remove(ctx context.Context, port int) error
	List(ctx context.Context) ([]models.RegistryRecord, error)
	// PruneOlderThan removes rows whose LastSeen predates the cutoff,
	// the passive half of dead-node self-healing (spec §8).
	PruneOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

// SkillCacheStore persists the discovery manifest cache (spec §4.7).
// internal/skills writes to it on every Scan but does not read it back, so
// a node still scans the skill directory at startup; the filesystem is the
// source of truth.
type SkillCacheStore interface {
	PutManifest(ctx context.Context, id, name, description string) error
	ListManifests(ctx context.Context) ([]SkillManifestRow, error)
	ClearManifests(ctx context.Context) error
}

// SkillManifestRow is one cached discovery-phase entry.
type SkillManifestRow struct {
	ID          string
	Name        string
	Description string
}

// Store is the full persistence surface a node composes at startup.
type Store interface {
	SessionStore
	RegistryStore
	SkillCacheStore

	Ping(ctx context.Context) error
	Close() error
}

// ErrNotFound is re-exported so callers importing store don't also need
// pkg/models for the common not-found check.
type ErrNotFound = models.ErrNotFound
