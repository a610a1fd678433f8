package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	_ "modernc.org/sqlite"

	"github.com/agentswarm/swarmnode/pkg/models"
)

// sqliteSchema mirrors the raw multi-statement DDL idiom seen in
// northstar/store.go, adapted to this node's three tables. Each node owns
// exactly one file, named by its own port (spec §6.4), so there is no need
// for the per-instance dynamic-class trick the Python original uses to
// avoid ORM metadata collisions across many DB files in one process.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	app_name   TEXT NOT NULL,
	user_id    TEXT NOT NULL,
	session_id TEXT NOT NULL,
	title      TEXT NOT NULL DEFAULT '',
	metadata   TEXT NOT NULL DEFAULT '{}',
	events     TEXT NOT NULL DEFAULT '[]',
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	PRIMARY KEY (app_name, user_id, session_id)
);

CREATE TABLE IF NOT EXISTS registry (
	port      INTEGER PRIMARY KEY,
	url       TEXT NOT NULL,
	status    TEXT NOT NULL,
	last_seen TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS skill_manifests (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	description TEXT NOT NULL
);
`

// SQLiteStore is the default embedded store backend: pure-Go, cgo-free,
// safe to copy alongside the node binary across swarm peers.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // sqlite: single writer, avoid SQLITE_BUSY under our own load
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }
func (s *SQLiteStore) Close() error                   { return s.db.Close() }

func (s *SQLiteStore) CreateSession(ctx context.Context, key models.SessionKey) (*models.Session, error) {
	if existing, err := s.GetSession(ctx, key); err == nil {
		return existing, nil
	}
	now := time.Now()
	sess := &models.Session{Key: key, CreatedAt: now, UpdatedAt: now, Events: []models.Event{}}
	eventsJSON, _ := json.Marshal(sess.Events)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (app_name, user_id, session_id, title, metadata, events, created_at, updated_at)
		 VALUES (?, ?, ?, '', '{}', ?, ?, ?)`,
		key.AppName, key.UserID, key.SessionID, string(eventsJSON), now, now)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return sess, nil
}

func (s *SQLiteStore) GetSession(ctx context.Context, key models.SessionKey) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT title, metadata, events, created_at, updated_at FROM sessions
		 WHERE app_name = ? AND user_id = ? AND session_id = ?`,
		key.AppName, key.UserID, key.SessionID)

	var title, metadataJSON, eventsJSON string
	var createdAt, updatedAt time.Time
	if err := row.Scan(&title, &metadataJSON, &eventsJSON, &createdAt, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, &models.ErrNotFound{Entity: "session", Key: key.String()}
		}
		return nil, fmt.Errorf("get session: %w", err)
	}

	var events []models.Event
	if err := json.Unmarshal([]byte(eventsJSON), &events); err != nil {
		return nil, fmt.Errorf("decode events: %w", err)
	}
	var metadata map[string]any
	json.Unmarshal([]byte(metadataJSON), &metadata)

	return &models.Session{
		Key:       key,
		Title:     title,
		Metadata:  metadata,
		Events:    events,
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
	}, nil
}

func (s *SQLiteStore) AppendEvent(ctx context.Context, key models.SessionKey, event models.Event) error {
	sess, err := s.GetSession(ctx, key)
	if err != nil {
		return err
	}
	sess.Events = append(sess.Events, event)
	return s.ReplaceEvents(ctx, key, sess.Events)
}

// ReplaceEvents rewrites the events column wholesale. Because SQLite has no
// notion of an in-process shared slice, "in place" here means "the only
// place events are stored" — there is no separate defensive copy to keep
// in sync the way the Python original had to force-sync into
// InMemorySessionService's backing map.
func (s *SQLiteStore) ReplaceEvents(ctx context.Context, key models.SessionKey, events []models.Event) error {
	eventsJSON, err := json.Marshal(events)
	if err != nil {
		return fmt.Errorf("encode events: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET events = ?, updated_at = ? WHERE app_name = ? AND user_id = ? AND session_id = ?`,
		string(eventsJSON), time.Now(), key.AppName, key.UserID, key.SessionID)
	if err != nil {
		return fmt.Errorf("replace events: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return &models.ErrNotFound{Entity: "session", Key: key.String()}
	}
	return nil
}

func (s *SQLiteStore) SetTitle(ctx context.Context, key models.SessionKey, title string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET title = ? WHERE app_name = ? AND user_id = ? AND session_id = ?`,
		title, key.AppName, key.UserID, key.SessionID)
	if err != nil {
		return fmt.Errorf("set title: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return &models.ErrNotFound{Entity: "session", Key: key.String()}
	}
	return nil
}

// ListSessions omits the events column, the same lightweight-listing
// tradeoff the original's list_sessions makes to avoid eagerly loading
// every event row for a session summary view.
func (s *SQLiteStore) ListSessions(ctx context.Context, appName, userID string) ([]*models.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, title, created_at, updated_at FROM sessions
		 WHERE app_name = ? AND user_id = ? ORDER BY updated_at DESC`,
		appName, userID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []*models.Session
	for rows.Next() {
		var sessionID, title string
		var createdAt, updatedAt time.Time
		if err := rows.Scan(&sessionID, &title, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		out = append(out, &models.Session{
			Key:       models.SessionKey{AppName: appName, UserID: userID, SessionID: sessionID},
			Title:     title,
			CreatedAt: createdAt,
			UpdatedAt: updatedAt,
		})
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteSession(ctx context.Context, key models.SessionKey) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE app_name = ? AND user_id = ? AND session_id = ?`,
		key.AppName, key.UserID, key.SessionID)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return &models.ErrNotFound{Entity: "session", Key: key.String()}
	}
	return nil
}

func (s *SQLiteStore) Upsert(ctx context.Context, rec models.RegistryRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO registry (port, url, status, last_seen) VALUES (?, ?, ?, ?)
		 ON CONFLICT(port) DO UPDATE SET url = excluded.url, status = excluded.status, last_seen = excluded.last_seen`,
		rec.Port, rec.URL, rec.Status, rec.LastSeen)
	if err != nil {
		return fmt.Errorf("upsert registry: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Remove(ctx context.Context, port int) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM registry WHERE port = ?`, port)
	if err != nil {
		return fmt.Errorf("remove registry: %w", err)
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]models.RegistryRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT port, url, status, last_seen FROM registry ORDER BY port`)
	if err != nil {
		return nil, fmt.Errorf("list registry: %w", err)
	}
	defer rows.Close()

	var out []models.RegistryRecord
	for rows.Next() {
		var r models.RegistryRecord
		if err := rows.Scan(&r.Port, &r.URL, &r.Status, &r.LastSeen); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Port < out[j].Port })
	return out, rows.Err()
}

func (s *SQLiteStore) PruneOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM registry WHERE last_seen < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune registry: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLiteStore) PutManifest(ctx context.Context, id, name, description string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO skill_manifests (id, name, description) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name = excluded.name, description = excluded.description`,
		id, name, description)
	if err != nil {
		return fmt.Errorf("put manifest: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListManifests(ctx context.Context) ([]SkillManifestRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, description FROM skill_manifests ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list manifests: %w", err)
	}
	defer rows.Close()

	var out []SkillManifestRow
	for rows.Next() {
		var row SkillManifestRow
		if err := rows.Scan(&row.ID, &row.Name, &row.Description); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ClearManifests(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM skill_manifests`)
	return err
}
