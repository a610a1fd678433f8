package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agentswarm/swarmnode/pkg/models"
)

// postgresSchema is the shared-backend equivalent of sqliteSchema, used
// when a deployment wants one registry (and optionally session store)
// visible across nodes running on separate hosts rather than one SQLite
// file per node.
const postgresSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	app_name   TEXT NOT NULL,
	user_id    TEXT NOT NULL,
	session_id TEXT NOT NULL,
	title      TEXT NOT NULL DEFAULT '',
	metadata   JSONB NOT NULL DEFAULT '{}',
	events     JSONB NOT NULL DEFAULT '[]',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (app_name, user_id, session_id)
);

CREATE TABLE IF NOT EXISTS registry (
	port      INTEGER PRIMARY KEY,
	url       TEXT NOT NULL,
	status    TEXT NOT NULL,
	last_seen TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS skill_manifests (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	description TEXT NOT NULL
);
`

// PostgresStore is the opt-in shared backend, selected when
// config.DatabaseConfig.URL is set. Grounded on the teacher's use of
// jackc/pgx/v5 as its sole SQL driver.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, dsn string, maxConns int) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if maxConns > 0 {
		poolCfg.MaxConns = int32(maxConns)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (p *PostgresStore) Ping(ctx context.Context) error { return p.pool.Ping(ctx) }
func (p *PostgresStore) Close() error                   { p.pool.Close(); return nil }

func (p *PostgresStore) CreateSession(ctx context.Context, key models.SessionKey) (*models.Session, error) {
	if existing, err := p.GetSession(ctx, key); err == nil {
		return existing, nil
	}
	now := time.Now()
	sess := &models.Session{Key: key, CreatedAt: now, UpdatedAt: now, Events: []models.Event{}}
	eventsJSON, _ := json.Marshal(sess.Events)
	_, err := p.pool.Exec(ctx,
		`INSERT INTO sessions (app_name, user_id, session_id, title, metadata, events, created_at, updated_at)
		 VALUES ($1, $2, $3, '', '{}', $4, $5, $6)`,
		key.AppName, key.UserID, key.SessionID, eventsJSON, now, now)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return sess, nil
}

func (p *PostgresStore) GetSession(ctx context.Context, key models.SessionKey) (*models.Session, error) {
	var title string
	var metadataJSON, eventsJSON []byte
	var createdAt, updatedAt time.Time

	err := p.pool.QueryRow(ctx,
		`SELECT title, metadata, events, created_at, updated_at FROM sessions
		 WHERE app_name = $1 AND user_id = $2 AND session_id = $3`,
		key.AppName, key.UserID, key.SessionID,
	).Scan(&title, &metadataJSON, &eventsJSON, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &models.ErrNotFound{Entity: "session", Key: key.String()}
		}
		return nil, fmt.Errorf("get session: %w", err)
	}

	var events []models.Event
	if err := json.Unmarshal(eventsJSON, &events); err != nil {
		return nil, fmt.Errorf("decode events: %w", err)
	}
	var metadata map[string]any
	json.Unmarshal(metadataJSON, &metadata)

	return &models.Session{
		Key:       key,
		Title:     title,
		Metadata:  metadata,
		Events:    events,
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
	}, nil
}

func (p *PostgresStore) AppendEvent(ctx context.Context, key models.SessionKey, event models.Event) error {
	sess, err := p.GetSession(ctx, key)
	if err != nil {
		return err
	}
	sess.Events = append(sess.Events, event)
	return p.ReplaceEvents(ctx, key, sess.Events)
}

func (p *PostgresStore) ReplaceEvents(ctx context.Context, key models.SessionKey, events []models.Event) error {
	eventsJSON, err := json.Marshal(events)
	if err != nil {
		return fmt.Errorf("encode events: %w", err)
	}
	tag, err := p.pool.Exec(ctx,
		`UPDATE sessions SET events = $1, updated_at = $2 WHERE app_name = $3 AND user_id = $4 AND session_id = $5`,
		eventsJSON, time.Now(), key.AppName, key.UserID, key.SessionID)
	if err != nil {
		return fmt.Errorf("replace events: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &models.ErrNotFound{Entity: "session", Key: key.String()}
	}
	return nil
}

func (p *PostgresStore) SetTitle(ctx context.Context, key models.SessionKey, title string) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE sessions SET title = $1 WHERE app_name = $2 AND user_id = $3 AND session_id = $4`,
		title, key.AppName, key.UserID, key.SessionID)
	if err != nil {
		return fmt.Errorf("set title: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &models.ErrNotFound{Entity: "session", Key: key.String()}
	}
	return nil
}

func (p *PostgresStore) ListSessions(ctx context.Context, appName, userID string) ([]*models.Session, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT session_id, title, created_at, updated_at FROM sessions
		 WHERE app_name = $1 AND user_id = $2 ORDER BY updated_at DESC`,
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

func (p *PostgresStore) DeleteSession(ctx context.Context, key models.SessionKey) error {
	tag, err := p.pool.Exec(ctx,
		`DELETE FROM sessions WHERE app_name = $1 AND user_id = $2 AND session_id = $3`,
		key.AppName, key.UserID, key.SessionID)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &models.ErrNotFound{Entity: "session", Key: key.String()}
	}
	return nil
}

func (p *PostgresStore) Upsert(ctx context.Context, rec models.RegistryRecord) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO registry (port, url, status, last_seen) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (port) DO UPDATE SET url = excluded.url, status = excluded.status, last_seen = excluded.last_seen`,
		rec.Port, rec.URL, rec.Status, rec.LastSeen)
	if err != nil {
		return fmt.Errorf("upsert registry: %w", err)
	}
	return nil
}

func (p *PostgresStore) Remove(ctx context.Context, port int) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM registry WHERE port = $1`, port)
	if err != nil {
		return fmt.Errorf("remove registry: %w", err)
	}
	return nil
}

func (p *PostgresStore) List(ctx context.Context) ([]models.RegistryRecord, error) {
	rows, err := p.pool.Query(ctx, `SELECT port, url, status, last_seen FROM registry ORDER BY port`)
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
	return out, rows.Err()
}

func (p *PostgresStore) PruneOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM registry WHERE last_seen < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune registry: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (p *PostgresStore) PutManifest(ctx context.Context, id, name, description string) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO skill_manifests (id, name, description) VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET name = excluded.name, description = excluded.description`,
		id, name, description)
	if err != nil {
		return fmt.Errorf("put manifest: %w", err)
	}
	return nil
}

func (p *PostgresStore) ListManifests(ctx context.Context) ([]SkillManifestRow, error) {
	rows, err := p.pool.Query(ctx, `SELECT id, name, description FROM skill_manifests ORDER BY id`)
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

func (p *PostgresStore) ClearManifests(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM skill_manifests`)
	return err
}
