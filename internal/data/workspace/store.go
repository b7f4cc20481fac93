// Package workspace persists the edited graph in a local sqlite database.
package workspace

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	coreerrors "graphedit/internal/core/errors"
	"graphedit/internal/engine/graph"
	"graphedit/internal/shared/observability"

	_ "modernc.org/sqlite"
)

const (
	driverName         = "sqlite"
	maxAttempts        = 5
	defaultBusyTimeout = 2 * time.Second

	// MemoryPath opens a private in-memory database.
	MemoryPath = ":memory:"
)

type Options struct {
	BusyTimeout time.Duration
}

type Store struct {
	path string
	db   *sql.DB
	mu   sync.Mutex
}

func Open(path string) (*Store, error) {
	return OpenWithOptions(path, Options{})
}

func OpenWithOptions(path string, opts Options) (*Store, error) {
	if opts.BusyTimeout <= 0 {
		opts.BusyTimeout = defaultBusyTimeout
	}
	cleanPath := strings.TrimSpace(path)
	if cleanPath == "" {
		return nil, coreerrors.New(coreerrors.CodeValidationError, "workspace path must not be empty")
	}
	if info, err := os.Stat(cleanPath); err == nil && info.IsDir() {
		return nil, coreerrors.AddContext(
			coreerrors.New(coreerrors.CodeValidationError, "workspace path is a directory, expected file"),
			coreerrors.CtxPath, cleanPath,
		)
	}

	journal := "WAL"
	if cleanPath == MemoryPath {
		journal = "MEMORY"
	} else if dir := filepath.Dir(cleanPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create workspace directory %q: %w", dir, err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(%s)&_pragma=foreign_keys(ON)",
		cleanPath, opts.BusyTimeout.Milliseconds(), journal)
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite workspace %q: %w", cleanPath, err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite workspace %q: %w", cleanPath, err)
	}
	if err := EnsureSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize sqlite schema %q: %w", cleanPath, err)
	}

	return &Store{path: cleanPath, db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

// Ping checks that the database still answers.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// SaveEntity inserts or replaces an entity, including its position.
func (s *Store) SaveEntity(ctx context.Context, e graph.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	props, err := encodeProperties(e.Properties)
	if err != nil {
		return err
	}
	created, updated := stamps(e.CreatedAt, e.UpdatedAt)

	const query = `
INSERT INTO entities (id, name, type, properties, pos_x, pos_y, created_at_utc, updated_at_utc)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  name=excluded.name,
  type=excluded.type,
  properties=excluded.properties,
  pos_x=excluded.pos_x,
  pos_y=excluded.pos_y,
  created_at_utc=excluded.created_at_utc,
  updated_at_utc=excluded.updated_at_utc
`
	return s.withRetry("save entity", func() error {
		_, err := s.db.ExecContext(ctx, query, e.ID, e.Name, e.Type, props, e.Position.X, e.Position.Y, created, updated)
		return err
	})
}

// DeleteEntity removes an entity. Connections that still reference it make
// the delete fail with a foreign key error.
func (s *Store) DeleteEntity(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteRow(ctx, "delete entity", `DELETE FROM entities WHERE id = ?`, id)
}

func (s *Store) SaveConnection(ctx context.Context, c graph.Connection) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	props, err := encodeProperties(c.Properties)
	if err != nil {
		return err
	}
	created, updated := stamps(c.CreatedAt, c.UpdatedAt)

	const query = `
INSERT INTO connections (id, from_id, to_id, label, properties, created_at_utc, updated_at_utc)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  from_id=excluded.from_id,
  to_id=excluded.to_id,
  label=excluded.label,
  properties=excluded.properties,
  created_at_utc=excluded.created_at_utc,
  updated_at_utc=excluded.updated_at_utc
`
	return s.withRetry("save connection", func() error {
		_, err := s.db.ExecContext(ctx, query, c.ID, c.From, c.To, c.Label, props, created, updated)
		return err
	})
}

func (s *Store) DeleteConnection(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteRow(ctx, "delete connection", `DELETE FROM connections WHERE id = ?`, id)
}

// SavePositions updates the positions of several entities in one
// transaction. An unknown id rolls the whole update back.
func (s *Store) SavePositions(ctx context.Context, positions map[string]graph.Position) error {
	if len(positions) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withRetry("save positions", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		for id, pos := range positions {
			res, err := tx.ExecContext(ctx, `UPDATE entities SET pos_x = ?, pos_y = ? WHERE id = ?`, pos.X, pos.Y, id)
			if err != nil {
				_ = tx.Rollback()
				return err
			}
			if n, _ := res.RowsAffected(); n == 0 {
				_ = tx.Rollback()
				return notFound("entity", id)
			}
		}
		return tx.Commit()
	})
}

// Load reads the whole graph.
func (s *Store) Load(ctx context.Context) (graph.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var snap graph.Snapshot
	var err error
	if snap.Entities, err = s.loadEntities(ctx); err != nil {
		return graph.Snapshot{}, err
	}
	if snap.Connections, err = s.loadConnections(ctx); err != nil {
		return graph.Snapshot{}, err
	}
	return snap, nil
}

func (s *Store) loadEntities(ctx context.Context) ([]graph.Entity, error) {
	var rows *sql.Rows
	err := s.withRetry("load entities", func() error {
		var qErr error
		rows, qErr = s.db.QueryContext(ctx, `
SELECT id, name, type, properties, pos_x, pos_y, created_at_utc, updated_at_utc
FROM entities ORDER BY name ASC, id ASC`)
		return qErr
	})
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entities := make([]graph.Entity, 0)
	for rows.Next() {
		var (
			e                  graph.Entity
			props              string
			createdRaw, updRaw string
		)
		if err := rows.Scan(&e.ID, &e.Name, &e.Type, &props, &e.Position.X, &e.Position.Y, &createdRaw, &updRaw); err != nil {
			return nil, fmt.Errorf("scan entity row: %w", err)
		}
		if e.Properties, err = decodeProperties(props); err != nil {
			return nil, fmt.Errorf("decode properties of entity %q: %w", e.ID, err)
		}
		if e.CreatedAt, e.UpdatedAt, err = parseStamps(createdRaw, updRaw); err != nil {
			return nil, fmt.Errorf("entity %q: %w", e.ID, err)
		}
		entities = append(entities, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entity rows: %w", err)
	}
	return entities, nil
}

func (s *Store) loadConnections(ctx context.Context) ([]graph.Connection, error) {
	var rows *sql.Rows
	err := s.withRetry("load connections", func() error {
		var qErr error
		rows, qErr = s.db.QueryContext(ctx, `
SELECT id, from_id, to_id, label, properties, created_at_utc, updated_at_utc
FROM connections ORDER BY from_id ASC, to_id ASC, id ASC`)
		return qErr
	})
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	connections := make([]graph.Connection, 0)
	for rows.Next() {
		var (
			c                  graph.Connection
			props              string
			createdRaw, updRaw string
		)
		if err := rows.Scan(&c.ID, &c.From, &c.To, &c.Label, &props, &createdRaw, &updRaw); err != nil {
			return nil, fmt.Errorf("scan connection row: %w", err)
		}
		if c.Properties, err = decodeProperties(props); err != nil {
			return nil, fmt.Errorf("decode properties of connection %q: %w", c.ID, err)
		}
		if c.CreatedAt, c.UpdatedAt, err = parseStamps(createdRaw, updRaw); err != nil {
			return nil, fmt.Errorf("connection %q: %w", c.ID, err)
		}
		connections = append(connections, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate connection rows: %w", err)
	}
	return connections, nil
}

func (s *Store) deleteRow(ctx context.Context, op, query, id string) error {
	var affected int64
	err := s.withRetry(op, func() error {
		res, err := s.db.ExecContext(ctx, query, id)
		if err != nil {
			return err
		}
		affected, _ = res.RowsAffected()
		return nil
	})
	if err != nil {
		return err
	}
	if affected == 0 {
		return notFound(strings.TrimPrefix(op, "delete "), id)
	}
	return nil
}

func (s *Store) withRetry(op string, fn func() error) error {
	start := time.Now()
	defer func() {
		observability.StoreWriteDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}()

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !isLockError(err) || attempt == maxAttempts {
			break
		}
		observability.StoreRetryTotal.Inc()
		time.Sleep(time.Duration(attempt*25) * time.Millisecond)
	}
	var de *coreerrors.DomainError
	if errors.As(lastErr, &de) {
		return lastErr
	}
	return fmt.Errorf("%s: %w", op, lastErr)
}

func isLockError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "busy")
}

// IsCorruptError reports whether err looks like a damaged database file.
func IsCorruptError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "malformed") || strings.Contains(msg, "not a database") || errors.Is(err, os.ErrInvalid)
}

func notFound(what, id string) error {
	return coreerrors.AddContext(
		coreerrors.Newf(coreerrors.CodeNotFound, "%s not found", what),
		coreerrors.CtxEntity, id,
	)
}

func encodeProperties(props map[string]string) (string, error) {
	if len(props) == 0 {
		return "{}", nil
	}
	raw, err := json.Marshal(props)
	if err != nil {
		return "", fmt.Errorf("encode properties: %w", err)
	}
	return string(raw), nil
}

func decodeProperties(raw string) (map[string]string, error) {
	if raw == "" || raw == "{}" {
		return nil, nil
	}
	props := make(map[string]string)
	if err := json.Unmarshal([]byte(raw), &props); err != nil {
		return nil, err
	}
	return props, nil
}

func stamps(created, updated time.Time) (string, string) {
	now := time.Now().UTC()
	if created.IsZero() {
		created = now
	}
	if updated.IsZero() {
		updated = created
	}
	return created.UTC().Format(time.RFC3339Nano), updated.UTC().Format(time.RFC3339Nano)
}

func parseStamps(createdRaw, updatedRaw string) (time.Time, time.Time, error) {
	created, err := time.Parse(time.RFC3339Nano, createdRaw)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("parse created timestamp %q: %w", createdRaw, err)
	}
	updated, err := time.Parse(time.RFC3339Nano, updatedRaw)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("parse updated timestamp %q: %w", updatedRaw, err)
	}
	return created.UTC(), updated.UTC(), nil
}
