// Package postgres is a PostgreSQL-backed [store.Store].
//
// Each session is one row in form_sessions: the full session as a JSONB
// document, plus the status, version and updated_at columns lifted out so
// that optimistic writes and the idle sweep run as plain indexed SQL.
//
// Usage:
//
//	st, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer st.Close()
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/DanielWill-1/audentra/internal/store"
	"github.com/DanielWill-1/audentra/pkg/form"
)

var _ store.Store = (*Store)(nil)

// Store implements [store.Store] over a [pgxpool.Pool].
// All methods are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to dsn, verifies the connection and runs [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Close releases all connections held by the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Create implements [store.Store].
func (s *Store) Create(ctx context.Context, sess form.Session) error {
	doc, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("postgres store: encode session: %w", err)
	}

	const q = `
		INSERT INTO form_sessions (id, document, status, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING`

	tag, err := s.pool.Exec(ctx, q, sess.ID, doc, string(sess.Status), sess.Version, sess.CreatedAt, sess.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres store: create: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrSessionExists
	}
	return nil
}

// Get implements [store.Store].
func (s *Store) Get(ctx context.Context, id string) (form.Session, error) {
	const q = `SELECT document FROM form_sessions WHERE id = $1`

	var doc []byte
	if err := s.pool.QueryRow(ctx, q, id).Scan(&doc); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return form.Session{}, form.ErrSessionNotFound
		}
		return form.Session{}, fmt.Errorf("postgres store: get: %w", err)
	}

	var sess form.Session
	if err := json.Unmarshal(doc, &sess); err != nil {
		return form.Session{}, fmt.Errorf("postgres store: decode session %q: %w", id, err)
	}
	return sess, nil
}

// Put implements [store.Store]. The version check and the write happen in a
// single conditional UPDATE.
func (s *Store) Put(ctx context.Context, sess form.Session) error {
	doc, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("postgres store: encode session: %w", err)
	}

	const q = `
		UPDATE form_sessions
		SET    document = $2, status = $3, version = $4, updated_at = $5
		WHERE  id = $1 AND version = $4 - 1`

	tag, err := s.pool.Exec(ctx, q, sess.ID, doc, string(sess.Status), sess.Version, sess.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres store: put: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM form_sessions WHERE id = $1)`, sess.ID).Scan(&exists); err != nil {
		return fmt.Errorf("postgres store: put: %w", err)
	}
	if !exists {
		return form.ErrSessionNotFound
	}
	return form.ErrVersionConflict
}

// Delete implements [store.Store].
func (s *Store) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM form_sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres store: delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return form.ErrSessionNotFound
	}
	return nil
}

// IdleSince implements [store.Store].
func (s *Store) IdleSince(ctx context.Context, cutoff time.Time) ([]string, error) {
	const q = `
		SELECT id
		FROM   form_sessions
		WHERE  status IN ('collecting', 'clarifying')
		  AND  updated_at < $1
		ORDER  BY id`

	rows, err := s.pool.Query(ctx, q, cutoff)
	if err != nil {
		return nil, fmt.Errorf("postgres store: idle since: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan rows: %w", err)
	}
	return ids, nil
}

// Ping implements [store.Store].
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres store: ping: %w", err)
	}
	return nil
}
