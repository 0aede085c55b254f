// Package pgstore archives transcript entries in PostgreSQL.
//
// The archive is a single transcript_entries table keyed by entry id, with a
// GIN full-text index over text and translation. Writes are idempotent, so a
// batch retried after a partial failure never duplicates rows.
package pgstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/parley/internal/transcript"
)

var _ transcript.Store = (*Store)(nil)

const ddl = `
CREATE TABLE IF NOT EXISTS transcript_entries (
    id           TEXT         PRIMARY KEY,
    session_id   TEXT         NOT NULL DEFAULT '',
    role         TEXT         NOT NULL,
    text         TEXT         NOT NULL,
    translation  TEXT         NOT NULL DEFAULT '',
    is_dictation BOOLEAN      NOT NULL DEFAULT FALSE,
    created_at   TIMESTAMPTZ  NOT NULL DEFAULT now(),
    seq          BIGSERIAL
);

CREATE INDEX IF NOT EXISTS idx_transcript_entries_session
    ON transcript_entries (session_id, seq);

CREATE INDEX IF NOT EXISTS idx_transcript_entries_fts
    ON transcript_entries USING GIN (to_tsvector('simple', text || ' ' || translation));
`

// Store is a PostgreSQL-backed transcript archive. Safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to dsn, verifies the connection and ensures the schema
// exists.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("pgstore: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pgstore: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgstore: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgstore: migrate: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Migrate creates the archive table and indexes if they do not exist.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create transcript_entries: %w", err)
	}
	return nil
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// Close releases all pooled connections.
func (s *Store) Close() { s.pool.Close() }

// WriteEntries implements transcript.Store. The batch runs in a single
// transaction; rows that already exist are left untouched.
func (s *Store) WriteEntries(ctx context.Context, entries []transcript.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	const q = `
		INSERT INTO transcript_entries
		    (id, session_id, role, text, translation, is_dictation, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING`

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, e := range entries {
			batch.Queue(q, e.ID, e.SessionID, string(e.Role), e.Text, e.Translation, e.IsDictation, e.CreatedAt)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return fmt.Errorf("pgstore: write entries: %w", err)
	}
	return nil
}

// List returns the entries of sessionID in insertion order. An empty
// sessionID lists entries that were recorded outside a session.
func (s *Store) List(ctx context.Context, sessionID string) ([]transcript.Entry, error) {
	const q = `
		SELECT id, session_id, role, text, translation, is_dictation, created_at
		FROM   transcript_entries
		WHERE  session_id = $1
		ORDER  BY seq`

	rows, err := s.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("pgstore: list: %w", err)
	}
	return collectEntries(rows)
}

// SearchOpts narrows a [Store.Search].
type SearchOpts struct {
	SessionID string
	Role      transcript.Role
	Limit     int
}

// Search runs a full-text query over text and translation.
func (s *Store) Search(ctx context.Context, query string, opts SearchOpts) ([]transcript.Entry, error) {
	args := []any{query}
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	conditions := []string{
		"to_tsvector('simple', text || ' ' || translation) @@ plainto_tsquery('simple', $1)",
	}
	if opts.SessionID != "" {
		conditions = append(conditions, "session_id = "+next(opts.SessionID))
	}
	if opts.Role != "" {
		conditions = append(conditions, "role = "+next(string(opts.Role)))
	}

	q := "SELECT id, session_id, role, text, translation, is_dictation, created_at\n" +
		"FROM   transcript_entries\n" +
		"WHERE  " + strings.Join(conditions, "\n  AND  ") + "\n" +
		"ORDER  BY seq"
	if opts.Limit > 0 {
		q += "\nLIMIT " + next(opts.Limit)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("pgstore: search: %w", err)
	}
	return collectEntries(rows)
}

func collectEntries(rows pgx.Rows) ([]transcript.Entry, error) {
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (transcript.Entry, error) {
		var (
			e    transcript.Entry
			role string
		)
		if err := row.Scan(&e.ID, &e.SessionID, &role, &e.Text, &e.Translation, &e.IsDictation, &e.CreatedAt); err != nil {
			return transcript.Entry{}, err
		}
		e.Role = transcript.Role(role)
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("pgstore: scan rows: %w", err)
	}
	if entries == nil {
		entries = []transcript.Entry{}
	}
	return entries, nil
}
