// Package postgres provides a PostgreSQL-backed implementation of
// [transcript.Store].
//
// The store keeps one append-only transcript_entries table. Entries are never
// updated or deleted; Recent reads them back in chronological order.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//
//	_ = store.Append(ctx, sessionID, entries...)
package postgres

import (
	"context"
	"fmt"
	"slices"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/voxtide/voxtide/pkg/transcript"
)

// Compile-time interface check.
var _ transcript.Store = (*Store)(nil)

const ddlTranscriptEntries = `
CREATE TABLE IF NOT EXISTS transcript_entries (
    id         BIGSERIAL   PRIMARY KEY,
    session_id TEXT        NOT NULL,
    role       TEXT        NOT NULL,
    text       TEXT        NOT NULL,
    timestamp  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_transcript_entries_session_id
    ON transcript_entries (session_id, id);`

// Store is the PostgreSQL-backed transcript store. It holds a single
// [pgxpool.Pool]; all methods are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore establishes a connection pool to the PostgreSQL database at dsn
// and ensures the transcript_entries table exists.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("transcript store: connect: %w", err)
	}
	if _, err := pool.Exec(ctx, ddlTranscriptEntries); err != nil {
		pool.Close()
		return nil, fmt.Errorf("transcript store: migrate: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Append implements [transcript.Store]. Entries are written in order inside
// one batch so a turn's user/assistant pair lands atomically.
func (s *Store) Append(ctx context.Context, sessionID string, entries ...transcript.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	const q = `
		INSERT INTO transcript_entries (session_id, role, text, timestamp)
		VALUES ($1, $2, $3, $4)`

	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(q, sessionID, string(e.Role), e.Text, e.Timestamp)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range entries {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("transcript store: append: %w", err)
		}
	}
	return nil
}

// Recent implements [transcript.Store]. It returns up to limit of the most
// recently appended entries for sessionID, reordered oldest first. A
// non-positive limit returns all entries.
func (s *Store) Recent(ctx context.Context, sessionID string, limit int) ([]transcript.Entry, error) {
	q := `
		SELECT role, text, timestamp
		FROM   transcript_entries
		WHERE  session_id = $1
		ORDER  BY id`
	args := []any{sessionID}
	if limit > 0 {
		// Newest rows win the limit; the slice is flipped back below so
		// callers always read chronologically.
		q = `
		SELECT role, text, timestamp
		FROM   transcript_entries
		WHERE  session_id = $1
		ORDER  BY id DESC
		LIMIT  $2`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("transcript store: recent: %w", err)
	}
	defer rows.Close()

	var out []transcript.Entry
	for rows.Next() {
		var e transcript.Entry
		var role string
		if err := rows.Scan(&role, &e.Text, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("transcript store: scan: %w", err)
		}
		e.Role = transcript.Role(role)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("transcript store: rows: %w", err)
	}
	if limit > 0 {
		slices.Reverse(out)
	}
	return out, nil
}

// Ping verifies the database is reachable. Suitable as a readiness check.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}
