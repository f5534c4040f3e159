package archive

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/novalive/internal/live"
)

var _ Store = (*PostgresStore)(nil)

const ddlTranscriptTurns = `
CREATE TABLE IF NOT EXISTS transcript_turns (
    session_id   TEXT         NOT NULL,
    seq          INTEGER      NOT NULL,
    role         TEXT         NOT NULL,
    text         TEXT         NOT NULL,
    recorded_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    PRIMARY KEY (session_id, seq)
);

CREATE INDEX IF NOT EXISTS idx_transcript_turns_recorded_at
    ON transcript_turns (recorded_at);
`

// Migrate creates the archive table if it does not exist. It is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlTranscriptTurns); err != nil {
		return fmt.Errorf("archive: migrate: %w", err)
	}
	return nil
}

// PostgresStore is a [Store] backed by the transcript_turns table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to dsn, verifies the connection and runs
// [Migrate].
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("archive: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("archive: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("archive: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

// Append implements [Store]. All turns are written in one transaction with
// sequence numbers continuing after the session's current maximum.
func (s *PostgresStore) Append(ctx context.Context, sessionID string, turns []live.Turn) error {
	if len(turns) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("archive: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var next int
	if err := tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(seq) + 1, 0) FROM transcript_turns WHERE session_id = $1`,
		sessionID,
	).Scan(&next); err != nil {
		return fmt.Errorf("archive: next seq: %w", err)
	}

	batch := &pgx.Batch{}
	at := time.Now().UTC()
	for i, t := range turns {
		batch.Queue(
			`INSERT INTO transcript_turns (session_id, seq, role, text, recorded_at) VALUES ($1, $2, $3, $4, $5)`,
			sessionID, next+i, t.Role, t.Text, at,
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("archive: insert turns: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("archive: commit: %w", err)
	}
	return nil
}

// Turns implements [Store].
func (s *PostgresStore) Turns(ctx context.Context, sessionID string) ([]Record, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT seq, role, text, recorded_at FROM transcript_turns WHERE session_id = $1 ORDER BY seq`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("archive: query turns: %w", err)
	}
	recs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Record, error) {
		var r Record
		err := row.Scan(&r.Seq, &r.Role, &r.Text, &r.RecordedAt)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("archive: scan turns: %w", err)
	}
	if len(recs) == 0 {
		return nil, ErrNotFound
	}
	return recs, nil
}

// Ping implements [Store].
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close implements [Store].
func (s *PostgresStore) Close() { s.pool.Close() }
