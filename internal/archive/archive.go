// Package archive stores the transcripts of finished conversations.
//
// A [Store] keeps an append-only list of turns per session ID. [MemStore]
// holds everything in process memory; [PostgresStore] persists to a
// PostgreSQL table through a pgx connection pool.
//
// Archive writes happen after a conversation ended, on the goroutine of a
// [Recorder]. Failures are logged and never affect a live session.
package archive

import (
	"context"
	"errors"
	"time"

	"github.com/MrWong99/novalive/internal/live"
)

// ErrNotFound is returned by [Store.Turns] for an unknown session ID.
var ErrNotFound = errors.New("archive: session not found")

// Record is an archived turn.
type Record struct {
	live.Turn
	Seq        int       `json:"seq"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Store is a transcript archive. Implementations must be safe for concurrent
// use.
type Store interface {
	// Append adds turns to sessionID's transcript, after any turns already
	// stored for it. Appending no turns is a no-op.
	Append(ctx context.Context, sessionID string, turns []live.Turn) error

	// Turns returns the archived turns of sessionID in order, or
	// [ErrNotFound].
	Turns(ctx context.Context, sessionID string) ([]Record, error)

	// Ping reports whether the store is reachable.
	Ping(ctx context.Context) error

	// Close releases the store's resources.
	Close()
}
