package archive

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/MrWong99/novalive/internal/live"
)

var _ Store = (*MemStore)(nil)

// errClosed is returned by a MemStore after Close.
var errClosed = errors.New("archive: store closed")

// MemStore is an in-memory [Store].
type MemStore struct {
	now func() time.Time

	mu       sync.RWMutex
	sessions map[string][]Record
	closed   bool
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{now: time.Now, sessions: make(map[string][]Record)}
}

// Append implements [Store].
func (m *MemStore) Append(_ context.Context, sessionID string, turns []live.Turn) error {
	if len(turns) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errClosed
	}
	recs := m.sessions[sessionID]
	at := m.now()
	for _, t := range turns {
		recs = append(recs, Record{Turn: t, Seq: len(recs), RecordedAt: at})
	}
	m.sessions[sessionID] = recs
	return nil
}

// Turns implements [Store].
func (m *MemStore) Turns(_ context.Context, sessionID string) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, errClosed
	}
	recs, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]Record(nil), recs...), nil
}

// Ping implements [Store].
func (m *MemStore) Ping(context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return errClosed
	}
	return nil
}

// Close implements [Store].
func (m *MemStore) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
}
