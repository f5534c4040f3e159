package web

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"
)

// SessionInfo describes one connected bridge.
type SessionInfo struct {
	// ConnectionID identifies the WebSocket connection.
	ConnectionID string `json:"connection_id"`

	// SessionID is the ID of the current or last conversation on the
	// connection, empty before the first start.
	SessionID string `json:"session_id,omitempty"`

	// State is the conversation state.
	State string `json:"state"`

	// RemoteAddr is the client address.
	RemoteAddr string `json:"remote_addr"`

	// ConnectedAt is when the WebSocket was accepted.
	ConnectedAt time.Time `json:"connected_at"`
}

// tracked is what the registry needs from a bridge.
type tracked interface {
	info() SessionInfo
	shutdown(reason string)
}

// Sessions tracks the connected bridges so that they can be listed and shut
// down together. Hijacked WebSocket connections are invisible to
// [http.Server.Shutdown], so the owner must call [Sessions.CloseAll].
//
// All methods are safe for concurrent use.
type Sessions struct {
	mu     sync.Mutex
	active map[string]tracked
	closed bool
	wg     sync.WaitGroup
}

// NewSessions returns an empty registry.
func NewSessions() *Sessions {
	return &Sessions{active: make(map[string]tracked)}
}

// add registers b under id. It reports false once the registry was closed,
// in which case the caller must not serve the connection.
func (s *Sessions) add(id string, b tracked) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.active[id] = b
	s.wg.Add(1)
	return true
}

func (s *Sessions) remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.active[id]; ok {
		delete(s.active, id)
		s.wg.Done()
	}
}

// Count returns the number of connected bridges.
func (s *Sessions) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// List returns a snapshot of the connected bridges ordered by connection
// time.
func (s *Sessions) List() []SessionInfo {
	s.mu.Lock()
	bridges := make([]tracked, 0, len(s.active))
	for _, b := range s.active {
		bridges = append(bridges, b)
	}
	s.mu.Unlock()

	infos := make([]SessionInfo, 0, len(bridges))
	for _, b := range bridges {
		infos = append(infos, b.info())
	}
	slices.SortFunc(infos, func(a, b SessionInfo) int {
		if c := a.ConnectedAt.Compare(b.ConnectedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ConnectionID, b.ConnectionID)
	})
	return infos
}

// CloseAll stops every connected bridge and rejects new ones. It does not
// wait for the connection handlers to return; use [Sessions.Wait].
func (s *Sessions) CloseAll(reason string) {
	s.mu.Lock()
	s.closed = true
	bridges := make([]tracked, 0, len(s.active))
	for _, b := range s.active {
		bridges = append(bridges, b)
	}
	s.mu.Unlock()

	for _, b := range bridges {
		go b.shutdown(reason)
	}
}

// Wait blocks until every registered bridge was removed or ctx is done.
func (s *Sessions) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
