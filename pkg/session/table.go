package session

import (
	"fmt"
	"log/slog"
	"sync"
)

// Table is the process-wide set of live sessions, keyed by session id.
type Table struct {
	logger *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewTable constructs an empty session table.
func NewTable(logger *slog.Logger) *Table {
	if logger == nil {
		logger = slog.Default()
	}
	return &Table{
		logger:   logger.With("component", "session.table"),
		sessions: make(map[string]*Session),
	}
}

// Insert adds s to the table under its own id.
func (t *Table) Insert(s *Session) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sessions[s.ID] = s
}

// Lookup returns the session with the given id, or an error if absent.
func (t *Table) Lookup(id string) (*Session, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session: id %q not found", id)
	}
	return s, nil
}

// Remove drops id from the table. It does not call Hangup; callers are
// expected to hang up before or after removing, as their teardown ordering
// requires.
func (t *Table) Remove(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sessions, id)
}

// List returns a snapshot of all live sessions.
func (t *Table) List() []*Session {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Session, 0, len(t.sessions))
	for _, s := range t.sessions {
		out = append(out, s)
	}
	return out
}

// Len reports the number of live sessions.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions)
}
