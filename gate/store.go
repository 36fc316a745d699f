package gate

import "sync"

// PendingSessionID is the reserved key a mode switch is stored under when it
// arrives before the session id is known (the init event has not been
// observed yet). The session manager re-indexes the entry via Adopt once the
// real id shows up. See the ordering hazard note on Coordinator.
const PendingSessionID = "__pending__"

// Store maps session ids to their active permission-mode override.
//
// Entries have no expiry: an override set by a mode switch survives until
// explicitly cleared, including across resumed sessions with the same id.
// That is deliberate — resuming a session keeps the mode the user last
// approved. Whether long-lived hosts should ever evict historical entries is
// an open question we have not resolved; nothing evicts today.
//
// Safe for concurrent readers (gate decisions) interleaved with writers
// (mode-switch coordinator).
type Store struct {
	mu    sync.RWMutex
	modes map[string]Mode
}

// NewStore creates an empty mode store.
func NewStore() *Store {
	return &Store{modes: make(map[string]Mode)}
}

// Get returns the mode override for a session, if one has been set.
func (s *Store) Get(sessionID string) (Mode, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.modes[sessionID]
	return m, ok
}

// Set records a mode override for a session. Last write wins.
func (s *Store) Set(sessionID string, mode Mode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.modes[sessionID] = mode
}

// Clear removes a session's override. Reports whether one existed.
func (s *Store) Clear(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.modes[sessionID]
	delete(s.modes, sessionID)
	return ok
}

// Adopt moves the override stored under from to to, when present. Used to
// re-key a switch recorded under PendingSessionID once the real session id
// becomes known. An existing entry under to is only overwritten if a pending
// entry exists.
func (s *Store) Adopt(from, to string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.modes[from]
	if !ok {
		return false
	}
	delete(s.modes, from)
	s.modes[to] = m
	return true
}

// Len returns the number of overrides held. Primarily for tests and
// introspection.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.modes)
}
