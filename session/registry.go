package session

import (
	"errors"
	"sort"
	"sync"

	"claudebridge/claude"
)

var (
	// ErrNotFound is returned when no handle is registered for a session id.
	ErrNotFound = errors.New("session: no handle registered")

	// ErrBorrowed is returned when a handle is already checked out.
	ErrBorrowed = errors.New("session: handle already borrowed")
)

type entry struct {
	session  *Session
	stream   claude.Stream
	borrowed bool
}

// Registry maps engine session ids to live stream handles. Registration is
// last-write-wins: a new stream for an id the engine reuses (a resumed
// session) displaces the old handle, and the displaced stream is returned to
// the caller for closing.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Register records a stream handle for a session id, replacing any existing
// handle. The displaced stream, if any, is returned so the caller can close
// it; the registry never closes streams itself.
func (r *Registry) Register(sess *Session, stream claude.Stream) (displaced claude.Stream) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.entries[sess.ID]; ok {
		displaced = old.stream
	}
	r.entries[sess.ID] = &entry{session: sess, stream: stream}
	return displaced
}

// Get returns the session record for an id without borrowing its stream.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	return e.session, true
}

// Borrow checks out the stream handle for exclusive use. The returned release
// function must be called on every exit path; until then further Borrow calls
// for the same id fail with ErrBorrowed. Remove of a borrowed handle is
// allowed and the release becomes a no-op.
func (r *Registry) Borrow(id string) (claude.Stream, func(), error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, nil, ErrNotFound
	}
	if e.borrowed {
		return nil, nil, ErrBorrowed
	}
	e.borrowed = true

	release := func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if cur, ok := r.entries[id]; ok && cur == e {
			cur.borrowed = false
		}
	}
	return e.stream, release, nil
}

// Remove drops the handle for a session id and returns the stream that was
// registered, if any, so the caller can close it.
func (r *Registry) Remove(id string) (claude.Stream, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	delete(r.entries, id)
	return e.stream, true
}

// ListIDs returns all registered session ids in sorted order.
func (r *Registry) ListIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of registered handles.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
