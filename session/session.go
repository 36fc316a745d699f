// Package session tracks live engine sessions and their stream handles.
//
// A Session is the durable record of one conversation with the engine. The
// Registry maps engine-assigned session ids to the live stream handles that
// serve them, so that later operations (rewind, interrupt, mode switches)
// can reach the stream that owns the session.
package session

import (
	"time"

	"github.com/google/uuid"
)

// Session is the record of one engine conversation.
type Session struct {
	// ID is the engine-assigned session id, learned from the init event of
	// the first turn. Empty until then.
	ID string

	// LocalID identifies the session before the engine has named it.
	LocalID string

	WorkingDir string
	Model      string
	CreatedAt  time.Time
}

// New creates a session record for a conversation that has not yet received
// its engine-assigned id.
func New(workingDir, model string) *Session {
	return &Session{
		LocalID:    uuid.New().String(),
		WorkingDir: workingDir,
		Model:      model,
		CreatedAt:  time.Now(),
	}
}
