package claude

import "context"

// Engine starts query streams. It is the opaque vendor boundary; the real
// implementation lives with the host, and tests use MockEngine.
type Engine interface {
	// StartQuery begins a conversation turn and returns the live stream.
	StartQuery(ctx context.Context, prompt string, opts Options) (Stream, error)
}

// Stream is one live query stream. The session layer registers it under the
// session id as soon as the init message reveals one, and later borrows it
// for rewind and interrupt.
type Stream interface {
	// Messages yields the stream's tagged messages. The channel closes when
	// the stream ends; a result message with IsError set precedes an
	// erroring close.
	Messages() <-chan StreamMessage

	// RewindToCheckpoint restores files to the checkpoint recorded for the
	// target message. Only available on streams started with
	// EnableCheckpoints; the checkpoint-missing failure is reported as an
	// error whose text contains rewind.CheckpointNotFoundMarker.
	RewindToCheckpoint(ctx context.Context, targetUUID string) error

	// Interrupt stops the in-flight operation without ending the session.
	Interrupt() error

	// Stderr returns everything the engine has written to its diagnostic
	// output so far. Empty for streams that have no such surface.
	Stderr() string

	// Close releases the stream's resources. Idempotent.
	Close() error
}
