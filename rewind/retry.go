package rewind

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"claudebridge/history"
	"claudebridge/logger"
)

// CheckpointNotFoundMarker is the substring identifying the one recoverable
// rewind failure. The engine reports it as free text; string matching is the
// only correlation available at this boundary.
const CheckpointNotFoundMarker = "No file checkpoint found for message"

// AttemptTimeout bounds each individual rewind attempt against the external
// capability. It scopes the attempt, not the retry loop.
const AttemptTimeout = 45 * time.Second

// ErrAttemptTimeout marks an attempt whose timer fired before the external
// call returned.
var ErrAttemptTimeout = errors.New("rewind attempt timed out")

// IsCheckpointNotFound reports whether err is the recoverable
// checkpoint-missing failure that permits fallback candidates.
func IsCheckpointNotFound(err error) bool {
	return err != nil && strings.Contains(err.Error(), CheckpointNotFoundMarker)
}

// AttemptFunc performs one rewind attempt against the external capability.
type AttemptFunc func(ctx context.Context, targetUUID string) error

// Outcome reports which checkpoint a successful rewind actually used. UsedUUID
// differs from RequestedUUID when a fallback candidate succeeded.
type Outcome struct {
	RequestedUUID string
	UsedUUID      string
}

// Run executes the rewind retry protocol.
//
// The exact requested uuid is attempted first. Only the checkpoint-missing
// failure triggers candidate resolution; every other failure — including a
// timeout of the exact attempt — propagates immediately with its message
// intact. Candidates are attempted in resolver order, skipping the requested
// id if it reappears; the first success wins. A non-checkpoint,
// non-timeout candidate failure aborts the loop immediately; if every
// candidate fails recoverably, the last candidate's error is returned.
func Run(ctx context.Context, requestedUUID string, records []history.MessageRecord, attempt AttemptFunc, log *slog.Logger) (Outcome, error) {
	if log == nil {
		log = logger.WithComponent("rewind")
	}

	err := attemptOnce(ctx, attempt, requestedUUID, log)
	if err == nil {
		return Outcome{RequestedUUID: requestedUUID, UsedUUID: requestedUUID}, nil
	}
	if !IsCheckpointNotFound(err) {
		return Outcome{}, err
	}

	candidates := ResolveCandidates(requestedUUID, records)
	log.Info("exact checkpoint missing, trying fallback candidates",
		"requested", requestedUUID, "candidates", len(candidates))

	lastErr := err
	for _, candidate := range candidates {
		if candidate == requestedUUID {
			continue
		}
		if ctx.Err() != nil {
			return Outcome{}, ctx.Err()
		}

		cerr := attemptOnce(ctx, attempt, candidate, log)
		if cerr == nil {
			log.Info("rewind succeeded on fallback candidate", "requested", requestedUUID, "used", candidate)
			return Outcome{RequestedUUID: requestedUUID, UsedUUID: candidate}, nil
		}
		if !IsCheckpointNotFound(cerr) && !errors.Is(cerr, ErrAttemptTimeout) {
			return Outcome{}, cerr
		}
		lastErr = cerr
	}

	return Outcome{}, lastErr
}

// attemptOnce races one external rewind call against the attempt timer. The
// call is not cancelled when the timer wins — cancellation is not assumed to
// propagate, and a late completion is harmless — so the goroutine writes to a
// buffered channel and is left to finish on its own.
func attemptOnce(ctx context.Context, attempt AttemptFunc, targetUUID string, log *slog.Logger) error {
	done := make(chan error, 1)
	go func() {
		done <- attempt(ctx, targetUUID)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(AttemptTimeout):
		log.Warn("rewind attempt timed out", "target", targetUUID, "timeout", AttemptTimeout)
		return fmt.Errorf("%w after %s (target %s)", ErrAttemptTimeout, AttemptTimeout, targetUUID)
	}
}
