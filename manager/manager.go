// Package manager orchestrates engine turns. It starts query streams, wires
// the permission gate into the pre-tool-use hook, adopts engine-assigned
// session ids, tracks live stream handles, and drives interrupt and rewind
// against them.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"claudebridge/approval"
	"claudebridge/claude"
	"claudebridge/config"
	"claudebridge/gate"
	"claudebridge/history"
	"claudebridge/logger"
	"claudebridge/paths"
	"claudebridge/process"
	"claudebridge/rewind"
	"claudebridge/session"
)

// TurnResult reports the outcome of one completed turn.
type TurnResult struct {
	// SessionID is the engine-assigned id, filled in once the init event
	// arrives.
	SessionID string

	Success bool

	// Error is the failure description from the result message, or a
	// synthesized one when the stream ended without any result.
	Error string

	// Details preserves the raw result payload for diagnostics.
	Details string
}

// Manager coordinates sessions against one engine.
type Manager struct {
	engine   claude.Engine
	registry *session.Registry
	gate     *gate.Gate
	store    *gate.Store
	cfg      *config.Config
	log      *slog.Logger
}

// New creates a Manager. The store must be the same one the gate reads.
func New(engine claude.Engine, registry *session.Registry, g *gate.Gate, store *gate.Store, cfg *config.Config) *Manager {
	return &Manager{
		engine:   engine,
		registry: registry,
		gate:     g,
		store:    store,
		cfg:      cfg,
		log:      logger.WithComponent("manager"),
	}
}

// appendDiagnostics folds the engine's captured stderr into a failed turn's
// details so the failure carries something actionable.
func appendDiagnostics(details, stderr string) string {
	stderr = strings.TrimSpace(stderr)
	if stderr == "" {
		return details
	}
	if details == "" {
		return stderr
	}
	return details + "\n" + stderr
}

// gateKey is the session id used for gate and store lookups: the engine id
// once known, else the shared pending key.
func gateKey(sess *session.Session) string {
	if sess.ID != "" {
		return sess.ID
	}
	return gate.PendingSessionID
}

// StartTurn runs one turn to completion: starts the query stream, consumes
// its messages, and returns the result. The gate decides every tool
// invocation through the pre-tool-use hook, reading the session's effective
// mode fresh on each call.
//
// On the init event the engine-assigned id is adopted: the session record is
// updated, any mode switch approved under the pending key is re-keyed, and
// the stream handle is registered so interrupt and rewind can reach it. The
// handle is removed again when the stream ends.
func (m *Manager) StartTurn(ctx context.Context, sess *session.Session, prompt string, initialMode gate.Mode) (*TurnResult, error) {
	model := sess.Model
	if model == "" {
		model = m.cfg.Model
	}

	opts := claude.Options{
		WorkingDir:        sess.WorkingDir,
		Model:             model,
		Resume:            sess.ID,
		EnableCheckpoints: true,
	}
	opts.SetMode(m.gate.EffectiveMode(gateKey(sess), initialMode))

	// The hook must address the gate by whatever id the session has at the
	// time of the call: the pending key before init, the engine id after.
	var keyMu sync.Mutex
	key := gateKey(sess)
	opts.Hooks.PreToolUse = func(hctx context.Context, toolName string, toolInput map[string]any) *approval.Result {
		keyMu.Lock()
		k := key
		keyMu.Unlock()
		return m.gate.Decide(hctx, k, toolName, toolInput, initialMode).ToResult(toolInput)
	}

	stream, err := m.engine.StartQuery(ctx, prompt, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to start query: %w", err)
	}

	result := &TurnResult{SessionID: sess.ID}
	sawResult := false
	registered := false

	defer func() {
		if registered {
			if removed, ok := m.registry.Remove(sess.ID); ok {
				removed.Close()
				return
			}
		}
		stream.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case msg, ok := <-stream.Messages():
			if !ok {
				if !sawResult {
					result.Success = false
					result.Error = "stream ended without a result message"
					result.Details = appendDiagnostics(result.Details, stream.Stderr())
				}
				return result, nil
			}

			switch {
			case msg.IsInit():
				if sess.ID == "" {
					m.store.Adopt(gate.PendingSessionID, msg.SessionID)
				}
				sess.ID = msg.SessionID
				result.SessionID = msg.SessionID
				keyMu.Lock()
				key = msg.SessionID
				keyMu.Unlock()

				if displaced := m.registry.Register(sess, stream); displaced != nil && displaced != stream {
					displaced.Close()
				}
				registered = true
				m.log.Info("session started", "sessionID", msg.SessionID, "workingDir", sess.WorkingDir)

			case msg.Type == claude.MessageTypeResult:
				sawResult = true
				result.Success = !msg.IsError
				result.Details = msg.Raw
				if msg.IsError {
					result.Error = msg.ErrorText()
					result.Details = appendDiagnostics(result.Details, stream.Stderr())
					m.log.Warn("turn failed", "sessionID", sess.ID, "error", result.Error)
				}
			}
		}
	}
}

// Interrupt stops the session's in-flight turn.
func (m *Manager) Interrupt(sessionID string) error {
	stream, release, err := m.registry.Borrow(sessionID)
	if err != nil {
		return err
	}
	defer release()
	return stream.Interrupt()
}

// SetMode records a mode override for the session, effective on the next
// gate decision.
func (m *Manager) SetMode(sessionID string, mode gate.Mode) {
	m.store.Set(sessionID, mode)
	m.log.Info("permission mode set", "sessionID", sessionID, "mode", mode)
}

// Rewind restores the session's files to the checkpoint at targetUUID,
// falling back along the conversation's parent chain when the exact
// checkpoint is missing. The live stream handle is borrowed when one is
// registered; otherwise a resumed stream is started just for the rewind and
// closed afterwards.
func (m *Manager) Rewind(ctx context.Context, sessionID, workingDir, targetUUID string) (rewind.Outcome, error) {
	records := m.loadHistory(sessionID, workingDir)

	stream, release, err := m.registry.Borrow(sessionID)
	var fresh claude.Stream
	switch {
	case err == nil:
		defer release()
	case errors.Is(err, session.ErrNotFound):
		opts := claude.Options{
			WorkingDir:        workingDir,
			Model:             m.cfg.Model,
			Resume:            sessionID,
			EnableCheckpoints: true,
		}
		opts.SetMode(m.gate.EffectiveMode(sessionID, gate.ModeDefault))
		fresh, err = m.engine.StartQuery(ctx, "", opts)
		if err != nil {
			return rewind.Outcome{}, fmt.Errorf("failed to resume session for rewind: %w", err)
		}
		defer fresh.Close()
		stream = fresh
	default:
		return rewind.Outcome{}, err
	}

	attempt := func(actx context.Context, target string) error {
		return stream.RewindToCheckpoint(actx, target)
	}
	return rewind.Run(ctx, targetUUID, records, attempt, m.log)
}

// loadHistory reads the session's persisted transcript for candidate
// resolution. A missing or unreadable log falls back to empty history: the
// exact rewind attempt still runs, only the fallback chain is empty.
func (m *Manager) loadHistory(sessionID, workingDir string) []history.MessageRecord {
	path, err := paths.SessionLogPath(workingDir, sessionID)
	if err != nil {
		m.log.Warn("cannot resolve session log path", "sessionID", sessionID, "error", err)
		return nil
	}
	records, err := history.ReadSessionLog(path, m.log)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			m.log.Warn("cannot read session log", "path", path, "error", err)
		}
		return nil
	}
	return records
}

// EndSession releases the session's live resources. The stream handle is
// closed and the gate's always-approvals are dropped; the mode override
// survives so a later resume of the same session id keeps its mode.
func (m *Manager) EndSession(sessionID string) {
	if stream, ok := m.registry.Remove(sessionID); ok {
		stream.Close()
	}
	m.gate.ClearSession(sessionID)
	m.log.Info("session ended", "sessionID", sessionID)
}

// Shutdown closes every registered stream handle.
func (m *Manager) Shutdown() {
	for _, id := range m.registry.ListIDs() {
		m.EndSession(id)
	}
}

// CleanupOrphans reaps engine processes left over from earlier runs that do
// not belong to any registered session. Returns how many were killed.
func (m *Manager) CleanupOrphans() (int, error) {
	known := make(map[string]bool)
	for _, id := range m.registry.ListIDs() {
		known[id] = true
	}
	return process.CleanupOrphans(known)
}
