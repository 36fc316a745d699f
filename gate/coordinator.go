package gate

import (
	"log/slog"

	"claudebridge/logger"
)

// ModeChangeBuffer is the buffer size for mode-change notifications. The
// consumer is a UI indicator; if it lags, older notifications are dropped in
// favor of not blocking the decision path.
const ModeChangeBuffer = 16

// ModeChange is the notification emitted when a session's effective mode
// switches.
type ModeChange struct {
	SessionID string
	Mode      Mode
}

// Coordinator glues exit-plan approvals to the mode store and notifies the
// stream consumer so UI indicators can update.
//
// Ordering hazard: a mode switch can, in principle, be approved before the
// session's init event has delivered its id. There is then no session id to
// scope the switch to. The switch is recorded under PendingSessionID and the
// session manager adopts it onto the real id when the init event arrives.
// Until that happens, decisions for the session fall back to the turn's
// initial mode — the two can diverge in that window. The correct resolution
// is ambiguous; we document the race instead of hiding it.
type Coordinator struct {
	store   *Store
	changes chan ModeChange
	log     *slog.Logger
}

// NewCoordinator creates a Coordinator writing through to the given store.
func NewCoordinator(store *Store) *Coordinator {
	return &Coordinator{
		store:   store,
		changes: make(chan ModeChange, ModeChangeBuffer),
		log:     logger.WithComponent("gate"),
	}
}

// OnExitPlanApproved records the approved target mode for the session and
// emits a mode-change notification. The store write completes before this
// returns, so a gate decision evaluated afterwards observes the new mode.
func (c *Coordinator) OnExitPlanApproved(sessionID string, target Mode) {
	key := sessionID
	if key == "" {
		key = PendingSessionID
		c.log.Warn("exit-plan approved before session id known, storing under pending key", "targetMode", target)
	}

	c.store.Set(key, target)
	c.log.Info("mode switch recorded", "sessionID", key, "targetMode", target)

	select {
	case c.changes <- ModeChange{SessionID: key, Mode: target}:
	default:
		c.log.Debug("mode-change notification dropped, consumer lagging")
	}
}

// Changes returns the notification channel for UI consumption.
func (c *Coordinator) Changes() <-chan ModeChange {
	return c.changes
}
