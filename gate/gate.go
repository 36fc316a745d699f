package gate

import (
	"context"
	"log/slog"
	"sync"

	"claudebridge/approval"
	"claudebridge/logger"
)

// PlanDenyReason is the reason attached to every tool suppressed in plan mode.
const PlanDenyReason = "Permission mode is plan (no execution)"

// Behavior is the outcome class of a gate decision.
type Behavior int

const (
	// BehaviorApprove lets the tool run.
	BehaviorApprove Behavior = iota
	// BehaviorDeny blocks the tool with a reason.
	BehaviorDeny
	// BehaviorIndeterminate means no policy applied; the caller should treat
	// the hook as a no-op pass-through and let the engine's own flow proceed.
	BehaviorIndeterminate
)

// Decision is the result of evaluating one tool invocation.
type Decision struct {
	Behavior Behavior
	Reason   string
}

// Approve is the affirmative decision.
func Approve() Decision { return Decision{Behavior: BehaviorApprove} }

// Deny blocks the tool with the given reason.
func Deny(reason string) Decision { return Decision{Behavior: BehaviorDeny, Reason: reason} }

// Indeterminate is the pass-through decision.
func Indeterminate() Decision { return Decision{Behavior: BehaviorIndeterminate} }

// Policy widens the built-in auto-approval tables. Loaded from gate.yaml by
// the config package. Plan suppression is not policy-configurable.
type Policy struct {
	// AutoApprove lists extra tool names auto-approved per mode. Only
	// consulted for default and acceptEdits; bypassPermissions already
	// approves everything and plan approves nothing.
	AutoApprove map[Mode][]string
}

// Gate is the per-tool-invocation decision function. It sits on the critical
// path of every tool execution: local decisions (plan suppression,
// auto-approve tables) never block and never fail; only the deferral to the
// approval channel can wait, and a failure there degrades to Deny rather
// than surfacing as a fault.
type Gate struct {
	store       *Store
	channel     approval.Channel
	coordinator *Coordinator
	policy      Policy
	log         *slog.Logger

	mu     sync.Mutex
	always map[string]map[string]struct{} // sessionID → tools approved with "always"
}

// Option configures a Gate.
type Option func(*Gate)

// WithPolicy installs auto-approval widening loaded from the policy file.
func WithPolicy(p Policy) Option {
	return func(g *Gate) { g.policy = p }
}

// WithCoordinator wires the mode-switch coordinator invoked when an
// exit-plan approval arrives. Without it, exit-plan approvals still approve
// the tool but no mode switch is recorded.
func WithCoordinator(c *Coordinator) Option {
	return func(g *Gate) { g.coordinator = c }
}

// WithLogger overrides the component logger.
func WithLogger(log *slog.Logger) Option {
	return func(g *Gate) { g.log = log }
}

// New creates a Gate. The store is required; channel may be nil, in which
// case decisions that would defer to a human come back Indeterminate.
func New(store *Store, channel approval.Channel, opts ...Option) *Gate {
	g := &Gate{
		store:   store,
		channel: channel,
		always:  make(map[string]map[string]struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.log == nil {
		g.log = logger.WithComponent("gate")
	}
	return g
}

// EffectiveMode resolves the mode currently in force for a session: the
// store's override when one exists, else the initial mode the turn started
// with. Read fresh on every decision — never a snapshot from stream start.
func (g *Gate) EffectiveMode(sessionID string, initialMode Mode) Mode {
	if m, ok := g.store.Get(sessionID); ok {
		return m
	}
	return initialMode
}

// DecideLocal evaluates only the local policy: plan suppression and the
// auto-approval tables. Returns Indeterminate when no local rule applies.
func (g *Gate) DecideLocal(sessionID, toolName string, initialMode Mode) Decision {
	mode := g.EffectiveMode(sessionID, initialMode)

	if mode == ModePlan {
		if toolName != ExitPlanTool {
			return Deny(PlanDenyReason)
		}
		// Exit-plan must reach the approval channel to trigger the switch.
		return Indeterminate()
	}

	if mode == ModeBypassPermissions {
		return Approve()
	}

	if mode == ModeAcceptEdits && containsTool(ToolSetFileEdits, toolName) {
		return Approve()
	}

	if containsTool(g.policy.AutoApprove[mode], toolName) {
		return Approve()
	}

	if g.sessionAlways(sessionID, toolName) {
		return Approve()
	}

	return Indeterminate()
}

// Decide evaluates one tool invocation against the session's current
// effective mode. Local rules decide immediately; everything else defers to
// the approval channel. Channel failures map to Deny, never to an error.
func (g *Gate) Decide(ctx context.Context, sessionID, toolName string, toolInput map[string]any, initialMode Mode) Decision {
	d := g.DecideLocal(sessionID, toolName, initialMode)
	if d.Behavior != BehaviorIndeterminate {
		g.log.Debug("local gate decision",
			"sessionID", sessionID, "tool", toolName, "behavior", d.Behavior, "reason", d.Reason)
		return d
	}

	if g.channel == nil {
		// No approval surface wired: pass through rather than inventing an
		// answer. The engine's own permission flow takes over.
		return Indeterminate()
	}

	req := approval.NewRequest(sessionID, toolName, describeTool(toolName, toolInput), toolInput)
	g.log.Debug("deferring to approval channel", "sessionID", sessionID, "tool", toolName, "requestID", req.ID)

	resp, err := g.channel.Ask(ctx, req)
	if err != nil {
		g.log.Warn("approval channel error, denying", "tool", toolName, "error", err)
		return Deny("Permission check failed: " + err.Error())
	}

	if !resp.Allowed {
		msg := resp.Message
		if msg == "" {
			msg = "Permission denied by user"
		}
		return Deny(msg)
	}

	if toolName == ExitPlanTool && g.coordinator != nil {
		target := ModeDefault
		if resp.TargetMode != "" {
			if m, perr := ParseMode(resp.TargetMode); perr == nil {
				target = m
			} else {
				g.log.Warn("exit-plan approval carried invalid target mode, using default", "targetMode", resp.TargetMode)
			}
		}
		// Synchronous: the store write lands before this decision returns,
		// so the very next Decide observes the new mode.
		g.coordinator.OnExitPlanApproved(sessionID, target)
	}

	if resp.Always {
		g.rememberAlways(sessionID, toolName)
	}

	return Approve()
}

// ToResult adapts a Decision into the engine's hook encoding. Indeterminate
// returns nil: the hook reports nothing and the engine proceeds on its own.
func (d Decision) ToResult(input map[string]any) *approval.Result {
	switch d.Behavior {
	case BehaviorApprove:
		return &approval.Result{Behavior: "allow", UpdatedInput: input}
	case BehaviorDeny:
		return &approval.Result{Behavior: "deny", Message: d.Reason}
	default:
		return nil
	}
}

// ClearSession drops per-session gate state (always-approvals). Mode
// overrides are owned by the Store and are deliberately not touched here.
func (g *Gate) ClearSession(sessionID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.always, sessionID)
}

func (g *Gate) sessionAlways(sessionID, toolName string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	tools, ok := g.always[sessionID]
	if !ok {
		return false
	}
	_, ok = tools[toolName]
	return ok
}

func (g *Gate) rememberAlways(sessionID, toolName string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	tools, ok := g.always[sessionID]
	if !ok {
		tools = make(map[string]struct{})
		g.always[sessionID] = tools
	}
	tools[toolName] = struct{}{}
}

// describeTool builds a short human-readable description for the approval
// prompt from well-known input fields.
func describeTool(toolName string, input map[string]any) string {
	for _, field := range []string{"command", "file_path", "pattern", "url", "description"} {
		if v, ok := input[field].(string); ok && v != "" {
			if len(v) > 80 {
				v = v[:77] + "..."
			}
			return toolName + ": " + v
		}
	}
	return toolName
}
