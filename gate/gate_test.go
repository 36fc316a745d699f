package gate

import (
	"context"
	"errors"
	"testing"

	"claudebridge/approval"
)

// channelFunc adapts a function to approval.Channel for test stubs.
type channelFunc func(ctx context.Context, req approval.Request) (approval.Response, error)

func (f channelFunc) Ask(ctx context.Context, req approval.Request) (approval.Response, error) {
	return f(ctx, req)
}

// answerAll approves everything that reaches the channel.
func answerAll(allowed bool) channelFunc {
	return func(_ context.Context, req approval.Request) (approval.Response, error) {
		return approval.Response{ID: req.ID, Allowed: allowed, Message: "user said no"}, nil
	}
}

// P1: every tool except ExitPlanMode is denied in plan mode, regardless of input.
func TestPlanModeSuppressesAllTools(t *testing.T) {
	asked := false
	g := New(NewStore(), channelFunc(func(_ context.Context, req approval.Request) (approval.Response, error) {
		asked = true
		return approval.Response{ID: req.ID, Allowed: true}, nil
	}))

	for _, tool := range []string{"Bash", "Write", "Edit", "Read", "WebFetch", "Task", "SomethingNew"} {
		d := g.Decide(context.Background(), "sess", tool, map[string]any{"command": "rm -rf /"}, ModePlan)
		if d.Behavior != BehaviorDeny {
			t.Errorf("%s in plan mode: behavior = %v, want deny", tool, d.Behavior)
		}
		if d.Reason != PlanDenyReason {
			t.Errorf("%s in plan mode: reason = %q, want %q", tool, d.Reason, PlanDenyReason)
		}
	}
	if asked {
		t.Error("plan suppression must not consult the approval channel")
	}
}

// P2: the exit-plan tool is never suppressed in plan mode; it is forwarded
// to the approval channel.
func TestExitPlanPassesThroughInPlanMode(t *testing.T) {
	var seen string
	g := New(NewStore(), channelFunc(func(_ context.Context, req approval.Request) (approval.Response, error) {
		seen = req.Tool
		return approval.Response{ID: req.ID, Allowed: false, Message: "keep planning"}, nil
	}))

	d := g.Decide(context.Background(), "sess", ExitPlanTool, nil, ModePlan)
	if seen != ExitPlanTool {
		t.Errorf("approval channel saw %q, want %q", seen, ExitPlanTool)
	}
	if d.Behavior != BehaviorDeny || d.Reason == PlanDenyReason {
		t.Errorf("rejected exit-plan should be the channel's denial, got %+v", d)
	}
}

// P3: a mode switch is visible to the very next decision — the mode read is
// dynamic, not frozen at turn start.
func TestModeSwitchVisibleToNextDecision(t *testing.T) {
	store := NewStore()
	coord := NewCoordinator(store)
	g := New(store, answerAll(true), WithCoordinator(coord))

	coord.OnExitPlanApproved("sess", ModeAcceptEdits)

	d := g.Decide(context.Background(), "sess", "Write", map[string]any{"file_path": "a.go"}, ModePlan)
	if d.Behavior != BehaviorApprove {
		t.Errorf("Write after switch to acceptEdits: behavior = %v, want approve", d.Behavior)
	}
}

// P4: bypassPermissions approves every tool.
func TestBypassApprovesAll(t *testing.T) {
	g := New(NewStore(), answerAll(false))

	for _, tool := range []string{"Bash", "Write", "Edit", "WebFetch", "Anything"} {
		d := g.Decide(context.Background(), "sess", tool, map[string]any{"arbitrary": 1}, ModeBypassPermissions)
		if d.Behavior != BehaviorApprove {
			t.Errorf("%s under bypassPermissions: behavior = %v, want approve", tool, d.Behavior)
		}
	}
}

// Literal scenario from the gate's contract: acceptEdits auto-approves Edit,
// defers Bash; default defers Write.
func TestAutoApproveTable(t *testing.T) {
	tests := []struct {
		mode     Mode
		tool     string
		deferred bool
	}{
		{ModeAcceptEdits, "Edit", false},
		{ModeAcceptEdits, "Write", false},
		{ModeAcceptEdits, "MultiEdit", false},
		{ModeAcceptEdits, "Rename", false},
		{ModeAcceptEdits, "Bash", true},
		{ModeAcceptEdits, "WebFetch", true},
		{ModeDefault, "Write", true},
		{ModeDefault, "Bash", true},
	}

	for _, tt := range tests {
		asked := false
		g := New(NewStore(), channelFunc(func(_ context.Context, req approval.Request) (approval.Response, error) {
			asked = true
			return approval.Response{ID: req.ID, Allowed: true}, nil
		}))

		d := g.Decide(context.Background(), "sess", tt.tool, nil, tt.mode)
		if d.Behavior != BehaviorApprove {
			t.Errorf("%s/%s: behavior = %v, want approve", tt.mode, tt.tool, d.Behavior)
		}
		if asked != tt.deferred {
			t.Errorf("%s/%s: deferred = %v, want %v", tt.mode, tt.tool, asked, tt.deferred)
		}
	}
}

// Channel failures degrade to Deny with a descriptive message, never to a fault.
func TestChannelErrorMapsToDeny(t *testing.T) {
	g := New(NewStore(), channelFunc(func(context.Context, approval.Request) (approval.Response, error) {
		return approval.Response{}, errors.New("socket closed")
	}))

	d := g.Decide(context.Background(), "sess", "Bash", nil, ModeDefault)
	if d.Behavior != BehaviorDeny {
		t.Fatalf("behavior = %v, want deny", d.Behavior)
	}
	if want := "Permission check failed: socket closed"; d.Reason != want {
		t.Errorf("reason = %q, want %q", d.Reason, want)
	}
}

func TestUserDenialCarriesMessage(t *testing.T) {
	g := New(NewStore(), answerAll(false))

	d := g.Decide(context.Background(), "sess", "Bash", nil, ModeDefault)
	if d.Behavior != BehaviorDeny || d.Reason != "user said no" {
		t.Errorf("got %+v, want deny with user's message", d)
	}
}

func TestNilChannelPassesThrough(t *testing.T) {
	g := New(NewStore(), nil)

	d := g.Decide(context.Background(), "sess", "Bash", nil, ModeDefault)
	if d.Behavior != BehaviorIndeterminate {
		t.Errorf("behavior = %v, want indeterminate with no channel wired", d.Behavior)
	}
}

func TestExitPlanApprovalTriggersModeSwitch(t *testing.T) {
	store := NewStore()
	coord := NewCoordinator(store)
	g := New(store, channelFunc(func(_ context.Context, req approval.Request) (approval.Response, error) {
		return approval.Response{ID: req.ID, Allowed: true, TargetMode: "acceptEdits"}, nil
	}), WithCoordinator(coord))

	d := g.Decide(context.Background(), "sess", ExitPlanTool, nil, ModePlan)
	if d.Behavior != BehaviorApprove {
		t.Fatalf("approved exit-plan: behavior = %v, want approve", d.Behavior)
	}

	// The switch must already be observable.
	if m, ok := store.Get("sess"); !ok || m != ModeAcceptEdits {
		t.Errorf("store mode = %v, %v; want acceptEdits before Decide returned", m, ok)
	}

	// And the notification must have been emitted.
	select {
	case change := <-coord.Changes():
		if change.SessionID != "sess" || change.Mode != ModeAcceptEdits {
			t.Errorf("notification = %+v", change)
		}
	default:
		t.Error("expected a mode-change notification")
	}
}

func TestExitPlanApprovalInvalidTargetFallsBackToDefault(t *testing.T) {
	store := NewStore()
	coord := NewCoordinator(store)
	g := New(store, channelFunc(func(_ context.Context, req approval.Request) (approval.Response, error) {
		return approval.Response{ID: req.ID, Allowed: true, TargetMode: "warp-speed"}, nil
	}), WithCoordinator(coord))

	g.Decide(context.Background(), "sess", ExitPlanTool, nil, ModePlan)

	if m, _ := store.Get("sess"); m != ModeDefault {
		t.Errorf("invalid target mode should fall back to default, got %v", m)
	}
}

func TestPolicyWidensAutoApproval(t *testing.T) {
	g := New(NewStore(), answerAll(false), WithPolicy(Policy{
		AutoApprove: map[Mode][]string{
			ModeDefault: {"Read", "Glob"},
		},
	}))

	d := g.Decide(context.Background(), "sess", "Read", nil, ModeDefault)
	if d.Behavior != BehaviorApprove {
		t.Errorf("policy-listed Read: behavior = %v, want approve", d.Behavior)
	}

	// Unlisted tools still defer (and here get denied by the stub).
	d = g.Decide(context.Background(), "sess", "Bash", nil, ModeDefault)
	if d.Behavior != BehaviorDeny {
		t.Errorf("unlisted Bash: behavior = %v, want deny", d.Behavior)
	}

	// Policy never overrides plan suppression.
	g2 := New(NewStore(), answerAll(true), WithPolicy(Policy{
		AutoApprove: map[Mode][]string{ModePlan: {"Bash"}},
	}))
	d = g2.Decide(context.Background(), "sess", "Bash", nil, ModePlan)
	if d.Behavior != BehaviorDeny || d.Reason != PlanDenyReason {
		t.Errorf("plan suppression must win over policy, got %+v", d)
	}
}

func TestAlwaysApprovalShortCircuits(t *testing.T) {
	asks := 0
	g := New(NewStore(), channelFunc(func(_ context.Context, req approval.Request) (approval.Response, error) {
		asks++
		return approval.Response{ID: req.ID, Allowed: true, Always: true}, nil
	}))

	g.Decide(context.Background(), "sess", "Bash", nil, ModeDefault)
	g.Decide(context.Background(), "sess", "Bash", nil, ModeDefault)

	if asks != 1 {
		t.Errorf("channel asked %d times, want 1 (always-approval should short-circuit)", asks)
	}

	// Scoped per session.
	g.Decide(context.Background(), "other", "Bash", nil, ModeDefault)
	if asks != 2 {
		t.Errorf("different session should ask again, asks = %d", asks)
	}

	// Cleared with session state.
	g.ClearSession("sess")
	g.Decide(context.Background(), "sess", "Bash", nil, ModeDefault)
	if asks != 3 {
		t.Errorf("after ClearSession should ask again, asks = %d", asks)
	}
}

func TestDecisionToResult(t *testing.T) {
	input := map[string]any{"command": "ls"}

	r := Approve().ToResult(input)
	if r == nil || r.Behavior != "allow" {
		t.Fatalf("Approve ToResult = %+v", r)
	}
	if r.UpdatedInput["command"] != "ls" {
		t.Error("allow result should carry the original input")
	}

	r = Deny("nope").ToResult(input)
	if r == nil || r.Behavior != "deny" || r.Message != "nope" {
		t.Errorf("Deny ToResult = %+v", r)
	}

	if Indeterminate().ToResult(input) != nil {
		t.Error("Indeterminate ToResult should be nil (pass-through)")
	}
}
