// Package gate implements the session permission/mode coordination core:
// the per-tool-invocation decision function, the process-wide session mode
// store, and the coordinator that turns an approved plan exit into a visible
// mode switch.
//
// Plan mode is emulated entirely here. The query engine has no native concept
// of a non-executing planning mode, so "plan" is never sent to it (see
// Mode.EngineValue) and tool suppression happens in the gate instead.
package gate

import "fmt"

// Mode is a session permission mode.
type Mode string

const (
	// ModeDefault routes every non-pre-approved tool through the approval channel.
	ModeDefault Mode = "default"
	// ModeAcceptEdits auto-approves file-editing tools (see ToolSetFileEdits).
	ModeAcceptEdits Mode = "acceptEdits"
	// ModeBypassPermissions auto-approves every tool.
	ModeBypassPermissions Mode = "bypassPermissions"
	// ModePlan suppresses every tool except ExitPlanTool. Enforced locally;
	// never forwarded to the engine.
	ModePlan Mode = "plan"
)

// ExitPlanTool is the distinguished tool whose approval carries a target mode
// and ends plan mode.
const ExitPlanTool = "ExitPlanMode"

// ParseMode validates and returns a Mode from a string.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeDefault, ModeAcceptEdits, ModeBypassPermissions, ModePlan:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("unknown permission mode: %q", s)
	}
}

// EngineValue returns the mode string valid for the query engine's
// configuration. The engine does not accept "plan"; it is substituted with
// "default" and suppression stays in the gate.
func (m Mode) EngineValue() string {
	if m == ModePlan {
		return string(ModeDefault)
	}
	return string(m)
}

// Executing reports whether tools may run under this mode.
func (m Mode) Executing() bool {
	return m != ModePlan
}
