package claude

import (
	"context"

	"claudebridge/approval"
	"claudebridge/gate"
)

// PreToolUseHook is invoked for every tool-use request before the engine
// executes it. A nil result means no opinion: the hook is a no-op and the
// engine's own permission flow proceeds.
type PreToolUseHook func(ctx context.Context, toolName string, toolInput map[string]any) *approval.Result

// Hooks is the lifecycle hook table passed to the engine.
type Hooks struct {
	PreToolUse PreToolUseHook
}

// Options configures one query stream.
type Options struct {
	WorkingDir string
	Model      string

	// PermissionMode is the externally-valid mode string. Always set it via
	// SetMode so plan can never leak to the engine.
	PermissionMode string

	// Resume continues a prior session by id instead of starting fresh.
	Resume string

	// EnableCheckpoints turns on file checkpointing, required for rewind.
	EnableCheckpoints bool

	Hooks Hooks
}

// SetMode records the permission mode, substituting the engine-valid value.
// Plan mode is enforced by the gate, not the engine; the engine always sees
// "default" in its place.
func (o *Options) SetMode(m gate.Mode) {
	o.PermissionMode = m.EngineValue()
}
