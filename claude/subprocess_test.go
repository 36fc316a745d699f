package claude

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"claudebridge/approval"
	"claudebridge/gate"
)

func argsContain(args []string, flag, value string) bool {
	for i, a := range args {
		if a == flag {
			if value == "" {
				return true
			}
			return i+1 < len(args) && args[i+1] == value
		}
	}
	return false
}

func TestBuildCommandArgsNewSession(t *testing.T) {
	var opts Options
	opts.SetMode(gate.ModeDefault)
	args := BuildCommandArgs(opts)

	if !argsContain(args, "--output-format", "stream-json") {
		t.Errorf("missing stream-json output format: %v", args)
	}
	if !argsContain(args, "--input-format", "stream-json") {
		t.Errorf("missing stream-json input format: %v", args)
	}
	if argsContain(args, "--resume", "") {
		t.Errorf("new session must not carry --resume: %v", args)
	}
	if argsContain(args, "--permission-mode", "") {
		t.Errorf("default mode must not be passed explicitly: %v", args)
	}
}

func TestBuildCommandArgsResume(t *testing.T) {
	opts := Options{Resume: "sess-1", Model: "opus", EnableCheckpoints: true}
	opts.SetMode(gate.ModeAcceptEdits)
	args := BuildCommandArgs(opts)

	if !argsContain(args, "--resume", "sess-1") {
		t.Errorf("missing --resume: %v", args)
	}
	if !argsContain(args, "--model", "opus") {
		t.Errorf("missing --model: %v", args)
	}
	if !argsContain(args, "--permission-mode", "acceptEdits") {
		t.Errorf("missing --permission-mode: %v", args)
	}
	if !argsContain(args, "--enable-file-checkpointing", "") {
		t.Errorf("missing checkpointing flag: %v", args)
	}
}

func TestBuildCommandArgsPlanNeverSent(t *testing.T) {
	var opts Options
	opts.SetMode(gate.ModePlan)
	args := BuildCommandArgs(opts)

	joined := strings.Join(args, " ")
	if strings.Contains(joined, "plan") {
		t.Errorf("plan must never appear in CLI args: %v", args)
	}
}

func TestHandleLineUnblocksOnClose(t *testing.T) {
	s := &subprocessStream{
		msgs:    make(chan StreamMessage, 1),
		closing: make(chan struct{}),
		log:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	// Fill the buffer with nobody consuming.
	s.handleLine(`{"type":"assistant"}`)

	done := make(chan struct{})
	go func() {
		s.handleLine(`{"type":"assistant"}`)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("handleLine should block while the buffer is full")
	case <-time.After(50 * time.Millisecond):
	}

	close(s.closing)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handleLine still blocked after close")
	}
}

func TestBuildCommandArgsPermissionPromptTool(t *testing.T) {
	var opts Options
	args := BuildCommandArgs(opts)
	if argsContain(args, "--permission-prompt-tool", "") {
		t.Errorf("no hook wired, prompt tool should be absent: %v", args)
	}

	opts.Hooks.PreToolUse = func(_ context.Context, _ string, _ map[string]any) *approval.Result {
		return nil
	}
	args = BuildCommandArgs(opts)
	if !argsContain(args, "--permission-prompt-tool", "stdio") {
		t.Errorf("hook wired, prompt tool should be present: %v", args)
	}
}
