package claude

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"claudebridge/cli"
	"claudebridge/logger"
)

// stopGracePeriod is how long Close waits for the process to exit after
// stdin closes before killing it.
const stopGracePeriod = 2 * time.Second

// controlResponseTimeout bounds the wait for an acknowledgement of an
// outbound control request.
const controlResponseTimeout = 60 * time.Second

// SubprocessEngine runs the engine CLI as a child process, speaking the
// stream-json protocol over its stdin and stdout.
type SubprocessEngine struct {
	// Binary is the CLI executable name, default "claude".
	Binary string

	log *slog.Logger
}

// NewSubprocessEngine creates an engine backed by the CLI found in PATH.
func NewSubprocessEngine() *SubprocessEngine {
	return &SubprocessEngine{
		Binary: "claude",
		log:    logger.WithComponent("engine"),
	}
}

// Preflight verifies the external tools are installed before the first
// query. The returned error is suitable for showing to the user directly.
func (e *SubprocessEngine) Preflight() error {
	return cli.ValidateRequired(cli.DefaultPrerequisites())
}

// BuildCommandArgs builds the CLI argument list for one query stream.
// Exported for testing to verify argument construction.
func BuildCommandArgs(opts Options) []string {
	args := []string{
		"--print",
		"--output-format", "stream-json",
		"--input-format", "stream-json",
		"--verbose",
	}
	if opts.Resume != "" {
		args = append(args, "--resume", opts.Resume)
	}
	if opts.Model != "" {
		args = append(args, "--model", opts.Model)
	}
	if opts.PermissionMode != "" && opts.PermissionMode != "default" {
		args = append(args, "--permission-mode", opts.PermissionMode)
	}
	if opts.EnableCheckpoints {
		args = append(args, "--enable-file-checkpointing")
	}
	if opts.Hooks.PreToolUse != nil {
		// Route the CLI's permission prompts back over this stream.
		args = append(args, "--permission-prompt-tool", "stdio")
	}
	return args
}

// StartQuery spawns the CLI, sends the prompt, and returns the live stream.
func (e *SubprocessEngine) StartQuery(ctx context.Context, prompt string, opts Options) (Stream, error) {
	binary := e.Binary
	if binary == "" {
		binary = "claude"
	}

	args := BuildCommandArgs(opts)
	e.log.Debug("starting engine process", "command", binary+" "+strings.Join(args, " "))

	cmd := exec.Command(binary, args...)
	cmd.Dir = opts.WorkingDir

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to get stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("failed to get stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdin.Close()
		stdout.Close()
		return nil, fmt.Errorf("failed to get stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		stderr.Close()
		return nil, fmt.Errorf("failed to start engine process: %w", err)
	}

	s := &subprocessStream{
		cmd:      cmd,
		stdin:    stdin,
		hooks:    opts.Hooks,
		msgs:     make(chan StreamMessage, 64),
		pending:  make(map[string]chan controlResponse),
		closing:  make(chan struct{}),
		waitDone: make(chan struct{}),
		log:      e.log.With("pid", cmd.Process.Pid),
	}

	go s.readOutput(bufio.NewReader(stdout))
	go s.drainStderr(bufio.NewReader(stderr))
	go s.monitorExit()

	if prompt != "" {
		if err := s.sendUserMessage(prompt); err != nil {
			s.Close()
			return nil, err
		}
	}

	return s, nil
}

// controlEnvelope is the wire shape shared by both control directions.
type controlEnvelope struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Request   *controlRequest `json:"request,omitempty"`
	Response  *controlResult  `json:"response,omitempty"`
}

type controlRequest struct {
	Subtype     string          `json:"subtype"`
	ToolName    string          `json:"tool_name,omitempty"`
	Input       json.RawMessage `json:"input,omitempty"`
	MessageUUID string          `json:"message_uuid,omitempty"`
}

type controlResult struct {
	Subtype   string          `json:"subtype"` // "success" or "error"
	RequestID string          `json:"request_id"`
	Error     string          `json:"error,omitempty"`
	Response  json.RawMessage `json:"response,omitempty"`
}

type controlResponse struct {
	err error
}

type subprocessStream struct {
	cmd   *exec.Cmd
	hooks Hooks
	msgs  chan StreamMessage
	log   *slog.Logger

	mu        sync.Mutex
	stdin     io.WriteCloser
	closed    bool
	reqSeq    int
	pending   map[string]chan controlResponse
	stderrBuf strings.Builder

	closing  chan struct{}
	waitDone chan struct{}
	waitErr  error
}

func (s *subprocessStream) Messages() <-chan StreamMessage {
	return s.msgs
}

// sendUserMessage writes one user turn to the CLI's stdin.
func (s *subprocessStream) sendUserMessage(text string) error {
	msg := map[string]any{
		"type": "user",
		"message": map[string]any{
			"role": "user",
			"content": []map[string]any{
				{"type": "text", "text": text},
			},
		},
	}
	return s.writeLine(msg)
}

func (s *subprocessStream) writeLine(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode stream input: %w", err)
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.stdin == nil {
		return fmt.Errorf("stream is closed")
	}
	if _, err := s.stdin.Write(data); err != nil {
		return fmt.Errorf("failed to write to engine stdin: %w", err)
	}
	return nil
}

// sendControlRequest issues one control request and waits for its
// acknowledgement or the context.
func (s *subprocessStream) sendControlRequest(ctx context.Context, req controlRequest) error {
	s.mu.Lock()
	s.reqSeq++
	id := fmt.Sprintf("req_%d", s.reqSeq)
	waiter := make(chan controlResponse, 1)
	s.pending[id] = waiter
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
	}()

	env := controlEnvelope{Type: "control_request", RequestID: id, Request: &req}
	if err := s.writeLine(env); err != nil {
		return err
	}

	select {
	case resp := <-waiter:
		return resp.err
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(controlResponseTimeout):
		return fmt.Errorf("no response to %s control request after %s", req.Subtype, controlResponseTimeout)
	}
}

// RewindToCheckpoint asks the CLI to restore files to the checkpoint at
// targetUUID. A missing checkpoint comes back as an error carrying the CLI's
// message text.
func (s *subprocessStream) RewindToCheckpoint(ctx context.Context, targetUUID string) error {
	return s.sendControlRequest(ctx, controlRequest{
		Subtype:     "rewind_files",
		MessageUUID: targetUUID,
	})
}

// Interrupt stops the current operation. The control request is preferred;
// if stdin is already gone, SIGINT is the fallback.
func (s *subprocessStream) Interrupt() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.sendControlRequest(ctx, controlRequest{Subtype: "interrupt"}); err != nil {
		s.log.Debug("interrupt control request failed, sending SIGINT", "error", err)
		if s.cmd.Process != nil {
			return s.cmd.Process.Signal(syscall.SIGINT)
		}
		return err
	}
	return nil
}

/// Close shuts the stream down: stdin closes to signal EOF, the process gets
// a grace period to exit, then it is killed. Safe to call more than once.
func (s *subprocessStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	stdin := s.stdin
	s.stdin = nil
	s.mu.Unlock()
	close(s.closing)

	if stdin != nil {
		stdin.Close()
	}

	select {
	case <-s.waitDone:
	case <-time.After(stopGracePeriod):
		s.log.Debug("force killing engine process")
		if s.cmd.Process != nil {
			s.cmd.Process.Kill()
		}
		<-s.waitDone
	}
	return nil
}

// readOutput consumes stdout line by line, routing control traffic and
// forwarding stream messages until EOF.
func (s *subprocessStream) readOutput(reader *bufio.Reader) {
	defer close(s.msgs)

	for {
		line, err := reader.ReadString('\n')
		if line != "" {
			s.handleLine(strings.TrimSpace(line))
		}
		if err != nil {
			return
		}
	}
}

func (s *subprocessStream) handleLine(line string) {
	if line == "" {
		return
	}

	// Control traffic never reaches the message channel.
	if strings.Contains(line, `"control_request"`) || strings.Contains(line, `"control_response"`) {
		var env controlEnvelope
		if err := json.Unmarshal([]byte(line), &env); err == nil {
			switch env.Type {
			case "control_request":
				s.handleControlRequest(env)
				return
			case "control_response":
				s.handleControlResponse(env)
				return
			}
		}
	}

	msg := ParseLine(line, s.log)
	if msg == nil {
		return
	}
	// If the consumer has gone away the buffer can fill; closing frees the
	// read loop so shutdown is not held hostage to it.
	select {
	case s.msgs <- *msg:
	case <-s.closing:
	}
}

// handleControlRequest answers the CLI's inbound requests. Only the
// permission prompt is understood; anything else is refused so the CLI can
// fall back on its own behavior.
func (s *subprocessStream) handleControlRequest(env controlEnvelope) {
	if env.Request == nil {
		return
	}
	if env.Request.Subtype != "can_use_tool" {
		s.respondControl(env.RequestID, "error", "unsupported control request: "+env.Request.Subtype, nil)
		return
	}

	// Answer off the read loop: the decision may wait on a human.
	go func() {
		var input map[string]any
		if len(env.Request.Input) > 0 {
			if err := json.Unmarshal(env.Request.Input, &input); err != nil {
				s.log.Warn("malformed tool input in permission request", "error", err)
			}
		}

		var payload map[string]any
		if s.hooks.PreToolUse != nil {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			if res := s.hooks.PreToolUse(ctx, env.Request.ToolName, input); res != nil {
				if res.Behavior == "allow" {
					payload = map[string]any{"behavior": "allow", "updatedInput": res.UpdatedInput}
				} else {
					payload = map[string]any{"behavior": "deny", "message": res.Message}
				}
			}
		}
		if payload == nil {
			// The wire protocol demands an answer; an unhandled request
			// cannot pass through, so it is refused.
			payload = map[string]any{"behavior": "deny", "message": "Permission request was not handled"}
		}
		s.respondControl(env.RequestID, "success", "", payload)
	}()
}

func (s *subprocessStream) respondControl(requestID, subtype, errText string, payload map[string]any) {
	result := controlResult{Subtype: subtype, RequestID: requestID, Error: errText}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			s.log.Warn("failed to encode control response payload", "error", err)
			return
		}
		result.Response = data
	}
	if err := s.writeLine(controlEnvelope{Type: "control_response", Response: &result}); err != nil {
		s.log.Warn("failed to send control response", "requestID", requestID, "error", err)
	}
}

// handleControlResponse resolves the waiter for an outbound request.
func (s *subprocessStream) handleControlResponse(env controlEnvelope) {
	if env.Response == nil {
		return
	}
	s.mu.Lock()
	waiter, ok := s.pending[env.Response.RequestID]
	s.mu.Unlock()
	if !ok {
		s.log.Debug("control response for unknown request", "requestID", env.Response.RequestID)
		return
	}

	var err error
	if env.Response.Subtype == "error" {
		err = fmt.Errorf("%s", env.Response.Error)
	}
	waiter <- controlResponse{err: err}
}

func (s *subprocessStream) drainStderr(reader *bufio.Reader) {
	for {
		line, err := reader.ReadString('\n')
		if line != "" {
			s.mu.Lock()
			s.stderrBuf.WriteString(line)
			s.mu.Unlock()
			s.log.Debug("engine stderr", "line", strings.TrimSpace(line))
		}
		if err != nil {
			return
		}
	}
}

// Stderr returns everything the process has written to stderr so far, for
// failure diagnostics.
func (s *subprocessStream) Stderr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stderrBuf.String()
}

// monitorExit is the sole caller of Wait; Close selects on waitDone instead
// of calling Wait twice.
func (s *subprocessStream) monitorExit() {
	s.waitErr = s.cmd.Wait()
	if s.waitErr != nil {
		s.log.Debug("engine process exited", "error", s.waitErr)
	}
	close(s.waitDone)
}

var _ Stream = (*subprocessStream)(nil)
var _ Engine = (*SubprocessEngine)(nil)
