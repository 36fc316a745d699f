package claude

import (
	"context"
	"fmt"
	"sync"
)

// MockStream is a scripted Stream for tests. Emit feeds messages to the
// consumer; End closes the stream. Rewind and interrupt behavior is
// overridable per test, and all calls are recorded.
type MockStream struct {
	mu          sync.Mutex
	msgs        chan StreamMessage
	closed      bool
	RewindFunc  func(ctx context.Context, targetUUID string) error
	InterruptFn func() error

	RewindCalls []string
	Interrupts  int
	CloseCalls  int

	// StderrText is returned by Stderr, for tests exercising diagnostics.
	StderrText string
}

// NewMockStream creates a MockStream with a buffered message channel.
func NewMockStream() *MockStream {
	return &MockStream{msgs: make(chan StreamMessage, 64)}
}

// Emit queues a message for the consumer.
func (s *MockStream) Emit(msg StreamMessage) {
	s.msgs <- msg
}

// End closes the message channel, signalling stream completion.
func (s *MockStream) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.msgs)
	}
}

func (s *MockStream) Messages() <-chan StreamMessage {
	return s.msgs
}

func (s *MockStream) RewindToCheckpoint(ctx context.Context, targetUUID string) error {
	s.mu.Lock()
	s.RewindCalls = append(s.RewindCalls, targetUUID)
	fn := s.RewindFunc
	s.mu.Unlock()

	if fn != nil {
		return fn(ctx, targetUUID)
	}
	return nil
}

func (s *MockStream) Interrupt() error {
	s.mu.Lock()
	s.Interrupts++
	fn := s.InterruptFn
	s.mu.Unlock()

	if fn != nil {
		return fn()
	}
	return nil
}

func (s *MockStream) Stderr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.StderrText
}

func (s *MockStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCalls++
	if !s.closed {
		s.closed = true
		close(s.msgs)
	}
	return nil
}

var _ Stream = (*MockStream)(nil)

// StartCall records one MockEngine.StartQuery invocation.
type StartCall struct {
	Prompt  string
	Options Options
}

// MockEngine is a scripted Engine for tests.
type MockEngine struct {
	mu        sync.Mutex
	StartFunc func(ctx context.Context, prompt string, opts Options) (Stream, error)
	Calls     []StartCall
}

func (e *MockEngine) StartQuery(ctx context.Context, prompt string, opts Options) (Stream, error) {
	e.mu.Lock()
	e.Calls = append(e.Calls, StartCall{Prompt: prompt, Options: opts})
	fn := e.StartFunc
	e.mu.Unlock()

	if fn != nil {
		return fn(ctx, prompt, opts)
	}
	return nil, fmt.Errorf("MockEngine: no StartFunc configured")
}

// LastCall returns the most recent StartQuery invocation.
func (e *MockEngine) LastCall() (StartCall, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.Calls) == 0 {
		return StartCall{}, false
	}
	return e.Calls[len(e.Calls)-1], true
}

var _ Engine = (*MockEngine)(nil)
