package approval

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"claudebridge/logger"
)

// SocketWriteTimeout bounds each write so an unresponsive client cannot
// wedge the gate.
const SocketWriteTimeout = 10 * time.Second

// ErrNoClient is returned by Ask when no approval client is connected.
var ErrNoClient = errors.New("approval: no client connected")

// socketMessage is the wire envelope. The client receives approval_request
// lines and answers with approval_response lines; everything is
// newline-delimited JSON.
type socketMessage struct {
	Type     string    `json:"type"` // "approval_request" or "approval_response"
	Request  *Request  `json:"request,omitempty"`
	Response *Response `json:"response,omitempty"`
}

// SocketServer exposes the approval channel over a unix socket. The IDE
// plugin connects as a client; each Ask is forwarded to it and the matching
// response is routed back by request id. One client at a time — a new
// connection displaces the old one.
type SocketServer struct {
	path            string
	listener        net.Listener
	log             *slog.Logger
	responseTimeout time.Duration

	mu      sync.Mutex
	conn    net.Conn
	waiters map[string]chan Response
	closed  bool
}

// SocketServerOption configures a SocketServer.
type SocketServerOption func(*SocketServer)

// WithResponseTimeout bounds how long Ask waits for a human decision. By
// default there is no bound; the wait ends only with a response or when the
// caller's context is done.
func WithResponseTimeout(d time.Duration) SocketServerOption {
	return func(s *SocketServer) {
		s.responseTimeout = d
	}
}

// NewSocketServer listens on socketPath, removing any stale socket file
// first, and starts accepting clients.
func NewSocketServer(socketPath string, opts ...SocketServerOption) (*SocketServer, error) {
	if err := os.MkdirAll(filepath.Dir(socketPath), 0700); err != nil {
		return nil, fmt.Errorf("failed to create socket directory: %w", err)
	}
	// A stale file from a crashed run blocks the listen.
	os.Remove(socketPath)

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", socketPath, err)
	}

	s := &SocketServer{
		path:     socketPath,
		listener: listener,
		log:      logger.WithComponent("approval-socket"),
		waiters:  make(map[string]chan Response),
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.acceptLoop()
	return s, nil
}

// SocketPath returns the path clients connect to.
func (s *SocketServer) SocketPath() string {
	return s.path
}

func (s *SocketServer) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if !closed {
				s.log.Warn("accept failed", "error", err)
			}
			return
		}

		s.mu.Lock()
		old := s.conn
		s.conn = conn
		s.mu.Unlock()
		if old != nil {
			s.log.Info("approval client replaced")
			old.Close()
		} else {
			s.log.Info("approval client connected")
		}

		go s.readLoop(conn)
	}
}

// readLoop routes the client's responses to their waiters until the
// connection drops.
func (s *SocketServer) readLoop(conn net.Conn) {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		var msg socketMessage
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			s.log.Warn("malformed client message", "error", err)
			continue
		}
		if msg.Type != "approval_response" || msg.Response == nil {
			s.log.Warn("unexpected client message", "type", msg.Type)
			continue
		}

		s.mu.Lock()
		waiter, ok := s.waiters[msg.Response.ID]
		s.mu.Unlock()
		if !ok {
			s.log.Debug("response for unknown request", "requestID", msg.Response.ID)
			continue
		}
		// The waiter buffer holds one response. A duplicate for the same
		// request must not stall the loop, so never block here.
		select {
		case waiter <- *msg.Response:
		default:
			s.log.Debug("duplicate response dropped", "requestID", msg.Response.ID)
		}
	}

	s.mu.Lock()
	if s.conn == conn {
		s.conn = nil
	}
	s.mu.Unlock()
	s.log.Info("approval client disconnected")
}

// Ask forwards the request to the connected client and waits for its
// decision or the context, whichever comes first. A response timeout applies
// only when the server was built with WithResponseTimeout.
func (s *SocketServer) Ask(ctx context.Context, req Request) (Response, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Response{}, errors.New("approval: socket server closed")
	}
	conn := s.conn
	if conn == nil {
		s.mu.Unlock()
		return Response{}, ErrNoClient
	}
	waiter := make(chan Response, 1)
	s.waiters[req.ID] = waiter
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.waiters, req.ID)
		s.mu.Unlock()
	}()

	data, err := json.Marshal(socketMessage{Type: "approval_request", Request: &req})
	if err != nil {
		return Response{}, fmt.Errorf("failed to encode approval request: %w", err)
	}
	data = append(data, '\n')

	conn.SetWriteDeadline(time.Now().Add(SocketWriteTimeout))
	if _, err := conn.Write(data); err != nil {
		return Response{}, fmt.Errorf("failed to send approval request: %w", err)
	}
	conn.SetWriteDeadline(time.Time{})

	var timeout <-chan time.Time
	if s.responseTimeout > 0 {
		timer := time.NewTimer(s.responseTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case resp := <-waiter:
		return resp, nil
	case <-ctx.Done():
		return Response{}, ctx.Err()
	case <-timeout:
		return Response{}, fmt.Errorf("no approval response after %s", s.responseTimeout)
	}
}

// Close stops accepting, drops the client, and removes the socket file.
func (s *SocketServer) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	err := s.listener.Close()
	os.Remove(s.path)
	return err
}

var _ Channel = (*SocketServer)(nil)
