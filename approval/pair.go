package approval

import (
	"context"
	"errors"
	"sync"
)

// RequestChannelBuffer is the buffer size for the request channel. A buffer
// of 1 lets a request be posted without blocking while still keeping at most
// one prompt pending in front of the user at a time.
const RequestChannelBuffer = 1

var (
	// ErrClosed is returned by Ask after Close has been called.
	ErrClosed = errors.New("approval channel closed")
)

// Pair is the in-process Channel implementation. The gate posts requests to
// Requests; the host UI reads them, prompts the user, and calls Respond.
type Pair struct {
	requests chan Request
	done     chan struct{}

	mu      sync.Mutex
	waiters map[string]chan Response
	closed  bool
}

// NewPair creates an in-process approval channel.
func NewPair() *Pair {
	return &Pair{
		requests: make(chan Request, RequestChannelBuffer),
		done:     make(chan struct{}),
		waiters:  make(map[string]chan Response),
	}
}

// Requests returns the channel the host UI consumes prompts from. It is
// never closed; consumers select against Done to notice shutdown.
func (p *Pair) Requests() <-chan Request {
	return p.requests
}

// Done is closed when the pair shuts down.
func (p *Pair) Done() <-chan struct{} {
	return p.done
}

// Respond delivers the user's answer. Responses with no pending request are
// dropped; a late answer after the asking turn was aborted is not an error.
func (p *Pair) Respond(resp Response) {
	p.mu.Lock()
	waiter, ok := p.waiters[resp.ID]
	if ok {
		delete(p.waiters, resp.ID)
	}
	p.mu.Unlock()

	if ok {
		waiter <- resp
	}
}

// Ask implements Channel. It posts the request and blocks until Respond is
// called with a matching id, the context is cancelled, or the pair is closed.
func (p *Pair) Ask(ctx context.Context, req Request) (Response, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return Response{}, ErrClosed
	}
	// Buffer of 1 so Respond never blocks, even if Ask already gave up.
	waiter := make(chan Response, 1)
	p.waiters[req.ID] = waiter
	p.mu.Unlock()

	select {
	case p.requests <- req:
	case <-p.done:
		p.forget(req.ID)
		return Response{}, ErrClosed
	case <-ctx.Done():
		p.forget(req.ID)
		return Response{}, ctx.Err()
	}

	select {
	case resp := <-waiter:
		return resp, nil
	case <-p.done:
		p.forget(req.ID)
		return Response{}, ErrClosed
	case <-ctx.Done():
		p.forget(req.ID)
		return Response{}, ctx.Err()
	}
}

// Close unblocks pending Ask calls with ErrClosed. The channels themselves
// stay open: an Ask blocked mid-send must never hit a closed channel, so
// shutdown is signalled through done instead. Safe to call more than once.
func (p *Pair) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.waiters = make(map[string]chan Response)
	p.mu.Unlock()

	close(p.done)
}

func (p *Pair) forget(id string) {
	p.mu.Lock()
	delete(p.waiters, id)
	p.mu.Unlock()
}

var _ Channel = (*Pair)(nil)
