package approval

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestAskReceivesMatchingResponse(t *testing.T) {
	p := NewPair()
	defer p.Close()

	req := NewRequest("sess-1", "Bash", "run ls", map[string]any{"command": "ls"})

	// Host side: answer the prompt when it shows up.
	go func() {
		incoming := <-p.Requests()
		if incoming.Tool != "Bash" {
			t.Errorf("request tool = %q, want Bash", incoming.Tool)
		}
		p.Respond(Response{ID: incoming.ID, Allowed: true})
	}()

	resp, err := p.Ask(context.Background(), req)
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if !resp.Allowed {
		t.Error("expected allowed response")
	}
	if resp.ID != req.ID {
		t.Errorf("response id = %q, want %q", resp.ID, req.ID)
	}
}

func TestAskHonorsContextCancellation(t *testing.T) {
	p := NewPair()
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		_, err := p.Ask(ctx, NewRequest("sess-1", "Edit", "", nil))
		errCh <- err
	}()

	// Drain the request but never respond, then cancel the asking context.
	<-p.Requests()
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Ask error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Ask did not return after cancellation")
	}
}

func TestLateRespondAfterCancelIsDropped(t *testing.T) {
	p := NewPair()
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())
	req := NewRequest("sess-1", "Write", "", nil)

	done := make(chan struct{})
	go func() {
		p.Ask(ctx, req)
		close(done)
	}()

	<-p.Requests()
	cancel()
	<-done

	// Must not panic or block.
	p.Respond(Response{ID: req.ID, Allowed: true})
}

func TestCloseUnblocksAsk(t *testing.T) {
	p := NewPair()

	errCh := make(chan error, 1)
	go func() {
		_, err := p.Ask(context.Background(), NewRequest("sess-1", "Bash", "", nil))
		errCh <- err
	}()

	<-p.Requests()
	p.Close()

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrClosed) {
			t.Errorf("Ask error = %v, want ErrClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Ask did not return after Close")
	}
}

func TestCloseUnblocksAskStuckPosting(t *testing.T) {
	p := NewPair()

	// Fill the request buffer so further Asks block mid-send with nobody
	// consuming, then close. Every Ask must come back with ErrClosed; a
	// panic here would take the whole tool-use evaluation down.
	const asks = 3
	errCh := make(chan error, asks)
	for i := 0; i < asks; i++ {
		go func() {
			defer func() {
				if r := recover(); r != nil {
					errCh <- fmt.Errorf("Ask panicked: %v", r)
				}
			}()
			_, err := p.Ask(context.Background(), NewRequest("sess-1", "Bash", "", nil))
			errCh <- err
		}()
	}

	// Give the goroutines a moment to reach the send before closing.
	time.Sleep(50 * time.Millisecond)
	p.Close()

	for i := 0; i < asks; i++ {
		select {
		case err := <-errCh:
			if !errors.Is(err, ErrClosed) {
				t.Errorf("Ask error = %v, want ErrClosed", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("Ask did not return after Close")
		}
	}
}

func TestAskAfterCloseFailsFast(t *testing.T) {
	p := NewPair()
	p.Close()

	_, err := p.Ask(context.Background(), NewRequest("sess-1", "Read", "", nil))
	if !errors.Is(err, ErrClosed) {
		t.Errorf("Ask error = %v, want ErrClosed", err)
	}
}

func TestNewRequestGeneratesUniqueIDs(t *testing.T) {
	a := NewRequest("s", "Bash", "", nil)
	b := NewRequest("s", "Bash", "", nil)
	if a.ID == "" || a.ID == b.ID {
		t.Errorf("expected unique non-empty ids, got %q and %q", a.ID, b.ID)
	}
}
