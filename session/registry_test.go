package session

import (
	"errors"
	"sync"
	"testing"

	"claudebridge/claude"
)

func newSession(id string) *Session {
	s := New("/tmp/work", "model-x")
	s.ID = id
	return s
}

func TestRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	stream := claude.NewMockStream()
	defer stream.Close()

	if displaced := r.Register(newSession("s1"), stream); displaced != nil {
		t.Error("first Register should displace nothing")
	}
	sess, ok := r.Get("s1")
	if !ok {
		t.Fatal("Get(s1) should succeed")
	}
	if sess.ID != "s1" || sess.WorkingDir != "/tmp/work" {
		t.Errorf("unexpected session record: %+v", sess)
	}
	if _, ok := r.Get("missing"); ok {
		t.Error("Get(missing) should fail")
	}
}

func TestRegisterLastWriteWins(t *testing.T) {
	r := NewRegistry()
	first := claude.NewMockStream()
	second := claude.NewMockStream()
	defer first.Close()
	defer second.Close()

	r.Register(newSession("s1"), first)
	displaced := r.Register(newSession("s1"), second)
	if displaced != claude.Stream(first) {
		t.Error("second Register should hand back the displaced stream")
	}

	got, release, err := r.Borrow("s1")
	if err != nil {
		t.Fatalf("Borrow: %v", err)
	}
	defer release()
	if got != claude.Stream(second) {
		t.Error("Borrow should return the most recently registered stream")
	}
}

func TestBorrowExclusive(t *testing.T) {
	r := NewRegistry()
	stream := claude.NewMockStream()
	defer stream.Close()
	r.Register(newSession("s1"), stream)

	_, release, err := r.Borrow("s1")
	if err != nil {
		t.Fatalf("first Borrow: %v", err)
	}
	if _, _, err := r.Borrow("s1"); !errors.Is(err, ErrBorrowed) {
		t.Errorf("second Borrow = %v, want ErrBorrowed", err)
	}
	release()
	_, release2, err := r.Borrow("s1")
	if err != nil {
		t.Fatalf("Borrow after release: %v", err)
	}
	release2()
}

func TestBorrowUnknown(t *testing.T) {
	r := NewRegistry()
	if _, _, err := r.Borrow("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Borrow(nope) = %v, want ErrNotFound", err)
	}
}

func TestRemove(t *testing.T) {
	r := NewRegistry()
	stream := claude.NewMockStream()
	defer stream.Close()
	r.Register(newSession("s1"), stream)

	got, ok := r.Remove("s1")
	if !ok || got != claude.Stream(stream) {
		t.Fatal("Remove should return the registered stream")
	}
	if _, ok := r.Get("s1"); ok {
		t.Error("session should be gone after Remove")
	}
	if _, ok := r.Remove("s1"); ok {
		t.Error("second Remove should report absence")
	}
}

func TestReleaseAfterRemoveIsNoop(t *testing.T) {
	r := NewRegistry()
	stream := claude.NewMockStream()
	replacement := claude.NewMockStream()
	defer stream.Close()
	defer replacement.Close()

	r.Register(newSession("s1"), stream)
	_, release, err := r.Borrow("s1")
	if err != nil {
		t.Fatalf("Borrow: %v", err)
	}
	r.Remove("s1")
	r.Register(newSession("s1"), replacement)

	// Stale release must not unmark the replacement entry.
	release()
	_, release2, err := r.Borrow("s1")
	if err != nil {
		t.Fatalf("Borrow of replacement: %v", err)
	}
	release2()
}

func TestListIDsSorted(t *testing.T) {
	r := NewRegistry()
	for _, id := range []string{"c", "a", "b"} {
		s := claude.NewMockStream()
		defer s.Close()
		r.Register(newSession(id), s)
	}
	ids := r.ListIDs()
	want := []string{"a", "b", "c"}
	if len(ids) != len(want) {
		t.Fatalf("ListIDs() = %v", ids)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("ListIDs()[%d] = %q, want %q", i, ids[i], want[i])
		}
	}
}

func TestConcurrentRegistryAccess(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := string(rune('a' + n))
			s := claude.NewMockStream()
			r.Register(newSession(id), s)
			if _, release, err := r.Borrow(id); err == nil {
				release()
			}
			r.Remove(id)
			s.Close()
		}(i)
	}
	wg.Wait()
	if r.Len() != 0 {
		t.Errorf("registry should be empty, has %d entries", r.Len())
	}
}
