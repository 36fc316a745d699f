package gate

import "testing"

func TestCoordinatorWritesStoreBeforeReturning(t *testing.T) {
	store := NewStore()
	coord := NewCoordinator(store)

	coord.OnExitPlanApproved("sess", ModeBypassPermissions)

	if m, ok := store.Get("sess"); !ok || m != ModeBypassPermissions {
		t.Errorf("store = %v, %v; want bypassPermissions immediately", m, ok)
	}
}

func TestCoordinatorUnknownSessionUsesPendingKey(t *testing.T) {
	store := NewStore()
	coord := NewCoordinator(store)

	coord.OnExitPlanApproved("", ModeAcceptEdits)

	if m, ok := store.Get(PendingSessionID); !ok || m != ModeAcceptEdits {
		t.Errorf("pending entry = %v, %v; want acceptEdits", m, ok)
	}

	// The manager later learns the real id and adopts the entry.
	if !store.Adopt(PendingSessionID, "real-id") {
		t.Fatal("Adopt should move the pending entry")
	}
	if m, _ := store.Get("real-id"); m != ModeAcceptEdits {
		t.Errorf("adopted mode = %v, want acceptEdits", m)
	}
}

func TestCoordinatorNotificationsDropWhenConsumerLags(t *testing.T) {
	store := NewStore()
	coord := NewCoordinator(store)

	// Overflow the buffer; none of these may block.
	for i := 0; i < ModeChangeBuffer+5; i++ {
		coord.OnExitPlanApproved("sess", ModeDefault)
	}

	drained := 0
	for {
		select {
		case <-coord.Changes():
			drained++
			continue
		default:
		}
		break
	}
	if drained != ModeChangeBuffer {
		t.Errorf("drained %d notifications, want %d", drained, ModeChangeBuffer)
	}
}
