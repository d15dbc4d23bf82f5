package realtime

import (
	"context"
	"sync"
	"testing"
)

func TestJoinRetriesWhenRoomClosesUnderneath(t *testing.T) {
	registry := newTestRegistry(t, &fakeContentStore{})
	if err := registry.Join(context.Background(), "nb-1", participant("a"), &fakeOutbox{}); err != nil {
		t.Fatalf("seed join failed: %v", err)
	}

	registry.mu.Lock()
	stale := registry.rooms["nb-1"]
	registry.mu.Unlock()

	registry.Leave(context.Background(), "nb-1", participant("a"))

	// Recreate the window where a joiner looks up the room just before the
	// departing last member releases it: the closed room is still in the map.
	registry.mu.Lock()
	registry.rooms["nb-1"] = stale
	registry.mu.Unlock()

	if err := registry.Join(context.Background(), "nb-1", participant("b"), &fakeOutbox{}); err != nil {
		t.Fatalf("join against a closing room failed: %v", err)
	}

	registry.mu.Lock()
	live := registry.rooms["nb-1"]
	registry.mu.Unlock()
	if live == stale {
		t.Fatalf("expected the closed room to be replaced by a fresh one")
	}

	roster := registry.Roster("nb-1")
	if len(roster) != 1 || roster[0].ID != "b" {
		t.Fatalf("expected b to be the sole member, got %v", roster)
	}
	if err := registry.ApplyTextUpdate(context.Background(), "nb-1", participant("b"), "still live"); err != nil {
		t.Fatalf("update from the joiner rejected: %v", err)
	}
}

func TestClosedRoomRejectsNewMembers(t *testing.T) {
	room := newRoom("nb-1", "", nil)
	if !room.addMember(participant("a"), &fakeOutbox{}) {
		t.Fatalf("expected first join to be accepted")
	}
	if removed, remaining := room.removeMember("a"); !removed || remaining != 0 {
		t.Fatalf("expected last member removal, got removed=%v remaining=%d", removed, remaining)
	}
	if room.addMember(participant("b"), &fakeOutbox{}) {
		t.Fatalf("expected a closed room to reject new members")
	}
}

func TestConcurrentLastLeaveAndJoinKeepJoinerLive(t *testing.T) {
	registry := newTestRegistry(t, &fakeContentStore{})

	for i := 0; i < 200; i++ {
		if err := registry.Join(context.Background(), "nb-1", participant("a"), &fakeOutbox{}); err != nil {
			t.Fatalf("iteration %d: seed join failed: %v", i, err)
		}

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			registry.Leave(context.Background(), "nb-1", participant("a"))
		}()
		go func() {
			defer wg.Done()
			if err := registry.Join(context.Background(), "nb-1", participant("b"), &fakeOutbox{}); err != nil {
				t.Errorf("racing join failed: %v", err)
			}
		}()
		wg.Wait()

		var joinerPresent bool
		for _, p := range registry.Roster("nb-1") {
			if p.ID == "b" {
				joinerPresent = true
			}
		}
		if !joinerPresent {
			t.Fatalf("iteration %d: joiner missing from roster after racing leave", i)
		}
		if err := registry.ApplyTextUpdate(context.Background(), "nb-1", participant("b"), "ping"); err != nil {
			t.Fatalf("iteration %d: joiner's update rejected: %v", i, err)
		}

		registry.Leave(context.Background(), "nb-1", participant("b"))
	}

	if count := registry.RoomCount(); count != 0 {
		t.Fatalf("expected all rooms released, got %d", count)
	}
}
