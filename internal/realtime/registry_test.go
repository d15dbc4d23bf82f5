package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/collabnote/collabnote/internal/content"
	"github.com/collabnote/collabnote/protocol"
)

type fakeOutbox struct {
	mu       sync.Mutex
	messages []protocol.Envelope
	reject   bool
}

func (o *fakeOutbox) Deliver(message []byte) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.reject {
		return false
	}
	var envelope protocol.Envelope
	if err := json.Unmarshal(message, &envelope); err != nil {
		panic(err)
	}
	o.messages = append(o.messages, envelope)
	return true
}

func (o *fakeOutbox) received(event string) []protocol.Envelope {
	o.mu.Lock()
	defer o.mu.Unlock()
	var matched []protocol.Envelope
	for _, envelope := range o.messages {
		if envelope.Event == event {
			matched = append(matched, envelope)
		}
	}
	return matched
}

type fakeContentStore struct {
	mu       sync.Mutex
	snapshot content.SnapshotData
	loads    int
	activity []content.ActivityEvent
}

func (s *fakeContentStore) LoadSnapshot(_ context.Context, _ content.NotebookID) (content.SnapshotData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loads++
	return s.snapshot, nil
}

func (s *fakeContentStore) RecordActivity(_ context.Context, event content.ActivityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activity = append(s.activity, event)
	return nil
}

func (s *fakeContentStore) actions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var actions []string
	for _, event := range s.activity {
		actions = append(actions, event.Action)
	}
	return actions
}

func newTestRegistry(t *testing.T, store *fakeContentStore) *Registry {
	t.Helper()
	registry, err := NewRegistry(RegistryConfig{ContentStore: store})
	if err != nil {
		t.Fatalf("failed to construct registry: %v", err)
	}
	return registry
}

func participant(id string) protocol.Participant {
	return protocol.Participant{ID: id, DisplayName: "User " + id, Color: "#6366f1"}
}

func TestJoinSendsSnapshotAndRosterToJoiner(t *testing.T) {
	store := &fakeContentStore{snapshot: content.SnapshotData{
		TextContent: "<p>seeded</p>",
		Drawing:     protocol.DrawingData{Paths: []protocol.DrawPath{{Color: "#fff"}}},
	}}
	registry := newTestRegistry(t, store)

	outbox := &fakeOutbox{}
	if err := registry.Join(context.Background(), "nb-1", participant("a"), outbox); err != nil {
		t.Fatalf("unexpected join error: %v", err)
	}

	syncs := outbox.received(protocol.EventContentSync)
	if len(syncs) != 1 {
		t.Fatalf("expected one content-sync, got %d", len(syncs))
	}
	var sync protocol.ContentSyncPayload
	if err := json.Unmarshal(syncs[0].Data, &sync); err != nil {
		t.Fatalf("failed to decode content-sync: %v", err)
	}
	if sync.TextContent != "<p>seeded</p>" || len(sync.DrawingData.Paths) != 1 {
		t.Fatalf("unexpected sync payload: %#v", sync)
	}

	rosters := outbox.received(protocol.EventOnlineUsers)
	if len(rosters) != 1 {
		t.Fatalf("expected one roster message, got %d", len(rosters))
	}
	var roster protocol.OnlineUsersPayload
	if err := json.Unmarshal(rosters[0].Data, &roster); err != nil {
		t.Fatalf("failed to decode roster: %v", err)
	}
	if len(roster.Users) != 1 || roster.Users[0].ID != "a" {
		t.Fatalf("unexpected roster: %#v", roster.Users)
	}
}

func TestJoinAnnouncesArrivalToExistingMembersOnly(t *testing.T) {
	registry := newTestRegistry(t, &fakeContentStore{})

	first := &fakeOutbox{}
	second := &fakeOutbox{}
	if err := registry.Join(context.Background(), "nb-1", participant("a"), first); err != nil {
		t.Fatalf("unexpected join error: %v", err)
	}
	if err := registry.Join(context.Background(), "nb-1", participant("b"), second); err != nil {
		t.Fatalf("unexpected join error: %v", err)
	}

	joins := first.received(protocol.EventUserJoined)
	if len(joins) != 1 {
		t.Fatalf("expected existing member to see one user-joined, got %d", len(joins))
	}
	var delta protocol.PresencePayload
	if err := json.Unmarshal(joins[0].Data, &delta); err != nil {
		t.Fatalf("failed to decode presence delta: %v", err)
	}
	if delta.User.ID != "b" {
		t.Fatalf("unexpected joining participant: %#v", delta.User)
	}
	if len(second.received(protocol.EventUserJoined)) != 0 {
		t.Fatal("joiner must not receive its own user-joined echo")
	}
}

func TestPresenceSymmetryAfterJoinAndLeave(t *testing.T) {
	registry := newTestRegistry(t, &fakeContentStore{})

	if err := registry.Join(context.Background(), "nb-1", participant("a"), &fakeOutbox{}); err != nil {
		t.Fatalf("unexpected join error: %v", err)
	}
	before := registry.Roster("nb-1")

	observer := &fakeOutbox{}
	if err := registry.Join(context.Background(), "nb-1", participant("b"), observer); err != nil {
		t.Fatalf("unexpected join error: %v", err)
	}
	registry.Leave(context.Background(), "nb-1", participant("b"))

	after := registry.Roster("nb-1")
	if len(after) != len(before) || after[0].ID != before[0].ID {
		t.Fatalf("roster mismatch, before %#v after %#v", before, after)
	}
}

func TestRoomReleasedWhenLastParticipantLeaves(t *testing.T) {
	store := &fakeContentStore{}
	registry := newTestRegistry(t, store)

	if err := registry.Join(context.Background(), "nb-1", participant("a"), &fakeOutbox{}); err != nil {
		t.Fatalf("unexpected join error: %v", err)
	}
	registry.Leave(context.Background(), "nb-1", participant("a"))

	if registry.RoomCount() != 0 {
		t.Fatalf("expected room teardown, %d rooms remain", registry.RoomCount())
	}

	// A later join recreates the room from the durable snapshot.
	if err := registry.Join(context.Background(), "nb-1", participant("a"), &fakeOutbox{}); err != nil {
		t.Fatalf("unexpected rejoin error: %v", err)
	}
	if store.loads != 2 {
		t.Fatalf("expected snapshot reload on recreate, got %d loads", store.loads)
	}
}

func TestTextUpdateFansOutToOthersAndUpdatesRoomState(t *testing.T) {
	registry := newTestRegistry(t, &fakeContentStore{})

	sender := &fakeOutbox{}
	receiver := &fakeOutbox{}
	if err := registry.Join(context.Background(), "nb-1", participant("a"), sender); err != nil {
		t.Fatalf("unexpected join error: %v", err)
	}
	if err := registry.Join(context.Background(), "nb-1", participant("b"), receiver); err != nil {
		t.Fatalf("unexpected join error: %v", err)
	}

	if err := registry.ApplyTextUpdate(context.Background(), "nb-1", participant("a"), "<p>hello</p>"); err != nil {
		t.Fatalf("unexpected text update error: %v", err)
	}

	if len(sender.received(protocol.EventTextUpdate)) != 0 {
		t.Fatal("sender must not receive its own text-update echo")
	}
	updates := receiver.received(protocol.EventTextUpdate)
	if len(updates) != 1 {
		t.Fatalf("expected one text-update, got %d", len(updates))
	}
	var payload protocol.TextUpdatePayload
	if err := json.Unmarshal(updates[0].Data, &payload); err != nil {
		t.Fatalf("failed to decode text-update: %v", err)
	}
	if payload.TextContent != "<p>hello</p>" {
		t.Fatalf("unexpected content: %q", payload.TextContent)
	}

	// Late joiners sync against the room's latest value.
	late := &fakeOutbox{}
	if err := registry.Join(context.Background(), "nb-1", participant("c"), late); err != nil {
		t.Fatalf("unexpected join error: %v", err)
	}
	var sync protocol.ContentSyncPayload
	if err := json.Unmarshal(late.received(protocol.EventContentSync)[0].Data, &sync); err != nil {
		t.Fatalf("failed to decode content-sync: %v", err)
	}
	if sync.TextContent != "<p>hello</p>" {
		t.Fatalf("late joiner saw stale text: %q", sync.TextContent)
	}
}

func TestDrawingOperationsMutateLogAndFanOut(t *testing.T) {
	store := &fakeContentStore{}
	registry := newTestRegistry(t, store)

	sender := &fakeOutbox{}
	receiver := &fakeOutbox{}
	if err := registry.Join(context.Background(), "nb-1", participant("a"), sender); err != nil {
		t.Fatalf("unexpected join error: %v", err)
	}
	if err := registry.Join(context.Background(), "nb-1", participant("b"), receiver); err != nil {
		t.Fatalf("unexpected join error: %v", err)
	}

	path := &protocol.DrawPath{
		Type:   protocol.PathTypeEraser,
		Points: []protocol.Point{{X: 1, Y: 1}, {X: 2, Y: 2}},
		Color:  "#000",
		Size:   9,
	}
	if err := registry.ApplyDrawingUpdate(context.Background(), "nb-1", participant("a"), protocol.DrawingActionAdd, path); err != nil {
		t.Fatalf("unexpected add error: %v", err)
	}

	updates := receiver.received(protocol.EventDrawingUpdate)
	if len(updates) != 1 {
		t.Fatalf("expected one drawing-update, got %d", len(updates))
	}
	var payload protocol.DrawingUpdatePayload
	if err := json.Unmarshal(updates[0].Data, &payload); err != nil {
		t.Fatalf("failed to decode drawing-update: %v", err)
	}
	if payload.Action != protocol.DrawingActionAdd || payload.Path == nil || payload.Path.Type != protocol.PathTypeEraser {
		t.Fatalf("eraser tag must survive the broadcast: %#v", payload)
	}

	if err := registry.ApplyDrawingUpdate(context.Background(), "nb-1", participant("b"), protocol.DrawingActionUndo, nil); err != nil {
		t.Fatalf("unexpected undo error: %v", err)
	}
	// Undo on the now-empty log stays a no-op.
	if err := registry.ApplyDrawingUpdate(context.Background(), "nb-1", participant("b"), protocol.DrawingActionUndo, nil); err != nil {
		t.Fatalf("unexpected empty undo error: %v", err)
	}

	if err := registry.ApplyDrawingUpdate(context.Background(), "nb-1", participant("a"), protocol.DrawingActionClear, nil); err != nil {
		t.Fatalf("unexpected clear error: %v", err)
	}

	late := &fakeOutbox{}
	if err := registry.Join(context.Background(), "nb-1", participant("c"), late); err != nil {
		t.Fatalf("unexpected join error: %v", err)
	}
	var sync protocol.ContentSyncPayload
	if err := json.Unmarshal(late.received(protocol.EventContentSync)[0].Data, &sync); err != nil {
		t.Fatalf("failed to decode content-sync: %v", err)
	}
	if len(sync.DrawingData.Paths) != 0 {
		t.Fatalf("expected cleared log, got %d paths", len(sync.DrawingData.Paths))
	}
}

func TestDrawingUpdateRejectsUnknownAction(t *testing.T) {
	registry := newTestRegistry(t, &fakeContentStore{})
	if err := registry.Join(context.Background(), "nb-1", participant("a"), &fakeOutbox{}); err != nil {
		t.Fatalf("unexpected join error: %v", err)
	}
	if err := registry.ApplyDrawingUpdate(context.Background(), "nb-1", participant("a"), "scribble", nil); err == nil {
		t.Fatal("expected error for unknown drawing action")
	}
}

func TestActivityRecordedForJoinDrawAndClear(t *testing.T) {
	store := &fakeContentStore{}
	registry := newTestRegistry(t, store)

	if err := registry.Join(context.Background(), "nb-1", participant("a"), &fakeOutbox{}); err != nil {
		t.Fatalf("unexpected join error: %v", err)
	}
	path := &protocol.DrawPath{Points: []protocol.Point{{X: 0, Y: 0}}}
	if err := registry.ApplyDrawingUpdate(context.Background(), "nb-1", participant("a"), protocol.DrawingActionAdd, path); err != nil {
		t.Fatalf("unexpected add error: %v", err)
	}
	if err := registry.ApplyDrawingUpdate(context.Background(), "nb-1", participant("a"), protocol.DrawingActionUndo, nil); err != nil {
		t.Fatalf("unexpected undo error: %v", err)
	}
	if err := registry.ApplyDrawingUpdate(context.Background(), "nb-1", participant("a"), protocol.DrawingActionClear, nil); err != nil {
		t.Fatalf("unexpected clear error: %v", err)
	}

	actions := store.actions()
	expected := []string{content.ActivityActionJoin, content.ActivityActionDraw, content.ActivityActionDraw}
	if len(actions) != len(expected) {
		t.Fatalf("unexpected activity count: %#v", actions)
	}
	for i, action := range expected {
		if actions[i] != action {
			t.Fatalf("unexpected activity sequence: %#v", actions)
		}
	}
}

func TestBroadcastSurvivesSlowParticipant(t *testing.T) {
	registry := newTestRegistry(t, &fakeContentStore{})

	stalled := &fakeOutbox{reject: true}
	healthy := &fakeOutbox{}
	if err := registry.Join(context.Background(), "nb-1", participant("a"), stalled); err != nil {
		t.Fatalf("unexpected join error: %v", err)
	}
	if err := registry.Join(context.Background(), "nb-1", participant("b"), healthy); err != nil {
		t.Fatalf("unexpected join error: %v", err)
	}

	if err := registry.ApplyTextUpdate(context.Background(), "nb-1", participant("b"), "<p>x</p>"); err != nil {
		t.Fatalf("unexpected text update error: %v", err)
	}
	if err := registry.ApplyTextUpdate(context.Background(), "nb-1", participant("a"), "<p>y</p>"); err != nil {
		t.Fatalf("broadcast must stay best-effort past a stalled member: %v", err)
	}
	if len(healthy.received(protocol.EventTextUpdate)) != 1 {
		t.Fatal("healthy member should still receive updates")
	}
}
