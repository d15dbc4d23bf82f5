package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/collabnote/collabnote/internal/content"
	"github.com/collabnote/collabnote/protocol"
)

var (
	errMissingContentStore = errors.New("content store is required")
	errUnknownRoom         = errors.New("participant is not a member of the room")
	errInvalidDrawingOp    = errors.New("invalid drawing operation")
	noOpLogger             = zap.NewNop()
)

// ContentStore is the slice of the persistence gateway the registry needs:
// seeding a fresh room and appending activity entries.
type ContentStore interface {
	LoadSnapshot(ctx context.Context, notebookID content.NotebookID) (content.SnapshotData, error)
	RecordActivity(ctx context.Context, event content.ActivityEvent) error
}

// RegistryConfig wires the dependencies of the room registry.
type RegistryConfig struct {
	ContentStore ContentStore
	Logger       *zap.Logger
}

// Registry maps notebook identifiers to live rooms and owns the
// join/leave lifecycle. Rooms are created on first join, seeded from the
// durable snapshot, and torn down when the last participant leaves.
type Registry struct {
	store  ContentStore
	logger *zap.Logger

	mu    sync.Mutex
	rooms map[string]*Room
}

// NewRegistry validates configuration and constructs a Registry.
func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	if cfg.ContentStore == nil {
		return nil, errMissingContentStore
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Registry{
		store:  cfg.ContentStore,
		logger: logger,
		rooms:  make(map[string]*Room),
	}, nil
}

// Join adds the participant to the notebook's room, sends the joiner the
// content-sync snapshot and the full roster, and announces the arrival to
// everyone already present.
func (g *Registry) Join(ctx context.Context, notebookID string, participant protocol.Participant, outbox Outbox) error {
	var room *Room
	for {
		candidate, err := g.getOrCreateRoom(ctx, notebookID)
		if err != nil {
			return err
		}
		if candidate.addMember(participant, outbox) {
			room = candidate
			break
		}
		// Lost the race with the departure of the candidate's last
		// member: the room is closed. Drop it and retry on a fresh one.
		g.dropRoom(notebookID, candidate)
	}

	sync := room.ContentSnapshot()
	g.deliverTo(outbox, protocol.EventContentSync, sync, participant)
	g.deliverTo(outbox, protocol.EventOnlineUsers, protocol.OnlineUsersPayload{Users: room.Roster()}, participant)

	g.broadcast(room, protocol.EventUserJoined, protocol.PresencePayload{User: participant}, participant.ID)

	if err := g.store.RecordActivity(ctx, content.ActivityEvent{
		NotebookID: content.NotebookID(notebookID),
		ActorID:    participant.ID,
		ActorName:  participant.DisplayName,
		Action:     content.ActivityActionJoin,
		Details:    "joined the notebook",
	}); err != nil {
		g.logger.Warn("join activity not recorded", zap.String("notebook_id", notebookID), zap.Error(err))
	}

	g.logger.Info("participant joined room",
		zap.String("notebook_id", notebookID),
		zap.String("participant_id", participant.ID),
		zap.Int("members", len(room.Roster())))
	return nil
}

// Leave removes the participant, announces the departure, and frees the
// room when nobody is left. Leaving a room the participant never joined is
// a no-op.
func (g *Registry) Leave(ctx context.Context, notebookID string, participant protocol.Participant) {
	g.mu.Lock()
	room, ok := g.rooms[notebookID]
	g.mu.Unlock()
	if !ok {
		return
	}

	removed, remaining := room.removeMember(participant.ID)
	if !removed {
		return
	}

	if remaining == 0 {
		// removeMember already closed the room, so no join can slip in
		// before this delete; a racing joiner sees the closed room and
		// retries against a fresh one.
		g.dropRoom(notebookID, room)
		g.logger.Info("room released", zap.String("notebook_id", notebookID))
		return
	}

	g.broadcast(room, protocol.EventUserLeft, protocol.PresencePayload{User: participant}, participant.ID)
}

// ApplyTextUpdate installs the latest text value on the room and fans it
// out to every other member. The sender already applied it locally.
func (g *Registry) ApplyTextUpdate(ctx context.Context, notebookID string, sender protocol.Participant, textContent string) error {
	room, err := g.memberRoom(notebookID)
	if err != nil {
		return err
	}
	room.applyText(sender.ID, textContent)
	g.broadcast(room, protocol.EventTextUpdate, protocol.TextUpdatePayload{TextContent: textContent}, sender.ID)
	return nil
}

// ApplyDrawingUpdate mutates the room's drawing log and fans the operation
// out to every other member. Add and clear are recorded in the activity
// feed; undo is not, matching what the feed surfaces.
func (g *Registry) ApplyDrawingUpdate(ctx context.Context, notebookID string, sender protocol.Participant, action string, path *protocol.DrawPath) error {
	room, err := g.memberRoom(notebookID)
	if err != nil {
		return err
	}
	if !room.applyDrawing(action, path) {
		return fmt.Errorf("%w: %q", errInvalidDrawingOp, action)
	}
	g.broadcast(room, protocol.EventDrawingUpdate, protocol.DrawingUpdatePayload{Action: action, Path: path}, sender.ID)

	if action == protocol.DrawingActionAdd || action == protocol.DrawingActionClear {
		details := "drew on the canvas"
		if action == protocol.DrawingActionClear {
			details = "cleared the canvas"
		}
		if err := g.store.RecordActivity(ctx, content.ActivityEvent{
			NotebookID: content.NotebookID(notebookID),
			ActorID:    sender.ID,
			ActorName:  sender.DisplayName,
			Action:     content.ActivityActionDraw,
			Details:    details,
		}); err != nil {
			g.logger.Warn("draw activity not recorded", zap.String("notebook_id", notebookID), zap.Error(err))
		}
	}
	return nil
}

// RoomCount reports how many rooms are currently live.
func (g *Registry) RoomCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.rooms)
}

// Roster returns the live membership of a room, empty when no room exists.
func (g *Registry) Roster(notebookID string) []protocol.Participant {
	g.mu.Lock()
	room, ok := g.rooms[notebookID]
	g.mu.Unlock()
	if !ok {
		return nil
	}
	return room.Roster()
}

func (g *Registry) getOrCreateRoom(ctx context.Context, notebookID string) (*Room, error) {
	g.mu.Lock()
	if room, ok := g.rooms[notebookID]; ok {
		g.mu.Unlock()
		return room, nil
	}
	g.mu.Unlock()

	// Seed outside the registry lock; snapshot loads hit the database.
	id, err := content.NewNotebookID(notebookID)
	if err != nil {
		return nil, err
	}
	snapshot, err := g.store.LoadSnapshot(ctx, id)
	if err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if room, ok := g.rooms[notebookID]; ok {
		return room, nil
	}
	room := newRoom(notebookID, snapshot.TextContent, snapshot.Drawing.Paths)
	g.rooms[notebookID] = room
	return room, nil
}

// dropRoom removes the map entry only when it still points at the given
// room, so a replacement created by a concurrent join is never evicted.
func (g *Registry) dropRoom(notebookID string, room *Room) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if current, ok := g.rooms[notebookID]; ok && current == room {
		delete(g.rooms, notebookID)
	}
}

func (g *Registry) memberRoom(notebookID string) (*Room, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	room, ok := g.rooms[notebookID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errUnknownRoom, notebookID)
	}
	return room, nil
}

func (g *Registry) broadcast(room *Room, event string, payload any, excludeParticipantID string) {
	message, err := encodeEnvelope(event, payload)
	if err != nil {
		g.logger.Error("broadcast encode failed", zap.String("event", event), zap.Error(err))
		return
	}
	stalled := room.broadcast(message, excludeParticipantID)
	for _, participant := range stalled {
		g.logger.Warn("dropped message for slow participant",
			zap.String("notebook_id", room.ID()),
			zap.String("participant_id", participant.ID),
			zap.String("event", event))
	}
}

func (g *Registry) deliverTo(outbox Outbox, event string, payload any, participant protocol.Participant) {
	message, err := encodeEnvelope(event, payload)
	if err != nil {
		g.logger.Error("direct encode failed", zap.String("event", event), zap.Error(err))
		return
	}
	if !outbox.Deliver(message) {
		g.logger.Warn("dropped direct message for slow participant",
			zap.String("participant_id", participant.ID),
			zap.String("event", event))
	}
}

func encodeEnvelope(event string, payload any) ([]byte, error) {
	envelope, err := protocol.NewEnvelope(event, payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope)
}
