package realtime

import (
	"sync"

	"github.com/collabnote/collabnote/protocol"
)

// Outbox is one member's delivery endpoint. Deliver must not block; it
// reports false when the message was dropped because the receiver cannot
// keep up.
type Outbox interface {
	Deliver(message []byte) bool
}

type member struct {
	participant protocol.Participant
	outbox      Outbox
}

// TextState is the room's live copy of the shared rich-text value.
type TextState struct {
	Content      string
	LastWriterID string
	LastWriteSeq int64
}

// Room holds the live collaboration state for one notebook while at least
// one participant is connected: the membership set, the current text value,
// and the ordered drawing log. Durable content lives in the content store;
// the room only mirrors it for fan-out and late-joiner sync.
type Room struct {
	id string

	mu      sync.RWMutex
	members []*member
	text    TextState
	paths   []protocol.DrawPath
	closed  bool
}

func newRoom(id string, textContent string, paths []protocol.DrawPath) *Room {
	seeded := make([]protocol.DrawPath, len(paths))
	copy(seeded, paths)
	return &Room{
		id:    id,
		text:  TextState{Content: textContent},
		paths: seeded,
	}
}

// ID returns the notebook identifier this room synchronizes.
func (r *Room) ID() string {
	return r.id
}

// addMember reports false when the room was already closed by the departure
// of its last member; callers must obtain a fresh room and retry.
func (r *Room) addMember(participant protocol.Participant, outbox Outbox) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	r.members = append(r.members, &member{participant: participant, outbox: outbox})
	return true
}

// removeMember drops the participant and reports whether it was present and
// how many members remain. Removing the last member closes the room in the
// same critical section, so a concurrent join cannot land between the
// emptiness decision and the registry dropping the room.
func (r *Room) removeMember(participantID string) (bool, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, m := range r.members {
		if m.participant.ID == participantID {
			r.members = append(r.members[:i], r.members[i+1:]...)
			remaining := len(r.members)
			if remaining == 0 {
				r.closed = true
			}
			return true, remaining
		}
	}
	return false, len(r.members)
}

// Roster returns the current membership snapshot in join order. No cached
// copy exists anywhere else; every presence answer comes from here.
func (r *Room) Roster() []protocol.Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	roster := make([]protocol.Participant, 0, len(r.members))
	for _, m := range r.members {
		roster = append(roster, m.participant)
	}
	return roster
}

// ContentSnapshot returns the live text and drawing state for content-sync.
func (r *Room) ContentSnapshot() protocol.ContentSyncPayload {
	r.mu.RLock()
	defer r.mu.RUnlock()
	paths := make([]protocol.DrawPath, len(r.paths))
	copy(paths, r.paths)
	return protocol.ContentSyncPayload{
		TextContent: r.text.Content,
		DrawingData: protocol.DrawingData{Paths: paths},
	}
}

// applyText installs the latest text value. Last writer wins; there is no
// merging of concurrent edits.
func (r *Room) applyText(writerID, textContent string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.text.Content = textContent
	r.text.LastWriterID = writerID
	r.text.LastWriteSeq++
}

// applyDrawing mutates the path log. Add appends at the tail, undo removes
// the tail (a no-op on an empty log), clear empties the log.
func (r *Room) applyDrawing(action string, path *protocol.DrawPath) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch action {
	case protocol.DrawingActionAdd:
		if path == nil {
			return false
		}
		r.paths = append(r.paths, *path)
	case protocol.DrawingActionUndo:
		if len(r.paths) > 0 {
			r.paths = r.paths[:len(r.paths)-1]
		}
	case protocol.DrawingActionClear:
		r.paths = r.paths[:0]
	default:
		return false
	}
	return true
}

// PathCount reports the current drawing log length.
func (r *Room) PathCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.paths)
}

// broadcast delivers the pre-encoded message to every member except the
// excluded participant, in membership order. Delivery is best-effort; a
// member whose outbox is full is reported back for disconnection.
func (r *Room) broadcast(message []byte, excludeParticipantID string) []protocol.Participant {
	r.mu.RLock()
	recipients := make([]*member, 0, len(r.members))
	for _, m := range r.members {
		if m.participant.ID == excludeParticipantID {
			continue
		}
		recipients = append(recipients, m)
	}
	r.mu.RUnlock()

	var stalled []protocol.Participant
	for _, m := range recipients {
		if !m.outbox.Deliver(message) {
			stalled = append(stalled, m.participant)
		}
	}
	return stalled
}
