package client

import (
	"sync"

	"github.com/collabnote/collabnote/protocol"
)

// Roster tracks the participants currently present in the notebook. It is
// reconciled from the full online-users snapshot at join time and from the
// incremental user-joined and user-left deltas afterwards.
type Roster struct {
	mu    sync.Mutex
	users []protocol.Participant
}

// SetAll replaces the roster with the authoritative snapshot.
func (r *Roster) SetAll(users []protocol.Participant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users = append([]protocol.Participant(nil), users...)
}

// Add inserts a participant, replacing any earlier entry with the same ID.
func (r *Roster) Add(user protocol.Participant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.users {
		if r.users[i].ID == user.ID {
			r.users[i] = user
			return
		}
	}
	r.users = append(r.users, user)
}

// Remove drops the participant with the given ID, if present.
func (r *Roster) Remove(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.users {
		if r.users[i].ID == userID {
			r.users = append(r.users[:i], r.users[i+1:]...)
			return
		}
	}
}

// Users returns the roster in arrival order.
func (r *Roster) Users() []protocol.Participant {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]protocol.Participant(nil), r.users...)
}
