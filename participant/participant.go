// Package participant defines call participant identities and the live set of
// remote participants known to a session.
package participant

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/roomcall/media"
)

// ID identifies a participant. Remote ids are issued by the transport and
// treated as opaque strings.
type ID string

// Local is the token used for the local participant regardless of the id the
// transport assigned to it.
const Local ID = "local"

// IsUnassigned reports whether id is the transport's zero/unassigned sentinel.
func IsUnassigned(id ID) bool {
	return id == "" || id == "0"
}

// Normalize maps the unassigned sentinel and the local transport id to Local.
func Normalize(id, localID ID) ID {
	if IsUnassigned(id) || id == Local {
		return Local
	}
	if localID != "" && id == localID {
		return Local
	}
	return id
}

// Participant describes one member of the call.
//
// Track references are non-owning: local tracks belong to media.Service and
// remote tracks belong to the transport.
type Participant struct {
	ID           ID
	AudioEnabled bool
	VideoEnabled bool
	AudioTrack   media.Track
	VideoTrack   media.Track
}

// Registry holds the remote participants currently present in the call in
// join order.
type Registry struct {
	order   []ID
	members map[ID]Participant
	mu      sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		members: make(map[ID]Participant),
	}
}

// Add inserts or updates a remote participant. Updating keeps the original
// join position. Adding the Local token is ignored.
func (r *Registry) Add(p Participant) bool {
	if p.ID == Local || IsUnassigned(p.ID) {
		logrus.WithFields(logrus.Fields{
			"function":       "Registry.Add",
			"participant_id": p.ID,
		}).Debug("Ignoring local or unassigned participant")
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.members[p.ID]; !exists {
		r.order = append(r.order, p.ID)
	}
	r.members[p.ID] = p
	return true
}

// Remove deletes a participant and reports whether it was present.
func (r *Registry) Remove(id ID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.members[id]; !exists {
		return false
	}
	delete(r.members, id)
	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// Has reports whether id is currently present.
func (r *Registry) Has(id ID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.members[id]
	return exists
}

// Get returns the participant with the given id.
func (r *Registry) Get(id ID) (Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, exists := r.members[id]
	return p, exists
}

// IDs returns the present ids in join order.
func (r *Registry) IDs() []ID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]ID, len(r.order))
	copy(ids, r.order)
	return ids
}

// Len returns the number of remote participants.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Reset removes every participant.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.order = nil
	r.members = make(map[ID]Participant)
}
