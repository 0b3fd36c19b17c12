package call

import (
	"context"

	"github.com/opd-ai/roomcall/media"
	"github.com/opd-ai/roomcall/participant"
	"github.com/opd-ai/roomcall/speaker"
)

// EventHandler receives transport events. Implementations must not block.
type EventHandler interface {
	// OnVolumeIndicator delivers one tick of per-participant volume levels.
	OnVolumeIndicator(samples []speaker.VolumeSample)
	// OnParticipantJoined announces a remote participant.
	OnParticipantJoined(p participant.Participant)
	// OnParticipantLeft announces a remote departure.
	OnParticipantLeft(id participant.ID)
}

// Transport is the real-time media transport.
type Transport interface {
	// Join connects to channelID and returns the local transport id.
	Join(ctx context.Context, appID, channelID, token string) (participant.ID, error)
	// Leave disconnects from the current channel.
	Leave(ctx context.Context) error
	// Publish sends local tracks to the channel.
	Publish(ctx context.Context, tracks []media.Track) error
	// EnableVolumeIndicator starts periodic volume ticks.
	EnableVolumeIndicator() error
	// Subscribe registers h and returns a function that detaches it.
	Subscribe(h EventHandler) (unsubscribe func())
	// RemoteParticipants returns the remote participants already present.
	RemoteParticipants() []participant.Participant
}

// Presence is the room membership store.
type Presence interface {
	Enter(ctx context.Context, channelID, userID string) error
	Exit(ctx context.Context, channelID, userID string) error
}

// RoleAdmin is the member role allowed to record any room.
const RoleAdmin = "admin"

// Permissions describes what the local member may do in the room.
type Permissions struct {
	Role      string
	UserID    string
	CreatorID string
}

// CanRecord reports whether the member is an admin or created the room.
func (p Permissions) CanRecord() bool {
	if p.Role == RoleAdmin {
		return true
	}
	return p.UserID != "" && p.UserID == p.CreatorID
}
