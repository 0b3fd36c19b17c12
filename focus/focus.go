// Package focus decides which participant is rendered as the primary tile.
//
// The arbiter is a two-state machine. In ModeAuto the target follows the
// active speaker detector; in ModeManual it is pinned by the user until the
// user returns to automatic mode or the pinned participant leaves the call.
// Transitions are expressed as a pure reducer so they can be exercised
// without a live media environment.
package focus

import (
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/roomcall/participant"
)

// Mode is the arbiter mode.
type Mode uint8

const (
	// ModeAuto lets the active speaker detector move the focus.
	ModeAuto Mode = iota
	// ModeManual keeps the focus pinned on a user-selected participant.
	ModeManual
)

// String returns a human-readable mode name.
func (m Mode) String() string {
	switch m {
	case ModeAuto:
		return "auto"
	case ModeManual:
		return "manual"
	default:
		return "unknown"
	}
}

// State is the arbiter state. LastSpeaking is empty when no qualifying
// detector signal has been seen.
type State struct {
	Target       participant.ID
	Mode         Mode
	LastSpeaking participant.ID
}

// Initial returns the state of a freshly connected session.
func Initial() State {
	return State{Target: participant.Local, Mode: ModeAuto}
}

// Event is an input to the reducer.
type Event interface {
	isEvent()
}

// SpeakerDetected carries a qualifying detector signal.
type SpeakerDetected struct {
	ID participant.ID
}

// TileSelected is a user selecting a tile.
type TileSelected struct {
	ID participant.ID
}

// ReturnToAuto is the user releasing a pin.
type ReturnToAuto struct{}

// ParticipantLeft is a remote participant departing the call.
type ParticipantLeft struct {
	ID participant.ID
}

func (SpeakerDetected) isEvent() {}
func (TileSelected) isEvent()    {}
func (ReturnToAuto) isEvent()    {}
func (ParticipantLeft) isEvent() {}

// Reduce applies one event and returns the next state.
func Reduce(s State, e Event) State {
	next := s

	switch ev := e.(type) {
	case SpeakerDetected:
		next.LastSpeaking = ev.ID
		if s.Mode == ModeAuto {
			next.Target = ev.ID
		}

	case TileSelected:
		if ev.ID == s.Target {
			return s
		}
		next.Target = ev.ID
		next.Mode = ModeManual

	case ReturnToAuto:
		if s.Mode != ModeManual {
			return s
		}
		next.Mode = ModeAuto
		if s.LastSpeaking != "" {
			next.Target = s.LastSpeaking
		}

	case ParticipantLeft:
		if ev.ID == participant.Local {
			return s
		}
		if s.LastSpeaking == ev.ID {
			next.LastSpeaking = ""
		}
		if s.Target == ev.ID {
			next.Target = participant.Local
			next.Mode = ModeAuto
		}
	}

	if next != s {
		logrus.WithFields(logrus.Fields{
			"function":      "Reduce",
			"event":         eventName(e),
			"from_target":   s.Target,
			"to_target":     next.Target,
			"from_mode":     s.Mode.String(),
			"to_mode":       next.Mode.String(),
			"last_speaking": next.LastSpeaking,
		}).Debug("Focus state changed")
	}

	return next
}

func eventName(e Event) string {
	switch e.(type) {
	case SpeakerDetected:
		return "speaker_detected"
	case TileSelected:
		return "tile_selected"
	case ReturnToAuto:
		return "return_to_auto"
	case ParticipantLeft:
		return "participant_left"
	default:
		return "unknown"
	}
}
