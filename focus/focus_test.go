package focus

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/opd-ai/roomcall/participant"
)

func TestInitial(t *testing.T) {
	s := Initial()
	assert.Equal(t, participant.Local, s.Target)
	assert.Equal(t, ModeAuto, s.Mode)
	assert.Empty(t, s.LastSpeaking)
}

func TestReduce(t *testing.T) {
	tests := []struct {
		name  string
		start State
		event Event
		want  State
	}{
		{
			name:  "auto_follows_speaker",
			start: Initial(),
			event: SpeakerDetected{ID: "x"},
			want:  State{Target: "x", Mode: ModeAuto, LastSpeaking: "x"},
		},
		{
			name:  "manual_ignores_speaker_but_remembers_it",
			start: State{Target: "p", Mode: ModeManual},
			event: SpeakerDetected{ID: "x"},
			want:  State{Target: "p", Mode: ModeManual, LastSpeaking: "x"},
		},
		{
			name:  "select_tile_pins_from_auto",
			start: State{Target: "x", Mode: ModeAuto, LastSpeaking: "x"},
			event: TileSelected{ID: "p"},
			want:  State{Target: "p", Mode: ModeManual, LastSpeaking: "x"},
		},
		{
			name:  "select_tile_repins_from_manual",
			start: State{Target: "p", Mode: ModeManual},
			event: TileSelected{ID: participant.Local},
			want:  State{Target: participant.Local, Mode: ModeManual},
		},
		{
			name:  "select_focused_tile_is_noop",
			start: State{Target: "x", Mode: ModeAuto},
			event: TileSelected{ID: "x"},
			want:  State{Target: "x", Mode: ModeAuto},
		},
		{
			name:  "return_to_auto_uses_last_speaker",
			start: State{Target: "p", Mode: ModeManual, LastSpeaking: "x"},
			event: ReturnToAuto{},
			want:  State{Target: "x", Mode: ModeAuto, LastSpeaking: "x"},
		},
		{
			name:  "return_to_auto_without_signal_keeps_target",
			start: State{Target: "p", Mode: ModeManual},
			event: ReturnToAuto{},
			want:  State{Target: "p", Mode: ModeAuto},
		},
		{
			name:  "return_to_auto_in_auto_is_noop",
			start: State{Target: "x", Mode: ModeAuto, LastSpeaking: "y"},
			event: ReturnToAuto{},
			want:  State{Target: "x", Mode: ModeAuto, LastSpeaking: "y"},
		},
		{
			name:  "pinned_participant_leaves",
			start: State{Target: "p", Mode: ModeManual, LastSpeaking: "x"},
			event: ParticipantLeft{ID: "p"},
			want:  State{Target: participant.Local, Mode: ModeAuto, LastSpeaking: "x"},
		},
		{
			name:  "auto_target_leaves",
			start: State{Target: "x", Mode: ModeAuto, LastSpeaking: "x"},
			event: ParticipantLeft{ID: "x"},
			want:  State{Target: participant.Local, Mode: ModeAuto},
		},
		{
			name:  "other_participant_leaves",
			start: State{Target: "p", Mode: ModeManual, LastSpeaking: "x"},
			event: ParticipantLeft{ID: "x"},
			want:  State{Target: "p", Mode: ModeManual},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Reduce(tt.start, tt.event))
		})
	}
}

func TestManualPinSurvivesSpeakers(t *testing.T) {
	s := Reduce(Initial(), TileSelected{ID: "p"})
	for _, id := range []participant.ID{"a", "b", participant.Local, "c"} {
		s = Reduce(s, SpeakerDetected{ID: id})
		assert.Equal(t, participant.ID("p"), s.Target)
		assert.Equal(t, ModeManual, s.Mode)
	}

	s = Reduce(s, ReturnToAuto{})
	assert.Equal(t, participant.ID("c"), s.Target)
	assert.Equal(t, ModeAuto, s.Mode)
}

func TestPinnedDepartureBeatsPendingSignal(t *testing.T) {
	s := Reduce(Initial(), TileSelected{ID: "p"})
	s = Reduce(s, SpeakerDetected{ID: "p"})
	s = Reduce(s, ParticipantLeft{ID: "p"})

	assert.Equal(t, participant.Local, s.Target)
	assert.Equal(t, ModeAuto, s.Mode)
	assert.Empty(t, s.LastSpeaking)
}

func TestArrange(t *testing.T) {
	remotes := []participant.ID{"a", "b", "c"}

	layout := Arrange(Initial(), remotes)
	assert.Equal(t, participant.Local, layout.Primary)
	assert.Equal(t, []participant.ID{"a", "b", "c"}, layout.Secondary)

	layout = Arrange(State{Target: "b", Mode: ModeManual}, remotes)
	assert.Equal(t, participant.ID("b"), layout.Primary)
	assert.Equal(t, []participant.ID{participant.Local, "a", "c"}, layout.Secondary)

	// A target that is no longer present renders local as primary.
	layout = Arrange(State{Target: "gone"}, remotes)
	assert.Equal(t, participant.Local, layout.Primary)
	assert.False(t, layout.Contains("gone"))
}

func TestArrangeNoDuplicates(t *testing.T) {
	remotes := []participant.ID{"a", "a", participant.Local, "b"}
	layout := Arrange(State{Target: "a"}, remotes)

	all := append([]participant.ID{layout.Primary}, layout.Secondary...)
	seen := make(map[participant.ID]int)
	for _, id := range all {
		seen[id]++
	}
	for id, n := range seen {
		assert.Equal(t, 1, n, "participant %s rendered %d times", id, n)
	}
	assert.Len(t, all, 3)
}
