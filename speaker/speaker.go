// Package speaker selects the active speaker from one volume-indicator tick.
//
// The functions here keep no state: every tick is evaluated on its own and
// fully supersedes the previous one.
package speaker

import (
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/roomcall/participant"
)

// DefaultThreshold is the level a sample must exceed to move focus.
// A sample at exactly the threshold does not qualify.
const DefaultThreshold = 25

// VolumeSample is one participant's level for a tick, in [0,100].
type VolumeSample struct {
	ID    participant.ID
	Level int
}

// Signal is a qualifying active-speaker detection.
type Signal struct {
	ID    participant.ID
	Level int
}

// Loudest returns the sample with the maximum level. Ties resolve to the
// first sample in input order. ok is false for an empty tick.
func Loudest(samples []VolumeSample) (loudest VolumeSample, ok bool) {
	for i, s := range samples {
		if i == 0 || s.Level > loudest.Level {
			loudest = s
		}
	}
	return loudest, len(samples) > 0
}

// Detect evaluates one tick. It qualifies only when the loudest level is
// strictly above threshold. The unassigned id and localID both map to
// participant.Local in the emitted signal.
func Detect(samples []VolumeSample, localID participant.ID, threshold int) (Signal, bool) {
	loudest, ok := Loudest(samples)
	if !ok {
		return Signal{}, false
	}

	if loudest.Level <= threshold {
		logrus.WithFields(logrus.Fields{
			"function":  "Detect",
			"level":     loudest.Level,
			"threshold": threshold,
		}).Debug("Loudest sample below threshold")
		return Signal{}, false
	}

	sig := Signal{
		ID:    participant.Normalize(loudest.ID, localID),
		Level: loudest.Level,
	}

	logrus.WithFields(logrus.Fields{
		"function":       "Detect",
		"participant_id": sig.ID,
		"level":          sig.Level,
		"sample_count":   len(samples),
	}).Debug("Active speaker detected")

	return sig, true
}
