package speaker

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/opd-ai/roomcall/participant"
)

func TestLoudest(t *testing.T) {
	tests := []struct {
		name    string
		samples []VolumeSample
		want    VolumeSample
		wantOK  bool
	}{
		{
			name:    "maximum_level",
			samples: []VolumeSample{{"a", 10}, {"b", 30}, {"c", 20}},
			want:    VolumeSample{"b", 30},
			wantOK:  true,
		},
		{
			name:    "tie_keeps_first",
			samples: []VolumeSample{{"a", 30}, {"b", 30}},
			want:    VolumeSample{"a", 30},
			wantOK:  true,
		},
		{
			name:    "all_silent",
			samples: []VolumeSample{{"a", 0}, {"b", 0}},
			want:    VolumeSample{"a", 0},
			wantOK:  true,
		},
		{
			name:    "empty",
			samples: nil,
			wantOK:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Loudest(tt.samples)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoudestLargeTick(t *testing.T) {
	samples := make([]VolumeSample, 50000)
	for i := range samples {
		samples[i] = VolumeSample{ID: participant.ID(strconv.Itoa(i)), Level: i % 100}
	}

	got, ok := Loudest(samples)
	assert.True(t, ok)
	assert.Equal(t, 99, got.Level)
	// First occurrence of level 99 is index 99.
	assert.Equal(t, samples[99].ID, got.ID)
}

func TestDetectThreshold(t *testing.T) {
	tests := []struct {
		name    string
		samples []VolumeSample
		wantOK  bool
		wantID  participant.ID
	}{
		{name: "above_threshold", samples: []VolumeSample{{"x", 26}}, wantOK: true, wantID: "x"},
		{name: "at_threshold", samples: []VolumeSample{{"x", 25}}, wantOK: false},
		{name: "below_threshold", samples: []VolumeSample{{"x", 3}}, wantOK: false},
		{name: "empty", samples: []VolumeSample{}, wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig, ok := Detect(tt.samples, "self", DefaultThreshold)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.wantID, sig.ID)
			}
		})
	}
}

func TestDetectMapsLocalIdentities(t *testing.T) {
	sig, ok := Detect([]VolumeSample{{"0", 80}}, "self", DefaultThreshold)
	assert.True(t, ok)
	assert.Equal(t, participant.Local, sig.ID)

	sig, ok = Detect([]VolumeSample{{"r1", 10}, {"self", 70}}, "self", DefaultThreshold)
	assert.True(t, ok)
	assert.Equal(t, participant.Local, sig.ID)
	assert.Equal(t, 70, sig.Level)
}
