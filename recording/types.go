// Package recording captures a call, or just microphone audio, and turns the
// capture into one downloadable artifact per start/stop cycle.
//
// A Controller moves through IDLE → ACQUIRING → RECORDING → STOPPING → IDLE.
// The transitions are defined by the pure Next function; the Controller adds
// the side effects: requesting the capture stream, buffering chunks,
// building the artifact, handing it to the Saver and releasing the stream.
package recording

import (
	"context"
	"fmt"
)

// Variant selects what is captured.
type Variant uint8

const (
	// VariantCall records screen video with audio.
	VariantCall Variant = iota
	// VariantAudio records microphone audio only.
	VariantAudio
)

// String returns a human-readable variant name.
func (v Variant) String() string {
	switch v {
	case VariantCall:
		return "call"
	case VariantAudio:
		return "audio"
	default:
		return fmt.Sprintf("variant(%d)", uint8(v))
	}
}

// Codec describes the payload of capture chunks.
type Codec uint8

const (
	// CodecWebM chunks are consecutive pieces of a WebM container.
	CodecWebM Codec = iota
	// CodecPCM16 chunks are interleaved little-endian signed 16-bit samples.
	CodecPCM16
	// CodecOpus chunks each hold one Opus packet.
	CodecOpus
)

// Format describes a capture stream.
type Format struct {
	Codec      Codec
	SampleRate int
	Channels   int
}

// Stream is a capture stream granted by the host environment.
type Stream interface {
	// Chunks delivers captured data. It is closed after Stop, once the
	// final data has been delivered.
	Chunks() <-chan []byte
	// Ended is closed when the environment ends the capture on its own, for
	// example through its "stop sharing" control.
	Ended() <-chan struct{}
	// Format describes the chunk payload.
	Format() Format
	// Stop stops and releases every track of the stream, flushes any data
	// still held by the recorder to Chunks and then closes Chunks.
	Stop()
}

// Capturer requests capture streams from the host environment.
type Capturer interface {
	// CaptureDisplay requests screen video with audio.
	CaptureDisplay(ctx context.Context) (Stream, error)
	// CaptureMicrophone requests microphone audio only.
	CaptureMicrophone(ctx context.Context) (Stream, error)
}

// Artifact is the finished output of a recording cycle.
type Artifact struct {
	SessionID string
	Data      []byte
	MIMEType  string
	Filename  string
	// Digest is the BLAKE2b-256 sum of Data.
	Digest [32]byte
}

// Saver is the client-side save/download side effect. Ownership of the
// artifact passes to the saver.
type Saver interface {
	Save(ctx context.Context, a Artifact) error
}

// SaverFunc adapts a function to Saver.
type SaverFunc func(ctx context.Context, a Artifact) error

// Save calls f.
func (f SaverFunc) Save(ctx context.Context, a Artifact) error {
	return f(ctx, a)
}
