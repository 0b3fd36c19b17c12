// Package media acquires and releases the local microphone and camera.
//
// The Service is the exclusive owner of the local tracks for the lifetime of
// a connected session. Other components may hold read-only references for
// publishing or previewing, but only the Service stops a track.
//
// Acquisition results are bound to a Lease. Releasing the Service invalidates
// the lease, and any acquisition that completes afterwards is treated as stale:
// its track is stopped immediately and never handed out.
package media

import (
	"context"
	"fmt"
)

// Kind is the media kind of a track.
type Kind uint8

const (
	// KindAudio is a microphone track.
	KindAudio Kind = iota
	// KindVideo is a camera track.
	KindVideo
)

// String returns a human-readable kind name.
func (k Kind) String() string {
	switch k {
	case KindAudio:
		return "audio"
	case KindVideo:
		return "video"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Track is a local or remote media track.
type Track interface {
	// ID returns the host-assigned track identifier.
	ID() string
	// Kind returns whether the track carries audio or video.
	Kind() Kind
	// SetEnabled toggles publish-visible enablement without releasing the
	// underlying hardware.
	SetEnabled(on bool) error
	// Enabled reports the current enablement.
	Enabled() bool
	// Stop stops the track and releases the hardware resource.
	Stop()
}

// CameraConfig carries the camera request parameters.
type CameraConfig struct {
	// EncoderPreset names the encoder profile, e.g. "720p_1".
	EncoderPreset string
}

// Devices is the host environment's hardware capture capability.
//
// Implementations return errors that wrap ErrDeviceBusy, ErrPermissionDenied
// or ErrDeviceUnavailable so failures can be classified. The Service passes a
// context that is never cancelled: a request in flight always completes, and
// a result arriving after release is stopped instead of adopted.
type Devices interface {
	RequestMicrophone(ctx context.Context) (Track, error)
	RequestCamera(ctx context.Context, cfg CameraConfig) (Track, error)
}
