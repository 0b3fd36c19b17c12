package media

import "errors"

// Sentinel errors for device acquisition.
// These errors enable reliable error classification using errors.Is().

// Host environment errors.
var (
	// ErrDeviceBusy indicates the device is in use elsewhere or not readable.
	ErrDeviceBusy = errors.New("device busy or not readable")

	// ErrPermissionDenied indicates the user or environment refused access.
	ErrPermissionDenied = errors.New("device permission denied")

	// ErrDeviceUnavailable indicates no usable device exists.
	ErrDeviceUnavailable = errors.New("device unavailable")
)

// Service errors.
var (
	// ErrStaleLease indicates an acquisition finished after its lease was released.
	ErrStaleLease = errors.New("acquisition lease is no longer valid")

	// ErrNoTrack indicates no track of the requested kind is held.
	ErrNoTrack = errors.New("no track held for this kind")

	// ErrRetriesExhausted indicates every allowed attempt reported a busy device.
	ErrRetriesExhausted = errors.New("device still busy after all attempts")
)

// Classify returns the failure category of err: "device_busy",
// "permission_denied", "device_unavailable", "stale" or "other".
func Classify(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrStaleLease):
		return "stale"
	case errors.Is(err, ErrDeviceBusy):
		return "device_busy"
	case errors.Is(err, ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, ErrDeviceUnavailable):
		return "device_unavailable"
	default:
		return "other"
	}
}
