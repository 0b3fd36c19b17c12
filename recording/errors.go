package recording

import "errors"

// Sentinel errors for recording operations.
var (
	// ErrNotIdle indicates Start was called while a recording exists.
	ErrNotIdle = errors.New("recording already in progress")

	// ErrCaptureDenied indicates the environment refused or cancelled the capture request.
	ErrCaptureDenied = errors.New("capture request denied")

	// ErrControllerClosed indicates the controller was closed.
	ErrControllerClosed = errors.New("recording controller closed")

	// ErrUnsupportedFormat indicates a capture format the artifact builder cannot encode.
	ErrUnsupportedFormat = errors.New("unsupported capture format")
)
