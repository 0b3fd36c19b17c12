package call

import "errors"

// Sentinel errors for the call session.
// These errors enable reliable error classification using errors.Is().

// Connection lifecycle errors.
var (
	// ErrJoinFailed indicates the transport handshake failed.
	ErrJoinFailed = errors.New("join failed")

	// ErrJoinAbandoned indicates the session left before the handshake completed.
	ErrJoinAbandoned = errors.New("join abandoned by leave")

	// ErrAlreadyJoined indicates a join is pending or the session is connected.
	ErrAlreadyJoined = errors.New("session already joining or connected")

	// ErrNotConnected indicates the operation needs a connected session.
	ErrNotConnected = errors.New("session not connected")

	// ErrSessionClosed indicates the session was closed.
	ErrSessionClosed = errors.New("session closed")
)

// Interaction errors.
var (
	// ErrUnknownParticipant indicates the participant is not in the call.
	ErrUnknownParticipant = errors.New("unknown participant")

	// ErrRecordingNotPermitted indicates the member may not record this room.
	ErrRecordingNotPermitted = errors.New("recording not permitted for this member")
)
