package recording

// Status is the recording controller state.
type Status uint8

const (
	// StatusIdle: no recording session exists.
	StatusIdle Status = iota
	// StatusAcquiring: waiting for the environment to grant a capture stream.
	StatusAcquiring
	// StatusRecording: chunks are being buffered.
	StatusRecording
	// StatusStopping: flushing the buffer into the artifact.
	StatusStopping
)

// String returns a human-readable status name.
func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusAcquiring:
		return "acquiring"
	case StatusRecording:
		return "recording"
	case StatusStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Event is an input to the status machine.
type Event uint8

const (
	EventStart Event = iota
	EventCaptureGranted
	EventCaptureDenied
	EventStop
	EventStreamEnded
	EventFlushed
)

// String returns a human-readable event name.
func (e Event) String() string {
	switch e {
	case EventStart:
		return "start"
	case EventCaptureGranted:
		return "capture_granted"
	case EventCaptureDenied:
		return "capture_denied"
	case EventStop:
		return "stop"
	case EventStreamEnded:
		return "stream_ended"
	case EventFlushed:
		return "flushed"
	default:
		return "unknown"
	}
}

// Next returns the status after e. ok is false when e is not accepted in s,
// in which case the status is unchanged.
func Next(s Status, e Event) (next Status, ok bool) {
	switch s {
	case StatusIdle:
		if e == EventStart {
			return StatusAcquiring, true
		}
	case StatusAcquiring:
		switch e {
		case EventCaptureGranted:
			return StatusRecording, true
		case EventCaptureDenied:
			return StatusIdle, true
		}
	case StatusRecording:
		if e == EventStop || e == EventStreamEnded {
			return StatusStopping, true
		}
	case StatusStopping:
		if e == EventFlushed {
			return StatusIdle, true
		}
	}
	return s, false
}
