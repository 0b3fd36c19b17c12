// Package telemetry receives the failures and notable transitions of a call
// session.
//
// Every component reports into a Sink. The package provides a structured log
// sink, a Prometheus sink, an in-memory Recorder that aggregates counts for
// dashboards, and Multi for fanning out to several sinks at once.
package telemetry

import (
	"github.com/sirupsen/logrus"
)

// Kind classifies a reported failure.
type Kind string

const (
	// DeviceBusy: the microphone stayed busy through every retry.
	DeviceBusy Kind = "device_busy"
	// DevicePermissionDenied: the user or environment refused a device.
	DevicePermissionDenied Kind = "device_permission_denied"
	// DeviceUnavailable: the device is missing or failed for another reason.
	DeviceUnavailable Kind = "device_unavailable"
	// JoinFailure: the transport handshake failed.
	JoinFailure Kind = "join_failure"
	// TransportFailure: publish, subscribe or leave on the transport failed.
	TransportFailure Kind = "transport_failure"
	// CaptureDenied: a recording capture request was refused.
	CaptureDenied Kind = "capture_denied"
	// StreamEndedExternally: the capture stream was stopped by the environment.
	StreamEndedExternally Kind = "stream_ended_externally"
	// ArtifactFailure: the recording artifact could not be built or saved.
	ArtifactFailure Kind = "artifact_failure"
	// PresenceFailure: the room membership store rejected an update.
	PresenceFailure Kind = "presence_failure"
)

// Kinds lists every failure kind in reporting order.
var Kinds = []Kind{
	DeviceBusy,
	DevicePermissionDenied,
	DeviceUnavailable,
	JoinFailure,
	TransportFailure,
	CaptureDenied,
	StreamEndedExternally,
	ArtifactFailure,
	PresenceFailure,
}

// Failure is one reported event.
type Failure struct {
	Kind      Kind
	Component string
	Channel   string
	Err       error
}

// Sink receives failures. Implementations must be safe for concurrent use
// and must not block.
type Sink interface {
	Report(f Failure)
}

// LogSink writes failures to logrus.
type LogSink struct{}

// Report logs f at warning level; StreamEndedExternally is informational.
func (LogSink) Report(f Failure) {
	fields := logrus.Fields{
		"function":  "LogSink.Report",
		"kind":      string(f.Kind),
		"component": f.Component,
	}
	if f.Channel != "" {
		fields["channel"] = f.Channel
	}
	if f.Err != nil {
		fields["error"] = f.Err.Error()
	}

	entry := logrus.WithFields(fields)
	if f.Kind == StreamEndedExternally {
		entry.Info("Capture stream ended by the environment")
		return
	}
	entry.Warn("Call session failure reported")
}

// Multi fans a failure out to several sinks in order.
type Multi []Sink

// Report forwards f to every non-nil sink.
func (m Multi) Report(f Failure) {
	for _, s := range m {
		if s != nil {
			s.Report(f)
		}
	}
}

// OrDefault returns s, or LogSink when s is nil.
func OrDefault(s Sink) Sink {
	if s == nil {
		return LogSink{}
	}
	return s
}
