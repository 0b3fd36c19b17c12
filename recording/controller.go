package recording

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/roomcall/telemetry"
)

// TimeProvider abstracts time operations for deterministic testing.
type TimeProvider interface {
	Now() time.Time
}

// DefaultTimeProvider uses the standard library time functions.
type DefaultTimeProvider struct{}

// Now returns the current time.
func (DefaultTimeProvider) Now() time.Time { return time.Now() }

// Config configures a Controller.
type Config struct {
	Variant  Variant
	Channel  string
	Capturer Capturer
	Saver    Saver
	Sink     telemetry.Sink
	// TimeProvider stamps artifact filenames. Nil uses DefaultTimeProvider.
	TimeProvider TimeProvider
}

// Controller runs recording sessions for one call. At most one session
// exists at a time.
type Controller struct {
	variant  Variant
	channel  string
	capturer Capturer
	saver    Saver
	sink     telemetry.Sink
	clock    TimeProvider

	mu        sync.Mutex
	status    Status
	closed    bool
	sessionID string
	stream    Stream
	chunks    [][]byte
	stopCh    chan struct{}
	done      chan struct{}

	statusCallback func(status Status)
}

// NewController creates an idle controller.
func NewController(cfg Config) (*Controller, error) {
	if cfg.Capturer == nil {
		return nil, errors.New("capturer cannot be nil")
	}
	if cfg.Saver == nil {
		return nil, errors.New("saver cannot be nil")
	}
	clock := cfg.TimeProvider
	if clock == nil {
		clock = DefaultTimeProvider{}
	}

	logrus.WithFields(logrus.Fields{
		"function": "NewController",
		"variant":  cfg.Variant.String(),
		"channel":  cfg.Channel,
	}).Debug("Recording controller created")

	return &Controller{
		variant:  cfg.Variant,
		channel:  cfg.Channel,
		capturer: cfg.Capturer,
		saver:    cfg.Saver,
		sink:     telemetry.OrDefault(cfg.Sink),
		clock:    clock,
		status:   StatusIdle,
	}, nil
}

// SetStatusCallback registers a callback invoked after every status change.
// The callback runs without the controller lock held.
func (c *Controller) SetStatusCallback(callback func(status Status)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statusCallback = callback
}

// Status returns the current status.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// IsRecording reports whether a session exists in any non-idle status.
func (c *Controller) IsRecording() bool {
	return c.Status() != StatusIdle
}

// Variant returns the capture variant.
func (c *Controller) Variant() Variant {
	return c.variant
}

// transitionLocked applies e and returns the callback to notify, if any.
func (c *Controller) transitionLocked(e Event) (func(Status), Status, bool) {
	next, ok := Next(c.status, e)
	if !ok {
		return nil, c.status, false
	}

	logrus.WithFields(logrus.Fields{
		"function":   "Controller.transition",
		"session_id": c.sessionID,
		"event":      e.String(),
		"from":       c.status.String(),
		"to":         next.String(),
	}).Debug("Recording status changed")

	c.status = next
	return c.statusCallback, next, true
}

func notify(callback func(Status), status Status) {
	if callback != nil {
		callback(status)
	}
}

// Start requests a capture stream and begins buffering. It returns ErrNotIdle
// without requesting capture unless the controller is idle, and an error
// wrapping ErrCaptureDenied when the environment refuses the request.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrControllerClosed
	}
	callback, status, ok := c.transitionLocked(EventStart)
	if !ok {
		current := c.status
		c.mu.Unlock()
		logrus.WithFields(logrus.Fields{
			"function": "Controller.Start",
			"status":   current.String(),
		}).Debug("Ignoring start, recording not idle")
		return ErrNotIdle
	}
	c.sessionID = uuid.New().String()
	sessionID := c.sessionID
	c.mu.Unlock()
	notify(callback, status)

	logrus.WithFields(logrus.Fields{
		"function":   "Controller.Start",
		"session_id": sessionID,
		"variant":    c.variant.String(),
		"channel":    c.channel,
	}).Info("Requesting capture stream")

	var (
		stream Stream
		err    error
	)
	if c.variant == VariantAudio {
		stream, err = c.capturer.CaptureMicrophone(ctx)
	} else {
		stream, err = c.capturer.CaptureDisplay(ctx)
	}
	if err == nil && stream == nil {
		err = errors.New("capturer returned no stream")
	}

	c.mu.Lock()
	if err != nil {
		callback, status, _ = c.transitionLocked(EventCaptureDenied)
		c.sessionID = ""
		c.mu.Unlock()
		notify(callback, status)

		wrapped := fmt.Errorf("%w: %w", ErrCaptureDenied, err)
		logrus.WithFields(logrus.Fields{
			"function":   "Controller.Start",
			"session_id": sessionID,
			"error":      err.Error(),
		}).Warn("Capture request denied")
		c.sink.Report(telemetry.Failure{
			Kind:      telemetry.CaptureDenied,
			Component: "recording",
			Channel:   c.channel,
			Err:       wrapped,
		})
		return wrapped
	}

	if c.closed {
		// Closed while the request was pending: the stream is never recorded.
		callback, status, _ = c.transitionLocked(EventCaptureDenied)
		c.sessionID = ""
		c.mu.Unlock()
		stream.Stop()
		notify(callback, status)
		return ErrControllerClosed
	}

	callback, status, _ = c.transitionLocked(EventCaptureGranted)
	c.stream = stream
	c.chunks = nil
	c.stopCh = make(chan struct{})
	c.done = make(chan struct{})
	go c.pump(stream, c.stopCh, c.done)
	c.mu.Unlock()
	notify(callback, status)

	logrus.WithFields(logrus.Fields{
		"function":   "Controller.Start",
		"session_id": sessionID,
		"format":     stream.Format(),
	}).Info("Recording started")

	return nil
}

// pump buffers chunks until the stream closes its chunk channel, or until
// abort closes. A stream ending on its own is routed through the regular
// stop path.
func (c *Controller) pump(stream Stream, abort, done chan struct{}) {
	defer close(done)

	chunks := stream.Chunks()
	ended := stream.Ended()
	for {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				go c.finishFrom(context.Background(), EventStreamEnded, done)
				return
			}
			c.appendChunk(chunk)
		case <-ended:
			ended = nil
			go c.finishFrom(context.Background(), EventStreamEnded, done)
		case <-abort:
			return
		}
	}
}

func (c *Controller) appendChunk(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	buf := make([]byte, len(chunk))
	copy(buf, chunk)

	c.mu.Lock()
	c.chunks = append(c.chunks, buf)
	c.mu.Unlock()
}

// Stop finishes the current recording and returns its artifact. It is a
// no-op returning a nil artifact unless the controller is recording. Stop
// waits for the stream's final flush; if ctx ends first, the artifact is
// built from the data received so far.
func (c *Controller) Stop(ctx context.Context) (*Artifact, error) {
	return c.finishFrom(ctx, EventStop, nil)
}

// finishFrom applies e to the current recording. A non-nil pump restricts it
// to the recording served by that pump.
func (c *Controller) finishFrom(ctx context.Context, e Event, pump chan struct{}) (*Artifact, error) {
	c.mu.Lock()
	if pump != nil && c.done != pump {
		c.mu.Unlock()
		return nil, nil
	}
	callback, status, ok := c.transitionLocked(e)
	if !ok {
		c.mu.Unlock()
		return nil, nil
	}
	sessionID := c.sessionID
	stream := c.stream
	abort, done := c.stopCh, c.done
	c.mu.Unlock()
	notify(callback, status)

	if e == EventStreamEnded {
		c.sink.Report(telemetry.Failure{
			Kind:      telemetry.StreamEndedExternally,
			Component: "recording",
			Channel:   c.channel,
		})
	}

	// Stopping the stream makes it deliver its final data and close Chunks.
	stream.Stop()
	select {
	case <-done:
	case <-ctx.Done():
		close(abort)
		<-done
		logrus.WithFields(logrus.Fields{
			"function":   "Controller.finish",
			"session_id": sessionID,
			"error":      ctx.Err().Error(),
		}).Warn("Gave up waiting for final capture data")
	}

	c.mu.Lock()
	chunks := c.chunks
	c.chunks = nil
	c.mu.Unlock()

	artifact, err := BuildArtifact(c.variant, stream.Format(), c.channel, chunks, c.clock.Now())
	var result *Artifact
	if err == nil {
		artifact.SessionID = sessionID
		if saveErr := c.saver.Save(context.WithoutCancel(ctx), artifact); saveErr != nil {
			err = fmt.Errorf("save artifact %s: %w", artifact.Filename, saveErr)
		} else {
			result = &artifact
		}
	}
	if err != nil {
		c.sink.Report(telemetry.Failure{
			Kind:      telemetry.ArtifactFailure,
			Component: "recording",
			Channel:   c.channel,
			Err:       err,
		})
	}

	c.mu.Lock()
	c.stream = nil
	c.stopCh, c.done = nil, nil
	c.sessionID = ""
	callback, status, _ = c.transitionLocked(EventFlushed)
	c.mu.Unlock()
	notify(callback, status)

	fields := logrus.Fields{
		"function":   "Controller.finish",
		"session_id": sessionID,
		"reason":     e.String(),
		"chunks":     len(chunks),
	}
	if result != nil {
		fields["filename"] = result.Filename
		fields["size"] = len(result.Data)
	}
	logrus.WithFields(fields).Info("Recording stopped")

	return result, err
}

// Close stops an active recording and prevents new ones. A capture request
// still pending is discarded when it resolves.
func (c *Controller) Close(ctx context.Context) (*Artifact, error) {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return c.Stop(ctx)
}
