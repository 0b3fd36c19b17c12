package sim

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/roomcall/media"
)

// Track is an in-memory media.Track.
type Track struct {
	id   string
	kind media.Kind

	mu      sync.Mutex
	enabled bool
	stops   atomic.Int32
}

// NewTrack creates a disabled track.
func NewTrack(id string, kind media.Kind) *Track {
	return &Track{id: id, kind: kind}
}

// ID implements media.Track.
func (t *Track) ID() string { return t.id }

// Kind implements media.Track.
func (t *Track) Kind() media.Kind { return t.kind }

// SetEnabled implements media.Track.
func (t *Track) SetEnabled(on bool) error {
	if t.Stopped() {
		return fmt.Errorf("track %s already stopped", t.id)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = on
	return nil
}

// Enabled implements media.Track.
func (t *Track) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

// Stop implements media.Track.
func (t *Track) Stop() {
	t.stops.Add(1)
}

// Stopped reports whether Stop was called.
func (t *Track) Stopped() bool {
	return t.stops.Load() > 0
}

// StopCount returns how often Stop was called.
func (t *Track) StopCount() int {
	return int(t.stops.Load())
}

// Devices is an in-memory media.Devices.
type Devices struct {
	mu         sync.Mutex
	micErrs    []error
	camErr     error
	gate       chan struct{}
	micCalls   int
	camCalls   int
	lastCamera media.CameraConfig
	issued     []*Track
}

// NewDevices creates devices that grant every request.
func NewDevices() *Devices {
	return &Devices{}
}

// FailMicrophone queues errors returned by the next microphone requests,
// one per request.
func (d *Devices) FailMicrophone(errs ...error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.micErrs = append(d.micErrs, errs...)
}

// FailCamera makes camera requests fail with err. Nil restores success.
func (d *Devices) FailCamera(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.camErr = err
}

// Hold makes device requests block until the returned function is called.
func (d *Devices) Hold() (release func()) {
	gate := make(chan struct{})
	d.mu.Lock()
	d.gate = gate
	d.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			if d.gate == gate {
				d.gate = nil
			}
			d.mu.Unlock()
			close(gate)
		})
	}
}

// RequestMicrophone implements media.Devices. The request is never aborted
// by ctx, as with a real permission prompt.
func (d *Devices) RequestMicrophone(ctx context.Context) (media.Track, error) {
	d.mu.Lock()
	d.micCalls++
	var err error
	if len(d.micErrs) > 0 {
		err = d.micErrs[0]
		d.micErrs = d.micErrs[1:]
	}
	gate := d.gate
	d.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	return d.issue(media.KindAudio), nil
}

// RequestCamera implements media.Devices.
func (d *Devices) RequestCamera(ctx context.Context, cfg media.CameraConfig) (media.Track, error) {
	d.mu.Lock()
	d.camCalls++
	d.lastCamera = cfg
	err := d.camErr
	gate := d.gate
	d.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	return d.issue(media.KindVideo), nil
}

func (d *Devices) issue(kind media.Kind) *Track {
	d.mu.Lock()
	defer d.mu.Unlock()

	track := NewTrack(fmt.Sprintf("local-%s-%d", kind, len(d.issued)+1), kind)
	d.issued = append(d.issued, track)

	logrus.WithFields(logrus.Fields{
		"function": "Devices.issue",
		"track_id": track.id,
		"kind":     kind.String(),
	}).Debug("Simulated device granted")

	return track
}

// Issued returns every track handed out, in order.
func (d *Devices) Issued() []*Track {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Track(nil), d.issued...)
}

// Requests returns how often each device was requested.
func (d *Devices) Requests() (microphone, camera int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.micCalls, d.camCalls
}

// LastCamera returns the configuration of the latest camera request.
func (d *Devices) LastCamera() media.CameraConfig {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastCamera
}

// Scheduler is a media.Scheduler that never waits. It records the delays it
// was asked to sleep.
type Scheduler struct {
	mu     sync.Mutex
	delays []time.Duration
}

// NewScheduler creates a scheduler with an empty record.
func NewScheduler() *Scheduler {
	return &Scheduler{}
}

// Sleep records d and returns ctx.Err().
func (s *Scheduler) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

// Delays returns every recorded delay in order.
func (s *Scheduler) Delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}
