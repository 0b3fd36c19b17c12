package media

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opd-ai/roomcall/telemetry"
)

type mockTrack struct {
	id      string
	kind    Kind
	mu      sync.Mutex
	enabled bool
	stops   atomic.Int32
}

func (t *mockTrack) ID() string { return t.id }
func (t *mockTrack) Kind() Kind { return t.kind }
func (t *mockTrack) Stop()      { t.stops.Add(1) }

func (t *mockTrack) SetEnabled(on bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = on
	return nil
}

func (t *mockTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

// mockDevices answers microphone requests from micErrs in order, then
// succeeds. Camera requests fail with camErr when set.
type mockDevices struct {
	mu       sync.Mutex
	micErrs  []error
	camErr   error
	micCalls int
	camCalls int
	camCfg   CameraConfig
	gate     chan struct{}
	issued   []*mockTrack

	// honourCtx fails requests whose context is done once the gate opens.
	honourCtx bool
}

func (d *mockDevices) RequestMicrophone(ctx context.Context) (Track, error) {
	d.mu.Lock()
	d.micCalls++
	var err error
	if len(d.micErrs) > 0 {
		err = d.micErrs[0]
		d.micErrs = d.micErrs[1:]
	}
	gate, honour := d.gate, d.honourCtx
	d.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if honour && ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	return d.issue(KindAudio), nil
}

func (d *mockDevices) RequestCamera(ctx context.Context, cfg CameraConfig) (Track, error) {
	d.mu.Lock()
	d.camCalls++
	d.camCfg = cfg
	err := d.camErr
	gate, honour := d.gate, d.honourCtx
	d.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if honour && ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	return d.issue(KindVideo), nil
}

func (d *mockDevices) issue(kind Kind) *mockTrack {
	d.mu.Lock()
	defer d.mu.Unlock()
	t := &mockTrack{id: fmt.Sprintf("%s-%d", kind, len(d.issued)+1), kind: kind}
	d.issued = append(d.issued, t)
	return t
}

func (d *mockDevices) counts() (mic, cam int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.micCalls, d.camCalls
}

// recordingScheduler returns immediately and remembers requested delays.
type recordingScheduler struct {
	mu     sync.Mutex
	delays []time.Duration
	err    error
	before func()
}

func (s *recordingScheduler) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	before, err := s.before, s.err
	s.mu.Unlock()

	if before != nil {
		before()
	}
	return err
}

func (s *recordingScheduler) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

type captureSink struct {
	mu       sync.Mutex
	failures []telemetry.Failure
}

func (c *captureSink) Report(f telemetry.Failure) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures = append(c.failures, f)
}

func (c *captureSink) kinds() []telemetry.Kind {
	c.mu.Lock()
	defer c.mu.Unlock()
	kinds := make([]telemetry.Kind, len(c.failures))
	for i, f := range c.failures {
		kinds[i] = f.Kind
	}
	return kinds
}
