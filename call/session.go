// Package call owns one client-side call session.
//
// A Session joins and leaves a channel through a Transport, hands device
// acquisition to a media.Service, feeds transport events through the active
// speaker detector into the focus arbiter, and hosts the recording controller
// and the controls visibility timer.
//
// Transport callbacks never touch session state directly. They are queued in
// a FIFO mailbox stamped with the connection generation and applied by one
// dispatcher goroutine, so events from a previous connection are discarded
// once the session has left.
package call

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/roomcall/config"
	"github.com/opd-ai/roomcall/controls"
	"github.com/opd-ai/roomcall/focus"
	"github.com/opd-ai/roomcall/media"
	"github.com/opd-ai/roomcall/participant"
	"github.com/opd-ai/roomcall/recording"
	"github.com/opd-ai/roomcall/speaker"
	"github.com/opd-ai/roomcall/telemetry"
)

// State is the connection state of a session.
type State uint8

const (
	// StateDisconnected means no join is pending and no channel is held.
	StateDisconnected State = iota
	// StateConnecting means the handshake is in flight.
	StateConnecting
	// StateConnected means the channel is joined.
	StateConnected
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// Config wires a Session to its collaborators.
type Config struct {
	// ChannelID is forwarded unchanged to the transport.
	ChannelID string
	// UserID identifies the member in the presence store.
	UserID string
	// Options holds the tunables. Nil uses config.Default().
	Options *config.Options

	Transport Transport
	Devices   media.Devices
	Capturer  recording.Capturer
	Saver     recording.Saver

	// Presence is optional.
	Presence    Presence
	Permissions Permissions
	// RecordingVariant selects call or audio-only capture.
	RecordingVariant recording.Variant
	// Sink receives failures. Nil logs them.
	Sink telemetry.Sink
	// Scheduler sleeps the startup delay and retry backoff. Nil uses the
	// wall clock.
	Scheduler media.Scheduler
}

// Snapshot is a point-in-time view of the session for the rendering layer.
type Snapshot struct {
	ChannelID       string
	State           State
	LocalID         participant.ID
	Remotes         []participant.ID
	Focus           focus.State
	Layout          focus.Layout
	MicrophoneOn    bool
	CameraOn        bool
	Recording       recording.Status
	CanRecord       bool
	ControlsVisible bool
}

// Session is one member's view of one call channel.
type Session struct {
	channelID   string
	userID      string
	opts        *config.Options
	transport   Transport
	presence    Presence
	permissions Permissions
	sink        telemetry.Sink
	scheduler   media.Scheduler

	media     *media.Service
	recorder  *recording.Controller
	controls  *controls.Timer
	remotes   *participant.Registry
	box       *mailbox
	dispatch  sync.WaitGroup
	acquiring sync.WaitGroup

	mu            sync.Mutex
	state         State
	generation    uint64
	closed        bool
	localID       participant.ID
	lease         media.Lease
	unsubscribe   func()
	cancelAcquire context.CancelFunc
	focus         focus.State

	focusCallback func(state focus.State, layout focus.Layout)
}

// Open builds a session, announces the member to the presence store and
// starts the event dispatcher. The session is disconnected until Join.
func Open(ctx context.Context, cfg Config) (*Session, error) {
	if cfg.Transport == nil {
		return nil, errors.New("transport cannot be nil")
	}
	if cfg.Devices == nil {
		return nil, errors.New("devices cannot be nil")
	}
	opts := cfg.Options
	if opts == nil {
		opts = config.Default()
	}
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}

	sink := telemetry.OrDefault(cfg.Sink)
	scheduler := cfg.Scheduler
	if scheduler == nil {
		scheduler = media.DefaultScheduler{}
	}

	svc, err := media.NewService(cfg.Devices, media.ServiceConfig{
		Scheduler: scheduler,
		Sink:      sink,
		MicrophoneBackoff: media.BackoffPolicy{
			Attempts:     opts.MicrophoneRetry.Attempts,
			InitialDelay: opts.MicrophoneRetry.InitialDelay,
			Multiplier:   opts.MicrophoneRetry.Multiplier,
		},
		Camera:       media.CameraConfig{EncoderPreset: opts.CameraPreset},
		MicrophoneOn: opts.MicrophoneOn,
		CameraOn:     opts.CameraOn,
	})
	if err != nil {
		return nil, fmt.Errorf("create track service: %w", err)
	}

	recorder, err := recording.NewController(recording.Config{
		Variant:  cfg.RecordingVariant,
		Channel:  cfg.ChannelID,
		Capturer: cfg.Capturer,
		Saver:    cfg.Saver,
		Sink:     sink,
	})
	if err != nil {
		return nil, fmt.Errorf("create recording controller: %w", err)
	}

	s := &Session{
		channelID:   cfg.ChannelID,
		userID:      cfg.UserID,
		opts:        opts,
		transport:   cfg.Transport,
		presence:    cfg.Presence,
		permissions: cfg.Permissions,
		sink:        sink,
		scheduler:   scheduler,
		media:       svc,
		recorder:    recorder,
		controls:    controls.NewTimer(opts.ControlsIdleTimeout, opts.CompactBreakpoint),
		remotes:     participant.NewRegistry(),
		box:         newMailbox(),
		focus:       focus.Initial(),
	}

	s.dispatch.Add(1)
	go func() {
		defer s.dispatch.Done()
		s.box.run(s.apply)
	}()

	s.updatePresence(ctx, true)

	logrus.WithFields(logrus.Fields{
		"function":   "Open",
		"channel_id": s.channelID,
		"user_id":    s.userID,
		"variant":    cfg.RecordingVariant.String(),
		"can_record": s.permissions.CanRecord(),
	}).Info("Call session opened")

	return s, nil
}

// SetFocusCallback registers a callback invoked whenever the focus state
// changes. It runs on the dispatcher or the calling goroutine without the
// session lock held.
func (s *Session) SetFocusCallback(callback func(state focus.State, layout focus.Layout)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.focusCallback = callback
}

// SetRecordingCallback registers a callback invoked after every recording
// status change.
func (s *Session) SetRecordingCallback(callback func(status recording.Status)) {
	s.recorder.SetStatusCallback(callback)
}

// SetControlsCallback registers a callback invoked when controls visibility
// flips.
func (s *Session) SetControlsCallback(callback func(visible bool)) {
	s.controls.SetChangeCallback(callback)
}

// Join connects to the channel. It returns once the handshake resolves;
// device acquisition and publishing continue in the background after the
// startup delay.
func (s *Session) Join(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.state != StateDisconnected {
		state := s.state
		s.mu.Unlock()
		logrus.WithFields(logrus.Fields{
			"function": "Session.Join",
			"state":    state.String(),
		}).Debug("Ignoring join, session busy")
		return ErrAlreadyJoined
	}
	s.state = StateConnecting
	s.generation++
	gen := s.generation
	s.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":   "Session.Join",
		"channel_id": s.channelID,
		"generation": gen,
	}).Info("Joining channel")

	localID, err := s.transport.Join(ctx, s.opts.AppID, s.channelID, s.opts.Token)

	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		if err == nil {
			// Left while connecting: undo the late handshake.
			if leaveErr := s.transport.Leave(context.Background()); leaveErr != nil {
				s.reportTransport("leave", leaveErr)
			}
		}
		logrus.WithFields(logrus.Fields{
			"function":   "Session.Join",
			"channel_id": s.channelID,
			"generation": gen,
		}).Info("Discarding join completed after leave")
		return ErrJoinAbandoned
	}

	if err != nil {
		s.state = StateDisconnected
		s.mu.Unlock()

		wrapped := fmt.Errorf("%w: %w", ErrJoinFailed, err)
		logrus.WithFields(logrus.Fields{
			"function":   "Session.Join",
			"channel_id": s.channelID,
			"error":      err.Error(),
		}).Error("Join failed")
		s.sink.Report(telemetry.Failure{
			Kind:      telemetry.JoinFailure,
			Component: "call",
			Channel:   s.channelID,
			Err:       wrapped,
		})
		return wrapped
	}

	s.state = StateConnected
	s.localID = localID
	s.lease = s.media.Open()
	s.focus = focus.Initial()
	s.unsubscribe = s.transport.Subscribe(&handler{box: s.box, generation: gen})
	for _, p := range s.transport.RemoteParticipants() {
		s.remotes.Add(p)
	}
	acquireCtx, cancel := context.WithCancel(context.Background())
	s.cancelAcquire = cancel
	lease := s.lease
	remoteCount := s.remotes.Len()
	s.acquiring.Add(1)
	s.mu.Unlock()

	if err := s.transport.EnableVolumeIndicator(); err != nil {
		s.reportTransport("enable_volume_indicator", err)
	}

	logrus.WithFields(logrus.Fields{
		"function":   "Session.Join",
		"channel_id": s.channelID,
		"local_id":   localID,
		"remotes":    remoteCount,
	}).Info("Connected to channel")

	go func() {
		defer s.acquiring.Done()
		s.acquireAndPublish(acquireCtx, gen, lease)
	}()

	return nil
}

// acquireAndPublish waits the startup delay, acquires both devices and
// publishes whatever was obtained, unless the session moved on meanwhile.
func (s *Session) acquireAndPublish(ctx context.Context, gen uint64, lease media.Lease) {
	if err := s.scheduler.Sleep(ctx, s.opts.StartupDelay); err != nil {
		return
	}
	if !s.current(gen) {
		return
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if _, err := s.media.AcquireMicrophone(ctx, lease); err != nil {
			s.logAcquireFailure(media.KindAudio, err)
		}
	}()
	go func() {
		defer wg.Done()
		if _, err := s.media.AcquireCamera(ctx, lease); err != nil {
			s.logAcquireFailure(media.KindVideo, err)
		}
	}()
	wg.Wait()

	s.mu.Lock()
	if s.generation != gen || s.state != StateConnected {
		s.mu.Unlock()
		return
	}
	tracks := s.media.Tracks()
	s.mu.Unlock()

	if len(tracks) == 0 {
		logrus.WithFields(logrus.Fields{
			"function":   "Session.acquireAndPublish",
			"channel_id": s.channelID,
		}).Warn("No local tracks acquired, staying receive-only")
		return
	}

	// Leave cancels ctx, so a stalled publish never holds up teardown.
	err := s.transport.Publish(ctx, tracks)
	if !s.current(gen) {
		logrus.WithFields(logrus.Fields{
			"function":   "Session.acquireAndPublish",
			"channel_id": s.channelID,
			"generation": gen,
		}).Debug("Discarding publish result after leave")
		return
	}

	if err != nil {
		s.reportTransport("publish", err)
		// A failed publish ends the partially set up connection.
		if leaveErr := s.Leave(context.Background()); leaveErr != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Session.acquireAndPublish",
				"error":    leaveErr.Error(),
			}).Warn("Cleanup after publish failure incomplete")
		}
		return
	}

	logrus.WithFields(logrus.Fields{
		"function":   "Session.acquireAndPublish",
		"channel_id": s.channelID,
		"tracks":     len(tracks),
	}).Info("Local tracks published")
}

func (s *Session) logAcquireFailure(kind media.Kind, err error) {
	logrus.WithFields(logrus.Fields{
		"function": "Session.acquireAndPublish",
		"kind":     kind.String(),
		"reason":   media.Classify(err),
		"error":    err.Error(),
	}).Debug("Continuing without local track")
}

func (s *Session) current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation == gen && s.state == StateConnected
}

// Leave ends the connection. It releases every local track, detaches the
// event subscription, clears the remote set and resets focus. Calling it
// while disconnected is a no-op.
func (s *Session) Leave(ctx context.Context) error {
	s.mu.Lock()
	previous := s.state
	if previous == StateDisconnected {
		s.mu.Unlock()
		return nil
	}

	s.generation++
	s.state = StateDisconnected
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	if s.cancelAcquire != nil {
		s.cancelAcquire()
		s.cancelAcquire = nil
	}
	// Invalidate the lease before anyone can observe the new generation, so
	// an acquisition resolving now is discarded rather than enabled.
	released := s.media.Release()
	s.remotes.Reset()
	s.localID = ""
	s.lease = media.Lease{}
	changed := s.focus != focus.Initial()
	s.focus = focus.Initial()
	callback := s.focusCallback
	s.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	if changed && callback != nil {
		callback(focus.Initial(), focus.Arrange(focus.Initial(), nil))
	}

	logrus.WithFields(logrus.Fields{
		"function":   "Session.Leave",
		"channel_id": s.channelID,
		"previous":   previous.String(),
		"released":   released,
	}).Info("Left channel")

	// A pending handshake is undone by Join when it resolves.
	if previous != StateConnected {
		return nil
	}
	if err := s.transport.Leave(ctx); err != nil {
		s.reportTransport("leave", err)
		return fmt.Errorf("leave channel: %w", err)
	}
	return nil
}

// Close leaves the channel, finishes any recording, stops the controls
// timer, removes the member from the presence store and stops the
// dispatcher. It is safe to call more than once.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	var errs []error
	if err := s.Leave(ctx); err != nil {
		errs = append(errs, err)
	}
	s.acquiring.Wait()

	if _, err := s.recorder.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("finish recording: %w", err))
	}
	s.controls.Stop()
	s.updatePresence(ctx, false)

	s.box.close()
	s.dispatch.Wait()

	logrus.WithFields(logrus.Fields{
		"function":   "Session.Close",
		"channel_id": s.channelID,
	}).Info("Call session closed")

	return errors.Join(errs...)
}

func (s *Session) updatePresence(ctx context.Context, enter bool) {
	if s.presence == nil || s.userID == "" {
		return
	}

	var (
		err    error
		action = "exit"
	)
	if enter {
		action = "enter"
		err = s.presence.Enter(ctx, s.channelID, s.userID)
	} else {
		err = s.presence.Exit(ctx, s.channelID, s.userID)
	}
	if err == nil {
		return
	}

	logrus.WithFields(logrus.Fields{
		"function":   "Session.updatePresence",
		"channel_id": s.channelID,
		"user_id":    s.userID,
		"action":     action,
		"error":      err.Error(),
	}).Warn("Presence update failed")
	s.sink.Report(telemetry.Failure{
		Kind:      telemetry.PresenceFailure,
		Component: "call.presence",
		Channel:   s.channelID,
		Err:       fmt.Errorf("presence %s: %w", action, err),
	})
}

func (s *Session) reportTransport(op string, err error) {
	logrus.WithFields(logrus.Fields{
		"function":   "Session.reportTransport",
		"channel_id": s.channelID,
		"operation":  op,
		"error":      err.Error(),
	}).Warn("Transport operation failed")
	s.sink.Report(telemetry.Failure{
		Kind:      telemetry.TransportFailure,
		Component: "call.transport",
		Channel:   s.channelID,
		Err:       fmt.Errorf("%s: %w", op, err),
	})
}

// apply runs on the dispatcher goroutine.
func (s *Session) apply(e envelope) {
	s.mu.Lock()
	if e.generation != s.generation || s.state != StateConnected {
		s.mu.Unlock()
		return
	}

	before := s.focus
	switch ev := e.event.(type) {
	case volumeTick:
		s.applyVolumeLocked(ev.samples)
	case remoteJoined:
		if s.remotes.Add(ev.participant) {
			logrus.WithFields(logrus.Fields{
				"function":       "Session.apply",
				"participant_id": ev.participant.ID,
				"remotes":        s.remotes.Len(),
			}).Info("Remote participant joined")
		}
	case remoteLeft:
		if s.remotes.Remove(ev.id) {
			logrus.WithFields(logrus.Fields{
				"function":       "Session.apply",
				"participant_id": ev.id,
				"remotes":        s.remotes.Len(),
			}).Info("Remote participant left")
		}
		s.focus = focus.Reduce(s.focus, focus.ParticipantLeft{ID: ev.id})
	}

	state := s.focus
	layout := focus.Arrange(state, s.remotes.IDs())
	callback := s.focusCallback
	s.mu.Unlock()

	if state != before && callback != nil {
		callback(state, layout)
	}
}

// applyVolumeLocked feeds one tick through the detector. Samples for
// participants not in the call are dropped before detection.
func (s *Session) applyVolumeLocked(samples []speaker.VolumeSample) {
	known := samples[:0:0]
	for _, sample := range samples {
		id := participant.Normalize(sample.ID, s.localID)
		if id == participant.Local || s.remotes.Has(id) {
			known = append(known, sample)
		}
	}

	signal, ok := speaker.Detect(known, s.localID, s.opts.SpeakerThreshold)
	if !ok {
		return
	}
	s.focus = focus.Reduce(s.focus, focus.SpeakerDetected{ID: signal.ID})
}

// State returns the connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connected reports whether the channel is joined.
func (s *Session) Connected() bool {
	return s.State() == StateConnected
}

// LocalID returns the transport id assigned to the local member, or empty
// when disconnected.
func (s *Session) LocalID() participant.ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.localID
}

// Remotes returns the remote participants in join order.
func (s *Session) Remotes() []participant.Participant {
	ids := s.remotes.IDs()
	out := make([]participant.Participant, 0, len(ids))
	for _, id := range ids {
		if p, ok := s.remotes.Get(id); ok {
			out = append(out, p)
		}
	}
	return out
}

// Focus returns the arbiter state.
func (s *Session) Focus() focus.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.focus
}

// Layout returns the current tile arrangement.
func (s *Session) Layout() focus.Layout {
	s.mu.Lock()
	defer s.mu.Unlock()
	return focus.Arrange(s.focus, s.remotes.IDs())
}

// SelectTile pins the focus on id. The local participant can always be
// pinned; a remote must be present in the call.
func (s *Session) SelectTile(id participant.ID) error {
	s.mu.Lock()
	if s.state != StateConnected {
		s.mu.Unlock()
		return ErrNotConnected
	}
	id = participant.Normalize(id, s.localID)
	if id != participant.Local && !s.remotes.Has(id) {
		s.mu.Unlock()
		return fmt.Errorf("select %s: %w", id, ErrUnknownParticipant)
	}
	return s.reduceAndUnlock(focus.TileSelected{ID: id})
}

// ReturnToAuto releases a manual pin.
func (s *Session) ReturnToAuto() error {
	s.mu.Lock()
	if s.state != StateConnected {
		s.mu.Unlock()
		return ErrNotConnected
	}
	return s.reduceAndUnlock(focus.ReturnToAuto{})
}

// reduceAndUnlock applies e, releases the lock and notifies on change.
func (s *Session) reduceAndUnlock(e focus.Event) error {
	before := s.focus
	s.focus = focus.Reduce(s.focus, e)
	state := s.focus
	layout := focus.Arrange(state, s.remotes.IDs())
	callback := s.focusCallback
	s.mu.Unlock()

	if state != before && callback != nil {
		callback(state, layout)
	}
	return nil
}

// MicrophoneEnabled reports the microphone enablement flag.
func (s *Session) MicrophoneEnabled() bool {
	return s.media.Enabled(media.KindAudio)
}

// CameraEnabled reports the camera enablement flag.
func (s *Session) CameraEnabled() bool {
	return s.media.Enabled(media.KindVideo)
}

// SetMicrophoneEnabled changes microphone enablement without rejoining.
func (s *Session) SetMicrophoneEnabled(on bool) error {
	return s.media.SetEnabled(media.KindAudio, on)
}

// SetCameraEnabled changes camera enablement without rejoining.
func (s *Session) SetCameraEnabled(on bool) error {
	return s.media.SetEnabled(media.KindVideo, on)
}

// ToggleMicrophone flips microphone enablement and returns the new flag.
func (s *Session) ToggleMicrophone() (bool, error) {
	on := !s.MicrophoneEnabled()
	return on, s.SetMicrophoneEnabled(on)
}

// ToggleCamera flips camera enablement and returns the new flag.
func (s *Session) ToggleCamera() (bool, error) {
	on := !s.CameraEnabled()
	return on, s.SetCameraEnabled(on)
}

// CanRecord reports whether the member may record.
func (s *Session) CanRecord() bool {
	return s.permissions.CanRecord()
}

// IsRecording reports whether a recording session exists.
func (s *Session) IsRecording() bool {
	return s.recorder.IsRecording()
}

// StartRecording starts capture when the member may record.
func (s *Session) StartRecording(ctx context.Context) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrSessionClosed
	}
	if !s.permissions.CanRecord() {
		logrus.WithFields(logrus.Fields{
			"function":   "Session.StartRecording",
			"channel_id": s.channelID,
			"role":       s.permissions.Role,
		}).Warn("Recording refused")
		return ErrRecordingNotPermitted
	}
	return s.recorder.Start(ctx)
}

// StopRecording finishes the recording and returns its artifact, or nil when
// nothing was recording.
func (s *Session) StopRecording(ctx context.Context) (*recording.Artifact, error) {
	return s.recorder.Stop(ctx)
}

// ControlsVisible reports whether call controls are shown.
func (s *Session) ControlsVisible() bool {
	return s.controls.Visible()
}

// PointerDown records an interaction with the call surface.
func (s *Session) PointerDown() {
	s.controls.PointerDown()
}

// Resize records a viewport change.
func (s *Session) Resize(v controls.Viewport) {
	s.controls.Resize(v)
}

// Snapshot returns the state exposed to the rendering layer.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	remotes := s.remotes.IDs()
	snap := Snapshot{
		ChannelID: s.channelID,
		State:     s.state,
		LocalID:   s.localID,
		Remotes:   remotes,
		Focus:     s.focus,
		Layout:    focus.Arrange(s.focus, remotes),
	}
	s.mu.Unlock()

	snap.MicrophoneOn = s.MicrophoneEnabled()
	snap.CameraOn = s.CameraEnabled()
	snap.Recording = s.recorder.Status()
	snap.CanRecord = s.permissions.CanRecord()
	snap.ControlsVisible = s.controls.Visible()
	return snap
}
