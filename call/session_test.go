package call_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/roomcall/call"
	"github.com/opd-ai/roomcall/config"
	"github.com/opd-ai/roomcall/controls"
	"github.com/opd-ai/roomcall/focus"
	"github.com/opd-ai/roomcall/media"
	"github.com/opd-ai/roomcall/participant"
	"github.com/opd-ai/roomcall/recording"
	"github.com/opd-ai/roomcall/sim"
	"github.com/opd-ai/roomcall/speaker"
	"github.com/opd-ai/roomcall/telemetry"
)

const (
	testChannel = "room-42"
	testUser    = "user-7"
	localUID    = participant.ID("uid-1")
	waitFor     = 2 * time.Second
	tick        = 2 * time.Millisecond
)

type harness struct {
	transport *sim.Transport
	devices   *sim.Devices
	capturer  *sim.Capturer
	saver     *recording.MemorySaver
	presence  *sim.Presence
	scheduler *sim.Scheduler
	sink      *telemetry.Recorder
	session   *call.Session
}

func newHarness(t *testing.T, mutate ...func(cfg *call.Config)) *harness {
	t.Helper()

	h := &harness{
		transport: sim.NewTransport(localUID),
		devices:   sim.NewDevices(),
		capturer:  sim.NewCapturer(),
		saver:     &recording.MemorySaver{},
		presence:  sim.NewPresence(),
		scheduler: sim.NewScheduler(),
		sink:      telemetry.NewRecorder(time.Minute),
	}

	cfg := call.Config{
		ChannelID:   testChannel,
		UserID:      testUser,
		Options:     config.Default(),
		Transport:   h.transport,
		Devices:     h.devices,
		Capturer:    h.capturer,
		Saver:       h.saver,
		Presence:    h.presence,
		Permissions: call.Permissions{Role: call.RoleAdmin, UserID: testUser},
		Sink:        h.sink,
		Scheduler:   h.scheduler,
	}
	for _, m := range mutate {
		m(&cfg)
	}

	session, err := call.Open(context.Background(), cfg)
	require.NoError(t, err)
	h.session = session
	t.Cleanup(func() { _ = session.Close(context.Background()) })
	return h
}

// joined returns a harness whose session has connected and published.
func joined(t *testing.T, mutate ...func(cfg *call.Config)) *harness {
	t.Helper()
	h := newHarness(t, mutate...)
	require.NoError(t, h.session.Join(context.Background()))
	require.Eventually(t, func() bool { return len(h.transport.Publishes()) == 1 }, waitFor, tick)
	return h
}

func (h *harness) addRemotes(t *testing.T, ids ...participant.ID) {
	t.Helper()
	for _, id := range ids {
		h.transport.AddRemote(id)
	}
	require.Eventually(t, func() bool {
		return len(h.session.Remotes()) == len(ids)
	}, waitFor, tick)
}

func busy() error {
	return fmt.Errorf("NotReadableError: %w", media.ErrDeviceBusy)
}

func TestOpenValidatesCollaborators(t *testing.T) {
	_, err := call.Open(context.Background(), call.Config{Devices: sim.NewDevices()})
	assert.Error(t, err)

	_, err = call.Open(context.Background(), call.Config{Transport: sim.NewTransport(localUID)})
	assert.Error(t, err)

	opts := config.Default()
	opts.SpeakerThreshold = 500
	_, err = call.Open(context.Background(), call.Config{
		Transport: sim.NewTransport(localUID),
		Devices:   sim.NewDevices(),
		Capturer:  sim.NewCapturer(),
		Saver:     &recording.MemorySaver{},
		Options:   opts,
	})
	assert.Error(t, err)
}

func TestJoinConnectsAndPublishesAfterStartupDelay(t *testing.T) {
	h := joined(t)

	assert.True(t, h.session.Connected())
	assert.Equal(t, call.StateConnected, h.session.State())
	assert.Equal(t, localUID, h.session.LocalID())
	assert.True(t, h.transport.IndicatorEnabled())
	assert.Equal(t, []string{""}, h.transport.Tokens())

	delays := h.scheduler.Delays()
	require.NotEmpty(t, delays)
	assert.Equal(t, 500*time.Millisecond, delays[0])

	publish := h.transport.Publishes()[0]
	assert.Equal(t, testChannel, publish.Channel)
	require.Len(t, publish.Tracks, 2)
	assert.Equal(t, media.KindAudio, publish.Tracks[0].Kind())
	assert.Equal(t, media.KindVideo, publish.Tracks[1].Kind())
	for _, track := range publish.Tracks {
		assert.True(t, track.Enabled(), track.ID())
	}
	assert.Equal(t, "720p_1", h.devices.LastCamera().EncoderPreset)
}

func TestJoinFailure(t *testing.T) {
	h := newHarness(t)
	cause := errors.New("invalid app id")
	h.transport.FailJoin(cause)

	err := h.session.Join(context.Background())
	assert.ErrorIs(t, err, call.ErrJoinFailed)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, call.StateDisconnected, h.session.State())
	assert.Equal(t, uint64(1), h.sink.Count(telemetry.JoinFailure))

	mic, cam := h.devices.Requests()
	assert.Zero(t, mic)
	assert.Zero(t, cam)

	// No retry at this layer, but the caller may try again.
	h.transport.FailJoin(nil)
	assert.NoError(t, h.session.Join(context.Background()))
}

func TestJoinWhileConnected(t *testing.T) {
	h := joined(t)
	assert.ErrorIs(t, h.session.Join(context.Background()), call.ErrAlreadyJoined)

	joins, _ := h.transport.Calls()
	assert.Equal(t, 1, joins)
}

func TestLeaveReleasesTracksExactlyOnce(t *testing.T) {
	h := joined(t)
	h.addRemotes(t, "alice")

	require.NoError(t, h.session.Leave(context.Background()))
	require.NoError(t, h.session.Leave(context.Background()))

	issued := h.devices.Issued()
	require.Len(t, issued, 2)
	for _, track := range issued {
		assert.Equal(t, 1, track.StopCount(), track.ID())
	}

	_, leaves := h.transport.Calls()
	assert.Equal(t, 1, leaves)
	assert.Zero(t, h.transport.Subscribers())
	assert.False(t, h.session.Connected())
	assert.Empty(t, h.session.Remotes())
	assert.Equal(t, focus.Initial(), h.session.Focus())
	assert.Empty(t, h.session.LocalID())
}

func TestLeaveWhileAcquisitionPendingNeverPublishes(t *testing.T) {
	h := newHarness(t)
	release := h.devices.Hold()
	defer release()

	require.NoError(t, h.session.Join(context.Background()))
	require.Eventually(t, func() bool {
		mic, cam := h.devices.Requests()
		return mic == 1 && cam == 1
	}, waitFor, tick)

	require.NoError(t, h.session.Leave(context.Background()))
	release()

	require.Eventually(t, func() bool {
		issued := h.devices.Issued()
		if len(issued) != 2 {
			return false
		}
		for _, track := range issued {
			if !track.Stopped() {
				return false
			}
		}
		return true
	}, waitFor, tick)

	require.NoError(t, h.session.Close(context.Background()))

	assert.Empty(t, h.transport.Publishes())
	for _, track := range h.devices.Issued() {
		assert.False(t, track.Enabled(), track.ID())
		assert.Equal(t, 1, track.StopCount(), track.ID())
	}
}

func TestLeaveDuringStalledPublish(t *testing.T) {
	h := newHarness(t)
	release := h.transport.HoldPublish()
	defer release()

	require.NoError(t, h.session.Join(context.Background()))
	require.Eventually(t, func() bool { return h.transport.PublishCalls() == 1 }, waitFor, tick)

	left := make(chan error, 1)
	go func() { left <- h.session.Leave(context.Background()) }()

	select {
	case err := <-left:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("Leave blocked behind a stalled publish")
	}

	assert.False(t, h.session.Connected())
	issued := h.devices.Issued()
	require.Len(t, issued, 2)
	for _, track := range issued {
		assert.Equal(t, 1, track.StopCount(), track.ID())
	}

	require.NoError(t, h.session.Close(context.Background()))
	assert.Empty(t, h.transport.Publishes())
	assert.Zero(t, h.sink.Count(telemetry.TransportFailure))
}

func TestLeaveWhileJoiningAbandonsJoin(t *testing.T) {
	h := newHarness(t)
	release := h.transport.HoldJoin()

	result := make(chan error, 1)
	go func() { result <- h.session.Join(context.Background()) }()

	require.Eventually(t, func() bool {
		return h.session.State() == call.StateConnecting
	}, waitFor, tick)

	require.NoError(t, h.session.Leave(context.Background()))
	release()

	err := <-result
	assert.ErrorIs(t, err, call.ErrJoinAbandoned)
	assert.False(t, h.session.Connected())
	assert.False(t, h.transport.Joined())

	_, leaves := h.transport.Calls()
	assert.Equal(t, 1, leaves)

	mic, cam := h.devices.Requests()
	assert.Zero(t, mic)
	assert.Zero(t, cam)
}

func TestMicrophoneBusyRetriedWithBackoff(t *testing.T) {
	h := newHarness(t)
	h.devices.FailMicrophone(busy(), busy())

	require.NoError(t, h.session.Join(context.Background()))
	require.Eventually(t, func() bool { return len(h.transport.Publishes()) == 1 }, waitFor, tick)

	mic, _ := h.devices.Requests()
	assert.Equal(t, 3, mic)
	assert.Equal(t,
		[]time.Duration{500 * time.Millisecond, 1000 * time.Millisecond, 1500 * time.Millisecond},
		h.scheduler.Delays())
	assert.Len(t, h.transport.Publishes()[0].Tracks, 2)
	assert.Zero(t, h.sink.Count(telemetry.DeviceBusy))
}

func TestMicrophoneFailureProceedsWithoutAudio(t *testing.T) {
	tests := []struct {
		name string
		errs []error
		kind telemetry.Kind
		mic  int
	}{
		{"permission denied", []error{fmt.Errorf("NotAllowedError: %w", media.ErrPermissionDenied)}, telemetry.DevicePermissionDenied, 1},
		{"busy exhausted", []error{busy(), busy(), busy()}, telemetry.DeviceBusy, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.devices.FailMicrophone(tt.errs...)

			require.NoError(t, h.session.Join(context.Background()))
			require.Eventually(t, func() bool { return len(h.transport.Publishes()) == 1 }, waitFor, tick)

			publish := h.transport.Publishes()[0]
			require.Len(t, publish.Tracks, 1)
			assert.Equal(t, media.KindVideo, publish.Tracks[0].Kind())
			assert.Equal(t, uint64(1), h.sink.Count(tt.kind))
			assert.True(t, h.session.Connected())

			mic, _ := h.devices.Requests()
			assert.Equal(t, tt.mic, mic)
		})
	}
}

func TestNoDevicesStaysReceiveOnly(t *testing.T) {
	h := newHarness(t)
	h.devices.FailMicrophone(media.ErrDeviceUnavailable)
	h.devices.FailCamera(media.ErrDeviceUnavailable)

	require.NoError(t, h.session.Join(context.Background()))
	require.Eventually(t, func() bool {
		return h.sink.Count(telemetry.DeviceUnavailable) == 2
	}, waitFor, tick)

	assert.Never(t, func() bool { return len(h.transport.Publishes()) > 0 }, 50*time.Millisecond, tick)
	assert.True(t, h.session.Connected())
}

func TestPublishFailureEndsConnection(t *testing.T) {
	h := newHarness(t)
	h.transport.FailPublish(errors.New("publish rejected"))

	require.NoError(t, h.session.Join(context.Background()))
	require.Eventually(t, func() bool { return !h.session.Connected() }, waitFor, tick)

	assert.GreaterOrEqual(t, h.sink.Count(telemetry.TransportFailure), uint64(1))
	for _, track := range h.devices.Issued() {
		assert.Equal(t, 1, track.StopCount(), track.ID())
	}
	assert.Eventually(t, func() bool { return !h.transport.Joined() }, waitFor, tick)
}

func TestActiveSpeakerDrivesFocus(t *testing.T) {
	h := joined(t)
	h.addRemotes(t, "alice", "bob")

	h.transport.EmitVolume(
		speaker.VolumeSample{ID: "alice", Level: 10},
		speaker.VolumeSample{ID: "bob", Level: 60},
	)
	require.Eventually(t, func() bool { return h.session.Focus().Target == "bob" }, waitFor, tick)

	layout := h.session.Layout()
	assert.Equal(t, participant.ID("bob"), layout.Primary)
	assert.Equal(t, []participant.ID{participant.Local, "alice"}, layout.Secondary)
}

func TestSpeakerThresholdIsExclusive(t *testing.T) {
	h := joined(t)
	h.addRemotes(t, "alice", "bob")

	h.transport.EmitVolume(speaker.VolumeSample{ID: "bob", Level: 25})
	h.transport.EmitVolume(speaker.VolumeSample{ID: "alice", Level: 26})

	require.Eventually(t, func() bool { return h.session.Focus().Target == "alice" }, waitFor, tick)
	assert.Equal(t, participant.ID("alice"), h.session.Focus().LastSpeaking)
}

func TestLocalSpeakerNormalized(t *testing.T) {
	h := joined(t)
	h.addRemotes(t, "alice")

	h.transport.EmitVolume(speaker.VolumeSample{ID: "alice", Level: 50})
	require.Eventually(t, func() bool { return h.session.Focus().Target == "alice" }, waitFor, tick)

	h.transport.EmitVolume(speaker.VolumeSample{ID: localUID, Level: 70})
	require.Eventually(t, func() bool { return h.session.Focus().Target == participant.Local }, waitFor, tick)

	h.transport.EmitVolume(speaker.VolumeSample{ID: "alice", Level: 50})
	require.Eventually(t, func() bool { return h.session.Focus().Target == "alice" }, waitFor, tick)

	h.transport.EmitVolume(speaker.VolumeSample{ID: "0", Level: 70})
	require.Eventually(t, func() bool { return h.session.Focus().Target == participant.Local }, waitFor, tick)
}

func TestVolumeForUnknownRemoteIgnored(t *testing.T) {
	h := joined(t)
	h.addRemotes(t, "alice")

	h.transport.EmitVolume(
		speaker.VolumeSample{ID: "ghost", Level: 90},
		speaker.VolumeSample{ID: "alice", Level: 40},
	)
	require.Eventually(t, func() bool { return h.session.Focus().Target == "alice" }, waitFor, tick)
	assert.False(t, h.session.Layout().Contains("ghost"))
}

func TestManualPinPersistsUntilReturnToAuto(t *testing.T) {
	h := joined(t)
	h.addRemotes(t, "alice", "bob")

	require.NoError(t, h.session.SelectTile("alice"))
	assert.Equal(t, focus.State{Target: "alice", Mode: focus.ModeManual}, h.session.Focus())

	h.transport.EmitVolume(speaker.VolumeSample{ID: "bob", Level: 80})
	require.Eventually(t, func() bool { return h.session.Focus().LastSpeaking == "bob" }, waitFor, tick)
	assert.Equal(t, participant.ID("alice"), h.session.Focus().Target)

	require.NoError(t, h.session.ReturnToAuto())
	assert.Equal(t, focus.State{Target: "bob", Mode: focus.ModeAuto, LastSpeaking: "bob"}, h.session.Focus())
}

func TestPinnedParticipantLeaving(t *testing.T) {
	h := joined(t)
	h.addRemotes(t, "alice", "bob")

	require.NoError(t, h.session.SelectTile("alice"))
	h.transport.RemoveRemote("alice")

	require.Eventually(t, func() bool {
		return h.session.Focus() == focus.State{Target: participant.Local, Mode: focus.ModeAuto}
	}, waitFor, tick)

	layout := h.session.Layout()
	assert.Equal(t, participant.Local, layout.Primary)
	assert.Equal(t, []participant.ID{"bob"}, layout.Secondary)
}

func TestFocusCallback(t *testing.T) {
	h := joined(t)
	changes := make(chan focus.State, 8)
	h.session.SetFocusCallback(func(state focus.State, layout focus.Layout) {
		changes <- state
	})
	h.addRemotes(t, "alice")

	require.NoError(t, h.session.SelectTile("alice"))
	select {
	case state := <-changes:
		assert.Equal(t, participant.ID("alice"), state.Target)
	case <-time.After(waitFor):
		t.Fatal("focus callback not invoked")
	}
}

func TestSelectTileErrors(t *testing.T) {
	h := newHarness(t)
	assert.ErrorIs(t, h.session.SelectTile("alice"), call.ErrNotConnected)
	assert.ErrorIs(t, h.session.ReturnToAuto(), call.ErrNotConnected)

	require.NoError(t, h.session.Join(context.Background()))
	assert.ErrorIs(t, h.session.SelectTile("nobody"), call.ErrUnknownParticipant)
	assert.NoError(t, h.session.SelectTile(participant.Local))
}

func TestToggleDoesNotRejoin(t *testing.T) {
	h := joined(t)
	audio := h.transport.Publishes()[0].Tracks[0]

	on, err := h.session.ToggleMicrophone()
	require.NoError(t, err)
	assert.False(t, on)
	assert.False(t, h.session.MicrophoneEnabled())
	assert.False(t, audio.Enabled())

	on, err = h.session.ToggleMicrophone()
	require.NoError(t, err)
	assert.True(t, on)
	assert.True(t, audio.Enabled())

	joins, _ := h.transport.Calls()
	assert.Equal(t, 1, joins)
	assert.Len(t, h.transport.Publishes(), 1)
	mic, _ := h.devices.Requests()
	assert.Equal(t, 1, mic)
}

func TestEnablementFlagAppliedOnLateAcquisition(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.session.SetCameraEnabled(false))

	require.NoError(t, h.session.Join(context.Background()))
	require.Eventually(t, func() bool { return len(h.transport.Publishes()) == 1 }, waitFor, tick)

	video := h.transport.Publishes()[0].Tracks[1]
	assert.False(t, video.Enabled())
	assert.False(t, h.session.CameraEnabled())
	assert.True(t, h.session.MicrophoneEnabled())
}

func TestInitialFlagsFromOptions(t *testing.T) {
	h := joined(t, func(cfg *call.Config) {
		cfg.Options.MicrophoneOn = false
	})

	audio := h.transport.Publishes()[0].Tracks[0]
	assert.False(t, audio.Enabled())
	assert.False(t, h.session.MicrophoneEnabled())
}

func TestRecordingRequiresPermission(t *testing.T) {
	h := newHarness(t, func(cfg *call.Config) {
		cfg.Permissions = call.Permissions{Role: "member", UserID: testUser, CreatorID: "someone-else"}
	})

	assert.False(t, h.session.CanRecord())
	assert.ErrorIs(t, h.session.StartRecording(context.Background()), call.ErrRecordingNotPermitted)

	display, mic := h.capturer.Requests()
	assert.Zero(t, display)
	assert.Zero(t, mic)
	assert.False(t, h.session.IsRecording())
}

func TestRecordingCycle(t *testing.T) {
	h := joined(t)

	require.NoError(t, h.session.StartRecording(context.Background()))
	assert.True(t, h.session.IsRecording())
	assert.ErrorIs(t, h.session.StartRecording(context.Background()), recording.ErrNotIdle)

	stream := h.capturer.Latest()
	require.NotNil(t, stream)
	require.True(t, stream.Push([]byte("webm-header")))
	require.True(t, stream.Push([]byte("cluster-1")))

	artifact, err := h.session.StopRecording(context.Background())
	require.NoError(t, err)
	require.NotNil(t, artifact)

	assert.Equal(t, "video/webm", artifact.MIMEType)
	assert.True(t, strings.HasPrefix(artifact.Filename, "recording-"+testChannel+"-"))
	assert.Equal(t, []byte("webm-headercluster-1"), artifact.Data)
	assert.True(t, stream.Stopped())
	assert.False(t, h.session.IsRecording())
	assert.Len(t, h.saver.Artifacts(), 1)

	again, err := h.session.StopRecording(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, again)
}

func TestAudioRecordingVariant(t *testing.T) {
	h := newHarness(t, func(cfg *call.Config) {
		cfg.RecordingVariant = recording.VariantAudio
	})

	require.NoError(t, h.session.StartRecording(context.Background()))
	stream := h.capturer.Latest()
	require.NotNil(t, stream)
	stream.Push([]byte{0x01, 0x00, 0xff, 0x7f})

	artifact, err := h.session.StopRecording(context.Background())
	require.NoError(t, err)
	require.NotNil(t, artifact)
	assert.Equal(t, "audio/wav", artifact.MIMEType)
	assert.True(t, strings.HasPrefix(artifact.Filename, "audio-recording-"+testChannel+"-"))

	display, mic := h.capturer.Requests()
	assert.Zero(t, display)
	assert.Equal(t, 1, mic)
}

func TestCloseFinishesRecordingAndExitsPresence(t *testing.T) {
	h := joined(t)
	assert.True(t, h.presence.Present(testChannel, testUser))

	require.NoError(t, h.session.StartRecording(context.Background()))
	h.capturer.Latest().Push([]byte("data"))

	require.NoError(t, h.session.Close(context.Background()))
	require.NoError(t, h.session.Close(context.Background()))

	assert.Len(t, h.saver.Artifacts(), 1)
	assert.False(t, h.presence.Present(testChannel, testUser))
	assert.False(t, h.session.Connected())
	assert.ErrorIs(t, h.session.Join(context.Background()), call.ErrSessionClosed)
	assert.ErrorIs(t, h.session.StartRecording(context.Background()), call.ErrSessionClosed)
}

func TestPresenceFailureIsNotFatal(t *testing.T) {
	presence := sim.NewPresence()
	presence.Fail(errors.New("database offline"))

	h := newHarness(t, func(cfg *call.Config) { cfg.Presence = presence })
	assert.Equal(t, uint64(1), h.sink.Count(telemetry.PresenceFailure))
	assert.NoError(t, h.session.Join(context.Background()))
}

func TestControlsThroughSession(t *testing.T) {
	h := newHarness(t, func(cfg *call.Config) {
		cfg.Options.ControlsIdleTimeout = 30 * time.Millisecond
	})

	assert.True(t, h.session.ControlsVisible())
	h.session.Resize(controls.Viewport{Width: 844, Height: 390})
	require.Eventually(t, func() bool { return !h.session.ControlsVisible() }, waitFor, tick)

	h.session.PointerDown()
	assert.True(t, h.session.ControlsVisible())

	h.session.Resize(controls.Viewport{Width: 1440, Height: 900})
	assert.True(t, h.session.ControlsVisible())
}

func TestSnapshot(t *testing.T) {
	h := joined(t)
	h.addRemotes(t, "alice")
	require.NoError(t, h.session.SelectTile("alice"))

	snap := h.session.Snapshot()
	assert.Equal(t, testChannel, snap.ChannelID)
	assert.Equal(t, call.StateConnected, snap.State)
	assert.Equal(t, localUID, snap.LocalID)
	assert.Equal(t, []participant.ID{"alice"}, snap.Remotes)
	assert.Equal(t, participant.ID("alice"), snap.Layout.Primary)
	assert.Equal(t, focus.ModeManual, snap.Focus.Mode)
	assert.True(t, snap.MicrophoneOn)
	assert.True(t, snap.CameraOn)
	assert.Equal(t, recording.StatusIdle, snap.Recording)
	assert.True(t, snap.CanRecord)
	assert.True(t, snap.ControlsVisible)
}

func TestPermissionsCanRecord(t *testing.T) {
	tests := []struct {
		name string
		perm call.Permissions
		want bool
	}{
		{"admin", call.Permissions{Role: call.RoleAdmin}, true},
		{"creator", call.Permissions{Role: "member", UserID: "u1", CreatorID: "u1"}, true},
		{"member", call.Permissions{Role: "member", UserID: "u1", CreatorID: "u2"}, false},
		{"anonymous", call.Permissions{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.perm.CanRecord())
		})
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "disconnected", call.StateDisconnected.String())
	assert.Equal(t, "connecting", call.StateConnecting.String())
	assert.Equal(t, "connected", call.StateConnected.String())
}
