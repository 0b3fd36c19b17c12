package media

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/roomcall/telemetry"
)

// Lease binds acquisitions to one connected session. The zero Lease is
// never valid.
type Lease struct {
	epoch uint64
}

// ServiceConfig configures a Service.
type ServiceConfig struct {
	// Scheduler sleeps between retries. Nil uses DefaultScheduler.
	Scheduler Scheduler
	// Sink receives non-fatal acquisition failures. Nil logs them.
	Sink telemetry.Sink
	// MicrophoneBackoff bounds the busy-device retry sequence.
	MicrophoneBackoff BackoffPolicy
	// Camera is forwarded with every camera request.
	Camera CameraConfig
	// MicrophoneOn and CameraOn are the initial enablement flags applied to
	// acquired tracks.
	MicrophoneOn bool
	CameraOn     bool
}

// ownedTrack guarantees a track is stopped exactly once.
type ownedTrack struct {
	Track
	once sync.Once
}

func (o *ownedTrack) release() {
	o.once.Do(o.Track.Stop)
}

// Service acquires, toggles and releases local tracks.
type Service struct {
	devices   Devices
	scheduler Scheduler
	sink      telemetry.Sink
	backoff   BackoffPolicy
	camera    CameraConfig

	mu      sync.Mutex
	epoch   uint64
	open    bool
	tracks  map[Kind]*ownedTrack
	enabled map[Kind]bool
}

// NewService creates a track service over devices.
func NewService(devices Devices, cfg ServiceConfig) (*Service, error) {
	if devices == nil {
		logrus.WithFields(logrus.Fields{
			"function": "NewService",
			"error":    "devices cannot be nil",
		}).Error("Device validation failed")
		return nil, errors.New("devices cannot be nil")
	}

	scheduler := cfg.Scheduler
	if scheduler == nil {
		scheduler = DefaultScheduler{}
	}
	backoff := cfg.MicrophoneBackoff
	if backoff.Attempts < 1 {
		backoff.Attempts = 1
	}

	s := &Service{
		devices:   devices,
		scheduler: scheduler,
		sink:      telemetry.OrDefault(cfg.Sink),
		backoff:   backoff,
		camera:    cfg.Camera,
		tracks:    make(map[Kind]*ownedTrack),
		enabled: map[Kind]bool{
			KindAudio: cfg.MicrophoneOn,
			KindVideo: cfg.CameraOn,
		},
	}

	logrus.WithFields(logrus.Fields{
		"function":      "NewService",
		"mic_attempts":  backoff.Attempts,
		"mic_delays":    backoff.Delays(),
		"camera_preset": cfg.Camera.EncoderPreset,
		"microphone_on": cfg.MicrophoneOn,
		"camera_on":     cfg.CameraOn,
	}).Debug("Track service created")

	return s, nil
}

// Open starts a new ownership epoch and returns its lease. Leases from
// earlier epochs become stale.
func (s *Service) Open() Lease {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.epoch++
	s.open = true

	logrus.WithFields(logrus.Fields{
		"function": "Service.Open",
		"epoch":    s.epoch,
	}).Debug("Track ownership epoch opened")

	return Lease{epoch: s.epoch}
}

// Valid reports whether l is the current open lease.
func (s *Service) Valid(l Lease) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.validLocked(l)
}

func (s *Service) validLocked(l Lease) bool {
	return s.open && l.epoch != 0 && l.epoch == s.epoch
}

// AcquireMicrophone requests the microphone, retrying busy devices according
// to the backoff policy. Failures are reported to the sink; the caller
// proceeds without audio.
func (s *Service) AcquireMicrophone(ctx context.Context, l Lease) (Track, error) {
	delays := s.backoff.Delays()

	for attempt := 1; ; attempt++ {
		if !s.Valid(l) {
			return nil, ErrStaleLease
		}

		logrus.WithFields(logrus.Fields{
			"function": "Service.AcquireMicrophone",
			"attempt":  attempt,
			"max":      s.backoff.Attempts,
		}).Debug("Requesting microphone")

		track, err := s.devices.RequestMicrophone(context.WithoutCancel(ctx))
		if err == nil {
			return s.adopt(l, KindAudio, track)
		}
		if !s.Valid(l) {
			return nil, ErrStaleLease
		}

		if !errors.Is(err, ErrDeviceBusy) {
			s.reportDeviceFailure(KindAudio, err)
			return nil, fmt.Errorf("acquire microphone: %w", err)
		}

		if attempt >= s.backoff.Attempts {
			s.reportDeviceFailure(KindAudio, err)
			return nil, fmt.Errorf("acquire microphone after %d attempts: %w: %w", attempt, ErrRetriesExhausted, err)
		}

		delay := delays[attempt-1]
		logrus.WithFields(logrus.Fields{
			"function": "Service.AcquireMicrophone",
			"attempt":  attempt,
			"delay":    delay,
			"error":    err.Error(),
		}).Warn("Microphone busy, retrying")

		if err := s.scheduler.Sleep(ctx, delay); err != nil {
			if !s.Valid(l) {
				return nil, ErrStaleLease
			}
			return nil, fmt.Errorf("acquire microphone: %w", err)
		}
	}
}

// AcquireCamera requests the camera once. Failure is non-fatal and reported
// to the sink; the caller proceeds without video.
func (s *Service) AcquireCamera(ctx context.Context, l Lease) (Track, error) {
	if !s.Valid(l) {
		return nil, ErrStaleLease
	}

	track, err := s.devices.RequestCamera(context.WithoutCancel(ctx), s.camera)
	if err != nil {
		if !s.Valid(l) {
			return nil, ErrStaleLease
		}
		s.reportDeviceFailure(KindVideo, err)
		return nil, fmt.Errorf("acquire camera: %w", err)
	}
	return s.adopt(l, KindVideo, track)
}

// adopt takes ownership of a freshly acquired track, or stops it when the
// lease went stale while the request was in flight.
func (s *Service) adopt(l Lease, kind Kind, track Track) (Track, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.validLocked(l) {
		logrus.WithFields(logrus.Fields{
			"function": "Service.adopt",
			"kind":     kind.String(),
			"track_id": track.ID(),
		}).Info("Discarding track acquired after release")
		track.Stop()
		return nil, ErrStaleLease
	}

	if previous, exists := s.tracks[kind]; exists {
		previous.release()
	}

	if err := track.SetEnabled(s.enabled[kind]); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Service.adopt",
			"kind":     kind.String(),
			"error":    err.Error(),
		}).Warn("Failed to apply initial enablement")
	}

	s.tracks[kind] = &ownedTrack{Track: track}

	logrus.WithFields(logrus.Fields{
		"function": "Service.adopt",
		"kind":     kind.String(),
		"track_id": track.ID(),
		"enabled":  s.enabled[kind],
	}).Info("Local track acquired")

	return track, nil
}

// SetEnabled toggles enablement of the held track of kind. The flag is kept
// and applied to a track acquired later.
func (s *Service) SetEnabled(kind Kind, on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.enabled[kind] = on
	owned, exists := s.tracks[kind]
	if !exists {
		return nil
	}
	if err := owned.SetEnabled(on); err != nil {
		return fmt.Errorf("set %s enabled=%t: %w", kind, on, err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "Service.SetEnabled",
		"kind":     kind.String(),
		"enabled":  on,
	}).Debug("Track enablement changed")

	return nil
}

// Enabled returns the enablement flag for kind.
func (s *Service) Enabled(kind Kind) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled[kind]
}

// Track returns the held track of kind, or nil.
func (s *Service) Track(kind Kind) Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	if owned, exists := s.tracks[kind]; exists {
		return owned.Track
	}
	return nil
}

// Tracks returns the held tracks, audio first.
func (s *Service) Tracks() []Track {
	s.mu.Lock()
	defer s.mu.Unlock()

	tracks := make([]Track, 0, 2)
	for _, kind := range []Kind{KindAudio, KindVideo} {
		if owned, exists := s.tracks[kind]; exists {
			tracks = append(tracks, owned.Track)
		}
	}
	return tracks
}

// Release invalidates the current lease and stops every held track exactly
// once. It is safe to call repeatedly.
func (s *Service) Release() int {
	s.mu.Lock()
	held := s.tracks
	s.tracks = make(map[Kind]*ownedTrack)
	s.open = false
	s.epoch++
	s.mu.Unlock()

	for _, owned := range held {
		owned.release()
	}

	if len(held) > 0 {
		logrus.WithFields(logrus.Fields{
			"function": "Service.Release",
			"released": len(held),
		}).Info("Local tracks released")
	}
	return len(held)
}

func (s *Service) reportDeviceFailure(kind Kind, err error) {
	var failure telemetry.Kind
	switch Classify(err) {
	case "device_busy":
		failure = telemetry.DeviceBusy
	case "permission_denied":
		failure = telemetry.DevicePermissionDenied
	default:
		failure = telemetry.DeviceUnavailable
	}

	logrus.WithFields(logrus.Fields{
		"function": "Service.reportDeviceFailure",
		"kind":     kind.String(),
		"failure":  string(failure),
		"error":    err.Error(),
	}).Warn("Proceeding without local track")

	s.sink.Report(telemetry.Failure{
		Kind:      failure,
		Component: "media." + kind.String(),
		Err:       err,
	})
}
