// Package config holds the tunables of a call session and loads them from
// TOML files and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/sirupsen/logrus"
)

// RetryOptions bounds the busy-microphone retry sequence.
type RetryOptions struct {
	Attempts     int
	InitialDelay time.Duration
	Multiplier   float64
}

// Options contains every configurable value of a session.
type Options struct {
	// AppID identifies the application to the transport.
	AppID string
	// Token authenticates the join. Empty joins without a token.
	Token string
	// StartupDelay is waited after connecting before requesting devices.
	StartupDelay time.Duration
	// MicrophoneRetry bounds the busy-device retries.
	MicrophoneRetry RetryOptions
	// SpeakerThreshold is the exclusive volume level a speaker must exceed.
	SpeakerThreshold int
	// ControlsIdleTimeout hides controls on compact viewports.
	ControlsIdleTimeout time.Duration
	// CompactBreakpoint is the largest landscape dimension considered compact.
	CompactBreakpoint int
	// CameraPreset is the encoder preset forwarded with camera requests.
	CameraPreset string
	// MicrophoneOn and CameraOn are the initial track enablement flags.
	MicrophoneOn bool
	CameraOn     bool
	// RecordingDir receives saved recording artifacts.
	RecordingDir string
	// LogLevel is parsed with logrus.ParseLevel.
	LogLevel string
}

// Default returns the options used when nothing is configured.
func Default() *Options {
	return &Options{
		StartupDelay: 500 * time.Millisecond,
		MicrophoneRetry: RetryOptions{
			Attempts:     3,
			InitialDelay: 1000 * time.Millisecond,
			Multiplier:   1.5,
		},
		SpeakerThreshold:    25,
		ControlsIdleTimeout: 3000 * time.Millisecond,
		CompactBreakpoint:   1024,
		CameraPreset:        "720p_1",
		MicrophoneOn:        true,
		CameraOn:            true,
		RecordingDir:        defaultRecordingDir(),
		LogLevel:            "info",
	}
}

type fileRetry struct {
	Attempts     *int     `toml:"attempts"`
	InitialDelay string   `toml:"initial_delay"`
	Multiplier   *float64 `toml:"multiplier"`
}

type fileOptions struct {
	AppID               string    `toml:"app_id"`
	Token               string    `toml:"token"`
	StartupDelay        string    `toml:"startup_delay"`
	MicrophoneRetry     fileRetry `toml:"microphone_retry"`
	SpeakerThreshold    *int      `toml:"speaker_threshold"`
	ControlsIdleTimeout string    `toml:"controls_idle_timeout"`
	CompactBreakpoint   *int      `toml:"compact_breakpoint"`
	CameraPreset        string    `toml:"camera_preset"`
	MicrophoneOn        *bool     `toml:"microphone_on"`
	CameraOn            *bool     `toml:"camera_on"`
	RecordingDir        string    `toml:"recording_dir"`
	LogLevel            string    `toml:"log_level"`
}

// Load returns the defaults overlaid with the TOML file at path and the
// ROOMCALL_* environment variables. An empty path skips the file.
func Load(path string) (*Options, error) {
	opts := Default()

	if path != "" {
		var fo fileOptions
		meta, err := toml.DecodeFile(path, &fo)
		if err != nil {
			return nil, fmt.Errorf("decode config %s: %w", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			logrus.WithFields(logrus.Fields{
				"function": "Load",
				"path":     path,
				"keys":     fmt.Sprint(undecoded),
			}).Warn("Ignoring unknown configuration keys")
		}
		if err := fo.apply(opts); err != nil {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
	}

	applyEnvOverrides(opts)

	if err := opts.Validate(); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function":      "Load",
		"path":          path,
		"startup_delay": opts.StartupDelay,
		"threshold":     opts.SpeakerThreshold,
		"recording_dir": opts.RecordingDir,
	}).Debug("Configuration loaded")

	return opts, nil
}

func (fo *fileOptions) apply(opts *Options) error {
	if fo.AppID != "" {
		opts.AppID = fo.AppID
	}
	if fo.Token != "" {
		opts.Token = fo.Token
	}
	if err := setDuration(&opts.StartupDelay, "startup_delay", fo.StartupDelay); err != nil {
		return err
	}
	if fo.MicrophoneRetry.Attempts != nil {
		opts.MicrophoneRetry.Attempts = *fo.MicrophoneRetry.Attempts
	}
	if err := setDuration(&opts.MicrophoneRetry.InitialDelay, "microphone_retry.initial_delay", fo.MicrophoneRetry.InitialDelay); err != nil {
		return err
	}
	if fo.MicrophoneRetry.Multiplier != nil {
		opts.MicrophoneRetry.Multiplier = *fo.MicrophoneRetry.Multiplier
	}
	if fo.SpeakerThreshold != nil {
		opts.SpeakerThreshold = *fo.SpeakerThreshold
	}
	if err := setDuration(&opts.ControlsIdleTimeout, "controls_idle_timeout", fo.ControlsIdleTimeout); err != nil {
		return err
	}
	if fo.CompactBreakpoint != nil {
		opts.CompactBreakpoint = *fo.CompactBreakpoint
	}
	if fo.CameraPreset != "" {
		opts.CameraPreset = fo.CameraPreset
	}
	if fo.MicrophoneOn != nil {
		opts.MicrophoneOn = *fo.MicrophoneOn
	}
	if fo.CameraOn != nil {
		opts.CameraOn = *fo.CameraOn
	}
	if fo.RecordingDir != "" {
		opts.RecordingDir = expandTilde(fo.RecordingDir)
	}
	if fo.LogLevel != "" {
		opts.LogLevel = fo.LogLevel
	}
	return nil
}

func setDuration(dst *time.Duration, key, value string) error {
	if value == "" {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}

func applyEnvOverrides(opts *Options) {
	if v := os.Getenv("ROOMCALL_APP_ID"); v != "" {
		opts.AppID = v
	}
	if v := os.Getenv("ROOMCALL_TOKEN"); v != "" {
		opts.Token = v
	}
	if v := os.Getenv("ROOMCALL_RECORDING_DIR"); v != "" {
		opts.RecordingDir = expandTilde(v)
	}
	if v := os.Getenv("ROOMCALL_LOG_LEVEL"); v != "" {
		opts.LogLevel = v
	}
}

// Validate reports the first invalid value.
func (o *Options) Validate() error {
	switch {
	case o.StartupDelay < 0:
		return errors.New("startup_delay cannot be negative")
	case o.MicrophoneRetry.Attempts < 1:
		return fmt.Errorf("microphone_retry.attempts must be at least 1, got %d", o.MicrophoneRetry.Attempts)
	case o.MicrophoneRetry.InitialDelay < 0:
		return errors.New("microphone_retry.initial_delay cannot be negative")
	case o.MicrophoneRetry.Multiplier < 1:
		return fmt.Errorf("microphone_retry.multiplier must be at least 1, got %g", o.MicrophoneRetry.Multiplier)
	case o.SpeakerThreshold < 0 || o.SpeakerThreshold > 100:
		return fmt.Errorf("speaker_threshold must be within [0,100], got %d", o.SpeakerThreshold)
	case o.ControlsIdleTimeout <= 0:
		return errors.New("controls_idle_timeout must be positive")
	case o.CompactBreakpoint <= 0:
		return errors.New("compact_breakpoint must be positive")
	}
	if _, err := logrus.ParseLevel(o.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	return nil
}

func defaultRecordingDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, "recordings")
	}
	return filepath.Join(".", "recordings")
}

func expandTilde(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
