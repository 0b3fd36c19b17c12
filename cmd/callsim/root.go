package main

import (
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/opd-ai/roomcall/config"
)

type rootFlags struct {
	configPath string
	logLevel   string
}

// NewRootCmd builds the callsim command tree.
func NewRootCmd() *cobra.Command {
	flags := &rootFlags{}

	rootCmd := &cobra.Command{
		Use:           "callsim",
		Short:         "Run scripted call sessions against simulated collaborators",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&flags.configPath, "config", "", "path to a TOML configuration file")
	rootCmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "override the configured log level")

	rootCmd.AddCommand(newRunCmd(flags))
	rootCmd.AddCommand(newConfigCmd(flags))

	return rootCmd
}

// loadOptions reads configuration and applies the log level.
func loadOptions(flags *rootFlags) (*config.Options, error) {
	opts, err := config.Load(flags.configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if flags.logLevel != "" {
		opts.LogLevel = flags.logLevel
	}

	level, err := logrus.ParseLevel(opts.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	logrus.SetLevel(level)

	return opts, nil
}

type effectiveConfig struct {
	AppID               string  `toml:"app_id"`
	StartupDelay        string  `toml:"startup_delay"`
	RetryAttempts       int     `toml:"microphone_retry_attempts"`
	RetryInitialDelay   string  `toml:"microphone_retry_initial_delay"`
	RetryMultiplier     float64 `toml:"microphone_retry_multiplier"`
	SpeakerThreshold    int     `toml:"speaker_threshold"`
	ControlsIdleTimeout string  `toml:"controls_idle_timeout"`
	CompactBreakpoint   int     `toml:"compact_breakpoint"`
	CameraPreset        string  `toml:"camera_preset"`
	MicrophoneOn        bool    `toml:"microphone_on"`
	CameraOn            bool    `toml:"camera_on"`
	RecordingDir        string  `toml:"recording_dir"`
	LogLevel            string  `toml:"log_level"`
	TokenSet            bool    `toml:"token_set"`
}

func newConfigCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := loadOptions(flags)
			if err != nil {
				return err
			}

			eff := effectiveConfig{
				AppID:               opts.AppID,
				StartupDelay:        opts.StartupDelay.String(),
				RetryAttempts:       opts.MicrophoneRetry.Attempts,
				RetryInitialDelay:   opts.MicrophoneRetry.InitialDelay.String(),
				RetryMultiplier:     opts.MicrophoneRetry.Multiplier,
				SpeakerThreshold:    opts.SpeakerThreshold,
				ControlsIdleTimeout: opts.ControlsIdleTimeout.String(),
				CompactBreakpoint:   opts.CompactBreakpoint,
				CameraPreset:        opts.CameraPreset,
				MicrophoneOn:        opts.MicrophoneOn,
				CameraOn:            opts.CameraOn,
				RecordingDir:        opts.RecordingDir,
				LogLevel:            opts.LogLevel,
				TokenSet:            opts.Token != "",
			}
			return toml.NewEncoder(cmd.OutOrStdout()).Encode(eff)
		},
	}
}
