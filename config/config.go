// Package config defines the jointrecord configuration file and how it is read.
package config

import (
	"fmt"

	"github.com/pkg/errors"
	"go.viam.com/utils"

	"go.viam.com/jointrecord/logging"
	"go.viam.com/jointrecord/recorder"
)

// SourceType names where joint messages come from.
type SourceType string

// The supported message sources.
const (
	SourceRosbridge SourceType = "rosbridge"
	SourceBag       SourceType = "bag"
)

const (
	defaultOutput        = "joint_record.csv"
	defaultBridgeURL     = "ws://localhost:9090"
	defaultPlaybackSpeed = 1.0
	defaultLogMaxSizeMB  = 100
	defaultLogMaxBackups = 3
)

// Config is the contents of a jointrecord config file.
type Config struct {
	// ConfigFilePath is where the config was read from, if anywhere.
	ConfigFilePath string `json:"-"`

	Recorder       recorder.Config `json:"recorder"`
	Output         string          `json:"output"`
	Source         SourceConfig    `json:"source"`
	Log            LogConfig       `json:"log"`
	MetricsAddress string          `json:"metrics_address,omitempty"`
}

// SourceConfig selects and configures the message source.
type SourceConfig struct {
	Type SourceType `json:"type"`
	// URL of the rosbridge websocket.
	URL string `json:"url,omitempty"`
	// BagPath is the rosbag replayed when Type is "bag".
	BagPath string `json:"bag_path,omitempty"`
	// PlaybackSpeed scales bag replay; zero or less replays as fast as possible.
	PlaybackSpeed *float64 `json:"playback_speed,omitempty"`
}

// Speed returns the playback speed, defaulting to real time.
func (sc SourceConfig) Speed() float64 {
	if sc.PlaybackSpeed == nil {
		return defaultPlaybackSpeed
	}
	return *sc.PlaybackSpeed
}

// LogConfig configures logging.
type LogConfig struct {
	Debug bool `json:"debug,omitempty"`
	// File, when set, additionally writes JSON log lines to a rotated file.
	File       string                        `json:"file,omitempty"`
	MaxSizeMB  int                           `json:"max_size_mb,omitempty"`
	MaxBackups int                           `json:"max_backups,omitempty"`
	Levels     []logging.LoggerPatternConfig `json:"levels,omitempty"`
}

// SetDefaults fills in unset fields.
func (cfg *Config) SetDefaults() {
	cfg.Recorder.SetDefaults()
	if cfg.Output == "" {
		cfg.Output = defaultOutput
	}
	if cfg.Source.Type == "" {
		if cfg.Source.BagPath != "" {
			cfg.Source.Type = SourceBag
		} else {
			cfg.Source.Type = SourceRosbridge
		}
	}
	if cfg.Source.Type == SourceRosbridge && cfg.Source.URL == "" {
		cfg.Source.URL = defaultBridgeURL
	}
	if cfg.Log.MaxSizeMB == 0 {
		cfg.Log.MaxSizeMB = defaultLogMaxSizeMB
	}
	if cfg.Log.MaxBackups == 0 {
		cfg.Log.MaxBackups = defaultLogMaxBackups
	}
}

// Validate ensures all parts of the config are valid.
func (cfg *Config) Validate() error {
	if err := cfg.Recorder.Validate("recorder"); err != nil {
		return err
	}
	if cfg.Output == "" {
		return utils.NewConfigValidationFieldRequiredError("", "output")
	}
	if err := cfg.Source.Validate("source"); err != nil {
		return err
	}
	return cfg.Log.Validate("log")
}

// Validate ensures the source is usable.
func (sc *SourceConfig) Validate(path string) error {
	switch sc.Type {
	case SourceRosbridge:
		if sc.URL == "" {
			return utils.NewConfigValidationFieldRequiredError(path, "url")
		}
	case SourceBag:
		if sc.BagPath == "" {
			return utils.NewConfigValidationFieldRequiredError(path, "bag_path")
		}
	default:
		return utils.NewConfigValidationError(path,
			errors.Errorf("type must be %q or %q, got %q", SourceRosbridge, SourceBag, sc.Type))
	}
	return nil
}

// Validate ensures the log settings are usable.
func (lc *LogConfig) Validate(path string) error {
	if lc.MaxSizeMB < 0 || lc.MaxBackups < 0 {
		return utils.NewConfigValidationError(path, errors.New("max_size_mb and max_backups may not be negative"))
	}
	for i, lpc := range lc.Levels {
		levelPath := fmt.Sprintf("%s.levels.%d", path, i)
		if !logging.ValidatePattern(lpc.Pattern) {
			return utils.NewConfigValidationError(levelPath, errors.Errorf("invalid logger pattern %q", lpc.Pattern))
		}
		if _, err := logging.LevelFromString(lpc.Level); err != nil {
			return utils.NewConfigValidationError(levelPath, err)
		}
	}
	return nil
}
