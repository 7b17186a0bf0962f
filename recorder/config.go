package recorder

import (
	"time"

	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"go.viam.com/jointrecord/ros"
)

// CommandMode selects which command stream is recorded next to the joint states.
type CommandMode string

const (
	// PositionMode records joint position commands.
	PositionMode CommandMode = "position"
	// VelocityMode records joint velocity commands.
	VelocityMode CommandMode = "velocity"
)

const (
	defaultArm            = "left"
	defaultRecordRateHz   = 100
	defaultStateTimeoutMs = 1000
)

// Config describes what to record and how often.
type Config struct {
	Arm            string      `json:"arm"`
	CommandMode    CommandMode `json:"command_mode"`
	RecordRateHz   float64     `json:"record_rate_hz"`
	StateTimeoutMs int         `json:"state_timeout_ms"`
	// Joints restricts the table to these joints, in this order. Empty means every joint of the
	// first recorded state.
	Joints       []string `json:"joints,omitempty"`
	StateTopic   string   `json:"state_topic,omitempty"`
	CommandTopic string   `json:"command_topic,omitempty"`
}

// SetDefaults fills in unset fields.
func (cfg *Config) SetDefaults() {
	if cfg.Arm == "" {
		cfg.Arm = defaultArm
	}
	if cfg.CommandMode == "" {
		cfg.CommandMode = PositionMode
	}
	if cfg.RecordRateHz == 0 {
		cfg.RecordRateHz = defaultRecordRateHz
	}
	if cfg.StateTimeoutMs == 0 {
		cfg.StateTimeoutMs = defaultStateTimeoutMs
	}
}

// Validate ensures all parts of the config are valid.
func (cfg *Config) Validate(path string) error {
	if cfg.Arm == "" && (cfg.StateTopic == "" || cfg.CommandTopic == "") {
		return goutils.NewConfigValidationFieldRequiredError(path, "arm")
	}
	switch cfg.CommandMode {
	case PositionMode, VelocityMode:
	default:
		return goutils.NewConfigValidationError(path,
			errors.Errorf("command_mode must be %q or %q, got %q", PositionMode, VelocityMode, cfg.CommandMode))
	}
	if cfg.RecordRateHz <= 0 {
		return goutils.NewConfigValidationError(path, errors.New("record_rate_hz must be positive"))
	}
	if cfg.Period() <= 0 {
		return goutils.NewConfigValidationError(path,
			errors.Errorf("record_rate_hz %g is too high, the sampling period rounds to zero", cfg.RecordRateHz))
	}
	if cfg.StateTimeoutMs <= 0 {
		return goutils.NewConfigValidationError(path, errors.New("state_timeout_ms must be positive"))
	}
	seen := map[string]bool{}
	for _, joint := range cfg.Joints {
		if joint == "" {
			return goutils.NewConfigValidationError(path, errors.New("joints may not contain an empty name"))
		}
		if seen[joint] {
			return goutils.NewConfigValidationError(path, errors.Errorf("joint %q listed twice", joint))
		}
		seen[joint] = true
	}
	return nil
}

// Period is the sampling period.
func (cfg *Config) Period() time.Duration {
	return time.Duration(float64(time.Second) / cfg.RecordRateHz)
}

// StateTimeout is how old the latest joint state may get before a recording aborts.
func (cfg *Config) StateTimeout() time.Duration {
	return time.Duration(cfg.StateTimeoutMs) * time.Millisecond
}

// StateTopicName is the topic joint states are read from.
func (cfg *Config) StateTopicName() string {
	if cfg.StateTopic != "" {
		return cfg.StateTopic
	}
	return ros.JointStatesTopic(cfg.Arm)
}

// CommandTopicName is the topic commands are read from, which depends on the command mode.
func (cfg *Config) CommandTopicName() string {
	if cfg.CommandTopic != "" {
		return cfg.CommandTopic
	}
	if cfg.CommandMode == VelocityMode {
		return ros.CommandVelocitiesTopic(cfg.Arm)
	}
	return ros.CommandAnglesTopic(cfg.Arm)
}
