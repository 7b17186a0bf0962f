package config

import (
	"go.viam.com/jointrecord/logging"
)

// ApplyLogLevels sets the levels of every logger in `registry` from the config. The debug flag from
// the command line or the config lowers every logger to DEBUG; per-logger patterns are applied on
// top of that, the last matching pattern winning.
func ApplyLogLevels(registry *logging.Registry, lc LogConfig, cmdLineDebugFlag bool, logger logging.Logger) error {
	var patterns []logging.LoggerPatternConfig
	if cmdLineDebugFlag || lc.Debug {
		patterns = append(patterns, logging.LoggerPatternConfig{Pattern: "*", Level: "debug"})
	}
	patterns = append(patterns, lc.Levels...)
	if err := registry.UpdateConfig(patterns, logger); err != nil {
		return err
	}
	logger.Debugw("log levels applied", "debug", cmdLineDebugFlag || lc.Debug, "patterns", len(lc.Levels))
	return nil
}
