package logging

import (
	"regexp"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

var globalLoggerRegistry = newRegistry()

// Registry tracks named subloggers so their levels can be set from config patterns.
type Registry struct {
	mu        sync.RWMutex
	loggers   map[string]Logger
	logConfig []LoggerPatternConfig
}

func newRegistry() *Registry {
	return &Registry{
		loggers: make(map[string]Logger),
	}
}

// GlobalRegistry returns the registry shared by every non-test logger.
func GlobalRegistry() *Registry {
	return globalLoggerRegistry
}

// Register adds a root logger to the registry so that level patterns apply to it as well as to
// its subloggers. It returns the logger already registered under the same name, if any.
func (lr *Registry) Register(logger Logger) Logger {
	return lr.getOrRegister(logger.Name(), logger)
}

func (lr *Registry) registerLogger(name string, logger Logger) {
	lr.mu.Lock()
	defer lr.mu.Unlock()
	lr.loggers[name] = logger
}

func (lr *Registry) loggerNamed(name string) (logger Logger, ok bool) {
	lr.mu.RLock()
	defer lr.mu.RUnlock()
	logger, ok = lr.loggers[name]
	return
}

// UpdateConfig stores the pattern config and applies it to every registered logger. Loggers that
// no pattern matches are reset to INFO. Invalid patterns are reported to `errorLogger` and skipped.
func (lr *Registry) UpdateConfig(logConfig []LoggerPatternConfig, errorLogger Logger) error {
	valid := make([]LoggerPatternConfig, 0, len(logConfig))
	for _, lpc := range logConfig {
		if !validatePattern(lpc.Pattern) {
			errorLogger.Warnw("failed to validate a pattern", "pattern", lpc.Pattern)
			continue
		}
		if _, err := LevelFromString(lpc.Level); err != nil {
			return err
		}
		valid = append(valid, lpc)
	}

	lr.mu.Lock()
	defer lr.mu.Unlock()
	lr.logConfig = valid
	for name, logger := range lr.loggers {
		level, err := lr.levelForName(name)
		if err != nil {
			return err
		}
		logger.SetLevel(level)
	}
	return nil
}

// RegisteredNames returns the sorted names of all registered loggers.
func (lr *Registry) RegisteredNames() []string {
	lr.mu.RLock()
	defer lr.mu.RUnlock()
	names := make([]string, 0, len(lr.loggers))
	for name := range lr.loggers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// levelForName returns the level of the last pattern matching `name`, or INFO. Expects `lr.mu`
// to be held.
func (lr *Registry) levelForName(name string) (Level, error) {
	level := INFO
	for _, lpc := range lr.logConfig {
		r, err := regexp.Compile(buildRegexFromPattern(lpc.Pattern))
		if err != nil {
			return INFO, errors.Wrapf(err, "bad logger pattern %q", lpc.Pattern)
		}
		if r.MatchString(name) {
			level, err = LevelFromString(lpc.Level)
			if err != nil {
				return INFO, err
			}
		}
	}
	return level, nil
}

// getOrRegister will either:
//   - return an existing logger for the input logger `name` or
//   - register the input `logger` for the given logger `name` and configure it based on the
//     existing patterns.
//
// Such that if concurrent callers try registering the same logger, the "winner"s logger will be
// registered and all losers will return the winning logger.
func (lr *Registry) getOrRegister(name string, logger Logger) Logger {
	lr.mu.Lock()
	defer lr.mu.Unlock()
	if existingLogger, ok := lr.loggers[name]; ok {
		return existingLogger
	}

	lr.loggers[name] = logger
	if len(lr.logConfig) > 0 {
		if level, err := lr.levelForName(name); err == nil {
			logger.SetLevel(level)
		}
	}
	return logger
}
