package log

import (
	"strings"

	"go.uber.org/zap/zapcore"
)

// Level parametrizes supported log verbosity levels.
type Level int

const (
	// Debug messages trace application-level behaviors.
	Debug Level = iota
	// Info messages convey general events.
	Info
	// Warn messages describe non-erroring divergences from the ideal code path.
	Warn
	// Error messages indicate behavior that is not intended and should be corrected.
	Error
)

// ParseLevel looks up a Level constant by its stringified (case-insensitive) representation.
func ParseLevel(level string) (Level, bool) {
	knownLevels := []Level{Debug, Info, Warn, Error}

	for _, knownLevel := range knownLevels {
		if strings.EqualFold(level, knownLevel.String()) {
			return knownLevel, true
		}
	}

	return Error, false
}

// Enables indicates whether the current log level enables logging at another level.
//
// For example,
//	Debug enables Debug, Info, Warn, and Error
//	Info enables Warn and Error, but not Debug
//	Error enables Error, but not Debug, Info, or Warn
func (l Level) Enables(other Level) bool {
	return l <= other
}

// String returns the upper-case name of the level.
func (l Level) String() string {
	switch l {
	case Debug:
		return "DEBUG"
	case Info:
		return "INFO"
	case Warn:
		return "WARN"
	case Error:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// UnmarshalText allows a Level to be decoded directly from configuration files.
func (l *Level) UnmarshalText(text []byte) error {
	level, ok := ParseLevel(string(text))
	if !ok {
		return &UnknownLevelError{string(text)}
	}

	*l = level

	return nil
}

// zapLevel maps the level onto the equivalent zap severity.
func (l Level) zapLevel() zapcore.Level {
	switch l {
	case Debug:
		return zapcore.DebugLevel
	case Info:
		return zapcore.InfoLevel
	case Warn:
		return zapcore.WarnLevel
	default:
		return zapcore.ErrorLevel
	}
}

// UnknownLevelError is returned when a textual level does not name any known Level.
type UnknownLevelError struct {
	Name string
}

func (e *UnknownLevelError) Error() string {
	return "log: unknown level: level=" + e.Name
}
