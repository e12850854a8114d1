// Package logger constructs the structured loggers every vortexdb component
// takes through its Config struct. There is no package-level logger: each
// subsystem is handed one at construction, the way internal/engine.New and
// storage.New take a *zap.SugaredLogger rather than reaching for a global.
package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level selects the verbosity of a logger produced by New.
type Level int

const (
	// LevelProduction favors throughput: info level and above, JSON encoded.
	LevelProduction Level = iota
	// LevelDevelopment favors readability: debug level and above, console encoded.
	LevelDevelopment
)

// New builds a named, structured logger for the given service/component.
// Callers pass the result into a subsystem's Config the way
// engine.Config{Logger: ...} and storage.Config{Logger: ...} do.
func New(service string, level Level) *zap.SugaredLogger {
	var cfg zap.Config
	switch level {
	case LevelDevelopment:
		cfg = zap.NewDevelopmentConfig()
	default:
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	base, err := cfg.Build()
	if err != nil {
		// Logger construction failing indicates a broken process (bad
		// encoder config); fall back to a no-op logger rather than panic
		// so a caller can still run with writes silently undiagnosed.
		base = zap.NewNop()
	}

	return base.Named(service).Sugar()
}

// Noop returns a logger that discards everything, used by tests and by
// callers that explicitly opt out of logging.
func Noop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}
