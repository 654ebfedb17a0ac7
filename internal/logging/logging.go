// Package logging wires zerolog into Zerodb's consensus core and service
// adapter, grounded on the same Init/WithComponent shape warren's pkg/log
// uses.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Level is a user-facing log level name, as configured in TOML or on the
// command line.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config controls the root logger's verbosity and encoding.
type Config struct {
	Level  Level
	JSON   bool
	Output io.Writer
}

// New builds the root zerolog.Logger for the process.
func New(cfg Config) zerolog.Logger {
	var level zerolog.Level
	switch cfg.Level {
	case DebugLevel:
		level = zerolog.DebugLevel
	case WarnLevel:
		level = zerolog.WarnLevel
	case ErrorLevel:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}
	if cfg.JSON {
		return zerolog.New(output).With().Timestamp().Logger()
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
}

// NodeLogger adapts a zerolog.Logger to raft.Logger, with node_id sticky on
// every line. No role field is attached.
type NodeLogger struct {
	base zerolog.Logger
}

// ForNode returns a NodeLogger with node_id attached.
func ForNode(base zerolog.Logger, nodeID string) *NodeLogger {
	return &NodeLogger{base: base.With().Str("node_id", nodeID).Logger()}
}

func (l *NodeLogger) Debugf(format string, args ...any) { l.base.Debug().Msgf(format, args...) }
func (l *NodeLogger) Infof(format string, args ...any)  { l.base.Info().Msgf(format, args...) }
func (l *NodeLogger) Warnf(format string, args ...any)  { l.base.Warn().Msgf(format, args...) }
func (l *NodeLogger) Errorf(format string, args ...any) { l.base.Error().Msgf(format, args...) }

// WithComponent returns a child logger tagged with a component field, for
// the service adapter and CLI layers that sit outside the raft package's
// own Logger interface.
func WithComponent(base zerolog.Logger, component string) zerolog.Logger {
	return base.With().Str("component", component).Logger()
}
