// Package logging wraps zerolog with the component-tagged calls used across
// the alignment packages.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Logger emits structured log lines tagged with the calling component.
type Logger struct {
	logger zerolog.Logger
}

// New returns a logger writing JSON lines to writer at the given level.
func New(writer io.Writer, level zerolog.Level) *Logger {
	logger := zerolog.New(writer).
		Level(level).
		With().
		Timestamp().
		Logger()

	return &Logger{logger: logger}
}

// NewConsole returns a human readable logger on stderr.
func NewConsole(level zerolog.Level) *Logger {
	return New(zerolog.ConsoleWriter{Out: os.Stderr}, level)
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{logger: zerolog.Nop()}
}

// ParseLevel converts a level name into a zerolog level, falling back to
// info for empty or unknown names.
func ParseLevel(name string) zerolog.Level {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(name)))
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}

func (l *Logger) Info(component, message string, fields map[string]interface{}) {
	l.emit(l.logger.Info(), component, fields).Msg(message)
}

func (l *Logger) Warning(component, message string, fields map[string]interface{}) {
	l.emit(l.logger.Warn(), component, fields).Msg(message)
}

func (l *Logger) Debug(component, message string, fields map[string]interface{}) {
	l.emit(l.logger.Debug(), component, fields).Msg(message)
}

func (l *Logger) Error(component string, err error, fields map[string]interface{}) {
	l.emit(l.logger.Error(), component, fields).Err(err).Msg("operation failed")
}

func (l *Logger) emit(event *zerolog.Event, component string, fields map[string]interface{}) *zerolog.Event {
	event = event.Str("component", component)
	for k, v := range fields {
		event = event.Interface(k, v)
	}
	return event
}
