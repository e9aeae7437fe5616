package telemetry

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Logger is the structured logger handed to every component through its config.
// Implementations must be safe for concurrent use
type Logger interface {
	Trace(msg string, fields ...Field)
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	Fatal(msg string, fields ...Field)

	// WithModule returns a logger scoped to a component name
	WithModule(module string) Logger
}

// Field is a single structured logging attribute
type Field struct {
	Key   string
	Value any
}

// String creates a string field
func String(key, value string) Field {
	return Field{Key: key, Value: value}
}

// Int creates an integer field
func Int(key string, value int) Field {
	return Field{Key: key, Value: value}
}

// Float64 creates a float field
func Float64(key string, value float64) Field {
	return Field{Key: key, Value: value}
}

// Err creates an error field under the conventional "error" key
func Err(err error) Field {
	return Field{Key: "error", Value: err}
}

// Config holds logger construction options
type Config struct {
	// Level is the minimum emitted level: trace, debug, info, warn, error.
	// Unset or unparseable values fall back to info.
	Level string

	// Output receives log lines, os.Stderr when nil
	Output io.Writer

	// Pretty switches to human-readable console output
	Pretty bool
}

// New creates a zerolog-backed logger
func New(config Config) Logger {
	out := config.Output
	if out == nil {
		out = os.Stderr
	}
	if config.Pretty {
		out = zerolog.ConsoleWriter{Out: out}
	}

	level := zerolog.InfoLevel
	if config.Level != "" {
		if parsed, err := zerolog.ParseLevel(strings.ToLower(config.Level)); err == nil {
			level = parsed
		}
	}

	zl := zerolog.New(out).Level(level).With().Timestamp().Logger()
	return &zerologLogger{zl: zl}
}

// Nop returns a logger that discards all output
// Fatal still terminates the process
func Nop() Logger {
	return &zerologLogger{zl: zerolog.Nop()}
}

type zerologLogger struct {
	zl zerolog.Logger
}

func (l *zerologLogger) WithModule(module string) Logger {
	return &zerologLogger{zl: l.zl.With().Str("module", module).Logger()}
}

func (l *zerologLogger) Trace(msg string, fields ...Field) {
	l.emit(l.zl.Trace(), msg, fields)
}

func (l *zerologLogger) Debug(msg string, fields ...Field) {
	l.emit(l.zl.Debug(), msg, fields)
}

func (l *zerologLogger) Info(msg string, fields ...Field) {
	l.emit(l.zl.Info(), msg, fields)
}

func (l *zerologLogger) Warn(msg string, fields ...Field) {
	l.emit(l.zl.Warn(), msg, fields)
}

func (l *zerologLogger) Error(msg string, fields ...Field) {
	l.emit(l.zl.Error(), msg, fields)
}

func (l *zerologLogger) Fatal(msg string, fields ...Field) {
	l.emit(l.zl.Fatal(), msg, fields)
}

func (l *zerologLogger) emit(ev *zerolog.Event, msg string, fields []Field) {
	for _, f := range fields {
		switch v := f.Value.(type) {
		case string:
			ev = ev.Str(f.Key, v)
		case int:
			ev = ev.Int(f.Key, v)
		case float64:
			ev = ev.Float64(f.Key, v)
		case error:
			ev = ev.AnErr(f.Key, v)
		default:
			ev = ev.Interface(f.Key, v)
		}
	}
	ev.Msg(msg)
}
