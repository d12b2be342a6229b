// Package logging provides Mason's structured, component-aware logger.
// It wraps zerolog (github.com/rs/zerolog) rather than hand-rolling a
// formatter: JSON output in production, a colorized console writer in
// local development, matching the logging conventions observed across
// the example corpus.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
)

// Logger is the minimal structured-logging interface consumed by the
// compiler, registry, selector, engine, and poll loop. Field maps keep
// call sites terse and consistent with the upstream structlog events
// (task_exhausted, provider_selected, ...).
type Logger interface {
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	Debug(msg string, fields map[string]interface{})

	// WithComponent returns a logger that tags every subsequent entry
	// with component, e.g. "engine", "pollloop", "registry".
	WithComponent(component string) Logger
}

// Format selects the on-wire log representation.
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
	FormatAuto Format = "auto"
)

// Config configures a new Logger.
type Config struct {
	Level   string // debug|info|warn|error, default info
	Format  Format // default auto: json unless stdout is a terminal
	Output  io.Writer
	Service string
}

type zerologLogger struct {
	log       zerolog.Logger
	component string
}

// New builds a Logger per cfg.
func New(cfg Config) Logger {
	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	format := cfg.Format
	if format == "" || format == FormatAuto {
		format = FormatJSON
		if f, ok := output.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
			format = FormatText
		}
	}
	if format == FormatText {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339, NoColor: false}
	}

	zl := zerolog.New(output).With().Timestamp().Str("service", cfg.Service).Logger()
	zl = zl.Level(parseLevel(cfg.Level))

	return &zerologLogger{log: zl}
}

// NoOp returns a Logger that discards everything. Used as a safe default
// when callers do not wire a real logger.
func NoOp() Logger {
	return &zerologLogger{log: zerolog.New(io.Discard)}
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "info", "":
		return zerolog.InfoLevel
	default:
		return zerolog.InfoLevel
	}
}

func (l *zerologLogger) Info(msg string, fields map[string]interface{}) {
	l.emit(l.log.Info(), msg, fields)
}

func (l *zerologLogger) Warn(msg string, fields map[string]interface{}) {
	l.emit(l.log.Warn(), msg, fields)
}

func (l *zerologLogger) Error(msg string, fields map[string]interface{}) {
	l.emit(l.log.Error(), msg, fields)
}

func (l *zerologLogger) Debug(msg string, fields map[string]interface{}) {
	l.emit(l.log.Debug(), msg, fields)
}

func (l *zerologLogger) WithComponent(component string) Logger {
	return &zerologLogger{
		log:       l.log.With().Str("component", component).Logger(),
		component: component,
	}
}

func (l *zerologLogger) emit(event *zerolog.Event, msg string, fields map[string]interface{}) {
	for k, v := range fields {
		event = event.Interface(k, v)
	}
	event.Msg(msg)
}
