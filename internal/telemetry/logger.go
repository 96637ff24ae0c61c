// logger.go - Structured logging and the audit trail for vault transitions.
package telemetry

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const timeFormat = "2006-01-02 15:04:05"

// Logger is a leveled zerolog logger with a separate audit sink. The audit
// sink receives every warn-or-higher entry plus explicit Audit events.
type Logger struct {
	zerolog.Logger
	audit   zerolog.Logger
	closers []io.Closer
}

// ParseLevel maps a configuration level name to a zerolog level. Unknown names select info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger creates a logger writing to the console, to logFile when set,
// and to auditFile when set.
func NewLogger(level, logFile, auditFile string) (*Logger, error) {
	var closers []io.Closer
	writers := []io.Writer{zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: timeFormat}}

	if logFile != "" {
		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		closers = append(closers, file)
		writers = append(writers, file)
	}

	var audit io.Writer
	if auditFile != "" {
		file, err := os.OpenFile(auditFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			closeAll(closers)
			return nil, fmt.Errorf("failed to open audit file: %w", err)
		}
		closers = append(closers, file)
		audit = file
	}

	l := New(zerolog.MultiLevelWriter(writers...), audit, ParseLevel(level))
	l.closers = closers
	return l, nil
}

// New builds a logger over arbitrary writers. audit may be nil.
func New(w io.Writer, audit io.Writer, level zerolog.Level) *Logger {
	if audit == nil {
		base := zerolog.New(w).Level(level).With().Timestamp().Logger()
		return &Logger{Logger: base, audit: zerolog.Nop()}
	}
	out := zerolog.MultiLevelWriter(w, &zerolog.FilteredLevelWriter{
		Writer: zerolog.LevelWriterAdapter{Writer: audit},
		Level:  zerolog.WarnLevel,
	})
	return &Logger{
		Logger: zerolog.New(out).Level(level).With().Timestamp().Logger(),
		audit:  zerolog.New(audit).With().Timestamp().Logger(),
	}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{Logger: zerolog.Nop(), audit: zerolog.Nop()}
}

// Audit records an audit event with a fresh event id.
func (l *Logger) Audit(event string, details map[string]interface{}) {
	l.audit.Log().
		Str("audit", event).
		Str("event_id", uuid.NewString()).
		Fields(details).
		Send()
}

// Close closes the log files opened by NewLogger.
func (l *Logger) Close() error {
	return closeAll(l.closers)
}

func closeAll(closers []io.Closer) error {
	var errs []error
	for _, c := range closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
