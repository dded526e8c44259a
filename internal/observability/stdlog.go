package observability

import (
	"fmt"
	"log"
	"strings"
)

// LevelDebug enables debug output on the standard logger adapter.
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// StdLogger adapts the standard library logger to the Logger interface.
type StdLogger struct {
	logger *log.Logger
	debug  bool
}

// NewStdLogger wraps the provided standard logger. A nil logger uses log.Default.
func NewStdLogger(logger *log.Logger, level string) *StdLogger {
	if logger == nil {
		logger = log.Default()
	}
	return &StdLogger{logger: logger, debug: strings.EqualFold(strings.TrimSpace(level), LevelDebug)}
}

// Debug logs a debug-level message when debug output is enabled.
func (l *StdLogger) Debug(msg string, fields ...Field) {
	if !l.debug {
		return
	}
	l.print(LevelDebug, msg, fields)
}

// Info logs an info-level message.
func (l *StdLogger) Info(msg string, fields ...Field) {
	l.print(LevelInfo, msg, fields)
}

// Warn logs a warning-level message.
func (l *StdLogger) Warn(msg string, fields ...Field) {
	l.print(LevelWarn, msg, fields)
}

// Error logs an error-level message.
func (l *StdLogger) Error(msg string, fields ...Field) {
	l.print(LevelError, msg, fields)
}

func (l *StdLogger) print(level, msg string, fields []Field) {
	var b strings.Builder
	b.WriteString(level)
	b.WriteString(" ")
	b.WriteString(msg)
	for _, f := range fields {
		key := strings.TrimSpace(f.Key)
		if key == "" {
			continue
		}
		b.WriteString(" ")
		b.WriteString(key)
		b.WriteString("=")
		fmt.Fprintf(&b, "%v", f.Value)
	}
	l.logger.Print(b.String())
}
