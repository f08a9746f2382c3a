package vkernel

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

// LogLevel is the severity of a log message.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Logger is the ambient logging interface threaded through Collection and
// Manager. Keyvals are rendered as "key=value" pairs; a Logger obtained via
// With carries its keyvals into every subsequent call.
type Logger interface {
	Debug(msg string, keyvals ...any)
	Info(msg string, keyvals ...any)
	Warn(msg string, keyvals ...any)
	Error(msg string, keyvals ...any)
	With(keyvals ...any) Logger
}

type defaultLogger struct {
	mu       *sync.Mutex
	writer   io.Writer
	minLevel LogLevel
	keyvals  []any
}

// NewLogger returns a Logger writing key=value lines to writer at or above
// minLevel.
func NewLogger(writer io.Writer, minLevel LogLevel) Logger {
	return &defaultLogger{mu: &sync.Mutex{}, writer: writer, minLevel: minLevel}
}

// NewStdLogger returns a Logger writing to os.Stderr.
func NewStdLogger(minLevel LogLevel) Logger {
	return NewLogger(os.Stderr, minLevel)
}

func (l *defaultLogger) Debug(msg string, keyvals ...any) { l.log(LevelDebug, msg, keyvals...) }
func (l *defaultLogger) Info(msg string, keyvals ...any)  { l.log(LevelInfo, msg, keyvals...) }
func (l *defaultLogger) Warn(msg string, keyvals ...any)  { l.log(LevelWarn, msg, keyvals...) }
func (l *defaultLogger) Error(msg string, keyvals ...any) { l.log(LevelError, msg, keyvals...) }

func (l *defaultLogger) With(keyvals ...any) Logger {
	merged := make([]any, 0, len(l.keyvals)+len(keyvals))
	merged = append(merged, l.keyvals...)
	merged = append(merged, keyvals...)
	return &defaultLogger{mu: l.mu, writer: l.writer, minLevel: l.minLevel, keyvals: merged}
}

func (l *defaultLogger) log(level LogLevel, msg string, keyvals ...any) {
	if level < l.minLevel {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.writer, "%s [%s]", time.Now().Format("2006-01-02 15:04:05.000"), level)
	writeKeyvals(l.writer, l.keyvals)
	writeKeyvals(l.writer, keyvals)
	fmt.Fprintf(l.writer, ": %s\n", msg)
}

func writeKeyvals(w io.Writer, keyvals []any) {
	for i := 0; i+1 < len(keyvals); i += 2 {
		fmt.Fprintf(w, " %v=%v", keyvals[i], keyvals[i+1])
	}
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
func (nopLogger) With(...any) Logger   { return nopLogger{} }

// NopLogger returns a Logger that discards everything, the default when no
// Logger option is supplied to Open or NewManager.
func NopLogger() Logger { return nopLogger{} }

// humanizeBytes renders a byte count for backup logging through
// github.com/dustin/go-humanize rather than hand-rolled formatting.
func humanizeBytes(n int64) string { return humanize.Bytes(uint64(n)) }

// humanizeSince renders a duration-since timestamp for log lines that
// report how long ago a backup archive was written.
func humanizeSince(t time.Time) string { return humanize.Time(t) }
