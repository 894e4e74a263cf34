// Package logger writes leveled, line-capped logs for the daemon.
package logger

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// FileName is the log file created inside the state directory
const FileName = "localcompletion.log"

// MaxLogLines is the number of lines kept in the log file after rotation
const MaxLogLines = 5000

var noop = func() {}

// LogLevel is a logging severity
type LogLevel int

const (
	LogLevelTrace LogLevel = iota
	LogLevelDebug
	LogLevelInfo
	LogLevelWarn
	LogLevelError
)

// String returns the string representation of a log level
func (l LogLevel) String() string {
	switch l {
	case LogLevelTrace:
		return "TRACE"
	case LogLevelDebug:
		return "DEBUG"
	case LogLevelInfo:
		return "INFO"
	case LogLevelWarn:
		return "WARN"
	case LogLevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLogLevel parses a level name, defaulting to info
func ParseLogLevel(s string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRACE":
		return LogLevelTrace
	case "DEBUG":
		return LogLevelDebug
	case "WARN", "WARNING":
		return LogLevelWarn
	case "ERROR":
		return LogLevelError
	default:
		return LogLevelInfo
	}
}

// LimitedLogger appends formatted lines to a file and keeps it under MaxLogLines
type LimitedLogger struct {
	mu       sync.Mutex
	out      io.Writer
	file     *os.File // nil when out is not a rotatable file
	lines    int
	maxLines int
	level    LogLevel
	now      func() time.Time
}

var (
	global   *LimitedLogger
	fallback = &LimitedLogger{out: os.Stderr, level: LogLevelInfo, maxLines: MaxLogLines, now: time.Now}
)

// NewLimitedLogger creates a logger writing to w. Files are rotated; other writers are not.
func NewLimitedLogger(w io.Writer, level LogLevel) *LimitedLogger {
	l := &LimitedLogger{out: w, level: level, maxLines: MaxLogLines, now: time.Now}
	if f, ok := w.(*os.File); ok && f != os.Stderr && f != os.Stdout {
		l.file = f
		l.countLines()
	}
	return l
}

// Open opens (or creates) FileName under dir and installs it as the global logger
func Open(dir string, level LogLevel) (*LimitedLogger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, FileName), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	l := NewLimitedLogger(f, level)
	SetGlobal(l)
	return l, nil
}

// SetGlobal installs l as the target of the package-level functions
func SetGlobal(l *LimitedLogger) {
	global = l
}

// SetLevel changes the minimum level written
func (l *LimitedLogger) SetLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

// SetGlobalLevel changes the level of the global logger, if any
func SetGlobalLevel(level LogLevel) {
	if global != nil {
		global.SetLevel(level)
	}
}

func (l *LimitedLogger) enabled(level LogLevel) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return level >= l.level
}

func (l *LimitedLogger) log(level LogLevel, format string, v ...any) {
	if !l.enabled(level) {
		return
	}
	msg := fmt.Sprintf("%s [%s] %s\n", l.now().Format("2006/01/02 15:04:05"), level, fmt.Sprintf(format, v...))
	l.Write([]byte(msg))
}

func (l *LimitedLogger) Trace(format string, v ...any) { l.log(LogLevelTrace, format, v...) }
func (l *LimitedLogger) Debug(format string, v ...any) { l.log(LogLevelDebug, format, v...) }
func (l *LimitedLogger) Info(format string, v ...any)  { l.log(LogLevelInfo, format, v...) }
func (l *LimitedLogger) Warn(format string, v ...any)  { l.log(LogLevelWarn, format, v...) }
func (l *LimitedLogger) Error(format string, v ...any) { l.log(LogLevelError, format, v...) }

// Write implements io.Writer so the logger can back log.Printf and RPC logging
func (l *LimitedLogger) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	n, err := l.out.Write(p)
	if err != nil {
		return n, err
	}
	l.lines += strings.Count(string(p), "\n")
	if l.file != nil && l.lines > l.maxLines {
		l.rotate()
	}
	return n, nil
}

// Close closes the underlying file, if there is one
func (l *LimitedLogger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

func (l *LimitedLogger) countLines() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.file.Seek(0, io.SeekStart)
	sc := bufio.NewScanner(l.file)
	n := 0
	for sc.Scan() {
		n++
	}
	l.lines = n
	l.file.Seek(0, io.SeekEnd)
}

// rotate keeps the last maxLines lines of the file. Caller holds mu.
func (l *LimitedLogger) rotate() {
	l.file.Seek(0, io.SeekStart)
	sc := bufio.NewScanner(l.file)
	var kept []string
	for sc.Scan() {
		kept = append(kept, sc.Text())
	}
	if len(kept) > l.maxLines {
		kept = kept[len(kept)-l.maxLines:]
	}

	l.file.Truncate(0)
	l.file.Seek(0, io.SeekStart)
	w := bufio.NewWriter(l.file)
	for _, line := range kept {
		w.WriteString(line)
		w.WriteByte('\n')
	}
	w.Flush()
	l.lines = len(kept)
}

func current() *LimitedLogger {
	if global != nil {
		return global
	}
	return fallback
}

func Debug(format string, v ...any) { current().Debug(format, v...) }
func Info(format string, v ...any)  { current().Info(format, v...) }
func Warn(format string, v ...any)  { current().Warn(format, v...) }
func Error(format string, v ...any) { current().Error(format, v...) }

// Trace returns a function that logs the elapsed time when called.
// Usage: defer logger.Trace("operation")()
func Trace(name string) func() {
	l := current()
	if !l.enabled(LogLevelTrace) {
		return noop
	}
	start := time.Now()
	return func() {
		l.log(LogLevelTrace, "%s: %v", name, time.Since(start))
	}
}

// Request prefixes every message with a request id
type Request struct {
	ID string
}

// ForRequest returns a logger that tags lines with id
func ForRequest(id string) Request {
	return Request{ID: id}
}

func (r Request) prefix(format string) string {
	return "[" + r.ID + "] " + format
}

func (r Request) Debug(format string, v ...any) { Debug(r.prefix(format), v...) }
func (r Request) Info(format string, v ...any)  { Info(r.prefix(format), v...) }
func (r Request) Warn(format string, v ...any)  { Warn(r.prefix(format), v...) }
func (r Request) Error(format string, v ...any) { Error(r.prefix(format), v...) }
