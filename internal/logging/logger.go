// Package logging provides leveled logging for the kernel, its drivers
// and the hosted simulator.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"

	"github.com/vqkernel/vqkernel"
)

// Logger wraps stdlib log with level support. component tags every line
// this Logger emits (e.g. "block", "netdev", "irqring"); the zero value
// has no tag, matching the untagged Default() logger cmd/vqkerneld logs
// through directly.
type Logger struct {
	logger    *log.Logger
	level     LogLevel
	component string
	mu        sync.Mutex
}

var (
	defaultLogger *Logger
	mu            sync.RWMutex
)

// LogLevel represents the available log levels
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

// Config holds logging configuration
type Config struct {
	Level  LogLevel
	Output io.Writer
}

// DefaultConfig returns a sensible default configuration
func DefaultConfig() *Config {
	return &Config{
		Level:  LevelInfo,
		Output: os.Stderr,
	}
}

// NewLogger creates a new logger
func NewLogger(config *Config) *Logger {
	if config == nil {
		config = DefaultConfig()
	}
	output := config.Output
	if output == nil {
		output = os.Stderr
	}
	return &Logger{
		logger: log.New(output, "", log.LstdFlags),
		level:  config.Level,
	}
}

// Default returns the default logger, creating it if necessary
func Default() *Logger {
	mu.RLock()
	if defaultLogger != nil {
		defer mu.RUnlock()
		return defaultLogger
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if defaultLogger == nil {
		defaultLogger = NewLogger(nil)
	}
	return defaultLogger
}

// SetDefault sets the default logger
func SetDefault(logger *Logger) {
	mu.Lock()
	defer mu.Unlock()
	defaultLogger = logger
}

// formatArgs converts key-value pairs to a string
func formatArgs(args []any) string {
	if len(args) == 0 {
		return ""
	}
	var result string
	for i := 0; i < len(args); i += 2 {
		if i+1 < len(args) {
			if result != "" {
				result += " "
			}
			result += fmt.Sprintf("%v=%v", args[i], args[i+1])
		}
	}
	if result != "" {
		return " " + result
	}
	return ""
}

func (l *Logger) log(level LogLevel, prefix, msg string, args ...any) {
	if level < l.level {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.component != "" {
		l.logger.Printf("%s [%s] %s%s", prefix, l.component, msg, formatArgs(args))
		return
	}
	l.logger.Printf("%s %s%s", prefix, msg, formatArgs(args))
}

// WithComponent returns a logger that tags every line it emits with
// name (e.g. "block", "netdev", "irqring"), sharing the parent's
// underlying writer and level rather than opening a second output
// stream. Driver and platform code holds one of these instead of the
// bare default logger, so a multi-device log stays attributable to the
// device that produced each line.
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{logger: l.logger, level: l.level, component: name}
}

// LogKernelError logs a *vqkernel.KernelError at a severity derived from
// its Result code: a cancellation or timeout is an expected outcome
// (Warn), anything else is Error. The op/device/code fields are logged
// structured rather than folded into err.Error()'s prose, so a log
// pipeline can filter on them directly.
func (l *Logger) LogKernelError(err *vqkernel.KernelError) {
	if err == nil {
		return
	}
	level, prefix := LevelError, "[ERROR]"
	switch err.Code {
	case vqkernel.ResultCancelled, vqkernel.ResultTimeout:
		level, prefix = LevelWarn, "[WARN]"
	}
	args := []any{"op", err.Op, "code", err.Code.String()}
	if err.Device != "" {
		args = append(args, "device", err.Device)
	}
	if err.Inner != nil {
		args = append(args, "cause", err.Inner)
	}
	l.log(level, prefix, err.Msg, args...)
}

// LogCompletion reports a Work item's outcome at Debug for ResultOk and
// Warn otherwise, tagging the line with op, result and latency the way
// Metrics.recordComplete tags its own per-op counters — the two are
// meant to be read side by side when a driver's completion rate looks
// off in the structured counters but the cause needs a line of context.
func (l *Logger) LogCompletion(op vqkernel.Op, result vqkernel.Result, latencyMs int64) {
	if result == vqkernel.ResultOk {
		l.Debug("completed", "op", op.String(), "result", result.String(), "latency_ms", latencyMs)
		return
	}
	l.Warn("completed", "op", op.String(), "result", result.String(), "latency_ms", latencyMs)
}

func (l *Logger) Debug(msg string, args ...any) {
	l.log(LevelDebug, "[DEBUG]", msg, args...)
}

func (l *Logger) Info(msg string, args ...any) {
	l.log(LevelInfo, "[INFO]", msg, args...)
}

func (l *Logger) Warn(msg string, args ...any) {
	l.log(LevelWarn, "[WARN]", msg, args...)
}

func (l *Logger) Error(msg string, args ...any) {
	l.log(LevelError, "[ERROR]", msg, args...)
}

// Printf-style logging
func (l *Logger) Debugf(format string, args ...any) {
	l.log(LevelDebug, "[DEBUG]", fmt.Sprintf(format, args...))
}

func (l *Logger) Infof(format string, args ...any) {
	l.log(LevelInfo, "[INFO]", fmt.Sprintf(format, args...))
}

func (l *Logger) Warnf(format string, args ...any) {
	l.log(LevelWarn, "[WARN]", fmt.Sprintf(format, args...))
}

func (l *Logger) Errorf(format string, args ...any) {
	l.log(LevelError, "[ERROR]", fmt.Sprintf(format, args...))
}

// Printf for compatibility
func (l *Logger) Printf(format string, args ...any) {
	l.Infof(format, args...)
}

// Global convenience functions
func Debug(msg string, args ...any) {
	Default().Debug(msg, args...)
}

func Info(msg string, args ...any) {
	Default().Info(msg, args...)
}

func Warn(msg string, args ...any) {
	Default().Warn(msg, args...)
}

func Error(msg string, args ...any) {
	Default().Error(msg, args...)
}
