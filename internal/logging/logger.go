// Package logging provides the leveled component logger used across the
// Verity pipeline. It supports colored console output, per-component
// prefixes, structured fields, and optional file logging.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// ═══════════════════════════════════════════════════════════════════════════════
// LOG LEVELS
// ═══════════════════════════════════════════════════════════════════════════════

// Level represents the severity of a log message.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns the string representation of a log level.
func (l Level) String() string {
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

// Color returns the ANSI color code for each level.
func (l Level) Color() string {
	switch l {
	case LevelDebug:
		return "\033[36m"
	case LevelInfo:
		return "\033[32m"
	case LevelWarn:
		return "\033[33m"
	case LevelError:
		return "\033[31m"
	default:
		return "\033[0m"
	}
}

// ParseLevel parses a string into a Level, defaulting to info.
func ParseLevel(s string) Level {
	switch strings.ToLower(s) {
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// LOGGER
// ═══════════════════════════════════════════════════════════════════════════════

// Logger is the pipeline logging instance.
type Logger struct {
	mu         sync.Mutex
	level      Level
	output     io.Writer
	fileOutput io.Writer
	file       *os.File
	colored    bool
	showTime   bool
	component  string
	fields     map[string]interface{}
}

// Config configures the logger behavior.
type Config struct {
	Level     Level  // Minimum level to log
	FilePath  string // Optional file path for persistent logs
	Colored   bool   // Enable colored output
	ShowTime  bool   // Show timestamp
	Component string // Component name prefix
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() *Config {
	return &Config{
		Level:    LevelInfo,
		Colored:  true,
		ShowTime: true,
	}
}

// New creates a new Logger instance.
func New(cfg *Config) *Logger {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	l := &Logger{
		level:     cfg.Level,
		output:    os.Stderr,
		colored:   cfg.Colored,
		showTime:  cfg.ShowTime,
		component: cfg.Component,
		fields:    make(map[string]interface{}),
	}

	if cfg.FilePath != "" {
		if err := l.SetFileOutput(cfg.FilePath); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to open log file: %v\n", err)
		}
	}

	return l
}

// ═══════════════════════════════════════════════════════════════════════════════
// GLOBAL LOGGER
// ═══════════════════════════════════════════════════════════════════════════════

var (
	globalLogger *Logger
	globalMu     sync.RWMutex
)

func init() {
	globalLogger = New(DefaultConfig())
}

// SetGlobal sets the global logger instance.
func SetGlobal(l *Logger) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalLogger = l
}

// Global returns the global logger instance.
func Global() *Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalLogger
}

// SetLevel sets the global log level.
func SetLevel(level Level) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalLogger.level = level
}

// ═══════════════════════════════════════════════════════════════════════════════
// LOGGER METHODS
// ═══════════════════════════════════════════════════════════════════════════════

// SetFileOutput sets up file logging.
func (l *Logger) SetFileOutput(path string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}

	if l.file != nil {
		l.file.Close()
	}

	l.file = f
	l.fileOutput = f
	return nil
}

// Close closes any open file handles.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		err := l.file.Close()
		l.file = nil
		l.fileOutput = nil
		return err
	}
	return nil
}

// WithComponent returns a new logger with a component prefix.
func (l *Logger) WithComponent(name string) *Logger {
	l.mu.Lock()
	defer l.mu.Unlock()

	nl := l.clone()
	nl.component = name
	return nl
}

// WithField returns a new logger with an additional field.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	l.mu.Lock()
	defer l.mu.Unlock()

	nl := l.clone()
	nl.fields[key] = value
	return nl
}

// WithFields returns a new logger with additional fields.
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	l.mu.Lock()
	defer l.mu.Unlock()

	nl := l.clone()
	for k, v := range fields {
		nl.fields[k] = v
	}
	return nl
}

// clone copies the logger. Caller must hold l.mu.
func (l *Logger) clone() *Logger {
	nl := &Logger{
		level:      l.level,
		output:     l.output,
		fileOutput: l.fileOutput,
		file:       l.file,
		colored:    l.colored,
		showTime:   l.showTime,
		component:  l.component,
		fields:     make(map[string]interface{}, len(l.fields)),
	}
	for k, v := range l.fields {
		nl.fields[k] = v
	}
	return nl
}

// log is the internal logging method.
func (l *Logger) log(level Level, format string, args ...interface{}) {
	if level < l.level {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	var sb strings.Builder
	reset := "\033[0m"

	if l.showTime {
		timestamp := time.Now().Format("2006-01-02 15:04:05.000")
		if l.colored {
			sb.WriteString("\033[90m")
			sb.WriteString(timestamp)
			sb.WriteString(reset)
			sb.WriteString(" ")
		} else {
			sb.WriteString(timestamp)
			sb.WriteString(" ")
		}
	}

	if l.colored {
		sb.WriteString(level.Color())
		sb.WriteString(fmt.Sprintf("%-5s", level.String()))
		sb.WriteString(reset)
		sb.WriteString(" ")
	} else {
		sb.WriteString(fmt.Sprintf("%-5s ", level.String()))
	}

	if l.component != "" {
		if l.colored {
			sb.WriteString("\033[94m")
		}
		sb.WriteString("[")
		sb.WriteString(l.component)
		sb.WriteString("]")
		if l.colored {
			sb.WriteString(reset)
		}
		sb.WriteString(" ")
	}

	sb.WriteString(fmt.Sprintf(format, args...))

	if len(l.fields) > 0 {
		sb.WriteString(" ")
		if l.colored {
			sb.WriteString("\033[90m")
		}
		sb.WriteString("{")
		first := true
		for k, v := range l.fields {
			if !first {
				sb.WriteString(", ")
			}
			sb.WriteString(fmt.Sprintf("%s=%v", k, v))
			first = false
		}
		sb.WriteString("}")
		if l.colored {
			sb.WriteString(reset)
		}
	}

	sb.WriteString("\n")

	output := sb.String()
	l.output.Write([]byte(output))

	if l.fileOutput != nil {
		l.fileOutput.Write([]byte(stripANSI(output)))
	}
}

// Debug logs a debug message.
func (l *Logger) Debug(format string, args ...interface{}) {
	l.log(LevelDebug, format, args...)
}

// Info logs an info message.
func (l *Logger) Info(format string, args ...interface{}) {
	l.log(LevelInfo, format, args...)
}

// Warn logs a warning message.
func (l *Logger) Warn(format string, args ...interface{}) {
	l.log(LevelWarn, format, args...)
}

// Error logs an error message.
func (l *Logger) Error(format string, args ...interface{}) {
	l.log(LevelError, format, args...)
}

// ═══════════════════════════════════════════════════════════════════════════════
// PIPELINE LOGGING
// ═══════════════════════════════════════════════════════════════════════════════

// Stage logs completion of one pipeline stage for a task.
func (l *Logger) Stage(taskID, stage string, duration time.Duration) {
	l.WithFields(map[string]interface{}{
		"task_id":  taskID,
		"duration": duration,
	}).Info("stage %s complete", stage)
}

// Backend logs one backend invocation result.
func (l *Logger) Backend(backendID string, latencyMs int64, err error) {
	if err != nil {
		l.WithField("backend", backendID).Warn("backend call failed: %v", err)
		return
	}
	l.WithFields(map[string]interface{}{
		"backend":    backendID,
		"latency_ms": latencyMs,
	}).Debug("backend call ok")
}

// ═══════════════════════════════════════════════════════════════════════════════
// GLOBAL LOG FUNCTIONS
// ═══════════════════════════════════════════════════════════════════════════════

// Debug logs a debug message using the global logger.
func Debug(format string, args ...interface{}) {
	Global().Debug(format, args...)
}

// Info logs an info message using the global logger.
func Info(format string, args ...interface{}) {
	Global().Info(format, args...)
}

// Warn logs a warning message using the global logger.
func Warn(format string, args ...interface{}) {
	Global().Warn(format, args...)
}

// Error logs an error message using the global logger.
func Error(format string, args ...interface{}) {
	Global().Error(format, args...)
}

// stripANSI removes ANSI escape codes from a string.
func stripANSI(s string) string {
	var result strings.Builder
	inEscape := false

	for i := 0; i < len(s); i++ {
		if s[i] == '\033' {
			inEscape = true
			continue
		}
		if inEscape {
			if s[i] == 'm' {
				inEscape = false
			}
			continue
		}
		result.WriteByte(s[i])
	}

	return result.String()
}
