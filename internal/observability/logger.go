// Package observability defines shared logging primitives.
package observability

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// Logger captures structured logging behaviours shared across layers.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
}

// Field represents a key/value pair for structured logging.
type Field struct {
	Key   string
	Value any
}

// String builds a string-valued field.
func String(key, value string) Field { return Field{Key: key, Value: value} }

// Int builds an int-valued field.
func Int(key string, value int) Field { return Field{Key: key, Value: value} }

// Err builds an error-valued field, tolerating nil.
func Err(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: "<nil>"}
	}
	return Field{Key: "error", Value: err.Error()}
}

var (
	loggerMu      sync.RWMutex
	defaultLogger Logger = noopLogger{}
)

// SetLogger overrides the global logger used by the gateway.
func SetLogger(logger Logger) {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	if logger == nil {
		defaultLogger = noopLogger{}
		return
	}
	defaultLogger = logger
}

// Log returns the current global logger instance.
func Log() Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return defaultLogger
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...Field) {}
func (noopLogger) Info(string, ...Field)  {}
func (noopLogger) Warn(string, ...Field)  {}
func (noopLogger) Error(string, ...Field) {}

// StderrLogger writes key=value formatted lines to standard error.
type StderrLogger struct {
	mu sync.Mutex
	// MinLevel suppresses lines below the given level: "debug" < "info" < "warn" < "error".
	MinLevel string
}

func (l *StderrLogger) Debug(msg string, fields ...Field) { l.write("debug", msg, fields) }
func (l *StderrLogger) Info(msg string, fields ...Field)  { l.write("info", msg, fields) }
func (l *StderrLogger) Warn(msg string, fields ...Field)  { l.write("warn", msg, fields) }
func (l *StderrLogger) Error(msg string, fields ...Field) { l.write("error", msg, fields) }

var levelRank = map[string]int{"debug": 0, "info": 1, "warn": 2, "error": 3}

func (l *StderrLogger) write(level, msg string, fields []Field) {
	if levelRank[level] < levelRank[strings.ToLower(l.MinLevel)] {
		return
	}
	parts := make([]string, 0, len(fields)+3)
	parts = append(parts,
		"ts="+time.Now().UTC().Format(time.RFC3339Nano),
		"level="+level,
		fmt.Sprintf("msg=%q", msg))
	sorted := make([]Field, len(fields))
	copy(sorted, fields)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Key < sorted[j].Key })
	for _, f := range sorted {
		parts = append(parts, fmt.Sprintf("%s=%v", f.Key, f.Value))
	}
	line := strings.Join(parts, " ")
	l.mu.Lock()
	fmt.Fprintln(os.Stderr, line)
	l.mu.Unlock()
}
