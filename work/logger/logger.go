// Package logger is the leveled logger used across the service. Messages
// carry a "{pkg/file - Func}" prefix written by the caller.
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync/atomic"

	"gopkg.in/natefinch/lumberjack.v2"
)

type LogLevel int32

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

var levelNames = [...]string{"DEBUG", "INFO", "WARN", "ERROR"}

func (l LogLevel) String() string {
	if l < DEBUG || l > ERROR {
		return "INFO"
	}
	return levelNames[l]
}

var current atomic.Int32

func init() {
	current.Store(int32(INFO))
}

// ParseLogLevel converts a level name to a LogLevel. Unknown names map to INFO.
func ParseLogLevel(level string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return DEBUG
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	default:
		return INFO
	}
}

// SetLogLevel sets the minimum level that is written.
func SetLogLevel(level string) {
	current.Store(int32(ParseLogLevel(level)))
}

// GetLogLevel returns the current level name.
func GetLogLevel() string {
	return LogLevel(current.Load()).String()
}

// Enabled reports whether messages at level are written.
func Enabled(level LogLevel) bool {
	return level >= LogLevel(current.Load())
}

// SetOutput redirects log output. When path is non-empty, messages go to
// stdout and to a size-rotated file at path.
func SetOutput(path string) io.Closer {
	if path == "" {
		log.SetOutput(os.Stdout)
		return noopCloser{}
	}
	rotator := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    50, // megabytes
		MaxBackups: 3,
		MaxAge:     14, // days
		Compress:   true,
	}
	log.SetOutput(io.MultiWriter(os.Stdout, rotator))
	return rotator
}

type noopCloser struct{}

func (noopCloser) Close() error { return nil }

func logAt(level LogLevel, format string, v ...any) {
	if !Enabled(level) {
		return
	}
	log.Printf("[%s] %s", level, fmt.Sprintf(format, v...))
}

// Debug logs debug level messages
func Debug(format string, v ...any) { logAt(DEBUG, format, v...) }

// Info logs info level messages
func Info(format string, v ...any) { logAt(INFO, format, v...) }

// Warn logs warning level messages
func Warn(format string, v ...any) { logAt(WARN, format, v...) }

// Error logs error level messages
func Error(format string, v ...any) { logAt(ERROR, format, v...) }
