package logger

import (
	"log"
	"os"
	"strings"
)

// Log level names accepted in configuration, most to least severe.
const (
	LogLevelError = "error"
	LogLevelWarn  = "warn"
	LogLevelInfo  = "info"
	LogLevelDebug = "debug"
	LogLevelTrace = "trace"
)

// LoggingConfig is the logging section of the configuration file.
type LoggingConfig struct {
	Level   string `yaml:"level"`
	File    string `yaml:"file"`
	MaxSize int    `yaml:"max_size"`
	MaxAge  int    `yaml:"max_age"`
}

// GlobalLogging holds the active logging configuration for the
// package-level helpers. Set once at startup.
var GlobalLogging *LoggingConfig

// rank maps a level name to its position in the severity order.
// Unknown names rank as trace so nothing is accidentally silenced.
func rank(level string) int {
	switch strings.ToLower(level) {
	case LogLevelError:
		return 0
	case LogLevelWarn:
		return 1
	case LogLevelInfo:
		return 2
	case LogLevelDebug:
		return 3
	case LogLevelTrace:
		return 4
	default:
		return 4
	}
}

// shouldLog reports whether a message of messageLevel passes the
// configured currentLevel.
func shouldLog(currentLevel, messageLevel string) bool {
	if currentLevel == "" {
		currentLevel = LogLevelInfo
	}
	return rank(messageLevel) <= rank(currentLevel)
}

// Logger wraps the standard logger with a verbosity level.
type Logger struct {
	*log.Logger
	level string
}

// NewLogger creates a logger from the configuration and installs the
// configuration as the global one for the package-level helpers.
func NewLogger(config *LoggingConfig) *Logger {
	level := strings.ToLower(config.Level)
	if level == "" {
		level = LogLevelInfo
	}

	output := os.Stdout
	if config.File != "" {
		f, err := os.OpenFile(config.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			log.Printf("Failed to open log file %s: %v", config.File, err)
		} else {
			output = f
		}
	}

	GlobalLogging = config

	return &Logger{
		Logger: log.New(output, "", log.LstdFlags|log.Lshortfile),
		level:  level,
	}
}

// Error logs error messages
func (l *Logger) Error(format string, args ...interface{}) {
	if shouldLog(l.level, LogLevelError) {
		l.Printf("❌ "+format, args...)
	}
}

// Warn logs warning messages
func (l *Logger) Warn(format string, args ...interface{}) {
	if shouldLog(l.level, LogLevelWarn) {
		l.Printf("⚠️ "+format, args...)
	}
}

// Info logs info messages
func (l *Logger) Info(format string, args ...interface{}) {
	if shouldLog(l.level, LogLevelInfo) {
		l.Printf("ℹ️ "+format, args...)
	}
}

// Debug logs debug messages
func (l *Logger) Debug(format string, args ...interface{}) {
	if shouldLog(l.level, LogLevelDebug) {
		l.Printf("🔧 "+format, args...)
	}
}

// Trace logs trace messages
func (l *Logger) Trace(format string, args ...interface{}) {
	if shouldLog(l.level, LogLevelTrace) {
		l.Printf("🔍 "+format, args...)
	}
}

// LogStartup logs startup messages regardless of the configured level.
func LogStartup(format string, args ...interface{}) {
	log.Printf("🔧 "+format, args...)
}

// Package-level helpers against the global configuration.

func LogError(format string, args ...interface{}) {
	if GlobalLogging != nil && shouldLog(GlobalLogging.Level, LogLevelError) {
		log.Printf("❌ "+format, args...)
	}
}

func LogWarn(format string, args ...interface{}) {
	if GlobalLogging != nil && shouldLog(GlobalLogging.Level, LogLevelWarn) {
		log.Printf("⚠️ "+format, args...)
	}
}

func LogInfo(format string, args ...interface{}) {
	if GlobalLogging != nil && shouldLog(GlobalLogging.Level, LogLevelInfo) {
		log.Printf("ℹ️ "+format, args...)
	}
}

func LogDebug(format string, args ...interface{}) {
	if GlobalLogging != nil && shouldLog(GlobalLogging.Level, LogLevelDebug) {
		log.Printf("🔧 "+format, args...)
	}
}

func LogTrace(format string, args ...interface{}) {
	if GlobalLogging != nil && shouldLog(GlobalLogging.Level, LogLevelTrace) {
		log.Printf("🔍 "+format, args...)
	}
}

// IsDebugEnabled reports whether debug logging is enabled globally.
func IsDebugEnabled() bool {
	return GlobalLogging != nil && shouldLog(GlobalLogging.Level, LogLevelDebug)
}

// IsTraceEnabled reports whether trace logging is enabled globally.
func IsTraceEnabled() bool {
	return GlobalLogging != nil && shouldLog(GlobalLogging.Level, LogLevelTrace)
}
