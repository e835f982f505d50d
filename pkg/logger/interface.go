package logger

import "fmt"

// ILogger is the logging contract used where a component wants an
// injectable logger instead of the package-level helpers.
type ILogger interface {
	LogInfo(format string, args ...interface{})
	LogWarn(format string, args ...interface{})
	LogError(format string, args ...interface{})
	LogDebug(format string, args ...interface{})
}

// StandardLogger routes to the package-level helpers.
type StandardLogger struct{}

// NewStandardLogger creates a logger backed by the global configuration.
func NewStandardLogger() ILogger {
	return &StandardLogger{}
}

func (l *StandardLogger) LogInfo(format string, args ...interface{}) {
	LogInfo(format, args...)
}

func (l *StandardLogger) LogWarn(format string, args ...interface{}) {
	LogWarn(format, args...)
}

func (l *StandardLogger) LogError(format string, args ...interface{}) {
	LogError(format, args...)
}

func (l *StandardLogger) LogDebug(format string, args ...interface{}) {
	LogDebug(format, args...)
}

// MockLogger records formatted messages for assertions in tests.
type MockLogger struct {
	InfoMessages  []string
	WarnMessages  []string
	ErrorMessages []string
	DebugMessages []string
}

// NewMockLogger creates an empty mock logger.
func NewMockLogger() *MockLogger {
	return &MockLogger{}
}

func (l *MockLogger) LogInfo(format string, args ...interface{}) {
	l.InfoMessages = append(l.InfoMessages, fmt.Sprintf(format, args...))
}

func (l *MockLogger) LogWarn(format string, args ...interface{}) {
	l.WarnMessages = append(l.WarnMessages, fmt.Sprintf(format, args...))
}

func (l *MockLogger) LogError(format string, args ...interface{}) {
	l.ErrorMessages = append(l.ErrorMessages, fmt.Sprintf(format, args...))
}

func (l *MockLogger) LogDebug(format string, args ...interface{}) {
	l.DebugMessages = append(l.DebugMessages, fmt.Sprintf(format, args...))
}

// Reset clears all recorded messages.
func (l *MockLogger) Reset() {
	l.InfoMessages = l.InfoMessages[:0]
	l.WarnMessages = l.WarnMessages[:0]
	l.ErrorMessages = l.ErrorMessages[:0]
	l.DebugMessages = l.DebugMessages[:0]
}

// HasWarnMessage reports whether any warning was recorded.
func (l *MockLogger) HasWarnMessage() bool {
	return len(l.WarnMessages) > 0
}

// HasErrorMessage reports whether any error was recorded.
func (l *MockLogger) HasErrorMessage() bool {
	return len(l.ErrorMessages) > 0
}
