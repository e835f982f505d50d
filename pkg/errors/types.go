package errors

import (
	"fmt"
)

// ErrorSeverity defines the severity level of an error
type ErrorSeverity int

const (
	SeverityInfo ErrorSeverity = iota
	SeverityWarning
	SeverityError
	SeverityCritical
)

// String returns the string representation of the severity
func (s ErrorSeverity) String() string {
	switch s {
	case SeverityInfo:
		return "INFO"
	case SeverityWarning:
		return "WARNING"
	case SeverityError:
		return "ERROR"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// Diagnostic codes carried by typed errors. Published to the bridge
// diagnostic topic so failures are visible from Home Assistant.
const (
	CodeConfig     = 1
	CodeDecode     = 2
	CodeMQTT       = 4
	CodeValidation = 5
	CodeGeneric    = 99
)

// BridgeError is the base error type for all bridge errors
type BridgeError struct {
	Op       string        // Operation that failed
	Err      error         // Underlying error
	Severity ErrorSeverity // Error severity
	Code     int           // Diagnostic code for MQTT
}

// Error implements the error interface
func (e *BridgeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Severity, e.Op, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Severity, e.Op)
}

// Unwrap returns the underlying error
func (e *BridgeError) Unwrap() error {
	return e.Err
}

// DecodeError represents a failure to decode an inbound pulse frame.
// Decode failures are transient: the frame is dropped, no state changes.
type DecodeError struct {
	BridgeError
	Topic   string
	Payload string // Truncated payload excerpt for the log
}

// NewDecodeError creates a new decode error
func NewDecodeError(op string, err error, topic string) *DecodeError {
	return &DecodeError{
		BridgeError: BridgeError{
			Op:       op,
			Err:      err,
			Severity: SeverityWarning,
			Code:     CodeDecode,
		},
		Topic: topic,
	}
}

// Error implements the error interface
func (e *DecodeError) Error() string {
	if e.Topic != "" {
		return fmt.Sprintf("[%s] Frame on '%s': %s: %v", e.Severity, e.Topic, e.Op, e.Err)
	}
	return fmt.Sprintf("[%s] Frame: %s: %v", e.Severity, e.Op, e.Err)
}

// MQTTError represents errors from MQTT operations
type MQTTError struct {
	BridgeError
	Broker string
	Topic  string
	QoS    byte
}

// NewMQTTError creates a new MQTT error
func NewMQTTError(op string, err error, broker string) *MQTTError {
	return &MQTTError{
		BridgeError: BridgeError{
			Op:       op,
			Err:      err,
			Severity: SeverityError,
			Code:     CodeMQTT,
		},
		Broker: broker,
	}
}

// Error implements the error interface
func (e *MQTTError) Error() string {
	if e.Topic != "" {
		return fmt.Sprintf("[%s] MQTT broker '%s' (topic: %s): %s: %v",
			e.Severity, e.Broker, e.Topic, e.Op, e.Err)
	}
	return fmt.Sprintf("[%s] MQTT broker '%s': %s: %v",
		e.Severity, e.Broker, e.Op, e.Err)
}

// ConfigError represents configuration errors
type ConfigError struct {
	BridgeError
	Field string
	Value interface{}
}

// NewConfigError creates a new configuration error
func NewConfigError(op string, err error, field string) *ConfigError {
	return &ConfigError{
		BridgeError: BridgeError{
			Op:       op,
			Err:      err,
			Severity: SeverityCritical, // Config errors are critical
			Code:     CodeConfig,
		},
		Field: field,
	}
}

// Error implements the error interface
func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("[%s] Configuration field '%s': %s: %v",
			e.Severity, e.Field, e.Op, e.Err)
	}
	return fmt.Sprintf("[%s] Configuration: %s: %v",
		e.Severity, e.Op, e.Err)
}

// ValidationError represents a rejected field value. Key is the stable
// machine-readable identifier surfaced to the configuration flow
// (e.g. "invalid_impulses").
type ValidationError struct {
	BridgeError
	Field string
	Key   string
	Value interface{}
}

// NewValidationError creates a new validation error
func NewValidationError(field, key string, value interface{}) *ValidationError {
	return &ValidationError{
		BridgeError: BridgeError{
			Op:       "validation",
			Err:      fmt.Errorf("invalid value for %s", field),
			Severity: SeverityWarning,
			Code:     CodeValidation,
		},
		Field: field,
		Key:   key,
		Value: value,
	}
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return fmt.Sprintf("[%s] Field '%s' (%s): got %v",
		e.Severity, e.Field, e.Key, e.Value)
}

// ValidationKey extracts the validation error key from an error, or ""
// when the error is not a ValidationError.
func ValidationKey(err error) string {
	if v, ok := err.(*ValidationError); ok {
		return v.Key
	}
	return ""
}
