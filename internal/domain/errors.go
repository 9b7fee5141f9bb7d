package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrFaulted marks an unrecoverable engine condition.
	ErrFaulted = errors.New("exchange engine faulted")
	// ErrEndpointDisconnected is wrapped by endpoints whose session is gone.
	ErrEndpointDisconnected = errors.New("endpoint disconnected")
	// ErrEndpointUnavailable is recorded for links whose server has no live handle.
	ErrEndpointUnavailable = errors.New("endpoint unavailable")
)

// ConfigurationError reports a malformed or inconsistent link table,
// server list, period or value type. It is always fatal at startup.
type ConfigurationError struct {
	Field string
	Err   error
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("configuration: %v", e.Err)
	}
	return fmt.Sprintf("configuration: %s: %v", e.Field, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// ConnectionError reports a server that could not be reached.
type ConnectionError struct {
	Server   string
	Attempts int
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect %s (attempts=%d): %v", e.Server, e.Attempts, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ReadError is recorded when a source tag could not be read.
type ReadError struct {
	Server string
	Tag    string
	Err    error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("read %s::%s: %v", e.Server, e.Tag, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// WriteError is recorded when a target tag could not be written.
type WriteError struct {
	Server string
	Tag    string
	Type   ValueType
	Err    error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write %s::%s (%s): %v", e.Server, e.Tag, e.Type, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// IsConfigurationError reports whether err carries a ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}
