package core

import (
	"errors"
	"fmt"
)

// ErrSessionBusy is returned when a multi-turn conversation is requested
// while another one is still active. Sessions never interleave.
var ErrSessionBusy = errors.New("a conversation session is already active")

// ConfigError describes one rejected entity definition. Load-time failures
// are aggregated and reported per file; a bad definition never blocks the
// rest of the directory from loading.
type ConfigError struct {
	File   string
	Reason string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid entity definition %s: %s", e.File, e.Reason)
}

// NewConfigError creates a ConfigError for the given file.
func NewConfigError(file, format string, args ...any) *ConfigError {
	return &ConfigError{File: file, Reason: fmt.Sprintf(format, args...)}
}
