package mirror

import (
	"errors"
	"fmt"
)

var (
	// ErrConfigMissing indicates the routing file does not exist.
	ErrConfigMissing = errors.New("mirror: routing config missing")
	// ErrConfigMalformed indicates the routing file is not an array of
	// non-negative integer arrays.
	ErrConfigMalformed = errors.New("mirror: routing config malformed")
	// ErrProxyEndpointNotCached indicates no endpoint was ever created for a
	// (conversation, author) pair.
	ErrProxyEndpointNotCached = errors.New("mirror: proxy endpoint not cached")
)

// ConfigError reports a routing configuration failure at startup.
type ConfigError struct {
	// Path is the routing file location when loaded from disk.
	Path string
	// Reason is a short operator-facing explanation.
	Reason string
	// Err is ErrConfigMissing or ErrConfigMalformed, possibly wrapping the
	// underlying io/decode failure.
	Err error
}

// Error returns one operator-readable summary.
func (e *ConfigError) Error() string {
	if e == nil {
		return "<nil>"
	}

	message := "mirror config"
	if e.Path != "" {
		message += " " + e.Path
	}
	if e.Reason != "" {
		message += ": " + e.Reason
	}
	if e.Err != nil {
		message += ": " + e.Err.Error()
	}

	return message
}

// Unwrap returns the classified cause.
func (e *ConfigError) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.Err
}

func malformed(path string, reason string, args ...any) *ConfigError {
	return &ConfigError{
		Path:   path,
		Reason: fmt.Sprintf(reason, args...),
		Err:    ErrConfigMalformed,
	}
}
