package errors

import (
	sterrors "errors"
	"fmt"
)

var (
	ErrServiceRequired   = sterrors.New("haltalk: service is required")
	ErrStoreRequired     = sterrors.New("haltalk: data store is required")
	ErrConfigRequired    = sterrors.New("haltalk: configuration is required")
	ErrLoggerRequired    = sterrors.New("haltalk: logger is required")
	ErrPublisherRequired = sterrors.New("haltalk: publisher is required")
	ErrTopicRequired     = sterrors.New("haltalk: topic is required")
	ErrOriginRequired    = sterrors.New("haltalk: command origin is required")
	ErrNoSuchGroup       = sterrors.New("haltalk: no such group")
	ErrNoSuchComponent   = sterrors.New("haltalk: no such component")
	ErrLoopStopped       = sterrors.New("haltalk: reactor is not running")
)

// ConfigValidationError wraps the aggregated result of Config.Validate.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return "haltalk: invalid configuration: " + e.Err.Error()
}

func (e ConfigValidationError) Unwrap() error { return e.Err }

// NewConfigValidationError returns nil for a nil err.
func NewConfigValidationError(err error) error {
	if err == nil {
		return nil
	}
	return ConfigValidationError{Err: err}
}

// UnprocessableFrameError marks a command payload that cannot be split or
// decoded. Retrying it is pointless, so the router sends it to the poison
// queue when one is configured.
type UnprocessableFrameError struct {
	Origin string
	Err    error
}

func (e *UnprocessableFrameError) Error() string {
	return fmt.Sprintf("haltalk: unprocessable frame from %q: %v", e.Origin, e.Err)
}

func (e *UnprocessableFrameError) Unwrap() error { return e.Err }

// IsUnprocessable reports whether err carries an UnprocessableFrameError.
func IsUnprocessable(err error) bool {
	var target *UnprocessableFrameError
	return sterrors.As(err, &target)
}

// Notes collects per-item diagnostics while a request is processed. A request
// is rejected when any note was recorded; processing continues past each
// problem so the reply lists all of them.
type Notes []string

// Addf records a formatted note.
func (n *Notes) Addf(format string, args ...any) {
	*n = append(*n, fmt.Sprintf(format, args...))
}

// Empty reports whether nothing went wrong.
func (n Notes) Empty() bool { return len(n) == 0 }
