package training

import (
	"errors"
	"fmt"
)

var (
	// ErrRunInProgress is returned when Run is called on an orchestrator
	// that is already driving a run.
	ErrRunInProgress = errors.New("training run already in progress")

	// ErrNotAuthenticated is returned by identity resolution when no
	// session exists. Callers fall back to the sentinel correlation key.
	ErrNotAuthenticated = errors.New("not authenticated")
)

// ValidationError rejects a training request before any network call.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// WebhookError is a failed trigger call: transport failure or non-2xx.
type WebhookError struct {
	Stage      Stage
	URL        string
	StatusCode int
	Err        error
}

func (e *WebhookError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s webhook returned status %d", e.Stage, e.StatusCode)
	}
	return fmt.Sprintf("%s webhook failed: %v", e.Stage, e.Err)
}

func (e *WebhookError) Unwrap() error { return e.Err }

// TransientPollError is a failed status query. It never ends a run.
type TransientPollError struct {
	StatusCode int
	Err        error
}

func (e *TransientPollError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("status endpoint returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("status query failed: %v", e.Err)
}

func (e *TransientPollError) Unwrap() error { return e.Err }

// IsValidationError reports whether err is (or wraps) a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
