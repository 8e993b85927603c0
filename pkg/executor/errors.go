package executor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

var (
	// ErrNoCollaborator indicates no collaborator is configured for an action type.
	ErrNoCollaborator = errors.New("no collaborator configured")

	// ErrUnsupportedAction indicates an action spec the executor does not know.
	ErrUnsupportedAction = errors.New("unsupported action")
)

// TransientError marks a failure worth retrying: timeouts, 5xx, network errors.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// PermanentError marks a failure that retrying cannot fix: 4xx, validation, template errors.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent: %v", e.Err)
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// StatusError reports a non-success HTTP status from a collaborator.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d %s", e.Code, http.StatusText(e.Code))
}

func NewStatusError(code int) *StatusError {
	return &StatusError{Code: code}
}

func Transient(err error) error {
	return &TransientError{Err: err}
}

func Permanent(err error) error {
	return &PermanentError{Err: err}
}

// IsTransient checks if an error has been classified as transient.
func IsTransient(err error) bool {
	var transient *TransientError

	return errors.As(err, &transient)
}

// IsPermanent checks if an error has been classified as permanent.
func IsPermanent(err error) bool {
	var permanent *PermanentError

	return errors.As(err, &permanent)
}

// Classify wraps err as transient or permanent. Errors already classified are returned unchanged;
// unknown errors are treated as transient.
func Classify(err error) error {
	if err == nil || IsTransient(err) || IsPermanent(err) {
		return err
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		if statusErr.Code >= http.StatusInternalServerError || statusErr.Code == http.StatusTooManyRequests ||
			statusErr.Code == http.StatusRequestTimeout {
			return Transient(err)
		}

		return Permanent(err)
	}

	if errors.Is(err, ErrNoCollaborator) || errors.Is(err, ErrUnsupportedAction) || errors.Is(err, context.Canceled) {
		return Permanent(err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return Transient(err)
	}

	return Transient(err)
}
