package syncclient

import (
	"errors"
	"fmt"
)

// TransientError is a failure worth retrying: the network, a timeout or a
// 5xx/429 response.
type TransientError struct {
	Op     string
	Status int
	Err    error
}

func (e *TransientError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: transient (HTTP %d): %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: transient: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// ConflictError reports that the server's copy diverged from the version the
// change was based on. Server is nil when the entity no longer exists.
type ConflictError struct {
	Table   string
	ID      int64
	Server  *EntityVersion
	Exists  bool
	Message string
}

func (e *ConflictError) Error() string {
	if e.Server != nil {
		return fmt.Sprintf("conflict on %s %d: server at version %d", e.Table, e.ID, e.Server.Version)
	}
	return fmt.Sprintf("conflict on %s %d: %s", e.Table, e.ID, e.Message)
}

// RejectedError is a 4xx the server will keep returning for the same input.
type RejectedError struct {
	Status  int
	Code    string
	Message string
}

func (e *RejectedError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("rejected (HTTP %d, %s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("rejected (HTTP %d): %s", e.Status, e.Message)
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// AsConflict extracts a ConflictError from err.
func AsConflict(err error) (*ConflictError, bool) {
	var ce *ConflictError
	ok := errors.As(err, &ce)
	return ce, ok
}

// IsRejected reports whether err is a permanent rejection.
func IsRejected(err error) bool {
	var re *RejectedError
	return errors.As(err, &re)
}
