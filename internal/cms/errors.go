package cms

import (
	"context"
	"errors"
	"fmt"
)

// Error taxonomy shared by remote clients, the cache and the write path.
// Callers classify failures with errors.Is.
var (
	// ErrNotFound means the path or item does not exist. Read paths turn it into an empty result.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized means the access token is missing or invalid.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden means the token is valid but lacks access.
	ErrForbidden = errors.New("forbidden")

	// ErrConflict means a SHA precondition failed. The caller must refetch before retrying.
	ErrConflict = errors.New("conflict: remote content changed")

	// ErrDecode means a transport payload could not be decoded.
	ErrDecode = errors.New("malformed payload")

	// ErrValidation means an operation was rejected before any state was mutated.
	ErrValidation = errors.New("validation failed")

	// ErrTransient means a network failure, timeout or server error. Safe to retry.
	ErrTransient = errors.New("transient remote failure")

	// ErrRateLimited is a transient failure caused by an exhausted API quota.
	ErrRateLimited = fmt.Errorf("%w: rate limited", ErrTransient)
)

// OpError records the operation and path that failed.
type OpError struct {
	Op   string
	Path string
	Err  error
}

func (e *OpError) Error() string {
	if e.Path == "" {
		return e.Op + ": " + e.Err.Error()
	}
	return e.Op + " " + e.Path + ": " + e.Err.Error()
}

func (e *OpError) Unwrap() error { return e.Err }

// Wrap returns err annotated with op and path, or nil when err is nil.
func Wrap(op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &OpError{Op: op, Path: path, Err: err}
}

// Validationf returns an ErrValidation with a formatted reason.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// IsTransient reports whether err is worth retrying later.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, context.DeadlineExceeded)
}
