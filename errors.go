package docgate

import (
	"errors"
	"fmt"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotFound     = errors.New("document not found")
	ErrNoStore      = errors.New("docgate: store is required")
)

// AuthorizationError is returned when the current session may not perform
// Action on a document.
type AuthorizationError struct {
	Collection string
	Action     Action
	DocumentID string
	Reason     string
}

func (e *AuthorizationError) Error() string {
	if e.DocumentID == "" {
		return fmt.Sprintf("unauthorized to %s %s: %s", e.Action, e.Collection, e.Reason)
	}
	return fmt.Sprintf("unauthorized to %s %s/%s: %s", e.Action, e.Collection, e.DocumentID, e.Reason)
}

func (e *AuthorizationError) Is(target error) bool { return target == ErrUnauthorized }

// NotFoundError is returned by operations that require an existing document.
type NotFoundError struct {
	Collection string
	DocumentID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("document not found: %s/%s", e.Collection, e.DocumentID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// IsAuthorizationError reports whether err is or wraps an AuthorizationError.
func IsAuthorizationError(err error) bool {
	var ae *AuthorizationError
	return errors.As(err, &ae)
}

// IsNotFound reports whether err is or wraps a NotFoundError.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
