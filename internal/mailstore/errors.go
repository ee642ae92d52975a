package mailstore

import (
	"errors"
	"fmt"
)

// NotFoundError indicates that a folder or message does not exist
// remotely. Callers branch on it: cleanup buckets unresolvable messages
// as deleted, while loop initialization treats a missing required
// folder as fatal.
type NotFoundError struct {
	Kind string // "folder" or "message"
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.Name)
}

// IsNotFound reports whether err (or any error in its chain) is a
// NotFoundError.
func IsNotFound(err error) bool {
	var nfErr *NotFoundError
	return errors.As(err, &nfErr)
}

// AuthError indicates that authentication failed against the remote
// mailbox.
type AuthError struct {
	Username string
	Message  string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth error (%s): %s", e.Username, e.Message)
}

// IsAuthError reports whether err (or any error in its chain) is an
// AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}
