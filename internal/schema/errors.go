package schema

import (
	"fmt"

	"github.com/go-git/go-git/v5/plumbing"
)

// TransportError is returned when the repository cannot be cloned or listed,
// for example when authentication is rejected or the host is unreachable.
type TransportError struct {
	Repository string
	Err        error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("failed to reach repository %s: %v", e.Repository, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// RefNotFoundError is returned when the selected branch or tag does not resolve to a commit
type RefNotFoundError struct {
	Selector  RefSelector
	Reference plumbing.ReferenceName
	Err       error
}

func (e *RefNotFoundError) Error() string {
	return fmt.Sprintf("%s does not exist (%s): %v", e.Selector, e.Reference, e.Err)
}

func (e *RefNotFoundError) Unwrap() error {
	return e.Err
}

// PathNotFoundError is returned when no file matches the configured path at the resolved commit
type PathNotFoundError struct {
	Path     string
	Selector RefSelector
	Commit   string
}

func (e *PathNotFoundError) Error() string {
	return fmt.Sprintf("file %q not found at %s (commit %s)", e.Path, e.Selector, e.Commit)
}

// DecodeError is returned when the matched object cannot be read as text
type DecodeError struct {
	Path     string
	Encoding string
	Err      error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to read %q as %s: %v", e.Path, e.Encoding, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
