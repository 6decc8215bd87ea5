package remote

import (
	"errors"
	"fmt"
)

type ListFailureKind string

const (
	NoFavorites   ListFailureKind = "no-favorites"
	EntryNotFound ListFailureKind = "entry-not-found"
	ParseFailure  ListFailureKind = "parse-failure"
)

// ListFetchError is returned when a source item's target list cannot be built.
type ListFetchError struct {
	SourceID string
	Kind     ListFailureKind
	Err      error
}

func (e *ListFetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch targets for %s: %s: %v", e.SourceID, e.Kind, e.Err)
	}
	return fmt.Sprintf("fetch targets for %s: %s", e.SourceID, e.Kind)
}

func (e *ListFetchError) Unwrap() error { return e.Err }

var (
	// ErrUserNotFound marks a target whose profile no longer exists. It is a
	// skip, not a failure.
	ErrUserNotFound = errors.New("user not found")
	ErrProfileParse = errors.New("no account id in profile page")
)

// ActionError is a failed remote call.
type ActionError struct {
	Step   string
	Status int
	Err    error
}

func (e *ActionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Step, e.Err)
	}
	return fmt.Sprintf("%s: unexpected status %d", e.Step, e.Status)
}

func (e *ActionError) Unwrap() error { return e.Err }
