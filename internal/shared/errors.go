package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrForbidden indicates the actor's role does not permit the action.
	ErrForbidden = errors.New("forbidden")
)
