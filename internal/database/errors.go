package database

import (
	"errors"
	"fmt"

	"miniurl/internal/models"
)

var (
	// ErrShortCodeExists is returned when an insert fails because the
	// generated short code collides with an existing one.
	ErrShortCodeExists = errors.New("short code exists")
	// ErrLinkNotFound is returned when no link matches the given id or short code.
	ErrLinkNotFound = errors.New("link not found")
	// ErrLockTimeout is returned when a row lock could not be acquired
	// within the configured wait. The operation may be retried.
	ErrLockTimeout = errors.New("row lock timeout")
	// ErrUserExists is returned when the username is already taken.
	ErrUserExists = errors.New("user exists")
	// ErrUserNotFound is returned when no user matches the given id or username.
	ErrUserNotFound = errors.New("user not found")
)

// SameStatusError is returned by a status transition whose target equals
// the link's current status. Nothing is mutated in that case.
type SameStatusError struct {
	Status models.LinkStatus
}

func (e *SameStatusError) Error() string {
	return fmt.Sprintf("link already %s", e.Status)
}
