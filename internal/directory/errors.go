package directory

import (
	"errors"
	"fmt"
	"net/http"
)

// Class buckets every remote failure into one of three outcomes the core
// acts on: Permanent failures are surfaced and never retried, Transient
// failures are safe to retry on the next reconciliation cycle, and
// Conflict is treated as a race by the calling component.
type Class int

const (
	ClassPermanent Class = iota
	ClassTransient
	ClassConflict
)

func (c Class) String() string {
	switch c {
	case ClassPermanent:
		return "permanent"
	case ClassTransient:
		return "transient"
	case ClassConflict:
		return "conflict"
	default:
		return "unknown"
	}
}

// Error is a classified remote directory failure.
type Error struct {
	Status  int
	Message string
	Class   Class
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("directory: %s (status %d, %s)", e.Message, e.Status, e.Class)
	}
	return fmt.Sprintf("directory: status %d (%s)", e.Status, e.Class)
}

// classify maps a remote HTTP status onto a Class. NotFound, BadRequest and
// Forbidden are permanent; Conflict is a race; everything else, including
// Unauthorized and server errors, is transient.
func classify(status int) Class {
	switch status {
	case http.StatusNotFound, http.StatusBadRequest, http.StatusForbidden:
		return ClassPermanent
	case http.StatusConflict:
		return ClassConflict
	default:
		return ClassTransient
	}
}

// IsNotFound reports whether err is a permanent 404 from the directory.
func IsNotFound(err error) bool {
	var de *Error
	return errors.As(err, &de) && de.Status == http.StatusNotFound
}

// IsTransient reports whether err is a directory failure that the next
// reconciliation cycle may recover from.
func IsTransient(err error) bool {
	var de *Error
	return errors.As(err, &de) && de.Class == ClassTransient
}

// IsConflict reports whether err is a directory-side conflict.
func IsConflict(err error) bool {
	var de *Error
	return errors.As(err, &de) && de.Class == ClassConflict
}
