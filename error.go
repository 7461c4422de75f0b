package lakemark

import (
	"errors"
	"fmt"
)

type ErrorCode int

const (
	Unknown ErrorCode = iota
	// MarkerAlreadyExists is raised by an unconditional marker create when a
	// marker for the same (partition, file name, IO type) is already present.
	MarkerAlreadyExists
	// MalformedMarkerPath is raised when a path lacks the marker suffix token.
	MalformedMarkerPath
	// EarlyConflictDetected is fatal to the current write attempt: the target
	// file group is claimed by another in-flight write instant.
	EarlyConflictDetected
	// MarkerDirectoryIOFailure wraps file system or coordination service
	// failures while touching a marker directory.
	MarkerDirectoryIOFailure
	FileIOError
)

// Lakemark custom error.
type Error struct {
	Code     ErrorCode
	Err      error
	UserData any
}

func (e Error) Error() string {
	return fmt.Errorf("error code: %d, user data: %v, details: %w", e.Code, e.UserData, e.Err).Error()
}

func (e Error) Unwrap() error {
	return e.Err
}

// CodeOf extracts the ErrorCode from err, looking through wrapping, otherwise
// it returns Unknown. Callers use it to tell "two writers collided"
// (EarlyConflictDetected) apart from "storage unavailable"
// (MarkerDirectoryIOFailure).
func CodeOf(err error) ErrorCode {
	var e Error
	if errors.As(err, &e) {
		return e.Code
	}
	return Unknown
}
