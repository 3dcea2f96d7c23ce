package bookmark

import (
	"errors"
	"fmt"
)

// StoreKind classifies store failures
type StoreKind int

const (
	IOFailure StoreKind = iota + 1
	CorruptRecord
	VersionMismatch
)

func (k StoreKind) String() string {
	switch k {
	case IOFailure:
		return "io_failure"
	case CorruptRecord:
		return "corrupt_record"
	case VersionMismatch:
		return "version_mismatch"
	default:
		return "unknown"
	}
}

var (
	// ErrIOFailure matches StoreErrors of kind IOFailure
	ErrIOFailure = errors.New("bookmark store: io failure")

	// ErrCorruptRecord matches StoreErrors of kind CorruptRecord
	ErrCorruptRecord = errors.New("bookmark store: corrupt record")

	// ErrVersionMismatch matches StoreErrors of kind VersionMismatch
	ErrVersionMismatch = errors.New("bookmark store: version mismatch")

	// ErrNotFound is returned for unknown bookmark ids
	ErrNotFound = errors.New("bookmark store: not found")

	// ErrLastReadProtected is returned when deleting a last-read bookmark
	ErrLastReadProtected = errors.New("bookmark store: last-read bookmark cannot be deleted")

	// ErrInvalidBookmark is returned for bookmarks failing validation
	ErrInvalidBookmark = errors.New("bookmark store: invalid bookmark")
)

// StoreError reports a failed store operation
type StoreError struct {
	Kind       StoreKind
	DocumentID string
	ID         string
	Err        error
}

func (e *StoreError) Error() string {
	msg := fmt.Sprintf("bookmark store: %s", e.Kind)
	if e.ID != "" {
		msg += " " + e.ID
	} else if e.DocumentID != "" {
		msg += " " + e.DocumentID
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *StoreError) Unwrap() error { return e.Err }

// Is matches the kind sentinels
func (e *StoreError) Is(target error) bool {
	switch target {
	case ErrIOFailure:
		return e.Kind == IOFailure
	case ErrCorruptRecord:
		return e.Kind == CorruptRecord
	case ErrVersionMismatch:
		return e.Kind == VersionMismatch
	}
	return false
}
