// Package playback maps an audio playback clock onto document positions
package playback

import (
	"errors"
	"fmt"
	"time"
)

// SyncKind classifies synchronization failures
type SyncKind int

const (
	// NoMapping means the timing map cannot answer the query
	NoMapping SyncKind = iota + 1
	// Desynchronized means audio and page could not be reconciled
	Desynchronized
)

func (k SyncKind) String() string {
	switch k {
	case NoMapping:
		return "no_mapping"
	case Desynchronized:
		return "desynchronized"
	default:
		return "unknown"
	}
}

var (
	// ErrNoMapping matches any SyncError of kind NoMapping
	ErrNoMapping = errors.New("playback: no mapping")

	// ErrDesynchronized matches any SyncError of kind Desynchronized
	ErrDesynchronized = errors.New("playback: desynchronized")

	// ErrInvalidTransition is returned for state changes the state machine forbids
	ErrInvalidTransition = errors.New("playback: invalid state transition")

	// ErrInvalidTimingMap is returned when breakpoints are not monotonic or out of range
	ErrInvalidTimingMap = errors.New("playback: invalid timing map")
)

// SyncError reports a synchronization failure for one query or event
type SyncError struct {
	Kind      SyncKind
	Page      int           // page involved, -1 if none
	Timestamp time.Duration // timestamp involved, if any
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("playback: %s (page=%d ts=%s)", e.Kind, e.Page, e.Timestamp)
}

// Is lets errors.Is match the kind sentinels
func (e *SyncError) Is(target error) bool {
	switch e.Kind {
	case NoMapping:
		return target == ErrNoMapping
	case Desynchronized:
		return target == ErrDesynchronized
	}
	return false
}
