package render

import (
	"errors"
	"fmt"
)

// DecodeKind classifies decode failures
type DecodeKind int

const (
	Corrupt DecodeKind = iota + 1
	Unsupported
	OutOfMemory
)

func (k DecodeKind) String() string {
	switch k {
	case Corrupt:
		return "corrupt"
	case Unsupported:
		return "unsupported"
	case OutOfMemory:
		return "out_of_memory"
	default:
		return "unknown"
	}
}

var (
	// ErrCorrupt matches DecodeErrors of kind Corrupt
	ErrCorrupt = errors.New("decode: corrupt page")

	// ErrUnsupported matches DecodeErrors of kind Unsupported
	ErrUnsupported = errors.New("decode: unsupported")

	// ErrOutOfMemory matches DecodeErrors of kind OutOfMemory
	ErrOutOfMemory = errors.New("decode: out of memory")

	// ErrPageOutOfRange is returned for page indices outside the document
	ErrPageOutOfRange = errors.New("decode: page out of range")
)

// DecodeError reports a failed decode of a single page
type DecodeError struct {
	Kind DecodeKind
	Page int
	Err  error
}

func (e *DecodeError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("decode page %d: %s", e.Page, e.Kind)
	}
	return fmt.Sprintf("decode page %d: %s: %v", e.Page, e.Kind, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Is matches the kind sentinels
func (e *DecodeError) Is(target error) bool {
	switch target {
	case ErrCorrupt:
		return e.Kind == Corrupt
	case ErrUnsupported:
		return e.Kind == Unsupported
	case ErrOutOfMemory:
		return e.Kind == OutOfMemory
	}
	return false
}

// Retryable reports whether err is worth one retry after freeing memory
func Retryable(err error) bool {
	return errors.Is(err, ErrOutOfMemory)
}
