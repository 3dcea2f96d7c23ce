// Package wal implements the append-only record log behind the bookmark store.
//
// Every record is framed independently (magic, header, key, value, CRC32) so that a
// damaged or torn record costs only itself: the scanner resynchronizes on the next
// frame magic instead of abandoning the rest of the file.
package wal

import "errors"

var (
	// ErrCorrupted indicates a corrupted entry (CRC mismatch or bad header)
	ErrCorrupted = errors.New("wal: corrupted entry")

	// ErrInvalidEntry indicates an entry that cannot be encoded
	ErrInvalidEntry = errors.New("wal: invalid entry")

	// ErrTruncated indicates an entry cut short by the end of the file
	ErrTruncated = errors.New("wal: truncated entry")

	// ErrWriterClosed indicates a write through a writer whose scope has ended
	ErrWriterClosed = errors.New("wal: writer closed")
)
