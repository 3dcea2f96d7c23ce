package wal

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Writer appends frames to a log file within the scope of WithWriter
type Writer struct {
	fd      *os.File
	written int64
	closed  bool
}

// Write appends an entry to the log
func (w *Writer) Write(entry Entry) error {
	if w.closed {
		return ErrWriterClosed
	}

	data, err := entry.Encode()
	if err != nil {
		return err
	}

	n, err := w.fd.Write(data)
	w.written += int64(n)
	return err
}

// Written returns the number of bytes appended so far
func (w *Writer) Written() int64 {
	return w.written
}

// WithWriter opens path for append, runs fn and always syncs and closes the file
// before returning, whatever fn returned. It returns the number of bytes appended.
func WithWriter(path string, fn func(w *Writer) error) (written int64, err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return 0, err
	}

	fd, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return 0, err
	}

	w := &Writer{fd: fd}
	defer func() {
		w.closed = true
		syncErr := fd.Sync()
		closeErr := fd.Close()
		err = errors.Join(err, syncErr, closeErr)
		written = w.written
	}()

	return 0, fn(w)
}

// Append writes entries to path as one scoped write
func Append(path string, entries ...Entry) (int64, error) {
	return WithWriter(path, func(w *Writer) error {
		for _, e := range entries {
			if err := w.Write(e); err != nil {
				return err
			}
		}
		return nil
	})
}

// ScanResult holds the entries recovered from a log
type ScanResult struct {
	Entries  []*Entry
	Corrupt  int   // damaged regions skipped
	TornTail bool  // the file ends inside a frame
	Size     int64 // bytes scanned
	MaxLSN   uint64
}

// Scan decodes every intact frame in data. A damaged frame is skipped by searching
// for the next magic, so only the damaged record is lost.
func Scan(data []byte) ScanResult {
	res := ScanResult{Size: int64(len(data))}

	off := 0
	for off < len(data) {
		rest := data[off:]

		if len(rest) < EntryHeaderSize+crcSize {
			res.TornTail = true
			break
		}

		entry, err := DecodeEntry(rest)
		if err == nil {
			res.Entries = append(res.Entries, entry)
			if entry.LSN > res.MaxLSN {
				res.MaxLSN = entry.LSN
			}
			off += entry.Size()
			continue
		}

		// Resync on the next frame start
		next := bytes.Index(rest[1:], magicBytes)
		if next < 0 {
			if errors.Is(err, ErrTruncated) {
				res.TornTail = true
			} else {
				res.Corrupt++
			}
			break
		}
		res.Corrupt++
		off += next + 1
	}

	return res
}

// ReadFile scans the log at path. A missing file yields an empty result.
func ReadFile(path string) (ScanResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ScanResult{}, nil
		}
		return ScanResult{}, err
	}
	return Scan(data), nil
}

// Rewrite atomically replaces the log at path with entries: they are written to a
// temporary file in the same directory, synced, and renamed over the old log.
func Rewrite(path string, entries []Entry) (int64, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return 0, err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".compact-*")
	if err != nil {
		return 0, err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op after a successful rename

	var size int64
	for _, e := range entries {
		data, err := e.Encode()
		if err != nil {
			tmp.Close()
			return 0, err
		}
		n, err := tmp.Write(data)
		size += int64(n)
		if err != nil {
			tmp.Close()
			return 0, err
		}
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return 0, err
	}
	if err := tmp.Close(); err != nil {
		return 0, err
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return 0, fmt.Errorf("rename compacted log: %w", err)
	}

	return size, syncDir(dir)
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
