package bookmark

import (
	"context"
	"errors"
	"sync"
	"time"
)

// DefaultDebounceInterval spaces durable last-read writes during continuous navigation
const DefaultDebounceInterval = 2 * time.Second

// LastReadSetter is the durable side of a LastReadWriter
type LastReadSetter interface {
	SetLastRead(ctx context.Context, docID string, page int, offset float64) (Bookmark, error)
}

// WriterOptions configure a LastReadWriter
type WriterOptions struct {
	Interval time.Duration

	// OnCommit is called after each durable write
	OnCommit func(b Bookmark)
	// OnError is called when a write fails; the position stays pending
	OnError func(docID string, err error)
}

type position struct {
	page   int
	offset float64
}

// LastReadWriter coalesces reading-position updates. The first Mark after a
// quiet period is written at once; further marks within Interval are folded
// into one trailing write. A crash can lose at most the last Interval of
// navigation; Flush closes that window on demand.
type LastReadWriter struct {
	setter LastReadSetter
	opts   WriterOptions

	// writes serializes durable writes; it is always taken before mu
	writes sync.Mutex

	mu        sync.Mutex
	pending   map[string]position
	timers    map[string]*time.Timer
	lastWrite map[string]time.Time
	inflight  map[string]bool
	closed    bool
}

// NewLastReadWriter creates a debouncing writer over setter
func NewLastReadWriter(setter LastReadSetter, opts WriterOptions) *LastReadWriter {
	if opts.Interval <= 0 {
		opts.Interval = DefaultDebounceInterval
	}
	return &LastReadWriter{
		setter:    setter,
		opts:      opts,
		pending:   make(map[string]position),
		timers:    make(map[string]*time.Timer),
		lastWrite: make(map[string]time.Time),
		inflight:  make(map[string]bool),
	}
}

// Mark records the current position of a document and schedules its write
func (w *LastReadWriter) Mark(docID string, page int, offset float64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return
	}
	w.pending[docID] = position{page: page, offset: offset}
	w.scheduleLocked(docID)
}

func (w *LastReadWriter) scheduleLocked(docID string) {
	if _, ok := w.timers[docID]; ok {
		return
	}
	delay := time.Until(w.lastWrite[docID].Add(w.opts.Interval))
	if delay < 0 {
		delay = 0
	}
	var t *time.Timer
	t = time.AfterFunc(delay, func() { w.fire(docID, t) })
	w.timers[docID] = t
}

// fire runs when t expires. A timer already replaced by Flush and a later
// Mark does nothing; the current timer owns the next write.
func (w *LastReadWriter) fire(docID string, t *time.Timer) {
	w.mu.Lock()
	if w.timers[docID] != t {
		w.mu.Unlock()
		return
	}
	delete(w.timers, docID)
	w.mu.Unlock()
	_ = w.write(context.Background(), docID)
}

// Pending reports whether a document has a position not yet durable
func (w *LastReadWriter) Pending(docID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.pending[docID]
	return ok || w.inflight[docID]
}

// Flush writes the pending position of a document now
func (w *LastReadWriter) Flush(ctx context.Context, docID string) error {
	w.mu.Lock()
	if t, ok := w.timers[docID]; ok {
		t.Stop()
		delete(w.timers, docID)
	}
	w.mu.Unlock()

	return w.write(ctx, docID)
}

// FlushAll writes every pending position
func (w *LastReadWriter) FlushAll(ctx context.Context) error {
	w.mu.Lock()
	docs := make([]string, 0, len(w.pending))
	for docID := range w.pending {
		docs = append(docs, docID)
	}
	w.mu.Unlock()

	var errs []error
	for _, docID := range docs {
		if err := w.Flush(ctx, docID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close flushes everything and ignores later marks
func (w *LastReadWriter) Close(ctx context.Context) error {
	err := w.FlushAll(ctx)

	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	for docID, t := range w.timers {
		t.Stop()
		delete(w.timers, docID)
	}
	return err
}

func (w *LastReadWriter) write(ctx context.Context, docID string) error {
	w.writes.Lock()
	defer w.writes.Unlock()

	w.mu.Lock()
	pos, ok := w.pending[docID]
	if ok {
		delete(w.pending, docID)
		w.lastWrite[docID] = time.Now()
		w.inflight[docID] = true
	}
	w.mu.Unlock()
	if !ok {
		return nil
	}

	b, err := w.setter.SetLastRead(ctx, docID, pos.page, pos.offset)

	w.mu.Lock()
	delete(w.inflight, docID)
	if err != nil {
		// keep the position unless a newer one arrived meanwhile
		if _, newer := w.pending[docID]; !newer {
			w.pending[docID] = pos
		}
	}
	w.mu.Unlock()

	if err != nil {
		if w.opts.OnError != nil {
			w.opts.OnError(docID, err)
		}
		return err
	}
	if w.opts.OnCommit != nil {
		w.opts.OnCommit(b)
	}
	return nil
}
