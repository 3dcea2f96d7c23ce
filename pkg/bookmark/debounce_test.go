package bookmark

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type recordingSetter struct {
	mu     sync.Mutex
	writes []position
	err    error
}

func (r *recordingSetter) SetLastRead(ctx context.Context, docID string, page int, offset float64) (Bookmark, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return Bookmark{}, r.err
	}
	r.writes = append(r.writes, position{page: page, offset: offset})
	return Bookmark{ID: LastReadID(docID), DocumentID: docID, Page: page, Offset: offset, Kind: LastRead}, nil
}

func (r *recordingSetter) snapshot() []position {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]position(nil), r.writes...)
}

func (r *recordingSetter) setErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestLastReadWriterCoalesces(t *testing.T) {
	setter := &recordingSetter{}
	w := NewLastReadWriter(setter, WriterOptions{Interval: 200 * time.Millisecond})

	for page := 0; page < 10; page++ {
		w.Mark(testDoc, page, 0)
	}

	waitFor(t, func() bool { return !w.Pending(testDoc) })

	writes := setter.snapshot()
	if len(writes) == 0 || len(writes) > 2 {
		t.Fatalf("Expected 1 or 2 durable writes for a burst, got %d", len(writes))
	}
	if last := writes[len(writes)-1]; last.page != 9 {
		t.Errorf("Expected final write at page 9, got %d", last.page)
	}
}

func TestLastReadWriterSpacesWrites(t *testing.T) {
	setter := &recordingSetter{}
	interval := 150 * time.Millisecond
	w := NewLastReadWriter(setter, WriterOptions{Interval: interval})

	// Continuous navigation for about four intervals
	start := time.Now()
	for page := 0; time.Since(start) < 4*interval; page++ {
		w.Mark(testDoc, page, 0)
		time.Sleep(5 * time.Millisecond)
	}
	waitFor(t, func() bool { return !w.Pending(testDoc) })

	// One immediate write plus at most one per elapsed interval
	if n := len(setter.snapshot()); n > 6 {
		t.Errorf("Expected at most 6 writes, got %d", n)
	}
}

func TestLastReadWriterFlush(t *testing.T) {
	setter := &recordingSetter{}
	w := NewLastReadWriter(setter, WriterOptions{Interval: time.Hour})
	ctx := context.Background()

	w.Mark(testDoc, 1, 0)
	waitFor(t, func() bool { return len(setter.snapshot()) == 1 })

	// Inside the interval: nothing is written until Flush
	w.Mark(testDoc, 7, 0.5)
	if !w.Pending(testDoc) {
		t.Fatal("Expected pending position")
	}
	if err := w.Flush(ctx, testDoc); err != nil {
		t.Fatal(err)
	}
	writes := setter.snapshot()
	if len(writes) != 2 || writes[1].page != 7 || writes[1].offset != 0.5 {
		t.Errorf("Expected flushed write at page 7, got %+v", writes)
	}
	if w.Pending(testDoc) {
		t.Error("Expected nothing pending after flush")
	}

	// Flushing with nothing pending is a no-op
	if err := w.Flush(ctx, testDoc); err != nil {
		t.Fatal(err)
	}
	if len(setter.snapshot()) != 2 {
		t.Error("Expected no extra write")
	}
}

func TestLastReadWriterKeepsPositionOnError(t *testing.T) {
	setter := &recordingSetter{}
	setter.setErr(&StoreError{Kind: IOFailure, Err: errors.New("disk full")})

	var mu sync.Mutex
	var reported []string
	w := NewLastReadWriter(setter, WriterOptions{
		Interval: time.Hour,
		OnError: func(docID string, err error) {
			mu.Lock()
			defer mu.Unlock()
			reported = append(reported, docID)
		},
	})

	w.Mark(testDoc, 3, 0)
	if err := w.Flush(context.Background(), testDoc); !errors.Is(err, ErrIOFailure) {
		t.Fatalf("Expected ErrIOFailure, got %v", err)
	}
	if !w.Pending(testDoc) {
		t.Error("Expected position to stay pending after failure")
	}

	setter.setErr(nil)
	if err := w.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
	if writes := setter.snapshot(); len(writes) != 1 || writes[0].page != 3 {
		t.Errorf("Expected retried write at page 3, got %+v", writes)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(reported) == 0 || reported[0] != testDoc {
		t.Errorf("Expected failure reported for %s, got %v", testDoc, reported)
	}

	// Marks after Close are ignored
	w.Mark(testDoc, 4, 0)
	if w.Pending(testDoc) {
		t.Error("Expected marks after close to be ignored")
	}
}

func TestLastReadWriterIgnoresReplacedTimer(t *testing.T) {
	setter := &recordingSetter{}
	w := NewLastReadWriter(setter, WriterOptions{Interval: time.Hour})

	w.Mark(testDoc, 1, 0)
	w.mu.Lock()
	stale := w.timers[testDoc]
	w.mu.Unlock()

	if err := w.Flush(context.Background(), testDoc); err != nil {
		t.Fatal(err)
	}
	w.Mark(testDoc, 2, 0)
	w.mu.Lock()
	current := w.timers[testDoc]
	w.mu.Unlock()
	if current == nil || current == stale {
		t.Fatal("Expected a new timer after Flush and Mark")
	}

	// The flushed timer's callback arrives late
	w.fire(testDoc, stale)

	w.mu.Lock()
	kept := w.timers[testDoc]
	w.mu.Unlock()
	if kept != current {
		t.Error("Expected the current timer to stay scheduled")
	}
	if got := setter.snapshot(); len(got) != 1 || got[0].page != 1 {
		t.Errorf("Expected only the flushed write at page 1, got %v", got)
	}
	if !w.Pending(testDoc) {
		t.Error("Expected page 2 to stay pending until its interval ends")
	}

	if err := w.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
}
