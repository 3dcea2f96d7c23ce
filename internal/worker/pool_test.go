package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestInteractiveRunsBeforePrefetch(t *testing.T) {
	p := NewPool(Config{Workers: 1})
	p.Start()
	defer p.Stop()

	// Occupy the only worker so the rest queue up
	gate := make(chan struct{})
	var release sync.Once
	open := func() { release.Do(func() { close(gate) }) }
	defer open() // runs before Stop on every exit path

	running := make(chan struct{})
	if err := p.Submit(PriorityPrefetch, func() {
		close(running)
		<-gate
	}); err != nil {
		t.Fatal(err)
	}
	select {
	case <-running:
	case <-time.After(5 * time.Second):
		t.Fatalf("Expected the worker to pick up the first task, status %+v", p.Status())
	}

	var mu sync.Mutex
	var order []string
	var wg sync.WaitGroup
	record := func(name string) func() {
		wg.Add(1)
		return func() {
			defer wg.Done()
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
		}
	}

	for _, name := range []string{"p1", "p2"} {
		if err := p.Submit(PriorityPrefetch, record(name)); err != nil {
			t.Fatal(err)
		}
	}
	for _, name := range []string{"i1", "i2"} {
		if err := p.Submit(PriorityInteractive, record(name)); err != nil {
			t.Fatal(err)
		}
	}

	waitQueued(t, p, 4)
	open()
	wg.Wait()

	want := []string{"i1", "i2", "p1", "p2"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("Expected order %v, got %v", want, order)
		}
	}
}

func waitQueued(t *testing.T, p *Pool, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		s := p.Status()
		if s.Interactive+s.Prefetch == n {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("Expected %d queued tasks, status %+v", n, s)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestDoReturnsResult(t *testing.T) {
	p := NewPool(Config{Workers: 2})
	p.Start()
	defer p.Stop()

	got, err := Do(context.Background(), p, PriorityInteractive, func(ctx context.Context) (int, error) {
		return 42, nil
	})
	if err != nil || got != 42 {
		t.Errorf("Expected 42, got %d, %v", got, err)
	}

	wantErr := errors.New("boom")
	if _, err := Do(context.Background(), p, PriorityInteractive, func(ctx context.Context) (int, error) {
		return 0, wantErr
	}); !errors.Is(err, wantErr) {
		t.Errorf("Expected boom, got %v", err)
	}
}

func TestDoRecoversPanics(t *testing.T) {
	p := NewPool(Config{Workers: 1})
	p.Start()
	defer p.Stop()

	_, err := Do(context.Background(), p, PriorityInteractive, func(ctx context.Context) (string, error) {
		panic("bad page")
	})
	if err == nil {
		t.Fatal("Expected error from panicking task")
	}

	// The worker survives
	got, err := Do(context.Background(), p, PriorityInteractive, func(ctx context.Context) (string, error) {
		return "ok", nil
	})
	if err != nil || got != "ok" {
		t.Errorf("Expected pool to keep working, got %q, %v", got, err)
	}
}

func TestDoHonorsContext(t *testing.T) {
	p := NewPool(Config{Workers: 1})
	p.Start()
	defer p.Stop()

	gate := make(chan struct{})
	defer close(gate)
	if err := p.Submit(PriorityInteractive, func() { <-gate }); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	ran := make(chan struct{}, 1)
	_, err := Do(ctx, p, PriorityInteractive, func(ctx context.Context) (int, error) {
		ran <- struct{}{}
		return 1, nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected DeadlineExceeded, got %v", err)
	}
}

func TestSubmitAfterStop(t *testing.T) {
	p := NewPool(Config{Workers: 1})
	p.Start()
	p.Stop()

	if err := p.Submit(PriorityInteractive, func() {}); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("Expected ErrPoolClosed, got %v", err)
	}
	if _, err := Do(context.Background(), p, PriorityInteractive, func(ctx context.Context) (int, error) {
		return 1, nil
	}); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("Expected ErrPoolClosed from Do, got %v", err)
	}

	// Stop is idempotent
	p.Stop()
}

func TestNilTaskRejected(t *testing.T) {
	p := NewPool(Config{Workers: 1})
	if err := p.Submit(PriorityInteractive, nil); !errors.Is(err, ErrNilTask) {
		t.Errorf("Expected ErrNilTask, got %v", err)
	}
}
