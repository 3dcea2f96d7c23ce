// Package worker runs decode and store work on a small fixed pool of
// goroutines fed by a priority queue.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/nainya/docsession/internal/logger"
)

// ErrPoolClosed is returned by Submit after Stop
var ErrPoolClosed = errors.New("worker pool closed")

// Config configures a Pool
type Config struct {
	Name    string
	Workers int // default: runtime.NumCPU(), at most 4
	Logger  *logger.Logger
}

// Status reports pool occupancy
type Status struct {
	Name        string
	Workers     int
	InFlight    int
	Interactive int
	Prefetch    int
}

// Pool is a fixed set of workers sharing one priority queue
type Pool struct {
	name    string
	workers int
	log     *logger.Logger
	queue   *queue

	inFlight atomic.Int32

	mu      sync.Mutex
	started bool
	closed  bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewPool creates a stopped pool
func NewPool(cfg Config) *Pool {
	name := cfg.Name
	if name == "" {
		name = "decode"
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = min(runtime.NumCPU(), 4)
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Nop()
	}

	return &Pool{
		name:    name,
		workers: workers,
		log:     log.Component("worker").WithFields(map[string]interface{}{"pool": name, "workers": workers}),
		queue:   newQueue(),
		done:    make(chan struct{}),
	}
}

// Start launches the workers. It is a no-op on a started or stopped pool.
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.closed {
		return
	}
	p.started = true

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	p.log.Debug("worker pool started").Send()
}

// Stop stops accepting work and waits for running tasks. Queued tasks that
// never started are dropped.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.done)
	p.mu.Unlock()

	p.wg.Wait()
	p.log.Debug("worker pool stopped").Send()
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	for {
		u := p.queue.pop(p.done)
		if u == nil {
			return
		}
		p.inFlight.Add(1)
		u.run()
		p.inFlight.Add(-1)
	}
}

// Submit queues fn
func (p *Pool) Submit(priority Priority, fn func()) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return ErrPoolClosed
	}
	return p.queue.push(&unit{priority: priority, run: fn})
}

// Status returns current pool status
func (p *Pool) Status() Status {
	interactive, prefetch := p.queue.depth()
	return Status{
		Name:        p.name,
		Workers:     p.workers,
		InFlight:    int(p.inFlight.Load()),
		Interactive: interactive,
		Prefetch:    prefetch,
	}
}

// Do runs fn on the pool and waits for its result. If ctx ends first Do
// returns ctx.Err(); fn is then skipped if it has not started yet. Tasks
// dropped by Stop return ErrPoolClosed.
func Do[T any](ctx context.Context, p *Pool, priority Priority, fn func(ctx context.Context) (T, error)) (T, error) {
	type result struct {
		val T
		err error
	}
	ch := make(chan result, 1)

	err := p.Submit(priority, func() {
		var r result
		defer func() {
			if rec := recover(); rec != nil {
				r.err = fmt.Errorf("worker task panicked: %v", rec)
				p.log.Error("worker task panicked").Interface("panic", rec).Send()
			}
			ch <- r
		}()
		if err := ctx.Err(); err != nil {
			r.err = err
			return
		}
		r.val, r.err = fn(ctx)
	})
	if err != nil {
		var zero T
		return zero, err
	}

	select {
	case r := <-ch:
		return r.val, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case <-p.done:
		// a task that already ran still delivers its result
		select {
		case r := <-ch:
			return r.val, r.err
		default:
			var zero T
			return zero, ErrPoolClosed
		}
	}
}
