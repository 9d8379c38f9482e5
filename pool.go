package office2pdf

import (
	"context"
	"fmt"
	"runtime"
	"sync"
)

// Pool sizing constants.
const (
	// MinPoolSize ensures at least one worker is available.
	MinPoolSize = 1

	// MaxPoolSize caps automatic sizing; each worker may hold up to three
	// office engine instances (one per kind) of several hundred MB each.
	MaxPoolSize = 8

	// cpuDivisor leaves headroom for the engine child processes.
	cpuDivisor = 2
)

// WorkerKey identifies a worker slot. Engine leases are keyed by it.
type WorkerKey string

// WorkerPool hands out a fixed set of worker slots. A request holds its slot
// for the whole conversion, so everything keyed by the slot (its engine
// leases) is used by one request at a time.
type WorkerPool struct {
	size  int
	slots chan WorkerKey

	mu     sync.Mutex
	closed bool
	done   chan struct{}
	busy   sync.WaitGroup
}

// NewWorkerPool creates a pool with n slots named worker-0 … worker-(n-1).
func NewWorkerPool(n int) *WorkerPool {
	if n < MinPoolSize {
		n = MinPoolSize
	}

	p := &WorkerPool{
		size:  n,
		slots: make(chan WorkerKey, n),
		done:  make(chan struct{}),
	}
	for i := 0; i < n; i++ {
		p.slots <- WorkerKey(fmt.Sprintf("worker-%d", i))
	}
	return p
}

// Acquire blocks until a slot is free, ctx is done, or the pool closes.
func (p *WorkerPool) Acquire(ctx context.Context) (WorkerKey, error) {
	select {
	case <-p.done:
		return "", ErrPoolClosed
	default:
	}

	select {
	case key := <-p.slots:
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			p.slots <- key
			return "", ErrPoolClosed
		}
		p.busy.Add(1)
		p.mu.Unlock()
		return key, nil
	case <-ctx.Done():
		return "", ctx.Err()
	case <-p.done:
		return "", ErrPoolClosed
	}
}

// Release returns a slot acquired with Acquire.
func (p *WorkerPool) Release(key WorkerKey) {
	p.slots <- key
	p.busy.Done()
}

// Close stops handing out slots and waits for in-flight conversions to
// release theirs.
func (p *WorkerPool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.done)
	p.mu.Unlock()

	p.busy.Wait()
}

// Size returns the pool capacity.
func (p *WorkerPool) Size() int {
	return p.size
}

// ResolvePoolSize determines the optimal pool size.
// Priority: explicit workers > GOMAXPROCS-based calculation.
// Exported for use by servers and CLIs.
func ResolvePoolSize(workers int) int {
	if workers > 0 {
		return workers
	}

	// GOMAXPROCS is adjusted by automaxprocs for containers
	n := runtime.GOMAXPROCS(0) / cpuDivisor

	if n < MinPoolSize {
		return MinPoolSize
	}
	if n > MaxPoolSize {
		return MaxPoolSize
	}
	return n
}
