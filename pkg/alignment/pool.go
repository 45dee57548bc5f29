package alignment

import (
	"context"
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
)

// DefaultWorkers returns three quarters of the available CPUs, at least one.
func DefaultWorkers() int {
	n := int(0.75 * float64(runtime.NumCPU()))
	if n < 1 {
		return 1
	}
	return n
}

// pool is a fixed set of goroutines that lives for the whole session and
// executes every batch of every round.
type pool struct {
	size  int
	tasks chan func()
	wg    sync.WaitGroup
}

func newPool(size int) *pool {
	p := &pool{size: size, tasks: make(chan func())}
	p.wg.Add(size)
	for i := 0; i < size; i++ {
		go func() {
			defer p.wg.Done()
			for task := range p.tasks {
				task()
			}
		}()
	}
	return p
}

// close stops accepting work and waits for the workers to exit.
func (p *pool) close() {
	close(p.tasks)
	p.wg.Wait()
}

// batch tracks one phase worth of group alignments.
type batch struct {
	done    chan struct{}
	counter counter

	mu  sync.Mutex
	err error
}

func (b *batch) fail(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err == nil {
		b.err = err
	}
}

func (b *batch) failed() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

// counter counts completed groups for progress reporting only.
type counter struct {
	mu sync.Mutex
	n  int
}

func (c *counter) inc() {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

func (c *counter) value() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

// dispatch splits groups 0..n-1 into contiguous chunks and queues them on
// the pool without blocking the caller. The first failure cancels the
// groups that have not started yet; running groups finish.
func (p *pool) dispatch(ctx context.Context, n int, phase Phase, align func(g int) error) *batch {
	b := &batch{done: make(chan struct{})}
	ctx, cancel := context.WithCancel(ctx)

	chunk := n / p.size
	if chunk < 1 {
		chunk = 1
	}

	var wg sync.WaitGroup
	for start := 0; start < n; start += chunk {
		wg.Add(1)
	}

	go func() {
		for start := 0; start < n; start += chunk {
			end := min(start+chunk, n)
			lo, hi := start, end
			p.tasks <- func() {
				defer wg.Done()
				for g := lo; g < hi; g++ {
					if ctx.Err() != nil {
						return
					}
					if err := runGroup(g, phase, align); err != nil {
						b.fail(err)
						cancel()
						return
					}
					b.counter.inc()
				}
			}
		}
	}()

	go func() {
		wg.Wait()
		cancel()
		close(b.done)
	}()

	return b
}

// runGroup invokes align for one group and converts a panic into a
// WorkerError carrying the stack.
func runGroup(g int, phase Phase, align func(int) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &WorkerError{Group: g, Phase: phase, Err: fmt.Errorf("panic: %v", r), Stack: debug.Stack()}
		}
	}()
	if err := align(g); err != nil {
		return &WorkerError{Group: g, Phase: phase, Err: err}
	}
	return nil
}
