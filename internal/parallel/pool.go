// Package parallel runs batches of CPU work across a fixed set of
// goroutines.
package parallel

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
)

// Pool runs task batches on a fixed number of worker goroutines.
//
// Each worker has its own queue and steals from the others when its queue
// runs dry, so a batch with uneven task costs still finishes together.
//
// Pool is safe for concurrent use.
type Pool struct {
	workers int
	queues  []chan func()
	done    chan struct{}
	wg      sync.WaitGroup
	running atomic.Bool
}

// NewPool starts a pool with the given number of workers.
// Zero or negative means GOMAXPROCS.
func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	depth := max(workers*4, 8)

	p := &Pool{
		workers: workers,
		queues:  make([]chan func(), workers),
		done:    make(chan struct{}),
	}
	for i := range workers {
		p.queues[i] = make(chan func(), depth)
	}
	p.running.Store(true)

	p.wg.Add(workers)
	for i := range workers {
		go p.worker(i)
	}
	return p
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	own := p.queues[id]
	for {
		select {
		case <-p.done:
			p.drain(own)
			return
		case task := <-own:
			task()
			continue
		default:
		}

		if task := p.steal(id); task != nil {
			task()
			continue
		}
		select {
		case <-p.done:
			p.drain(own)
			return
		case task := <-own:
			task()
		}
	}
}

func (p *Pool) drain(q chan func()) {
	for {
		select {
		case task := <-q:
			task()
		default:
			return
		}
	}
}

// steal takes one queued task from another worker, or returns nil.
func (p *Pool) steal(id int) func() {
	for i := range p.workers {
		if i == id {
			continue
		}
		select {
		case task := <-p.queues[i]:
			return task
		default:
		}
	}
	return nil
}

// Run executes every task and waits for all of them.
//
// A panicking task does not bring down its worker: Run waits for the rest
// of the batch and returns the first panic as an error. After Close, Run
// executes the batch on the calling goroutine.
func (p *Pool) Run(tasks []func()) error {
	if len(tasks) == 0 {
		return nil
	}

	var (
		wg    sync.WaitGroup
		once  sync.Once
		first error
	)
	guard := func(task func()) {
		defer func() {
			if r := recover(); r != nil {
				once.Do(func() { first = fmt.Errorf("parallel: task panic: %v", r) })
			}
		}()
		task()
	}

	if !p.running.Load() {
		for _, task := range tasks {
			guard(task)
		}
		return first
	}

	wg.Add(len(tasks))
	for i, task := range tasks {
		wrapped := func() {
			defer wg.Done()
			guard(task)
		}
		select {
		case p.queues[i%p.workers] <- wrapped:
		case <-p.done:
			wrapped()
		}
	}
	wg.Wait()
	return first
}

// Close stops the workers after the queued tasks have run. It is safe to
// call more than once.
func (p *Pool) Close() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	close(p.done)
	p.wg.Wait()
}

// Workers returns the number of worker goroutines.
func (p *Pool) Workers() int {
	return p.workers
}

// Split cuts the range [0, n) into at most parts contiguous chunks of
// near-equal size and calls fn(lo, hi) for each from its own task.
func (p *Pool) Split(n uint64, parts int, fn func(lo, hi uint64)) error {
	if n == 0 {
		return nil
	}
	if parts <= 0 {
		parts = p.workers
	}
	if uint64(parts) > n {
		parts = int(n)
	}
	tasks := make([]func(), 0, parts)
	step := n / uint64(parts)
	rem := n % uint64(parts)
	var lo uint64
	for i := range parts {
		hi := lo + step
		if uint64(i) < rem {
			hi++
		}
		a, b := lo, hi
		tasks = append(tasks, func() { fn(a, b) })
		lo = hi
	}
	return p.Run(tasks)
}
