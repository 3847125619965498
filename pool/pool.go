// Package pool runs download jobs on a fixed number of workers.
//
// The worker set can be released when memory runs short. The next Submit
// builds a fresh one of the same size, so callers never see the difference.
package pool

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/golang/glog"
	"golang.org/x/sync/semaphore"
)

// DefaultSize is the number of jobs that may run at once
const DefaultSize = 10

// workers is one generation of the pool
type workers struct {
	slots *semaphore.Weighted
}

// Pool executes submitted jobs, at most Size at a time, in no particular order
type Pool struct {
	size int64

	mu   sync.Mutex
	live *workers

	wg          sync.WaitGroup
	submitted   atomic.Uint64
	generations atomic.Uint64
}

// New returns a pool of the given size. Sizes below 1 use DefaultSize.
func New(size int) *Pool {
	if size < 1 {
		size = DefaultSize
	}

	return &Pool{size: int64(size)}
}

// Size returns the number of concurrent workers
func (p *Pool) Size() int {
	return int(p.size)
}

// ensureLive returns the current worker set, creating one if there is none
func (p *Pool) ensureLive() *workers {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.live == nil {
		p.live = &workers{slots: semaphore.NewWeighted(p.size)}
		n := p.generations.Add(1)

		if glog.V(2) {
			glog.Infof("worker pool generation %d started with %d workers", n, p.size)
		}
	}

	return p.live
}

// Submit queues job and returns straight away
func (p *Pool) Submit(job func()) {
	w := p.ensureLive()

	p.submitted.Add(1)
	p.wg.Add(1)

	go func() {
		defer p.wg.Done()

		// Acquire only fails on a cancelled context
		_ = w.slots.Acquire(context.Background(), 1)
		defer w.slots.Release(1)

		run(job)
	}()
}

func run(job func()) {
	defer func() {
		if r := recover(); r != nil {
			glog.Errorf("download job panicked: %v\n%s", r, debug.Stack())
		}
	}()

	job()
}

// Release drops the current worker set. Jobs already submitted still run to
// completion.
func (p *Pool) Release() {
	p.mu.Lock()
	released := p.live != nil
	p.live = nil
	p.mu.Unlock()

	if released && bool(glog.V(2)) {
		glog.Info("worker pool released")
	}
}

// Live reports whether a worker set currently exists
func (p *Pool) Live() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.live != nil
}

// Submitted returns the number of jobs ever submitted
func (p *Pool) Submitted() uint64 {
	return p.submitted.Load()
}

// Generations returns how many worker sets have been created
func (p *Pool) Generations() uint64 {
	return p.generations.Load()
}

// Wait blocks until every submitted job has finished
func (p *Pool) Wait() {
	p.wg.Wait()
}
