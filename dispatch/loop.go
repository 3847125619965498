// Package dispatch moves work from download workers back onto the goroutine
// that owns the consumer's state.
package dispatch

import (
	"context"
	"runtime/debug"
	"sync"

	"github.com/golang/glog"
)

// Dispatcher accepts functions to be run on some other execution context
type Dispatcher interface {
	Post(fn func())
}

// Loop is a Dispatcher that runs posted functions one at a time, in the order
// they were posted, on whichever goroutine calls Run
type Loop struct {
	mu    sync.Mutex
	queue []func()
	wake  chan struct{}
}

// NewLoop returns an idle loop
func NewLoop() *Loop {
	return &Loop{wake: make(chan struct{}, 1)}
}

// Post queues fn. It never blocks.
func (l *Loop) Post(fn func()) {
	if fn == nil {
		return
	}

	l.mu.Lock()
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Len returns the number of functions waiting to run
func (l *Loop) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.queue)
}

// Run executes posted functions until ctx is done. Anything still queued when
// ctx ends stays queued for the next Run.
func (l *Loop) Run(ctx context.Context) error {
	for {
		for {
			if err := ctx.Err(); err != nil {
				return err
			}

			fn, ok := l.next()
			if !ok {
				break
			}
			call(fn)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wake:
		}
	}
}

func (l *Loop) next() (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.queue) == 0 {
		return nil, false
	}

	fn := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]

	return fn, true
}

func call(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			glog.Errorf("posted function panicked: %v\n%s", r, debug.Stack())
		}
	}()

	fn()
}
