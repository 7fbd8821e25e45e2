// Package progress delivers progress updates from worker goroutines to a
// single consumption context.
package progress

import (
	"context"
	"sync"
)

// Executor runs posted functions on some execution context other than the
// caller's. Post must not block on the function running.
type Executor interface {
	Post(fn func())
}

// Loop is a serial executor: posted functions run one at a time, in post
// order, on the goroutine that calls Run. It plays the role of a UI main
// loop. The queue is unbounded so posting from a native callback never blocks.
type Loop struct {
	mu      sync.Mutex
	queue   []func()
	wake    chan struct{}
	closed  bool
	started bool
	stopped chan struct{}
}

// NewLoop returns a Loop that is not yet running.
func NewLoop() *Loop {
	return &Loop{wake: make(chan struct{}, 1), stopped: make(chan struct{})}
}

// StartLoop returns a Loop already running on its own goroutine.
func StartLoop() *Loop {
	l := NewLoop()
	l.started = true
	go l.Run(context.Background())
	return l
}

// Post enqueues fn. Posting after Close drops fn.
func (l *Loop) Post(fn func()) {
	if fn == nil {
		return
	}
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Run executes posted functions until ctx is done or Close is called, then
// drains whatever was queued before returning.
func (l *Loop) Run(ctx context.Context) {
	l.mu.Lock()
	l.started = true
	l.mu.Unlock()
	defer close(l.stopped)
	for {
		l.drain()
		l.mu.Lock()
		closed := l.closed
		l.mu.Unlock()
		if closed {
			l.drain()
			return
		}
		select {
		case <-l.wake:
		case <-ctx.Done():
			l.mu.Lock()
			l.closed = true
			l.mu.Unlock()
			l.drain()
			return
		}
	}
}

func (l *Loop) drain() {
	for {
		l.mu.Lock()
		if len(l.queue) == 0 {
			l.mu.Unlock()
			return
		}
		fn := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		l.mu.Unlock()
		fn()
	}
}

// Flush blocks until every function posted before the call has run, or ctx
// is done. Useful in tests and at shutdown.
func (l *Loop) Flush(ctx context.Context) error {
	done := make(chan struct{})
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.mu.Unlock()
	l.Post(func() { close(done) })
	select {
	case <-done:
		return nil
	case <-l.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the loop after the queued functions have run and waits for
// Run to return. Close on a loop that was never run does not block.
func (l *Loop) Close() {
	l.mu.Lock()
	l.closed = true
	started := l.started
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
	if started {
		<-l.stopped
	}
}
