package wifip2p

import (
	"context"
	"sync"
)

// Operation is a coordinator action that can run asynchronously.
type Operation func(ctx context.Context) error

// Future is the pending result of an Operation started with Go.
type Future struct {
	done chan struct{}
	once sync.Once
	err  error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) complete(err error) {
	f.once.Do(func() {
		f.err = err
		close(f.done)
	})
}

// Done is closed when the operation has finished.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Err blocks until the operation finishes and returns its error.
func (f *Future) Err() error {
	<-f.done
	return f.err
}

// Wait returns the operation error, or ctx.Err() if ctx ends first. The
// operation keeps running in the latter case.
func (f *Future) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
