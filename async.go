package profilefs

import (
	"context"
	"fmt"
)

// Future is the pending result of an asynchronous operation.
type Future[T any] struct {
	done  chan struct{}
	value T
	err   error
}

// goAsync runs fn on a new goroutine, or inline when synchronous is set, and
// returns its future. A panic in fn resolves the future with an error.
func goAsync[T any](synchronous bool, fn func() (T, error)) *Future[T] {
	f := &Future[T]{done: make(chan struct{})}
	run := func() {
		defer close(f.done)
		defer func() {
			if r := recover(); r != nil {
				f.err = fmt.Errorf("panic in async operation: %v", r)
			}
		}()
		f.value, f.err = fn()
	}

	if synchronous {
		run()
	} else {
		go run()
	}
	return f
}

// goAsyncErr is goAsync for operations without a result value.
func goAsyncErr(synchronous bool, fn func() error) *Future[struct{}] {
	return goAsync(synchronous, func() (struct{}, error) {
		return struct{}{}, fn()
	})
}

// Done is closed once the operation has completed.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the operation completes or ctx is done. Cancelling ctx
// stops the wait, not the operation.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Result blocks until the operation completes.
func (f *Future[T]) Result() (T, error) {
	<-f.done
	return f.value, f.err
}
