package actor

import (
	"context"
	"sync"

	"github.com/lightningnetwork/lnd/fn/v2"
)

// futurePromise is the shared state backing a Promise/Future pair. Exactly one
// Complete call wins; everyone else observes the completed result.
type futurePromise[T any] struct {
	mu       sync.Mutex
	done     chan struct{}
	result   fn.Result[T]
	fulfilled bool
}

// NewPromise creates a new, uncompleted Promise. The returned Promise's
// Future can be awaited by any number of goroutines before or after
// completion.
func NewPromise[T any]() Promise[T] {
	return &futurePromise[T]{
		done: make(chan struct{}),
	}
}

// Complete implements the Promise interface.
func (p *futurePromise[T]) Complete(result fn.Result[T]) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.fulfilled {
		return false
	}

	p.result = result
	p.fulfilled = true
	close(p.done)

	return true
}

// Future implements the Promise interface.
func (p *futurePromise[T]) Future() Future[T] {
	return p
}

// Await implements the Future interface.
func (p *futurePromise[T]) Await(ctx context.Context) fn.Result[T] {
	select {
	case <-p.done:
		p.mu.Lock()
		defer p.mu.Unlock()

		return p.result

	case <-ctx.Done():
		return fn.Err[T](ctx.Err())
	}
}

// ThenApply implements the Future interface.
func (p *futurePromise[T]) ThenApply(ctx context.Context, f func(T) T) Future[T] {
	derived := NewPromise[T]()

	go func() {
		result := p.Await(ctx)

		mapped, err := result.Unpack()
		if err != nil {
			derived.Complete(fn.Err[T](err))
			return
		}

		derived.Complete(fn.Ok(f(mapped)))
	}()

	return derived.Future()
}

// OnComplete implements the Future interface.
func (p *futurePromise[T]) OnComplete(ctx context.Context, f func(fn.Result[T])) {
	go func() {
		f(p.Await(ctx))
	}()
}
