package actor

import (
	"context"

	"github.com/lightningnetwork/lnd/fn/v2"
)

// functionBehavior adapts a plain function into an ActorBehavior, so simple
// actors don't need to declare a named type just to satisfy the interface.
type functionBehavior[M Message, R any] struct {
	fn func(ctx context.Context, msg M) fn.Result[R]
}

// NewFunctionBehavior wraps a function as an ActorBehavior. This is the usual
// way to stand up a small actor (a router stage, the dead letter sink, a test
// double) without hand-rolling a struct.
func NewFunctionBehavior[M Message, R any](
	f func(ctx context.Context, msg M) fn.Result[R],
) ActorBehavior[M, R] {

	return &functionBehavior[M, R]{fn: f}
}

// Receive implements the ActorBehavior interface.
func (b *functionBehavior[M, R]) Receive(ctx context.Context, msg M) fn.Result[R] {
	return b.fn(ctx, msg)
}
