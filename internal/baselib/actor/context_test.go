package actor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stretchr/testify/require"
)

// newBoundContext wires an Actor and its Context together the same way
// Supervisor.spawn does for a standalone actor outside any group, returning
// both so tests can drive messages through the actor and inspect the
// Context's post-receive pipeline side effects.
func newBoundContext(t *testing.T, behavior func(ctx *Context[*testMsg, string]) ActorBehavior[*testMsg, string],
) (*Actor[*testMsg, string], *Context[*testMsg, string]) {

	book := NewAddressBook()
	addr := book.Reserve()

	var actorCtx *Context[*testMsg, string]
	actorInst := NewActor(ActorConfig[*testMsg, string]{
		ID: t.Name(),
		Behavior: NewFunctionBehavior(func(ctx context.Context, msg *testMsg) fn.Result[string] {
			return behavior(actorCtx).Receive(ctx, msg)
		}),
		MailboxSize: 4,
	})

	actorCtx, _ = NewContext(book, addr, NullAddress, actorInst, nil)

	return actorInst, actorCtx
}

func TestContextStatusProgressesThroughPipeline(t *testing.T) {
	t.Parallel()

	actorInst, actorCtx := newBoundContext(t, func(_ *Context[*testMsg, string]) ActorBehavior[*testMsg, string] {
		return NewFunctionBehavior(func(_ context.Context, _ *testMsg) fn.Result[string] {
			return fn.Ok("")
		})
	})

	require.Equal(t, StatusInitializing, actorCtx.Status())

	actorInst.Start()
	actorInst.TellRef().Tell(context.Background(), newTestMsg("hi"))

	require.Eventually(t, func() bool {
		return actorCtx.Status() == StatusNormal
	}, time.Second, time.Millisecond, "status never left Initializing")

	require.True(t, actorCtx.Close())
	require.Eventually(t, func() bool {
		return actorCtx.Status() == StatusTerminated
	}, time.Second, time.Millisecond, "status never reached Terminated")

	// A status that has already moved forward cannot be pushed back.
	actorInst.Stop()
}

func TestContextTraceIDInstalledFromDelivery(t *testing.T) {
	t.Parallel()

	seen := make(chan uint64, 1)

	actorInst, actorCtx := newBoundContext(t, func(ctx *Context[*testMsg, string]) ActorBehavior[*testMsg, string] {
		return NewFunctionBehavior(func(_ context.Context, _ *testMsg) fn.Result[string] {
			seen <- ctx.TraceID()
			return fn.Ok("")
		})
	})

	actorInst.Start()
	actorInst.TellRef().Tell(context.Background(), newTestMsg("hi"))

	select {
	case traceID := <-seen:
		require.NotZero(t, traceID)
		require.Equal(t, traceID, actorCtx.TraceID())
	case <-time.After(time.Second):
		t.Fatal("behavior never observed a trace id")
	}

	actorInst.Stop()
}

func TestContextHandlingSampleRecorded(t *testing.T) {
	t.Parallel()

	actorInst, actorCtx := newBoundContext(t, func(_ *Context[*testMsg, string]) ActorBehavior[*testMsg, string] {
		return NewFunctionBehavior(func(_ context.Context, _ *testMsg) fn.Result[string] {
			time.Sleep(5 * time.Millisecond)
			return fn.Ok("")
		})
	})

	actorInst.Start()
	actorInst.TellRef().Tell(context.Background(), newTestMsg("hi"))

	require.Eventually(t, func() bool {
		return actorCtx.LastHandlingSample().Duration > 0
	}, time.Second, time.Millisecond, "no handling sample was ever recorded")

	actorInst.Stop()
}

func TestContextRecvWithoutStart(t *testing.T) {
	t.Parallel()

	book := NewAddressBook()
	addr := book.Reserve()

	actorInst := NewActor(ActorConfig[*testMsg, string]{
		ID: t.Name(),
		Behavior: NewFunctionBehavior(func(_ context.Context, _ *testMsg) fn.Result[string] {
			return fn.Ok("")
		}),
		MailboxSize: 4,
	})

	actorCtx, _ := NewContext(book, addr, NullAddress, actorInst, nil)

	// Never call actorInst.Start(): drive the mailbox directly through
	// Context.Recv/TryRecv instead, exercising the pull-based path.
	_, ok := actorCtx.TryRecv()
	require.False(t, ok, "try_recv on an empty mailbox must report false")

	require.True(t, actorInst.TryDeliver(newTestMsg("hi"), 42))

	env, ok := actorCtx.TryRecv()
	require.True(t, ok)
	require.Equal(t, "hi", env.Message.content)
	require.Equal(t, uint64(42), env.TraceID)
	require.Equal(t, uint64(42), actorCtx.TraceID())
	require.Equal(t, StatusNormal, actorCtx.Status())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		require.True(t, actorInst.Deliver(context.Background(), newTestMsg("async"), 7))
	}()

	env, ok = actorCtx.Recv(context.Background())
	require.True(t, ok)
	require.Equal(t, "async", env.Message.content)
	wg.Wait()

	actorCtx.Close()
	_, ok = actorCtx.Recv(context.Background())
	require.False(t, ok, "recv on a closed, drained mailbox must report end")
	require.Equal(t, StatusTerminated, actorCtx.Status())
}

func TestContextRequestTerminateSignalsStatus(t *testing.T) {
	t.Parallel()

	book := NewAddressBook()
	target := book.Reserve()

	actorInst := NewActor(ActorConfig[*testMsg, string]{
		ID: t.Name(),
		Behavior: NewFunctionBehavior(func(_ context.Context, _ *testMsg) fn.Result[string] {
			return fn.Ok("")
		}),
		MailboxSize: 4,
	})

	targetCtx, _ := NewContext(book, target, NullAddress, actorInst, nil)
	actorInst.Start()

	require.True(t, targetCtx.RequestTerminate(target))

	require.Eventually(t, func() bool {
		return targetCtx.Status() == StatusTerminating
	}, time.Second, time.Millisecond, "terminate signal never reached the target's status")

	actorInst.Stop()
}
