package actor

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stretchr/testify/require"
)

// groupMsg is a cloneable test message so broadcast delivery can reach more
// than one recipient (a non-Cloneable payload degrades to a single copy).
type groupMsg struct {
	BaseMessage
	groupKey int
	content  string
}

func (m *groupMsg) MessageType() string { return "groupMsg" }
func (m *groupMsg) Clone() *groupMsg    { return &groupMsg{groupKey: m.groupKey, content: m.content} }

func keyedRouter() Router[*groupMsg, int] {
	return RouterFunc[*groupMsg, int](func(env *Envelope[*groupMsg]) Outcome[int] {
		if env.Message.content == "drop" {
			return Discard[int]()
		}
		if env.Message.groupKey == 0 {
			return Broadcast[int]()
		}
		return Unicast(env.Message.groupKey)
	})
}

func newTestSupervisor(t *testing.T, received chan *groupMsg) *Supervisor[int, *groupMsg, string, string] {
	book := NewAddressBook()
	groupAddr := book.Reserve()

	executor := func(ctx context.Context, actorCtx *Context[*groupMsg, string],
		cfg string, key int,
	) ActorBehavior[*groupMsg, string] {
		return NewFunctionBehavior(func(_ context.Context, msg *groupMsg) fn.Result[string] {
			received <- msg
			return fn.Ok(cfg)
		})
	}

	sup := NewSupervisor[int, *groupMsg, string, string](
		book, groupAddr, "test-group", keyedRouter(), executor,
		nil, &sync.WaitGroup{}, 4,
	)

	err := sup.UpdateConfig(func(raw []byte) (string, error) {
		return string(raw), nil
	}, []byte("active"))
	require.NoError(t, err)

	return sup
}

func TestSupervisorUnicastSpawnsOnDemand(t *testing.T) {
	t.Parallel()

	received := make(chan *groupMsg, 4)
	sup := newTestSupervisor(t, received)

	report := sup.Handle(Envelope[*groupMsg]{
		Message: &groupMsg{groupKey: 1, content: "hi"},
	})
	require.Equal(t, RouteDone, report.Kind)

	select {
	case msg := <-received:
		require.Equal(t, "hi", msg.content)
	case <-time.After(time.Second):
		t.Fatal("actor never received its message")
	}

	// A second envelope for the same key reuses the already-spawned actor.
	report = sup.Handle(Envelope[*groupMsg]{
		Message: &groupMsg{groupKey: 1, content: "again"},
	})
	require.Equal(t, RouteDone, report.Kind)
	<-received

	sup.mu.RLock()
	count := len(sup.objects)
	sup.mu.RUnlock()
	require.Equal(t, 1, count)
}

func TestSupervisorDiscard(t *testing.T) {
	t.Parallel()

	received := make(chan *groupMsg, 1)
	sup := newTestSupervisor(t, received)

	report := sup.Handle(Envelope[*groupMsg]{
		Message: &groupMsg{groupKey: 1, content: "drop"},
	})
	require.Equal(t, RouteDone, report.Kind)

	select {
	case <-received:
		t.Fatal("discarded envelope should never reach an actor")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSupervisorBroadcastReachesEveryKey(t *testing.T) {
	t.Parallel()

	received := make(chan *groupMsg, 8)
	sup := newTestSupervisor(t, received)

	// Spawn two distinct keys first.
	sup.Handle(Envelope[*groupMsg]{Message: &groupMsg{groupKey: 1, content: "seed"}})
	sup.Handle(Envelope[*groupMsg]{Message: &groupMsg{groupKey: 2, content: "seed"}})
	<-received
	<-received

	report := sup.Handle(Envelope[*groupMsg]{
		Message: &groupMsg{groupKey: 0, content: "all"},
	})
	require.Equal(t, RouteDone, report.Kind)

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case msg := <-received:
			seen[msg.content] = true
		case <-time.After(time.Second):
			t.Fatal("broadcast did not reach all recipients")
		}
	}
	require.True(t, seen["all"])
}

func TestSupervisorValidateConfigRejectsBadInput(t *testing.T) {
	t.Parallel()

	book := NewAddressBook()
	sup := NewSupervisor[int, *groupMsg, string, string](
		book, book.Reserve(), "validate-test", keyedRouter(),
		func(ctx context.Context, actorCtx *Context[*groupMsg, string],
			cfg string, key int,
		) ActorBehavior[*groupMsg, string] {
			return NewFunctionBehavior(func(_ context.Context, _ *groupMsg) fn.Result[string] {
				return fn.Ok("")
			})
		},
		nil, &sync.WaitGroup{}, 4,
	)

	decode := func(raw []byte) (string, error) {
		if len(raw) == 0 {
			return "", errEmptyConfig
		}
		return string(raw), nil
	}

	require.Error(t, sup.ValidateConfig(decode, nil))
	require.NoError(t, sup.ValidateConfig(decode, []byte("ok")))

	err := sup.UpdateConfig(decode, nil)
	var rejected *ConfigRejectedError
	require.ErrorAs(t, err, &rejected)
}

var errEmptyConfig = &ConfigRejectedError{Reason: "empty config"}

// TestSupervisorUpdateConfigBroadcastsToRunningActors checks spec.md §4.2's
// "on success, store under the config lock and broadcast the stamped
// envelope": an actor already running when UpdateConfig succeeds observes
// the new value through its own Context, not just actors spawned afterward.
func TestSupervisorUpdateConfigBroadcastsToRunningActors(t *testing.T) {
	t.Parallel()

	book := NewAddressBook()
	groupAddr := book.Reserve()

	var mu sync.Mutex
	var ctxs []*Context[*groupMsg, string]

	var observed atomic.Pointer[string]

	executor := func(_ context.Context, actorCtx *Context[*groupMsg, string],
		_ string, _ int,
	) ActorBehavior[*groupMsg, string] {
		mu.Lock()
		ctxs = append(ctxs, actorCtx)
		mu.Unlock()

		actorCtx.OnConfigUpdated(func(cfg any) {
			s := cfg.(string)
			observed.Store(&s)
		})

		return NewFunctionBehavior(func(_ context.Context, _ *groupMsg) fn.Result[string] {
			return fn.Ok("")
		})
	}

	sup := NewSupervisor[int, *groupMsg, string, string](
		book, groupAddr, "broadcast-config-test", keyedRouter(), executor,
		nil, &sync.WaitGroup{}, 4,
	)

	decode := func(raw []byte) (string, error) { return string(raw), nil }
	require.NoError(t, sup.UpdateConfig(decode, []byte("v1")))

	report := sup.Handle(Envelope[*groupMsg]{Message: &groupMsg{groupKey: 1, content: "seed"}})
	require.Equal(t, RouteDone, report.Kind)

	require.NoError(t, sup.UpdateConfig(decode, []byte("v2")))

	require.Eventually(t, func() bool {
		p := observed.Load()
		return p != nil && *p == "v2"
	}, time.Second, time.Millisecond, "actor never observed the config broadcast")

	mu.Lock()
	actorCtx := ctxs[0]
	mu.Unlock()
	require.Equal(t, "v2", actorCtx.Config())
}
