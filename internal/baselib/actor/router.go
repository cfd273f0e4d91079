package actor

import (
	"context"
	"sync/atomic"

	"github.com/lightningnetwork/lnd/fn/v2"
)

// RoutingStrategy picks one actor reference out of the set currently
// registered under a ServiceKey to handle a given message. Implementations
// must be safe for concurrent use, since a single virtual ref fans out to
// many callers.
type RoutingStrategy[M Message, R any] interface {
	// Select picks one of refs to receive msg. refs is never empty when
	// Select is called.
	Select(refs []ActorRef[M, R], msg M) ActorRef[M, R]
}

// roundRobinStrategy cycles through the available refs in turn.
type roundRobinStrategy[M Message, R any] struct {
	next atomic.Uint64
}

// NewRoundRobinStrategy returns a RoutingStrategy that distributes messages
// evenly across all actors registered under a service key, in rotation.
func NewRoundRobinStrategy[M Message, R any]() RoutingStrategy[M, R] {
	return &roundRobinStrategy[M, R]{}
}

// Select implements the RoutingStrategy interface.
func (s *roundRobinStrategy[M, R]) Select(refs []ActorRef[M, R], _ M) ActorRef[M, R] {
	idx := s.next.Add(1) - 1
	return refs[idx%uint64(len(refs))]
}

// routerRef is a virtual ActorRef that load-balances across every actor
// currently registered under a ServiceKey. It re-reads the receptionist on
// every call, so actors may join or leave the pool between messages.
type routerRef[M Message, R any] struct {
	id         string
	receptionist *Receptionist
	key        ServiceKey[M, R]
	strategy   RoutingStrategy[M, R]
	dlo        ActorRef[Message, any]
}

// NewRouter builds a virtual ActorRef that load-balances across the actors
// registered under key, using strategy to pick among them. When no actor is
// currently registered, Tell routes the message to the dead letter office
// and Ask completes with ErrActorTerminated.
func NewRouter[M Message, R any](r *Receptionist, key ServiceKey[M, R],
	strategy RoutingStrategy[M, R], dlo ActorRef[Message, any],
) ActorRef[M, R] {

	return &routerRef[M, R]{
		id:           "router:" + key.name,
		receptionist: r,
		key:          key,
		strategy:     strategy,
		dlo:          dlo,
	}
}

// ID implements the BaseActorRef interface.
func (rr *routerRef[M, R]) ID() string {
	return rr.id
}

// Tell implements the TellOnlyRef interface.
func (rr *routerRef[M, R]) Tell(ctx context.Context, msg M) {
	refs := FindInReceptionist(rr.receptionist, rr.key)
	if len(refs) == 0 {
		if rr.dlo != nil {
			rr.dlo.Tell(ctx, msg)
		}
		return
	}

	rr.strategy.Select(refs, msg).Tell(ctx, msg)
}

// Ask implements the ActorRef interface.
func (rr *routerRef[M, R]) Ask(ctx context.Context, msg M) Future[R] {
	refs := FindInReceptionist(rr.receptionist, rr.key)
	if len(refs) == 0 {
		promise := NewPromise[R]()
		promise.Complete(fn.Err[R](ErrActorTerminated))
		return promise.Future()
	}

	return rr.strategy.Select(refs, msg).Ask(ctx, msg)
}

// OutcomeKind tags the shape of a routing decision returned by a Router.
type OutcomeKind int

const (
	// OutcomeUnicast delivers to exactly one key, spawning it on demand.
	OutcomeUnicast OutcomeKind = iota

	// OutcomeBroadcast delivers to every currently running key.
	OutcomeBroadcast

	// OutcomeDiscard drops the envelope without delivering it anywhere.
	OutcomeDiscard
)

// Outcome is the result of routing an envelope: either a single key to
// unicast to, a broadcast to every running actor in the group, or a discard.
type Outcome[K comparable] struct {
	kind OutcomeKind
	key  K
}

// Unicast builds an Outcome that routes to the single given key.
func Unicast[K comparable](key K) Outcome[K] {
	return Outcome[K]{kind: OutcomeUnicast, key: key}
}

// Broadcast builds an Outcome that routes to every running actor in a group.
func Broadcast[K comparable]() Outcome[K] {
	return Outcome[K]{kind: OutcomeBroadcast}
}

// Discard builds an Outcome that drops the envelope silently.
func Discard[K comparable]() Outcome[K] {
	return Outcome[K]{kind: OutcomeDiscard}
}

// Kind reports which of Unicast/Broadcast/Discard this outcome represents.
func (o Outcome[K]) Kind() OutcomeKind {
	return o.kind
}

// Key returns the unicast key. It is only meaningful when Kind() ==
// OutcomeUnicast.
func (o Outcome[K]) Key() K {
	return o.key
}

// Router is a pure function from an envelope to a routing Outcome, used by a
// Supervisor to decide which key within its keyed actor pool (if any) should
// handle a message.
type Router[M Message, K comparable] interface {
	Route(env *Envelope[M]) Outcome[K]
}

// RouterFunc adapts a plain function to the Router interface.
type RouterFunc[M Message, K comparable] func(env *Envelope[M]) Outcome[K]

// Route implements the Router interface.
func (f RouterFunc[M, K]) Route(env *Envelope[M]) Outcome[K] {
	return f(env)
}
