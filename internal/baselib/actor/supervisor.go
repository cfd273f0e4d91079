package actor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/lightningnetwork/lnd/fn/v2"
)

// RouteReportKind tags the shape of a Supervisor.Handle result.
type RouteReportKind int

const (
	// RouteDone means the envelope (or its duplicates) was fully
	// dispatched; no further action is needed from the caller.
	RouteDone RouteReportKind = iota

	// RouteClosed means no live recipient accepted the envelope; it is
	// returned so the caller can retry or surface a SendError.
	RouteClosed

	// RouteWait means exactly one recipient's mailbox was full; the
	// caller may await room and retry, or abandon the send.
	RouteWait

	// RouteWaitAll means a broadcast hit one or more full mailboxes; Any
	// reports whether at least one recipient accepted a copy.
	RouteWaitAll
)

// PendingSend names a recipient whose mailbox was full when a broadcast
// reached it, paired with the envelope duplicate meant for it.
type PendingSend[M Message] struct {
	Addr Address
	Env  Envelope[M]
}

// RouteReport is returned by Supervisor.Handle. Wait/WaitAll expose the
// mailbox's backpressure contract upward: the caller decides whether to
// await room, time out, or drop the pending sends.
type RouteReport[M Message] struct {
	Kind RouteReportKind

	// Closed carries the envelope that could not be delivered, valid
	// when Kind == RouteClosed.
	Closed Envelope[M]

	// Wait carries the one recipient/envelope pair stalled on a full
	// mailbox, valid when Kind == RouteWait.
	Wait PendingSend[M]

	// WaitAllAny reports whether at least one broadcast recipient
	// accepted its copy, valid when Kind == RouteWaitAll.
	WaitAllAny bool

	// WaitAllPending lists every recipient stalled on a full mailbox,
	// valid when Kind == RouteWaitAll.
	WaitAllPending []PendingSend[M]
}

// ConfigDecoder decodes a raw configuration blob into C, failing with a
// human-readable reason on malformed or invalid input.
type ConfigDecoder[C any] func(raw []byte) (C, error)

// Executor builds the behavior for a freshly spawned actor. It is handed the
// actor's own Context (already installed in the AddressBook) and the
// supervisor's last-known configuration.
type Executor[K comparable, M Message, R any, C any] func(
	ctx context.Context, actorCtx *Context[M, R], cfg C, key K,
) ActorBehavior[M, R]

// Supervisor owns a group: it stores actor instances keyed by router key,
// spawns them on first use, validates/updates configuration, and dispatches
// each received envelope according to its Router's Outcome.
type Supervisor[K comparable, M Message, R any, C any] struct {
	name      string
	book      *AddressBook
	groupAddr Address
	router    Router[M, K]
	executor  Executor[K, M, R, C]
	dlo       ActorRef[Message, any]
	wg        *sync.WaitGroup

	mailboxCapacity int

	mu      sync.RWMutex
	objects map[K]*actorObject[M, R]

	config atomic.Pointer[C]

	onActorFinished func(key K, err error, panicVal any)
}

// NewSupervisor creates a Supervisor for a group named name, using router to
// classify incoming envelopes and executor to build the behavior for each
// newly spawned key. No configuration is set yet; spawning panics (per the
// "config must be set before traffic" rule) until UpdateConfig has been
// called at least once.
func NewSupervisor[K comparable, M Message, R any, C any](
	book *AddressBook, groupAddr Address, name string,
	router Router[M, K], executor Executor[K, M, R, C],
	dlo ActorRef[Message, any], wg *sync.WaitGroup, mailboxCapacity int,
) *Supervisor[K, M, R, C] {

	if mailboxCapacity <= 0 {
		mailboxCapacity = 1
	}

	return &Supervisor[K, M, R, C]{
		name:            name,
		book:            book,
		groupAddr:       groupAddr,
		router:          router,
		executor:        executor,
		dlo:             dlo,
		wg:              wg,
		mailboxCapacity: mailboxCapacity,
		objects:         make(map[K]*actorObject[M, R]),
	}
}

// ValidateConfig decodes raw without installing it centrally, but — per
// spec.md §4.2's "on success, re-stamp the envelope with the decoded config
// and broadcast" — still broadcasts the decoded value to every actor
// currently running in the group, the same as UpdateConfig. It differs from
// UpdateConfig only in that it never stores cfg as the config future spawns
// will use. Decode failure surfaces a ConfigRejectedError naming the
// decoder's reason and broadcasts nothing.
func (s *Supervisor[K, M, R, C]) ValidateConfig(decode ConfigDecoder[C], raw []byte) error {
	cfg, err := decode(raw)
	if err != nil {
		return &ConfigRejectedError{Reason: err.Error()}
	}

	s.broadcastConfig(cfg)

	return nil
}

// UpdateConfig decodes raw and, on success, installs it as the config used
// for every future spawn and broadcasts it to every actor already running in
// the group (spec.md §4.2's "broadcast the stamped envelope"), so they
// observe the update without waiting to be respawned. Each actor's own
// Context surfaces the broadcast via Context.Config/OnConfigUpdated (see
// context.go's applyControl) the next time its control channel is drained —
// the Go-shaped equivalent of the spec's per-actor ConfigUpdated envelope,
// since Go's generic M can't carry that as a message variant the way the
// reference implementation's tagged union does.
func (s *Supervisor[K, M, R, C]) UpdateConfig(decode ConfigDecoder[C], raw []byte) error {
	cfg, err := decode(raw)
	if err != nil {
		return &ConfigRejectedError{Reason: err.Error()}
	}

	s.config.Store(&cfg)
	s.broadcastConfig(cfg)

	return nil
}

// broadcastConfig sends cfg as a control signal to every actor currently in
// the group, best-effort: an actor whose control channel is momentarily full
// or whose process loop has already exited simply misses this broadcast, the
// same way a dead mailbox silently drops a business-message broadcast.
func (s *Supervisor[K, M, R, C]) broadcastConfig(cfg C) {
	s.mu.RLock()
	objects := make([]*actorObject[M, R], 0, len(s.objects))
	for _, obj := range s.objects {
		objects = append(objects, obj)
	}
	s.mu.RUnlock()

	for _, obj := range objects {
		select {
		case obj.control <- controlSignal{config: cfg}:
		default:
			log.DebugS(context.Background(), "Dropped config broadcast, control channel full",
				"group", s.name)
		}
	}
}

// Handle classifies envelope through the Router and dispatches it.
func (s *Supervisor[K, M, R, C]) Handle(env Envelope[M]) RouteReport[M] {
	outcome := s.router.Route(&env)
	return s.doHandle(env, outcome)
}

func (s *Supervisor[K, M, R, C]) doHandle(env Envelope[M], outcome Outcome[K]) RouteReport[M] {
	switch outcome.Kind() {
	case OutcomeUnicast:
		return s.handleUnicast(env, outcome.Key())

	case OutcomeBroadcast:
		return s.handleBroadcast(env)

	default: // OutcomeDiscard
		return RouteReport[M]{Kind: RouteDone}
	}
}

func (s *Supervisor[K, M, R, C]) handleUnicast(env Envelope[M], key K) RouteReport[M] {
	obj := s.getOrSpawn(key)

	if obj.actor.TryDeliver(env.Message, env.TraceID) {
		return RouteReport[M]{Kind: RouteDone}
	}

	if obj.actor.mailbox.IsClosed() {
		return RouteReport[M]{Kind: RouteClosed, Closed: env}
	}

	return RouteReport[M]{
		Kind: RouteWait,
		Wait: PendingSend[M]{Addr: obj.addr, Env: env},
	}
}

func (s *Supervisor[K, M, R, C]) handleBroadcast(env Envelope[M]) RouteReport[M] {
	s.mu.RLock()
	objects := make([]*actorObject[M, R], 0, len(s.objects))
	for _, obj := range s.objects {
		objects = append(objects, obj)
	}
	s.mu.RUnlock()

	var (
		waiters []PendingSend[M]
		someone bool
	)

	for i, obj := range objects {
		var toSend Envelope[M]
		if i == 0 {
			toSend = env
		} else {
			dup, ok := env.Duplicate()
			if !ok {
				// The payload can't be cloned for the
				// remaining recipients; stop early (mirrors
				// "a requester has died" in the reference
				// implementation's broadcast loop).
				return RouteReport[M]{Kind: RouteDone}
			}
			toSend = dup
		}

		if obj.actor.TryDeliver(toSend.Message, toSend.TraceID) {
			someone = true
			continue
		}

		if obj.actor.mailbox.IsClosed() {
			continue
		}

		waiters = append(waiters, PendingSend[M]{Addr: obj.addr, Env: toSend})
	}

	if len(waiters) == 0 {
		if someone {
			return RouteReport[M]{Kind: RouteDone}
		}

		return RouteReport[M]{Kind: RouteClosed, Closed: env}
	}

	return RouteReport[M]{
		Kind:           RouteWaitAll,
		WaitAllAny:     someone,
		WaitAllPending: waiters,
	}
}

// getOrSpawn returns the actor for key, spawning it if this is the first
// time the key has been seen. The check-lock-check pattern ensures exactly
// one spawn per key wins even under concurrent first-use (I5).
func (s *Supervisor[K, M, R, C]) getOrSpawn(key K) *actorObject[M, R] {
	s.mu.RLock()
	obj, ok := s.objects[key]
	s.mu.RUnlock()
	if ok {
		return obj
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if obj, ok := s.objects[key]; ok {
		return obj
	}

	obj = s.spawn(key)
	s.objects[key] = obj

	return obj
}

// switchableBehavior lets Supervisor hand an Actor its real, panic-isolated
// behavior only after the actor's Context exists, breaking the circular
// dependency between "the actor must exist to build its Context" and "the
// behavior (built from that Context) must exist to build the actor".
type switchableBehavior[M Message, R any] struct {
	inner atomic.Pointer[ActorBehavior[M, R]]
}

func (s *switchableBehavior[M, R]) set(b ActorBehavior[M, R]) {
	s.inner.Store(&b)
}

func (s *switchableBehavior[M, R]) Receive(ctx context.Context, msg M) fn.Result[R] {
	b := *s.inner.Load()
	return b.Receive(ctx, msg)
}

func (s *Supervisor[K, M, R, C]) spawn(key K) *actorObject[M, R] {
	cfgPtr := s.config.Load()
	if cfgPtr == nil {
		panic("actor: supervisor spawn attempted before config was set")
	}
	cfg := *cfgPtr

	addr := s.book.Reserve()

	sw := &switchableBehavior[M, R]{}
	sw.set(NewFunctionBehavior(func(_ context.Context, _ M) fn.Result[R] {
		var zero R
		return fn.Ok(zero)
	}))

	actorInst := NewActor(ActorConfig[M, R]{
		ID:          fmt.Sprintf("%s.%v", s.name, key),
		Behavior:    sw,
		DLO:         s.dlo,
		MailboxSize: s.mailboxCapacity,
		Wg:          s.wg,
	})

	actorCtx, _ := NewContext(s.book, addr, s.groupAddr, actorInst, nil)

	real := s.executor(context.Background(), actorCtx, cfg, key)
	sw.set(s.panicIsolated(key, real))

	actorInst.Start()

	entry, _ := s.book.Get(addr)
	return entry.(*actorObject[M, R])
}

// panicIsolated wraps an actor's behavior so every invocation runs inside a
// catch-all boundary; panics are logged at error level and converted into an
// error result rather than crashing the process, matching the spec's panic
// isolation rule and the reference implementation's ActorResult::Panicked
// classification.
func (s *Supervisor[K, M, R, C]) panicIsolated(key K, inner ActorBehavior[M, R]) ActorBehavior[M, R] {
	return NewFunctionBehavior(func(ctx context.Context, msg M) (result fn.Result[R]) {
		defer func() {
			if r := recover(); r != nil {
				errStr := payloadToString(r)
				log.ErrorS(ctx, "actor panicked",
					"group", s.name, "key", key, "reason", errStr)

				if s.onActorFinished != nil {
					s.onActorFinished(key, nil, r)
				}

				result = fn.Err[R](fmt.Errorf("actor panicked: %s", errStr))
			}
		}()

		return inner.Receive(ctx, msg)
	})
}

// payloadToString renders a recovered panic value as a best-effort string,
// mirroring the reference implementation's fallback for non-string,
// non-error panic payloads.
func payloadToString(payload any) string {
	switch v := payload.(type) {
	case string:
		return v
	case error:
		return v.Error()
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}
