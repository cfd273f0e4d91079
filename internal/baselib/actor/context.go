package actor

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
)

// Status is the actor lifecycle state machine: Initializing -> Normal ->
// Terminating -> Terminated. Only forward transitions are permitted.
type Status int32

const (
	StatusInitializing Status = iota
	StatusNormal
	StatusTerminating
	StatusTerminated
)

// String implements fmt.Stringer.
func (s Status) String() string {
	switch s {
	case StatusInitializing:
		return "initializing"
	case StatusNormal:
		return "normal"
	case StatusTerminating:
		return "terminating"
	case StatusTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// AddrDemux maps an envelope to the set of local addresses that should
// receive it. It is orthogonal to Router: Router picks a key inside one
// supervisor's keyed pool, AddrDemux picks concrete recipient addresses for
// a plain Context.Send fan-out.
type AddrDemux[M Message] interface {
	Route(env *Envelope[M]) []Address
}

// AddrDemuxFunc adapts a plain function to the AddrDemux interface.
type AddrDemuxFunc[M Message] func(env *Envelope[M]) []Address

// Route implements the AddrDemux interface.
func (f AddrDemuxFunc[M]) Route(env *Envelope[M]) []Address {
	return f(env)
}

// controlSignal is a system-level event delivered to an actor's Context
// outside its ordinary, M-typed business mailbox: spec.md's Context
// description of "optional external event sources" alongside the mailbox.
// A Supervisor broadcasts one of these to every object in its group on a
// successful ValidateConfig/UpdateConfig (see Supervisor.broadcastConfig),
// and any holder of a Context can ask an actor to wind down with one.
//
// Go's generic M is fixed per actor and has no way to carry a shared
// UpdateConfig/Terminate message variant the way the reference
// implementation's tagged-union messages do, so these travel their own
// channel rather than through the mailbox; Context.applyControl is the
// Go-shaped equivalent of the spec's post-receive pipeline steps 2 and 3.
type controlSignal struct {
	// terminate requests the Terminating status transition (pipeline
	// step 3). The zero value (false, config nil) is never sent.
	terminate bool

	// config is the already-decoded configuration a supervisor is
	// broadcasting after a successful decode, or nil for a bare
	// terminate signal.
	config any
}

// actorObject is the AddressBookEntry installed for every actor reachable
// through a Context. It bundles what Context needs to deliver to it and to
// correlate requests issued by it: a delivery surface, its own request
// table, a status cursor shared with the actor's owning Context, the
// installed configuration, the ambient trace id of the envelope currently
// being handled, and the control-signal channel described above.
type actorObject[M Message, R any] struct {
	addr     Address
	actor    *Actor[M, R]
	reqTable *RequestTable
	status   atomic.Int32
	traceID  atomic.Uint64
	config   atomic.Pointer[any]
	control  chan controlSignal
}

// Address implements the AddressBookEntry interface.
func (o *actorObject[M, R]) Address() Address {
	return o.addr
}

// Context is the handle an actor body uses to interact with the rest of the
// system: send, send_to, try_send_to, request(...).resolve, respond, close,
// and status. It holds its own address, group, and a reference to the
// shared AddressBook, but carries no mailbox of its own — message delivery
// to the owning actor already happens via the Actor/Mailbox pair in actor.go
// and channel_mailbox.go; Context is the outward-facing half.
type Context[M Message, R any] struct {
	book   *AddressBook
	addr   Address
	group  Address
	object *actorObject[M, R]
	demux  AddrDemux[M]

	dumpObserver   atomic.Pointer[DumpObserver[M]]
	configObserver atomic.Pointer[func(any)]
	lastSample     atomic.Pointer[HandlingSample]
}

// controlBacklog is the control channel's buffer depth: deep enough that a
// supervisor broadcasting a config update to a busy group doesn't block on
// any one actor, shallow enough that a stuck actor can't accumulate an
// unbounded backlog of stale signals.
const controlBacklog = 8

// NewContext builds a Context for an actor that has already been installed
// in the AddressBook at addr. group is the address of the owning supervisor,
// or NullAddress for a standalone actor. demux may be nil; Send then always
// fails closed, which is appropriate for actors that only ever use SendTo.
//
// NewContext also binds actorInst's process loop to this Context's
// post-receive pipeline (see actor.go's bindContext/receivePipeline) and
// starts the goroutine that watches for control signals (Terminate,
// broadcast config updates) for as long as actorInst is alive.
func NewContext[M Message, R any](book *AddressBook, addr, group Address,
	actorInst *Actor[M, R], demux AddrDemux[M],
) (*Context[M, R], *RequestTable) {

	reqTable := NewRequestTable()
	object := &actorObject[M, R]{
		addr:     addr,
		actor:    actorInst,
		reqTable: reqTable,
		control:  make(chan controlSignal, controlBacklog),
	}

	book.Install(addr, object)

	ctx := &Context[M, R]{
		book:   book,
		addr:   addr,
		group:  group,
		object: object,
		demux:  demux,
	}

	actorInst.bindContext(ctx)
	go ctx.watchControl(actorInst.ctx)

	return ctx, reqTable
}

// watchControl drains control signals for as long as runCtx is alive,
// applying each one independently of the actor's own mailbox-consuming
// goroutine. Status transitions go through atomics (setStatus) and
// installed-config reads go through an atomic pointer, so this is safe to
// run concurrently with the process loop in actor.go without any extra
// synchronization.
func (c *Context[M, R]) watchControl(runCtx context.Context) {
	for {
		select {
		case sig, ok := <-c.object.control:
			if !ok {
				return
			}

			c.applyControl(sig)

		case <-runCtx.Done():
			return
		}
	}
}

// applyControl is the Go-shaped equivalent of the spec's post-receive
// pipeline steps 2 and 3 for signals that arrive off the business mailbox
// (see controlSignal's doc comment for why they travel this way).
func (c *Context[M, R]) applyControl(sig controlSignal) {
	if sig.terminate {
		c.setStatus(StatusTerminating)
		return
	}

	c.object.config.Store(&sig.config)

	if obs := c.configObserver.Load(); obs != nil {
		(*obs)(sig.config)
	}
}

// Addr returns this actor's own address.
func (c *Context[M, R]) Addr() Address { return c.addr }

// Group returns the address of the owning supervisor, or NullAddress.
func (c *Context[M, R]) Group() Address { return c.group }

// RequestTable returns the RequestTable this actor uses for requests it
// issues (as opposed to requests it answers, which carry their own token
// back to the requester's table).
func (c *Context[M, R]) RequestTable() *RequestTable { return c.object.reqTable }

// Status reports the actor's current lifecycle state.
func (c *Context[M, R]) Status() Status {
	return Status(c.object.status.Load())
}

// setStatus moves status forward to s; a call that would hold status still
// or move it backward is a no-op, so Initializing -> Normal -> Terminating
// -> Terminated is enforced regardless of call order. Called from
// applyControl, Recv and the process loop's end-of-input handling in
// actor.go (-> Terminating), and Close (-> Terminated);
// beginIfInitializing moves Initializing -> Normal with its own
// compare-and-swap.
func (c *Context[M, R]) setStatus(s Status) {
	for {
		cur := Status(c.object.status.Load())
		if cur >= s {
			return
		}

		if c.object.status.CompareAndSwap(int32(cur), int32(s)) {
			return
		}
	}
}

// beginIfInitializing performs recv/try_recv's "if status == Initializing,
// transition to Normal" step. A no-op once status has already moved past
// Initializing.
func (c *Context[M, R]) beginIfInitializing() {
	c.object.status.CompareAndSwap(int32(StatusInitializing), int32(StatusNormal))
}

// TraceID returns the ambient trace id installed by the most recently
// handled envelope (post-receive pipeline step 1), or 0 before the first
// envelope has been received.
func (c *Context[M, R]) TraceID() uint64 {
	return c.object.traceID.Load()
}

// Config returns the configuration a Supervisor most recently broadcast to
// this actor (see Supervisor.broadcastConfig), or nil if none has arrived
// yet. Callers know their own C and type-assert accordingly.
func (c *Context[M, R]) Config() any {
	if p := c.object.config.Load(); p != nil {
		return *p
	}

	return nil
}

// OnConfigUpdated registers a callback invoked whenever this actor observes
// a broadcast configuration update, standing in for the spec's synthesized
// ConfigUpdated envelope (post-receive pipeline step 2) in a codebase where
// M can't generically carry a shared system-message variant. A nil fn
// deregisters.
func (c *Context[M, R]) OnConfigUpdated(fn func(cfg any)) {
	if fn == nil {
		c.configObserver.Store(nil)
		return
	}

	c.configObserver.Store(&fn)
}

// DumpObserver is the interface-only hook post-receive pipeline step 4
// ("observe dumping") calls into; spec.md treats the memory dumper itself
// as an external collaborator out of this package's scope.
type DumpObserver[M Message] interface {
	ObserveInbound(env Envelope[M])
}

// SetDumpObserver installs (or, with nil, removes) the dump observer this
// Context's pipeline notifies of every inbound envelope.
func (c *Context[M, R]) SetDumpObserver(obs DumpObserver[M]) {
	if obs == nil {
		c.dumpObserver.Store(nil)
		return
	}

	c.dumpObserver.Store(&obs)
}

// HandlingSample is the post-receive pipeline's step 5 output: how long the
// actor spent acting on one envelope. Shipping it anywhere (a metrics
// exporter) is out of this package's scope per spec.md; this is the sample
// itself.
type HandlingSample struct {
	TraceID  uint64
	Duration time.Duration
}

// LastHandlingSample returns the most recently recorded HandlingSample, or
// the zero value before any envelope has finished handling.
func (c *Context[M, R]) LastHandlingSample() HandlingSample {
	if p := c.lastSample.Load(); p != nil {
		return *p
	}

	return HandlingSample{}
}

// observeHandled records step 5 of the post-receive pipeline; actor.go's
// process loop calls this right after behavior.Receive returns for the
// envelope carrying traceID.
func (c *Context[M, R]) observeHandled(traceID uint64, start time.Time) {
	sample := HandlingSample{TraceID: traceID, Duration: time.Since(start)}
	c.lastSample.Store(&sample)
}

// runPipeline applies post-receive pipeline steps 1 and 4 to env: installs
// its trace id as the ambient one, then notifies the dump observer if one is
// set. Step 5 is observeHandled, called separately once behavior.Receive
// returns (the pipeline doesn't know handling time until the handler is
// done); steps 2 and 3 are applyControl's job, since UpdateConfig/Terminate
// arrive off the business mailbox (see controlSignal). Also performs recv's
// "if status == Initializing, transition to Normal" step, since every path
// that delivers an envelope to a Context-bound actor is spec's recv().
func (c *Context[M, R]) runPipeline(env envelope[M, R]) Envelope[M] {
	c.beginIfInitializing()
	c.object.traceID.Store(env.traceID)

	wrapped := Envelope[M]{Message: env.message, TraceID: env.traceID}

	if obs := c.dumpObserver.Load(); obs != nil {
		(*obs).ObserveInbound(wrapped)
	}

	return wrapped
}

// Recv implements the spec's pull-based recv(): it blocks until the next
// envelope arrives on this actor's own mailbox or ctx is cancelled, running
// the post-receive pipeline over whatever it returns, and reports false on
// "end" (mailbox exhausted/closed), after which status is Terminating.
//
// Recv/TryRecv pull from the same single-consumer mailbox actor.go's
// process loop already drains once Start() runs (see the Mailbox interface's
// single-goroutine-consumer contract); call them only from a hand-rolled
// loop that does not also call Start(), not alongside it.
func (c *Context[M, R]) Recv(ctx context.Context) (Envelope[M], bool) {
	c.beginIfInitializing()

	for env := range c.object.actor.mailbox.Receive(ctx) {
		return c.runPipeline(env), true
	}

	c.setStatus(StatusTerminating)
	c.object.traceID.Store(GenerateTraceID())

	return Envelope[M]{}, false
}

// TryRecv is the non-blocking counterpart of Recv: it polls the mailbox
// once and never suspends, reporting false when nothing is ready.
func (c *Context[M, R]) TryRecv() (Envelope[M], bool) {
	c.beginIfInitializing()

	env, ok := c.object.actor.mailbox.TryReceive()
	if !ok {
		return Envelope[M]{}, false
	}

	return c.runPipeline(env), true
}

// Send classifies msg through the Context's AddrDemux and delivers it to
// every address produced. An empty result (or a nil demux) returns a
// SendError carrying the original message. No count of sent messages is
// kept.
func (c *Context[M, R]) Send(ctx context.Context, msg M) error {
	if c.demux == nil {
		return &SendError[M]{Msg: msg}
	}

	env := NewEnvelope(msg, RegularKind(c.addr))
	addrs := c.demux.Route(&env)

	return c.deliverFanout(ctx, addrs, env)
}

// SendTo bypasses the Demux and delivers directly to recipient, blocking if
// its mailbox is full. Returns SendError if the address is unknown or the
// recipient's mailbox is closed.
func (c *Context[M, R]) SendTo(ctx context.Context, recipient Address, msg M) error {
	if c.deliverOne(ctx, recipient, msg, GenerateTraceID()) {
		return nil
	}

	return &SendError[M]{Msg: msg}
}

// TrySendTo is the non-blocking counterpart of SendTo, distinguishing a full
// mailbox from an unknown/closed recipient.
func (c *Context[M, R]) TrySendTo(recipient Address, msg M) error {
	entry, ok := c.book.Get(recipient)
	if !ok {
		return &TrySendError[M]{Msg: msg, Closed: true}
	}

	obj, ok := entry.(*actorObject[M, R])
	if !ok {
		return &TrySendError[M]{Msg: msg, Closed: true}
	}

	if obj.actor.TryDeliver(msg, GenerateTraceID()) {
		return nil
	}

	if obj.actor.mailbox.IsClosed() {
		return &TrySendError[M]{Msg: msg, Closed: true}
	}

	return &TrySendError[M]{Msg: msg, Closed: false}
}

// deliverOne looks up recipient and delivers msg to it, blocking as needed.
func (c *Context[M, R]) deliverOne(ctx context.Context, recipient Address, msg M, traceID uint64) bool {
	entry, ok := c.book.Get(recipient)
	if !ok {
		return false
	}

	obj, ok := entry.(*actorObject[M, R])
	if !ok {
		return false
	}

	return obj.actor.Deliver(ctx, msg, traceID)
}

// deliverFanout implements the spec's multi-recipient send algorithm:
// duplicate the envelope per recipient, carry the unused duplicate forward
// on failure to avoid an extra clone, and report success if at least one
// delivery landed.
func (c *Context[M, R]) deliverFanout(ctx context.Context, addrs []Address, env Envelope[M]) error {
	if len(addrs) == 0 {
		return &SendError[M]{Msg: env.Message}
	}

	if len(addrs) == 1 {
		if c.deliverOne(ctx, addrs[0], env.Message, env.TraceID) {
			return nil
		}

		return &SendError[M]{Msg: env.Message}
	}

	var (
		pending  = env.Message
		havePending = true
		success  bool
	)

	for _, addr := range addrs {
		var toSend M
		if havePending {
			toSend = pending
			havePending = false
		} else {
			dup, ok := env.Duplicate()
			if !ok {
				break
			}
			toSend = dup.Message
		}

		if c.deliverOne(ctx, addr, toSend, env.TraceID) {
			success = true
		} else {
			pending = toSend
			havePending = true
		}
	}

	if success {
		return nil
	}

	return &SendError[M]{Msg: pending}
}

// RequestTerminate delivers a Terminate control signal to recipient (post-
// receive pipeline step 3): the recipient's own Context moves its status to
// Terminating the next time its control-signal watcher runs, without
// closing its mailbox or interrupting in-flight delivery (spec.md: "envelope
// still delivered"). It returns false if recipient is unknown or its control
// channel is currently full.
func (c *Context[M, R]) RequestTerminate(recipient Address) bool {
	entry, ok := c.book.Get(recipient)
	if !ok {
		return false
	}

	obj, ok := entry.(*actorObject[M, R])
	if !ok {
		return false
	}

	select {
	case obj.control <- controlSignal{terminate: true}:
		return true
	default:
		return false
	}
}

// Close closes the actor's own mailbox, idempotently. It returns true only
// on the transition from open to closed.
func (c *Context[M, R]) Close() bool {
	if c.object.actor.mailbox.IsClosed() {
		return false
	}

	c.object.actor.mailbox.Close()
	c.setStatus(StatusTerminated)

	return true
}

// Pruned produces a detached Context carrying only the AddressBook and
// address/group identity, for helpers that need to send but not own a
// request table or a mailbox of their own.
func (c *Context[M, R]) Pruned() *Context[M, R] {
	return &Context[M, R]{
		book:  c.book,
		addr:  c.addr,
		group: c.group,
	}
}

// Requestable is implemented by message types that carry a correlation
// token for a request/response exchange built on top of RequestAny/
// RequestAll. The responding actor extracts the token from the message it
// was handed and answers it with actor.Respond, independent of whatever its
// own ActorBehavior returns for ordinary Ask traffic.
type Requestable[Resp any] interface {
	Message

	// Token returns the correlation token this message carries.
	Token() ResponseToken[Resp]
}

// RequestAny dispatches build(token) to target and waits for the first
// response. An entirely absent response (the recipient forgot its token, or
// delivery failed) resolves to ErrRequestIgnored.
func RequestAny[Req Requestable[Resp], Resp any](ctx context.Context,
	reqTable *RequestTable, selfAddr Address, target TellOnlyRef[Req],
	build func(ResponseToken[Resp]) Req,
) fn.Result[Resp] {

	token := NewRequest[Resp](reqTable, selfAddr, false, 1)
	target.Tell(ctx, build(token))

	results := Wait[Resp](ctx, reqTable, token.RequestID())
	if len(results) == 0 {
		return fn.Err[Resp](ErrRequestIgnored)
	}

	return results[0]
}

// RequestAll dispatches build(token) to every target, sharing one token
// across all of them, and waits for a response from each. Entries in the
// returned slice are in completion order, not recipient order; a recipient
// that forgets its token yields ErrRequestIgnored in its slot.
func RequestAll[Req Requestable[Resp], Resp any](ctx context.Context,
	reqTable *RequestTable, selfAddr Address, targets []TellOnlyRef[Req],
	build func(ResponseToken[Resp]) Req,
) []fn.Result[Resp] {

	if len(targets) == 0 {
		return nil
	}

	token := NewRequest[Resp](reqTable, selfAddr, true, len(targets))

	// Every recipient gets its own clone of the token: same slot, but an
	// independent single-use guard, so one recipient responding (or
	// dropping its copy) cannot block another's response from landing.
	for _, target := range targets {
		target.Tell(ctx, build(token.Clone()))
	}

	return Wait[Resp](ctx, reqTable, token.RequestID())
}

// RequestForgotten dispatches build(token) to target but never waits for a
// response; it resolves immediately to ErrRequestIgnored after dispatch,
// matching request(...).forgotten().resolve() in the spec.
func RequestForgotten[Req Requestable[Resp], Resp any](ctx context.Context,
	target TellOnlyRef[Req], build func(ResponseToken[Resp]) Req,
) fn.Result[Resp] {

	token := ForgottenToken[Resp]()
	target.Tell(ctx, build(token))

	return fn.Err[Resp](ErrRequestIgnored)
}
