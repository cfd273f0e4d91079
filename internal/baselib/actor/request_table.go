package actor

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/lightningnetwork/lnd/fn/v2"
)

// untypedToken is the type-erased half of a ResponseToken, carrying just
// enough to find the right slot in the right RequestTable without requiring
// the responder to know the requester's response type. ResponseToken[R]
// wraps this with the type information needed to box/unbox values safely.
type untypedToken struct {
	table     *RequestTable
	requestID uint64
	sender    Address
	forgotten *atomic.Bool
}

// ResponseToken is a single-use capability naming the requester's address,
// request id, and whether the request expects one (Any) or many (All)
// responses. Respond consumes it; a forgotten token silently discards the
// response (I2).
type ResponseToken[R any] struct {
	inner untypedToken
}

// Sender returns the address of the actor that issued the request this
// token answers.
func (t ResponseToken[R]) Sender() Address {
	return t.inner.sender
}

// RequestID returns the correlation id this token answers, unique per
// requesting actor and monotonically assigned.
func (t ResponseToken[R]) RequestID() uint64 {
	return t.inner.requestID
}

// IsForgotten reports whether the token has already been consumed, either
// by Respond or by being forgotten. Responding to a consumed token is a
// guaranteed no-op.
func (t ResponseToken[R]) IsForgotten() bool {
	return t.inner.forgotten.Load()
}

// Forget marks the token forgotten without responding. A later Respond call
// against it becomes a silent no-op. The slot records this recipient as
// ignored: for a single-response (Any) token this resolves the request
// immediately; for a fan-out (All) token it counts as one of the expected
// responses, so the rest of the fan-out is unaffected.
func (t ResponseToken[R]) Forget() {
	if t.inner.forgotten.CompareAndSwap(false, true) {
		t.inner.table.recordIgnored(t.inner.requestID)
	}
}

// requestSlot is the per-request bookkeeping a RequestTable tracks: either
// still collecting responses, or already resolved.
type requestSlot struct {
	mu        sync.Mutex
	multi     bool
	expected  int
	responses []fn.Result[any]
	done      chan struct{}
	closed    bool
}

// RequestTable is the per-actor correlation structure mapping request ids to
// pending response slots (spec's Request Table component). Request ids are
// unique per actor and monotonically assigned.
type RequestTable struct {
	mu     sync.Mutex
	nextID atomic.Uint64
	slots  map[uint64]*requestSlot
}

// NewRequestTable creates an empty RequestTable for one actor.
func NewRequestTable() *RequestTable {
	return &RequestTable{
		slots: make(map[uint64]*requestSlot),
	}
}

// NewRequest reserves a new slot and returns the token recipients use to
// answer it. expected is the number of distinct recipients the Demux
// produced at send time (I3); for a RequestAny it is ignored since the first
// response wins regardless of how many recipients could have answered.
func NewRequest[R any](table *RequestTable, sender Address, multi bool, expected int) ResponseToken[R] {
	id := table.nextID.Add(1)

	slot := &requestSlot{
		multi:    multi,
		expected: expected,
		done:     make(chan struct{}),
	}

	table.mu.Lock()
	table.slots[id] = slot
	table.mu.Unlock()

	return ResponseToken[R]{
		inner: untypedToken{
			table:     table,
			requestID: id,
			sender:    sender,
			forgotten: new(atomic.Bool),
		},
	}
}

// Clone produces an independently-consumable token against the same slot.
// This is what lets a RequestAll fan-out hand every recipient "the same"
// token while still enforcing single-use *per recipient*: each clone has
// its own forgotten flag, so one recipient responding or dropping its copy
// has no effect on whether another recipient's copy can still be used.
func (t ResponseToken[R]) Clone() ResponseToken[R] {
	return ResponseToken[R]{
		inner: untypedToken{
			table:     t.inner.table,
			requestID: t.inner.requestID,
			sender:    t.inner.sender,
			forgotten: new(atomic.Bool),
		},
	}
}

// WrapToken reconstructs a typed ResponseToken from the type-erased token
// carried on an Envelope's Kind. The recipient is expected to know R from
// the request message it was handed alongside the token.
func WrapToken[R any](u untypedToken) ResponseToken[R] {
	return ResponseToken[R]{inner: u}
}

// Untyped erases the token's response type, for stashing on an Envelope's
// Kind alongside a message whose static type does not carry R.
func (t ResponseToken[R]) Untyped() untypedToken {
	return t.inner
}

// ForgottenToken builds a token that resolves to Ignored immediately,
// without ever registering a slot. Used by request(...).forgotten(), which
// dispatches a message but declares upfront it will not wait for a reply.
func ForgottenToken[R any]() ResponseToken[R] {
	forgotten := new(atomic.Bool)
	forgotten.Store(true)

	return ResponseToken[R]{
		inner: untypedToken{forgotten: forgotten},
	}
}

// Respond consumes the token and deposits value into its slot. A forgotten
// token silently discards the response and never fails. For an Any-kind
// token the first response wins and completes the slot; later calls are
// silently ignored. For an All-kind token, the response is appended; the
// slot completes once expected responses have arrived.
func Respond[R any](token ResponseToken[R], value fn.Result[R]) {
	if !token.inner.forgotten.CompareAndSwap(false, true) {
		return
	}

	table := token.inner.table
	table.mu.Lock()
	slot, ok := table.slots[token.inner.requestID]
	table.mu.Unlock()
	if !ok {
		return
	}

	slot.mu.Lock()
	defer slot.mu.Unlock()

	if slot.closed {
		return
	}

	slot.responses = append(slot.responses, fn.Result[any](anyResult(value)))

	if !slot.multi || len(slot.responses) >= slot.expected {
		slot.closed = true
		close(slot.done)
	}
}

// anyResult boxes a typed fn.Result[R] into fn.Result[any] so it can live in
// the type-erased slot alongside responses from requests of other actors.
func anyResult[R any](r fn.Result[R]) fn.Result[any] {
	val, err := r.Unpack()
	if err != nil {
		return fn.Err[any](err)
	}

	return fn.Ok[any](val)
}

// Wait blocks until a request's slot resolves (every expected response has
// arrived, or ctx is cancelled) and returns the collected responses in
// completion order. If ctx is cancelled first, dropping the wait, every
// response of a fan-out request that had not yet arrived is reported as
// ignored, and a single-response request with no response yields an empty
// slice (RequestAny maps that to ErrRequestIgnored); this is the
// "dropping the operation propagates cancellation" rule from the
// concurrency model, since there is no built-in request timeout.
func Wait[R any](ctx context.Context, table *RequestTable, requestID uint64) []fn.Result[R] {
	table.mu.Lock()
	slot, ok := table.slots[requestID]
	table.mu.Unlock()
	if !ok {
		return nil
	}

	select {
	case <-slot.done:
	case <-ctx.Done():
	}

	table.mu.Lock()
	delete(table.slots, requestID)
	table.mu.Unlock()

	slot.mu.Lock()
	responses := slot.responses
	missing := 0
	if slot.multi && len(responses) < slot.expected {
		missing = slot.expected - len(responses)
	}
	slot.mu.Unlock()

	out := make([]fn.Result[R], 0, len(responses)+missing)
	for _, boxed := range responses {
		val, err := boxed.Unpack()
		if err != nil {
			out = append(out, fn.Err[R](err))
			continue
		}

		typed, _ := val.(R)
		out = append(out, fn.Ok(typed))
	}

	for i := 0; i < missing; i++ {
		out = append(out, fn.Err[R](ErrRequestIgnored))
	}

	return out
}

// recordIgnored records one recipient as having dropped its token without
// responding. For a single-response slot this resolves it immediately; for
// a fan-out slot it counts toward the expected response total like any
// other answer, just with an Ignored result.
func (table *RequestTable) recordIgnored(requestID uint64) {
	table.mu.Lock()
	slot, ok := table.slots[requestID]
	table.mu.Unlock()
	if !ok {
		return
	}

	slot.mu.Lock()
	defer slot.mu.Unlock()

	if slot.closed {
		return
	}

	slot.responses = append(slot.responses, fn.Err[any](ErrRequestIgnored))

	if !slot.multi || len(slot.responses) >= slot.expected {
		slot.closed = true
		close(slot.done)
	}
}
