package actor

import (
	"crypto/rand"
	"encoding/binary"
)

// KindTag discriminates the three shapes an Envelope's Kind can take.
type KindTag int

const (
	// KindRegular is a one-way delivery; no response is expected.
	KindRegular KindTag = iota

	// KindRequestAny expects the first response to win; later ones are
	// discarded silently.
	KindRequestAny

	// KindRequestAll expects one response from every recipient the Demux
	// produced at send time.
	KindRequestAll
)

// Kind tags an Envelope with its delivery semantics. Exactly one of the
// token-bearing fields is meaningful, selected by Tag.
type Kind struct {
	Tag    KindTag
	Sender Address // meaningful for KindRegular
	Token  untypedToken
}

// RegularKind builds a one-way Kind stamped with the sender's address.
func RegularKind(sender Address) Kind {
	return Kind{Tag: KindRegular, Sender: sender}
}

// Cloneable is implemented by message payloads that support being duplicated
// for delivery to more than one recipient (Broadcast routing, or a regular
// send() that fans out to several addresses). Payloads that do not implement
// it cannot be delivered to more than one recipient; such a delivery attempt
// degrades to the first recipient only, per spec's note that non-cloneable
// payloads disable broadcast.
type Cloneable[M any] interface {
	Clone() M
}

// Envelope is the unit of dispatch: a typed message plus delivery Kind plus
// trace metadata (I1: every envelope delivered to an actor carries a trace
// id that becomes the ambient trace id for the handling step).
type Envelope[M Message] struct {
	Message M
	Kind    Kind
	TraceID uint64
}

// NewEnvelope wraps a message with the given kind and a freshly generated
// trace id.
func NewEnvelope[M Message](msg M, kind Kind) Envelope[M] {
	return Envelope[M]{
		Message: msg,
		Kind:    kind,
		TraceID: GenerateTraceID(),
	}
}

// Duplicate clones the envelope's payload for delivery to an additional
// recipient. It returns false when the payload does not implement Cloneable,
// matching the spec's rule that non-cloneable messages cannot be broadcast
// to more than one recipient.
func (e Envelope[M]) Duplicate() (Envelope[M], bool) {
	cloneable, ok := any(e.Message).(Cloneable[M])
	if !ok {
		return Envelope[M]{}, false
	}

	return Envelope[M]{
		Message: cloneable.Clone(),
		Kind:    e.Kind,
		TraceID: e.TraceID,
	}, true
}

// GenerateTraceID produces a fresh ambient trace id, used on every envelope
// (NewEnvelope, Context.SendTo/TrySendTo, ActorRef.Tell/Ask) and regenerated
// by Context.Recv when it observes mailbox end-of-input.
func GenerateTraceID() uint64 {
	var buf [8]byte
	// crypto/rand never fails on supported platforms; a zero trace id is
	// harmless (it only degrades observability, never correctness) so we
	// intentionally ignore the error here rather than panicking in a hot
	// path.
	_, _ = rand.Read(buf[:])

	return binary.LittleEndian.Uint64(buf[:])
}
