package actor

import "fmt"

// SendError is returned by Send/SendTo when no live recipient accepted the
// message; it carries the message back so the caller can reuse or inspect
// it instead of losing it.
type SendError[M any] struct {
	Msg M
}

func (e *SendError[M]) Error() string {
	return "actor: send failed, no live recipient"
}

// TrySendError is the non-blocking counterpart of SendError, distinguishing
// a full mailbox (retry later) from a closed one (never will accept).
type TrySendError[M any] struct {
	Msg    M
	Closed bool
}

func (e *TrySendError[M]) Error() string {
	if e.Closed {
		return "actor: try-send failed, mailbox closed"
	}

	return "actor: try-send failed, mailbox full"
}

// TryRecvError is returned by a non-blocking receive.
type TryRecvError int

const (
	// TryRecvEmpty means the mailbox has no message ready right now.
	TryRecvEmpty TryRecvError = iota

	// TryRecvClosed means the mailbox is closed and fully drained.
	TryRecvClosed
)

func (e TryRecvError) Error() string {
	if e == TryRecvClosed {
		return "actor: mailbox closed"
	}

	return "actor: mailbox empty"
}

// ErrRequestIgnored reports that a request's token was forgotten or
// abandoned by the recipient rather than answered.
var ErrRequestIgnored = fmt.Errorf("actor: request ignored")

// RequestClosedError wraps a send failure encountered while dispatching a
// request, distinguishing it from ErrRequestIgnored (send succeeded, no
// answer came).
type RequestClosedError[M any] struct {
	Msg M
}

func (e *RequestClosedError[M]) Error() string {
	return "actor: request send failed, no live recipient"
}

// ConfigRejectedError is returned to a ValidateConfig/UpdateConfig caller
// when the supplied configuration failed to decode or validate.
type ConfigRejectedError struct {
	Reason string
}

func (e *ConfigRejectedError) Error() string {
	return "actor: config rejected: " + e.Reason
}
