package actor

import (
	"github.com/btcsuite/btclog/v2"
)

// log is the package-wide logger used by the actor runtime. It defaults to a
// disabled logger so the package is silent until a caller wires in a real
// backend via UseLogger.
var log btclog.Logger = btclog.Disabled

// UseLogger sets the package-wide logger used by the actor runtime. Callers
// wire this up once at process start, typically from cmd/ using the same
// handler set the rest of the binary logs through.
func UseLogger(logger btclog.Logger) {
	log = logger
}
