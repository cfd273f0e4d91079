package netnode

import "github.com/btcsuite/btclog/v2"

// log is the package-wide logger for the node discovery subsystem. It
// defaults to a disabled logger so the package is silent until a caller
// wires in a real backend via UseLogger, matching the rest of this
// codebase's package-logger convention.
var log btclog.Logger = btclog.Disabled

// UseLogger sets the package-wide logger used by the discovery subsystem.
func UseLogger(logger btclog.Logger) {
	log = logger
}
