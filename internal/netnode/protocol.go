package netnode

import (
	"encoding/json"
	"fmt"
	"time"
)

// Transport identifies a peer socket endpoint as a dial/listen address,
// e.g. "10.0.0.4:7000". The WebSocket scheme is added at the socket layer.
type Transport string

func (t Transport) String() string { return string(t) }

// CompressionAlgorithm names a peer capability negotiated at connect time.
type CompressionAlgorithm int

const (
	CompressionNone CompressionAlgorithm = iota
	CompressionLZ4
)

// Capabilities is the bitset exchanged during the transport-level
// handshake, before the first application envelope. LZ4 is the only
// defined flag; the effective set between two peers is the intersection.
type Capabilities uint8

const (
	CapLZ4 Capabilities = 1 << iota
)

func (c Capabilities) Has(flag Capabilities) bool { return c&flag != 0 }
func (c Capabilities) Intersect(other Capabilities) Capabilities { return c & other }

// Config is the discovery-relevant slice of node configuration: where to
// listen, which peers to dial unconditionally at startup, the base retry
// backoff, and the compression algorithm to advertise.
type Config struct {
	Listen          []Transport
	Predefined      []Transport
	AttemptInterval time.Duration
	Compression     CompressionAlgorithm
}

func (c Config) capabilities() Capabilities {
	var caps Capabilities
	if c.Compression == CompressionLZ4 {
		caps |= CapLZ4
	}

	return caps
}

// SwitchToControl is the handshake payload a node offers when it wants the
// Control role on a connection: the groups it advertises.
type SwitchToControl struct {
	Groups []GroupInfo `json:"groups"`
}

// SwitchToData is the handshake payload offered when a node wants the Data
// role on a connection, naming the local/remote group pair it is opening a
// data channel for and the initial flow-control window.
type SwitchToData struct {
	MyGroupNo     uint32 `json:"my_group_no"`
	YourGroupNo   uint32 `json:"your_group_no"`
	InitialWindow int32  `json:"initial_window"`
}

// InitialWindowSize is the flow window every new Data connection starts
// with.
const InitialWindowSize int32 = 100_000

// Ping and Pong are the control-connection liveness payloads.
type Ping struct {
	Payload uint64 `json:"payload"`
}

type Pong struct {
	Payload uint64 `json:"payload"`
}

// handshakeKind tags which of the four handshake payload types a
// wireFrame carries, since Go's JSON encoding has no native sum type.
type handshakeKind string

const (
	kindSwitchToControl handshakeKind = "switch_to_control"
	kindSwitchToData    handshakeKind = "switch_to_data"
	kindPing            handshakeKind = "ping"
	kindPong            handshakeKind = "pong"
)

// wireFrame is the envelope every handshake/liveness message travels in
// over the socket: a kind tag plus its JSON-encoded payload.
type wireFrame struct {
	Kind    handshakeKind   `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

func encodeFrame(kind handshakeKind, payload any) (wireFrame, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return wireFrame{}, fmt.Errorf("encode %s: %w", kind, err)
	}

	return wireFrame{Kind: kind, Payload: raw}, nil
}

func (f wireFrame) decodeSwitchToControl() (SwitchToControl, error) {
	var msg SwitchToControl
	err := json.Unmarshal(f.Payload, &msg)
	return msg, err
}

func (f wireFrame) decodeSwitchToData() (SwitchToData, error) {
	var msg SwitchToData
	err := json.Unmarshal(f.Payload, &msg)
	return msg, err
}

func (f wireFrame) decodePing() (Ping, error) {
	var msg Ping
	err := json.Unmarshal(f.Payload, &msg)
	return msg, err
}

func (f wireFrame) decodePong() (Pong, error) {
	var msg Pong
	err := json.Unmarshal(f.Payload, &msg)
	return msg, err
}
