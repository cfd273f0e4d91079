package netnode

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
)

// roleKind tags which handshake payload a connectionRole carries.
type roleKind int

const (
	roleUnknown roleKind = iota
	roleControl
	roleData
)

// connectionRole is the role a connection is opened (or accepted) with:
// Unknown (server side, not yet decided), Control, or Data, carrying the
// protocol payload offered for that role.
type connectionRole struct {
	kind    roleKind
	control SwitchToControl
	data    SwitchToData
}

func unknownRole() connectionRole                    { return connectionRole{kind: roleUnknown} }
func controlRole(msg SwitchToControl) connectionRole { return connectionRole{kind: roleControl, control: msg} }
func dataRole(msg SwitchToData) connectionRole       { return connectionRole{kind: roleData, data: msg} }

func (r connectionRole) String() string {
	switch r.kind {
	case roleControl:
		return "Control"
	case roleData:
		return "Data"
	default:
		return "Unknown"
	}
}

// event is the internal vocabulary Discovery's main loop drives on, the Go
// rendition of the reference implementation's attached streams.
type event interface{ isDiscoveryEvent() }

type connectionEstablishedEvent struct {
	role      connectionRole
	sock      *Socket
	transport fn.Option[Transport]
}

type connectionAcceptedEvent struct {
	role      connectionRole
	sock      *Socket
	transport fn.Option[Transport]
}

type connectionRejectedEvent struct{ err string }

type controlConnectionFailedEvent struct{ transport fn.Option[Transport] }

// dataConnectionFailedEvent reports that an established Data connection (a
// HandleConnection handed off earlier) has died and should be redialed with
// the same group pair.
type dataConnectionFailedEvent struct {
	localGroupNo  uint32
	remoteGroupNo uint32
	transport     Transport
}

func (connectionEstablishedEvent) isDiscoveryEvent()   {}
func (connectionAcceptedEvent) isDiscoveryEvent()      {}
func (connectionRejectedEvent) isDiscoveryEvent()      {}
func (controlConnectionFailedEvent) isDiscoveryEvent() {}
func (dataConnectionFailedEvent) isDiscoveryEvent()    {}

// GroupEndpoint names one side of a Data connection being handed off.
type GroupEndpoint struct {
	NodeNo    uint32
	GroupNo   uint32
	GroupName string
}

// DataConnectionHandler receives established Data connections. The actual
// byte-level connection ownership (framing, flow control, message
// forwarding) is outside this package's scope — an external collaborator,
// per the runtime's own out-of-scope list.
type DataConnectionHandler interface {
	HandleConnection(local, remote GroupEndpoint, transport fn.Option[Transport],
		sock *Socket, initialWindow int32)
}

// Discovery is the per-node controller: it listens on configured
// transports, dials configured peers, performs the role handshake,
// maintains control liveness, and spawns Data connections for overlapping
// group interests.
type Discovery struct {
	nodeMap     *NodeMap
	config      Config
	dataHandler DataConnectionHandler

	events chan event
	wg     sync.WaitGroup
}

// NewDiscovery builds a Discovery for this node. nodeMap.This must already
// be populated with this node's own identity and advertised groups.
func NewDiscovery(nodeMap *NodeMap, config Config, dataHandler DataConnectionHandler) *Discovery {
	return &Discovery{
		nodeMap:     nodeMap,
		config:      config,
		dataHandler: dataHandler,
		events:      make(chan event, 64),
	}
}

// ReportDataConnectionFailed lets an external Data connection owner notify
// Discovery that a connection it was handed has died, triggering the
// sleep-1s-then-redial policy.
func (d *Discovery) ReportDataConnectionFailed(ctx context.Context, localGroupNo, remoteGroupNo uint32, transport Transport) {
	d.emit(ctx, dataConnectionFailedEvent{
		localGroupNo:  localGroupNo,
		remoteGroupNo: remoteGroupNo,
		transport:     transport,
	})
}

func (d *Discovery) self() peerIdentity {
	return peerIdentity{
		NodeNo:       d.nodeMap.This.NodeNo,
		LaunchID:     d.nodeMap.This.LaunchID,
		Capabilities: d.config.capabilities(),
	}
}

func (d *Discovery) emit(ctx context.Context, ev event) {
	select {
	case d.events <- ev:
	case <-ctx.Done():
	}
}

// Run brings up every configured listener, dials every predefined peer,
// and then drives the event loop until ctx is cancelled.
func (d *Discovery) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := d.listen(ctx); err != nil {
		return err
	}

	d.discover(ctx)

	for {
		select {
		case <-ctx.Done():
			d.wg.Wait()
			return nil

		case ev := <-d.events:
			d.handleEvent(ctx, ev)
		}
	}
}

func (d *Discovery) listen(ctx context.Context) error {
	for _, transport := range d.config.Listen {
		l, err := listenTransport(ctx, transport, d.self())
		if err != nil {
			return fmt.Errorf("cannot listen %s: %w", transport, err)
		}

		log.InfoS(ctx, "listening for connections", "addr", transport)

		d.wg.Add(1)
		go d.acceptLoop(ctx, l)
	}

	return nil
}

func (d *Discovery) acceptLoop(ctx context.Context, l *listener) {
	defer d.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return

		case sock, ok := <-l.accepted:
			if !ok {
				return
			}

			if sock.Peer.NodeNo == d.nodeMap.This.NodeNo {
				log.DebugS(ctx, "connection to self ignored", "peer", sock.Info)
				sock.Close()
				continue
			}

			d.emit(ctx, connectionEstablishedEvent{
				role:      unknownRole(),
				sock:      sock,
				transport: fn.None[Transport](),
			})
		}
	}
}

func (d *Discovery) discover(ctx context.Context) {
	for _, transport := range d.config.Predefined {
		d.discoverOne(ctx, transport)
	}
}

func (d *Discovery) discoverOne(ctx context.Context, transport Transport) {
	role := controlRole(SwitchToControl{Groups: d.nodeMap.This.Groups})
	d.openConnection(ctx, transport, role)
}

// openConnection dials transport in a retry loop until it connects to a
// live, non-self peer, then emits ConnectionEstablished and returns. Each
// failed attempt backs off by the configured interval plus a per-node
// jitter derived from the launch id, so restarting nodes do not
// synchronize their retries.
func (d *Discovery) openConnection(ctx context.Context, transport Transport, role connectionRole) {
	shift := time.Duration(d.nodeMap.This.LaunchID%5000) * time.Millisecond
	self := d.self()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		for {
			log.DebugS(ctx, "connecting to peer", "addr", transport, "role", role.String())

			sock, err := dialTransport(ctx, transport, self)
			if err == nil {
				if sock.Peer.NodeNo != d.nodeMap.This.NodeNo {
					d.emit(ctx, connectionEstablishedEvent{
						role:      role,
						sock:      sock,
						transport: fn.Some(transport),
					})

					return
				}

				log.DebugS(ctx, "connection to self ignored", "peer", sock.Info)
				sock.Close()
			} else {
				log.InfoS(ctx, "cannot connect", "addr", transport, "error", err)
			}

			delay := d.config.AttemptInterval + shift

			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
		}
	}()
}

func (d *Discovery) handleEvent(ctx context.Context, ev event) {
	switch e := ev.(type) {
	case connectionEstablishedEvent:
		d.onConnectionEstablished(ctx, e)
	case connectionAcceptedEvent:
		d.onConnectionAccepted(ctx, e)
	case connectionRejectedEvent:
		// TODO: retries on rejection beyond the dial loop's own.
	case controlConnectionFailedEvent:
		d.onControlConnectionFailed(ctx, e)
	case dataConnectionFailedEvent:
		d.onDataConnectionFailed(ctx, e)
	}
}

func (d *Discovery) onConnectionEstablished(ctx context.Context, e connectionEstablishedEvent) {
	log.InfoS(ctx, "new connection established", "peer", e.sock.Info, "role", e.role.String())

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		role, err := acceptConnection(d.nodeMap, e.sock, e.role)
		if err != nil {
			log.WarnS(ctx, "new connection rejected", "peer", e.sock.Info, "error", err)
			e.sock.Close()
			d.emit(ctx, connectionRejectedEvent{err: err.Error()})

			return
		}

		d.emit(ctx, connectionAcceptedEvent{role: role, sock: e.sock, transport: e.transport})
	}()
}

// acceptConnection runs the bidirectional role handshake over an
// established socket, committing to Control or Data.
func acceptConnection(nodeMap *NodeMap, sock *Socket, role connectionRole) (connectionRole, error) {
	switch role.kind {
	case roleUnknown:
		frame, err := sock.readFrame()
		if err != nil {
			return connectionRole{}, fmt.Errorf("cannot receive a message: %w", err)
		}

		switch frame.Kind {
		case kindSwitchToControl:
			msg, err := frame.decodeSwitchToControl()
			if err != nil {
				return connectionRole{}, fmt.Errorf("decode switch_to_control: %w", err)
			}

			reply := SwitchToControl{Groups: nodeMap.This.Groups}
			if err := sock.writeFrame(kindSwitchToControl, reply); err != nil {
				return connectionRole{}, err
			}

			return controlRole(msg), nil

		case kindSwitchToData:
			msg, err := frame.decodeSwitchToData()
			if err != nil {
				return connectionRole{}, fmt.Errorf("decode switch_to_data: %w", err)
			}

			reply := SwitchToData{
				MyGroupNo:     msg.YourGroupNo,
				YourGroupNo:   msg.MyGroupNo,
				InitialWindow: InitialWindowSize,
			}
			if err := sock.writeFrame(kindSwitchToData, reply); err != nil {
				return connectionRole{}, err
			}

			return dataRole(msg), nil

		default:
			return connectionRole{}, fmt.Errorf(
				"unexpected message: %s, expected: switch_to_control or switch_to_data", frame.Kind)
		}

	case roleControl:
		if err := sock.writeFrame(kindSwitchToControl, role.control); err != nil {
			return connectionRole{}, err
		}

		frame, err := sock.readFrame()
		if err != nil {
			return connectionRole{}, err
		}

		if frame.Kind != kindSwitchToControl {
			return connectionRole{}, fmt.Errorf("unexpected message: %s, expected: switch_to_control", frame.Kind)
		}

		msg, err := frame.decodeSwitchToControl()
		if err != nil {
			return connectionRole{}, err
		}

		return controlRole(msg), nil

	default: // roleData
		if err := sock.writeFrame(kindSwitchToData, role.data); err != nil {
			return connectionRole{}, err
		}

		frame, err := sock.readFrame()
		if err != nil {
			return connectionRole{}, err
		}

		if frame.Kind != kindSwitchToData {
			return connectionRole{}, fmt.Errorf("unexpected message: %s, expected: switch_to_data", frame.Kind)
		}

		msg, err := frame.decodeSwitchToData()
		if err != nil {
			return connectionRole{}, err
		}

		return dataRole(msg), nil
	}
}

func (d *Discovery) onConnectionAccepted(ctx context.Context, e connectionAcceptedEvent) {
	log.InfoS(ctx, "new connection accepted", "peer", e.sock.Info, "role", e.role.String())

	switch e.role.kind {
	case roleControl:
		d.onControlAccepted(ctx, e)

	case roleData:
		d.onDataAccepted(ctx, e)

	default:
		// A server-side Unknown role never survives acceptConnection; it
		// always resolves to Control or Data or fails outright.
	}
}

func (d *Discovery) onControlAccepted(ctx context.Context, e connectionAcceptedEvent) {
	remote := e.role.control

	d.nodeMap.UpsertPeer(NodeInfo{
		NodeNo:   e.sock.Peer.NodeNo,
		LaunchID: e.sock.Peer.LaunchID,
		Groups:   remote.Groups,
	})

	d.controlMaintenance(ctx, e.sock, e.transport)

	// Only the initiator (client) knows the dial transport, and so only
	// the initiator opens the follow-on Data connections; the acceptor
	// waits for the peer to dial it.
	if !e.transport.IsSome() {
		return
	}

	transport := e.transport.UnwrapOr(Transport(""))
	thisGroups := d.nodeMap.This.Groups

	// Direct: each local group whose interests name a remote group yields
	// (local_no, remote_no) already in the order SwitchToData wants.
	pairs := InferConnections(thisGroups, remote.Groups)

	// Symmetric: each remote group whose interests name a local group
	// yields (remote_no, local_no) and must be inverted to match.
	pairs = append(pairs, invert(InferConnections(remote.Groups, thisGroups))...)

	for _, pair := range pairs {
		localGroupNo, remoteGroupNo := pair[0], pair[1]

		d.openConnection(ctx, transport, dataRole(SwitchToData{
			MyGroupNo:     localGroupNo,
			YourGroupNo:   remoteGroupNo,
			InitialWindow: InitialWindowSize,
		}))
	}
}

// invert swaps each pair's components; InferConnections(remote, this)
// yields (remote_group_no, local_group_no), but openConnection wants
// (local_group_no, remote_group_no) to build SwitchToData, matching the
// reference implementation's own re-pairing of its first inference call.
func invert(pairs [][2]uint32) [][2]uint32 {
	out := make([][2]uint32, len(pairs))
	for i, p := range pairs {
		out[i] = [2]uint32{p[1], p[0]}
	}

	return out
}

func (d *Discovery) onDataAccepted(ctx context.Context, e connectionAcceptedEvent) {
	remote := e.role.data

	localGroup, ok := d.nodeMap.This.GroupByNo(remote.YourGroupNo)
	if !ok {
		log.InfoS(ctx, "control and data connections contradict each other",
			"peer", e.sock.Info)
		e.sock.Close()

		return
	}

	peer, ok := d.nodeMap.Peer(e.sock.Peer.NodeNo)
	if !ok {
		log.InfoS(ctx, "control and data connections contradict each other",
			"peer", e.sock.Info)
		e.sock.Close()

		return
	}

	remoteGroup, ok := peer.GroupByNo(remote.MyGroupNo)
	if !ok {
		log.InfoS(ctx, "control and data connections contradict each other",
			"peer", e.sock.Info)
		e.sock.Close()

		return
	}

	if d.dataHandler == nil {
		e.sock.Close()
		return
	}

	local := GroupEndpoint{
		NodeNo:    d.nodeMap.This.NodeNo,
		GroupNo:   remote.YourGroupNo,
		GroupName: localGroup.Name,
	}
	remoteEndpoint := GroupEndpoint{
		NodeNo:    e.sock.Peer.NodeNo,
		GroupNo:   remote.MyGroupNo,
		GroupName: remoteGroup.Name,
	}

	d.dataHandler.HandleConnection(local, remoteEndpoint, e.transport, e.sock, remote.InitialWindow)
}

// controlMaintenance runs the ping/pong liveness loop on an accepted
// Control socket in its own goroutine, emitting ControlConnectionFailed
// once the loop's send or receive fails.
func (d *Discovery) controlMaintenance(ctx context.Context, sock *Socket, transport fn.Option[Transport]) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		err := runControlMaintenance(ctx, sock)

		log.InfoS(ctx, "control connection closed", "peer", sock.Info, "reason", err)
		sock.Close()

		d.emit(ctx, controlConnectionFailedEvent{transport: transport})
	}()
}

func runControlMaintenance(ctx context.Context, sock *Socket) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := sock.writeFrame(kindPing, Ping{Payload: 0}); err != nil {
			return err
		}

		frame, err := sock.readFrame()
		if err != nil {
			return err
		}
		if frame.Kind != kindPing {
			return fmt.Errorf("unexpected message: %s, expected: ping", frame.Kind)
		}

		if err := sock.writeFrame(kindPong, Pong{Payload: 0}); err != nil {
			return err
		}

		frame, err = sock.readFrame()
		if err != nil {
			return err
		}
		if frame.Kind != kindPong {
			return fmt.Errorf("unexpected message: %s, expected: pong", frame.Kind)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(10 * time.Second):
		}
	}
}

func (d *Discovery) onDataConnectionFailed(ctx context.Context, e dataConnectionFailedEvent) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(1 * time.Second):
	}

	d.openConnection(ctx, e.transport, dataRole(SwitchToData{
		MyGroupNo:     e.localGroupNo,
		YourGroupNo:   e.remoteGroupNo,
		InitialWindow: InitialWindowSize,
	}))
}

func (d *Discovery) onControlConnectionFailed(ctx context.Context, e controlConnectionFailedEvent) {
	if !e.transport.IsSome() {
		// We were the acceptor; we don't know where to redial. The peer,
		// as the original initiator, will redial us instead.
		return
	}

	transport := e.transport.UnwrapOr(Transport(""))

	select {
	case <-ctx.Done():
		return
	case <-time.After(5 * time.Second):
	}

	d.discoverOne(ctx, transport)
}
