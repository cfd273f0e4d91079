package netnode

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Time allowed to write a handshake/liveness frame to the peer, and the
// read deadline set before every frame read — mirrors the
// writeWait/pongWait pair the teacher's WebSocket client uses for its own
// browser-facing connections.
const (
	socketWriteWait = 10 * time.Second
	socketReadWait  = 60 * time.Second
)

// peerIdentity is exchanged at the transport level, before the first
// application (handshake) envelope, per the wire protocol's
// {node_no, launch_id, capabilities} exposure.
type peerIdentity struct {
	NodeNo       uint32       `json:"node_no"`
	LaunchID     uint64       `json:"launch_id"`
	Capabilities Capabilities `json:"capabilities"`
}

// Socket is an established, identity-exchanged connection to a peer,
// ready for the role handshake (SwitchToControl/SwitchToData).
type Socket struct {
	conn *websocket.Conn
	Peer peerIdentity
	Info string
}

func (s *Socket) writeFrame(kind handshakeKind, payload any) error {
	frame, err := encodeFrame(kind, payload)
	if err != nil {
		return err
	}

	s.conn.SetWriteDeadline(time.Now().Add(socketWriteWait))

	return s.conn.WriteJSON(frame)
}

func (s *Socket) readFrame() (wireFrame, error) {
	s.conn.SetReadDeadline(time.Now().Add(socketReadWait))

	var frame wireFrame
	err := s.conn.ReadJSON(&frame)

	return frame, err
}

func (s *Socket) Close() error {
	return s.conn.Close()
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// listener wraps an http.Server bound to one Transport, upgrading every
// accepted connection to a WebSocket, exchanging transport-level identity,
// and delivering the resulting Socket on accepted.
type listener struct {
	transport Transport
	ln        net.Listener
	srv       *http.Server
	accepted  chan *Socket
}

// listenTransport binds transport and begins accepting connections. Accepted
// sockets (after identity exchange) are delivered on the returned
// listener's accepted channel; the caller drains it until ctx is done.
func listenTransport(ctx context.Context, transport Transport, self peerIdentity) (*listener, error) {
	ln, err := net.Listen("tcp", string(transport))
	if err != nil {
		return nil, fmt.Errorf("cannot listen %s: %w", transport, err)
	}

	l := &listener{
		transport: transport,
		ln:        ln,
		accepted:  make(chan *Socket, 16),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		sock, err := serverIdentityExchange(conn, self)
		if err != nil {
			conn.Close()
			return
		}

		select {
		case l.accepted <- sock:
		case <-ctx.Done():
			conn.Close()
		}
	})

	l.srv = &http.Server{Handler: mux}

	go l.srv.Serve(ln)

	go func() {
		<-ctx.Done()
		l.srv.Close()
	}()

	return l, nil
}

func serverIdentityExchange(conn *websocket.Conn, self peerIdentity) (*Socket, error) {
	conn.SetReadDeadline(time.Now().Add(socketReadWait))

	var peer peerIdentity
	if err := conn.ReadJSON(&peer); err != nil {
		return nil, fmt.Errorf("read peer identity: %w", err)
	}

	conn.SetWriteDeadline(time.Now().Add(socketWriteWait))
	if err := conn.WriteJSON(self); err != nil {
		return nil, fmt.Errorf("write own identity: %w", err)
	}

	return &Socket{
		conn: conn,
		Peer: peer,
		Info: conn.RemoteAddr().String(),
	}, nil
}

// dialTransport connects to transport and performs the client side of the
// transport-level identity exchange.
func dialTransport(ctx context.Context, transport Transport, self peerIdentity) (*Socket, error) {
	url := "ws://" + string(transport) + "/"

	dialer := websocket.Dialer{HandshakeTimeout: socketWriteWait}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}

	conn.SetWriteDeadline(time.Now().Add(socketWriteWait))
	if err := conn.WriteJSON(self); err != nil {
		conn.Close()
		return nil, fmt.Errorf("write own identity: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(socketReadWait))

	var peer peerIdentity
	if err := conn.ReadJSON(&peer); err != nil {
		conn.Close()
		return nil, fmt.Errorf("read peer identity: %w", err)
	}

	return &Socket{
		conn: conn,
		Peer: peer,
		Info: conn.RemoteAddr().String(),
	}, nil
}
