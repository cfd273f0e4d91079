// Package netnode implements inter-node discovery: listening on configured
// transports, dialing configured peers, the control/data handshake, and
// control-connection liveness, per the distributed actor runtime's node
// layer.
package netnode

import "sync"

// GroupInfo names one local or remote actor group and the peer-group names
// it wants a Data connection with.
type GroupInfo struct {
	GroupNo   uint32
	Name      string
	Interests map[string]struct{}
}

// HasInterest reports whether this group wants a Data connection with a
// peer group named name.
func (g GroupInfo) HasInterest(name string) bool {
	_, ok := g.Interests[name]
	return ok
}

// NodeInfo identifies one node: a stable number, a per-process launch id
// used to detect restarts and stagger retry jitter, and the groups it
// advertises during the Control handshake.
type NodeInfo struct {
	NodeNo   uint32
	LaunchID uint64
	Groups   []GroupInfo
}

// GroupByNo returns the group with the given number, if present.
func (n NodeInfo) GroupByNo(no uint32) (GroupInfo, bool) {
	for _, g := range n.Groups {
		if g.GroupNo == no {
			return g, true
		}
	}

	return GroupInfo{}, false
}

// NodeMap tracks this process's own identity and every peer node learned
// about through a completed Control handshake.
type NodeMap struct {
	This NodeInfo

	mu    sync.Mutex
	peers map[uint32]NodeInfo
}

// NewNodeMap creates a NodeMap for this, the local node's own identity.
func NewNodeMap(this NodeInfo) *NodeMap {
	return &NodeMap{
		This:  this,
		peers: make(map[uint32]NodeInfo),
	}
}

// UpsertPeer records or refreshes a peer's NodeInfo, learned from a Control
// handshake.
func (m *NodeMap) UpsertPeer(info NodeInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.peers[info.NodeNo] = info
}

// Peer looks up a previously recorded peer by node number.
func (m *NodeMap) Peer(nodeNo uint32) (NodeInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	info, ok := m.peers[nodeNo]
	return info, ok
}

// InferConnections pairs every group in one whose interests contain a
// group's name in two, yielding (one's group_no, two's group_no). Callers
// chain this with the symmetric call (two, one) to get both directions; the
// two directions are not deduplicated against each other, matching the
// reference implementation's tolerance of duplicate dial attempts (the
// handshake itself rejects self-connections and the Control path is
// idempotent per peer).
func InferConnections(one, two []GroupInfo) [][2]uint32 {
	var pairs [][2]uint32

	for _, o := range one {
		for _, t := range two {
			if o.HasInterest(t.Name) {
				pairs = append(pairs, [2]uint32{o.GroupNo, t.GroupNo})
			}
		}
	}

	return pairs
}
