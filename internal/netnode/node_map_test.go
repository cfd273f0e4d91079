package netnode

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func groupWithInterests(no uint32, name string, interests ...string) GroupInfo {
	set := make(map[string]struct{}, len(interests))
	for _, i := range interests {
		set[i] = struct{}{}
	}

	return GroupInfo{GroupNo: no, Name: name, Interests: set}
}

func TestGroupInfoHasInterest(t *testing.T) {
	t.Parallel()

	g := groupWithInterests(1, "workers", "storage", "cache")

	require.True(t, g.HasInterest("storage"))
	require.True(t, g.HasInterest("cache"))
	require.False(t, g.HasInterest("metrics"))
}

func TestNodeInfoGroupByNo(t *testing.T) {
	t.Parallel()

	node := NodeInfo{
		NodeNo: 1,
		Groups: []GroupInfo{
			groupWithInterests(1, "workers"),
			groupWithInterests(2, "storage"),
		},
	}

	g, ok := node.GroupByNo(2)
	require.True(t, ok)
	require.Equal(t, "storage", g.Name)

	_, ok = node.GroupByNo(99)
	require.False(t, ok)
}

func TestNodeMapUpsertAndLookup(t *testing.T) {
	t.Parallel()

	m := NewNodeMap(NodeInfo{NodeNo: 1})

	_, ok := m.Peer(2)
	require.False(t, ok)

	peer := NodeInfo{NodeNo: 2, LaunchID: 42}
	m.UpsertPeer(peer)

	got, ok := m.Peer(2)
	require.True(t, ok)
	require.Equal(t, peer, got)

	// Upsert again with a new launch id refreshes the entry rather than
	// accumulating a second one.
	refreshed := NodeInfo{NodeNo: 2, LaunchID: 43}
	m.UpsertPeer(refreshed)

	got, ok = m.Peer(2)
	require.True(t, ok)
	require.Equal(t, uint64(43), got.LaunchID)
}

func TestInferConnections(t *testing.T) {
	t.Parallel()

	local := []GroupInfo{
		groupWithInterests(1, "local-a", "remote-x"),
		groupWithInterests(2, "local-b"),
	}
	remote := []GroupInfo{
		groupWithInterests(10, "remote-x", "local-a"),
		groupWithInterests(20, "remote-y"),
	}

	pairs := InferConnections(local, remote)
	require.Equal(t, [][2]uint32{{1, 10}}, pairs)

	// The symmetric direction is a separate call, not deduplicated
	// against the first.
	symmetric := InferConnections(remote, local)
	require.Equal(t, [][2]uint32{{10, 1}}, symmetric)
}

func TestInferConnectionsNoOverlap(t *testing.T) {
	t.Parallel()

	local := []GroupInfo{groupWithInterests(1, "a", "x")}
	remote := []GroupInfo{groupWithInterests(10, "b")}

	require.Empty(t, InferConnections(local, remote))
}
