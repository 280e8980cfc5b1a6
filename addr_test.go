package netscen

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func referenceTopology(t *testing.T) *Topology {
	t.Helper()
	topo, err := BuildTopology(DefaultTopoParams(), DefaultRouterRoles())
	require.NoError(t, err)
	return topo
}

func referenceAddressed(t *testing.T) *AddressedNet {
	t.Helper()
	an, err := AssignAddresses(referenceTopology(t), DefaultAddressAllocator())
	require.NoError(t, err)
	return an
}

func TestAllocatorSequence(t *testing.T) {
	aa := DefaultAddressAllocator()
	assert.Equal(t, 254, aa.HostCapacity())

	want := []string{"192.168.1.0/24", "192.168.2.0/24", "192.168.3.0/24"}
	for _, prefix := range want {
		block, err := aa.Next()
		require.NoError(t, err)
		assert.Equal(t, prefix, block.Prefix.String())
		assert.Equal(t, "255.255.255.0", block.Mask())
		assert.Equal(t, 254, block.Capacity())
	}
}

func TestAllocatorExclude(t *testing.T) {
	aa := DefaultAddressAllocator()
	aa.Exclude(netip.MustParsePrefix("192.168.2.128/25"))

	first, err := aa.Next()
	require.NoError(t, err)
	second, err := aa.Next()
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.0/24", first.Prefix.String())
	assert.Equal(t, "192.168.3.0/24", second.Prefix.String())
}

func TestAllocatorExhausted(t *testing.T) {
	aa, err := NewAddressAllocator(netip.MustParsePrefix("10.0.0.0/23"), netip.MustParsePrefix("10.0.0.0/24"))
	require.NoError(t, err)

	_, err = aa.Next()
	require.NoError(t, err)
	_, err = aa.Next()
	require.NoError(t, err)
	_, err = aa.Next()
	assert.ErrorIs(t, err, ErrAddressSpaceExhausted)

	// stays exhausted
	_, err = aa.Next()
	assert.ErrorIs(t, err, ErrAddressSpaceExhausted)
}

func TestNewAddressAllocatorRejects(t *testing.T) {
	tests := []struct {
		name        string
		pool, first string
	}{
		{"first outside pool", "10.0.0.0/16", "10.1.0.0/24"},
		{"first wider than pool", "10.0.0.0/24", "10.0.0.0/16"},
		{"block too small", "10.0.0.0/16", "10.0.0.0/31"},
		{"ipv6", "fd00::/48", "fd00::/64"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewAddressAllocator(netip.MustParsePrefix(tc.pool), netip.MustParsePrefix(tc.first))
			assert.ErrorIs(t, err, ErrConfiguration)
		})
	}
	_, err := NewAddressAllocator(netip.Prefix{}, DefaultFirstBlock)
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestAssignAddressesReference(t *testing.T) {
	an := referenceAddressed(t)
	topo := an.Topology()

	blocks := []string{}
	for _, link := range topo.Links() {
		blocks = append(blocks, an.Block(link).Prefix.String())
	}
	assert.Equal(t, []string{"192.168.1.0/24", "192.168.2.0/24", "192.168.3.0/24", "192.168.4.0/24"}, blocks)

	want := map[string]string{
		"a0@segment-a": "192.168.1.1/24",
		"a1@segment-a": "192.168.1.2/24",
		"r0@segment-a": "192.168.1.3/24",
		"b0@segment-b": "192.168.2.1/24",
		"b1@segment-b": "192.168.2.2/24",
		"r2@segment-b": "192.168.2.3/24",
		"r0@p2p-r0-r1": "192.168.3.1/24",
		"r1@p2p-r0-r1": "192.168.3.2/24",
		"r1@p2p-r1-r2": "192.168.4.1/24",
		"r2@p2p-r1-r2": "192.168.4.2/24",
	}
	got := map[string]string{}
	for idx, intrfc := range an.Interfaces() {
		assert.Equal(t, idx, intrfc.Index)
		got[intrfc.Name()] = intrfc.Addr.String()
	}
	assert.Equal(t, want, got)

	r1, _ := topo.NodeByName("r1")
	assert.Len(t, r1.Interfaces(), 2)
	a0, _ := topo.NodeByName("a0")
	assert.Len(t, a0.Interfaces(), 1)
	assert.Equal(t, "00:00:00:00:00:01", a0.Interfaces()[0].MAC.String())

	intrfc, present := an.InterfaceByAddr(netip.MustParseAddr("192.168.3.2"))
	require.True(t, present)
	assert.Same(t, r1, intrfc.Node)
	assert.Same(t, intrfc, an.InterfaceOn(r1, topo.Chain()[0]))
	assert.Nil(t, an.InterfaceOn(a0, topo.SegmentB()))
}

func TestAssignAddressesUniqueAndInBlock(t *testing.T) {
	tp := DefaultTopoParams()
	tp.SegmentASize = 20
	tp.SegmentBSize = 7
	topo, err := BuildTopology(tp, DefaultRouterRoles())
	require.NoError(t, err)
	an, err := AssignAddresses(topo, DefaultAddressAllocator())
	require.NoError(t, err)

	seen := map[netip.Addr]bool{}
	for _, intrfc := range an.Interfaces() {
		addr := intrfc.Addr.Addr()
		assert.False(t, seen[addr], addr.String())
		seen[addr] = true
		assert.True(t, an.Block(intrfc.Link).Prefix.Contains(addr))
	}
	assert.Len(t, seen, 20+1+7+1+4)
}

func TestAssignAddressesSegmentTooLarge(t *testing.T) {
	tp := DefaultTopoParams()
	tp.SegmentASize = 254 // plus the gateway
	topo, err := BuildTopology(tp, DefaultRouterRoles())
	require.NoError(t, err)

	an, err := AssignAddresses(topo, DefaultAddressAllocator())
	assert.ErrorIs(t, err, ErrAddressSpaceExhausted)
	assert.Nil(t, an)
	for _, node := range topo.Nodes() {
		assert.Empty(t, node.Interfaces())
	}
}

func TestAssignAddressesPoolTooSmall(t *testing.T) {
	aa, err := NewAddressAllocator(netip.MustParsePrefix("10.0.0.0/23"), netip.MustParsePrefix("10.0.0.0/24"))
	require.NoError(t, err)
	topo := referenceTopology(t)

	_, err = AssignAddresses(topo, aa)
	assert.ErrorIs(t, err, ErrAddressSpaceExhausted)
	for _, node := range topo.Nodes() {
		assert.Empty(t, node.Interfaces())
	}
}

func TestAssignAddressesOnce(t *testing.T) {
	topo := referenceTopology(t)
	_, err := AssignAddresses(topo, DefaultAddressAllocator())
	require.NoError(t, err)
	_, err = AssignAddresses(topo, DefaultAddressAllocator())
	assert.ErrorIs(t, err, ErrPhaseRepeated)
}
