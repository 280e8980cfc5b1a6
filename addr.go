package netscen

// addr.go hands out one address block per link and one host address per
// interface.  The allocator is an owned value with its own cursor; nothing
// here is package-level state

import (
	"fmt"
	"net"
	"net/netip"

	"go4.org/netipx"
)

// Defaults giving 192.168.1.0/24, 192.168.2.0/24, ... in link creation order
var (
	DefaultAddressPool = netip.MustParsePrefix("192.168.0.0/16")
	DefaultFirstBlock  = netip.MustParsePrefix("192.168.1.0/24")
)

// bounds on the block prefix length
const (
	minBlockBits = 8
	maxBlockBits = 30
)

// An AddressBlock is the prefix reserved for exactly one link
type AddressBlock struct {
	Prefix netip.Prefix

	// next is the next host address to hand out
	next netip.Addr
}

// Capacity returns the number of usable host addresses in the block
func (ab *AddressBlock) Capacity() int {
	return hostCapacity(ab.Prefix.Bits())
}

// Mask returns the dotted-quad subnet mask of the block
func (ab *AddressBlock) Mask() string {
	return net.IP(net.CIDRMask(ab.Prefix.Bits(), 32)).String()
}

// nextHost advances the host cursor.  The network and broadcast
// addresses are never handed out
func (ab *AddressBlock) nextHost() (netip.Addr, bool) {
	if !ab.next.IsValid() {
		ab.next = ab.Prefix.Addr().Next()
	}
	host := ab.next
	if !ab.Prefix.Contains(host) || host == netipx.PrefixLastIP(ab.Prefix) {
		return netip.Addr{}, false
	}
	ab.next = host.Next()
	return host, true
}

// hostCapacity is the count of addresses minus network and broadcast
func hostCapacity(bits int) int {
	return (1 << (32 - bits)) - 2
}

// AddressAllocator walks a pool of equally sized blocks with a monotonically
// advancing cursor.  A block once returned is never returned again
type AddressAllocator struct {
	pool      netip.Prefix
	blockBits int
	cursor    netip.Prefix // the next candidate block
	exhausted bool

	// used holds every block handed out plus excluded space
	used netipx.IPSetBuilder
}

// NewAddressAllocator is a constructor.  pool is the space blocks are taken
// from, first is the first block handed out (its length sets the block size)
func NewAddressAllocator(pool, first netip.Prefix) (*AddressAllocator, error) {
	if !pool.IsValid() || !first.IsValid() || !pool.Addr().Is4() || !first.Addr().Is4() {
		return nil, fmt.Errorf("%w: address pool and first block must be valid IPv4 prefixes",
			ErrConfiguration)
	}
	pool = pool.Masked()
	first = first.Masked()
	if first.Bits() < minBlockBits || first.Bits() > maxBlockBits {
		return nil, fmt.Errorf("%w: block length /%d outside /%d../%d",
			ErrConfiguration, first.Bits(), minBlockBits, maxBlockBits)
	}
	if first.Bits() < pool.Bits() || !pool.Contains(first.Addr()) {
		return nil, fmt.Errorf("%w: first block %s does not lie inside pool %s",
			ErrConfiguration, first, pool)
	}

	return &AddressAllocator{pool: pool, blockBits: first.Bits(), cursor: first}, nil
}

// DefaultAddressAllocator returns an allocator over DefaultAddressPool starting at DefaultFirstBlock
func DefaultAddressAllocator() *AddressAllocator {
	aa, err := NewAddressAllocator(DefaultAddressPool, DefaultFirstBlock)
	if err != nil {
		panic(err)
	}
	return aa
}

// HostCapacity returns the number of host addresses each block supports
func (aa *AddressAllocator) HostCapacity() int {
	return hostCapacity(aa.blockBits)
}

// Exclude keeps the allocator from handing out any block overlapping p
func (aa *AddressAllocator) Exclude(p netip.Prefix) {
	aa.used.AddPrefix(p.Masked())
}

// Next returns a fresh block, skipping blocks that overlap excluded space
func (aa *AddressAllocator) Next() (*AddressBlock, error) {
	used, err := aa.used.IPSet()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAddressSpaceExhausted, err)
	}

	for !aa.exhausted {
		candidate := aa.cursor
		aa.advance()

		if used.OverlapsPrefix(candidate) {
			continue
		}
		aa.used.AddPrefix(candidate)
		return &AddressBlock{Prefix: candidate}, nil
	}

	return nil, fmt.Errorf("%w: no /%d block left in %s", ErrAddressSpaceExhausted, aa.blockBits, aa.pool)
}

// advance moves the cursor to the block following it, marking the
// allocator exhausted when that block falls outside the pool
func (aa *AddressAllocator) advance() {
	following := netipx.PrefixLastIP(aa.cursor).Next()
	if !following.IsValid() || !aa.pool.Contains(following) {
		aa.exhausted = true
		return
	}
	aa.cursor = netip.PrefixFrom(following, aa.blockBits)
}

// An Interface binds one node to one link with an address.  Never mutated after creation
type Interface struct {
	Index int          // creation index across all interfaces
	Node  *Node        // owning node
	Link  *Link        // link the interface attaches to
	Addr  netip.Prefix // host address with the block's prefix length
	MAC   net.HardwareAddr
}

// Name returns a name unique among interfaces, e.g. r0@segment-a
func (intrfc *Interface) Name() string {
	return intrfc.Node.Name + "@" + intrfc.Link.Name
}

// macFromIndex builds sequential MAC-48 addresses 00:00:00:00:00:01, ...
func macFromIndex(idx int) net.HardwareAddr {
	v := uint64(idx + 1)
	return net.HardwareAddr{
		byte(v >> 40), byte(v >> 32), byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v),
	}
}

// AddressedNet is the output of the second phase: every attachment has an interface
type AddressedNet struct {
	topo    *Topology
	blocks  map[*Link]*AddressBlock
	intrfcs []*Interface
	byAddr  map[netip.Addr]*Interface

	// forwarding state, filled in by the route computer
	fibs    map[*Node]*ForwardingTable
	routing bool // a route computation is in progress
	routed  bool // RouteNetwork has consumed the net
}

// AssignAddresses gives each link a block, in link creation order, and each
// attached node an interface, in attachment order
func AssignAddresses(topo *Topology, aa *AddressAllocator) (*AddressedNet, error) {
	if topo.addressed {
		return nil, fmt.Errorf("%w: topology already addressed", ErrPhaseRepeated)
	}
	if aa == nil {
		return nil, fmt.Errorf("%w: nil address allocator", ErrConfiguration)
	}

	// check every link fits before touching any node
	for _, link := range topo.links {
		if len(link.nodes) > aa.HostCapacity() {
			return nil, fmt.Errorf("%w: link %s has %d attachments but a /%d block holds %d hosts",
				ErrAddressSpaceExhausted, link.Name, len(link.nodes), aa.blockBits, aa.HostCapacity())
		}
	}

	an := &AddressedNet{
		topo:   topo,
		blocks: make(map[*Link]*AddressBlock),
		byAddr: make(map[netip.Addr]*Interface),
		fibs:   make(map[*Node]*ForwardingTable),
	}

	// take every block before the first interface exists, so a failure
	// leaves the topology untouched
	for _, link := range topo.links {
		block, err := aa.Next()
		if err != nil {
			return nil, err
		}
		an.blocks[link] = block
	}

	for _, link := range topo.links {
		block := an.blocks[link]
		for _, node := range link.nodes {
			host, ok := block.nextHost()
			if !ok {
				return nil, fmt.Errorf("%w: block %s of link %s ran out of host addresses",
					ErrAddressSpaceExhausted, block.Prefix, link.Name)
			}
			intrfc := &Interface{
				Index: len(an.intrfcs),
				Node:  node,
				Link:  link,
				Addr:  netip.PrefixFrom(host, block.Prefix.Bits()),
				MAC:   macFromIndex(len(an.intrfcs)),
			}
			an.intrfcs = append(an.intrfcs, intrfc)
			an.byAddr[host] = intrfc
			node.intrfcs = append(node.intrfcs, intrfc)
		}
	}

	for _, node := range topo.nodes {
		an.fibs[node] = &ForwardingTable{}
	}

	topo.addressed = true
	return an, nil
}

// Topology returns the topology the addresses were assigned over
func (an *AddressedNet) Topology() *Topology { return an.topo }

// Interfaces returns every interface in creation order
func (an *AddressedNet) Interfaces() []*Interface { return an.intrfcs }

// Block returns the block assigned to the link
func (an *AddressedNet) Block(link *Link) *AddressBlock { return an.blocks[link] }

// InterfaceOn returns the interface of node on link, nil if the node is not attached
func (an *AddressedNet) InterfaceOn(node *Node, link *Link) *Interface {
	for _, intrfc := range node.intrfcs {
		if intrfc.Link == link {
			return intrfc
		}
	}
	return nil
}

// InterfaceByAddr returns the interface holding addr, if any
func (an *AddressedNet) InterfaceByAddr(addr netip.Addr) (*Interface, bool) {
	intrfc, present := an.byAddr[addr]
	return intrfc, present
}
