package netscen

// topology.go creates the node and link sets of a scenario: two shared-medium
// segments whose gateway routers are joined through a transit router by a chain
// of point-to-point links

import (
	"fmt"
	"strconv"
	"time"
)

// MinRouters is the smallest router count for which the chain
// gateway-A <-> transit <-> gateway-B can be built
const MinRouters = 3

// DefaultMaxRouters bounds the node table when TopoParams.MaxRouters is zero.
// Routers beyond the three that carry roles are created but not wired,
// so the bound only limits memory
const DefaultMaxRouters = 1024

// MaxSegmentHosts bounds the hosts of one segment: the host capacity of the
// largest block an address allocator hands out
const MaxSegmentHosts = 1<<(32-minBlockBits) - 2

// NodeRole is the base type for an enumerated type of node roles
type NodeRole int

const (
	SegmentAHost NodeRole = iota
	SegmentBHost
	Router
)

// String returns the name used for the role in descriptions
func (nr NodeRole) String() string {
	switch nr {
	case SegmentAHost:
		return "SegmentAHost"
	case SegmentBHost:
		return "SegmentBHost"
	case Router:
		return "Router"
	}
	return "Unknown"
}

// namePrefix is the one-letter tag used in node names and NodeRefs
func (nr NodeRole) namePrefix() string {
	switch nr {
	case SegmentAHost:
		return "a"
	case SegmentBHost:
		return "b"
	default:
		return "r"
	}
}

// LinkKind is the base type for an enumerated type of link media
type LinkKind int

const (
	Segment LinkKind = iota
	PointToPoint
)

// String returns the name used for the link kind in descriptions
func (lk LinkKind) String() string {
	if lk == PointToPoint {
		return "PointToPoint"
	}
	return "Segment"
}

// LinkAttrs is the fixed data rate / delay pair carried by every link
type LinkAttrs struct {
	DataRate uint64        // bits per second
	Delay    time.Duration // propagation delay
}

// Defaults taken from the reference two-LAN scenario
var (
	DefaultSegmentAttrs = LinkAttrs{DataRate: 100_000_000, Delay: 6560 * time.Nanosecond}
	DefaultChainAttrs   = LinkAttrs{DataRate: 10_000_000, Delay: 2 * time.Millisecond}
)

// A Node is a host or router.  Its identity (ID, and Index within its role) is fixed
// at creation; only the interface list grows, and only during addressing
type Node struct {
	ID      int      // creation index across all nodes
	Name    string   // a<i>, b<i>, r<i>
	Role    NodeRole // what the node is
	Index   int      // position among nodes with the same role
	intrfcs []*Interface
	links   []*Link
}

// Interfaces returns the interfaces of the node in creation order
func (n *Node) Interfaces() []*Interface {
	return n.intrfcs
}

// Links returns the links the node is attached to, in attachment order
func (n *Node) Links() []*Link {
	return n.links
}

// A Link is either a shared segment or a point-to-point connection
type Link struct {
	ID    int
	Name  string
	Kind  LinkKind
	Attrs LinkAttrs
	nodes []*Node
}

// Nodes returns the attached nodes in attachment order
func (l *Link) Nodes() []*Node {
	return l.nodes
}

// attach adds a node to the link, remembering the link on the node too
func (l *Link) attach(n *Node) {
	l.nodes = append(l.nodes, n)
	n.links = append(n.links, l)
}

// TopoParams holds the size parameters of the scenario
type TopoParams struct {
	SegmentASize uint
	SegmentBSize uint
	RouterCount  uint

	// MaxRouters is the upper bound on RouterCount, DefaultMaxRouters when zero
	MaxRouters uint

	SegmentLink LinkAttrs
	ChainLink   LinkAttrs
}

// DefaultTopoParams returns the parameters of the reference scenario
func DefaultTopoParams() TopoParams {
	return TopoParams{
		SegmentASize: 2,
		SegmentBSize: 2,
		RouterCount:  3,
		SegmentLink:  DefaultSegmentAttrs,
		ChainLink:    DefaultChainAttrs,
	}
}

// maxRouters returns the effective router bound
func (tp TopoParams) maxRouters() uint {
	if tp.MaxRouters == 0 {
		return DefaultMaxRouters
	}
	return tp.MaxRouters
}

// RouterRoles says which router indices play the three roles of the chain
type RouterRoles struct {
	SegmentAGateway uint // joins segment A, first hop of the chain
	Transit         uint // middle of the chain, hosts the echo server by default
	SegmentBGateway uint // joins segment B, last hop of the chain
}

// DefaultRouterRoles returns the role assignment of the reference scenario
func DefaultRouterRoles() RouterRoles {
	return RouterRoles{SegmentAGateway: 0, Transit: 1, SegmentBGateway: 2}
}

// Validate checks the parameters and the role assignment together
func (tp TopoParams) Validate(roles RouterRoles) error {
	if tp.RouterCount < MinRouters {
		return fmt.Errorf("%w: router count %d is below the minimum of %d needed by the router chain",
			ErrConfiguration, tp.RouterCount, MinRouters)
	}
	if tp.RouterCount > tp.maxRouters() {
		return fmt.Errorf("%w: router count %d exceeds the limit of %d",
			ErrConfiguration, tp.RouterCount, tp.maxRouters())
	}

	errs := []error{}
	for _, seg := range []struct {
		name string
		size uint
	}{{"segment A", tp.SegmentASize}, {"segment B", tp.SegmentBSize}} {
		if seg.size > MaxSegmentHosts {
			errs = append(errs, fmt.Errorf("%w: %s size %d exceeds the limit of %d hosts",
				ErrConfiguration, seg.name, seg.size, MaxSegmentHosts))
		}
	}
	if len(errs) > 0 {
		return ReportErrs(errs)
	}
	for _, idx := range []uint{roles.SegmentAGateway, roles.Transit, roles.SegmentBGateway} {
		if idx >= tp.RouterCount {
			errs = append(errs, fmt.Errorf("%w: router role index %d out of range [0,%d)",
				ErrConfiguration, idx, tp.RouterCount))
		}
	}
	if roles.SegmentAGateway == roles.Transit || roles.Transit == roles.SegmentBGateway ||
		roles.SegmentAGateway == roles.SegmentBGateway {
		errs = append(errs, fmt.Errorf("%w: router roles must name three distinct routers, got %d/%d/%d",
			ErrConfiguration, roles.SegmentAGateway, roles.Transit, roles.SegmentBGateway))
	}
	for _, la := range []LinkAttrs{tp.SegmentLink, tp.ChainLink} {
		if la.DataRate == 0 || la.Delay < 0 {
			errs = append(errs, fmt.Errorf("%w: link data rate must be positive and delay non-negative",
				ErrConfiguration))
			break
		}
	}

	return ReportErrs(errs)
}

// Topology is the output of the first phase: all nodes and links, frozen
type Topology struct {
	params TopoParams
	roles  RouterRoles
	nodes  []*Node
	links  []*Link
	byRole map[NodeRole][]*Node
	byName map[string]*Node
	segA   *Link
	segB   *Link
	chain  []*Link

	// set once AssignAddresses has consumed the topology
	addressed bool
}

// BuildTopology creates the nodes and links the parameters describe.
// Nothing is created unless the parameters and roles validate
func BuildTopology(tp TopoParams, roles RouterRoles) (*Topology, error) {
	if err := tp.Validate(roles); err != nil {
		return nil, err
	}

	topo := &Topology{
		params: tp,
		roles:  roles,
		nodes:  make([]*Node, 0, tp.SegmentASize+tp.SegmentBSize+tp.RouterCount),
		links:  make([]*Link, 0, 4),
		byRole: make(map[NodeRole][]*Node),
		byName: make(map[string]*Node),
	}

	// nodes are created segment A first, then segment B, then routers,
	// so the creation index of every node is a function of the parameters only
	topo.createNodes(SegmentAHost, tp.SegmentASize)
	topo.createNodes(SegmentBHost, tp.SegmentBSize)
	topo.createNodes(Router, tp.RouterCount)

	rtrs := topo.byRole[Router]
	gwA := rtrs[roles.SegmentAGateway]
	transit := rtrs[roles.Transit]
	gwB := rtrs[roles.SegmentBGateway]

	// segment A holds every A host, then its gateway
	topo.segA = topo.createLink("segment-a", Segment, tp.SegmentLink)
	for _, host := range topo.byRole[SegmentAHost] {
		topo.segA.attach(host)
	}
	topo.segA.attach(gwA)

	topo.segB = topo.createLink("segment-b", Segment, tp.SegmentLink)
	for _, host := range topo.byRole[SegmentBHost] {
		topo.segB.attach(host)
	}
	topo.segB.attach(gwB)

	// the chain: gateway A -> transit -> gateway B
	hops := [][2]*Node{{gwA, transit}, {transit, gwB}}
	for _, hop := range hops {
		name := fmt.Sprintf("p2p-%s-%s", hop[0].Name, hop[1].Name)
		p2p := topo.createLink(name, PointToPoint, tp.ChainLink)
		p2p.attach(hop[0])
		p2p.attach(hop[1])
		topo.chain = append(topo.chain, p2p)
	}

	return topo, nil
}

// createNodes appends count nodes of the given role
func (topo *Topology) createNodes(role NodeRole, count uint) {
	for idx := uint(0); idx < count; idx++ {
		node := &Node{
			ID:    len(topo.nodes),
			Name:  role.namePrefix() + strconv.FormatUint(uint64(idx), 10),
			Role:  role,
			Index: int(idx),
		}
		topo.nodes = append(topo.nodes, node)
		topo.byRole[role] = append(topo.byRole[role], node)
		topo.byName[node.Name] = node
	}
}

// createLink appends an empty link
func (topo *Topology) createLink(name string, kind LinkKind, attrs LinkAttrs) *Link {
	link := &Link{ID: len(topo.links), Name: name, Kind: kind, Attrs: attrs}
	topo.links = append(topo.links, link)
	return link
}

// Params returns the parameters the topology was built from
func (topo *Topology) Params() TopoParams { return topo.params }

// Roles returns the router role assignment
func (topo *Topology) Roles() RouterRoles { return topo.roles }

// Nodes returns every node in creation order
func (topo *Topology) Nodes() []*Node { return topo.nodes }

// Links returns every link in creation order
func (topo *Topology) Links() []*Link { return topo.links }

// Hosts returns the nodes of one role in creation order
func (topo *Topology) Hosts(role NodeRole) []*Node { return topo.byRole[role] }

// Routers returns all routers, including unwired ones
func (topo *Topology) Routers() []*Node { return topo.byRole[Router] }

// SegmentA returns the shared link of segment A
func (topo *Topology) SegmentA() *Link { return topo.segA }

// SegmentB returns the shared link of segment B
func (topo *Topology) SegmentB() *Link { return topo.segB }

// Chain returns the point-to-point links, from the segment A side to the segment B side
func (topo *Topology) Chain() []*Link { return topo.chain }

// Transit returns the router in the middle of the chain
func (topo *Topology) Transit() *Node { return topo.byRole[Router][topo.roles.Transit] }

// NodeByName returns the node with the given name, if any
func (topo *Topology) NodeByName(name string) (*Node, bool) {
	node, present := topo.byName[name]
	return node, present
}

// Lookup resolves a NodeRef against the topology
func (topo *Topology) Lookup(ref NodeRef) (*Node, error) {
	nodes := topo.byRole[ref.Role]
	if ref.Index < 0 || ref.Index >= len(nodes) {
		return nil, fmt.Errorf("%w: node %s does not exist", ErrConfiguration, ref)
	}
	return nodes[ref.Index], nil
}

// NodeRef names a node positionally, by role and index within the role
type NodeRef struct {
	Role  NodeRole
	Index int
}

// String gives the a<i>/b<i>/r<i> form also used for node names
func (ref NodeRef) String() string {
	return ref.Role.namePrefix() + strconv.Itoa(ref.Index)
}

// ParseNodeRef parses the a<i>/b<i>/r<i> form
func ParseNodeRef(s string) (NodeRef, error) {
	if len(s) < 2 {
		return NodeRef{}, fmt.Errorf("%w: bad node reference %q", ErrConfiguration, s)
	}
	var role NodeRole
	switch s[0] {
	case 'a', 'A':
		role = SegmentAHost
	case 'b', 'B':
		role = SegmentBHost
	case 'r', 'R':
		role = Router
	default:
		return NodeRef{}, fmt.Errorf("%w: bad node reference %q, expected a<i>, b<i> or r<i>", ErrConfiguration, s)
	}
	idx, err := strconv.Atoi(s[1:])
	if err != nil || idx < 0 {
		return NodeRef{}, fmt.Errorf("%w: bad node index in %q", ErrConfiguration, s)
	}
	return NodeRef{Role: role, Index: idx}, nil
}
