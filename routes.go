package netscen

// routes.go holds the forwarding state of an addressed network, the one-shot
// route computation phase, and GlobalRouter, the default shortest-path route computer

import (
	"fmt"
	"math"
	"net/netip"
	"strings"

	"golang.org/x/exp/slices"
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/path"
	"gonum.org/v1/gonum/graph/simple"
)

// RouteEntry is one forwarding table entry
type RouteEntry struct {
	Dest      netip.Prefix
	NextHop   netip.Addr // invalid when Dest is directly connected
	Interface *Interface // egress interface
	Metric    int
}

// Direct reports whether the entry describes a directly connected prefix
func (re RouteEntry) Direct() bool {
	return !re.NextHop.IsValid()
}

// ForwardingTable is the per-node list of installed routes
type ForwardingTable struct {
	entries []RouteEntry
}

// Entries returns the routes in installation order
func (ft *ForwardingTable) Entries() []RouteEntry {
	return ft.entries
}

// Lookup does a longest-prefix match on addr.  Among equally long
// prefixes the lowest metric wins, then the earliest installed
func (ft *ForwardingTable) Lookup(addr netip.Addr) (RouteEntry, bool) {
	best := -1
	for idx, entry := range ft.entries {
		if !entry.Dest.Contains(addr) {
			continue
		}
		if best == -1 {
			best = idx
			continue
		}
		cur := ft.entries[best]
		if entry.Dest.Bits() > cur.Dest.Bits() ||
			(entry.Dest.Bits() == cur.Dest.Bits() && entry.Metric < cur.Metric) {
			best = idx
		}
	}
	if best == -1 {
		return RouteEntry{}, false
	}
	return ft.entries[best], true
}

// RouteComputer is the external route computation service.  It is called once,
// after every interface exists, and installs routes through InstallRoutes
type RouteComputer interface {
	ComputeGlobalRoutes(net *AddressedNet)
}

// InstallRoutes adds entries to the forwarding table of node.  Accepted only while
// RouteNetwork is running the route computer
func (an *AddressedNet) InstallRoutes(node *Node, entries []RouteEntry) error {
	if !an.routing {
		return fmt.Errorf("%w: routes for %s installed outside a route computation",
			ErrPhaseRepeated, node.Name)
	}
	fib, present := an.fibs[node]
	if !present {
		return fmt.Errorf("%w: node %s is not part of the network", ErrConfiguration, node.Name)
	}

	errs := []error{}
	for _, entry := range entries {
		if entry.Interface == nil || entry.Interface.Node != node {
			errs = append(errs, fmt.Errorf("%w: route to %s on %s uses an interface of another node",
				ErrConfiguration, entry.Dest, node.Name))
			continue
		}
		if !entry.Dest.IsValid() {
			errs = append(errs, fmt.Errorf("%w: route on %s has no destination", ErrConfiguration, node.Name))
			continue
		}
		entry.Dest = entry.Dest.Masked()
		fib.entries = append(fib.entries, entry)
	}
	return ReportErrs(errs)
}

// ForwardingTable returns the table of node, nil for a node not in the network
func (an *AddressedNet) ForwardingTable(node *Node) *ForwardingTable {
	return an.fibs[node]
}

// RoutedNet is the output of the third phase: forwarding tables are populated
type RoutedNet struct {
	*AddressedNet

	// set once ScheduleTraffic has consumed the net
	scheduled bool
}

// RouteNetwork hands the addressed network to the route computer, exactly once
func RouteNetwork(an *AddressedNet, rc RouteComputer) (*RoutedNet, error) {
	if an.routed {
		return nil, fmt.Errorf("%w: routes already computed", ErrPhaseRepeated)
	}
	if rc == nil {
		return nil, fmt.Errorf("%w: nil route computer", ErrConfiguration)
	}

	an.routed = true
	an.routing = true
	rc.ComputeGlobalRoutes(an)
	an.routing = false

	return &RoutedNet{AddressedNet: an}, nil
}

// maxTraceHops bounds Trace the way the initial TTL bounds forwarding
const maxTraceHops = 64

// Trace follows the forwarding tables from src toward dst and returns the nodes
// visited, src first and the owner of dst last
func (rn *RoutedNet) Trace(src *Node, dst netip.Addr) ([]*Node, error) {
	target, present := rn.InterfaceByAddr(dst)
	if !present {
		return nil, fmt.Errorf("%w: no interface holds %s", ErrSchedulingViolation, dst)
	}

	here := src
	visited := []*Node{src}
	for hops := 0; here != target.Node; hops++ {
		if hops == maxTraceHops {
			return visited, fmt.Errorf("%w: no loop-free route from %s to %s",
				ErrSchedulingViolation, src.Name, dst)
		}
		entry, found := rn.ForwardingTable(here).Lookup(dst)
		if !found {
			return visited, fmt.Errorf("%w: %s has no route to %s", ErrSchedulingViolation, here.Name, dst)
		}
		var next *Node
		if entry.Direct() {
			next = target.Node
		} else if nh, present := rn.InterfaceByAddr(entry.NextHop); present {
			next = nh.Node
		} else {
			return visited, fmt.Errorf("%w: next hop %s of %s is not in the network",
				ErrSchedulingViolation, entry.NextHop, here.Name)
		}
		if next.Role != Router && next != target.Node {
			return visited, fmt.Errorf("%w: route from %s to %s passes through host %s",
				ErrSchedulingViolation, src.Name, dst, next.Name)
		}
		visited = append(visited, next)
		here = next
	}
	return visited, nil
}

// ShowPath returns a string that lists the names of the nodes on a path
func ShowPath(nodes []*Node) string {
	names := make([]string, 0, len(nodes))
	for _, node := range nodes {
		names = append(names, node.Name)
	}
	return strings.Join(names, ",")
}

// The general approach of GlobalRouter is to convert the network into the data
// structures used by a graph package that has built-in path discovery algorithms.
// Weighting each edge by 1, a shortest path minimizes the number of hops, which is
// roughly what link-state routing like OSPF does.  Two nodes are adjacent when they
// share a link.  For every node and every prefix it is not attached to, the first
// hop of the shortest path toward the closest node attached to that prefix gives
// the next hop, and the link shared with that first hop gives the egress interface.

// GlobalRouter computes static shortest-path routes for the whole network at once
type GlobalRouter struct {
	// cachedSP saves the result of computing shortest-path trees.
	// The key is the node id of the tree root
	cachedSP map[int]path.Shortest
	gNodes   map[int]simple.Node
}

// NewGlobalRouter is a constructor
func NewGlobalRouter() *GlobalRouter {
	return &GlobalRouter{cachedSP: make(map[int]path.Shortest), gNodes: make(map[int]simple.Node)}
}

// ComputeGlobalRoutes installs a directly connected route for every interface and
// a shortest-path route for every other link prefix reachable from each node
func (gr *GlobalRouter) ComputeGlobalRoutes(an *AddressedNet) {
	topo := an.Topology()

	// trees cached for an earlier network are stale
	gr.cachedSP = make(map[int]path.Shortest)
	gr.gNodes = make(map[int]simple.Node)
	connGraph := gr.buildconnGraph(topo)

	for _, node := range topo.Nodes() {
		if len(node.Interfaces()) == 0 {
			continue
		}
		entries := []RouteEntry{}

		for _, intrfc := range node.Interfaces() {
			entries = append(entries, RouteEntry{Dest: intrfc.Addr.Masked(), Interface: intrfc})
		}

		spTree := gr.getSPTree(node.ID, connGraph)
		for _, link := range topo.Links() {
			if slices.Contains(node.Links(), link) {
				continue
			}
			entry, reachable := gr.routeToLink(an, node, link, spTree)
			if reachable {
				entries = append(entries, entry)
			}
		}

		// InstallRoutes only rejects malformed entries, which the router never builds
		if err := an.InstallRoutes(node, entries); err != nil {
			panic(err)
		}
	}
}

// routeToLink builds the route from node to the prefix of link, following the
// shortest path to the closest node attached to link
func (gr *GlobalRouter) routeToLink(an *AddressedNet, node *Node, link *Link,
	spTree path.Shortest) (RouteEntry, bool) {

	var bestSeq []int
	bestWeight := math.Inf(1)
	for _, attached := range link.Nodes() {
		nodeSeq, weight := spTree.To(int64(attached.ID))
		if len(nodeSeq) < 2 || weight >= bestWeight {
			continue
		}
		bestSeq = convertNodeSeq(nodeSeq)
		bestWeight = weight
	}
	if bestSeq == nil {
		return RouteEntry{}, false
	}

	nxt := an.Topology().Nodes()[bestSeq[1]]
	shared := linkBetween(node, nxt)
	if shared == nil {
		return RouteEntry{}, false
	}
	egress := an.InterfaceOn(node, shared)
	ingress := an.InterfaceOn(nxt, shared)

	return RouteEntry{
		Dest:      an.Block(link).Prefix,
		NextHop:   ingress.Addr.Addr(),
		Interface: egress,
		Metric:    int(bestWeight),
	}, true
}

// buildconnGraph returns a graph.Graph in which nodes sharing a link are joined by an edge of weight 1
func (gr *GlobalRouter) buildconnGraph(topo *Topology) graph.Graph {
	connGraph := simple.NewWeightedUndirectedGraph(0, math.Inf(1))
	for _, node := range topo.Nodes() {
		gNode := simple.Node(node.ID)
		gr.gNodes[node.ID] = gNode
		connGraph.AddNode(gNode)
	}

	for _, link := range topo.Links() {
		attached := link.Nodes()
		for i := 0; i < len(attached); i++ {
			for j := i + 1; j < len(attached); j++ {
				weightedEdge := simple.WeightedEdge{F: gr.gNodes[attached[i].ID], T: gr.gNodes[attached[j].ID], W: 1.0}
				connGraph.SetWeightedEdge(weightedEdge)
			}
		}
	}
	return connGraph
}

// getSPTree returns the shortest path tree rooted in 'from', computing and caching it if needed
func (gr *GlobalRouter) getSPTree(from int, connGraph graph.Graph) path.Shortest {
	spTree, present := gr.cachedSP[from]
	if present {
		return spTree
	}
	spTree = path.DijkstraFrom(gr.gNodes[from], connGraph)
	gr.cachedSP[from] = spTree
	return spTree
}

// convertNodeSeq extracts the node ids from a sequence of graph nodes
func convertNodeSeq(nsQ []graph.Node) []int {
	rtn := make([]int, 0, len(nsQ))
	for _, node := range nsQ {
		rtn = append(rtn, int(node.ID()))
	}
	return rtn
}

// linkBetween returns the first link of a that b is also attached to
func linkBetween(a, b *Node) *Link {
	for _, link := range a.Links() {
		if slices.Contains(b.Links(), link) {
			return link
		}
	}
	return nil
}
