package netscen

// traffic.go validates and installs the echo applications of a scenario.  Every
// check runs before any engine exists, so a bad window is a setup error and
// never a runtime surprise

import (
	"fmt"
	"net/netip"
	"time"
)

// Reference scenario constants
const (
	DefaultEchoPort   uint16 = 9
	DefaultMaxPackets uint32 = 100
	DefaultPacketSize uint32 = 1024

	// largest UDP payload that fits an IPv4 datagram
	maxPacketSize uint32 = 65507
)

// Reference scenario timing
const (
	DefaultStartMargin = 100 * time.Millisecond
	DefaultInterval    = 200 * time.Millisecond
)

// Default application windows
var (
	DefaultServerStart = 0 * time.Second
	DefaultServerStop  = 10 * time.Second
	DefaultClientStart = 1 * time.Second
	DefaultClientStop  = 10 * time.Second
)

// AppKind is the base type for an enumerated type of applications
type AppKind int

const (
	EchoServer AppKind = iota
	EchoClient
)

// String returns the name used for the kind in descriptions and metrics
func (ak AppKind) String() string {
	if ak == EchoClient {
		return "client"
	}
	return "server"
}

// ServerSpec describes the single echo server
type ServerSpec struct {
	Node   *Node
	Facing *Link // the server is reached at its interface on this link
	Port   uint16
	Start  time.Duration
	Stop   time.Duration
}

// ClientSpec describes one echo client.  Its target is always the server
type ClientSpec struct {
	Node       *Node
	Start      time.Duration
	Stop       time.Duration
	MaxPackets uint32
	Interval   time.Duration
	PacketSize uint32
}

// SendTimes returns the offsets at which the client sends: Start, Start+Interval, ...
// while before Stop and fewer than MaxPackets have gone out
func (cs ClientSpec) SendTimes() []time.Duration {
	times := []time.Duration{}
	if cs.Interval <= 0 {
		return times
	}
	for at := cs.Start; at < cs.Stop && uint32(len(times)) < cs.MaxPackets; at += cs.Interval {
		times = append(times, at)
	}
	return times
}

// TrafficPlan is everything ScheduleTraffic needs
type TrafficPlan struct {
	Server      ServerSpec
	Clients     []ClientSpec
	StartMargin time.Duration
}

// DefaultTrafficPlan puts the server on the transit router, reached over the
// segment A side of the chain, with the reference scenario windows and sizes
func DefaultTrafficPlan(rn *RoutedNet, clients []*Node) TrafficPlan {
	topo := rn.Topology()
	plan := TrafficPlan{
		Server: ServerSpec{
			Node:   topo.Transit(),
			Facing: topo.Chain()[0],
			Port:   DefaultEchoPort,
			Start:  DefaultServerStart,
			Stop:   DefaultServerStop,
		},
		StartMargin: DefaultStartMargin,
	}
	for _, node := range clients {
		plan.Clients = append(plan.Clients, ClientSpec{
			Node:       node,
			Start:      DefaultClientStart,
			Stop:       DefaultClientStop,
			MaxPackets: DefaultMaxPackets,
			Interval:   DefaultInterval,
			PacketSize: DefaultPacketSize,
		})
	}
	return plan
}

// DefaultClientRefs names the reference clients b0, b1, a1.  When a segment is too
// small to hold one of them, other hosts stand in, segment B first
func DefaultClientRefs(tp TopoParams) []NodeRef {
	exists := func(ref NodeRef) bool {
		switch ref.Role {
		case SegmentAHost:
			return ref.Index < int(tp.SegmentASize)
		case SegmentBHost:
			return ref.Index < int(tp.SegmentBSize)
		}
		return false
	}

	candidates := []NodeRef{{SegmentBHost, 0}, {SegmentBHost, 1}, {SegmentAHost, 1}}
	for idx := 0; idx < int(tp.SegmentBSize); idx++ {
		candidates = append(candidates, NodeRef{SegmentBHost, idx})
	}
	for idx := 0; idx < int(tp.SegmentASize); idx++ {
		candidates = append(candidates, NodeRef{SegmentAHost, idx})
	}

	want := 3
	refs := []NodeRef{}
	seen := make(map[NodeRef]bool)
	for _, ref := range candidates {
		if len(refs) == want {
			break
		}
		if seen[ref] || !exists(ref) {
			continue
		}
		seen[ref] = true
		refs = append(refs, ref)
	}
	return refs
}

// An Application is an installed echo server or client, frozen after ScheduleTraffic
type Application struct {
	ID         int // server is 0, clients follow in plan order
	Name       string
	Kind       AppKind
	Node       *Node
	Addr       netip.AddrPort // server: listening address; client: target
	Start      time.Duration
	Stop       time.Duration
	MaxPackets uint32
	Interval   time.Duration
	PacketSize uint32
}

// ScheduledNet is the output of the fourth phase: applications are installed
type ScheduledNet struct {
	*RoutedNet
	apps   []*Application
	margin time.Duration

	// set once ConfigureCapture has consumed the net
	captured bool
}

// Applications returns the server first, then the clients in plan order
func (sn *ScheduledNet) Applications() []*Application { return sn.apps }

// Server returns the echo server
func (sn *ScheduledNet) Server() *Application { return sn.apps[0] }

// Clients returns the echo clients
func (sn *ScheduledNet) Clients() []*Application { return sn.apps[1:] }

// StartMargin returns the margin the client windows were checked against
func (sn *ScheduledNet) StartMargin() time.Duration { return sn.margin }

// ScheduleTraffic checks the plan and installs one server and its clients
func ScheduleTraffic(rn *RoutedNet, plan TrafficPlan) (*ScheduledNet, error) {
	if rn.scheduled {
		return nil, fmt.Errorf("%w: traffic already scheduled", ErrPhaseRepeated)
	}
	target, err := checkPlanConfig(rn, plan)
	if err != nil {
		return nil, err
	}
	if err := checkPlanSchedule(rn, plan, target); err != nil {
		return nil, err
	}

	srv := plan.Server
	sn := &ScheduledNet{RoutedNet: rn, margin: plan.StartMargin}
	sn.apps = append(sn.apps, &Application{
		ID:    0,
		Name:  "server@" + srv.Node.Name,
		Kind:  EchoServer,
		Node:  srv.Node,
		Addr:  target,
		Start: srv.Start,
		Stop:  srv.Stop,
	})
	for idx, cs := range plan.Clients {
		sn.apps = append(sn.apps, &Application{
			ID:         idx + 1,
			Name:       "client@" + cs.Node.Name,
			Kind:       EchoClient,
			Node:       cs.Node,
			Addr:       target,
			Start:      cs.Start,
			Stop:       cs.Stop,
			MaxPackets: cs.MaxPackets,
			Interval:   cs.Interval,
			PacketSize: cs.PacketSize,
		})
	}

	rn.scheduled = true
	return sn, nil
}

// checkPlanConfig catches malformed plans and returns the server address clients will target
func checkPlanConfig(rn *RoutedNet, plan TrafficPlan) (netip.AddrPort, error) {
	srv := plan.Server
	topo := rn.Topology()
	if srv.Node == nil || topo.byName[srv.Node.Name] != srv.Node {
		return netip.AddrPort{}, fmt.Errorf("%w: echo server node is not part of the topology", ErrConfiguration)
	}
	if srv.Facing == nil {
		return netip.AddrPort{}, fmt.Errorf("%w: echo server has no facing link", ErrConfiguration)
	}
	intrfc := rn.InterfaceOn(srv.Node, srv.Facing)
	if intrfc == nil {
		return netip.AddrPort{}, fmt.Errorf("%w: echo server %s is not attached to %s",
			ErrConfiguration, srv.Node.Name, srv.Facing.Name)
	}
	if srv.Port == 0 {
		return netip.AddrPort{}, fmt.Errorf("%w: echo server port must be non-zero", ErrConfiguration)
	}
	if len(plan.Clients) == 0 {
		return netip.AddrPort{}, fmt.Errorf("%w: at least one echo client is needed", ErrConfiguration)
	}
	if plan.StartMargin < 0 {
		return netip.AddrPort{}, fmt.Errorf("%w: negative start margin", ErrConfiguration)
	}

	errs := []error{}
	for _, cs := range plan.Clients {
		if cs.Node == nil || topo.byName[cs.Node.Name] != cs.Node {
			errs = append(errs, fmt.Errorf("%w: echo client node is not part of the topology", ErrConfiguration))
			continue
		}
		if cs.Node == srv.Node {
			errs = append(errs, fmt.Errorf("%w: echo client on %s shares the server node",
				ErrConfiguration, cs.Node.Name))
		}
		if cs.MaxPackets == 0 {
			errs = append(errs, fmt.Errorf("%w: echo client on %s sends no packets", ErrConfiguration, cs.Node.Name))
		}
		if cs.Interval <= 0 {
			errs = append(errs, fmt.Errorf("%w: echo client on %s has non-positive interval %s",
				ErrConfiguration, cs.Node.Name, cs.Interval))
		}
		if cs.PacketSize == 0 || cs.PacketSize > maxPacketSize {
			errs = append(errs, fmt.Errorf("%w: echo client on %s packet size %d outside 1..%d",
				ErrConfiguration, cs.Node.Name, cs.PacketSize, maxPacketSize))
		}
	}
	if err := ReportErrs(errs); err != nil {
		return netip.AddrPort{}, err
	}

	return netip.AddrPortFrom(intrfc.Addr.Addr(), srv.Port), nil
}

// checkPlanSchedule checks windows, their causal order, and reachability of the server
func checkPlanSchedule(rn *RoutedNet, plan TrafficPlan, target netip.AddrPort) error {
	srv := plan.Server
	if srv.Start < 0 || srv.Stop <= srv.Start {
		return fmt.Errorf("%w: echo server window [%s,%s) is empty", ErrSchedulingViolation, srv.Start, srv.Stop)
	}

	errs := []error{}
	earliest := srv.Start + plan.StartMargin
	for _, cs := range plan.Clients {
		if cs.Stop <= cs.Start {
			errs = append(errs, fmt.Errorf("%w: echo client on %s window [%s,%s) is empty",
				ErrSchedulingViolation, cs.Node.Name, cs.Start, cs.Stop))
			continue
		}
		if cs.Start < earliest {
			errs = append(errs, fmt.Errorf("%w: echo client on %s starts at %s, before server start %s plus margin %s",
				ErrSchedulingViolation, cs.Node.Name, cs.Start, srv.Start, plan.StartMargin))
			continue
		}
		if _, err := rn.Trace(cs.Node, target.Addr()); err != nil {
			errs = append(errs, err)
			continue
		}
		if _, err := rn.Trace(srv.Node, clientSource(rn, cs.Node)); err != nil {
			errs = append(errs, err)
		}
	}
	return ReportErrs(errs)
}

// clientSource returns the address a client sends from: its first interface
func clientSource(rn *RoutedNet, node *Node) netip.Addr {
	intrfcs := node.Interfaces()
	if len(intrfcs) == 0 {
		return netip.Addr{}
	}
	return intrfcs[0].Addr.Addr()
}
