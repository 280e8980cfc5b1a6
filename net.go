package netscen

// net.go contains code and data structures supporting the
// simulation of echo traffic through a scenario's network.

// The simulator is built around three assumptions that keep it simple.
//
// The first is that routing is static: every hop consults the forwarding table
// installed by the route computer and nothing changes those tables at run time.
//
// The second is that a medium carries one frame at a time per channel.  A shared
// segment is a single channel contended for by every attached interface; a
// point-to-point link has an independent channel in each direction.  A frame holds its
// channel for its transmission time (wire length over data rate), and then
// propagates for the link delay before it reaches the receiving interface.
//
// The third is that nothing is lost on a medium.  Frames are dropped only by the
// network layer: no route, TTL expiry, an address not held by a host, or a port
// with no open application behind it.

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/iti/evt/evtm"
	"github.com/iti/evt/vrtime"
	"github.com/iti/rngstream"
	"go.uber.org/zap"
)

// Framing overheads, in bytes
const (
	ipv4HeaderLen     = 20
	udpHeaderLen      = 8
	ethernetHeaderLen = 14
	pppHeaderLen      = 2
)

// InitialTTL is the TTL of every datagram an application sends
const InitialTTL uint8 = 64

// DefaultSettleTime is how long the simulation runs past the last application stop
const DefaultSettleTime = time.Second

// Ephemeral port range client sockets are bound in
const (
	ephemeralLow  = 49152
	ephemeralHigh = 65535
)

// Drop reasons, used as metric labels and trace ops
const (
	dropNoRoute     = "no_route"
	dropTTL         = "ttl_expired"
	dropNotForHost  = "not_for_host"
	dropNoListener  = "port_unreachable"
	dropAppClosed   = "app_closed"
	dropUnreachable = "next_hop_unreachable"
)

// packet is a UDP datagram in flight
type packet struct {
	id      int
	src     netip.AddrPort
	dst     netip.AddrPort
	ttl     uint8
	ipID    uint16
	payload int

	// carried in the payload so an echo can be matched to its request
	seq    uint32
	sentAt time.Duration
	echo   bool
}

// wireLen is the length of the frame carrying pckt on a medium of the given kind
func (pckt *packet) wireLen(kind LinkKind) int {
	n := ipv4HeaderLen + udpHeaderLen + pckt.payload
	if kind == PointToPoint {
		return n + pppHeaderLen
	}
	return n + ethernetHeaderLen
}

// hop is a packet crossing one link, from an egress to an ingress interface
type hop struct {
	pckt    *packet
	egress  *Interface
	ingress *Interface
}

// frame describes the hop as a link-layer frame
func (h *hop) frame() *Frame {
	return &Frame{
		SrcMAC:  h.egress.MAC,
		DstMAC:  h.ingress.MAC,
		Src:     h.pckt.src,
		Dst:     h.pckt.dst,
		TTL:     h.pckt.ttl,
		ID:      h.pckt.ipID,
		Payload: h.pckt.payload,
	}
}

// nodeState is the run-time state of a node
type nodeState struct {
	sim      *Simulator
	node     *Node
	rng      *rngstream.RngStream
	apps     map[uint16]*appState // bound sockets by local port
	nextIPID uint16
}

// devRng returns the random stream of the node, created on first use
func (ns *nodeState) devRng() *rngstream.RngStream {
	if ns.rng == nil {
		ns.rng = rngstream.New(ns.node.Name)
	}
	return ns.rng
}

// appState is the run-time state of an installed application
type appState struct {
	app   *Application
	ns    *nodeState
	local netip.AddrPort // bound address

	sent     uint32
	received uint32
	rttSum   time.Duration
}

// open reports whether the application window contains now
func (as *appState) open(now time.Duration) bool {
	return as.app.Start <= now && now < as.app.Stop
}

// AppStats summarizes what one application did during a run
type AppStats struct {
	Name     string        `json:"name" yaml:"name"`
	Kind     string        `json:"kind" yaml:"kind"`
	Local    string        `json:"local" yaml:"local"`
	Sent     uint32        `json:"sent" yaml:"sent"`
	Received uint32        `json:"received" yaml:"received"`
	MeanRTT  time.Duration `json:"meanrtt" yaml:"meanrtt"`
}

// SimOption configures a Simulator
type SimOption func(sim *Simulator)

// WithSimLogger sets the logger of the simulator
func WithSimLogger(logger *zap.Logger) SimOption {
	return func(sim *Simulator) { sim.logger = logger }
}

// WithVerbose enables per-packet application logging at info level
func WithVerbose(verbose bool) SimOption {
	return func(sim *Simulator) { sim.verbose = verbose }
}

// WithTraceManager gathers per-hop records into tm
func WithTraceManager(tm *TraceManager) SimOption {
	return func(sim *Simulator) { sim.tm = tm }
}

// WithSettleTime sets how long the run continues past the last application stop
func WithSettleTime(settle time.Duration) SimOption {
	return func(sim *Simulator) { sim.settle = settle }
}

// Simulator is the default Engine: a discrete-event simulation of the
// scenario on an evtm event manager
type Simulator struct {
	sc      *Scenario
	evtMgr  *evtm.EventManager
	logger  *zap.Logger
	appLog  *zap.Logger
	verbose bool
	tm      *TraceManager
	metrics *Metrics
	settle  time.Duration

	nodes    map[*Node]*nodeState
	apps     []*appState
	segMedia map[*Link]*TaskScheduler
	p2pMedia map[*Interface]*TaskScheduler

	nxtPcktID int
	ran       bool
	destroyed bool
	closeErr  error
}

// NewSimulator is a constructor.  Nothing is scheduled until Run
func NewSimulator(sc *Scenario, opts ...SimOption) (*Simulator, error) {
	if sc == nil {
		return nil, fmt.Errorf("%w: nil scenario", ErrConfiguration)
	}
	sim := &Simulator{
		sc:       sc,
		evtMgr:   evtm.New(),
		logger:   zap.NewNop(),
		settle:   DefaultSettleTime,
		metrics:  NewMetrics(),
		nodes:    make(map[*Node]*nodeState),
		segMedia: make(map[*Link]*TaskScheduler),
		p2pMedia: make(map[*Interface]*TaskScheduler),
	}
	for _, opt := range opts {
		opt(sim)
	}
	if sim.logger == nil {
		sim.logger = zap.NewNop()
	}
	sim.appLog = zap.NewNop()
	if sim.verbose {
		sim.appLog = sim.logger.Named("app")
	}
	if sim.settle < 0 {
		return nil, fmt.Errorf("%w: negative settle time %s", ErrConfiguration, sim.settle)
	}

	for _, node := range sc.Topology().Nodes() {
		sim.nodes[node] = &nodeState{sim: sim, node: node, apps: make(map[uint16]*appState)}
		if sim.tm != nil {
			sim.tm.AddName(node.ID, node.Name, node.Role.String())
		}
	}
	for _, link := range sc.Topology().Links() {
		if link.Kind == Segment {
			sim.segMedia[link] = CreateTaskScheduler(1)
			continue
		}
		for _, node := range link.Nodes() {
			sim.p2pMedia[sc.InterfaceOn(node, link)] = CreateTaskScheduler(1)
		}
	}
	return sim, nil
}

// Metrics returns the counters of the run
func (sim *Simulator) Metrics() *Metrics { return sim.metrics }

// CloseErr returns the error met closing trace recorders in Destroy
func (sim *Simulator) CloseErr() error { return sim.closeErr }

// Horizon returns the virtual time the run ends at
func (sim *Simulator) Horizon() time.Duration {
	var last time.Duration
	for _, app := range sim.sc.Applications() {
		last = max(last, app.Stop)
	}
	return last + sim.settle
}

// Run installs every application and runs the event loop to the horizon.  Only
// the first call does anything
func (sim *Simulator) Run() {
	if sim.ran || sim.destroyed {
		return
	}
	sim.ran = true

	for _, app := range sim.sc.Applications() {
		if err := sim.install(app); err != nil {
			sim.logger.Error("application not installed", zap.String("app", app.Name), zap.Error(err))
		}
	}

	horizon := sim.Horizon()
	sim.logger.Debug("simulation starting", zap.Duration("horizon", horizon))
	sim.evtMgr.Run(horizon.Seconds())
	sim.logger.Debug("simulation finished", zap.Duration("now", virtualNow(sim.evtMgr)))

	for _, link := range sim.sc.Topology().Links() {
		if link.Kind == Segment {
			sim.metrics.observeMedium(link, sim.segMedia[link])
			continue
		}
		schedulers := []*TaskScheduler{}
		for _, node := range link.Nodes() {
			schedulers = append(schedulers, sim.p2pMedia[sim.sc.InterfaceOn(node, link)])
		}
		sim.metrics.observeMedium(link, schedulers...)
	}
}

// Destroy closes every trace recorder and releases the run state.  Idempotent
func (sim *Simulator) Destroy() {
	if sim.destroyed {
		return
	}
	sim.destroyed = true
	sim.closeErr = sim.sc.closeRecorders()
	if sim.closeErr != nil {
		sim.logger.Warn("closing packet capture", zap.Error(sim.closeErr))
	}
	for _, binding := range sim.metrics.observeCaptures(sim.sc.Bindings()) {
		sim.logger.Warn("packet capture lost frames", zap.String("prefix", binding.Prefix),
			zap.String("link", binding.Link.Name),
			zap.Uint64("dropped", binding.Recorder.(droppedCounter).Dropped()))
	}
	sim.segMedia = nil
	sim.p2pMedia = nil
}

// Stats returns the per-application summary, server first
func (sim *Simulator) Stats() []AppStats {
	stats := make([]AppStats, 0, len(sim.apps))
	for _, as := range sim.apps {
		st := AppStats{
			Name:     as.app.Name,
			Kind:     as.app.Kind.String(),
			Local:    as.local.String(),
			Sent:     as.sent,
			Received: as.received,
		}
		if as.app.Kind == EchoClient && as.received > 0 {
			st.MeanRTT = as.rttSum / time.Duration(as.received)
		}
		stats = append(stats, st)
	}
	return stats
}

// install binds the socket of app and schedules its events
func (sim *Simulator) install(app *Application) error {
	ns := sim.nodes[app.Node]
	as := &appState{app: app, ns: ns}

	if app.Kind == EchoServer {
		as.local = app.Addr
	} else {
		src := ns.node.Interfaces()
		if len(src) == 0 {
			return fmt.Errorf("%s has no interface", ns.node.Name)
		}
		as.local = netip.AddrPortFrom(src[0].Addr.Addr(), sim.ephemeralPort(ns))
	}
	if _, taken := ns.apps[as.local.Port()]; taken {
		return fmt.Errorf("port %d already bound on %s", as.local.Port(), ns.node.Name)
	}
	ns.apps[as.local.Port()] = as
	sim.apps = append(sim.apps, as)

	sim.evtMgr.Schedule(sim, as, appStart, vrtime.SecondsToTime(app.Start.Seconds()))
	sim.evtMgr.Schedule(sim, as, appStop, vrtime.SecondsToTime(app.Stop.Seconds()))

	if app.Kind == EchoClient {
		cs := ClientSpec{Start: app.Start, Stop: app.Stop, MaxPackets: app.MaxPackets, Interval: app.Interval}
		for seq, at := range cs.SendTimes() {
			sim.evtMgr.Schedule(as, uint32(seq), clientSend, vrtime.SecondsToTime(at.Seconds()))
		}
	}
	return nil
}

// ephemeralPort draws an unused client port from the node's random stream
func (sim *Simulator) ephemeralPort(ns *nodeState) uint16 {
	for {
		port := uint16(ns.devRng().RandInt(ephemeralLow, ephemeralHigh))
		if _, taken := ns.apps[port]; !taken {
			return port
		}
	}
}

// appStart marks the opening of an application window
func appStart(evtMgr *evtm.EventManager, context any, data any) any {
	sim := context.(*Simulator)
	as := data.(*appState)
	sim.appLog.Info(as.app.Kind.String()+" started",
		zap.String("app", as.app.Name), zap.Stringer("local", as.local),
		zap.Duration("at", virtualNow(evtMgr)))
	return nil
}

// appStop marks the closing of an application window
func appStop(evtMgr *evtm.EventManager, context any, data any) any {
	sim := context.(*Simulator)
	as := data.(*appState)
	sim.appLog.Info(as.app.Kind.String()+" stopped",
		zap.String("app", as.app.Name), zap.Uint32("sent", as.sent),
		zap.Uint32("received", as.received), zap.Duration("at", virtualNow(evtMgr)))
	return nil
}

// clientSend originates one echo request
func clientSend(evtMgr *evtm.EventManager, context any, data any) any {
	as := context.(*appState)
	seq := data.(uint32)
	sim := as.simulator()
	now := virtualNow(evtMgr)

	pckt := sim.newPacket(as.ns, as.local, as.app.Addr, int(as.app.PacketSize))
	pckt.seq = seq
	pckt.sentAt = now
	as.sent += 1
	sim.metrics.sent.WithLabelValues(as.app.Name).Inc()
	sim.appLog.Info("client sent", zap.String("app", as.app.Name), zap.Uint32("seq", seq),
		zap.Int("bytes", pckt.payload), zap.Stringer("to", pckt.dst), zap.Duration("at", now))

	sim.forward(as.ns, pckt)
	return nil
}

// simulator recovers the simulator an application belongs to
func (as *appState) simulator() *Simulator {
	return as.ns.sim
}

// newPacket builds a datagram originated by ns
func (sim *Simulator) newPacket(ns *nodeState, src, dst netip.AddrPort, payload int) *packet {
	sim.nxtPcktID += 1
	ns.nextIPID += 1
	return &packet{id: sim.nxtPcktID, src: src, dst: dst, ttl: InitialTTL, ipID: ns.nextIPID, payload: payload}
}

// forward looks up the route of pckt at ns and queues it on the egress medium
func (sim *Simulator) forward(ns *nodeState, pckt *packet) {
	entry, found := sim.sc.ForwardingTable(ns.node).Lookup(pckt.dst.Addr())
	if !found {
		sim.drop(ns, pckt, dropNoRoute)
		return
	}

	nxtAddr := pckt.dst.Addr()
	if !entry.Direct() {
		nxtAddr = entry.NextHop
	}
	ingress, present := sim.sc.InterfaceByAddr(nxtAddr)
	if !present || ingress.Link != entry.Interface.Link {
		sim.drop(ns, pckt, dropUnreachable)
		return
	}

	h := &hop{pckt: pckt, egress: entry.Interface, ingress: ingress}
	link := h.egress.Link
	req := transmitTime(pckt.wireLen(link.Kind), link.Attrs.DataRate)
	sim.medium(h.egress).Schedule(sim.evtMgr, "transmit", req, sim, h, txStart, txComplete)
}

// medium returns the scheduler governing transmissions out of egress
func (sim *Simulator) medium(egress *Interface) *TaskScheduler {
	if egress.Link.Kind == Segment {
		return sim.segMedia[egress.Link]
	}
	return sim.p2pMedia[egress]
}

// txStart is called when a frame gets the medium.  Capture sees the frame now
func txStart(evtMgr *evtm.EventManager, context any, data any) any {
	sim := context.(*Simulator)
	h := data.(*hop)

	if bindings := sim.sc.BindingsOn(h.egress.Link); len(bindings) > 0 {
		now := virtualNow(evtMgr)
		frame := h.frame()
		for _, binding := range bindings {
			binding.Recorder.Record(now, frame)
		}
	}
	sim.addTrace(evtMgr, h.pckt, h.egress, "tx")
	return nil
}

// txComplete is called when the last bit has left; the frame then propagates
func txComplete(evtMgr *evtm.EventManager, context any, data any) any {
	sim := context.(*Simulator)
	h := data.(*hop)
	evtMgr.Schedule(sim, h, arriveIntrfc, vrtime.SecondsToTime(h.egress.Link.Attrs.Delay.Seconds()))
	return nil
}

// arriveIntrfc is called when the frame has been received by the ingress interface
func arriveIntrfc(evtMgr *evtm.EventManager, context any, data any) any {
	sim := context.(*Simulator)
	h := data.(*hop)
	ns := sim.nodes[h.ingress.Node]
	pckt := h.pckt

	sim.addTrace(evtMgr, pckt, h.ingress, "rx")

	// any address of the node is local to it
	for _, intrfc := range ns.node.Interfaces() {
		if intrfc.Addr.Addr() == pckt.dst.Addr() {
			sim.deliver(evtMgr, ns, h.ingress, pckt)
			return nil
		}
	}

	if ns.node.Role != Router {
		sim.drop(ns, pckt, dropNotForHost)
		return nil
	}
	pckt.ttl -= 1
	if pckt.ttl == 0 {
		sim.drop(ns, pckt, dropTTL)
		return nil
	}
	sim.forward(ns, pckt)
	return nil
}

// deliver hands pckt to the socket bound to its destination port
func (sim *Simulator) deliver(evtMgr *evtm.EventManager, ns *nodeState, ingress *Interface, pckt *packet) {
	now := virtualNow(evtMgr)
	as, present := ns.apps[pckt.dst.Port()]
	if !present {
		sim.drop(ns, pckt, dropNoListener)
		return
	}
	if !as.open(now) {
		sim.drop(ns, pckt, dropAppClosed)
		return
	}
	sim.addTrace(evtMgr, pckt, ingress, "deliver")
	as.received += 1
	sim.metrics.received.WithLabelValues(as.app.Name).Inc()

	if as.app.Kind == EchoClient {
		rtt := now - pckt.sentAt
		as.rttSum += rtt
		sim.metrics.rtt.Observe(rtt.Seconds())
		sim.appLog.Info("client received", zap.String("app", as.app.Name), zap.Uint32("seq", pckt.seq),
			zap.Int("bytes", pckt.payload), zap.Stringer("from", pckt.src), zap.Duration("rtt", rtt),
			zap.Duration("at", now))
		return
	}

	sim.appLog.Info("server received", zap.String("app", as.app.Name), zap.Uint32("seq", pckt.seq),
		zap.Int("bytes", pckt.payload), zap.Stringer("from", pckt.src), zap.Duration("at", now))

	// the echo leaves from the address the request was sent to
	reply := sim.newPacket(ns, pckt.dst, pckt.src, pckt.payload)
	reply.seq = pckt.seq
	reply.sentAt = pckt.sentAt
	reply.echo = true
	as.sent += 1
	sim.metrics.sent.WithLabelValues(as.app.Name).Inc()
	sim.forward(ns, reply)
}

// drop discards pckt at ns
func (sim *Simulator) drop(ns *nodeState, pckt *packet, reason string) {
	sim.metrics.dropped.WithLabelValues(reason).Inc()
	sim.logger.Debug("packet dropped", zap.String("node", ns.node.Name), zap.String("reason", reason),
		zap.Stringer("src", pckt.src), zap.Stringer("dst", pckt.dst))
	if sim.tm != nil && sim.tm.Active() {
		sim.tm.AddPacketTrace(sim.evtMgr.CurrentTime(), pckt, ns.node, nil, "drop:"+reason)
	}
}

// addTrace records a hop event when tracing
func (sim *Simulator) addTrace(evtMgr *evtm.EventManager, pckt *packet, intrfc *Interface, op string) {
	if sim.tm == nil || !sim.tm.Active() {
		return
	}
	sim.tm.AddPacketTrace(evtMgr.CurrentTime(), pckt, intrfc.Node, intrfc, op)
}
