package netscen

// scenario.go has code that builds a complete scenario from a Config, running the
// setup phases in order: topology, addressing, routing, traffic, capture

import (
	"fmt"
	"net/netip"
	"time"

	"go.uber.org/zap"
)

// Config holds the parameters of a scenario.  The zero value is not useful;
// start from DefaultConfig
type Config struct {
	Name  string
	Topo  TopoParams
	Roles RouterRoles

	// address pool and first block of the allocator
	Pool       netip.Prefix
	FirstBlock netip.Prefix

	// Clients names the client nodes, DefaultClientRefs when empty
	Clients     []NodeRef
	ServerPort  uint16
	StartMargin time.Duration
}

// DefaultConfig returns the reference scenario: two hosts per segment, three routers,
// an echo server on the transit router and clients on b0, b1 and a1
func DefaultConfig() Config {
	return Config{
		Name:        "netscen",
		Topo:        DefaultTopoParams(),
		Roles:       DefaultRouterRoles(),
		Pool:        DefaultAddressPool,
		FirstBlock:  DefaultFirstBlock,
		ServerPort:  DefaultEchoPort,
		StartMargin: DefaultStartMargin,
	}
}

// buildOptions holds the collaborators Build hands the phases
type buildOptions struct {
	logger  *zap.Logger
	router  RouteComputer
	sink    TraceSink
	capture func(*Topology) []CaptureRequest
}

// Option configures Build
type Option func(bo *buildOptions)

// WithLogger sets the logger used while building
func WithLogger(logger *zap.Logger) Option {
	return func(bo *buildOptions) { bo.logger = logger }
}

// WithRouteComputer replaces the default GlobalRouter
func WithRouteComputer(rc RouteComputer) Option {
	return func(bo *buildOptions) { bo.router = rc }
}

// WithTraceSink enables capture into sink.  Without it nothing is captured
func WithTraceSink(sink TraceSink) Option {
	return func(bo *buildOptions) { bo.sink = sink }
}

// WithCaptureRequests replaces DefaultCaptureRequests
func WithCaptureRequests(reqs func(*Topology) []CaptureRequest) Option {
	return func(bo *buildOptions) { bo.capture = reqs }
}

// clientRefs returns the configured clients, or the defaults
func (cfg Config) clientRefs() []NodeRef {
	if len(cfg.Clients) > 0 {
		return cfg.Clients
	}
	return DefaultClientRefs(cfg.Topo)
}

// Validate checks everything that can be checked before a node exists
func (cfg Config) Validate() error {
	if err := cfg.Topo.Validate(cfg.Roles); err != nil {
		return err
	}
	aa, err := NewAddressAllocator(cfg.Pool, cfg.FirstBlock)
	if err != nil {
		return err
	}

	errs := []error{}
	for _, seg := range []struct {
		name string
		size uint
	}{{"segment A", cfg.Topo.SegmentASize}, {"segment B", cfg.Topo.SegmentBSize}} {
		// hosts plus the gateway router
		if seg.size >= uint(aa.HostCapacity()) {
			errs = append(errs, fmt.Errorf("%w: %w: %s needs %d addresses but a /%d block holds %d",
				ErrConfiguration, ErrAddressSpaceExhausted, seg.name, seg.size+1,
				cfg.FirstBlock.Bits(), aa.HostCapacity()))
		}
	}

	refs := cfg.clientRefs()
	if len(refs) == 0 {
		errs = append(errs, fmt.Errorf("%w: no host exists to run an echo client", ErrConfiguration))
	}
	for _, ref := range refs {
		if ref.Role == Router {
			errs = append(errs, fmt.Errorf("%w: echo client %s must run on a host", ErrConfiguration, ref))
			continue
		}
		size := cfg.Topo.SegmentASize
		if ref.Role == SegmentBHost {
			size = cfg.Topo.SegmentBSize
		}
		if ref.Index < 0 || uint(ref.Index) >= size {
			errs = append(errs, fmt.Errorf("%w: echo client %s does not exist", ErrConfiguration, ref))
		}
	}
	if cfg.ServerPort == 0 {
		errs = append(errs, fmt.Errorf("%w: echo server port must be non-zero", ErrConfiguration))
	}
	if cfg.StartMargin < 0 {
		errs = append(errs, fmt.Errorf("%w: negative start margin", ErrConfiguration))
	}
	return ReportErrs(errs)
}

// Build validates cfg and runs every setup phase.  Any error is returned
// before an engine could be created
func Build(cfg Config, opts ...Option) (*Scenario, error) {
	bo := &buildOptions{capture: DefaultCaptureRequests}
	for _, opt := range opts {
		opt(bo)
	}
	if bo.logger == nil {
		bo.logger = zap.NewNop()
	}
	if bo.router == nil {
		bo.router = NewGlobalRouter()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	topo, err := BuildTopology(cfg.Topo, cfg.Roles)
	if err != nil {
		return nil, err
	}
	bo.logger.Debug("topology built", zap.Int("nodes", len(topo.Nodes())), zap.Int("links", len(topo.Links())))

	aa, err := NewAddressAllocator(cfg.Pool, cfg.FirstBlock)
	if err != nil {
		return nil, err
	}
	an, err := AssignAddresses(topo, aa)
	if err != nil {
		return nil, err
	}
	bo.logger.Debug("addresses assigned", zap.Int("interfaces", len(an.Interfaces())))

	rn, err := RouteNetwork(an, bo.router)
	if err != nil {
		return nil, err
	}

	clients := []*Node{}
	for _, ref := range cfg.clientRefs() {
		node, err := topo.Lookup(ref)
		if err != nil {
			return nil, err
		}
		clients = append(clients, node)
	}
	plan := DefaultTrafficPlan(rn, clients)
	plan.Server.Port = cfg.ServerPort
	plan.StartMargin = cfg.StartMargin

	sn, err := ScheduleTraffic(rn, plan)
	if err != nil {
		return nil, err
	}
	bo.logger.Debug("traffic scheduled", zap.Stringer("server", sn.Server().Addr),
		zap.Int("clients", len(sn.Clients())))

	var reqs []CaptureRequest
	if bo.sink != nil {
		reqs = bo.capture(topo)
	}
	sc, err := ConfigureCapture(sn, bo.sink, reqs, bo.logger)
	if err != nil {
		return nil, err
	}
	bo.logger.Info("scenario built",
		zap.String("name", cfg.Name),
		zap.Uint("lan1", cfg.Topo.SegmentASize),
		zap.Uint("lan2", cfg.Topo.SegmentBSize),
		zap.Uint("routers", cfg.Topo.RouterCount),
		zap.Int("captures", len(sc.Bindings())))
	return sc, nil
}
