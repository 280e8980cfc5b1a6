package netscen

// capture.go binds packet trace sinks to links.  Capture is best effort: a sink
// that cannot be bound is reported and skipped, and the scenario still runs

import (
	"fmt"
	"net"
	"net/netip"
	"time"

	"go.uber.org/zap"
)

// Reference capture prefixes
const (
	SegmentAPrefix = "lan_1"
	SegmentBPrefix = "lan_2"
	ChainPrefix    = "routers"
)

// A Frame is one packet as seen on a link, with the link-layer addresses of the hop
type Frame struct {
	SrcMAC  net.HardwareAddr
	DstMAC  net.HardwareAddr
	Src     netip.AddrPort
	Dst     netip.AddrPort
	TTL     uint8
	ID      uint16 // IPv4 identification
	Payload int    // UDP payload length
}

// FrameRecorder receives the frames crossing one bound link
type FrameRecorder interface {
	// Record is called at the virtual instant transmission of f begins
	Record(at time.Duration, f *Frame)

	// Close flushes and releases the recorder
	Close() error
}

// TraceSink is the external packet trace service
type TraceSink interface {
	AttachTrace(link *Link, prefix string) (FrameRecorder, error)
}

// CaptureRequest asks for the frames of one link to go to a sink under prefix
type CaptureRequest struct {
	Link   *Link
	Prefix string
}

// DefaultCaptureRequests captures segment A as lan_1, segment B as lan_2,
// and every point-to-point link as routers
func DefaultCaptureRequests(topo *Topology) []CaptureRequest {
	reqs := []CaptureRequest{
		{Link: topo.SegmentA(), Prefix: SegmentAPrefix},
		{Link: topo.SegmentB(), Prefix: SegmentBPrefix},
	}
	for _, link := range topo.Chain() {
		reqs = append(reqs, CaptureRequest{Link: link, Prefix: ChainPrefix})
	}
	return reqs
}

// TraceBinding is a passive observer on a link.  The scenario does not own the sink
type TraceBinding struct {
	Link     *Link
	Prefix   string
	Recorder FrameRecorder
}

// Scenario is the output of the last phase, ready to be executed
type Scenario struct {
	*ScheduledNet
	bindings []*TraceBinding
	byLink   map[*Link][]*TraceBinding
	failed   []error
	executed bool
}

// ConfigureCapture attaches sink to each requested link.  Failures are logged at
// warn level, kept for AttachFailures, and skipped.  A nil sink captures nothing
func ConfigureCapture(sn *ScheduledNet, sink TraceSink, reqs []CaptureRequest,
	logger *zap.Logger) (*Scenario, error) {

	if sn.captured {
		return nil, fmt.Errorf("%w: capture already configured", ErrPhaseRepeated)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	sn.captured = true

	sc := &Scenario{ScheduledNet: sn, byLink: make(map[*Link][]*TraceBinding)}
	if sink == nil {
		return sc, nil
	}

	for _, req := range reqs {
		recorder, err := sc.attach(sink, req)
		if err != nil {
			logger.Warn("packet capture disabled on link", zap.String("prefix", req.Prefix), zap.Error(err))
			sc.failed = append(sc.failed, err)
			continue
		}
		binding := &TraceBinding{Link: req.Link, Prefix: req.Prefix, Recorder: recorder}
		sc.bindings = append(sc.bindings, binding)
		sc.byLink[req.Link] = append(sc.byLink[req.Link], binding)
	}
	return sc, nil
}

// attach binds one request, classifying every failure as ErrTraceAttach
func (sc *Scenario) attach(sink TraceSink, req CaptureRequest) (FrameRecorder, error) {
	if req.Link == nil || sc.Block(req.Link) == nil {
		return nil, fmt.Errorf("%w: link is not part of the topology", ErrTraceAttach)
	}
	recorder, err := sink.AttachTrace(req.Link, req.Prefix)
	if err != nil {
		return nil, fmt.Errorf("%w: %s on %s: %w", ErrTraceAttach, req.Prefix, req.Link.Name, err)
	}
	if recorder == nil {
		return nil, fmt.Errorf("%w: %s on %s: sink returned no recorder", ErrTraceAttach, req.Prefix, req.Link.Name)
	}
	return recorder, nil
}

// Bindings returns the trace bindings in request order
func (sc *Scenario) Bindings() []*TraceBinding { return sc.bindings }

// BindingsOn returns the bindings observing link
func (sc *Scenario) BindingsOn(link *Link) []*TraceBinding { return sc.byLink[link] }

// AttachFailures returns the ErrTraceAttach errors met while binding
func (sc *Scenario) AttachFailures() []error { return sc.failed }

// Engine is the external discrete-event simulation engine
type Engine interface {
	Run()
	Destroy()
}

// Execute runs the engine to completion and then tears it down.  These are the
// last two operations on a scenario, and they happen once
func (sc *Scenario) Execute(eng Engine) error {
	if sc.executed {
		return fmt.Errorf("%w: scenario already executed", ErrPhaseRepeated)
	}
	if eng == nil {
		return fmt.Errorf("%w: nil engine", ErrConfiguration)
	}
	sc.executed = true
	eng.Run()
	eng.Destroy()
	return nil
}

// closeRecorders closes every bound recorder, collecting the errors
func (sc *Scenario) closeRecorders() error {
	errs := []error{}
	for _, binding := range sc.bindings {
		errs = append(errs, binding.Recorder.Close())
	}
	return ReportErrs(errs)
}
