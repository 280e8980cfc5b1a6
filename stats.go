package netscen

import (
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// Metrics holds the Prometheus collectors of one simulation run.  Each
// run has its own registry so runs never share counters
type Metrics struct {
	registry *prometheus.Registry

	sent     *prometheus.CounterVec
	received *prometheus.CounterVec
	dropped  *prometheus.CounterVec
	rtt      prometheus.Histogram
	maxQueue *prometheus.GaugeVec
	busy     *prometheus.GaugeVec
	captured *prometheus.GaugeVec
}

// NewMetrics creates the collectors and registers them on a fresh registry
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		sent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "netscen_packets_sent_total",
			Help: "Datagrams sent by each echo application.",
		}, []string{"app"}),
		received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "netscen_packets_received_total",
			Help: "Datagrams delivered to each echo application.",
		}, []string{"app"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "netscen_packets_dropped_total",
			Help: "Datagrams discarded by the network layer, by reason.",
		}, []string{"reason"}),
		rtt: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "netscen_echo_rtt_seconds",
			Help:    "Round trip time of echoed datagrams, in virtual seconds.",
			Buckets: []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		maxQueue: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "netscen_medium_max_queue",
			Help: "Longest queue of frames waiting for a medium channel, by link.",
		}, []string{"link"}),
		busy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "netscen_medium_busy_seconds",
			Help: "Virtual time a medium spent transmitting, by link.",
		}, []string{"link"}),
		captured: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "netscen_capture_dropped_frames",
			Help: "Frames a packet capture could not write, by capture name.",
		}, []string{"capture"}),
	}
	m.registry.MustRegister(m.sent, m.received, m.dropped, m.rtt, m.maxQueue, m.busy, m.captured)
	return m
}

// Gatherer returns the registry the collectors are registered on
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

// Registry returns the registry, for callers that want to add their own collectors
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// observeMedium publishes the occupancy of the medium schedulers of link.  A
// point-to-point link has one scheduler per direction: queues report the
// worse direction, busy time the sum
func (m *Metrics) observeMedium(link *Link, schedulers ...*TaskScheduler) {
	worst := 0
	var busy float64
	for _, ops := range schedulers {
		worst = max(worst, ops.MaxQueue())
		busy += ops.Busy().Seconds()
	}
	m.maxQueue.WithLabelValues(link.Name).Set(float64(worst))
	m.busy.WithLabelValues(link.Name).Set(busy)
}

// Drops returns the datagrams discarded by the network layer, keyed by reason
func (m *Metrics) Drops() (map[string]uint64, error) {
	families, err := m.registry.Gather()
	if err != nil {
		return nil, err
	}
	drops := map[string]uint64{}
	for _, mf := range families {
		if mf.GetName() != "netscen_packets_dropped_total" {
			continue
		}
		for _, metric := range mf.GetMetric() {
			for _, label := range metric.GetLabel() {
				if label.GetName() == "reason" {
					drops[label.GetValue()] = uint64(metric.GetCounter().GetValue())
				}
			}
		}
	}
	return drops, nil
}

// WriteText writes every collector in the Prometheus text exposition format
func (m *Metrics) WriteText(w io.Writer) error {
	families, err := m.registry.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("writing %s: %w", mf.GetName(), err)
		}
	}
	return nil
}

// droppedCounter is implemented by recorders that can lose frames
type droppedCounter interface {
	Dropped() uint64
}

// observeCaptures publishes the frames each binding's recorder failed to
// write, and returns the bindings that lost any
func (m *Metrics) observeCaptures(bindings []*TraceBinding) []*TraceBinding {
	lossy := []*TraceBinding{}
	for _, binding := range bindings {
		dc, ok := binding.Recorder.(droppedCounter)
		if !ok {
			continue
		}
		n := dc.Dropped()
		m.captured.WithLabelValues(binding.Prefix + "-" + binding.Link.Name).Set(float64(n))
		if n > 0 {
			lossy = append(lossy, binding)
		}
	}
	return lossy
}
