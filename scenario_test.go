package netscen

import (
	"errors"
	"math"
	"net/netip"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestBuildReference(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	sc, err := Build(DefaultConfig(), WithLogger(zap.New(core)))
	require.NoError(t, err)

	topo := sc.Topology()
	assert.Len(t, topo.Nodes(), 7)
	assert.Len(t, topo.Links(), 4)
	assert.Len(t, sc.Interfaces(), 10)
	assert.Equal(t, "192.168.3.2:9", sc.Server().Addr.String())
	assert.Len(t, sc.Clients(), 3)

	// no sink, no capture
	assert.Empty(t, sc.Bindings())

	entries := logs.FilterMessage("scenario built").All()
	require.Len(t, entries, 1)
	assert.Equal(t, uint64(3), entries[0].ContextMap()["routers"])
}

func TestBuildIsDeterministic(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Topo.SegmentASize = 5
	cfg.Topo.SegmentBSize = 3
	cfg.Topo.RouterCount = 4

	first, err := Build(cfg, WithTraceSink(memorySink{}))
	require.NoError(t, err)
	second, err := Build(cfg, WithTraceSink(memorySink{}))
	require.NoError(t, err)

	if diff := cmp.Diff(first.Transform("x"), second.Transform("x")); diff != "" {
		t.Fatalf("descriptions differ (-first +second):\n%s", diff)
	}
}

func TestBuildRejects(t *testing.T) {
	tests := []struct {
		name   string
		modify func(cfg *Config)
		want   []error
	}{
		{"two routers", func(cfg *Config) { cfg.Topo.RouterCount = 2 }, []error{ErrConfiguration}},
		{"segment overflows block", func(cfg *Config) { cfg.Topo.SegmentBSize = 300 },
			[]error{ErrConfiguration, ErrAddressSpaceExhausted}},
		{"no hosts", func(cfg *Config) { cfg.Topo.SegmentASize = 0; cfg.Topo.SegmentBSize = 0 },
			[]error{ErrConfiguration}},
		{"client on router", func(cfg *Config) { cfg.Clients = []NodeRef{{Router, 0}} }, []error{ErrConfiguration}},
		{"missing client", func(cfg *Config) { cfg.Clients = []NodeRef{{SegmentAHost, 2}} }, []error{ErrConfiguration}},
		{"zero port", func(cfg *Config) { cfg.ServerPort = 0 }, []error{ErrConfiguration}},
		{"negative margin", func(cfg *Config) { cfg.StartMargin = -time.Second }, []error{ErrConfiguration}},
		{"pool", func(cfg *Config) { cfg.Pool = netip.MustParsePrefix("10.0.0.0/8") }, []error{ErrConfiguration}},
		{"segment A wraps", func(cfg *Config) { cfg.Topo.SegmentASize = math.MaxUint }, []error{ErrConfiguration}},
		{"segment B wraps", func(cfg *Config) { cfg.Topo.SegmentBSize = 1 << 63 }, []error{ErrConfiguration}},
		{"segment at host bound", func(cfg *Config) { cfg.Topo.SegmentASize = MaxSegmentHosts },
			[]error{ErrConfiguration, ErrAddressSpaceExhausted}},
		{"margin past client start", func(cfg *Config) { cfg.StartMargin = 2 * time.Second },
			[]error{ErrSchedulingViolation}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.modify(&cfg)
			sink := memorySink{}
			sc, err := Build(cfg, WithTraceSink(sink))
			require.Error(t, err)
			assert.Nil(t, sc)
			for _, want := range tc.want {
				assert.True(t, errors.Is(err, want), err.Error())
			}
			// nothing was attached
			assert.Empty(t, sink)
		})
	}
}

func TestBuildEmptySegmentA(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Topo.SegmentASize = 0
	sc, err := Build(cfg)
	require.NoError(t, err)

	assert.Equal(t, []string{"r0"}, names(sc.Topology().SegmentA().Nodes()))
	clients := []string{}
	for _, app := range sc.Clients() {
		clients = append(clients, app.Node.Name)
	}
	assert.Equal(t, []string{"b0", "b1"}, clients)
}

func TestBuildOptions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Clients = []NodeRef{{SegmentAHost, 0}}
	cfg.ServerPort = 7
	sink := memorySink{}
	sc, err := Build(cfg,
		WithTraceSink(sink),
		WithCaptureRequests(func(topo *Topology) []CaptureRequest {
			return []CaptureRequest{{Link: topo.SegmentA(), Prefix: "only"}}
		}),
		WithRouteComputer(NewGlobalRouter()))
	require.NoError(t, err)

	assert.Len(t, sc.Bindings(), 1)
	assert.Contains(t, sink, "only-segment-a")
	assert.Equal(t, "192.168.3.2:7", sc.Server().Addr.String())
	require.Len(t, sc.Clients(), 1)
	assert.Equal(t, "client@a0", sc.Clients()[0].Name)
}
