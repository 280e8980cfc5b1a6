// Command netscen builds the two-segment router-chain scenario, runs its UDP
// echo traffic in virtual time, and writes packet captures and descriptions.
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/bassosimone/runtimex"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/tebeka/atexit"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/iti/netscen"
)

// flag names, also the viper keys and (upper-cased, NETSCEN_ prefixed) environment names
const (
	flagLan1       = "lan1"
	flagLan2       = "lan2"
	flagRouters    = "routers"
	flagNWifi      = "nWifi"
	flagVerbose    = "verbose"
	flagClients    = "clients"
	flagPcapDir    = "pcap-dir"
	flagNoPcap     = "no-pcap"
	flagDescOut    = "desc-out"
	flagTraceOut   = "trace-out"
	flagConfig     = "config"
	flagLogLevel   = "log-level"
	flagSettle     = "settle"
	flagMetricsOut = "metrics-out"
)

func main() {
	// a missing .env is the normal case
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "netscen: loading .env: %v\n", err)
	}
	if err := newRootCmd().Execute(); err != nil {
		atexit.Exit(1)
	}
	atexit.Exit(0)
}

// newRootCmd creates the command with its flags bound to a fresh viper store
func newRootCmd() *cobra.Command {
	v := viper.New()
	cmd := &cobra.Command{
		Use:   "netscen",
		Short: "Simulate UDP echo traffic across two LANs joined by a router chain",
		Long: `netscen builds two shared-medium LANs whose gateway routers are joined through a
transit router by point-to-point links, assigns a /24 to every link, computes
global routes, and runs a UDP echo server on the transit router with clients on
the LANs.  Packet captures are written per link as <prefix>-<link>.pcap.

Every flag can also be set in the file named by --config or through a
NETSCEN_<FLAG> environment variable (dashes become underscores).`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(v, cmd.Flags())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, v)
		},
	}

	flags := cmd.Flags()
	flags.Uint(flagLan1, 2, "number of hosts on LAN 1 (segment A)")
	flags.Uint(flagLan2, 2, "number of hosts on LAN 2 (segment B)")
	flags.Uint(flagRouters, 3, "number of routers, at least 3")
	flags.Uint(flagNWifi, 3, "number of routers")
	runtimex.PanicOnError0(flags.MarkDeprecated(flagNWifi, "use --routers"))
	flags.Bool(flagVerbose, true, "log every echo packet sent and received")
	flags.StringSlice(flagClients, nil, "client hosts as a<i> or b<i> (default b0,b1,a1)")
	flags.String(flagPcapDir, ".", "directory the packet captures are written to")
	flags.Bool(flagNoPcap, false, "do not write packet captures")
	flags.String(flagDescOut, "", "write the scenario description to this .yaml or .json file")
	flags.String(flagTraceOut, "", "write per-hop packet traces to this .yaml or .json file")
	flags.String(flagConfig, "", "read flag values from this configuration file")
	flags.String(flagLogLevel, "info", "log level: debug, info, warn or error")
	flags.Duration(flagSettle, netscen.DefaultSettleTime, "virtual time to run past the last application stop")
	flags.String(flagMetricsOut, "", "write the run's Prometheus metrics to this file in text format")
	return cmd
}

// loadConfig layers the configuration file and the environment under the flags
func loadConfig(v *viper.Viper, flags *pflag.FlagSet) error {
	v.SetEnvPrefix("NETSCEN")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(flags); err != nil {
		return err
	}
	if path := v.GetString(flagConfig); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("%w: reading %s: %v", netscen.ErrConfiguration, path, err)
		}
	}
	return nil
}

// newLogger builds a console logger at the named level.  Sampling is off so
// per-packet logs are never thinned
func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", netscen.ErrConfiguration, err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.Sampling = nil
	cfg.DisableStacktrace = true
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}

// configFromViper assembles the scenario configuration from the merged flag values
func configFromViper(v *viper.Viper) (netscen.Config, error) {
	cfg := netscen.DefaultConfig()
	routerKey := flagRouters
	if v.IsSet(flagNWifi) && !v.IsSet(flagRouters) {
		routerKey = flagNWifi
	}
	errs := []error{}
	for _, size := range []struct {
		key string
		dst *uint
	}{{flagLan1, &cfg.Topo.SegmentASize}, {flagLan2, &cfg.Topo.SegmentBSize}, {routerKey, &cfg.Topo.RouterCount}} {
		n, err := getUint(v, size.key)
		errs = append(errs, err)
		*size.dst = n
	}
	if err := netscen.ReportErrs(errs); err != nil {
		return cfg, err
	}

	for _, name := range v.GetStringSlice(flagClients) {
		ref, err := netscen.ParseNodeRef(strings.TrimSpace(name))
		if err != nil {
			return cfg, err
		}
		cfg.Clients = append(cfg.Clients, ref)
	}
	return cfg, nil
}

// getUint reads key as an unsigned count.  viper hands uint flags over as
// strings and converts them through a signed parse, which zeroes large values
func getUint(v *viper.Viper, key string) (uint, error) {
	raw := strings.TrimSpace(v.GetString(key))
	n, err := strconv.ParseUint(raw, 0, strconv.IntSize)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %q is not a count", netscen.ErrConfiguration, key, raw)
	}
	return uint(n), nil
}

// run builds and executes the scenario, then writes the outputs
func run(cmd *cobra.Command, v *viper.Viper) error {
	logger, err := newLogger(v.GetString(flagLogLevel))
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "netscen: %v\n", err)
		return err
	}
	atexit.Register(func() { _ = logger.Sync() })

	if err := execute(cmd, v, logger); err != nil {
		logger.Error("netscen failed", zap.Error(err))
		return err
	}
	return nil
}

// execute is run once the logger exists
func execute(cmd *cobra.Command, v *viper.Viper, logger *zap.Logger) error {
	cfg, err := configFromViper(v)
	if err != nil {
		return err
	}
	settle := v.GetDuration(flagSettle)
	if settle < 0 {
		return fmt.Errorf("%w: negative settle time %s", netscen.ErrConfiguration, settle)
	}

	pcapDir := v.GetString(flagPcapDir)
	descOut := v.GetString(flagDescOut)
	traceOut := v.GetString(flagTraceOut)
	metricsOut := v.GetString(flagMetricsOut)
	if !v.GetBool(flagNoPcap) {
		if _, err := netscen.CheckDirectories([]string{pcapDir}); err != nil {
			return fmt.Errorf("%w: %v", netscen.ErrConfiguration, err)
		}
	}
	if _, err := netscen.CheckOutputFiles([]string{descOut, traceOut, metricsOut}); err != nil {
		return fmt.Errorf("%w: %v", netscen.ErrConfiguration, err)
	}

	opts := []netscen.Option{netscen.WithLogger(logger)}
	if !v.GetBool(flagNoPcap) {
		opts = append(opts, netscen.WithTraceSink(netscen.NewPcapSink(pcapDir)))
	}
	sc, err := netscen.Build(cfg, opts...)
	if err != nil {
		return err
	}

	if descOut != "" {
		desc := sc.Transform(cfg.Name)
		if err := desc.WriteToFile(descOut); err != nil {
			return err
		}
		logger.Info("scenario description written", zap.String("file", descOut))
	}

	tm := netscen.CreateTraceManager(cfg.Name, traceOut != "")
	sim, err := netscen.NewSimulator(sc,
		netscen.WithSimLogger(logger),
		netscen.WithVerbose(v.GetBool(flagVerbose)),
		netscen.WithTraceManager(tm),
		netscen.WithSettleTime(settle))
	if err != nil {
		return err
	}

	started := time.Now()
	if err := sc.Execute(sim); err != nil {
		return err
	}
	if err := sim.CloseErr(); err != nil {
		logger.Warn("packet capture incomplete", zap.Error(err))
	}
	logger.Info("simulation complete",
		zap.Duration("virtual", sim.Horizon()),
		zap.Duration("wall", time.Since(started)))

	if traceOut != "" {
		if _, err := tm.WriteToFile(traceOut); err != nil {
			return err
		}
		logger.Info("packet trace written", zap.String("file", traceOut))
	}

	drops, err := sim.Metrics().Drops()
	if err != nil {
		return err
	}
	for reason, n := range drops {
		logger.Warn("packets dropped", zap.String("reason", reason), zap.Uint64("count", n))
	}
	if metricsOut != "" {
		if err := writeMetrics(sim.Metrics(), metricsOut); err != nil {
			return err
		}
		logger.Info("metrics written", zap.String("file", metricsOut))
	}

	out := cmd.OutOrStdout()
	for _, st := range sim.Stats() {
		fmt.Fprintf(out, "%-16s %-6s %-22s sent %-4d received %-4d", st.Name, st.Kind, st.Local, st.Sent, st.Received)
		if st.Kind == netscen.EchoClient.String() {
			fmt.Fprintf(out, " mean rtt %s", st.MeanRTT)
		}
		fmt.Fprintln(out)
	}
	return nil
}

// writeMetrics saves the run's registry to name
func writeMetrics(m *netscen.Metrics, name string) error {
	f, err := os.Create(name)
	if err != nil {
		return err
	}
	if err := m.WriteText(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
