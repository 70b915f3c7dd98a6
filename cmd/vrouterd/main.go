// vrouterd is the host-interface datapath daemon of a user-space virtual
// router: interface lifecycle, the per-packet TX pipeline, and the
// ConnectRPC facade an upper forwarding engine drives it through.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/trace"
	"strings"
	"sync"
	"syscall"
	"time"

	"connectrpc.com/grpchealth"
	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/sync/errgroup"

	"github.com/godbus/dbus/v5"

	"github.com/ocvrouter/hostif/internal/config"
	"github.com/ocvrouter/hostif/internal/dbusapi"
	"github.com/ocvrouter/hostif/internal/hostif"
	"github.com/ocvrouter/hostif/internal/lcore"
	"github.com/ocvrouter/hostif/internal/linkstate"
	hostifmetrics "github.com/ocvrouter/hostif/internal/metrics"
	"github.com/ocvrouter/hostif/internal/netio"
	"github.com/ocvrouter/hostif/internal/ovsdb"
	"github.com/ocvrouter/hostif/internal/server"
	appversion "github.com/ocvrouter/hostif/internal/version"
)

// shutdownTimeout is the maximum time to wait for HTTP servers to drain
// active connections during graceful shutdown.
const shutdownTimeout = 10 * time.Second

// drainTimeout is the time to wait after stopping the registry before
// proceeding with shutdown, mirroring the BFD daemon's drain wait for
// in-flight TX to settle.
const drainTimeout = 2 * time.Second

// flightRecorderMinAge is the minimum window age for the flight recorder.
const flightRecorderMinAge = 500 * time.Millisecond

// flightRecorderMaxBytes is the upper bound on flight recorder window size.
const flightRecorderMaxBytes = 2 * 1024 * 1024 // 2 MiB

// gaugeUpdateInterval is how often the scheduled-queue/monitored-vif/
// agent-ring gauges are refreshed.
const gaugeUpdateInterval = 5 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to configuration file (YAML)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("failed to load configuration",
			slog.String("error", err.Error()),
		)
		return 1
	}

	logLevel := new(slog.LevelVar)
	logLevel.Set(config.ParseLogLevel(cfg.Log.Level))
	logger := newLoggerWithLevel(cfg.Log, logLevel)

	logger.Info("vrouterd starting",
		slog.String("version", appversion.Version),
		slog.String("grpc_addr", cfg.GRPC.Addr),
		slog.String("metrics_addr", cfg.Metrics.Addr),
		slog.Int("lcore.num_cores", cfg.Lcore.NumCores),
	)

	fr := startFlightRecorder(logger)

	reg := prometheus.NewRegistry()
	collector := hostifmetrics.NewCollector(reg)

	if err := runServers(cfg, collector, reg, logger, *configPath, logLevel, fr); err != nil {
		logger.Error("vrouterd exited with error",
			slog.String("error", err.Error()),
		)
		return 1
	}

	logger.Info("vrouterd stopped")
	return 0
}

// datapath bundles every component wired directly out of cfg.Datapath and
// cfg.Lcore, so the rest of run()/runServers() can pass one value around
// instead of five.
type datapath struct {
	sched       *lcore.Scheduler
	monitors    *hostif.MonitorTable
	stats       *hostif.StatsAggregator
	registry    *hostif.Registry
	pipeline    *hostif.TXPipeline
	facade      *hostif.Facade
	ring        *hostif.AgentRing
	agent       *netio.AgentTransport
	ovsdbCloser io.Closer
	dbusSvc     *dbusapi.Service
}

// buildDatapath constructs the scheduler, registry, TX pipeline and
// facade described in §3/§4/§6, wiring the out-of-scope NIC/KNI/vhost-user
// collaborators (§1, §6) to the in-process stand-ins in collaborators.go,
// or to real external control planes (internal/ovsdb, internal/dbusapi)
// where cfg enables them.
func buildDatapath(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*datapath, error) {
	sched := lcore.NewScheduler(cfg.Lcore.NumCores, lcore.CoreID(cfg.Lcore.ForwardingThreshold), logger)
	monitors := hostif.NewMonitorTable()
	stats := hostif.NewStatsAggregator()

	ring := hostif.NewAgentRing(cfg.Datapath.AgentRingCapacity)
	agentTransport := netio.NewAgentTransport(ring, logger)

	ethdev := newSimulatedEthdev()
	kni := newSimulatedKNI()

	vhostUser, ovsdbCloser, err := buildVhostUserNotifier(ctx, cfg.OVSDB, logger)
	if err != nil {
		return nil, fmt.Errorf("build vhost-user notifier: %w", err)
	}

	registry := hostif.NewRegistry(sched, monitors, ethdev, kni, vhostUser, agentTransport, logger)

	var vlanTag *uint16
	if cfg.Datapath.VlanTag != 0 {
		v := cfg.Datapath.VlanTag
		vlanTag = &v
	}
	fragPools := &hostif.FragmentPools{Alloc: allocFragmentBuffer}
	global := hostif.GlobalConfig{
		VlanTag:   vlanTag,
		MSSAdjust: cfg.Datapath.MSSAdjust,
		FragPools: fragPools,
		AgentRing: ring,
	}
	pipeline := hostif.NewTXPipeline(sched, monitors, stats, global, logger)
	facade := hostif.NewFacade(registry, pipeline, stats, ethdev)

	dp := &datapath{
		sched:       sched,
		monitors:    monitors,
		stats:       stats,
		registry:    registry,
		pipeline:    pipeline,
		facade:      facade,
		ring:        ring,
		agent:       agentTransport,
		ovsdbCloser: ovsdbCloser,
	}

	dbusSvc, err := buildDBusService(cfg.DBus, registry, stats, logger)
	if err != nil {
		closeOVSDB(ovsdbCloser, logger)
		return nil, fmt.Errorf("build dbus service: %w", err)
	}
	dp.dbusSvc = dbusSvc

	return dp, nil
}

// buildVhostUserNotifier wires registry.go's VhostUserNotifier collaborator
// to a real OVSDB-backed ovsdb.PortRegistrar when cfg.Enabled, falling back
// to the in-process simulatedVhostUser otherwise.
func buildVhostUserNotifier(ctx context.Context, cfg config.OVSDBConfig, logger *slog.Logger) (hostif.VhostUserNotifier, io.Closer, error) {
	if !cfg.Enabled {
		return newSimulatedVhostUser(logger), nil, nil
	}

	registrar, err := ovsdb.NewPortRegistrar(ctx, cfg.Endpoint, cfg.Bridge, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to ovsdb at %s: %w", cfg.Endpoint, err)
	}

	logger.Info("ovsdb vhost-user registrar connected",
		slog.String("endpoint", cfg.Endpoint),
		slog.String("bridge", cfg.Bridge),
	)

	return registrar, registrar, nil
}

// buildDBusService exports the read-only introspection surface on the
// system bus when cfg.Enabled, returning nil when disabled.
func buildDBusService(cfg config.DBusConfig, registry *hostif.Registry, stats *hostif.StatsAggregator, logger *slog.Logger) (*dbusapi.Service, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect to system bus: %w", err)
	}

	svc, err := dbusapi.NewService(conn, registry, stats, logger)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("export dbus service: %w", err)
	}

	logger.Info("dbus introspection service exported", slog.String("name", dbusapi.InterfaceName))

	return svc, nil
}

func closeOVSDB(closer io.Closer, logger *slog.Logger) {
	if closer == nil {
		return
	}
	if err := closer.Close(); err != nil {
		logger.Warn("failed to close ovsdb connection", slog.String("error", err.Error()))
	}
}

func closeDBusService(svc *dbusapi.Service, logger *slog.Logger) {
	if svc == nil {
		return
	}
	if err := svc.Close(); err != nil {
		logger.Warn("failed to close dbus service", slog.String("error", err.Error()))
	}
}

// allocFragmentBuffer backs hostif.FragmentPools.Alloc with a plain
// make([]byte, ...): the direct/indirect mbuf pool pair of §3 Data Model
// is a DPDK-specific allocator out of scope per §1, so fragment buffers
// here are ordinary garbage-collected slices sized to headSpace+size.
func allocFragmentBuffer(headSpace, size int) []byte {
	return make([]byte, headSpace+size)
}

// runServers sets up and runs the gRPC and metrics HTTP servers using an
// errgroup with signal-aware context for graceful shutdown.
func runServers(
	cfg *config.Config,
	collector *hostifmetrics.Collector,
	reg *prometheus.Registry,
	logger *slog.Logger,
	configPath string,
	logLevel *slog.LevelVar,
	fr *trace.FlightRecorder,
) error {
	ctx0, cancel0 := context.WithTimeout(context.Background(), 30*time.Second)
	dp, err := buildDatapath(ctx0, cfg, logger)
	cancel0()
	if err != nil {
		return fmt.Errorf("build datapath: %w", err)
	}
	defer dp.registry.Stop()
	defer closeOVSDB(dp.ovsdbCloser, logger)
	defer closeDBusService(dp.dbusSvc, logger)

	metricsSrv := newMetricsServer(cfg.Metrics, reg)
	grpcSrv := newGRPCServer(cfg.GRPC, dp.facade, dp.registry, logger)

	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return dp.sched.Run(gCtx)
	})

	startHTTPServers(gCtx, g, cfg, grpcSrv, metricsSrv, logger)
	startDaemonGoroutines(gCtx, g, configPath, logLevel, dp, logger)
	startGaugeUpdater(gCtx, g, dp, collector)

	ifMonitor := netio.NewStubInterfaceMonitor(logger)
	lsCloser, err := startLinkStateHandler(gCtx, g, cfg.LinkState, ifMonitor, logger)
	if err != nil {
		return fmt.Errorf("start linkstate handler: %w", err)
	}
	defer closeLinkStateClient(lsCloser, logger)

	recon := newVifReconciler(dp.facade, logger)
	reconcileVifs(gCtx, recon, cfg.Vifs, logger)

	notifyReady(logger)

	g.Go(func() error {
		<-gCtx.Done()
		return gracefulShutdown(gCtx, dp, logger, fr, grpcSrv, metricsSrv)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("run servers: %w", err)
	}
	return nil
}

// startHTTPServers registers the gRPC and metrics HTTP server goroutines.
func startHTTPServers(
	ctx context.Context,
	g *errgroup.Group,
	cfg *config.Config,
	grpcSrv *http.Server,
	metricsSrv *http.Server,
	logger *slog.Logger,
) {
	lc := net.ListenConfig{}

	g.Go(func() error {
		logger.Info("gRPC server listening", slog.String("addr", cfg.GRPC.Addr))
		return listenAndServe(ctx, &lc, grpcSrv, cfg.GRPC.Addr)
	})

	g.Go(func() error {
		logger.Info("metrics server listening",
			slog.String("addr", cfg.Metrics.Addr),
			slog.String("path", cfg.Metrics.Path),
		)
		return listenAndServe(ctx, &lc, metricsSrv, cfg.Metrics.Addr)
	})
}

// startDaemonGoroutines registers the watchdog and SIGHUP reload goroutines.
func startDaemonGoroutines(
	ctx context.Context,
	g *errgroup.Group,
	configPath string,
	logLevel *slog.LevelVar,
	dp *datapath,
	logger *slog.Logger,
) {
	g.Go(func() error {
		return runWatchdog(ctx, logger)
	})

	sigHUP := make(chan os.Signal, 1)
	signal.Notify(sigHUP, syscall.SIGHUP)
	g.Go(func() error {
		defer signal.Stop(sigHUP)
		handleSIGHUP(ctx, sigHUP, configPath, logLevel, dp, logger)
		return nil
	})
}

// startGaugeUpdater periodically refreshes the scheduled-queue, monitored-
// vif and agent-ring-depth gauges (§6, §4.F, §3 Data Model "Global").
func startGaugeUpdater(ctx context.Context, g *errgroup.Group, dp *datapath, collector *hostifmetrics.Collector) {
	g.Go(func() error {
		ticker := time.NewTicker(gaugeUpdateInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				collector.SetScheduledQueues(dp.sched.ScheduledQueueCount())
				collector.SetAgentRingDepth(dp.ring.Depth())
				collector.SetMonitoredVifs(dp.monitors.Count())
			}
		}
	})
}

// -------------------------------------------------------------------------
// Systemd Integration — sd_notify + watchdog
// -------------------------------------------------------------------------

func notifyReady(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		logger.Warn("failed to notify systemd readiness", slog.String("error", err.Error()))
		return
	}
	if sent {
		logger.Info("notified systemd: READY")
	}
}

func notifyStopping(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyStopping)
	if err != nil {
		logger.Warn("failed to notify systemd stopping", slog.String("error", err.Error()))
		return
	}
	if sent {
		logger.Info("notified systemd: STOPPING")
	}
}

// runWatchdog sends periodic watchdog keepalives to systemd at half the
// configured interval. If watchdog is not configured, it exits immediately.
func runWatchdog(ctx context.Context, logger *slog.Logger) error {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		logger.Warn("failed to check systemd watchdog", slog.String("error", err.Error()))
		return nil
	}
	if interval == 0 {
		logger.Debug("systemd watchdog not configured, skipping keepalive")
		return nil
	}

	tickInterval := interval / 2
	logger.Info("systemd watchdog enabled",
		slog.Duration("watchdog_sec", interval),
		slog.Duration("keepalive_interval", tickInterval),
	)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, wdErr := daemon.SdNotify(false, daemon.SdNotifyWatchdog); wdErr != nil {
				logger.Warn("failed to send watchdog keepalive", slog.String("error", wdErr.Error()))
			}
		}
	}
}

// -------------------------------------------------------------------------
// SIGHUP Reload — log level + vif reconciliation
// -------------------------------------------------------------------------

func handleSIGHUP(
	ctx context.Context,
	sigHUP <-chan os.Signal,
	configPath string,
	logLevel *slog.LevelVar,
	dp *datapath,
	logger *slog.Logger,
) {
	recon := newVifReconciler(dp.facade, logger)
	for {
		select {
		case <-ctx.Done():
			return
		case <-sigHUP:
			logger.Info("received SIGHUP, reloading configuration")
			reloadConfig(ctx, configPath, logLevel, recon, logger)
		}
	}
}

// reloadConfig loads a fresh configuration, updates the dynamic log
// level, and reconciles declarative vifs. Errors are logged but do not
// stop the daemon; the previous configuration remains in effect.
func reloadConfig(
	ctx context.Context,
	configPath string,
	logLevel *slog.LevelVar,
	recon *vifReconciler,
	logger *slog.Logger,
) {
	newCfg, err := loadConfig(configPath)
	if err != nil {
		logger.Error("failed to reload configuration, keeping current settings", slog.String("error", err.Error()))
		return
	}

	oldLevel := logLevel.Level()
	newLevel := config.ParseLogLevel(newCfg.Log.Level)
	logLevel.Set(newLevel)

	logger.Info("configuration reloaded",
		slog.String("old_log_level", oldLevel.String()),
		slog.String("new_log_level", newLevel.String()),
	)

	reconcileVifs(ctx, recon, newCfg.Vifs, logger)
}

// -------------------------------------------------------------------------
// Vif Reconciliation — declarative interfaces from config.Vifs
// -------------------------------------------------------------------------

// vifReconciler diffs the declarative vif set on each reload against what
// it applied last time, calling facade.Add/Del for entries that appeared,
// disappeared or changed. There is no protocol equivalent of BFD's
// bidirectional session negotiation here (§3 "Interface" is purely
// declarative), so reconciliation is a plain set diff keyed by idx.
type vifReconciler struct {
	mu      sync.Mutex
	facade  *hostif.Facade
	applied map[int32]config.VifConfig
	logger  *slog.Logger
}

func newVifReconciler(facade *hostif.Facade, logger *slog.Logger) *vifReconciler {
	return &vifReconciler{
		facade:  facade,
		applied: make(map[int32]config.VifConfig),
		logger:  logger.With(slog.String("component", "vrouterd.reconciler")),
	}
}

// reconcile adds vifs newly present in desired, deletes ones no longer
// present, and replaces (del then add) ones whose declarative fields
// changed. It returns the counts of vifs created and destroyed.
func (r *vifReconciler) reconcile(ctx context.Context, desired []config.VifConfig) (created, destroyed int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	desiredByIdx := make(map[int32]config.VifConfig, len(desired))
	for _, vc := range desired {
		desiredByIdx[vc.Idx] = vc
	}

	for idx, prev := range r.applied {
		if next, ok := desiredByIdx[idx]; ok && next == prev {
			continue
		}
		if err := r.facade.Del(idx); err != nil {
			r.logger.ErrorContext(ctx, "failed to delete vif during reconciliation",
				slog.Int("idx", int(idx)), slog.String("error", err.Error()))
			continue
		}
		destroyed++
		delete(r.applied, idx)
	}

	for idx, vc := range desiredByIdx {
		if _, ok := r.applied[idx]; ok {
			continue
		}
		v, err := vifFromConfig(vc)
		if err != nil {
			r.logger.ErrorContext(ctx, "invalid vif config, skipping",
				slog.Int("idx", int(idx)), slog.String("error", err.Error()))
			continue
		}
		if err := r.facade.Add(v); err != nil {
			r.logger.ErrorContext(ctx, "failed to add vif during reconciliation",
				slog.Int("idx", int(idx)), slog.String("error", err.Error()))
			continue
		}
		created++
		r.applied[idx] = vc
	}

	return created, destroyed
}

func reconcileVifs(ctx context.Context, recon *vifReconciler, vifs []config.VifConfig, logger *slog.Logger) {
	if len(vifs) == 0 {
		logger.Debug("no declarative vifs in config, skipping reconciliation")
		return
	}
	created, destroyed := recon.reconcile(ctx, vifs)
	logger.Info("vif reconciliation complete", slog.Int("created", created), slog.Int("destroyed", destroyed))
}

// vifFromConfig converts a config.VifConfig into a *hostif.Vif, parsing
// its PCI DBDF string or adopting a direct PMD port id, and its MAC
// address string (§3 Data Model "Interface").
func vifFromConfig(vc config.VifConfig) (*hostif.Vif, error) {
	v := &hostif.Vif{
		Idx:  vc.Idx,
		Kind: vifKindFromString(vc.Kind),
		MTU:  vc.MTU,
	}

	switch {
	case vc.Kind == "fabric" && vc.PCI != "":
		d, err := parsePCI(vc.PCI)
		if err != nil {
			return nil, fmt.Errorf("parse pci %q: %w", vc.PCI, err)
		}
		v.OSIndex = hostif.EncodeDBDF(d)
	case vc.Kind == "fabric":
		v.OSIndex = vc.PMDPort
		v.Flags.Set(hostif.FlagPMD)
	default:
		v.OSIndex = vc.PMDPort
	}

	if vc.MAC != "" {
		mac, err := parseMAC(vc.MAC)
		if err != nil {
			return nil, fmt.Errorf("parse mac %q: %w", vc.MAC, err)
		}
		v.MAC = mac
	}

	return v, nil
}

func vifKindFromString(s string) hostif.Kind {
	switch s {
	case "fabric":
		return hostif.KindFabric
	case "virtual":
		return hostif.KindVirtual
	case "vhost":
		return hostif.KindVhost
	case "agent":
		return hostif.KindAgent
	case "monitoring":
		return hostif.KindMonitoring
	default:
		return hostif.Kind(255)
	}
}

var errMalformedPCI = errors.New("malformed pci dbdf string")

// parsePCI parses a "dddd:bb:dd.f" PCI DBDF string into a hostif.DBDF.
func parsePCI(s string) (hostif.DBDF, error) {
	var domain, bus, dev, fn uint32
	n, err := fmt.Sscanf(s, "%04x:%02x:%02x.%d", &domain, &bus, &dev, &fn)
	if err != nil || n != 4 {
		return hostif.DBDF{}, fmt.Errorf("%q: %w", s, errMalformedPCI)
	}
	return hostif.DBDF{Domain: uint16(domain), Bus: uint8(bus), Dev: uint8(dev), Func: uint8(fn)}, nil
}

var errMalformedMAC = errors.New("malformed mac address string")

// parseMAC parses an "aa:bb:cc:dd:ee:ff" MAC string into a hostif.MAC.
func parseMAC(s string) (hostif.MAC, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 6 {
		return hostif.MAC{}, fmt.Errorf("%q: %w", s, errMalformedMAC)
	}
	var mac hostif.MAC
	for i, p := range parts {
		var b uint32
		if _, err := fmt.Sscanf(p, "%02x", &b); err != nil {
			return hostif.MAC{}, fmt.Errorf("%q: %w", s, errMalformedMAC)
		}
		mac[i] = byte(b)
	}
	return mac, nil
}

// -------------------------------------------------------------------------
// Link-State Integration — fabric link-state-to-BGP bridge
// -------------------------------------------------------------------------

// closeLinkStateClient closes the linkstate GoBGP client if non-nil,
// logging any error.
func closeLinkStateClient(client linkstate.Client, logger *slog.Logger) {
	if client == nil {
		return
	}
	if err := client.Close(); err != nil {
		logger.Warn("failed to close linkstate gobgp client", slog.String("error", err.Error()))
	}
}

// startLinkStateHandler creates and starts the link-state handler
// goroutine if enabled. Returns the GoBGP client (for deferred Close) and
// any initialization error. Returns nil client when disabled.
func startLinkStateHandler(
	ctx context.Context,
	g *errgroup.Group,
	cfg config.LinkStateConfig,
	mon netio.InterfaceMonitor,
	logger *slog.Logger,
) (linkstate.Client, error) {
	if !cfg.Enabled {
		logger.Info("linkstate integration disabled")
		return nil, nil
	}

	client, err := linkstate.NewGRPCClient(linkstate.GRPCClientConfig{Addr: cfg.GoBGPAddr}, logger)
	if err != nil {
		return nil, fmt.Errorf("create linkstate gobgp client: %w", err)
	}

	bindings := make(map[string][]string, len(cfg.Bindings))
	for _, b := range cfg.Bindings {
		bindings[b.IfName] = b.Peers
	}

	handler, err := linkstate.NewHandler(linkstate.HandlerConfig{
		Client:   client,
		Strategy: linkstate.Strategy(cfg.Strategy),
		Bindings: bindings,
		Dampening: linkstate.DampeningConfig{
			Enabled:           cfg.DampeningEnabled,
			SuppressThreshold: cfg.DampeningSuppressThreshold,
			ReuseThreshold:    cfg.DampeningReuseThreshold,
			MaxSuppressTime:   time.Duration(cfg.DampeningMaxSuppressSeconds) * time.Second,
			HalfLife:          time.Duration(cfg.DampeningHalfLifeSeconds) * time.Second,
		},
		Logger: logger,
	})
	if err != nil {
		closeLinkStateClient(client, logger)
		return nil, fmt.Errorf("create linkstate handler: %w", err)
	}

	g.Go(func() error {
		return mon.Run(ctx)
	})
	g.Go(func() error {
		return handler.Run(ctx, mon.Events())
	})

	logger.Info("linkstate integration enabled",
		slog.String("gobgp_addr", cfg.GoBGPAddr),
		slog.String("strategy", cfg.Strategy),
		slog.Bool("dampening", cfg.DampeningEnabled),
		slog.Int("bindings", len(bindings)),
	)

	return client, nil
}

// loadConfig loads configuration from a file path or returns defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
		return cfg, nil
	}
	return config.DefaultConfig(), nil
}

// newLoggerWithLevel creates a structured logger using a shared LevelVar
// for dynamic log level changes via SIGHUP reload.
func newLoggerWithLevel(cfg config.LogConfig, level *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

// -------------------------------------------------------------------------
// Graceful Shutdown
// -------------------------------------------------------------------------

// gracefulShutdown performs an orderly shutdown: signals systemd, stops
// the registry (rejecting further add/del while in-flight TX completes),
// stops the flight recorder, then shuts down HTTP servers.
func gracefulShutdown(
	ctx context.Context,
	dp *datapath,
	logger *slog.Logger,
	fr *trace.FlightRecorder,
	servers ...*http.Server,
) error {
	logger.Info("initiating graceful shutdown")
	notifyStopping(logger)

	dp.registry.Stop()
	time.Sleep(drainTimeout)

	if fr != nil {
		fr.Stop()
		logger.Debug("flight recorder stopped")
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	var shutdownErr error
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("shutdown server: %w", err))
		}
	}
	return shutdownErr
}

// -------------------------------------------------------------------------
// Flight Recorder — Go 1.26 runtime/trace
// -------------------------------------------------------------------------

func startFlightRecorder(logger *slog.Logger) *trace.FlightRecorder {
	fr := trace.NewFlightRecorder(trace.FlightRecorderConfig{
		MinAge:   flightRecorderMinAge,
		MaxBytes: flightRecorderMaxBytes,
	})

	if err := fr.Start(); err != nil {
		logger.Warn("failed to start flight recorder", slog.String("error", err.Error()))
		return nil
	}

	logger.Info("flight recorder started",
		slog.Duration("min_age", flightRecorderMinAge),
		slog.Uint64("max_bytes", flightRecorderMaxBytes),
	)

	return fr
}

// -------------------------------------------------------------------------
// Server Setup
// -------------------------------------------------------------------------

func listenAndServe(ctx context.Context, lc *net.ListenConfig, srv *http.Server, addr string) error {
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve on %s: %w", addr, err)
	}
	return nil
}

func newMetricsServer(cfg config.MetricsConfig, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// newGRPCServer creates an HTTP server for the ConnectRPC host-interface
// endpoint. The handler is wrapped with h2c to support HTTP/2 without TLS,
// required for gRPC clients connecting over plaintext (e.g., vifctl).
// Includes standard gRPC health checking (grpc.health.v1).
func newGRPCServer(cfg config.GRPCConfig, facade *hostif.Facade, registry *hostif.Registry, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()

	path, handler := server.New(facade, registry, logger,
		server.LoggingInterceptorOption(logger),
		server.RecoveryInterceptorOption(logger),
	)
	mux.Handle(path, handler)

	checker := grpchealth.NewStaticChecker(
		grpchealth.HealthV1ServiceName,
		server.ServiceName,
	)
	mux.Handle(grpchealth.NewHandler(checker))

	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           h2c.NewHandler(mux, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}
}
