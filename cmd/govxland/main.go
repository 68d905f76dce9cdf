// govxland is a VXLAN tunnel endpoint daemon (RFC 7348) with multicast
// flood-and-learn and an optional EVPN control plane through GoBGP.
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
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	"connectrpc.com/grpchealth"
	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/sync/errgroup"

	"github.com/dantte-lp/govxlan/internal/config"
	"github.com/dantte-lp/govxlan/internal/evpn"
	vxlanmetrics "github.com/dantte-lp/govxlan/internal/metrics"
	"github.com/dantte-lp/govxlan/internal/netio"
	"github.com/dantte-lp/govxlan/internal/server"
	appversion "github.com/dantte-lp/govxlan/internal/version"
	"github.com/dantte-lp/govxlan/internal/vxlan"
	"github.com/dantte-lp/govxlan/pkg/vxlanapi"
)

// shutdownTimeout is the maximum time to wait for HTTP servers to drain
// active connections during graceful shutdown.
const shutdownTimeout = 10 * time.Second

// flags holds the command line. Non-zero values override the config file.
type flags struct {
	configPath string
	group      string
	iface      string
	port       int
	console    bool
	notify     bool
	version    bool
}

func parseFlags(fs *flag.FlagSet, args []string) (flags, error) {
	var f flags
	fs.StringVar(&f.configPath, "config", "", "path to configuration file (YAML)")
	fs.StringVar(&f.group, "m", "", "multicast group address (overrides overlay.group)")
	fs.StringVar(&f.iface, "i", "", "interface for multicast membership (overrides overlay.interface)")
	fs.IntVar(&f.port, "p", 0, "VXLAN UDP port (overrides overlay.port)")
	fs.BoolVar(&f.console, "e", false, "log to stderr instead of the configured output")
	fs.BoolVar(&f.notify, "d", false, "run as a systemd notify service (READY, STOPPING, watchdog)")
	fs.BoolVar(&f.version, "version", false, "print version and exit")

	if err := fs.Parse(args); err != nil {
		return flags{}, fmt.Errorf("parse flags: %w", err)
	}
	return f, nil
}

func main() {
	os.Exit(run())
}

func run() int {
	// 1. Parse flags.
	f, err := parseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		return 1
	}
	if f.version {
		fmt.Println(appversion.Full("govxland"))
		return 0
	}

	// 2. Load config.
	cfg, err := loadConfig(f)
	if err != nil {
		// Logger is not set up yet; use a temporary stderr logger.
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("failed to load configuration",
			slog.String("error", err.Error()),
		)
		return 1
	}

	// 3. Set up logger with dynamic level support for SIGHUP reload.
	logLevel := new(slog.LevelVar)
	logLevel.Set(config.ParseLogLevel(cfg.Log.Level))
	logger, logCloser := newLogger(cfg.Log, f.console, logLevel)
	defer closeLogOutput(logCloser)

	logger.Info("govxland starting",
		slog.String("version", appversion.Version),
		slog.String("group", cfg.Overlay.Group),
		slog.Int("port", cfg.Overlay.Port),
		slog.String("grpc_addr", cfg.GRPC.Addr),
	)

	// 4. Create Prometheus metrics collector.
	reg := prometheus.NewRegistry()
	collector := vxlanmetrics.NewCollector(reg)

	if err := runDaemon(cfg, f, reg, collector, logger, logLevel); err != nil {
		logger.Error("govxland exited with error",
			slog.String("error", err.Error()),
		)
		return 1
	}

	logger.Info("govxland stopped")
	return 0
}

// runDaemon opens the overlay socket, starts every task in an errgroup and
// tears everything down in order once a signal arrives or a task fails.
func runDaemon(
	cfg *config.Config,
	f flags,
	reg *prometheus.Registry,
	collector *vxlanmetrics.Collector,
	logger *slog.Logger,
	logLevel *slog.LevelVar,
) error {
	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer stop()

	overlay, err := netio.OpenMulticastSocket(ctx, netio.MulticastConfig{
		Group:     cfg.Overlay.Group,
		Interface: cfg.Overlay.Interface,
		Port:      uint16(cfg.Overlay.Port), //nolint:gosec // validated to 1..65535
		TTL:       cfg.Overlay.TTL,
	}, logger)
	if err != nil {
		return fmt.Errorf("open overlay socket: %w", err)
	}
	defer closeOverlay(overlay, logger)

	mgr := vxlan.NewManager(overlay, netio.OpenPort, logger,
		vxlan.WithMetrics(collector),
		vxlan.WithFDBMaxEntries(cfg.FDB.MaxEntries),
	)
	// Runs before closeOverlay: instances are gone before the socket is.
	defer mgr.Close()

	reconcileInstances(ctx, cfg, mgr, logger)

	g, gCtx := errgroup.WithContext(ctx)

	recv := netio.NewReceiver(mgr, logger)
	g.Go(func() error {
		return recv.Run(gCtx, overlay)
	})

	g.Go(func() error {
		mgr.RunAging(gCtx, cfg.FDB.SweepInterval, cfg.FDB.AgingTime)
		return nil
	})

	grpcSrv := newGRPCServer(cfg.GRPC, mgr, logger)
	servers := []*http.Server{grpcSrv}
	startHTTPServer(gCtx, g, grpcSrv, "control", logger)

	if cfg.Metrics.Addr != "" {
		metricsSrv := newMetricsServer(cfg.Metrics, reg)
		servers = append(servers, metricsSrv)
		startHTTPServer(gCtx, g, metricsSrv, "metrics", logger)
	}

	// Shutdown goroutine: waits for context cancellation.
	g.Go(func() error {
		<-gCtx.Done()
		return gracefulShutdown(gCtx, f.notify, logger, servers...)
	})

	bgpClient, err := startEVPNHandler(gCtx, g, cfg.EVPN, mgr, logger)
	if err != nil {
		stop()
		_ = g.Wait()
		return fmt.Errorf("start evpn handler: %w", err)
	}
	defer closeEVPNClient(bgpClient, logger)

	startSIGHUPHandler(gCtx, g, f, logLevel, mgr, logger)

	if f.notify {
		g.Go(func() error {
			return runWatchdog(gCtx, logger)
		})
		notifyReady(logger, len(mgr.ListInstances()))
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("run daemon: %w", err)
	}
	return nil
}

// -------------------------------------------------------------------------
// Configuration
// -------------------------------------------------------------------------

// loadConfig loads the configuration file, applies flag overrides and
// validates the result.
func loadConfig(f flags) (*config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, err
	}

	applyFlags(cfg, f)

	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func applyFlags(cfg *config.Config, f flags) {
	if f.group != "" {
		cfg.Overlay.Group = f.group
	}
	if f.iface != "" {
		cfg.Overlay.Interface = f.iface
	}
	if f.port != 0 {
		cfg.Overlay.Port = f.port
	}
	if f.console {
		cfg.Log.Output = config.OutputStderr
	}
}

// desiredInstances converts declarative instances, resolving group names.
// Entries that fail to resolve are logged and skipped.
func desiredInstances(ctx context.Context, cfg *config.Config, logger *slog.Logger) []vxlan.InstanceConfig {
	desired := make([]vxlan.InstanceConfig, 0, len(cfg.Instances))
	for _, ic := range cfg.Instances {
		inst := vxlan.InstanceConfig{
			VNI:      vxlan.VNI(ic.VNI),
			PortName: ic.PortName,
		}
		if ic.Group != "" {
			group, err := netio.ResolveGroup(ctx, ic.Group)
			if err != nil {
				logger.Error("invalid instance group, skipping",
					slog.Uint64("vni", uint64(ic.VNI)),
					slog.String("error", err.Error()),
				)
				continue
			}
			inst.Group = group
		}
		desired = append(desired, inst)
	}
	return desired
}

// reconcileInstances makes the declarative instances match cfg.
func reconcileInstances(ctx context.Context, cfg *config.Config, mgr *vxlan.Manager, logger *slog.Logger) {
	// The manager logs the summary.
	created, destroyed, err := mgr.ReconcileInstances(ctx, desiredInstances(ctx, cfg, logger))
	if err != nil {
		logger.Error("instance reconciliation had errors",
			slog.Int("created", created),
			slog.Int("destroyed", destroyed),
			slog.String("error", err.Error()),
		)
	}
}

// -------------------------------------------------------------------------
// SIGHUP
// -------------------------------------------------------------------------

func startSIGHUPHandler(
	ctx context.Context,
	g *errgroup.Group,
	f flags,
	logLevel *slog.LevelVar,
	mgr *vxlan.Manager,
	logger *slog.Logger,
) {
	sigHUP := make(chan os.Signal, 1)
	signal.Notify(sigHUP, syscall.SIGHUP)

	g.Go(func() error {
		defer signal.Stop(sigHUP)
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-sigHUP:
				logger.Info("received SIGHUP, reloading configuration")
				reloadConfig(ctx, f, logLevel, mgr, logger)
			}
		}
	})
}

// reloadConfig re-reads the configuration, applies the log level and
// reconciles declarative instances. Overlay settings need a restart.
func reloadConfig(
	ctx context.Context,
	f flags,
	logLevel *slog.LevelVar,
	mgr *vxlan.Manager,
	logger *slog.Logger,
) {
	newCfg, err := loadConfig(f)
	if err != nil {
		logger.Error("failed to reload configuration, keeping current settings",
			slog.String("error", err.Error()),
		)
		return
	}

	oldLevel := logLevel.Level()
	newLevel := config.ParseLogLevel(newCfg.Log.Level)
	logLevel.Set(newLevel)

	logger.Info("configuration reloaded",
		slog.String("old_log_level", oldLevel.String()),
		slog.String("new_log_level", newLevel.String()),
	)

	reconcileInstances(ctx, newCfg, mgr, logger)
}

// -------------------------------------------------------------------------
// systemd
// -------------------------------------------------------------------------

// sdNotify sends state to systemd. Outside systemd it is a no-op.
func sdNotify(logger *slog.Logger, state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		logger.Warn("systemd notify failed",
			slog.String("state", state),
			slog.String("error", err.Error()),
		)
		return
	}
	if sent {
		logger.Info("systemd notified", slog.String("state", state))
	}
}

func notifyReady(logger *slog.Logger, instances int) {
	sdNotify(logger, fmt.Sprintf("%s\nSTATUS=serving %d instances", daemon.SdNotifyReady, instances))
}

func notifyStopping(logger *slog.Logger) {
	sdNotify(logger, daemon.SdNotifyStopping)
}

// runWatchdog sends keepalives at half the WatchdogSec interval.
func runWatchdog(ctx context.Context, logger *slog.Logger) error {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		logger.Warn("failed to check systemd watchdog",
			slog.String("error", err.Error()),
		)
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
				logger.Warn("failed to send watchdog keepalive",
					slog.String("error", wdErr.Error()),
				)
			}
		}
	}
}

// -------------------------------------------------------------------------
// Shutdown
// -------------------------------------------------------------------------

// gracefulShutdown stops accepting control requests. Instances and the
// overlay socket are released by runDaemon's deferred calls after every
// task has returned.
func gracefulShutdown(ctx context.Context, notify bool, logger *slog.Logger, servers ...*http.Server) error {
	logger.Info("initiating graceful shutdown")
	if notify {
		notifyStopping(logger)
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

func closeOverlay(c io.Closer, logger *slog.Logger) {
	if err := c.Close(); err != nil {
		logger.Warn("failed to close overlay socket",
			slog.String("error", err.Error()),
		)
	}
}

// -------------------------------------------------------------------------
// Server Setup
// -------------------------------------------------------------------------

func startHTTPServer(ctx context.Context, g *errgroup.Group, srv *http.Server, name string, logger *slog.Logger) {
	lc := net.ListenConfig{}

	g.Go(func() error {
		logger.Info(name+" server listening", slog.String("addr", srv.Addr))
		return listenAndServe(ctx, &lc, srv)
	})
}

// listenAndServe creates a TCP listener using the ListenConfig and serves
// HTTP requests until the server is shut down.
func listenAndServe(ctx context.Context, lc *net.ListenConfig, srv *http.Server) error {
	ln, err := lc.Listen(ctx, "tcp", srv.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", srv.Addr, err)
	}
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve on %s: %w", srv.Addr, err)
	}
	return nil
}

// newMetricsServer creates an HTTP server for the Prometheus metrics endpoint.
func newMetricsServer(cfg config.MetricsConfig, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// newGRPCServer creates the control channel server. The handler is wrapped
// with h2c so gRPC clients can use HTTP/2 without TLS, and serves
// grpc.health.v1 next to the VTEP service.
func newGRPCServer(cfg config.GRPCConfig, mgr *vxlan.Manager, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()

	path, handler := server.New(mgr, logger,
		server.LoggingInterceptorOption(logger),
		server.RecoveryInterceptorOption(logger),
	)
	mux.Handle(path, handler)

	checker := grpchealth.NewStaticChecker(
		grpchealth.HealthV1ServiceName,
		vxlanapi.ServiceName,
	)
	mux.Handle(grpchealth.NewHandler(checker))

	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           h2c.NewHandler(mux, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// -------------------------------------------------------------------------
// EVPN
// -------------------------------------------------------------------------

// startEVPNHandler starts the MAC advertisement goroutine if enabled. It
// returns the GoBGP client for deferred Close, or nil when disabled.
func startEVPNHandler(
	ctx context.Context,
	g *errgroup.Group,
	cfg config.EVPNConfig,
	mgr *vxlan.Manager,
	logger *slog.Logger,
) (evpn.Client, error) {
	if !cfg.Enabled {
		logger.Info("evpn disabled")
		return nil, nil
	}

	nextHop, err := netip.ParseAddr(cfg.NextHop)
	if err != nil {
		return nil, fmt.Errorf("parse next hop %q: %w", cfg.NextHop, err)
	}

	client, err := evpn.NewGRPCClient(cfg.GoBGPAddr, logger)
	if err != nil {
		return nil, fmt.Errorf("create gobgp client: %w", err)
	}

	handler, err := evpn.NewHandler(evpn.HandlerConfig{
		Client:             client,
		RouteDistinguisher: cfg.RouteDistinguisher,
		NextHop:            nextHop,
		Logger:             logger,
	})
	if err != nil {
		closeEVPNClient(client, logger)
		return nil, fmt.Errorf("create evpn handler: %w", err)
	}

	g.Go(func() error {
		return handler.Run(ctx, mgr.MACEvents())
	})

	logger.Info("evpn enabled",
		slog.String("gobgp_addr", cfg.GoBGPAddr),
		slog.String("next_hop", cfg.NextHop),
	)

	return client, nil
}

func closeEVPNClient(client evpn.Client, logger *slog.Logger) {
	if client == nil {
		return
	}
	if err := client.Close(); err != nil {
		logger.Warn("failed to close gobgp client",
			slog.String("error", err.Error()),
		)
	}
}
