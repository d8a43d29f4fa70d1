// Package server wires the native protocol adapters, the plugin state
// engine, the change journal and snapshot manager, and the forced-tool
// pipeline into one running hostctld process.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hostctl/hostctl/internal/adapters"
	"github.com/hostctl/hostctl/internal/adapters/dbus"
	"github.com/hostctl/hostctl/internal/adapters/netlink"
	"github.com/hostctl/hostctl/internal/adapters/ovsdb"
	"github.com/hostctl/hostctl/internal/adapters/packagekit"
	"github.com/hostctl/hostctl/internal/config"
	"github.com/hostctl/hostctl/internal/journal"
	"github.com/hostctl/hostctl/internal/metrics"
	"github.com/hostctl/hostctl/internal/orchestrator/pipeline"
	"github.com/hostctl/hostctl/internal/orchestrator/providers"
	"github.com/hostctl/hostctl/internal/orchestrator/tools"
	"github.com/hostctl/hostctl/internal/sessions"
	"github.com/hostctl/hostctl/internal/snapshot"
	"github.com/hostctl/hostctl/internal/stateengine"
	"github.com/hostctl/hostctl/internal/stateengine/builtin"
	"github.com/hostctl/hostctl/internal/tracing"
)

// Daemon owns every long-lived subsystem hostctld needs to serve one
// process lifetime.
type Daemon struct {
	cfg *config.Config
	log *slog.Logger

	dbusAdapter       *dbus.Adapter
	ovsdbClient       *ovsdb.Client
	netlinkAdapter    *netlink.Adapter
	packagekitAdapter *packagekit.Adapter

	Journal  *journal.Journal
	Engine   *stateengine.Engine
	Snapshot *snapshot.SnapshotManager
	Registry *tools.Registry
	Sessions sessions.Store
	Pipeline *pipeline.Pipeline
	Metrics  *metrics.Metrics
	Tracer   *tracing.Tracer

	snapshotScheduler *snapshot.Scheduler
	modelWatcher      *modelWatcher
	tracerShutdown    func(context.Context) error
}

// New connects every adapter the host actually supports, builds the
// plugin state engine and tool registry around them, and assembles the
// forced-tool pipeline. Adapters that fail to connect are simply omitted
// from both the engine and the tool registry; New never fails solely
// because one native protocol is unavailable on this host.
func New(ctx context.Context, cfg *config.Config) (*Daemon, error) {
	log := newLogger(cfg.Logging)

	// Under the PerOperation snapshot interval every journal record is
	// fsynced, whatever fsync_every_write says.
	fsync := cfg.Journal.FsyncEveryWrite || snapshot.ParseInterval(cfg.Snapshot.Interval) == snapshot.PerOperation
	j, err := journal.Open(cfg.Journal.Path, fsync)
	if err != nil {
		return nil, fmt.Errorf("daemon: open journal: %w", err)
	}
	if cfg.Journal.SQLiteMirrorPath != "" {
		if err := j.EnableSQLiteMirror(cfg.Journal.SQLiteMirrorPath); err != nil {
			log.Warn("journal sqlite mirror unavailable", "error", err)
		}
	}

	d := &Daemon{
		cfg:      cfg,
		log:      log,
		Journal:  j,
		Engine:   stateengine.NewEngine(j),
		Registry: tools.NewRegistry(),
		Sessions: buildSessionStore(cfg.Sessions, log),
		Metrics:  metrics.New(),
	}

	report := adapters.NewProber().Probe(ctx)
	d.connectAdapters(ctx, report)
	d.registerPlugins()
	d.registerTools()

	if err := d.buildSnapshotManager(); err != nil {
		log.Warn("snapshot manager unavailable", "error", err)
	} else {
		d.startSnapshotScheduler()
	}

	provider, err := d.buildProvider()
	if err != nil {
		_ = j.Close()
		return nil, fmt.Errorf("daemon: build LLM provider: %w", err)
	}
	d.Pipeline = pipeline.New(d.Registry, provider, d.Sessions, cfg.LLM.Providers[cfg.LLM.DefaultProvider].DefaultModel,
		pipeline.WithMaxToolTurns(cfg.Pipeline.MaxToolTurns), pipeline.WithLogger(log))

	d.startModelWatcher()

	tracer, shutdown := tracing.New(tracing.Config{ServiceName: "hostctld"})
	d.Tracer = tracer
	d.tracerShutdown = shutdown

	return d, nil
}

// buildSessionStore selects the session-store backend. CockroachDB gives
// durable, horizontally-scalable session storage for multi-replica
// deployments; the in-memory store (default) is the right choice for a
// single daemon instance and for tests.
func buildSessionStore(cfg config.SessionsConfig, log *slog.Logger) sessions.Store {
	if cfg.Backend != "cockroach" {
		return sessions.NewMemoryStore()
	}
	store, err := sessions.NewCockroachStoreFromDSN(cfg.CockroachDSN, nil)
	if err != nil {
		log.Warn("cockroach session store unavailable, falling back to memory", "error", err)
		return sessions.NewMemoryStore()
	}
	return store
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	return slog.New(handler).With("component", "hostctld")
}

func (d *Daemon) connectAdapters(ctx context.Context, report adapters.CapabilityReport) {
	if report.SystemdAvailable {
		if a, err := dbus.Connect(dbus.Config{}); err == nil {
			d.dbusAdapter = a
		} else {
			d.log.Warn("dbus adapter unavailable", "error", err)
		}
	}
	if report.OVSDBSocketPresent {
		socket := d.cfg.Adapters.OVSDBSocket
		if c, err := ovsdb.Dial(ctx, socket); err == nil {
			d.ovsdbClient = c
		} else {
			d.log.Warn("ovsdb adapter unavailable", "error", err)
		}
	}
	if report.OVSKernelModule {
		if a, err := netlink.Dial(ctx); err == nil {
			d.netlinkAdapter = a
		} else {
			d.log.Warn("netlink adapter unavailable", "error", err)
		}
	}
	if report.PackageKitRunning {
		if a, err := packagekit.Connect(); err == nil {
			d.packagekitAdapter = a
		} else {
			d.log.Warn("packagekit adapter unavailable", "error", err)
		}
	}
}

// registerPlugins registers the builtin plugins whose backing adapter
// connected successfully. NUMA and btrfs have no adapter dependency and
// are always registered.
func (d *Daemon) registerPlugins() {
	mustRegister := func(p stateengine.Plugin) {
		if err := d.Engine.Register(p); err != nil {
			d.log.Error("plugin registration failed", "plugin", p.Name(), "error", err)
		}
	}

	mustRegister(builtin.NewNumaPlugin(""))
	if d.dbusAdapter != nil {
		mustRegister(builtin.NewSystemdPlugin(d.dbusAdapter, nil))
		mustRegister(builtin.NewLXCPlugin(d.dbusAdapter))
	}
	if d.ovsdbClient != nil {
		mustRegister(builtin.NewNetPlugin(d.ovsdbClient))
	}
	if d.netlinkAdapter != nil && d.ovsdbClient != nil {
		mustRegister(builtin.NewOpenflowPlugin(d.netlinkAdapter))
	}
	if d.packagekitAdapter != nil {
		mustRegister(builtin.NewPackageKitPlugin(d.packagekitAdapter))
	}
	mustRegister(builtin.NewBtrfsPlugin(d.cfg.Snapshot.SourceSubvol))
}

func (d *Daemon) buildSnapshotManager() error {
	if d.cfg.Snapshot.SourceSubvol == "" {
		return fmt.Errorf("snapshot.source_subvolume is not configured")
	}
	cfg := snapshot.SnapshotConfig{
		Dir:          d.cfg.Snapshot.Dir,
		MaxSnapshots: d.cfg.Snapshot.MaxSnapshots,
		Prefix:       d.cfg.Snapshot.Prefix,
	}
	d.Snapshot = snapshot.NewSnapshotManager(d.cfg.Snapshot.SourceSubvol, cfg)
	return nil
}

// startSnapshotScheduler arms a cron-driven snapshot job for the
// configured interval. PerOperation has no cron schedule, so no job is
// armed for it, and no other component takes a snapshot on each
// mutation; under PerOperation the journal fsyncs every record instead.
func (d *Daemon) startSnapshotScheduler() {
	interval := snapshot.ParseInterval(d.cfg.Snapshot.Interval)
	sched, ok := snapshot.NewScheduler(d.Snapshot, interval, d.log)
	if !ok {
		return
	}
	d.snapshotScheduler = sched
	sched.Start()
}

func (d *Daemon) buildProvider() (providers.Provider, error) {
	name := d.cfg.LLM.DefaultProvider
	pc, ok := d.cfg.LLM.Providers[name]
	if !ok {
		return nil, fmt.Errorf("llm provider %q not configured", name)
	}
	switch name {
	case "anthropic":
		return providers.NewAnthropicProvider(pc.APIKey, nil), nil
	case "openai":
		return providers.NewOpenAIProvider(pc.APIKey, nil), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", name)
	}
}

// Serve starts the HTTP health/metrics listener and blocks until ctx is
// canceled, then shuts everything down gracefully.
func (d *Daemon) Serve(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", d.handleHealthz)
	mux.Handle("/metrics", requireOperatorToken(d.cfg.Server.OperatorTokenSecret, promhttp.Handler()))

	addr := fmt.Sprintf("%s:%d", d.cfg.Server.Host, d.cfg.Server.HTTPPort)
	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		d.log.Info("serving", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), d.cfg.Daemon.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		d.log.Warn("http server shutdown error", "error", err)
	}
	return d.Close()
}

func (d *Daemon) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status":"ok","time":%q}`, time.Now().UTC().Format(time.RFC3339))
}

// Close releases every adapter connection and the journal file handle.
func (d *Daemon) Close() error {
	if d.snapshotScheduler != nil {
		d.snapshotScheduler.Stop()
	}
	if d.modelWatcher != nil {
		_ = d.modelWatcher.close()
	}
	if d.tracerShutdown != nil {
		_ = d.tracerShutdown(context.Background())
	}
	if d.dbusAdapter != nil {
		_ = d.dbusAdapter.Close()
	}
	if d.ovsdbClient != nil {
		_ = d.ovsdbClient.Close()
	}
	if d.packagekitAdapter != nil {
		_ = d.packagekitAdapter.Close()
	}
	if closer, ok := d.Sessions.(interface{ Close() error }); ok {
		_ = closer.Close()
	}
	return d.Journal.Close()
}
