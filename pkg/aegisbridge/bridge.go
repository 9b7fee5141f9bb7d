package aegisbridge

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/xid"

	"github.com/ghalamif/AegisBridge/internal/adapters/observability"
	"github.com/ghalamif/AegisBridge/internal/adapters/opcua"
	"github.com/ghalamif/AegisBridge/internal/adapters/queue"
	"github.com/ghalamif/AegisBridge/internal/adapters/sink"
	"github.com/ghalamif/AegisBridge/internal/app/exchange"
	"github.com/ghalamif/AegisBridge/internal/app/pipeline"
	"github.com/ghalamif/AegisBridge/internal/domain"
	"github.com/ghalamif/AegisBridge/internal/ports"
)

// BridgeOption customizes the dependencies used by Bridge.
type BridgeOption func(*bridgeOverrides)

type bridgeOverrides struct {
	endpoints     EndpointFactory
	reporters     []Reporter
	reportSink    ReportSink
	observability Observability
	logger        *slog.Logger
	clock         Clock
	console       io.Writer
	runID         string
}

// WithEndpointFactory replaces the OPC UA endpoint with any TagEndpoint
// implementation (simulators, other protocols).
func WithEndpointFactory(f EndpointFactory) BridgeOption {
	return func(o *bridgeOverrides) {
		o.endpoints = f
	}
}

// WithReporter adds a reporter that sees every cycle report. It may be given
// more than once.
func WithReporter(r Reporter) BridgeOption {
	return func(o *bridgeOverrides) {
		if r != nil {
			o.reporters = append(o.reporters, r)
		}
	}
}

// WithReportSink routes reports through the bounded report queue into s
// instead of the Timescale sink.
func WithReportSink(s ReportSink) BridgeOption {
	return func(o *bridgeOverrides) {
		o.reportSink = s
	}
}

// WithObservability plugs in a custom observability backend.
func WithObservability(obs Observability) BridgeOption {
	return func(o *bridgeOverrides) {
		o.observability = obs
	}
}

// WithLogger sets the slog logger used by the default observability backend.
func WithLogger(l *slog.Logger) BridgeOption {
	return func(o *bridgeOverrides) {
		o.logger = l
	}
}

// WithClock replaces the wall clock driving cycle timing.
func WithClock(c Clock) BridgeOption {
	return func(o *bridgeOverrides) {
		o.clock = c
	}
}

// WithConsoleOutput redirects the console reporter (stdout by default).
func WithConsoleOutput(w io.Writer) BridgeOption {
	return func(o *bridgeOverrides) {
		o.console = w
	}
}

// WithRunID overrides the generated run id stamped on every report.
func WithRunID(id string) BridgeOption {
	return func(o *bridgeOverrides) {
		o.runID = id
	}
}

// Bridge wires the connection manager, exchange engine and reporting stack
// for one configuration and exposes lifecycle hooks for embedding AegisBridge
// inside any Go service.
type Bridge struct {
	cfg        *Config
	table      *domain.LinkTable
	policy     ports.Policy
	obs        ports.Observability
	registry   *prometheus.Registry
	controller *exchange.Controller
	runID      string

	reportQueue ports.ReportQueue
	reportSink  ports.ReportSink
	db          *sql.DB
	fileSink    *sink.FileSink

	mu         sync.Mutex
	metricsSrv *http.Server
}

// NewBridge validates cfg and bootstraps the default adapters (OPC UA
// endpoints, console reporter, Timescale sink when configured, Prometheus
// observability). BridgeOption values override any of them.
func NewBridge(cfg *Config, opts ...BridgeOption) (*Bridge, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	var overrides bridgeOverrides
	for _, opt := range opts {
		if opt != nil {
			opt(&overrides)
		}
	}

	if err := cfg.Normalize(); err != nil {
		return nil, err
	}
	table, err := cfg.LinkTable()
	if err != nil {
		return nil, err
	}
	policy := cfg.RuntimePolicy()

	registry := prometheus.NewRegistry()
	obs := overrides.observability
	if obs == nil {
		obs = observability.NewPromObs(registry, overrides.logger)
	}

	runID := overrides.runID
	if runID == "" {
		runID = xid.New().String()
	}

	b := &Bridge{
		cfg:      cfg,
		table:    table,
		policy:   policy,
		obs:      obs,
		registry: registry,
		runID:    runID,
	}

	var reporters pipeline.FanOut
	if cfg.Report.Console {
		out := overrides.console
		if out == nil {
			out = os.Stdout
		}
		reporters = append(reporters, sink.NewConsoleReporter(out, table))
	}

	var sinks sink.MultiSink
	switch {
	case overrides.reportSink != nil:
		sinks = append(sinks, overrides.reportSink)
	case cfg.Timescale.ConnString != "":
		db, err := sql.Open("postgres", cfg.Timescale.ConnString)
		if err != nil {
			return nil, &domain.ConfigurationError{Field: "timescale.conn_string", Err: err}
		}
		b.db = db
		sinks = append(sinks, sink.NewTimescaleSink(db, cfg.Timescale.Table, table))
	}
	if cfg.Report.File != "" {
		fs, err := sink.NewFileSink(cfg.Report.File, table)
		if err != nil {
			_ = b.Shutdown(context.Background())
			return nil, &domain.ConfigurationError{Field: "report.file", Err: err}
		}
		b.fileSink = fs
		sinks = append(sinks, fs)
	}
	switch len(sinks) {
	case 0:
	case 1:
		b.reportSink = sinks[0]
	default:
		b.reportSink = sinks
	}
	if b.reportSink != nil {
		b.reportQueue = queue.NewMemQueue(policy.ReportQueueLen)
		reporters = append(reporters, pipeline.NewQueuedReporter(b.reportQueue, policy, obs))
	}
	reporters = append(reporters, overrides.reporters...)

	factory := overrides.endpoints
	if factory == nil {
		factory = opcua.NewEndpointFactory(policy.OpTimeout)
	}

	engineOpts := []exchange.EngineOption{exchange.WithRunID(runID)}
	if overrides.clock != nil {
		engineOpts = append(engineOpts, exchange.WithClock(overrides.clock))
	}
	b.controller = exchange.NewController(table, factory, reporters, obs, policy, engineOpts...)

	return b, nil
}

// Run connects every server, exchanges values until ctx is cancelled or the
// engine faults, then disconnects, flushes queued reports and stops the HTTP
// server. It returns nil after a graceful stop.
func (b *Bridge) Run(ctx context.Context) error {
	if b == nil {
		return fmt.Errorf("bridge is nil")
	}
	b.obs.LogInfo("bridge_starting",
		ports.Field{Key: "run_id", Value: b.runID},
		ports.Field{Key: "servers", Value: len(b.table.Servers())},
		ports.Field{Key: "links", Value: b.table.Len()})

	b.startMetrics()

	pipeCtx, pipeCancel := context.WithCancel(context.Background())
	pipeDone := make(chan struct{})
	go func() {
		defer close(pipeDone)
		if b.reportSink != nil {
			pipeline.RunReportPipeline(pipeCtx, b.reportQueue, b.reportSink, b.policy, b.obs)
		}
	}()

	runErr := b.controller.Run(ctx)

	pipeCancel()
	<-pipeDone

	shutdownCtx, cancel := context.WithTimeout(context.Background(), b.policy.ShutdownTimeout)
	defer cancel()
	if err := b.Shutdown(shutdownCtx); err != nil {
		b.obs.LogError("bridge_shutdown_incomplete", err)
	}

	if errors.Is(runErr, context.Canceled) {
		return nil
	}
	return runErr
}

// Shutdown stops the HTTP server and closes the report database and file.
// Run calls it on exit; calling it again is harmless.
func (b *Bridge) Shutdown(ctx context.Context) error {
	var errs []error

	b.mu.Lock()
	srv := b.metricsSrv
	b.metricsSrv = nil
	db := b.db
	b.db = nil
	fs := b.fileSink
	b.fileSink = nil
	b.mu.Unlock()

	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs = append(errs, err)
		}
	}
	if db != nil {
		if err := db.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if fs != nil {
		if err := fs.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RunID identifies this process in reports and persisted rows.
func (b *Bridge) RunID() string { return b.runID }

// State reports the engine lifecycle state.
func (b *Bridge) State() State { return b.controller.Engine().State() }

// Cycles is the number of completed cycles.
func (b *Bridge) Cycles() uint64 { return b.controller.Engine().Cycles() }

// LastReport returns the most recent cycle report, or nil before the first.
func (b *Bridge) LastReport() *Report { return b.controller.Engine().LastReport() }

// Connected lists the names of servers with a live session.
func (b *Bridge) Connected() []string {
	ids := b.controller.Manager().Connected()
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		names = append(names, b.table.ServerName(id))
	}
	return names
}

// Registry exposes the Prometheus registry backing /metrics.
func (b *Bridge) Registry() *prometheus.Registry { return b.registry }

func (b *Bridge) startMetrics() {
	addr := b.cfg.Metrics.Addr
	if addr == "" {
		return
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           b.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	b.mu.Lock()
	b.metricsSrv = srv
	b.mu.Unlock()

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			b.obs.LogError("metrics_server_exited", err, ports.Field{Key: "addr", Value: addr})
		}
	}()
}
