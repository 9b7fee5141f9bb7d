package observability

import (
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ghalamif/AegisBridge/internal/domain"
	"github.com/ghalamif/AegisBridge/internal/ports"
)

// Metric names shared by the engine, connection manager and report pipeline.
const (
	MetricCycles          = "aegis_cycles_total"
	MetricOverruns        = "aegis_cycle_overruns_total"
	MetricCycleElapsed    = "aegis_cycle_elapsed_seconds"
	MetricCycleSlept      = "aegis_cycle_slept_seconds"
	MetricLinkReads       = "aegis_link_reads_total"
	MetricLinkWrites      = "aegis_link_writes_total"
	MetricLinkFailures    = "aegis_link_failures_total"
	MetricConnectAttempts = "aegis_connect_attempts_total"
	MetricConnected       = "aegis_connected_servers"
	MetricReconnects      = "aegis_reconnects_total"
	MetricReportQueueLen  = "aegis_report_queue_length"
	MetricReportsDropped  = "aegis_reports_dropped_total"
	MetricReportsWritten  = "aegis_reports_written_total"
	MetricReportFailures  = "aegis_report_sink_failures_total"
	MetricReportLatency   = "aegis_report_sink_latency_seconds"
)

type PromObs struct {
	logger   *slog.Logger
	counters map[string]prometheus.Counter
	gauges   map[string]prometheus.Gauge
	histos   map[string]prometheus.Observer
	failures *prometheus.CounterVec
}

// NewPromObs registers the bridge metrics on reg (the default registerer when
// nil) and logs through logger (a JSON handler on stderr when nil).
func NewPromObs(reg prometheus.Registerer, logger *slog.Logger) *PromObs {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}

	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: help})
	}
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: help})
	}

	cycles := counter(MetricCycles, "Exchange cycles completed.")
	overruns := counter(MetricOverruns, "Cycles whose processing time met or exceeded the period.")
	reads := counter(MetricLinkReads, "Source tag reads issued.")
	writes := counter(MetricLinkWrites, "Target tag writes issued.")
	attempts := counter(MetricConnectAttempts, "Server connection attempts.")
	reconnects := counter(MetricReconnects, "Servers reconnected after losing their session.")
	dropped := counter(MetricReportsDropped, "Cycle reports dropped because the report queue was full.")
	written := counter(MetricReportsWritten, "Cycle reports persisted by the report sink.")
	sinkFailures := counter(MetricReportFailures, "Report batches the sink failed to write.")

	slept := gauge(MetricCycleSlept, "Pacing sleep of the last cycle.")
	connected := gauge(MetricConnected, "Servers with a live session.")
	queueLen := gauge(MetricReportQueueLen, "Cycle reports waiting for the report sink.")

	elapsed := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    MetricCycleElapsed,
		Help:    "Processing time of a cycle, excluding the pacing sleep.",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
	})
	sinkLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    MetricReportLatency,
		Help:    "Time spent writing a batch of reports to the sink.",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
	})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: MetricLinkFailures,
		Help: "Link failures by kind (read, write, unavailable).",
	}, []string{"kind"})

	reg.MustRegister(cycles, overruns, reads, writes, attempts, reconnects, dropped, written,
		sinkFailures, slept, connected, queueLen, elapsed, sinkLatency, failures)

	return &PromObs{
		logger: logger,
		counters: map[string]prometheus.Counter{
			MetricCycles:          cycles,
			MetricOverruns:        overruns,
			MetricLinkReads:       reads,
			MetricLinkWrites:      writes,
			MetricConnectAttempts: attempts,
			MetricReconnects:      reconnects,
			MetricReportsDropped:  dropped,
			MetricReportsWritten:  written,
			MetricReportFailures:  sinkFailures,
		},
		gauges: map[string]prometheus.Gauge{
			MetricCycleSlept:     slept,
			MetricConnected:      connected,
			MetricReportQueueLen: queueLen,
		},
		histos: map[string]prometheus.Observer{
			MetricCycleElapsed:  elapsed,
			MetricReportLatency: sinkLatency,
		},
		failures: failures,
	}
}

func (p *PromObs) LogInfo(msg string, fields ...ports.Field) {
	p.logger.Info(msg, attrs(fields)...)
}

func (p *PromObs) LogError(msg string, err error, fields ...ports.Field) {
	p.logger.Error(msg, append(attrs(fields), slog.Any("error", err))...)
}

func (p *PromObs) LogCritical(msg string, err error, fields ...ports.Field) {
	p.logger.Error(msg, append(attrs(fields), slog.Any("error", err), slog.Bool("critical", true))...)
}

func (p *PromObs) IncCounter(name string, v float64) {
	if c, ok := p.counters[name]; ok {
		c.Add(v)
	}
}

func (p *PromObs) ObserveLatency(name string, seconds float64) {
	if h, ok := p.histos[name]; ok {
		h.Observe(seconds)
	}
}

func (p *PromObs) SetGauge(name string, v float64) {
	if g, ok := p.gauges[name]; ok {
		g.Set(v)
	}
}

func (p *PromObs) RecordLinkFailure(_ domain.ExchangeLink, kind domain.ErrorKind, _ error) {
	if kind == domain.KindNone {
		return
	}
	p.failures.WithLabelValues(string(kind)).Inc()
}

func attrs(fields []ports.Field) []any {
	out := make([]any, 0, len(fields))
	for _, f := range fields {
		out = append(out, slog.Any(f.Key, f.Value))
	}
	return out
}

var _ ports.Observability = (*PromObs)(nil)
