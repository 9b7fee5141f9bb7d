package exchange

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/ghalamif/AegisBridge/internal/adapters/observability"
	"github.com/ghalamif/AegisBridge/internal/domain"
	"github.com/ghalamif/AegisBridge/internal/ports"
)

const defaultOpTimeout = 5 * time.Second

var errOverrun = errors.New("calculation time longer than real-time")

// State is the lifecycle position of an Engine.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStopping
	StateFaulted
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateFaulted:
		return "faulted"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Handles resolves live endpoints by server id.
type Handles interface {
	Lookup(id domain.ServerID) (ports.TagEndpoint, bool)
}

// Reconnector accepts requests to re-establish a lost server session.
type Reconnector interface {
	RequestReconnect(id domain.ServerID) bool
}

type EngineOption func(*Engine)

// WithClock replaces the wall clock used for timing and pacing.
func WithClock(c ports.Clock) EngineOption {
	return func(e *Engine) {
		if c != nil {
			e.clock = c
		}
	}
}

// WithRunID stamps every report with id.
func WithRunID(id string) EngineOption {
	return func(e *Engine) { e.runID = id }
}

// WithReconnector enables reconnect requests for links failing with
// domain.ErrEndpointDisconnected. Policy.Reconnect must also be set.
func WithReconnector(r Reconnector) EngineOption {
	return func(e *Engine) { e.reconnector = r }
}

// WithFailureLogLimit bounds link failure log lines per second. Metrics are
// always recorded.
func WithFailureLogLimit(perSecond float64, burst int) EngineOption {
	return func(e *Engine) { e.failLog = rate.NewLimiter(rate.Limit(perSecond), burst) }
}

// Engine executes the link table once per period until cancelled.
type Engine struct {
	table       *domain.LinkTable
	handles     Handles
	reporter    ports.Reporter
	obs         ports.Observability
	policy      ports.Policy
	clock       ports.Clock
	runID       string
	reconnector Reconnector
	failLog     *rate.Limiter

	state  atomic.Int32
	cycles atomic.Uint64
	last   atomic.Pointer[domain.CycleReport]

	errMu sync.Mutex
	err   error
}

func NewEngine(table *domain.LinkTable, handles Handles, reporter ports.Reporter, obs ports.Observability, policy ports.Policy, opts ...EngineOption) *Engine {
	e := &Engine{
		table:    table,
		handles:  handles,
		reporter: reporter,
		obs:      obs,
		policy:   policy,
		clock:    WallClock(),
		failLog:  rate.NewLimiter(rate.Limit(10), 20),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	if e.policy.OpTimeout <= 0 {
		e.policy.OpTimeout = defaultOpTimeout
	}
	return e
}

func (e *Engine) State() State { return State(e.state.Load()) }

// Cycles is the number of completed cycles.
func (e *Engine) Cycles() uint64 { return e.cycles.Load() }

// LastReport returns the most recent cycle report, or nil before the first.
func (e *Engine) LastReport() *domain.CycleReport { return e.last.Load() }

// Err returns the fault that stopped the engine, if any.
func (e *Engine) Err() error {
	e.errMu.Lock()
	defer e.errMu.Unlock()
	return e.err
}

// Run loops cycles until ctx is cancelled. Cancellation is observed between
// cycles and during the pacing sleep; an in-flight cycle always completes and
// its report is emitted. Run returns nil after a cancellation and an error
// wrapping domain.ErrFaulted after an unrecoverable condition.
func (e *Engine) Run(ctx context.Context) error {
	if !e.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return fmt.Errorf("exchange engine cannot start from state %s", e.State())
	}

	if err := e.validate(); err != nil {
		return e.fault(err)
	}

	e.obs.LogInfo("exchange_started",
		ports.Field{Key: "run_id", Value: e.runID},
		ports.Field{Key: "links", Value: e.table.Len()},
		ports.Field{Key: "period", Value: e.table.Period().String()},
		ports.Field{Key: "workers", Value: e.workers()})

	for idx := uint64(1); ; idx++ {
		if _, err := e.RunCycle(ctx, idx); err != nil {
			return e.fault(err)
		}
		if ctx.Err() != nil {
			e.state.Store(int32(StateStopping))
			e.obs.LogInfo("exchange_stopping", ports.Field{Key: "cycles", Value: e.Cycles()})
			e.state.Store(int32(StateStopped))
			return nil
		}
	}
}

func (e *Engine) fault(err error) error {
	e.state.Store(int32(StateFaulted))
	ferr := fmt.Errorf("%w: %v", domain.ErrFaulted, err)
	e.errMu.Lock()
	e.err = ferr
	e.errMu.Unlock()
	e.obs.LogCritical("exchange_faulted", err, ports.Field{Key: "cycles", Value: e.Cycles()})
	e.state.Store(int32(StateStopped))
	return ferr
}

func (e *Engine) validate() error {
	if e.handles == nil {
		return errors.New("endpoint handles are nil")
	}
	if e.reporter == nil {
		return errors.New("reporter is nil")
	}
	if err := e.table.Validate(); err != nil {
		return err
	}
	for _, s := range e.table.Servers() {
		if _, ok := e.handles.Lookup(s.ID); !ok {
			return fmt.Errorf("server %s has no connected endpoint", s.Name)
		}
	}
	return nil
}

// RunCycle executes one cycle: every link in table order, then the pacing
// sleep, then the report. Link failures are recorded in the report; the
// returned error is reserved for internal faults.
func (e *Engine) RunCycle(ctx context.Context, idx uint64) (*domain.CycleReport, error) {
	period := e.table.Period()
	results := make([]domain.LinkResult, e.table.Len())

	start := e.clock.Now()
	if err := e.executeLinks(context.WithoutCancel(ctx), results); err != nil {
		return nil, err
	}
	end := e.clock.Now()

	elapsed := end.Sub(start)
	if elapsed < 0 {
		elapsed = 0
	}

	report := &domain.CycleReport{
		RunID:      e.runID,
		CycleIndex: idx,
		Started:    start,
		Results:    results,
		Elapsed:    elapsed,
		Period:     period,
	}

	if residual := period - elapsed; residual > 0 {
		report.Slept = e.clock.Sleep(ctx, residual)
	} else {
		report.Overrun = true
	}

	e.record(report)
	if err := e.reporter.Report(ctx, report); err != nil {
		e.obs.LogError("report_failed", err,
			ports.Field{Key: "reporter", Value: e.reporter.Name()},
			ports.Field{Key: "cycle", Value: idx})
	}
	return report, nil
}

func (e *Engine) record(r *domain.CycleReport) {
	e.cycles.Add(1)
	e.last.Store(r)
	e.obs.IncCounter(observability.MetricCycles, 1)
	e.obs.ObserveLatency(observability.MetricCycleElapsed, r.ElapsedSeconds())
	e.obs.SetGauge(observability.MetricCycleSlept, r.SleptSeconds())
	if r.Overrun {
		e.obs.IncCounter(observability.MetricOverruns, 1)
		e.obs.LogError("cycle_overrun", errOverrun,
			ports.Field{Key: "cycle", Value: r.CycleIndex},
			ports.Field{Key: "elapsed", Value: r.Elapsed.String()},
			ports.Field{Key: "period", Value: r.Period.String()})
	}
}

func (e *Engine) workers() int {
	if e.policy.Workers < 1 {
		return 1
	}
	return e.policy.Workers
}

func (e *Engine) executeLinks(ctx context.Context, results []domain.LinkResult) error {
	if e.workers() == 1 || len(results) < 2 {
		for i := range results {
			if err := e.safeRunLink(ctx, i, results); err != nil {
				return err
			}
		}
		return nil
	}

	var g errgroup.Group
	g.SetLimit(e.workers())
	for i := range results {
		g.Go(func() error {
			return e.safeRunLink(ctx, i, results)
		})
	}
	return g.Wait()
}

func (e *Engine) safeRunLink(ctx context.Context, i int, results []domain.LinkResult) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while exchanging link %d: %v", i, r)
		}
	}()
	results[i] = e.runLink(ctx, e.table.Link(i))
	return nil
}

func (e *Engine) runLink(ctx context.Context, link domain.ExchangeLink) domain.LinkResult {
	srcName := e.table.ServerName(link.SourceServerID)
	dstName := e.table.ServerName(link.TargetServerID)

	src, ok := e.handles.Lookup(link.SourceServerID)
	if !ok {
		return e.fail(link, domain.KindUnavailable, &domain.ReadError{Server: srcName, Tag: link.SourceTag, Err: domain.ErrEndpointUnavailable})
	}

	rctx, cancel := context.WithTimeout(ctx, e.policy.OpTimeout)
	value, err := src.ReadValue(rctx, link.SourceTag)
	cancel()
	e.obs.IncCounter(observability.MetricLinkReads, 1)
	if err != nil {
		e.maybeReconnect(link.SourceServerID, err)
		return e.fail(link, domain.KindRead, &domain.ReadError{Server: srcName, Tag: link.SourceTag, Err: err})
	}

	dst, ok := e.handles.Lookup(link.TargetServerID)
	if !ok {
		res := e.fail(link, domain.KindUnavailable, &domain.WriteError{Server: dstName, Tag: link.TargetTag, Type: link.ValueType, Err: domain.ErrEndpointUnavailable})
		res.Value = value
		return res
	}

	wctx, cancel := context.WithTimeout(ctx, e.policy.OpTimeout)
	err = dst.WriteValue(wctx, link.TargetTag, value, link.ValueType)
	cancel()
	e.obs.IncCounter(observability.MetricLinkWrites, 1)
	if err != nil {
		e.maybeReconnect(link.TargetServerID, err)
		res := e.fail(link, domain.KindWrite, &domain.WriteError{Server: dstName, Tag: link.TargetTag, Type: link.ValueType, Err: err})
		res.Value = value
		return res
	}

	return domain.LinkResult{Link: link, Value: value}
}

func (e *Engine) fail(link domain.ExchangeLink, kind domain.ErrorKind, err error) domain.LinkResult {
	e.obs.RecordLinkFailure(link, kind, err)
	if e.failLog == nil || e.failLog.Allow() {
		e.obs.LogError("link_failed", err, ports.Field{Key: "kind", Value: string(kind)})
	}
	return domain.LinkResult{Link: link, Kind: kind, Err: err}
}

func (e *Engine) maybeReconnect(id domain.ServerID, err error) {
	if !e.policy.Reconnect || e.reconnector == nil || !errors.Is(err, domain.ErrEndpointDisconnected) {
		return
	}
	e.reconnector.RequestReconnect(id)
}
