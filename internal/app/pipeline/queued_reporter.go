package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/ghalamif/AegisBridge/internal/adapters/observability"
	"github.com/ghalamif/AegisBridge/internal/domain"
	"github.com/ghalamif/AegisBridge/internal/ports"
)

// QueuedReporter hands reports to a bounded queue so a slow sink never
// stretches an exchange cycle.
type QueuedReporter struct {
	q   ports.ReportQueue
	pol ports.Policy
	obs ports.Observability
}

func NewQueuedReporter(q ports.ReportQueue, pol ports.Policy, obs ports.Observability) *QueuedReporter {
	return &QueuedReporter{q: q, pol: pol, obs: obs}
}

func (r *QueuedReporter) Name() string { return "queue" }

// Report enqueues rep according to the queue-full policy. A dropped report is
// counted and logged, never returned as an error.
func (r *QueuedReporter) Report(ctx context.Context, rep *domain.CycleReport) error {
	if !enqueueWithPolicy(ctx, r.q, rep, r.pol, r.obs) {
		r.obs.IncCounter(observability.MetricReportsDropped, 1)
	}
	r.obs.SetGauge(observability.MetricReportQueueLen, float64(r.q.Len()))
	return nil
}

func enqueueWithPolicy(ctx context.Context, q ports.ReportQueue, rep *domain.CycleReport, pol ports.Policy, obs ports.Observability) bool {
	sleep := idleSleep(pol)

	for {
		if ok := q.Enqueue(rep); ok {
			return true
		}

		switch pol.OnReportQueueFull {
		case "block":
			select {
			case <-ctx.Done():
				obs.LogError("report_queue_full_drop", ctx.Err(), ports.Field{Key: "cycle", Value: rep.CycleIndex})
				return false
			case <-time.After(sleep):
			}
		case "drop", "":
			obs.LogError("report_queue_full_drop", fmt.Errorf("queue length exceeded capacity %d", pol.ReportQueueLen),
				ports.Field{Key: "cycle", Value: rep.CycleIndex})
			return false
		default:
			obs.LogError("report_queue_policy_invalid", fmt.Errorf("policy=%s", pol.OnReportQueueFull))
			return false
		}
	}
}

func idleSleep(pol ports.Policy) time.Duration {
	if pol.ReportIdleSleep <= 0 {
		return 5 * time.Millisecond
	}
	return pol.ReportIdleSleep
}

var _ ports.Reporter = (*QueuedReporter)(nil)
