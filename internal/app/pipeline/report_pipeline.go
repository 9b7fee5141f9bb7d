package pipeline

import (
	"context"
	"time"

	"github.com/ghalamif/AegisBridge/internal/adapters/observability"
	"github.com/ghalamif/AegisBridge/internal/ports"
)

// RunReportPipeline drains q into sink in batches until ctx is cancelled, then
// flushes what is left and returns. A failed batch is logged and discarded;
// the exchange itself never depends on persistence.
func RunReportPipeline(ctx context.Context, q ports.ReportQueue, sink ports.ReportSink, pol ports.Policy, obs ports.Observability) {
	sleep := idleSleep(pol)

	for {
		if drainBatch(q, sink, pol, obs) {
			continue
		}
		select {
		case <-ctx.Done():
			for drainBatch(q, sink, pol, obs) {
			}
			obs.LogInfo("report_pipeline_stopped", ports.Field{Key: "sink", Value: sink.Name()})
			return
		case <-time.After(sleep):
		}
	}
}

// drainBatch writes one batch and reports whether the queue had anything.
func drainBatch(q ports.ReportQueue, sink ports.ReportSink, pol ports.Policy, obs ports.Observability) bool {
	batch := q.DequeueBatch(pol.ReportBatchSize)
	if len(batch) == 0 {
		return false
	}
	obs.SetGauge(observability.MetricReportQueueLen, float64(q.Len()))

	start := time.Now()
	if err := sink.WriteBatch(batch); err != nil {
		obs.IncCounter(observability.MetricReportFailures, 1)
		obs.LogError("report_sink_write_failed", err,
			ports.Field{Key: "sink", Value: sink.Name()},
			ports.Field{Key: "reports", Value: len(batch)})
		return true
	}
	obs.ObserveLatency(observability.MetricReportLatency, time.Since(start).Seconds())
	obs.IncCounter(observability.MetricReportsWritten, float64(len(batch)))
	return true
}
