package ports

import (
	"context"

	"github.com/ghalamif/AegisBridge/internal/domain"
)

// Reporter receives every CycleReport before the next cycle starts.
type Reporter interface {
	Report(ctx context.Context, r *domain.CycleReport) error
	Name() string
}

// ReportSink persists batches of reports drained from a ReportQueue.
type ReportSink interface {
	WriteBatch(reports []*domain.CycleReport) error
	Name() string
}
