package ports

import "github.com/ghalamif/AegisBridge/internal/domain"

type ReportQueue interface {
	Enqueue(r *domain.CycleReport) bool
	DequeueBatch(max int) []*domain.CycleReport
	Len() int
}
