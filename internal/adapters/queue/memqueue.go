package queue

import (
	"sync"

	"github.com/ghalamif/AegisBridge/internal/domain"
	"github.com/ghalamif/AegisBridge/internal/ports"
)

// MemQueue is a bounded in-memory FIFO of cycle reports.
type MemQueue struct {
	mu   sync.Mutex
	data []*domain.CycleReport
	cap  int
}

func NewMemQueue(capacity int) *MemQueue {
	if capacity <= 0 {
		capacity = 1
	}
	return &MemQueue{
		data: make([]*domain.CycleReport, 0, capacity),
		cap:  capacity,
	}
}

func (q *MemQueue) Enqueue(r *domain.CycleReport) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.data) >= q.cap {
		return false
	}
	q.data = append(q.data, r)
	return true
}

func (q *MemQueue) DequeueBatch(max int) []*domain.CycleReport {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.data) == 0 {
		return nil
	}
	if max <= 0 || max > len(q.data) {
		max = len(q.data)
	}
	out := make([]*domain.CycleReport, max)
	copy(out, q.data[:max])
	q.data = append(q.data[:0], q.data[max:]...)
	return out
}

func (q *MemQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.data)
}

var _ ports.ReportQueue = (*MemQueue)(nil)
