package aegisbridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrChannelReporterClosed is returned when a channel reporter is used after close.
	ErrChannelReporterClosed = errors.New("aegisbridge: channel reporter closed")
	// ErrReportDropped is returned when a channel reporter's buffer is full.
	ErrReportDropped = errors.New("aegisbridge: report dropped, channel buffer full")
)

// ReportFunc is invoked with every cycle report.
type ReportFunc func(*Report) error

// NewCallbackReporter adapts fn into a Reporter so callers can observe cycles
// without defining a struct. fn runs on the exchange goroutine; keep it short.
func NewCallbackReporter(name string, fn ReportFunc) Reporter {
	if name == "" {
		name = "callback"
	}
	return &callbackReporter{name: name, fn: fn}
}

// NewChannelReporter exposes reports via a channel; it returns the reporter,
// the read-only channel, and a close function the caller should invoke once
// the bridge has stopped. Delivery never blocks a cycle: a report that does
// not fit the buffer is dropped with ErrReportDropped.
func NewChannelReporter(name string, buffer int) (Reporter, <-chan *Report, func()) {
	if name == "" {
		name = "channel"
	}
	if buffer < 0 {
		buffer = 0
	}
	ch := make(chan *Report, buffer)
	r := &channelReporter{
		name: name,
		ch:   ch,
	}
	return r, ch, r.close
}

type callbackReporter struct {
	name string
	fn   ReportFunc
}

func (r *callbackReporter) Report(_ context.Context, rep *Report) error {
	if r.fn == nil {
		return fmt.Errorf("callback reporter %q: nil handler", r.name)
	}
	return r.fn(rep)
}

func (r *callbackReporter) Name() string { return r.name }

type channelReporter struct {
	name string

	mu     sync.Mutex
	ch     chan *Report
	closed bool
}

func (r *channelReporter) Report(_ context.Context, rep *Report) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrChannelReporterClosed
	}
	select {
	case r.ch <- rep:
		return nil
	default:
		return ErrReportDropped
	}
}

func (r *channelReporter) Name() string { return r.name }

func (r *channelReporter) close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.closed {
		r.closed = true
		close(r.ch)
	}
}
