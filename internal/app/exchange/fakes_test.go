package exchange

import (
	"context"
	"errors"
	"sync"
	"syscall"
	"time"

	"github.com/ghalamif/AegisBridge/internal/domain"
	"github.com/ghalamif/AegisBridge/internal/ports"
)

type fakeEndpoint struct {
	mu sync.Mutex

	values        map[string]any
	readErr       map[string]error
	writeErr      map[string]error
	connectFails  int
	connectErr    error
	disconnectErr error
	blockReads    bool
	panicOnRead   bool

	connects    int
	connectedAt time.Time
	disconnects int
	reads       int
	writes      int
	written     map[string]domain.ValueType
}

func newFakeEndpoint(values map[string]any) *fakeEndpoint {
	if values == nil {
		values = map[string]any{}
	}
	return &fakeEndpoint{
		values:   values,
		readErr:  map[string]error{},
		writeErr: map[string]error{},
		written:  map[string]domain.ValueType{},
	}
}

func (f *fakeEndpoint) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if f.connectErr != nil {
		return f.connectErr
	}
	if f.connects <= f.connectFails {
		return syscall.ECONNREFUSED
	}
	f.connectedAt = time.Now()
	return nil
}

func (f *fakeEndpoint) ReadValue(ctx context.Context, tag string) (any, error) {
	f.mu.Lock()
	f.reads++
	block, panicking := f.blockReads, f.panicOnRead
	err, hasErr := f.readErr[tag]
	v := f.values[tag]
	f.mu.Unlock()

	if panicking {
		panic("corrupted endpoint state")
	}
	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if hasErr {
		return nil, err
	}
	return v, nil
}

func (f *fakeEndpoint) WriteValue(_ context.Context, tag string, value any, vt domain.ValueType) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	if err, ok := f.writeErr[tag]; ok {
		return err
	}
	f.values[tag] = value
	f.written[tag] = vt
	return nil
}

func (f *fakeEndpoint) Disconnect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	return f.disconnectErr
}

func (f *fakeEndpoint) stats() (connects, disconnects, reads, writes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects, f.disconnects, f.reads, f.writes
}

func (f *fakeEndpoint) value(tag string) any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.values[tag]
}

type staticHandles map[domain.ServerID]ports.TagEndpoint

func (h staticHandles) Lookup(id domain.ServerID) (ports.TagEndpoint, bool) {
	ep, ok := h[id]
	return ep, ok
}

// fakeClock advances by cost between the start and end reading of a cycle
// and by the requested duration on Sleep.
type fakeClock struct {
	mu    sync.Mutex
	now   time.Time
	cost  time.Duration
	calls int
	slept []time.Duration
}

func newFakeClock(cost time.Duration) *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), cost: cost}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.calls%2 == 0 {
		c.now = c.now.Add(c.cost)
	}
	return c.now
}

func (c *fakeClock) Sleep(_ context.Context, d time.Duration) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.slept = append(c.slept, d)
	c.now = c.now.Add(d)
	return d
}

type recordingReporter struct {
	mu       sync.Mutex
	reports  []*domain.CycleReport
	onReport func(*domain.CycleReport)
}

func (r *recordingReporter) Report(_ context.Context, rep *domain.CycleReport) error {
	r.mu.Lock()
	r.reports = append(r.reports, rep)
	hook := r.onReport
	r.mu.Unlock()
	if hook != nil {
		hook(rep)
	}
	return nil
}

func (r *recordingReporter) Name() string { return "recording" }

func (r *recordingReporter) all() []*domain.CycleReport {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*domain.CycleReport(nil), r.reports...)
}

type mockObs struct {
	mu     sync.Mutex
	errors []error
	counts map[string]float64
}

func (m *mockObs) LogInfo(string, ...ports.Field)                                 {}
func (m *mockObs) ObserveLatency(string, float64)                                 {}
func (m *mockObs) SetGauge(string, float64)                                       {}
func (m *mockObs) RecordLinkFailure(domain.ExchangeLink, domain.ErrorKind, error) {}

func (m *mockObs) LogError(_ string, err error, _ ...ports.Field) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, err)
}

func (m *mockObs) LogCritical(_ string, err error, _ ...ports.Field) { m.LogError("", err) }

func (m *mockObs) IncCounter(name string, v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counts == nil {
		m.counts = map[string]float64{}
	}
	m.counts[name] += v
}

func (m *mockObs) count(name string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[name]
}

type fakeReconnector struct {
	mu  sync.Mutex
	ids []domain.ServerID
}

func (f *fakeReconnector) RequestReconnect(id domain.ServerID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = append(f.ids, id)
	return true
}

var errBoom = errors.New("boom")
