package aegisbridge

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Status is the JSON document served on /status.
type Status struct {
	RunID     string       `json:"run_id"`
	State     string       `json:"state"`
	Cycles    uint64       `json:"cycles"`
	Connected []string     `json:"connected"`
	Error     string       `json:"error,omitempty"`
	LastCycle *CycleStatus `json:"last_cycle,omitempty"`
}

// CycleStatus summarises the most recent cycle report.
type CycleStatus struct {
	Index          uint64    `json:"index"`
	Started        time.Time `json:"started"`
	ElapsedSeconds float64   `json:"elapsed_seconds"`
	SleptSeconds   float64   `json:"slept_seconds"`
	PeriodSeconds  float64   `json:"period_seconds"`
	Overrun        bool      `json:"overrun"`
	Links          int       `json:"links"`
	Failures       int       `json:"failures"`
}

// Handler serves /metrics, /healthz and /status for this bridge.
func (b *Bridge) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Handle("/metrics", promhttp.HandlerFor(b.registry, promhttp.HandlerOpts{}))
	r.Get("/healthz", b.healthz)
	r.Get("/status", b.status)
	return r
}

func (b *Bridge) healthz(w http.ResponseWriter, _ *http.Request) {
	state := b.State()
	if state != StateRunning {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(state.String()))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (b *Bridge) status(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(b.Status())
}

// Status snapshots the engine for the /status endpoint.
func (b *Bridge) Status() Status {
	engine := b.controller.Engine()
	st := Status{
		RunID:     b.runID,
		State:     engine.State().String(),
		Cycles:    engine.Cycles(),
		Connected: b.Connected(),
	}
	if err := engine.Err(); err != nil {
		st.Error = err.Error()
	}
	if r := engine.LastReport(); r != nil {
		st.LastCycle = &CycleStatus{
			Index:          r.CycleIndex,
			Started:        r.Started,
			ElapsedSeconds: r.ElapsedSeconds(),
			SleptSeconds:   r.SleptSeconds(),
			PeriodSeconds:  r.Period.Seconds(),
			Overrun:        r.Overrun,
			Links:          len(r.Results),
			Failures:       r.Failures(),
		}
	}
	return st
}
