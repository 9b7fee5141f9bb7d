package aegisbridge

import (
	"github.com/ghalamif/AegisBridge/internal/app/exchange"
	"github.com/ghalamif/AegisBridge/internal/domain"
	"github.com/ghalamif/AegisBridge/internal/ports"
)

// Report is emitted once per exchange cycle.
type Report = domain.CycleReport

// LinkResult is the outcome of a single link inside a Report.
type LinkResult = domain.LinkResult

// ErrorKind classifies a failed link (read, write, unavailable).
type ErrorKind = domain.ErrorKind

// ValueType is the OPC UA variant type a target tag is written with.
type ValueType = domain.ValueType

// TagEndpoint reads and writes tags on one server. Implement it to bridge
// something other than OPC UA, or to simulate servers in tests.
type TagEndpoint = ports.TagEndpoint

// EndpointFactory builds one TagEndpoint per configured server.
type EndpointFactory = ports.EndpointFactory

// Server is a resolved server passed to an EndpointFactory.
type Server = domain.Server

// Reporter receives every Report before the next cycle starts.
type Reporter = ports.Reporter

// ReportSink persists batches of reports drained from the report queue.
type ReportSink = ports.ReportSink

// Observability emits metrics and structured logs.
type Observability = ports.Observability

// Field is a structured log field used by Observability implementations.
type Field = ports.Field

// Clock supplies time and the pacing sleep.
type Clock = ports.Clock

// State is the engine lifecycle state.
type State = exchange.State

const (
	StateIdle     = exchange.StateIdle
	StateRunning  = exchange.StateRunning
	StateStopping = exchange.StateStopping
	StateFaulted  = exchange.StateFaulted
	StateStopped  = exchange.StateStopped
)

var (
	// ErrFaulted is wrapped by Run when the engine hit an unrecoverable condition.
	ErrFaulted = domain.ErrFaulted
	// ErrEndpointDisconnected is wrapped by endpoints whose session is gone.
	ErrEndpointDisconnected = domain.ErrEndpointDisconnected
)

// IsConfigurationError reports whether err stems from an invalid document.
func IsConfigurationError(err error) bool {
	return domain.IsConfigurationError(err)
}
