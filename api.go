package aegisbridge

import (
	"io"
	"log/slog"

	base "github.com/ghalamif/AegisBridge/pkg/aegisbridge"
)

// Re-exported errors for convenience.
var (
	ErrFaulted               = base.ErrFaulted
	ErrEndpointDisconnected  = base.ErrEndpointDisconnected
	ErrChannelReporterClosed = base.ErrChannelReporterClosed
	ErrReportDropped         = base.ErrReportDropped
)

// Type aliases so consumers can import github.com/ghalamif/AegisBridge directly.
type (
	Config          = base.Config
	ServerConfig    = base.ServerConfig
	LinkGroup       = base.LinkGroup
	VariableConfig  = base.VariableConfig
	PolicyConfig    = base.PolicyConfig
	ConnectConfig   = base.ConnectConfig
	ReportConfig    = base.ReportConfig
	MetricsConfig   = base.MetricsConfig
	TimescaleConfig = base.TimescaleConfig
	Policy          = base.Policy
	Flow            = base.Flow
	FlowOption      = base.FlowOption
	Bridge          = base.Bridge
	BridgeOption    = base.BridgeOption
	Status          = base.Status
	CycleStatus     = base.CycleStatus
	Report          = base.Report
	LinkResult      = base.LinkResult
	ErrorKind       = base.ErrorKind
	ValueType       = base.ValueType
	Server          = base.Server
	TagEndpoint     = base.TagEndpoint
	EndpointFactory = base.EndpointFactory
	Reporter        = base.Reporter
	ReportSink      = base.ReportSink
	ReportFunc      = base.ReportFunc
	Observability   = base.Observability
	Field           = base.Field
	Clock           = base.Clock
	State           = base.State
)

// Config helpers.
func LoadConfig(path string) (*Config, error) {
	return base.LoadConfig(path)
}

func DefaultConfig() Config {
	return base.DefaultConfig()
}

func IsConfigurationError(err error) bool {
	return base.IsConfigurationError(err)
}

// Flow builder helpers.
func Conf(path string, opts ...FlowOption) (*Flow, error) {
	return base.Conf(path, opts...)
}

func ConfFromConfig(cfg *Config, opts ...FlowOption) (*Flow, error) {
	return base.ConfFromConfig(cfg, opts...)
}

func WithFlowOptions(opts ...BridgeOption) FlowOption {
	return base.WithFlowOptions(opts...)
}

// Bridge runtime and options.
func NewBridge(cfg *Config, opts ...BridgeOption) (*Bridge, error) {
	return base.NewBridge(cfg, opts...)
}

func WithEndpointFactory(f EndpointFactory) BridgeOption {
	return base.WithEndpointFactory(f)
}

func WithReporter(r Reporter) BridgeOption {
	return base.WithReporter(r)
}

func WithReportSink(s ReportSink) BridgeOption {
	return base.WithReportSink(s)
}

func WithObservability(obs Observability) BridgeOption {
	return base.WithObservability(obs)
}

func WithLogger(l *slog.Logger) BridgeOption {
	return base.WithLogger(l)
}

func WithClock(c Clock) BridgeOption {
	return base.WithClock(c)
}

func WithConsoleOutput(w io.Writer) BridgeOption {
	return base.WithConsoleOutput(w)
}

func WithRunID(id string) BridgeOption {
	return base.WithRunID(id)
}

// Reporter adapters.
func NewCallbackReporter(name string, fn ReportFunc) Reporter {
	return base.NewCallbackReporter(name, fn)
}

func NewChannelReporter(name string, buffer int) (Reporter, <-chan *Report, func()) {
	return base.NewChannelReporter(name, buffer)
}
