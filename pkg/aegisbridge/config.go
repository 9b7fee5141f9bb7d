package aegisbridge

import (
	"github.com/ghalamif/AegisBridge/internal/app/config"
	"github.com/ghalamif/AegisBridge/internal/ports"
)

// Config re-exports the root configuration struct so downstream projects can
// construct or modify it programmatically.
type Config = config.Config

type (
	// ServerConfig declares one OPC UA server by name and endpoint URL.
	ServerConfig = config.ServerConfig
	// LinkGroup declares the variables copied from one server to another.
	LinkGroup = config.LinkGroup
	// VariableConfig is one source tag, target tag and value type.
	VariableConfig = config.VariableConfig
	// PolicyConfig holds engine and connect timing.
	PolicyConfig = config.PolicyConfig
	// ConnectConfig holds the per-server connect backoff.
	ConnectConfig = config.ConnectConfig
	// ReportConfig controls console output and the report queue.
	ReportConfig = config.ReportConfig
	// MetricsConfig configures the metrics/health HTTP server.
	MetricsConfig = config.MetricsConfig
	// TimescaleConfig configures the optional report sink.
	TimescaleConfig = config.TimescaleConfig
	// Policy is the resolved runtime policy handed to the engine.
	Policy = ports.Policy
)

// LoadConfig loads a YAML (or legacy .xml) document from disk.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}

// DefaultConfig returns a document with every default applied except the
// servers, links and exchange_time, which the caller must provide.
func DefaultConfig() Config {
	return config.Default()
}
