package aegisbridge

import (
	"context"
	"fmt"
)

// Flow is a convenience builder that lets callers say Conf → Endpoints →
// Reports → Run without touching the underlying wiring.
type Flow struct {
	cfg  *Config
	opts []BridgeOption
}

// FlowOption mutates the Flow after configuration is loaded.
type FlowOption func(*Flow)

// Conf loads a document from disk, applies FlowOption values, and returns a
// Flow builder.
func Conf(path string, opts ...FlowOption) (*Flow, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	return ConfFromConfig(cfg, opts...)
}

// ConfFromConfig bootstraps a Flow from an in-memory Config.
func ConfFromConfig(cfg *Config, opts ...FlowOption) (*Flow, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	f := &Flow{cfg: cfg}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f, nil
}

// Config returns the underlying configuration so callers can tweak it before
// building a bridge.
func (f *Flow) Config() *Config {
	if f == nil {
		return nil
	}
	return f.cfg
}

// Options appends raw BridgeOption values for advanced scenarios.
func (f *Flow) Options(opts ...BridgeOption) *Flow {
	if f == nil {
		return nil
	}
	f.appendOptions(opts...)
	return f
}

// Endpoints swaps the OPC UA endpoints for another factory.
func (f *Flow) Endpoints(factory EndpointFactory) *Flow {
	if f == nil {
		return nil
	}
	if factory != nil {
		f.appendOptions(WithEndpointFactory(factory))
	}
	return f
}

// Reports adds reporters that see every cycle report.
func (f *Flow) Reports(reporters ...Reporter) *Flow {
	if f == nil {
		return nil
	}
	for _, r := range reporters {
		f.appendOptions(WithReporter(r))
	}
	return f
}

// OnCycle installs a reporter built from a callback.
func (f *Flow) OnCycle(name string, fn ReportFunc) *Flow {
	return f.Reports(NewCallbackReporter(name, fn))
}

// Build creates a Bridge ready to run.
func (f *Flow) Build(opts ...BridgeOption) (*Bridge, error) {
	if f == nil {
		return nil, fmt.Errorf("flow is nil")
	}
	f.appendOptions(opts...)
	return NewBridge(f.cfg, f.opts...)
}

// Run is a shortcut for Build + Bridge.Run.
func (f *Flow) Run(ctx context.Context, opts ...BridgeOption) error {
	b, err := f.Build(opts...)
	if err != nil {
		return err
	}
	return b.Run(ctx)
}

// WithFlowOptions appends BridgeOption values during Conf.
func WithFlowOptions(opts ...BridgeOption) FlowOption {
	return func(f *Flow) {
		if f != nil {
			f.appendOptions(opts...)
		}
	}
}

func (f *Flow) appendOptions(opts ...BridgeOption) {
	for _, opt := range opts {
		if opt != nil {
			f.opts = append(f.opts, opt)
		}
	}
}
