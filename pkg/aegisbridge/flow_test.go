package aegisbridge

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

const flowYAML = `
exchange_time: 0.01
servers:
  - {name: A, url: "opc.tcp://a:4840"}
  - {name: B, url: "opc.tcp://b:4840"}
links:
  - source: A
    target: B
    variables:
      - {source: x, target: y, type: Double}
report:
  console: false
metrics:
  addr: ""
`

func TestConfLoadsAndRuns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.yaml")
	if err := os.WriteFile(path, []byte(flowYAML), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	a := &memEndpoint{values: map[string]any{"x": 1.5}}
	b := &memEndpoint{values: map[string]any{}}

	flow, err := Conf(path, WithFlowOptions(WithRunID("flow")))
	if err != nil {
		t.Fatalf("Conf returned error: %v", err)
	}
	if flow.Config().ExchangeTime != 0.01 {
		t.Fatalf("expected exchange_time 0.01, got %v", flow.Config().ExchangeTime)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var runID string
	flow.Endpoints(memFactory(map[string]*memEndpoint{"A": a, "B": b})).
		OnCycle("stop", func(r *Report) error {
			runID = r.RunID
			cancel()
			return nil
		})

	if err := flow.Run(ctx); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if got := b.get("y"); got != 1.5 {
		t.Fatalf("expected y=1.5, got %v", got)
	}
	if runID != "flow" {
		t.Fatalf("expected run id from flow options, got %q", runID)
	}
}

func TestConfFromConfigRequiresConfig(t *testing.T) {
	if _, err := ConfFromConfig(nil); err == nil {
		t.Fatalf("expected error for nil config")
	}
	var f *Flow
	if _, err := f.Build(); err == nil {
		t.Fatalf("expected error for nil flow")
	}
}

func TestConfMissingFile(t *testing.T) {
	_, err := Conf(filepath.Join(t.TempDir(), "missing.yaml"))
	if !IsConfigurationError(err) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}
