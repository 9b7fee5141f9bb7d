package main

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghalamif/AegisBridge"
	"github.com/ghalamif/AegisBridge/internal/domain"
)

const validConfig = `
exchange_time: 0.5
servers:
  - {name: A, url: "opc.tcp://a:4840"}
  - {name: B, url: "opc.tcp://b:4840"}
links:
  - source: A
    target: B
    variables:
      - {source: x, target: y, type: Int16}
      - {source: p, target: q, type: Float}
`

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestExitCodes(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, exitOK},
		{"configuration", fmt.Errorf("load config: %w", &domain.ConfigurationError{Field: "servers", Err: errors.New("empty")}), exitConfig},
		{"faulted", fmt.Errorf("%w: handle missing", aegisbridge.ErrFaulted), exitFault},
		{"connection", &domain.ConnectionError{Server: "A", Attempts: 3, Err: errors.New("refused")}, exitError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, exitCode(tc.err))
		})
	}
}

func TestValidateCommand(t *testing.T) {
	path := writeConfig(t, "bridge.yaml", validConfig)

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"validate", "--config", path})
	require.NoError(t, root.Execute())

	assert.Contains(t, out.String(), "2 servers, 2 links, period 0.5s")
}

func TestRunWithInvalidConfigExitsWithConfigCode(t *testing.T) {
	path := writeConfig(t, "bridge.yaml", "exchange_time: 1\nservers: []\n")
	assert.Equal(t, exitConfig, run([]string{"run", "--config", path, "--metrics-addr", ""}))
}

func TestValidateLegacyXML(t *testing.T) {
	path := writeConfig(t, "conf.xml", `<Root exchange_time="2">
<OPCServer name="A" url="opc.tcp://a:4840"/>
<OPCLinks><OPCLink_vars source="A" target="A"><variable source="x" target="y" type="Double"/></OPCLink_vars></OPCLinks>
</Root>`)
	assert.Equal(t, exitOK, run([]string{"validate", "--config", path}))
}

func TestMissingEnvFileFails(t *testing.T) {
	path := writeConfig(t, "bridge.yaml", validConfig)
	code := run([]string{"validate", "--config", path, "--env-file", filepath.Join(t.TempDir(), "absent.env")})
	assert.Equal(t, exitError, code)
}

func TestFetchSnapshotSumsSeries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `# TYPE aegis_cycles_total counter
aegis_cycles_total 12
# TYPE aegis_link_failures_total counter
aegis_link_failures_total{kind="read"} 2
aegis_link_failures_total{kind="write"} 1
# TYPE aegis_connected_servers gauge
aegis_connected_servers 2
`)
	}))
	defer srv.Close()

	snap, err := fetchSnapshot(t.Context(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, 12.0, snap.cycles)
	assert.Equal(t, 3.0, snap.failures)
	assert.Equal(t, 2.0, snap.connected)
	assert.Zero(t, snap.overruns)
}
