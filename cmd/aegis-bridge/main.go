package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"

	"github.com/ghalamif/AegisBridge"
)

const (
	exitOK     = 0
	exitError  = 1
	exitConfig = 2
	exitFault  = 3
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	root := newRootCmd()
	root.SetArgs(args)
	err := root.Execute()
	if err == nil {
		return exitOK
	}

	fmt.Fprintf(os.Stderr, "aegis-bridge: %v\n", err)
	return exitCode(err)
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case aegisbridge.IsConfigurationError(err):
		return exitConfig
	case errors.Is(err, aegisbridge.ErrFaulted):
		return exitFault
	default:
		return exitError
	}
}

func newRootCmd() *cobra.Command {
	var envFile string

	root := &cobra.Command{
		Use:   "aegis-bridge",
		Short: "Exchange tag values between OPC UA servers on a fixed cadence.",
		Long: `aegis-bridge connects to every configured OPC UA server, then copies ` +
			`each source tag to its target tag once per exchange period until stopped.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("env-file") {
				return godotenv.Load(envFile)
			}
			_ = godotenv.Load()
			return nil
		},
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Environment file loaded before ${VAR} expansion")

	root.AddCommand(newRunCmd(), newValidateCmd(), newStatsCmd())
	return root
}

func newRunCmd() *cobra.Command {
	var (
		cfgPath     string
		metricsAddr string
		logLevel    string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the bridge using the provided config",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := newLogger(logLevel)
			if err != nil {
				return err
			}

			flow, err := aegisbridge.Conf(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cmd.Flags().Changed("metrics-addr") {
				flow.Config().Metrics.Addr = metricsAddr
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return flow.Run(ctx, aegisbridge.WithLogger(logger))
		},
	}
	cmd.Flags().StringVar(&cfgPath, "config", "./data/bridge.yaml", "Path to the bridge configuration (.yaml or legacy .xml)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Override metrics.addr; empty disables the HTTP server")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	return cmd
}

func newValidateCmd() *cobra.Command {
	var cfgPath string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Load and validate a config file without connecting",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := aegisbridge.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			links := 0
			for _, g := range cfg.Links {
				links += len(g.Variables)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "config %s looks good: %d servers, %d links, period %gs\n",
				cfgPath, len(cfg.Servers), links, cfg.ExchangeTime)
			return nil
		},
	}
	cmd.Flags().StringVar(&cfgPath, "config", "./data/bridge.yaml", "Path to the configuration file to validate")
	return cmd
}

func newStatsCmd() *cobra.Command {
	var (
		url      string
		interval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Poll the metrics endpoint and print live counters",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			ticker := time.NewTicker(interval)
			defer ticker.Stop()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Streaming metrics from %s (Ctrl+C to stop)\n", url)
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					snap, err := fetchSnapshot(ctx, url)
					if err != nil {
						fmt.Fprintf(cmd.ErrOrStderr(), "stats error: %v\n", err)
						continue
					}
					fmt.Fprintln(out, snap)
				}
			}
		},
	}
	cmd.Flags().StringVar(&url, "url", "http://localhost:9100/metrics", "Prometheus metrics endpoint")
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "Refresh interval")
	return cmd
}

type snapshot struct {
	at        time.Time
	cycles    float64
	overruns  float64
	failures  float64
	connected float64
	dropped   float64
}

func (s snapshot) String() string {
	return fmt.Sprintf("[%s] cycles=%.0f overruns=%.0f link_failures=%.0f connected=%.0f reports_dropped=%.0f",
		s.at.Format(time.RFC3339), s.cycles, s.overruns, s.failures, s.connected, s.dropped)
}

func fetchSnapshot(ctx context.Context, url string) (snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return snapshot{}, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return snapshot{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return snapshot{}, fmt.Errorf("unexpected status %s", resp.Status)
	}

	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(resp.Body)
	if err != nil {
		return snapshot{}, err
	}
	return snapshot{
		at:        time.Now(),
		cycles:    sum(families["aegis_cycles_total"]),
		overruns:  sum(families["aegis_cycle_overruns_total"]),
		failures:  sum(families["aegis_link_failures_total"]),
		connected: sum(families["aegis_connected_servers"]),
		dropped:   sum(families["aegis_reports_dropped_total"]),
	}, nil
}

// sum adds every series of a counter or gauge family.
func sum(mf *dto.MetricFamily) float64 {
	if mf == nil {
		return 0
	}
	var total float64
	for _, m := range mf.GetMetric() {
		switch {
		case m.GetCounter() != nil:
			total += m.GetCounter().GetValue()
		case m.GetGauge() != nil:
			total += m.GetGauge().GetValue()
		case m.GetUntyped() != nil:
			total += m.GetUntyped().GetValue()
		}
	}
	return total
}

func newLogger(level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})), nil
}
