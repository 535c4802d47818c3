package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	kconfig "github.com/oar-team/kamelot/internal/config"
	"github.com/oar-team/kamelot/pkg/kamelot"
	"github.com/oar-team/kamelot/pkg/metrics"
	"github.com/oar-team/kamelot/pkg/platform"
)

var (
	version   = "dev"
	commit    = "unknown"
	goVersion = runtime.Version()
)

// Application holds the state shared by every subcommand, mirroring
// ollamacron's Application struct.
type Application struct {
	Settings *kconfig.Settings
	Logger   zerolog.Logger
}

func main() {
	app := &Application{}

	rootCmd := &cobra.Command{
		Use:   "kamelot",
		Short: "kamelot - a cluster job scheduling core",
		Long: `kamelot computes resource-to-job assignments for one scheduling cycle:
ProcSet algebra, a hierarchy index over cluster resources, a slot-set
model of resource availability over time, a resource-request evaluator,
a job assigner and a quota engine.

This binary is a harness around that core, not a meta-scheduler: it
loads a static cluster+job snapshot and runs exactly one cycle.`,
		Version:           buildVersion(),
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return app.initializeLogging(cmd) },
		SilenceUsage:      true,
	}

	rootCmd.PersistentFlags().String("config", "", "config file (default: kamelot.yaml in ., ./config or /etc/kamelot)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "json", "log format (json, console)")

	rootCmd.AddCommand(
		buildRunCmd(app),
		buildVersionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("command failed")
	}
}

func buildVersion() string {
	return fmt.Sprintf("%s (commit %s, %s)", version, commit, goVersion)
}

// initializeLogging configures the global zerolog logger and loads
// Settings, the way ollamacron's Application.initializeLogging does.
func (app *Application) initializeLogging(cmd *cobra.Command) error {
	logLevel, _ := cmd.Flags().GetString("log-level")
	logFormat, _ := cmd.Flags().GetString("log-format")

	level, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	zerolog.SetGlobalLevel(level)
	if logFormat == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	runID := uuid.New().String()
	log.Logger = log.With().Str("component", "kamelot").Str("run_id", runID).Logger()

	configFile, _ := cmd.Flags().GetString("config")
	settings, err := kconfig.Load(configFile)
	if err != nil {
		return err
	}
	app.Settings = settings
	app.Logger = log.Logger
	return nil
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(buildVersion())
			return nil
		},
	}
}

func buildRunCmd(app *Application) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one scheduling cycle against a fixture snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.runCycle(cmd, args)
		},
	}
	cmd.Flags().String("fixture", "", "path to a fixture snapshot (YAML or JSON)")
	cmd.Flags().StringSlice("queue", nil, "queues to draw waiting jobs from (default: all)")
	_ = cmd.MarkFlagRequired("fixture")
	return cmd
}

func (app *Application) runCycle(cmd *cobra.Command, args []string) error {
	fixturePath, _ := cmd.Flags().GetString("fixture")
	queues, _ := cmd.Flags().GetStringSlice("queue")

	fs, err := loadFixture(fixturePath)
	if err != nil {
		return err
	}

	kcfg, err := app.Settings.ToKamelotConfig()
	if err != nil {
		return err
	}

	plat, err := newFixturePlatform(fs, kcfg.Quotas)
	if err != nil {
		return err
	}

	m := metrics.NewCycle()
	cy, err := kamelot.NewCycle(plat, platform.Hooks{}, kcfg)
	if err != nil {
		return fmt.Errorf("build cycle: %w", err)
	}

	res, err := cy.Run(queues, m)
	if err != nil {
		return fmt.Errorf("run cycle: %w", err)
	}

	app.Logger.Info().
		Int("assigned", len(res.Assigned)).
		Int("unscheduled", len(res.Unscheduled)).
		Int("total_slots", res.TotalSlots).
		Msg("cycle finished")

	for _, a := range res.Assigned {
		fmt.Printf("job %d: start=%d walltime=%d procset=%s slotset=%s\n",
			a.JobID, a.Start, a.Walltime, a.ProcSet.String(), a.SlotSetName)
	}
	for _, u := range res.Unscheduled {
		fmt.Printf("job %d: unscheduled (%s: %s)\n", u.JobID, u.Reason, u.Detail)
	}

	if app.Settings.Metrics.Enabled {
		return app.serveMetrics(m)
	}
	return nil
}

// serveMetrics exposes the cycle's Prometheus registry over HTTP until
// interrupted, for a human to pull kamelot_* gauges/counters after a run
// instead of reading them off stdout.
func (app *Application) serveMetrics(m *metrics.Cycle) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: app.Settings.Metrics.Listen, Handler: mux}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	app.Logger.Info().Str("listen", app.Settings.Metrics.Listen).Msg("serving /metrics")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	case sig := <-sigCh:
		app.Logger.Info().Str("signal", sig.String()).Msg("shutting down metrics server")
		return srv.Close()
	}
}
