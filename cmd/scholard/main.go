package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"scholard/internal/config"
	"scholard/internal/logging"
	"scholard/internal/run"
	"scholard/internal/status"
	"scholard/internal/telemetry"
)

var (
	// Global flags
	cfgPath string
	verbose bool

	// run flags
	runMode   string
	runSingle bool

	// digest / telemetry flags
	digestDays    int
	telemetryDays int

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "scholard",
	Short: "Scholar orchestrator for the PT study assistant",
	Long: `scholard runs unattended multi-agent study audits: it snapshots study
telemetry from the local database, dispatches specialist LLM CLI agents in
parallel, synthesizes their outputs into a final report, and preserves open
questions across runs. All study data is read-only to the agents.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		cfg, err = config.Load(cfgPath)
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		if err := logging.Initialize(cfg.Paths.OutputsDir, cfgPath); err != nil {
			logger.Warn("category logging unavailable", zap.Error(err))
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAll()
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start an unattended audit run",
	Long: `Starts a run in the given mode and prints its descriptor as JSON.

Modes:
  brain: audits study telemetry (database snapshot as context)
  tutor: audits the SOP library (allowlisted paths as context)

The descriptor is printed as soon as the run is accepted; the command then
blocks until the background worker finishes (SIGINT/SIGTERM kills the CLI
subprocesses).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, err := run.ParseMode(runMode)
		if err != nil {
			return err
		}
		if runSingle {
			cfg.MultiAgent.Enabled = false
		}

		// Canceled on SIGINT/SIGTERM; the deferred cancel fires only
		// after Wait returns.
		ctx, cancel := signalContext()
		defer cancel()

		c := run.NewController(cfg, "")
		desc, err := c.Start(ctx, mode)
		if err != nil {
			return err
		}
		logger.Info("run started",
			zap.String("run_id", desc.RunID),
			zap.String("mode", string(desc.Mode)),
			zap.Bool("manual", desc.RequiresManualExecution))

		if err := printJSON(desc); err != nil {
			return err
		}
		c.Wait(desc.RunID)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the aggregate dashboard stats as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		return printJSON(status.NewReader(cfg).BuildScholarStats())
	},
}

var readinessCmd = &cobra.Command{
	Use:   "readiness",
	Short: "Report whether a new run would have fresh input",
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, err := run.ParseMode(runMode)
		if err != nil {
			return err
		}
		return printJSON(status.NewReader(cfg).GetRunReadiness(mode))
	},
}

var digestCmd = &cobra.Command{
	Use:   "digest",
	Short: "Generate the weekly digest from recent run artifacts",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		res, err := status.NewReader(cfg).GenerateWeeklyDigest(ctx, digestDays)
		if err != nil {
			return err
		}
		logger.Info("digest generated",
			zap.String("period", res.Period),
			zap.Int("runs", res.RunsCount),
			zap.Bool("ai_powered", res.AIPowered))
		return printJSON(res)
	},
}

var telemetryCmd = &cobra.Command{
	Use:   "telemetry",
	Short: "Build a standalone telemetry snapshot",
	Long: `Builds a telemetry snapshot outside of any run and prints the path of
the written file. Useful for checking what the brain-mode agents would see.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		days := telemetryDays
		if days <= 0 {
			days = cfg.DaysRecent()
		}
		paths := run.Paths{Root: cfg.Paths.OutputsDir}
		if err := paths.EnsureDirs(); err != nil {
			return err
		}
		r := telemetry.NewReader(cfg.Paths.DatabasePath, paths.TelemetryDir())
		path, err := r.BuildSnapshot(run.FormatRunID(time.Now()), days)
		if err != nil {
			return err
		}
		fmt.Println(path)
		return nil
	},
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Render the newest final report to the terminal",
	RunE: func(cmd *cobra.Command, args []string) error {
		paths := run.Paths{Root: cfg.Paths.OutputsDir}
		path := newestFinalReport(paths.RunDir())
		if path == "" {
			return fmt.Errorf("no final report found under %s", paths.RunDir())
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}

		renderer, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(100),
		)
		if err != nil {
			// Fall back to raw markdown on dumb terminals.
			fmt.Print(string(data))
			return nil
		}
		out, err := renderer.Render(string(data))
		if err != nil {
			fmt.Print(string(data))
			return nil
		}
		fmt.Print(out)
		return nil
	},
}

func newestFinalReport(runDir string) string {
	matches, err := filepath.Glob(filepath.Join(runDir, "unattended_final_*.md"))
	if err != nil || len(matches) == 0 {
		return ""
	}
	newest := ""
	var newestMtime time.Time
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil {
			continue
		}
		if newest == "" || info.ModTime().After(newestMtime) {
			newest, newestMtime = m, info.ModTime()
		}
	}
	return newest
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// signalContext returns a context canceled on SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			logger.Info("received shutdown signal")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "scholar.yaml", "Path to the scholar config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")

	runCmd.Flags().StringVar(&runMode, "mode", "brain", "Run mode: brain or tutor")
	runCmd.Flags().BoolVar(&runSingle, "single", false, "Use a single scholar agent instead of the specialist fan-out")

	readinessCmd.Flags().StringVar(&runMode, "mode", "brain", "Run mode: brain or tutor")
	digestCmd.Flags().IntVar(&digestDays, "days", 7, "Window in days to scan")
	telemetryCmd.Flags().IntVar(&telemetryDays, "days", 0, "Recent-activity window in days (0 uses config)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(readinessCmd)
	rootCmd.AddCommand(digestCmd)
	rootCmd.AddCommand(telemetryCmd)
	rootCmd.AddCommand(reportCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
