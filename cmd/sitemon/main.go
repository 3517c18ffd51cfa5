// Package main is the CLI entry point for sitemon.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/eliteGoblin/focusd/site_mon/internal/clock"
	"github.com/eliteGoblin/focusd/site_mon/internal/config"
	"github.com/eliteGoblin/focusd/site_mon/internal/daemon"
	"github.com/eliteGoblin/focusd/site_mon/internal/domain"
	"github.com/eliteGoblin/focusd/site_mon/internal/infra"
	"github.com/eliteGoblin/focusd/site_mon/internal/policy"
	"github.com/eliteGoblin/focusd/site_mon/internal/server"
	"github.com/eliteGoblin/focusd/site_mon/internal/usecase"
)

var (
	// Version info (set via ldflags)
	Version   = "0.1.0"
	Commit    = "dev"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "sitemon",
	Short: "Site monitor - keeps distracting sites out of your browser",
	Long: `sitemon watches the tabs of a Chromium-based browser through its
remote debugging port and sends tabs showing blocked sites to a block page
while a rule group is active. Blocked tabs return to where they were once
the rule no longer applies or a break is taken.

Start the browser with --remote-debugging-port=9222, then run 'sitemon run'.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the enforcement daemon in the foreground",
	Long: `Runs the watcher, the DevTools event listener and the block page server
until interrupted. Logs go to the configured log file.`,
	RunE: runDaemon,
}

var enforceCmd = &cobra.Command{
	Use:   "enforce",
	Short: "Reconcile all tabs once",
	Long:  `Runs a single reconciliation pass immediately and prints what changed.`,
	RunE:  runEnforce,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show protection status",
	RunE:  runStatus,
}

var checkCmd = &cobra.Command{
	Use:   "check <url>",
	Short: "Show whether a URL would be blocked right now",
	Args:  cobra.ExactArgs(1),
	RunE:  runCheck,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Prints version, commit, and build time. Use --json for machine-readable output.`,
	Run:   runVersion,
}

var jsonOutput bool

func init() {
	versionCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version info as JSON")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(enforceCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(newGroupCmd())
	rootCmd.AddCommand(newEnableCmd(true))
	rootCmd.AddCommand(newEnableCmd(false))
	rootCmd.AddCommand(newBreakCmd())
	rootCmd.AddCommand(newExportCmd())
	rootCmd.AddCommand(newImportCmd())
	rootCmd.AddCommand(newPresetsCmd())
}

// openStore loads runtime config and opens the settings store.
func openStore() (*config.AppConfig, *infra.EncryptedStore, error) {
	appCfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	store, err := infra.OpenStore(appCfg.DataDir, createLogger(appCfg))
	if err != nil {
		return nil, nil, err
	}
	return appCfg, store, nil
}

func runDaemon(cmd *cobra.Command, args []string) error {
	appCfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := createLogger(appCfg)
	defer func() { _ = logger.Sync() }()

	store, err := infra.OpenStore(appCfg.DataDir, logger)
	if err != nil {
		logger.Error("failed to open settings store", zap.Error(err))
		return err
	}
	defer store.Close()

	page, err := policy.NewBlockPage(appCfg.BlockPageBase)
	if err != nil {
		return err
	}
	cache, err := infra.NewDecisionCache(appCfg.DecisionCacheSize)
	if err != nil {
		return err
	}

	clk := clock.RealClock{}
	tabs := infra.NewDevToolsTabManager(appCfg.DevToolsAddr, logger.Named("devtools"))
	enforcer := usecase.NewEnforcerWithCache(store, tabs, page, clk, cache, appCfg.ApplyConcurrency, logger.Named("enforcer"))
	breaker := usecase.NewBreaker(store, clk, logger.Named("breaker"))
	probe := infra.NewBrowserProbe(infra.NewProcessManager(), appCfg.BrowserProcesses, logger.Named("probe"))

	watcher := daemon.NewWatcher(
		daemon.WatcherConfig{
			TickInterval:       appCfg.TickInterval,
			ConfigPollInterval: appCfg.ConfigPollInterval,
		},
		enforcer,
		store,
		breaker,
		probe,
		clk,
		logger.Named("watcher"),
	)
	breaker.SetNotifier(watcher.Notify)

	srv := server.New(appCfg.ListenAddr, page, breaker, logger.Named("server"))
	events := infra.NewDevToolsEventSource(tabs, logger.Named("events"))

	// Set up graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("sitemon starting",
		zap.String("version", Version),
		zap.String("devtools", appCfg.DevToolsAddr),
		zap.String("listen", appCfg.ListenAddr),
		zap.String("store", store.Path()))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(ctx) })
	g.Go(func() error { return events.Run(ctx, watcher.Notify) })
	g.Go(func() error { return watcher.Run(ctx) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("sitemon stopped", zap.Error(err))
		return err
	}
	logger.Info("sitemon stopped")
	return nil
}

func runEnforce(cmd *cobra.Command, args []string) error {
	appCfg, store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	logger, _ := zap.NewDevelopment()
	defer func() { _ = logger.Sync() }()

	page, err := policy.NewBlockPage(appCfg.BlockPageBase)
	if err != nil {
		return err
	}
	tabs := infra.NewDevToolsTabManager(appCfg.DevToolsAddr, logger)
	enforcer := usecase.NewEnforcerWithCache(store, tabs, page, clock.RealClock{}, nil, appCfg.ApplyConcurrency, logger)

	result, err := enforcer.Enforce(cmd.Context(), domain.TriggerManual)
	if err != nil {
		return fmt.Errorf("enforcement failed: %w", err)
	}

	fmt.Printf("\nTabs seen: %d\n", result.TabsSeen)
	if len(result.Applied) == 0 && len(result.Failed) == 0 {
		fmt.Println("Nothing to change.")
	}
	for _, a := range result.Applied {
		fmt.Printf("  %-20s %s %s\n", a.Kind, a.TabID, a.FromURL)
	}
	for i, a := range result.Failed {
		fmt.Printf("  FAILED %-13s %s: %v\n", a.Kind, a.TabID, result.Errors[i])
	}
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	appCfg, store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	cfg, err := store.Load()
	if err != nil {
		return err
	}
	now := time.Now()

	fmt.Println("\n=== sitemon Status ===")
	if daemonReachable(appCfg.ListenAddr) {
		fmt.Println("Daemon: RUNNING")
	} else {
		fmt.Println("Daemon: NOT RUNNING")
		fmt.Println("        Run 'sitemon run' to start enforcing.")
	}

	if cfg.ExtensionEnabled {
		fmt.Println("Blocking: enabled")
	} else {
		fmt.Println("Blocking: disabled")
	}

	if cfg.Break.InEffect(now) {
		fmt.Printf("Break: active, %s left\n", cfg.Break.EndTime().Sub(now).Round(time.Second))
	} else {
		fmt.Println("Break: none")
	}

	minute := policy.MinuteOfDay(now)
	fmt.Printf("\nRule groups (%d):\n", len(cfg.RuleGroups))
	for _, g := range cfg.RuleGroups {
		state := "idle"
		switch {
		case g.Validate() != nil:
			state = "invalid"
		case !g.Enabled:
			state = "disabled"
		case policy.GroupActive(g, minute):
			state = "ACTIVE"
		}
		fmt.Printf("  [%s] %-20s %-5s %-8s %d sites\n", g.ID, g.Name, g.Mode, state, len(g.Patterns))
	}

	probe := infra.NewBrowserProbe(infra.NewProcessManager(), appCfg.BrowserProcesses, zap.NewNop())
	fmt.Printf("\nBrowser running: %t\n", probe.Running())
	fmt.Printf("Settings: %s\n", store.Path())
	fmt.Println("======================")
	return nil
}

// daemonReachable probes the block page server's health endpoint.
func daemonReachable(addr string) bool {
	client := &http.Client{Timeout: time.Second}
	resp, err := client.Get("http://" + addr + "/healthz")
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func runCheck(cmd *cobra.Command, args []string) error {
	_, store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	host, ok := policy.HostOf(args[0])
	if !ok {
		fmt.Printf("%s is not a web page and is never blocked\n", args[0])
		return nil
	}

	cfg, err := store.Load()
	if err != nil {
		return err
	}

	v := policy.Evaluate(cfg, host, time.Now())
	fmt.Printf("%s: %s\n", host, v)
	if v.Detail != "" {
		fmt.Printf("  %s\n", v.Detail)
	}
	if v.GroupID != "" {
		fmt.Printf("  group %s, pattern %q\n", v.GroupID, v.Pattern)
	}
	for _, s := range v.Skipped {
		fmt.Printf("  skipped malformed group %s\n", s)
	}
	return nil
}

func createLogger(appCfg *config.AppConfig) *zap.Logger {
	if err := os.MkdirAll(appCfg.DataDir, 0700); err != nil {
		logger, _ := zap.NewProduction()
		return logger
	}

	cfg := zap.NewProductionConfig()
	if appCfg.Env == "dev" {
		cfg = zap.NewDevelopmentConfig()
	}
	if level, err := zap.ParseAtomicLevel(appCfg.LogLevel); err == nil {
		cfg.Level = level
	}
	cfg.OutputPaths = []string{appCfg.LogPath()}
	cfg.ErrorOutputPaths = []string{appCfg.LogPath()}
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		// Fallback to stdout if file logging fails
		logger, _ = zap.NewProduction()
	}
	return logger
}

func runVersion(cmd *cobra.Command, args []string) {
	if jsonOutput {
		fmt.Printf(`{"version":"%s","commit":"%s","build_time":"%s"}`+"\n",
			Version, Commit, BuildTime)
	} else {
		fmt.Printf("sitemon %s (commit: %s, built: %s)\n",
			Version, Commit, BuildTime)
	}
}
