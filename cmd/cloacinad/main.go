package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/colliery-io/cloacina-go/cronsched"
	"github.com/colliery-io/cloacina-go/dispatcher"
	"github.com/colliery-io/cloacina-go/engine"
	"github.com/colliery-io/cloacina-go/executor"
	"github.com/colliery-io/cloacina-go/internal/config"
	"github.com/colliery-io/cloacina-go/internal/version"
	"github.com/colliery-io/cloacina-go/recovery"
	"github.com/colliery-io/cloacina-go/registry/reconciler"
	"github.com/colliery-io/cloacina-go/scheduler"
	"github.com/colliery-io/cloacina-go/server"
	"github.com/colliery-io/cloacina-go/store"
	"github.com/colliery-io/cloacina-go/store/db"
	"github.com/colliery-io/cloacina-go/trigger"
	"github.com/colliery-io/cloacina-go/workflow"
)

var v = viper.New()

var rootCmd = &cobra.Command{
	Use:           "cloacinad",
	Short:         "Embedded workflow orchestration engine.",
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load()
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "path to the YAML configuration file")
	_ = v.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))

	serverCmd := &cobra.Command{Use: "server", Short: "Manage the engine process lifecycle."}

	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the engine, by default detached from the current terminal.",
		RunE:  runServerStart,
	}
	startCmd.Flags().Bool("foreground", false, "run in the foreground instead of detaching")
	startCmd.Flags().String("database-url", "", "overrides database.url from the config file")
	serverCmd.AddCommand(startCmd)

	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop a running engine process.",
		RunE:  runServerStop,
	}
	stopCmd.Flags().Bool("force", false, "send SIGKILL instead of waiting for graceful shutdown")
	stopCmd.Flags().Duration("timeout", 30*time.Second, "how long to wait for the process to exit")
	serverCmd.AddCommand(stopCmd)

	restartCmd := &cobra.Command{
		Use:   "restart",
		Short: "Stop then start the engine.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := runServerStop(cmd, args); err != nil {
				slog.Warn("stop before restart reported an error, continuing", "error", err)
			}
			return runServerStart(cmd, args)
		},
	}
	restartCmd.Flags().Bool("force", false, "send SIGKILL instead of waiting for graceful shutdown")
	restartCmd.Flags().Duration("timeout", 30*time.Second, "how long to wait for the process to exit")
	restartCmd.Flags().String("database-url", "", "overrides database.url from the config file")
	serverCmd.AddCommand(restartCmd)

	rootCmd.AddCommand(serverCmd)

	adminCmd := &cobra.Command{Use: "admin", Short: "Administrative operations."}
	cleanupCmd := &cobra.Command{
		Use:   "cleanup-events",
		Short: "Delete execution_event rows older than a duration.",
		RunE:  runAdminCleanupEvents,
	}
	cleanupCmd.Flags().String("older-than", "", "age threshold, e.g. 720h, 30d (required)")
	cleanupCmd.Flags().Bool("dry-run", false, "report how many rows would be deleted without deleting them")
	_ = cleanupCmd.MarkFlagRequired("older-than")
	adminCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(adminCmd)

	rootCmd.AddCommand(packageCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads --config (or, when that flag is empty, the
// CLOACINA_CONFIG environment variable) and applies any --database-url
// override on top of the resulting Config.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path, _ = rootCmd.PersistentFlags().GetString("config")
	}
	if path == "" {
		path = os.Getenv("CLOACINA_CONFIG")
	}
	cfg, err := config.Load(path, v)
	if err != nil {
		return nil, err
	}
	if dsn, _ := cmd.Flags().GetString("database-url"); dsn != "" {
		cfg.Database.URL = dsn
	}
	return cfg, nil
}

func runServerStart(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	foreground, _ := cmd.Flags().GetBool("foreground")
	if foreground {
		return runForeground(cfg)
	}
	return spawnDetached(cmd)
}

// spawnDetached re-execs the current binary with --foreground appended and
// the parent's argv otherwise preserved, so server start's default
// behavior (detach from the terminal) needs no third-party daemonization
// library: Go's own os/exec plus a platform SysProcAttr is the idiomatic
// equivalent of double-forking.
func spawnDetached(cmd *cobra.Command) error {
	exe, err := os.Executable()
	if err != nil {
		return err
	}
	childArgs := append([]string(nil), os.Args[1:]...)
	childArgs = append(childArgs, "--foreground")

	child := exec.Command(exe, childArgs...)
	child.Stdout = io.Discard
	child.Stderr = io.Discard
	child.Stdin = nil
	detachProcess(child)

	if err := child.Start(); err != nil {
		return fmt.Errorf("failed to start detached engine process: %w", err)
	}
	fmt.Printf("cloacinad started, pid %d\n", child.Process.Pid)
	return child.Process.Release()
}

// runForeground runs the engine in this process until a termination
// signal or an unrecoverable startup error, writing and removing the PID
// file around the run.
func runForeground(cfg *config.Config) error {
	if err := server.WritePIDFile(cfg.Server.PIDFile); err != nil {
		return err
	}
	defer func() {
		if err := server.RemovePIDFile(cfg.Server.PIDFile); err != nil {
			slog.Error("failed to remove pid file", "error", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	driver, err := db.NewDriver(cfg.DatabaseBackend(), cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}
	st := store.New(driver)
	defer st.Close()

	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	constructors := workflow.NewConstructorRegistry()
	workflows := workflow.NewSet()

	sched := scheduler.New(st, workflows)
	eng := engine.New(st, workflows, sched)

	dispCfg := dispatcher.Config{
		Backend:      cfg.DatabaseBackend(),
		DSN:          cfg.Database.URL,
		PollInterval: int64(cfg.Execution.PollingIntervalMS),
	}
	disp, err := dispatcher.New(ctx, dispCfg)
	if err != nil {
		return fmt.Errorf("failed to create dispatcher: %w", err)
	}

	workerID := fmt.Sprintf("cloacinad-%d", os.Getpid())
	ex := executor.New(st, disp, sched, workflows, executor.Config{
		WorkerID:    workerID,
		Concurrency: int64(cfg.Execution.MaxConcurrentTasks),
	})

	var rec *reconciler.Reconciler
	if cfg.Registry.Enabled {
		watchDir := ""
		if cfg.Registry.StorageType == "filesystem" {
			watchDir = cfg.Registry.StoragePath
		}
		rec = reconciler.New(st, constructors, workflows, os.TempDir(), watchDir, "default", "default", false)
		if err := rec.Reconcile(ctx); err != nil {
			slog.Error("initial package reconciliation failed", "error", err)
		}
	}

	var cron *cronsched.Evaluator
	if cfg.Cron.Enabled {
		cron = cronsched.New(st, eng.Submit, time.Duration(cfg.Cron.CheckIntervalSecs)*time.Second, cronsched.FireLatestOnly())
	}

	trig := trigger.New(st, eng.Submit)

	recSvc := recovery.New(st, sched, liveWorkersOf(workerID), recovery.DefaultPolicy())

	adminServer := server.NewServer(cfg.Server, st)

	errCh := make(chan error, 8)
	go func() { errCh <- ex.Run(ctx) }()
	go func() { errCh <- recSvc.Run(ctx, 0) }()
	if cron != nil {
		go func() { errCh <- cron.Run(ctx) }()
	}
	go func() { errCh <- trig.Run(ctx) }()
	if rec != nil {
		go func() { errCh <- rec.Run(ctx, time.Minute) }()
	}
	go func() {
		if err := adminServer.Start(ctx); err != nil {
			errCh <- err
		}
	}()

	slog.Info("cloacinad started", "version", version.String(), "pid", os.Getpid())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, terminationSignals...)

	select {
	case <-sigCh:
		slog.Info("received termination signal, shutting down")
	case err := <-errCh:
		if err != nil {
			slog.Error("a background service exited unexpectedly", "error", err)
		}
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.GracefulShutdownTimeoutSecs)*time.Second)
	defer shutdownCancel()
	if err := adminServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("admin server shutdown error", "error", err)
	}
	ex.Shutdown()

	return nil
}

func liveWorkersOf(workerID string) recovery.LiveWorkers {
	return func(ctx context.Context) ([]string, error) {
		return []string{workerID}, nil
	}
}

func runServerStop(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	pid, err := server.ReadPID(cfg.Server.PIDFile)
	if err != nil {
		return fmt.Errorf("failed to read pid file %s: %w", cfg.Server.PIDFile, err)
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("process %d not found: %w", pid, err)
	}

	force, _ := cmd.Flags().GetBool("force")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	sig := os.Interrupt
	if force {
		sig = os.Kill
	}
	if err := proc.Signal(sig); err != nil {
		return fmt.Errorf("failed to signal process %d: %w", pid, err)
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !processAlive(proc) {
			fmt.Printf("cloacinad (pid %d) stopped\n", pid)
			return nil
		}
		time.Sleep(200 * time.Millisecond)
	}
	return fmt.Errorf("process %d did not exit within %s", pid, timeout)
}

func runAdminCleanupEvents(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	olderThan, _ := cmd.Flags().GetString("older-than")
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	d, err := parseAdminDuration(olderThan)
	if err != nil {
		return err
	}

	driver, err := db.NewDriver(cfg.DatabaseBackend(), cfg.Database.URL)
	if err != nil {
		return err
	}
	st := store.New(driver)
	defer st.Close()

	cutoff := time.Now().UTC().Add(-d)
	n, err := st.DeleteExecutionEventsOlderThan(context.Background(), cutoff, dryRun)
	if err != nil {
		return err
	}

	out, _ := json.Marshal(map[string]any{"deleted": n, "dry_run": dryRun, "cutoff": cutoff})
	fmt.Println(string(out))
	return nil
}

// packageCmd stubs the package compile/inspect/visualize/debug surface.
// These are host-provided operational tooling outside this repo's scope,
// so each subcommand here exists only to keep the CLI shape complete and
// fails loudly rather than silently doing nothing.
func packageCmd() *cobra.Command {
	pkg := &cobra.Command{Use: "package", Short: "Package authoring and inspection tools (not implemented in this host)."}
	notImplemented := func(cmd *cobra.Command, args []string) error {
		return fmt.Errorf("%s: not implemented in this host", cmd.CommandPath())
	}

	compile := &cobra.Command{Use: "compile <project>", Args: cobra.ExactArgs(1), RunE: notImplemented}
	compile.Flags().String("output", "", "output archive path")
	compile.Flags().String("target", "", "GOOS-GOARCH target")
	compile.Flags().String("profile", "", "build profile")
	pkg.AddCommand(compile)

	inspect := &cobra.Command{Use: "inspect <file>", Args: cobra.ExactArgs(1), RunE: notImplemented}
	inspect.Flags().String("format", "human", "human or json")
	pkg.AddCommand(inspect)

	visualize := &cobra.Command{Use: "visualize <file>", Args: cobra.ExactArgs(1), RunE: notImplemented}
	visualize.Flags().String("layout", "horizontal", "horizontal or compact")
	visualize.Flags().String("format", "ascii", "ascii or dot")
	pkg.AddCommand(visualize)

	debug := &cobra.Command{Use: "debug <file>", Short: "Inspect or step through a package's tasks."}
	debugList := &cobra.Command{Use: "list", Args: cobra.ExactArgs(0), RunE: notImplemented}
	debugExecute := &cobra.Command{Use: "execute <task-id-or-index>", Args: cobra.ExactArgs(1), RunE: notImplemented}
	debugExecute.Flags().String("context", "", "JSON seed context")
	debugExecute.Flags().StringArray("env", nil, "K=V environment override")
	debugExecute.Flags().String("env-file", "", "dotenv file to load")
	debugExecute.Flags().Bool("include-env", false, "include the host process environment")
	debugExecute.Flags().String("env-prefix", "", "only include env vars with this prefix")
	debug.AddCommand(debugList, debugExecute)
	pkg.AddCommand(debug)

	return pkg
}

func parseAdminDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, fmt.Errorf("--older-than is required")
	}
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, fmt.Errorf("invalid --older-than %q: %w", s, err)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}
