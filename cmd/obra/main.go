// Package main is the obra CLI entry point.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/hyperjump/obra/internal/cli"
	"github.com/hyperjump/obra/internal/config"
	"github.com/hyperjump/obra/internal/core"
	"github.com/hyperjump/obra/internal/daemon"
	"github.com/hyperjump/obra/internal/ipc"
	"github.com/hyperjump/obra/internal/models"
	"github.com/hyperjump/obra/internal/session"
	"github.com/hyperjump/obra/internal/storage"
	"github.com/hyperjump/obra/pkg/utils"
)

var version = "dev"

// childEnv marks a process spawned by `obra daemon` to run in the background.
const childEnv = "OBRA_DAEMON_CHILD"

const (
	startTimeout = 15 * time.Second
	stopTimeout  = 10 * time.Second
)

func main() {
	_ = godotenv.Load()
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run dispatches a command and returns the process exit code.
func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		printUsage(stderr)
		return 1
	}
	app := &app{stdout: stdout, stderr: stderr}
	command := args[0]
	switch command {
	case "init":
		return app.runInit(args[1:])
	case "search":
		return app.runSearch(args[1:])
	case "index":
		return app.runIndex(args[1:])
	case "daemon":
		return app.runDaemon(args[1:])
	case "stop":
		return app.runStop(args[1:])
	case "status":
		return app.runStatus(args[1:])
	case "version", "--version", "-v":
		fmt.Fprintf(stdout, "obra version %s\n", version)
		return 0
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	}
	if strings.HasPrefix(command, "-") && !isSearchFlag(command) {
		fmt.Fprintf(stderr, "Unknown flag: %s\n", command)
		printUsage(stderr)
		return 1
	}
	// Anything else is a bare query.
	return app.runSearch(args)
}

func isSearchFlag(arg string) bool {
	name := strings.TrimLeft(arg, "-")
	if i := strings.Index(name, "="); i >= 0 {
		name = name[:i]
	}
	switch name {
	case "json", "limit", "config":
		return true
	}
	return false
}

type app struct {
	stdout io.Writer
	stderr io.Writer
}

func (a *app) fail(format string, args ...interface{}) int {
	fmt.Fprintf(a.stderr, format+"\n", args...)
	return 1
}

func newFlagSet(name string, w io.Writer) (*flag.FlagSet, *string) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(w)
	configPath := fs.String("config", "", "config file path (default: user config dir)")
	return fs, configPath
}

func resolveConfigPath(path string) (string, error) {
	if path != "" {
		return path, nil
	}
	return config.DefaultPath()
}

func loadConfig(path string) (*config.Config, error) {
	resolved, err := resolveConfigPath(path)
	if err != nil {
		return nil, err
	}
	return config.Load(resolved)
}

// viaDaemon runs fn against the running daemon. It reports false when no
// daemon answers or the request fails; the caller then uses the local index.
func viaDaemon(cfg *config.Config, logger *zap.Logger, fn func(*ipc.Client) error) bool {
	c, err := ipc.Dial(cfg.Daemon.SocketPath, cfg.Daemon.ConnectTimeout)
	if err != nil {
		return false
	}
	defer c.Close()
	if err := fn(c); err != nil {
		logger.Debug("daemon request failed, using local index", zap.Error(err))
		return false
	}
	logger.Debug("used running daemon", zap.String("socket", cfg.Daemon.SocketPath))
	return true
}

// openLocal returns an in-process service over a cold session.
func (a *app) openLocal(ctx context.Context, cfg *config.Config, logger *zap.Logger, progress *cli.Progress) (core.Service, error) {
	s, err := session.OpenCold(ctx, cfg, session.Options{Logger: logger})
	if err != nil {
		return nil, err
	}
	return session.NewLocal(s,
		session.WithProgress(progress.Update),
		session.WithNotice(func(msg string) { fmt.Fprintln(a.stderr, msg) }),
	), nil
}

func (a *app) runInit(args []string) int {
	fs, configPath := newFlagSet("init", a.stderr)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() != 1 {
		return a.fail("Usage: obra init [--config path] <vault>")
	}
	path, err := resolveConfigPath(*configPath)
	if err != nil {
		return a.fail("Failed to locate config: %v", err)
	}
	cfg, err := config.Initialize(path, fs.Arg(0))
	if err != nil {
		return a.fail("Init failed: %v", err)
	}

	// The next query syncs against the new vault.
	if err := os.MkdirAll(cfg.Storage.DataDir, 0755); err != nil {
		return a.fail("Failed to create data directory: %v", err)
	}
	state, err := storage.NewSQLiteSyncState(cfg.StateDBPath(), storage.Options{})
	if err != nil {
		return a.fail("Failed to open sync state: %v", err)
	}
	defer state.Close()
	if err := state.SetLastSync(context.Background(), time.Time{}); err != nil {
		return a.fail("Failed to reset sync state: %v", err)
	}

	fmt.Fprintf(a.stdout, "Vault: %s\nConfig: %s\n", cfg.Vault.Path, path)
	return 0
}

// buildSearchQuery joins all positional args with spaces so multi-word queries
// work the same with or without shell quoting.
func buildSearchQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// searchArgsReorder moves any flags (and their values) that appear after the query
// to the front of the slice so that flag.Parse() sees them. Go's flag package
// stops at the first non-flag argument, so "obra search bread --limit 3"
// would otherwise leave --limit unparsed.
func searchArgsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

func (a *app) runSearch(args []string) int {
	fs, configPath := newFlagSet("search", a.stderr)
	jsonOut := fs.Bool("json", false, "print results as JSON")
	limit := fs.Int("limit", 0, "number of results (default from config)")
	fs.Usage = func() {
		fmt.Fprintf(a.stderr, "Usage: obra search [flags] <query>\n\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(searchArgsReorder(args)); err != nil {
		return 1
	}
	query := buildSearchQuery(fs.Args())
	if query == "" {
		fs.Usage()
		return 1
	}
	format := cli.OutputText
	if *jsonOut {
		format = cli.OutputJSON
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return a.fail("Failed to load config: %v", err)
	}
	logger, err := utils.NewCLILogger(cfg.Debug)
	if err != nil {
		return a.fail("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	ctx := context.Background()
	var results []models.SearchResult
	if !viaDaemon(cfg, logger, func(c *ipc.Client) (err error) {
		results, err = c.Search(ctx, query, *limit)
		return err
	}) {
		progress := cli.NewProgress(os.Stderr, "syncing", cli.IsTerminal(os.Stderr))
		svc, err := a.openLocal(ctx, cfg, logger, progress)
		if err != nil {
			return a.fail("Failed to open index: %v", err)
		}
		defer svc.Close()
		results, err = svc.Search(ctx, query, *limit)
		progress.Finish()
		if err != nil {
			return a.fail("Search failed: %v", err)
		}
	}
	if err := cli.WriteSearchResults(a.stdout, results, format); err != nil {
		return a.fail("Output failed: %v", err)
	}
	return 0
}

func (a *app) runIndex(args []string) int {
	fs, configPath := newFlagSet("index", a.stderr)
	force := fs.Bool("force", false, "reindex every file")
	jsonOut := fs.Bool("json", false, "print the sync report as JSON")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	format := cli.OutputText
	if *jsonOut {
		format = cli.OutputJSON
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return a.fail("Failed to load config: %v", err)
	}
	logger, err := utils.NewCLILogger(cfg.Debug)
	if err != nil {
		return a.fail("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	ctx := context.Background()
	tty := cli.IsTerminal(os.Stderr)
	req := core.SyncRequest{Force: *force, Wait: true}

	var report *models.SyncReport
	if viaDaemon(cfg, logger, func(c *ipc.Client) (err error) {
		stop := cli.StartSpinner(os.Stderr, "daemon indexing", tty)
		defer stop()
		report, err = c.Sync(ctx, req)
		return err
	}) {
		return a.writeReport(report, format)
	}

	s, err := session.Open(ctx, cfg, session.Options{Writer: true, Logger: logger})
	if errors.Is(err, session.ErrLocked) {
		return a.fail("Index failed: %v", err)
	}
	if err != nil {
		return a.fail("Failed to open index: %v", err)
	}
	progress := cli.NewProgress(os.Stderr, "indexing", tty)
	local := session.NewLocal(s, session.WithProgress(progress.Update))
	defer local.Close()

	report, err = local.Sync(ctx, req)
	progress.Finish()
	if err != nil {
		return a.fail("Index failed: %v", err)
	}
	return a.writeReport(report, format)
}

func (a *app) writeReport(report *models.SyncReport, format cli.OutputFormat) int {
	if err := cli.WriteSyncReport(a.stdout, report, format); err != nil {
		return a.fail("Output failed: %v", err)
	}
	return 0
}

func (a *app) runStatus(args []string) int {
	fs, configPath := newFlagSet("status", a.stderr)
	jsonOut := fs.Bool("json", false, "print status as JSON")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	format := cli.OutputText
	if *jsonOut {
		format = cli.OutputJSON
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return a.fail("Failed to load config: %v", err)
	}
	logger, err := utils.NewCLILogger(cfg.Debug)
	if err != nil {
		return a.fail("Failed to create logger: %v", err)
	}
	defer logger.Sync()
	ctx := context.Background()

	var st *models.Status
	if !viaDaemon(cfg, logger, func(c *ipc.Client) (err error) {
		st, err = c.Status(ctx)
		return err
	}) {
		s, err := session.Open(ctx, cfg, session.Options{Logger: logger})
		if errors.Is(err, session.ErrNoIndex) {
			st := &models.Status{State: session.StateCold, Vault: cfg.Vault.Path}
			if err := cli.WriteStatus(a.stdout, st, time.Now(), format); err != nil {
				return a.fail("Output failed: %v", err)
			}
			return 0
		}
		if err != nil {
			return a.fail("Failed to open index: %v", err)
		}
		local := session.NewLocal(s)
		defer local.Close()
		if st, err = local.Status(ctx); err != nil {
			return a.fail("Status failed: %v", err)
		}
	}
	if err := cli.WriteStatus(a.stdout, st, time.Now(), format); err != nil {
		return a.fail("Output failed: %v", err)
	}
	return 0
}

// daemonChildArgs are the arguments a backgrounded daemon is re-spawned with.
func daemonChildArgs(configPath string) []string {
	args := []string{"daemon", "--foreground"}
	if configPath != "" {
		args = append(args, "--config", configPath)
	}
	return args
}

func (a *app) runDaemon(args []string) int {
	fs, configPath := newFlagSet("daemon", a.stderr)
	foreground := fs.Bool("foreground", false, "run in this process instead of the background")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	cfg, err := loadConfig(*configPath)
	if err != nil {
		return a.fail("Failed to load config: %v", err)
	}
	if ipc.Probe(cfg.Daemon.SocketPath, cfg.Daemon.ConnectTimeout) {
		return a.fail("%v", daemon.ErrAlreadyRunning)
	}
	if *foreground || os.Getenv(childEnv) != "" {
		return a.runDaemonForeground(cfg)
	}
	return a.spawnDaemon(cfg, *configPath)
}

func (a *app) runDaemonForeground(cfg *config.Config) int {
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		return a.fail("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d := daemon.New(cfg, daemon.Options{Logger: logger})
	if err := d.Run(ctx); err != nil {
		logger.Error("daemon failed", zap.Error(err))
		return a.fail("Daemon failed: %v", err)
	}
	return 0
}

func (a *app) spawnDaemon(cfg *config.Config, configPath string) int {
	exe, err := os.Executable()
	if err != nil {
		return a.fail("Failed to locate executable: %v", err)
	}
	if err := os.MkdirAll(cfg.Storage.DataDir, 0755); err != nil {
		return a.fail("Failed to create data directory: %v", err)
	}
	logFile, err := os.OpenFile(cfg.LogPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return a.fail("Failed to open daemon log: %v", err)
	}
	defer logFile.Close()

	cmd := exec.Command(exe, daemonChildArgs(configPath)...)
	cmd.Env = append(os.Environ(), childEnv+"=1")
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return a.fail("Failed to start daemon: %v", err)
	}
	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()

	deadline := time.After(startTimeout)
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case err := <-exited:
			return a.fail("Daemon exited during startup (%v); see %s", err, cfg.LogPath())
		case <-deadline:
			return a.fail("Daemon did not answer within %s; see %s", startTimeout, cfg.LogPath())
		case <-tick.C:
			if ipc.Probe(cfg.Daemon.SocketPath, cfg.Daemon.ConnectTimeout) {
				fmt.Fprintf(a.stdout, "Daemon started (pid %d), logging to %s\n", cmd.Process.Pid, cfg.LogPath())
				return 0
			}
		}
	}
}

func (a *app) runStop(args []string) int {
	fs, configPath := newFlagSet("stop", a.stderr)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	cfg, err := loadConfig(*configPath)
	if err != nil {
		return a.fail("Failed to load config: %v", err)
	}
	pid, err := daemon.Signal(cfg.PIDPath())
	if errors.Is(err, os.ErrNotExist) || errors.Is(err, os.ErrProcessDone) {
		_ = daemon.RemovePID(cfg.PIDPath())
		fmt.Fprintln(a.stdout, "Daemon is not running")
		return 0
	}
	if err != nil {
		return a.fail("Stop failed: %v", err)
	}

	deadline := time.Now().Add(stopTimeout)
	for ipc.Probe(cfg.Daemon.SocketPath, cfg.Daemon.ConnectTimeout) {
		if time.Now().After(deadline) {
			return a.fail("Daemon (pid %d) did not stop within %s", pid, stopTimeout)
		}
		time.Sleep(100 * time.Millisecond)
	}
	fmt.Fprintf(a.stdout, "Daemon stopped (pid %d)\n", pid)
	return 0
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `obra - Semantic search over a local notes vault

Usage:
  obra init <vault>               Point obra at a vault directory
  obra search [flags] <query>     Search the vault
  obra <query>                    Same as obra search <query>
  obra index [--force]            Sync the index with the vault
  obra daemon [--foreground]      Start the background daemon
  obra stop                       Stop the daemon
  obra status [--json]            Show daemon and index status
  obra version                    Show version
  obra help                       Show this help

Search Flags:
  --json             Print results as JSON
  --limit int        Number of results (default from config: 5)

Every command accepts --config <path> (default: user config dir, obra/config.yaml).

Examples:
  obra init ~/Notes
  obra sourdough starter
  obra search --json --limit 10 "tax return 2023"
  obra daemon
  obra index --force`)
}
