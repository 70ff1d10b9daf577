package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"runtime/debug"
	"slices"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/busdispatch/internal/api"
	"github.com/mattjoyce/busdispatch/internal/config"
	"github.com/mattjoyce/busdispatch/internal/dispatch"
	"github.com/mattjoyce/busdispatch/internal/doctor"
	"github.com/mattjoyce/busdispatch/internal/lock"
	"github.com/mattjoyce/busdispatch/internal/log"
	"github.com/mattjoyce/busdispatch/internal/report"
	"github.com/mattjoyce/busdispatch/internal/roster"
	"github.com/mattjoyce/busdispatch/internal/tui/watch"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

// Exit codes for day start.
const (
	exitOK      = 0
	exitError   = 1
	exitPartial = 2
)

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage()
		return exitError
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	switch cmd {
	case "system":
		return runSystemNoun(args)
	case "day":
		return runDayNoun(args)
	case "roster":
		return runRosterNoun(args)
	case "run":
		return runRunNoun(args)
	case "config":
		return runConfigNoun(args)
	case "version", "--version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage()
		return exitOK
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return exitError
	}
}

func printUsage() {
	fmt.Print(`busdispatch - day-worker bus dispatch service

Usage:
  busdispatch <noun> <action> [flags]

System Commands:
  system start          Start the API service in foreground
  system status         Show whether a service holds the state lock
  system watch          Live view of dispatches from a running service

Day Commands:
  day start --day <d> --count <n>
                        Dispatch n workers eligible on day d

Roster Commands:
  roster import <file>  Upsert workers from a yaml roster
  roster list [--day d] Show the roster, or the workers eligible on a day

Run Commands:
  run list [--limit n]  Show recent dispatch runs
  run show <id>         Show one dispatch run

Config Commands:
  config check          Validate syntax, integrity and dispatch settings
  config lock           Record the config hash in .checksums

General:
  version               Show version information
  help                  Show this help message

All commands accept --config <path>. Without it the config is discovered
from $BUSDISPATCH_CONFIG, ~/.config/busdispatch, /etc/busdispatch or ./config.yaml.
`)
}

// --- NOUN DISPATCHERS ---

type action func(args []string) int

func runNoun(noun string, args []string, actions map[string]action) int {
	names := make([]string, 0, len(actions))
	for name := range actions {
		names = append(names, name)
	}
	slices.Sort(names)
	usage := func(w *os.File) {
		fmt.Fprintf(w, "Usage: busdispatch %s <action>\n", noun)
		fmt.Fprintf(w, "Actions: %s\n", strings.Join(names, ", "))
	}

	if len(args) < 1 {
		usage(os.Stderr)
		return exitError
	}
	if isHelpToken(args[0]) {
		usage(os.Stdout)
		return exitOK
	}

	fn, ok := actions[args[0]]
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown %s action: %s\n", noun, args[0])
		return exitError
	}
	return fn(args[1:])
}

func runSystemNoun(args []string) int {
	return runNoun("system", args, map[string]action{
		"start":  runSystemStart,
		"status": runSystemStatus,
		"watch":  runSystemWatch,
	})
}

func runDayNoun(args []string) int {
	return runNoun("day", args, map[string]action{
		"start": runDayStart,
	})
}

func runRosterNoun(args []string) int {
	return runNoun("roster", args, map[string]action{
		"import": runRosterImport,
		"list":   runRosterList,
	})
}

func runRunNoun(args []string) int {
	return runNoun("run", args, map[string]action{
		"list": runRunList,
		"show": runRunShow,
	})
}

func runConfigNoun(args []string) int {
	return runNoun("config", args, map[string]action{
		"check": runConfigCheck,
		"lock":  runConfigLock,
	})
}

// --- SYSTEM ---

func runSystemStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		return exitError
	}

	cfg, err := config.LoadOrDefaults(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return exitError
	}
	if !cfg.API.Enabled {
		fmt.Fprintln(os.Stderr, "api.enabled is false; nothing to serve (use 'busdispatch day start' for one-off dispatches)")
		return exitError
	}

	log.Setup(cfg.Service.LogLevel)
	logger := log.WithComponent("main")
	logger.Info("busdispatch starting", "version", version, "config", cfg.SourcePath)

	pidLock, err := lock.Acquire(lock.PathFor(cfg.State.Path))
	if err != nil {
		logger.Error("failed to acquire PID lock", "error", err)
		return exitError
	}
	defer pidLock.Release()
	logger.Info("acquired PID lock", "path", pidLock.Path())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := openApp(ctx, cfg)
	if err != nil {
		logger.Error("failed to open state", "error", err)
		return exitError
	}
	defer a.Close()
	logger.Info("state opened", "path", cfg.State.Path)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	server := api.New(api.Config{Listen: cfg.API.Listen, APIKey: cfg.API.APIKey},
		a.days, a.ledger, a.coord.Registry(), a.hub, log.WithComponent("api"))
	go func() {
		if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("api: %w", err)
		}
	}()

	logger.Info("busdispatch running (press Ctrl+C to stop)",
		"listen", cfg.API.Listen,
		"unit_capacity", cfg.Fleet.UnitCapacity,
		"unit_ceiling", cfg.Fleet.UnitCeiling,
		"day_worker_ceiling", cfg.Fleet.DayWorkerCeiling)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
		// Give the API server its shutdown window.
		time.Sleep(100 * time.Millisecond)
	case err := <-errCh:
		logger.Error("component failed", "error", err)
		return exitError
	}

	logger.Info("busdispatch stopped")
	return exitOK
}

func runSystemStatus(args []string) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		return exitError
	}

	cfg, err := config.LoadOrDefaults(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return exitError
	}

	lockPath := lock.PathFor(cfg.State.Path)
	pid, held, err := lock.Holder(lockPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read lock %s: %v\n", lockPath, err)
		return exitError
	}
	if !held {
		fmt.Println("busdispatch: not running")
		return exitOK
	}
	fmt.Printf("busdispatch: running (pid %d)\n", pid)
	if cfg.API.Enabled {
		fmt.Printf("api: %s\n", cfg.API.Listen)
	}
	return exitOK
}

func runSystemWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	apiURL := fs.String("api-url", "", "Service API URL (default from api.listen)")
	apiKey := fs.String("api-key", os.Getenv("BUSDISPATCH_API_KEY"), "API Bearer Token (default from api.api_key)")
	if err := fs.Parse(args); err != nil {
		return exitError
	}

	if *apiURL == "" || *apiKey == "" {
		cfg, err := config.LoadOrDefaults(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			return exitError
		}
		if *apiURL == "" {
			*apiURL = apiURLFor(cfg.API.Listen)
		}
		if *apiKey == "" {
			*apiKey = cfg.API.APIKey
		}
	}
	if *apiKey == "" {
		fmt.Fprintln(os.Stderr, "Error: API key required. Use --api-key, BUSDISPATCH_API_KEY or api.api_key.")
		return exitError
	}

	p := tea.NewProgram(watch.New(*apiURL, *apiKey))
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		return exitError
	}
	return exitOK
}

// apiURLFor turns a listen address into a URL a local client can dial.
func apiURLFor(listen string) string {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return "http://" + listen
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

// --- DAY ---

func runDayStart(args []string) int {
	fs := flag.NewFlagSet("day start", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	day := fs.String("day", "", "Day to dispatch (matches roster day tokens exactly)")
	count := fs.Int("count", -1, "Number of workers to dispatch")
	jsonOut := fs.Bool("json", false, "Output the outcome as JSON")
	if err := fs.Parse(args); err != nil {
		return exitError
	}
	if *day == "" || *count < 0 {
		fmt.Fprintln(os.Stderr, "Usage: busdispatch day start --day <day> --count <n> [--json]")
		return exitError
	}

	a, code := openCLIApp(*configPath)
	if a == nil {
		return code
	}
	defer a.Close()

	out, err := a.days.StartDay(context.Background(), *day, *count)
	if out == nil {
		fmt.Fprintf(os.Stderr, "Dispatch rejected: %v\n", err)
		return exitError
	}

	if *jsonOut {
		if code := printJSON(out); code != exitOK {
			return code
		}
	} else {
		fmt.Println(report.Outcome(report.NewDefaultTheme(), out, err))
	}

	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, dispatch.ErrDispatchFailure):
		return exitPartial
	default:
		fmt.Fprintf(os.Stderr, "Dispatch completed with errors: %v\n", err)
		return exitError
	}
}

// --- ROSTER ---

func runRosterImport(args []string) int {
	fs := flag.NewFlagSet("roster import", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		return exitError
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: busdispatch roster import <file.yaml>")
		return exitError
	}

	workers, err := roster.LoadFile(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load roster: %v\n", err)
		return exitError
	}

	a, code := openCLIApp(*configPath)
	if a == nil {
		return code
	}
	defer a.Close()

	n, err := a.roster.Import(context.Background(), workers)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Import failed: %v\n", err)
		return exitError
	}
	fmt.Printf("Imported %d worker(s)\n", n)
	return exitOK
}

func runRosterList(args []string) int {
	fs := flag.NewFlagSet("roster list", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	day := fs.String("day", "", "Only show workers eligible on this day")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	if err := fs.Parse(args); err != nil {
		return exitError
	}

	a, code := openCLIApp(*configPath)
	if a == nil {
		return code
	}
	defer a.Close()

	ctx := context.Background()
	title := "all"
	var workers []roster.EligibleWorker
	var err error
	if *day != "" {
		title = *day
		workers, err = a.days.Eligible(ctx, *day)
	} else {
		workers, err = a.roster.All(ctx)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read roster: %v\n", err)
		return exitError
	}

	if *jsonOut {
		return printJSON(workers)
	}
	fmt.Println(report.Roster(report.NewDefaultTheme(), title, workers))
	return exitOK
}

// --- RUN ---

func runRunList(args []string) int {
	fs := flag.NewFlagSet("run list", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	limit := fs.Int("limit", 20, "Maximum runs to show")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	if err := fs.Parse(args); err != nil {
		return exitError
	}

	a, code := openCLIApp(*configPath)
	if a == nil {
		return code
	}
	defer a.Close()

	runs, err := a.ledger.List(context.Background(), *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list runs: %v\n", err)
		return exitError
	}
	if *jsonOut {
		return printJSON(runs)
	}
	fmt.Println(report.Runs(report.NewDefaultTheme(), runs))
	return exitOK
}

func runRunShow(args []string) int {
	fs := flag.NewFlagSet("run show", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	if err := fs.Parse(args); err != nil {
		return exitError
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: busdispatch run show <run-id> [--json]")
		return exitError
	}

	a, code := openCLIApp(*configPath)
	if a == nil {
		return code
	}
	defer a.Close()

	run, err := a.ledger.Get(context.Background(), fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read run: %v\n", err)
		return exitError
	}
	if *jsonOut {
		return printJSON(run)
	}
	fmt.Println(report.Run(report.NewDefaultTheme(), run))
	return exitOK
}

// --- CONFIG ---

func runConfigCheck(args []string) int {
	fs := flag.NewFlagSet("config check", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	if err := fs.Parse(args); err != nil {
		return exitError
	}

	path, code := resolveConfigPath(*configPath)
	if path == "" {
		return code
	}
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration invalid: %v\n", err)
		return exitError
	}

	result := doctor.New(cfg).Validate()
	if *jsonOut {
		out, err := doctor.FormatJSON(result)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render JSON: %v\n", err)
			return exitError
		}
		fmt.Println(out)
	} else {
		fmt.Printf("Config: %s\n", cfg.SourcePath)
		fmt.Print(doctor.FormatHuman(result))
	}
	if !result.Valid {
		return exitError
	}
	return exitOK
}

func runConfigLock(args []string) int {
	fs := flag.NewFlagSet("config lock", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	dryRun := fs.Bool("dry-run", false, "Compute the hash without writing .checksums")
	if err := fs.Parse(args); err != nil {
		return exitError
	}

	path, code := resolveConfigPath(*configPath)
	if path == "" {
		return code
	}
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		path = strings.TrimSuffix(path, "/") + "/config.yaml"
	}

	// Refuse to lock a config that does not parse.
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read config: %v\n", err)
		return exitError
	}
	if _, err := config.Parse(data); err != nil {
		fmt.Fprintf(os.Stderr, "Refusing to lock: %v\n", err)
		return exitError
	}

	rep, err := config.Lock(path, *dryRun)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Lock failed: %v\n", err)
		return exitError
	}
	fmt.Printf("HASH %s: %s\n", rep.ConfigPath, rep.Hash)
	if rep.Written {
		fmt.Printf("Wrote %s\n", rep.ChecksumPath)
	} else {
		fmt.Println("Dry run: .checksums not written")
	}
	return exitOK
}

// --- VERSION ---

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		return exitError
	}

	info := currentVersionInfo()
	if *jsonOut {
		return printJSON(info)
	}
	fmt.Printf("busdispatch %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	fmt.Printf("built_at: %s\n", info.BuildTime)
	return exitOK
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   strings.TrimSpace(version),
		Commit:    "unknown",
		BuildTime: "unknown",
	}
	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	commit := strings.TrimSpace(gitCommit)
	if commit == "" || commit == "unknown" {
		commit = readBuildSetting("vcs.revision")
	}
	if commit != "" {
		info.Commit = commit[:min(len(commit), 12)]
	}

	built := strings.TrimSpace(buildDate)
	if built == "" || built == "unknown" {
		built = readBuildSetting("vcs.time")
	}
	if t, err := time.Parse(time.RFC3339Nano, built); err == nil {
		info.BuildTime = t.UTC().Format(time.RFC3339)
	}
	return info
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return strings.TrimSpace(setting.Value)
		}
	}
	return ""
}

// --- HELPERS ---

// openCLIApp loads config and opens state for a one-shot command. Logs go to
// stderr so stdout stays parseable. A nil app comes with the exit code.
func openCLIApp(configPath string) (*app, int) {
	cfg, err := config.LoadOrDefaults(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return nil, exitError
	}
	log.SetupWriter(os.Stderr, cfg.Service.LogLevel)

	a, err := openApp(context.Background(), cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return nil, exitError
	}
	return a, exitOK
}

// resolveConfigPath returns the explicit or discovered config path. An empty
// path comes with the exit code.
func resolveConfigPath(configPath string) (string, int) {
	if configPath != "" {
		return configPath, exitOK
	}
	found, err := config.Discover()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to discover config: %v\n", err)
		return "", exitError
	}
	fmt.Fprintf(os.Stderr, "Using discovered config: %s\n", found)
	return found, exitOK
}

func printJSON(v any) int {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render JSON: %v\n", err)
		return exitError
	}
	fmt.Println(string(data))
	return exitOK
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}
