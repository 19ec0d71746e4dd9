package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/trestle/discovery"
	"github.com/mattjoyce/trestle/examples"
	"github.com/mattjoyce/trestle/internal/api"
	"github.com/mattjoyce/trestle/internal/config"
	"github.com/mattjoyce/trestle/internal/doctor"
	"github.com/mattjoyce/trestle/internal/dsl"
	"github.com/mattjoyce/trestle/internal/lock"
	"github.com/mattjoyce/trestle/internal/log"
	"github.com/mattjoyce/trestle/internal/results"
	"github.com/mattjoyce/trestle/internal/tui/explore"
	"github.com/mattjoyce/trestle/pipeline"
	"github.com/mattjoyce/trestle/step"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage()
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	if cmd == "--version" {
		return runVersion(args)
	}

	switch cmd {
	// --- NOUNS ---
	case "steps":
		return runStepsNoun(args)
	case "pipelines":
		return runPipelinesNoun(args)

	// --- ACTIONS ---
	case "check":
		if hasHelpFlag(args) {
			printCheckHelp()
			return 0
		}
		return runCheck(args)
	case "dsl":
		if hasHelpFlag(args) {
			printDSLHelp()
			return 0
		}
		return runDSL(args)
	case "run":
		if hasHelpFlag(args) {
			printRunHelp()
			return 0
		}
		return runRun(args)
	case "explore":
		if hasHelpFlag(args) {
			printExploreHelp()
			return 0
		}
		return runExplore(args)
	case "serve":
		if hasHelpFlag(args) {
			printServeHelp()
			return 0
		}
		return runServe(args)
	case "version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage()
		return 0

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Usage: trestle version [--json]")
		return 1
	}

	info := currentVersionInfo()

	if *jsonOut {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render version JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	fmt.Printf("trestle %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	fmt.Printf("built_at: %s\n", info.BuildTime)
	return 0
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

	resolvedCommit := strings.TrimSpace(gitCommit)
	if resolvedCommit == "" || resolvedCommit == "unknown" {
		resolvedCommit = strings.TrimSpace(readBuildSetting("vcs.revision"))
	}
	if resolvedCommit != "" {
		info.Commit = shortenCommit(resolvedCommit)
	}

	resolvedBuildTime := strings.TrimSpace(buildDate)
	if resolvedBuildTime == "" || resolvedBuildTime == "unknown" {
		resolvedBuildTime = strings.TrimSpace(readBuildSetting("vcs.time"))
	}
	if normalizedBuildTime, ok := normalizeBuildTimeUTC(resolvedBuildTime); ok {
		info.BuildTime = normalizedBuildTime
	}

	return info
}

func shortenCommit(commit string) string {
	if len(commit) <= 12 {
		return commit
	}
	return commit[:12]
}

func normalizeBuildTimeUTC(raw string) (string, bool) {
	if raw == "" || raw == "unknown" {
		return "", false
	}

	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return "", false
	}

	return t.UTC().Format(time.RFC3339), true
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return setting.Value
		}
	}
	return ""
}

func printUsage() {
	fmt.Print(`trestle - Typed step and pipeline descriptor toolkit

Usage:
  trestle <command> [flags]

Catalog Commands:
  steps list        List registered steps
  steps show        Show one step's full report
  pipelines list    List registered pipelines
  pipelines show    Show one pipeline's DAG report
  explore           Interactive catalog browser TUI

Validation Commands:
  check             Validate units, references, and webhook expressions
  dsl               Emit the descriptor document (or verify with --check)

Execution Commands:
  run               Invoke one step with explicit or cached inputs
  serve             Start the HTTP runner API

General:
  --version         Show version information
  version           Show version information
  help              Show this help message

Use 'trestle <command> --help' for command-specific flags.
`)
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

func printCheckHelp() {
	fmt.Println("Usage: trestle check [--config PATH] [--format human|json] [--strict] [--json]")
	fmt.Println("Validate loaded units, sandbox/credential references, dependency graphs, and webhook expressions.")
}

func printDSLHelp() {
	fmt.Println("Usage: trestle dsl [--config PATH] [--output PATH] [--check]")
	fmt.Println("Emit the full descriptor document as fingerprinted JSON.")
	fmt.Println("With --check, compare against the recorded document and fail on drift.")
}

func printRunHelp() {
	fmt.Println("Usage: trestle run --step NAME [--input JSON | --input-file PATH]")
	fmt.Println("                   [--results JSON | --results-file PATH | --run ID]")
	fmt.Println("                   [--output-file PATH] [--config PATH]")
	fmt.Println()
	fmt.Println("Invoke one registered step. Upstream results come from --results,")
	fmt.Println("--results-file, or the local results store via --run; with --run the")
	fmt.Println("step's result is recorded back under the same run id.")
}

func printExploreHelp() {
	fmt.Println("Usage: trestle explore [--config PATH]")
	fmt.Println()
	fmt.Println("Interactive catalog browser over registered steps and pipelines.")
	fmt.Println()
	fmt.Println("Keybindings:")
	fmt.Println("  q, Ctrl+C        Quit")
	fmt.Println("  Tab              Switch between pipelines and steps")
	fmt.Println("  ↑/↓, k/j         Navigate the catalog")
	fmt.Println("  PgUp/PgDn        Scroll the detail pane")
}

func printServeHelp() {
	fmt.Println("Usage: trestle serve [--config PATH] [--listen ADDR]")
	fmt.Println("Start the HTTP runner API in the foreground.")
}

// loadConfigFrom resolves configuration for a command: an explicit
// --config path must load, a discovered file loads, and no file at all
// falls back to built-in defaults so catalog commands work out of the
// box.
func loadConfigFrom(configPath string) (*config.Config, error) {
	if configPath != "" {
		return config.Load(configPath)
	}
	discovered, err := config.Discover()
	if err != nil {
		return config.Defaults(), nil
	}
	return config.Load(discovered)
}

// selectUnits resolves the config's unit names against the compiled-in
// index. An empty selection loads everything.
func selectUnits(names []string) ([]discovery.Unit, error) {
	index := examples.Units()
	if len(names) == 0 {
		return index, nil
	}

	byName := make(map[string]discovery.Unit, len(index))
	known := make([]string, 0, len(index))
	for _, u := range index {
		byName[u.Name] = u
		known = append(known, u.Name)
	}

	selected := make([]discovery.Unit, 0, len(names))
	for _, name := range names {
		u, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("unknown unit %q (known: %s)", name, strings.Join(known, ", "))
		}
		selected = append(selected, u)
	}
	return selected, nil
}

// loadCatalog loads the configured units into fresh registries.
func loadCatalog(cfg *config.Config) (*step.Registry, *pipeline.Registry, []discovery.UnitReport, error) {
	units, err := selectUnits(cfg.Units)
	if err != nil {
		return nil, nil, nil, err
	}

	steps := step.NewRegistry()
	pipelines := pipeline.NewRegistry()
	reports, err := discovery.Load(steps, pipelines, units...)
	if err != nil {
		return nil, nil, nil, err
	}
	return steps, pipelines, reports, nil
}

// --- ACTION IMPLEMENTATIONS ---

func runCheck(args []string) int {
	var configPath, format string
	var strict, jsonOut bool

	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to trestle.yaml")
	fs.BoolVar(&strict, "strict", false, "Treat warnings as errors")
	fs.StringVar(&format, "format", "human", "Output format (human, json)")
	// Handle -json alias for format=json
	fs.BoolVar(&jsonOut, "json", false, "Output in JSON")

	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	if jsonOut {
		format = "json"
	}

	cfg, err := loadConfigFrom(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config load error: %v\n", err)
		return 1
	}

	steps, pipelines, reports, err := loadCatalog(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Unit load error: %v\n", err)
		return 1
	}

	doc := doctor.New(cfg, steps, pipelines, reports)
	result := doc.Validate()

	switch format {
	case "json":
		out, err := doctor.FormatJSON(result)
		if err != nil {
			fmt.Fprintf(os.Stderr, "JSON format error: %v\n", err)
			return 1
		}
		fmt.Println(out)
	default:
		fmt.Print(doctor.FormatHuman(result))
	}

	if !result.Valid {
		return 1
	}
	if strict && len(result.Warnings) > 0 {
		return 2
	}
	return 0
}

func runDSL(args []string) int {
	fs := flag.NewFlagSet("dsl", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to trestle.yaml")
	output := fs.String("output", "", "Write the document to this file instead of stdout")
	check := fs.Bool("check", false, "Compare against the recorded document and fail on drift")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := loadConfigFrom(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config load error: %v\n", err)
		return 1
	}

	steps, pipelines, _, err := loadCatalog(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Unit load error: %v\n", err)
		return 1
	}

	env, err := dsl.Build(steps, pipelines)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build DSL document: %v\n", err)
		return 1
	}

	if *check {
		target := *output
		if target == "" {
			target = cfg.DSL.Path
		}
		if err := dsl.Check(target, env); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return 1
		}
		fmt.Printf("DSL document matches %s (%s)\n", target, env.Fingerprint)
		return 0
	}

	if *output != "" {
		if err := dsl.Write(*output, env); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return 1
		}
		fmt.Printf("Wrote DSL document to %s (%s)\n", *output, env.Fingerprint)
		return 0
	}

	data, err := env.Encode()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	fmt.Print(string(data))
	return 0
}

func runExplore(args []string) int {
	fs := flag.NewFlagSet("explore", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to trestle.yaml")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := loadConfigFrom(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config load error: %v\n", err)
		return 1
	}

	steps, pipelines, _, err := loadCatalog(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Unit load error: %v\n", err)
		return 1
	}

	m := explore.New(steps, pipelines)
	p := tea.NewProgram(m)
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		return 1
	}
	return 0
}

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to trestle.yaml")
	listen := fs.String("listen", "", "Listen address (overrides api.listen)")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := loadConfigFrom(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config load error: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.WithComponent("main")
	logger.Info("trestle starting", "version", version)

	steps, pipelines, reports, err := loadCatalog(cfg)
	if err != nil {
		logger.Error("unit loading failed", "error", err)
		return 1
	}
	for _, r := range reports {
		logger.Info("unit loaded",
			"unit", r.Unit, "pipeline", r.Pipeline, "steps", len(r.Steps))
	}

	lockPath := pidLockPath(cfg.Results.Path)
	pidLock, err := lock.AcquirePIDLock(lockPath)
	if err != nil {
		logger.Error("failed to acquire PID lock (another serve instance may be running)",
			"path", lockPath, "error", err)
		return 1
	}
	defer pidLock.Release()
	logger.Info("acquired PID lock", "path", lockPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := results.Open(ctx, cfg.Results.Path)
	if err != nil {
		logger.Error("failed to open results store", "path", cfg.Results.Path, "error", err)
		return 1
	}
	defer store.Close()
	logger.Info("results store opened", "path", cfg.Results.Path)

	addr := cfg.API.Listen
	if *listen != "" {
		addr = *listen
	}
	apiServer := api.New(api.Config{Listen: addr, APIKey: cfg.API.Auth.APIKey},
		steps, pipelines, store, log.WithComponent("api"))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		if err := apiServer.Start(ctx); err != nil && err != context.Canceled {
			errCh <- fmt.Errorf("api: %w", err)
		}
	}()

	logger.Info("trestle running (press Ctrl+C to stop)", "listen", addr)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	case err := <-errCh:
		logger.Error("component failed", "error", err)
		cancel()
		return 1
	}

	logger.Info("trestle stopped")
	return 0
}

// pidLockPath derives the serve lock file from the results DB path:
// same directory, same base name, .pid extension.
func pidLockPath(dbPath string) string {
	dbDir := filepath.Dir(dbPath)
	dbBase := filepath.Base(dbPath)
	ext := filepath.Ext(dbBase)
	return filepath.Join(dbDir, dbBase[:len(dbBase)-len(ext)]+".pid")
}
