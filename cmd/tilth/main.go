package main

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/hpungsan/tilth/internal/config"
	"github.com/hpungsan/tilth/internal/db"
	"github.com/hpungsan/tilth/internal/logging"
	"github.com/hpungsan/tilth/internal/mcp"
)

// Version is set via -ldflags at build time.
var Version = "dev"

// cliCommands contains known CLI subcommands.
var cliCommands = map[string]bool{
	"status": true, "queue": true, "sync": true,
	"post": true, "task-status": true, "bookmark": true, "outcome": true,
	"tutorial": true, "supplier": true, "calendar-task": true,
	"diagnose": true, "ask": true, "suppliers": true, "weather": true,
	"serve": true, "mcp": true,
	"help": true,
}

// isCLIMode determines if we should run CLI vs MCP server.
func isCLIMode(args []string) bool {
	if len(args) < 2 {
		return false // No args → MCP server
	}
	arg := args[1]
	if cliCommands[arg] {
		return true
	}
	// Global flags come before the subcommand
	if arg == "--offline" || arg == "--online" {
		return true
	}
	if arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" {
		return true
	}
	return false
}

// isHelpOrVersion returns true if the user is requesting help or version info.
func isHelpOrVersion(args []string) bool {
	if len(args) < 2 {
		return false
	}
	arg := args[1]
	return arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" || arg == "help"
}

// isTerminal returns true if stdin is a terminal (not piped).
func isTerminal() bool {
	stat, _ := os.Stdin.Stat()
	return (stat.Mode() & os.ModeCharDevice) != 0
}

// printBanner displays a friendly banner when run interactively without args.
func printBanner() {
	fmt.Println(`
   _   _ _ _   _
  | |_(_) | |_| |__
  | __| | | __| '_ \
  | |_| | | |_| | | |
   \__|_|_|\__|_| |_|

  Offline-first farming companion

  Usage: tilth <command> [options]
         tilth --help

  MCP server mode requires piped input.`)
}

func main() {
	// No args + interactive terminal → show banner and exit
	if len(os.Args) < 2 && isTerminal() {
		printBanner()
		return
	}

	// Handle --help/--version before DB init (no DB needed)
	if isHelpOrVersion(os.Args) {
		app := newCLIApp(nil)
		if err := app.Run(os.Args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: could not determine home directory: %v\n", err)
		os.Exit(1)
	}

	baseDir := filepath.Join(homeDir, ".tilth")
	os.Exit(run(baseDir))
}

// run opens the store and dispatches to CLI or MCP mode. It returns the
// process exit code so deferred cleanup runs before exit. A store that
// cannot be opened is logged and the app runs without it.
func run(baseDir string) int {
	cfg, err := config.Load(baseDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to load config: %v\n", err)
		return 1
	}

	logger, err := logging.New(baseDir, cfg, logging.Options{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to set up logging: %v\n", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	flush, err := logging.InitSentry(cfg, Version)
	if err != nil {
		logger.Warn("sentry disabled", zap.Error(err))
	}
	defer flush()

	database, err := db.Init(baseDir)
	if err != nil {
		logger.Error("failed to initialize database", zap.String("base_dir", baseDir), zap.Error(err))
		fmt.Fprintf(os.Stderr, "warning: local store unavailable, offline features disabled: %v\n", err)
		database = nil
	} else {
		defer database.Close()
		db.ConfigurePool(database, cfg)
	}

	if unknown := mcp.ValidateDisabledTools(cfg.DisabledTools); len(unknown) > 0 {
		logger.Warn("unknown tools in disabled_tools", zap.Strings("tools", unknown))
	}

	e := &env{baseDir: baseDir, db: database, cfg: cfg, logger: logger}
	defer e.close()

	// CLI mode: known subcommand
	if isCLIMode(os.Args) {
		app := newCLIApp(e)
		if err := app.Run(os.Args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 1
		}
		return 0
	}

	// Unknown argument + terminal → show error (don't start MCP server)
	if len(os.Args) >= 2 && isTerminal() {
		fmt.Fprintf(os.Stderr, "error: unknown command %q\n", os.Args[1])
		fmt.Fprintf(os.Stderr, "Run 'tilth --help' for usage.\n")
		return 1
	}

	// MCP server mode (default)
	if err := runMCP(e); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}
