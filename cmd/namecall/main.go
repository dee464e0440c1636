package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/hpungsan/namecall/internal/config"
	"github.com/hpungsan/namecall/internal/db"
	"github.com/hpungsan/namecall/internal/logging"
	"github.com/hpungsan/namecall/internal/mcp"
	"github.com/hpungsan/namecall/internal/store"
)

// Version is set via -ldflags at build time.
var Version = "dev"

// cliCommands contains known CLI subcommands.
var cliCommands = map[string]bool{
	"run": true, "mcp": true, "resolve": true,
	"extract": true, "classify": true,
	"lookup": true, "learn": true, "forget": true, "list": true, "stats": true,
	"export": true, "import": true, "reset": true,
	"help": true,
}

// env is everything a command needs once startup has succeeded.
type env struct {
	baseDir string
	cfg     *config.Config
	logger  *zap.Logger
	store   *store.Store

	// file is set for the JSON backend and drives the watcher.
	file *store.JSONFile

	closers []func() error
}

// Close releases the storage backend.
func (e *env) Close() {
	for _, c := range e.closers {
		_ = c()
	}
	_ = e.logger.Sync()
}

// isCLIMode determines if we should run CLI vs MCP server.
func isCLIMode() bool {
	if len(os.Args) < 2 {
		return false // No args → MCP server
	}
	arg := os.Args[1]
	if cliCommands[arg] {
		return true
	}
	return arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v"
}

// isHelpOrVersion returns true if the user is requesting help or version info.
func isHelpOrVersion() bool {
	if len(os.Args) < 2 {
		return false
	}
	arg := os.Args[1]
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
   _ __   __ _ _ __ ___   ___  ___ __ _| | |
  | '_ \ / _' | '_ ' _ \ / _ \/ __/ _' | | |
  | | | | (_| | | | | | |  __/ (_| (_| | | |
  |_| |_|\__,_|_| |_| |_|\___|\___\__,_|_|_|

  Character-name reply bot

  Usage: namecall <command> [options]
         namecall --help

  MCP server mode requires piped input.`)
}

// baseDirectory returns $NAMECALL_HOME or ~/.namecall.
func baseDirectory() (string, error) {
	if dir := strings.TrimSpace(os.Getenv("NAMECALL_HOME")); dir != "" {
		return dir, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".namecall"), nil
}

// loadDotenv reads .env from the working directory and the base directory.
// Variables already set in the process win.
func loadDotenv(baseDir string) error {
	for _, path := range []string{".env", filepath.Join(baseDir, ".env")} {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", path, err)
		}
	}
	return nil
}

// setup loads configuration, builds the logger and opens the mapping store.
func setup(ctx context.Context) (*env, error) {
	baseDir, err := baseDirectory()
	if err != nil {
		return nil, err
	}
	if err := loadDotenv(baseDir); err != nil {
		return nil, err
	}

	cfg, err := config.Load(baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	config.ApplyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, err
	}

	e := &env{baseDir: baseDir, cfg: cfg, logger: logger}
	if err := e.openStore(ctx); err != nil {
		e.Close()
		return nil, err
	}
	return e, nil
}

// openStore wires the configured backend and loads the mappings. A document
// that cannot be read leaves the store empty; the bot keeps running.
func (e *env) openStore(ctx context.Context) error {
	var backend store.Persistence
	switch e.cfg.Storage.Backend {
	case config.BackendSQLite:
		database, err := db.Init(e.cfg.StoragePath(e.baseDir))
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		e.closers = append(e.closers, database.Close)
		backend = db.NewMappingStore(database)
	default:
		e.file = store.NewJSONFile(e.cfg.StoragePath(e.baseDir))
		backend = e.file
	}

	e.store = store.New(backend, e.logger)
	if err := e.store.Load(ctx); err != nil {
		e.logger.Warn("starting_with_empty_mappings", zap.Error(err))
	}

	if len(e.cfg.Storage.StaticNames) > 0 {
		before := e.store.StaticLen()
		e.store.Seed(e.cfg.Storage.StaticNames)
		if e.store.StaticLen() != before {
			_ = e.store.Persist(ctx)
		}
	}
	return nil
}

func main() {
	// No args + interactive terminal → show banner and exit
	if len(os.Args) < 2 && isTerminal() {
		printBanner()
		return
	}

	// Handle --help/--version before touching storage
	if isHelpOrVersion() {
		app := newCLIApp(nil)
		if err := app.Run(os.Args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	// Unknown argument + terminal → show error (don't start MCP server)
	if !isCLIMode() && len(os.Args) >= 2 && isTerminal() {
		fmt.Fprintf(os.Stderr, "error: unknown command %q\n", os.Args[1])
		fmt.Fprintf(os.Stderr, "Run 'namecall --help' for usage.\n")
		os.Exit(1)
	}

	e, err := setup(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if isCLIMode() {
		app := newCLIApp(e)
		err = app.Run(os.Args)
	} else {
		// MCP server mode (default)
		err = mcp.Run(e.store, e.cfg, Version)
	}
	e.Close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
