package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hpungsan/namecall/internal/bot"
	"github.com/hpungsan/namecall/internal/config"
	"github.com/hpungsan/namecall/internal/delivery"
	"github.com/hpungsan/namecall/internal/errors"
	"github.com/hpungsan/namecall/internal/mcp"
	"github.com/hpungsan/namecall/internal/ops"
	"github.com/hpungsan/namecall/internal/pipeline"
	"github.com/hpungsan/namecall/internal/resolver"
	"github.com/hpungsan/namecall/internal/store"
	"github.com/hpungsan/namecall/internal/transport"
	"github.com/hpungsan/namecall/internal/web"
)

// maxStdinBytes bounds text piped to extract.
const maxStdinBytes = 64 << 10

// stdout is where command output goes; tests swap it.
var stdout io.Writer = os.Stdout

// newCLIApp creates the CLI application with all commands. e is nil when
// only help or version output is needed.
func newCLIApp(e *env) *cli.App {
	app := &cli.App{
		Name:    "namecall",
		Usage:   "Reply to *name* prompts in group chats with the character's name",
		Version: Version,
		Commands: []*cli.Command{
			runCmd(e),
			mcpCmd(e),
			resolveCmd(e),
			extractCmd(e),
			classifyCmd(e),
			lookupCmd(e),
			learnCmd(e),
			forgetCmd(e),
			listCmd(e),
			statsCmd(e),
			exportCmd(e),
			importCmd(e),
			resetCmd(e),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// runCmd creates the run command: the bot itself.
func runCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Run the bot until interrupted",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "transport", Aliases: []string{"t"}, Usage: "Transport: console|bridge (overrides config)"},
			&cli.StringFlag{Name: "bridge-url", Usage: "Websocket URL of the chat gateway"},
			&cli.StringFlag{Name: "mode", Aliases: []string{"m"}, Usage: "Pipeline mode: passthrough|heuristic"},
			&cli.BoolFlag{Name: "learn", Usage: "Resolve unknown names through the oracles and remember them"},
			&cli.IntFlag{Name: "http-port", Usage: "Status server port (0 disables)"},
		},
		Action: func(c *cli.Context) error {
			cfg := *e.cfg
			if v := c.String("transport"); v != "" {
				cfg.Transport.Kind = v
			}
			if v := c.String("bridge-url"); v != "" {
				cfg.Transport.Kind = config.TransportBridge
				cfg.Transport.URL = v
			}
			if v := c.String("mode"); v != "" {
				cfg.Pipeline.Mode = v
			}
			if c.Bool("learn") {
				cfg.Pipeline.Learn = true
			}
			if c.IsSet("http-port") {
				cfg.HTTP.Port = c.Int("http-port")
			}
			if err := cfg.Validate(); err != nil {
				return outputError(err)
			}

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := runBot(ctx, e, &cfg); err != nil {
				return outputError(err)
			}
			return nil
		},
	}
}

// runBot wires the transport, resolver, pipeline, delivery queue and
// controller, then runs the bot alongside the optional watcher and status
// server until ctx is cancelled.
func runBot(ctx context.Context, e *env, cfg *config.Config) error {
	logger := e.logger

	tr, owners, err := newTransport(cfg, logger)
	if err != nil {
		return err
	}

	sources, err := resolver.SourcesFromConfig(cfg.Oracles, &http.Client{})
	if err != nil {
		return errors.NewInvalidRequest(err.Error())
	}
	res := resolver.New(e.store, sources, logger.Named("resolver"))

	pipe := pipeline.New(e.store, res, pipeline.Options{
		Mode:  cfg.Pipeline.Mode,
		Learn: cfg.Pipeline.Learn,
	}, logger.Named("pipeline"))

	queue := delivery.NewQueue(tr, delivery.OptionsFromConfig(cfg.Delivery), logger.Named("delivery"))

	dedup, err := bot.NewDeduplicator(cfg.Dedup.Capacity, cfg.Dedup.StaleAfter())
	if err != nil {
		return errors.NewInvalidRequest(err.Error())
	}

	ctl := bot.NewController(owners, cfg.Commands, tr, e.store, logger.Named("control"))

	b, err := bot.New(bot.Deps{
		Transport:        tr,
		Store:            e.store,
		Pipeline:         pipe,
		Queue:            queue,
		Dedup:            dedup,
		Controller:       ctl,
		Logger:           logger,
		SnapshotSchedule: cfg.Storage.SnapshotSchedule,
	})
	if err != nil {
		return errors.NewInternal(err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return b.Run(gctx) })

	// Picks up CLI and MCP edits made while the bot runs. The sqlite backend
	// has no watcher; its edits arrive with the next merge on Persist.
	if cfg.Storage.WatchEnabled() && e.file != nil {
		w, err := store.NewWatcher(e.store, e.file, logger.Named("watcher"))
		if err != nil {
			logger.Warn("watcher_unavailable", zap.Error(err))
		} else {
			g.Go(func() error {
				w.Run(gctx)
				logger.Info("watcher_stopped", zap.Int("reloads", w.Reloads()))
				return nil
			})
		}
	}

	if cfg.HTTP.Port > 0 {
		srv, err := web.NewServer(e.store, b, Version, cfg.HTTP.Bind, cfg.HTTP.Port, logger.Named("web"))
		if err != nil {
			return errors.NewInternal(err)
		}
		g.Go(func() error { return web.Run(gctx, srv, logger.Named("web")) })
	}

	logger.Info("namecall_running",
		zap.String("transport", cfg.Transport.Kind),
		zap.String("mode", cfg.Pipeline.Mode),
		zap.Bool("learn", cfg.Pipeline.Learn),
		zap.Int("oracles", res.OracleCount()),
	)
	return g.Wait()
}

// newTransport builds the configured transport and the effective owner list.
// The console user is always an owner so commands work locally.
func newTransport(cfg *config.Config, logger *zap.Logger) (transport.Transport, []string, error) {
	owners := cfg.Owners
	switch cfg.Transport.Kind {
	case config.TransportBridge:
		return transport.NewBridge(cfg.Transport.URL, logger.Named("bridge")), owners, nil
	case config.TransportConsole:
		sender := "console"
		if len(owners) > 0 {
			sender = owners[0]
		} else {
			owners = []string{sender}
		}
		return transport.NewConsole(os.Stdin, stdout, cfg.Transport.ConsoleGroup, sender), owners, nil
	default:
		return nil, nil, errors.NewInvalidRequest(fmt.Sprintf("unknown transport %q", cfg.Transport.Kind))
	}
}

// mcpCmd creates the mcp command. It is also the default with piped stdin.
func mcpCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "mcp",
		Usage: "Serve the operator tools over MCP stdio",
		Action: func(c *cli.Context) error {
			return mcp.Run(e.store, e.cfg, Version)
		},
	}
}

// resolveCmd creates the resolve command.
func resolveCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:      "resolve",
		Usage:     "Resolve a token through the store and the configured oracles",
		ArgsUsage: "<token>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "remember", Usage: "Store an oracle match as a learned name"},
		},
		Action: func(c *cli.Context) error {
			token := strings.TrimSpace(c.Args().First())
			if token == "" {
				return outputError(errors.NewInvalidRequest("token is required"))
			}

			sources, err := resolver.SourcesFromConfig(e.cfg.Oracles, &http.Client{})
			if err != nil {
				return outputError(errors.NewInvalidRequest(err.Error()))
			}
			res := resolver.New(e.store, sources, e.logger.Named("resolver"))

			match, ok := res.Resolve(c.Context, token)
			if !ok {
				return outputError(errors.NewNotFound(token))
			}
			if c.Bool("remember") && match.Source != resolver.SourceLocal {
				e.store.Remember(token, store.Record{Name: match.Name, Confidence: match.Confidence, Source: match.Source})
				if err := e.store.Persist(c.Context); err != nil {
					return outputError(errors.NewInternal(err))
				}
			}
			return outputJSON(match)
		},
	}
}

// extractCmd creates the extract command.
func extractCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:      "extract",
		Usage:     "Show how a message is read (text as argument or piped via stdin)",
		ArgsUsage: "[text]",
		Action: func(c *cli.Context) error {
			text := strings.Join(c.Args().Slice(), " ")
			if text == "" && stdinHasData() {
				var err error
				text, err = readStdin(maxStdinBytes)
				if err != nil {
					return outputError(errors.NewInvalidRequest(err.Error()))
				}
			}

			output, err := ops.Extract(e.store, ops.ExtractInput{Text: text})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// classifyCmd creates the classify command.
func classifyCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:      "classify",
		Usage:     "Score a token as a plausible character name",
		ArgsUsage: "<token>",
		Action: func(c *cli.Context) error {
			output, err := ops.Classify(e.store, ops.ClassifyInput{Token: c.Args().First()})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// lookupCmd creates the lookup command.
func lookupCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:      "lookup",
		Usage:     "Show the stored name for a token",
		ArgsUsage: "<token>",
		Action: func(c *cli.Context) error {
			output, err := ops.Lookup(e.store, ops.LookupInput{Token: c.Args().First()})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// learnCmd creates the learn command.
func learnCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:      "learn",
		Usage:     "Record a token to name mapping",
		ArgsUsage: "<token> <name...>",
		Flags: []cli.Flag{
			&cli.Float64Flag{Name: "confidence", Aliases: []string{"c"}, Usage: "Confidence in [0,1] (default 1.0)"},
		},
		Action: func(c *cli.Context) error {
			args := c.Args().Slice()
			if len(args) < 2 {
				return outputError(errors.NewInvalidRequest("usage: learn <token> <name>"))
			}
			output, err := ops.Learn(c.Context, e.store, ops.LearnInput{
				Token:      args[0],
				Name:       strings.Join(args[1:], " "),
				Confidence: c.Float64("confidence"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// forgetCmd creates the forget command.
func forgetCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:      "forget",
		Usage:     "Remove a learned mapping",
		ArgsUsage: "<token>",
		Action: func(c *cli.Context) error {
			output, err := ops.Forget(c.Context, e.store, ops.ForgetInput{Token: c.Args().First()})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// listCmd creates the list command.
func listCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List mappings",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "source", Aliases: []string{"s"}, Usage: "Filter by source"},
			&cli.StringFlag{Name: "query", Aliases: []string{"q"}, Usage: "Substring match on token or name"},
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: ops.DefaultListLimit, Usage: "Maximum items"},
			&cli.IntFlag{Name: "offset", Aliases: []string{"o"}, Usage: "Skip items"},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.List(e.store, ops.ListInput{
				Source: c.String("source"),
				Query:  c.String("query"),
				Limit:  c.Int("limit"),
				Offset: c.Int("offset"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// statsCmd creates the stats command.
func statsCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "Count mappings per source",
		Action: func(c *cli.Context) error {
			return outputJSON(ops.Stats(e.store))
		},
	}
}

// exportCmd creates the export command.
func exportCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Export mappings to a JSON document",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "path", Aliases: []string{"p"}, Usage: "Export file path (default: ~/.namecall/exports/<label>-<timestamp>.json)"},
			&cli.StringFlag{Name: "label", Usage: "File name prefix for the default path"},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.Export(c.Context, e.store, e.cfg, ops.ExportInput{
				Path:  c.String("path"),
				Label: c.String("label"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// importCmd creates the import command.
func importCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "import",
		Usage: "Import mappings from a JSON document",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "path", Aliases: []string{"p"}, Required: true, Usage: "Import file path"},
			&cli.StringFlag{Name: "mode", Aliases: []string{"m"}, Value: string(ops.ImportModeMerge), Usage: "merge|replace"},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.Import(c.Context, e.store, e.cfg, ops.ImportInput{
				Path: c.String("path"),
				Mode: ops.ImportMode(c.String("mode")),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// resetCmd creates the reset command.
func resetCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "reset",
		Usage: "Clear every learned mapping (static mappings are kept)",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "yes", Aliases: []string{"y"}, Usage: "Confirm the reset"},
		},
		Action: func(c *cli.Context) error {
			if !c.Bool("yes") {
				return outputError(errors.NewInvalidRequest("reset requires --yes"))
			}
			output, err := ops.Reset(c.Context, e.store)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// Helper functions

// outputJSON marshals result to stdout as JSON.
func outputJSON(v any) error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	if botErr, ok := err.(*errors.BotError); ok {
		return cli.Exit(fmt.Sprintf("[%s] %s", botErr.Code, botErr.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}

// stdinHasData returns true if stdin has piped data (not a terminal).
func stdinHasData() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) == 0
}

// readStdin reads at most limit bytes from stdin.
func readStdin(limit int64) (string, error) {
	data, err := io.ReadAll(io.LimitReader(os.Stdin, limit+1))
	if err != nil {
		return "", err
	}
	if int64(len(data)) > limit {
		return "", fmt.Errorf("stdin exceeds %d bytes", limit)
	}
	return strings.TrimSpace(string(data)), nil
}
