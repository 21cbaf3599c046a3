package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/ansuz/internal"
	"github.com/starford/ansuz/internal/ingest"
	pkgconfig "github.com/starford/ansuz/pkg/config"
)

var version = "dev"

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.LoadOrDefault(cmd.String("config"), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// withApp loads the config, wires the application and runs fn against it.
func withApp(fn func(ctx context.Context, cmd *cli.Command, app *internal.App) error) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		app, err := internal.New(internal.WithConfig(cfg), internal.WithVersion(version))
		if err != nil {
			return fmt.Errorf("app init error: %w", err)
		}
		defer app.Close()
		return fn(ctx, cmd, app)
	}
}

func ingestCmd(ctx context.Context, cmd *cli.Command, app *internal.App) error {
	mode := ingest.ModeFull
	if cmd.Bool("metadata-only") {
		mode = ingest.ModeMetadataOnly
	}
	report, err := app.Ingest(ctx, mode)
	if err != nil {
		return err
	}
	fmt.Printf("added %d, updated %d, skipped %d, removed %d, failed %d\n",
		report.Added, report.Updated, report.Skipped, report.Removed, report.Failed)
	if report.Failed > 0 {
		return fmt.Errorf("%d notes failed to ingest", report.Failed)
	}
	return nil
}

func replCmd(ctx context.Context, _ *cli.Command, app *internal.App) error {
	return app.REPL(ctx, os.Stdin, os.Stdout)
}

func askCmd(ctx context.Context, cmd *cli.Command, app *internal.App) error {
	q := strings.Join(cmd.Args().Slice(), " ")
	if strings.TrimSpace(q) == "" {
		return fmt.Errorf("ask: a query is required")
	}
	return app.Ask(ctx, q, os.Stdin, os.Stdout)
}

func listCmd(_ context.Context, _ *cli.Command, app *internal.App) error {
	return app.ListNotes(os.Stdout)
}

func statsCmd(ctx context.Context, cmd *cli.Command, app *internal.App) error {
	s, err := app.Stats(ctx)
	if err != nil {
		return err
	}
	if cmd.Bool("json") {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	}
	fmt.Printf("notes:  %d (%d dated)\nchunks: %d\n", s.Notes, s.Dated, s.Chunks)
	if !s.Oldest.IsZero() {
		fmt.Printf("range:  %s .. %s\n", s.Oldest, s.Newest)
	}
	return nil
}

func healthCmd(ctx context.Context, cmd *cli.Command, app *internal.App) error {
	report := app.Checker(!cmd.Bool("offline")).Run(ctx)
	var err error
	if cmd.Bool("json") {
		err = report.WriteJSON(os.Stdout)
	} else {
		err = report.WriteText(os.Stdout)
	}
	if err != nil {
		return err
	}
	if !report.Healthy {
		return fmt.Errorf("health check failed")
	}
	return nil
}

func serveCmd(ctx context.Context, _ *cli.Command, app *internal.App) error {
	if err := app.Serve(ctx); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func mcpCmd(_ context.Context, _ *cli.Command, app *internal.App) error {
	return app.ServeMCP()
}

func main() {
	jsonFlag := &cli.BoolFlag{Name: "json", Usage: "Print JSON"}

	cmd := &cli.Command{
		Name:    "ansuz",
		Usage:   "Ask questions about a folder of Markdown notes using local models",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "ingest",
				Usage:  "Embed new and changed notes, drop deleted ones",
				Action: withApp(ingestCmd),
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "metadata-only", Usage: "Only refresh dates and titles, no embedding"},
				},
			},
			{
				Name:   "repl",
				Usage:  "Interactive question loop",
				Action: withApp(replCmd),
			},
			{
				Name:      "ask",
				Usage:     "Answer a single query",
				ArgsUsage: "<query...>",
				Action:    withApp(askCmd),
			},
			{
				Name:   "list",
				Usage:  "List ingested notes",
				Action: withApp(listCmd),
			},
			{
				Name:   "stats",
				Usage:  "Show ingestion counts",
				Action: withApp(statsCmd),
				Flags:  []cli.Flag{jsonFlag},
			},
			{
				Name:   "health",
				Usage:  "Check vault, ledger, index and model availability",
				Action: withApp(healthCmd),
				Flags: []cli.Flag{
					jsonFlag,
					&cli.BoolFlag{Name: "offline", Usage: "Skip the model server checks"},
				},
			},
			{
				Name:   "serve",
				Usage:  "Run the HTTP API and the vault watcher",
				Action: withApp(serveCmd),
			},
			{
				Name:   "mcp",
				Usage:  "Serve MCP tools over stdio",
				Action: withApp(mcpCmd),
			},
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.Run(ctx, os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
