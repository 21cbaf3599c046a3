// Package internal wires configuration, storage, models and the query engine
// into the commands the CLI exposes.
package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/ansuz/internal/api"
	"github.com/starford/ansuz/internal/chunker"
	"github.com/starford/ansuz/internal/health"
	"github.com/starford/ansuz/internal/index"
	"github.com/starford/ansuz/internal/ingest"
	"github.com/starford/ansuz/internal/ledger"
	"github.com/starford/ansuz/internal/mcpserver"
	"github.com/starford/ansuz/internal/ollama"
	"github.com/starford/ansuz/internal/openai"
	"github.com/starford/ansuz/internal/query"
	"github.com/starford/ansuz/internal/repl"
	"github.com/starford/ansuz/internal/sse"
	"github.com/starford/ansuz/internal/storage"
)

// NewLogger builds the slog logger described by cfg. When cfg.LogFile is
// set, records are written to both w and the file; the returned func closes it.
func NewLogger(cfg ApplicationConfig, w io.Writer) (*slog.Logger, func() error, error) {
	out, closeFn := w, func() error { return nil }
	if cfg.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.LogFile), 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log dir: %w", err)
		}
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		out, closeFn = io.MultiWriter(w, f), f.Close
	}

	opts := &slog.HandlerOptions{Level: cfg.LogLevel}
	var h slog.Handler
	if cfg.LogFormat == LogFormatText {
		h = slog.NewTextHandler(out, opts)
	} else {
		h = slog.NewJSONHandler(out, opts)
	}
	return slog.New(h), closeFn, nil
}

// App holds the wired components. Close releases them.
type App struct {
	cfg       *Config
	logger    *slog.Logger
	store     *storage.FS
	ledger    *ledger.Ledger
	db        *index.DB
	embedder  ingest.Embedder
	generator query.Generator
	pipeline  *ingest.Pipeline
	engine    *query.Engine
	broker    *sse.Broker
	version   string
	closers   []func() error
}

// New wires the application from options. WithConfig is required.
func New(opts ...Option) (*App, error) {
	a := &application{logOut: os.Stderr, version: "dev"}
	for _, opt := range opts {
		opt(a)
	}
	if a.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	cfg := a.config

	app := &App{cfg: cfg, logger: a.logger, version: a.version}
	if app.logger == nil {
		logger, closeLog, err := NewLogger(cfg.App, a.logOut)
		if err != nil {
			return nil, err
		}
		app.logger = logger
		app.closers = append(app.closers, closeLog)
	}
	logger := app.logger

	logger.Debug("Configuration loaded",
		slog.String("vault_path", cfg.Vault.Path),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("ledger_path", cfg.Ledger.Path),
		slog.String("embedder", cfg.Embedder.Provider+"/"+cfg.Embedder.Model),
		slog.String("generator", cfg.Generator.Model),
		slog.String("log_level", cfg.App.LogLevel.String()))

	if err := os.MkdirAll(cfg.Vault.Path, 0o755); err != nil {
		app.Close()
		return nil, fmt.Errorf("create vault dir: %w", err)
	}
	store, err := storage.NewFS(cfg.Vault.Path)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("init storage: %w", err)
	}
	app.store = store

	if err := os.MkdirAll(filepath.Dir(cfg.SQLite.Path), 0o755); err != nil {
		app.Close()
		return nil, fmt.Errorf("create index dir: %w", err)
	}
	db, err := index.Open(cfg.SQLite.Path)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("init index: %w", err)
	}
	app.db = db
	app.closers = append(app.closers, db.Close)

	led, err := ledger.Open(cfg.Ledger.Path)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("init ledger: %w", err)
	}
	app.ledger = led

	app.embedder = a.embedder
	if app.embedder == nil {
		if app.embedder, err = newEmbedder(cfg.Embedder); err != nil {
			app.Close()
			return nil, err
		}
	}
	app.generator = a.generator
	if app.generator == nil {
		app.generator = ollama.New(ollama.Config{
			BaseURL: cfg.Generator.URL,
			Model:   cfg.Generator.Model,
			Timeout: cfg.Generator.Timeout,
		})
	}

	app.pipeline = ingest.NewPipeline(store, led, db, app.embedder,
		chunker.New(cfg.Chunker.MaxChars, cfg.Chunker.Overlap), logger,
		ingest.WithEvents(app.noteEvent))

	app.engine = query.NewEngine(led, store, db, app.embedder, app.generator, query.Config{
		TopK:              cfg.Query.TopK,
		MaxContextDocs:    cfg.Query.MaxContextDocs,
		MaxContextChars:   cfg.Query.MaxContextChars,
		PreviewChars:      cfg.Query.PreviewChars,
		RollingWindowDays: cfg.Query.RollingWindowDays,
		Truncate:          cfg.Query.Truncate,
		GenerationTimeout: cfg.Generator.Timeout,
	}, logger)

	return app, nil
}

func newEmbedder(cfg EmbedderConfig) (ingest.Embedder, error) {
	switch cfg.Provider {
	case ProviderOpenAI:
		c, err := openai.NewClient(openai.Config{
			BaseURL: cfg.URL,
			APIKey:  cfg.APIKey(),
			Model:   cfg.Model,
			Timeout: cfg.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("init embedder: %w", err)
		}
		return c, nil
	default:
		return ollama.New(ollama.Config{BaseURL: cfg.URL, Model: cfg.Model, Timeout: cfg.Timeout}), nil
	}
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for _, fn := range slices.Backward(a.closers) {
		if err := fn(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// Logger returns the application logger.
func (a *App) Logger() *slog.Logger { return a.logger }

func (a *App) noteEvent(kind, noteID string) {
	if a.broker != nil {
		a.broker.NoteEvent(kind, noteID)
	}
}

// Ingest runs one ingestion pass and logs its report.
func (a *App) Ingest(ctx context.Context, mode ingest.Mode) (ingest.Report, error) {
	start := time.Now()
	report, err := a.pipeline.Run(ctx, mode)
	if err != nil {
		return report, fmt.Errorf("ingest: %w", err)
	}
	a.logger.Info("Ingestion finished",
		slog.String("mode", mode.String()),
		slog.Int("added", report.Added),
		slog.Int("updated", report.Updated),
		slog.Int("skipped", report.Skipped),
		slog.Int("removed", report.Removed),
		slog.Int("failed", report.Failed),
		slog.Duration("took", time.Since(start)))
	return report, nil
}

// REPL runs the interactive loop.
func (a *App) REPL(ctx context.Context, in io.Reader, out io.Writer) error {
	return repl.New(a.engine, in, out, a.logger).Run(ctx)
}

// Ask answers one query; a resulting choice is read from in.
func (a *App) Ask(ctx context.Context, q string, in io.Reader, out io.Writer) error {
	return repl.New(a.engine, in, out, a.logger).Ask(ctx, q)
}

// ListNotes writes every ingested note as id, date and title columns.
func (a *App) ListNotes(out io.Writer) error {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, e := range a.engine.ListNotes() {
		date := e.Date.String()
		if date == "" {
			date = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", e.NoteID, date, e.Title)
	}
	return tw.Flush()
}

// Stats returns ingestion counts.
func (a *App) Stats(ctx context.Context) (query.Stats, error) {
	return a.engine.Stats(ctx)
}

// Checker builds the health checks. Model probes call the embedding and
// generation servers and are only added when withModels is set.
func (a *App) Checker(withModels bool) *health.Checker {
	c := health.NewChecker(10*time.Second).
		Add("vault", health.VaultProbe(a.store)).
		Add("ledger", health.LedgerProbe(a.cfg.Ledger.Path)).
		Add("index", health.IndexProbe(a.db))
	if withModels {
		c.Add("embedder", health.EmbedderProbe(a.embedder))
		if ms, ok := a.generator.(health.ModelServer); ok {
			c.Add("generator", health.ModelProbe(ms))
		}
	}
	return c
}

// ServeMCP serves the MCP tools on stdin/stdout until it closes.
func (a *App) ServeMCP() error {
	return mcpserver.New(a.engine, a.db, a.version).ServeStdio()
}

// Handler builds the HTTP handler: health endpoints plus the API under /api.
func (a *App) Handler(broker *sse.Broker) http.Handler {
	h := api.NewHandler(a.engine, a.pipeline, a.db, a.logger, api.WithIngestHook(broker.RunCompleted))

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, req *http.Request) {
		report := a.Checker(false).Run(req.Context())
		status := http.StatusOK
		if !report.Healthy {
			status = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = report.WriteJSON(w)
	})

	r.Mount("/api", api.NewRouter(h, a.cfg.App.HTTP.AuthToken, broker))
	return r
}

// Serve ingests once, then runs the HTTP API and the vault watcher until
// ctx is done or a shutdown signal arrives.
func (a *App) Serve(ctx context.Context) error {
	cfg, logger := a.cfg, a.logger

	a.broker = sse.NewBroker(2 * time.Second)
	defer a.broker.Close()

	if report, err := a.Ingest(ctx, ingest.ModeFull); err != nil {
		logger.Warn("initial ingestion failed", slog.String("error", err.Error()))
	} else {
		a.broker.RunCompleted(ingest.ModeFull, report)
	}

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           a.Handler(a.broker),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := ingest.Watch(gCtx, a.pipeline, cfg.Vault.Path, logger); err != nil {
			logger.Error("watcher stopped", slog.String("error", err.Error()))
		}
		return nil
	})

	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}
		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}
	logger.Info("Server stopped successfully")
	return nil
}

// errShutdown cancels the group so the watcher exits once the server stops.
var errShutdown = errors.New("shutdown")

