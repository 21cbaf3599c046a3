package internal

import (
	"io"
	"log/slog"

	"github.com/starford/ansuz/internal/ingest"
	"github.com/starford/ansuz/internal/query"
)

// Option is a functional option for configuring the application.
type Option func(*application)

type application struct {
	config    *Config
	logger    *slog.Logger
	logOut    io.Writer
	embedder  ingest.Embedder
	generator query.Generator
	version   string
}

// WithConfig sets the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithLogger replaces the logger built from the configuration.
func WithLogger(logger *slog.Logger) Option {
	return func(a *application) {
		a.logger = logger
	}
}

// WithLogOutput sets where the configured logger writes. Defaults to stderr.
func WithLogOutput(w io.Writer) Option {
	return func(a *application) {
		a.logOut = w
	}
}

// WithEmbedder replaces the configured embedding backend.
func WithEmbedder(e ingest.Embedder) Option {
	return func(a *application) {
		a.embedder = e
	}
}

// WithGenerator replaces the configured generation backend.
func WithGenerator(g query.Generator) Option {
	return func(a *application) {
		a.generator = g
	}
}

// WithVersion sets the version reported by the MCP server.
func WithVersion(v string) Option {
	return func(a *application) {
		a.version = v
	}
}
