package internal

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Log formats.
const (
	LogFormatJSON = "json"
	LogFormatText = "text"
)

// Embedding providers.
const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

// Config represents the application configuration.
type Config struct {
	App       ApplicationConfig `yaml:"app"`
	Vault     VaultConfig       `yaml:"vault"`
	SQLite    SQLiteConfig      `yaml:"sqlite"`
	Ledger    LedgerConfig      `yaml:"ledger"`
	Embedder  EmbedderConfig    `yaml:"embedder"`
	Generator GeneratorConfig   `yaml:"generator"`
	Chunker   ChunkerConfig     `yaml:"chunker"`
	Query     QueryConfig       `yaml:"query"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	sections := []validation.Validatable{
		&c.App, &c.Vault, &c.SQLite, &c.Ledger, &c.Embedder, &c.Generator, &c.Chunker, &c.Query,
	}
	for _, s := range sections {
		if err := s.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel  slog.Level `yaml:"log_level"`
	LogFormat string     `yaml:"log_format"`
	LogFile   string     `yaml:"log_file"`
	HTTP      HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	if c.LogFormat == "" {
		c.LogFormat = LogFormatJSON
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.LogFormat, validation.In(LogFormatJSON, LogFormatText)),
	); err != nil {
		return fmt.Errorf("app: %w", err)
	}
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration. An empty AuthToken leaves
// the API unauthenticated.
type HTTPConfig struct {
	Port      int    `yaml:"port"`
	AuthToken string `yaml:"auth_token"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// VaultConfig holds the path to the Markdown vault directory.
type VaultConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the vault configuration.
func (c *VaultConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// SQLiteConfig holds the vector index database location.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// LedgerConfig holds the ingestion ledger location. The extension picks the
// codec: .yaml/.yml for YAML, anything else JSON.
type LedgerConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the ledger configuration.
func (c *LedgerConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// EmbedderConfig selects and configures the embedding backend.
type EmbedderConfig struct {
	Provider  string        `yaml:"provider"`
	URL       string        `yaml:"url"`
	Model     string        `yaml:"model"`
	APIKeyEnv string        `yaml:"api_key_env"`
	Timeout   time.Duration `yaml:"timeout"`
}

// APIKey resolves the key from the configured environment variable.
func (c *EmbedderConfig) APIKey() string {
	if c.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.APIKeyEnv)
}

// Validate validates the embedder configuration.
func (c *EmbedderConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Provider, validation.Required, validation.In(ProviderOllama, ProviderOpenAI)),
		validation.Field(&c.URL, validation.Required),
		validation.Field(&c.Model, validation.Required),
		validation.Field(&c.Timeout, validation.Min(time.Duration(0))),
	); err != nil {
		return fmt.Errorf("embedder: %w", err)
	}
	return nil
}

// GeneratorConfig configures the generation model.
type GeneratorConfig struct {
	URL     string        `yaml:"url"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
}

// Validate validates the generator configuration.
func (c *GeneratorConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.URL, validation.Required),
		validation.Field(&c.Model, validation.Required),
		validation.Field(&c.Timeout, validation.Required),
	); err != nil {
		return fmt.Errorf("generator: %w", err)
	}
	return nil
}

// ChunkerConfig bounds chunk sizes, measured in runes.
type ChunkerConfig struct {
	MaxChars int `yaml:"max_chars"`
	Overlap  int `yaml:"overlap"`
}

// Validate validates the chunker configuration.
func (c *ChunkerConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.MaxChars, validation.Required, validation.Min(1)),
		validation.Field(&c.Overlap, validation.Min(0), validation.Max(c.MaxChars-1)),
	); err != nil {
		return fmt.Errorf("chunker: %w", err)
	}
	return nil
}

// QueryConfig tunes retrieval and context building.
type QueryConfig struct {
	TopK              int  `yaml:"top_k"`
	MaxContextDocs    int  `yaml:"max_context_docs"`
	MaxContextChars   int  `yaml:"max_context_chars"`
	PreviewChars      int  `yaml:"preview_chars"`
	RollingWindowDays int  `yaml:"rolling_window_days"`
	Truncate          bool `yaml:"truncate"`
}

// Validate validates the query configuration.
func (c *QueryConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.TopK, validation.Required, validation.Min(1)),
		validation.Field(&c.MaxContextDocs, validation.Required, validation.Min(1)),
		validation.Field(&c.MaxContextChars, validation.Required, validation.Min(1)),
		validation.Field(&c.PreviewChars, validation.Required, validation.Min(1)),
		validation.Field(&c.RollingWindowDays, validation.Required, validation.Min(1)),
	); err != nil {
		return fmt.Errorf("query: %w", err)
	}
	return nil
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel:  slog.LevelInfo,
			LogFormat: LogFormatJSON,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Vault: VaultConfig{
			Path: "./notes",
		},
		SQLite: SQLiteConfig{
			Path: "./rag_db/ansuz.db",
		},
		Ledger: LedgerConfig{
			Path: "./rag_db/ingested_notes.json",
		},
		Embedder: EmbedderConfig{
			Provider: ProviderOllama,
			URL:      "http://localhost:11434",
			Model:    "nomic-embed-text",
			Timeout:  30 * time.Second,
		},
		Generator: GeneratorConfig{
			URL:     "http://localhost:11434",
			Model:   "phi3",
			Timeout: 120 * time.Second,
		},
		Chunker: ChunkerConfig{
			MaxChars: 1000,
			Overlap:  100,
		},
		Query: QueryConfig{
			TopK:              5,
			MaxContextDocs:    5,
			MaxContextChars:   1000,
			PreviewChars:      1000,
			RollingWindowDays: 7,
			Truncate:          true,
		},
	}
}
