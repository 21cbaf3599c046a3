// Package health runs readiness probes against the vault, ledger, index and models.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/sync/errgroup"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/ledger"
	"github.com/starford/ansuz/internal/storage"
)

// Probe checks one dependency and returns a short detail on success.
type Probe func(ctx context.Context) (string, error)

// Result is the outcome of one probe.
type Result struct {
	Name     string        `json:"name"`
	OK       bool          `json:"ok"`
	Detail   string        `json:"detail,omitempty"`
	Error    string        `json:"error,omitempty"`
	Kind     apperr.Kind   `json:"kind,omitempty"`
	Duration time.Duration `json:"duration_ns"`
}

// Report collects every probe result in registration order.
type Report struct {
	Healthy bool     `json:"healthy"`
	Results []Result `json:"results"`
}

type namedProbe struct {
	name  string
	probe Probe
}

// Checker runs probes concurrently, each under its own timeout.
type Checker struct {
	timeout time.Duration
	probes  []namedProbe
}

// NewChecker creates a checker. timeout <= 0 means 5s per probe.
func NewChecker(timeout time.Duration) *Checker {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Checker{timeout: timeout}
}

// Add registers a probe.
func (c *Checker) Add(name string, p Probe) *Checker {
	c.probes = append(c.probes, namedProbe{name: name, probe: p})
	return c
}

// Run executes all probes. A failing probe never cancels the others.
func (c *Checker) Run(ctx context.Context) Report {
	results := make([]Result, len(c.probes))

	var g errgroup.Group
	for i, np := range c.probes {
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()

			start := time.Now()
			detail, err := np.probe(pctx)
			r := Result{Name: np.name, OK: err == nil, Detail: detail, Duration: time.Since(start)}
			if err != nil {
				if errors.Is(pctx.Err(), context.DeadlineExceeded) && !errors.Is(err, apperr.ErrTimeout) {
					err = fmt.Errorf("%w: %w", apperr.ErrTimeout, err)
				}
				r.Error = err.Error()
				r.Kind = apperr.KindOf(err)
			}
			results[i] = r
			return nil
		})
	}
	_ = g.Wait()

	report := Report{Healthy: true, Results: results}
	for _, r := range results {
		if !r.OK {
			report.Healthy = false
		}
	}
	return report
}

// WriteJSON writes the report as indented JSON.
func (r Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

var (
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	nameStyle   = lipgloss.NewStyle().Width(12)
	detailStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// WriteText writes one line per probe.
func (r Report) WriteText(w io.Writer) error {
	for _, res := range r.Results {
		mark, text := okStyle.Render("ok"), res.Detail
		if !res.OK {
			mark, text = failStyle.Render("FAIL"), res.Error
		}
		if _, err := fmt.Fprintf(w, "%s %s %s\n", nameStyle.Render(res.Name), mark, detailStyle.Render(text)); err != nil {
			return err
		}
	}
	return nil
}

// VaultProbe lists the vault and reports how many notes it holds.
func VaultProbe(store storage.Provider) Probe {
	return func(context.Context) (string, error) {
		notes, err := store.List("")
		if err != nil {
			return "", fmt.Errorf("vault %s: %w", store.Root(), err)
		}
		return fmt.Sprintf("%d notes in %s", len(notes), store.Root()), nil
	}
}

// LedgerProbe checks the ledger file decodes. A missing file is healthy:
// it is created on the first ingestion.
func LedgerProbe(path string) Probe {
	return func(context.Context) (string, error) {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			return "not created yet", nil
		}
		l, err := ledger.Open(path)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%d entries", l.Len()), nil
	}
}

// Index is the part of the vector index a probe needs.
type Index interface {
	Ping() error
	Count(ctx context.Context) (int, error)
}

// IndexProbe pings the index and counts stored chunks.
func IndexProbe(idx Index) Probe {
	return func(ctx context.Context) (string, error) {
		if err := idx.Ping(); err != nil {
			return "", err
		}
		n, err := idx.Count(ctx)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%d chunks", n), nil
	}
}

// Embedder produces vectors.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// EmbedderProbe embeds a short text end to end.
func EmbedderProbe(emb Embedder) Probe {
	return func(ctx context.Context) (string, error) {
		vec, err := emb.Embed(ctx, "health check")
		if err != nil {
			return "", err
		}
		if len(vec) == 0 {
			return "", fmt.Errorf("empty embedding: %w", apperr.ErrEmbeddingUnavailable)
		}
		return fmt.Sprintf("%d dimensions", len(vec)), nil
	}
}

// ModelServer lists installed models.
type ModelServer interface {
	HasModel(ctx context.Context) (bool, error)
	Model() string
}

// ModelProbe checks the configured generation model is installed.
func ModelProbe(srv ModelServer) Probe {
	return func(ctx context.Context) (string, error) {
		ok, err := srv.HasModel(ctx)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", fmt.Errorf("model %q not installed: %w", srv.Model(), apperr.ErrGenerationUnavailable)
		}
		return fmt.Sprintf("model %s available", srv.Model()), nil
	}
}
