package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/starford/ansuz/internal/apperr"
)

// FakeEmbedder maps text to a 27-dimension letter histogram. Texts that
// share letters land close together, which is enough to rank in tests.
type FakeEmbedder struct {
	mu    sync.Mutex
	calls int
	// FailOn makes Embed fail for any text containing one of these substrings.
	FailOn []string
	// Down makes every call fail.
	Down bool
}

// Embed returns the histogram of text.
func (f *FakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.Down {
		return nil, fmt.Errorf("fake: %w", apperr.ErrEmbeddingUnavailable)
	}
	for _, s := range f.FailOn {
		if strings.Contains(text, s) {
			return nil, fmt.Errorf("fake: %w", apperr.ErrEmbeddingUnavailable)
		}
	}
	return Vector(text), nil
}

// Calls returns how many times Embed ran.
func (f *FakeEmbedder) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// Vector is the embedding FakeEmbedder produces for text.
func Vector(text string) []float32 {
	vec := make([]float32, 27)
	vec[26] = 0.01
	for _, r := range strings.ToLower(text) {
		if r >= 'a' && r <= 'z' {
			vec[r-'a']++
		} else if unicode.IsLetter(r) {
			vec[26]++
		}
	}
	return vec
}

// FakeGenerator records its inputs and returns Answer.
type FakeGenerator struct {
	mu sync.Mutex

	Answer string
	Err    error
	// Delay blocks Generate until it elapses or ctx is done.
	Delay time.Duration

	Calls      int
	LastQuery  string
	LastBundle string
}

// Generate implements the generation capability.
func (g *FakeGenerator) Generate(ctx context.Context, query, bundle string) (string, error) {
	g.mu.Lock()
	g.Calls++
	g.LastQuery, g.LastBundle = query, bundle
	answer, err, delay := g.Answer, g.Err, g.Delay
	g.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("fake: %w: %w", apperr.ErrTimeout, ctx.Err())
		case <-time.After(delay):
		}
	}
	if err != nil {
		return "", err
	}
	return answer, nil
}

// Snapshot returns the recorded call count, query and bundle.
func (g *FakeGenerator) Snapshot() (int, string, string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.Calls, g.LastQuery, g.LastBundle
}
