package api

import (
	"context"
	"strings"
	"testing"
	"unicode"

	"github.com/kalambet/edgevec/internal/dbservice/sqlite"
	"github.com/kalambet/edgevec/internal/retrieval"
)

const testToken = "test-token-12345"

// letterEmbedder embeds text as normalised letter frequencies.
type letterEmbedder struct{}

func (letterEmbedder) vector(text string) []float32 {
	v := make([]float32, 27)
	for _, r := range strings.ToLower(text) {
		if r >= 'a' && r <= 'z' {
			v[r-'a']++
		} else if unicode.IsDigit(r) {
			v[26]++
		}
	}
	v[26] += 0.01
	return v
}

func (e letterEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.vector(t)
	}
	return out, nil
}

func (e letterEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	return e.vector(text), nil
}

func newTestStore(t *testing.T, mode retrieval.Mode) *retrieval.Store {
	t.Helper()
	svc, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatalf("sqlite.Open: %v", err)
	}
	t.Cleanup(func() { svc.Close() })

	store, err := retrieval.New(svc, letterEmbedder{}, retrieval.Config{
		Database: "vectorstore",
		Table:    "docs",
		Mode:     mode,
	})
	if err != nil {
		t.Fatalf("retrieval.New: %v", err)
	}
	return store
}

func seededStore(t *testing.T) *retrieval.Store {
	t.Helper()
	store := newTestStore(t, retrieval.ModeHybrid)
	ctx := context.Background()
	if err := store.Setup(ctx); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	err := store.AddDocuments(ctx, []retrieval.Document{
		{Content: "Go channels and goroutines", Metadata: map[string]any{"topic": "go"}},
		{Content: "Rust ownership and borrowing", Metadata: map[string]any{"topic": "rust"}},
	})
	if err != nil {
		t.Fatalf("AddDocuments: %v", err)
	}
	return store
}
