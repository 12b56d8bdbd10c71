package retrieval

import (
	"context"
	"fmt"

	"github.com/kalambet/edgevec/internal/engine"
	"golang.org/x/sync/errgroup"
)

// embedBatchSize is the number of texts sent per engine call.
const embedBatchSize = 32

var _ Embedder = (*EngineEmbedder)(nil)

// EngineEmbedder implements Embedder on top of an inference Engine.
type EngineEmbedder struct {
	engine engine.Engine
	model  string
}

// NewEmbedder creates an EngineEmbedder using the given Engine and model name.
func NewEmbedder(e engine.Engine, model string) *EngineEmbedder {
	return &EngineEmbedder{engine: e, model: model}
}

// Model returns the embedding model name.
func (e *EngineEmbedder) Model() string { return e.model }

// EmbedQuery returns the embedding vector for a single text.
func (e *EngineEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vec, err := e.engine.Embed(ctx, e.model, text)
	if err != nil {
		return nil, fmt.Errorf("embedding text: %w", err)
	}
	return vec, nil
}

// EmbedDocuments returns one vector per text, in input order. Texts are
// sent in batches, a few batches at a time.
// Returns nil (not error) for empty/nil input.
func (e *EngineEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	results := make([][]float32, len(texts))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(4) // Bound concurrency to avoid overwhelming the engine.

	for start := 0; start < len(texts); start += embedBatchSize {
		end := min(start+embedBatchSize, len(texts))
		g.Go(func() error {
			vecs, err := e.engine.EmbedBatch(gCtx, e.model, texts[start:end])
			if err != nil {
				return fmt.Errorf("embedding texts %d-%d: %w", start, end-1, err)
			}
			if len(vecs) != end-start {
				return fmt.Errorf("embedding texts %d-%d: got %d vectors, want %d", start, end-1, len(vecs), end-start)
			}
			copy(results[start:end], vecs)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
