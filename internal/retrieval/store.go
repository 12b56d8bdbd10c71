package retrieval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/edgevec/internal/dbservice"
)

// Store is the entry point of the retrieval layer. It composes the
// provisioner, statement builder, chunker and merger over a database
// service and an embedder.
//
// Setup and writes return errors. Searches that fail in the database
// service return one synthetic result tagged "error" and a nil error,
// unless Config.StrictSearchErrors is set; use IsErrorResult to detect it.
// Embedder failures are always returned as errors.
type Store struct {
	db          dbservice.Service
	emb         Embedder
	cfg         Config
	builder     *StatementBuilder
	provisioner *Provisioner
	logger      *slog.Logger
}

// New validates cfg and returns a Store. It does not contact the database.
func New(db dbservice.Service, emb Embedder, cfg Config) (*Store, error) {
	if db == nil {
		return nil, errors.New("database service is required")
	}
	if emb == nil {
		return nil, errors.New("embedder is required")
	}
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid store config: %w", err)
	}
	return &Store{
		db:          db,
		emb:         emb,
		cfg:         cfg,
		builder:     NewStatementBuilder(cfg),
		provisioner: NewProvisioner(db, emb, cfg),
		logger:      cfg.Logger,
	}, nil
}

// Config returns the effective configuration, defaults applied.
func (s *Store) Config() Config { return s.cfg }

// Setup provisions the schema. Safe to call repeatedly.
func (s *Store) Setup(ctx context.Context) error {
	return s.provisioner.Setup(ctx, SchemaOptions{})
}

// AddDocuments embeds all documents in one call and stores them.
func (s *Store) AddDocuments(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Content
	}
	vectors, err := s.emb.EmbedDocuments(ctx, texts)
	if err != nil {
		return fmt.Errorf("embedding documents: %w", err)
	}
	return s.AddVectors(ctx, vectors, docs)
}

// AddVectors stores documents with precomputed vectors. vectors[i] must
// belong to docs[i]; only the first min(len(vectors), len(docs)) pairs are
// written.
func (s *Store) AddVectors(ctx context.Context, vectors [][]float32, docs []Document) error {
	n := min(len(vectors), len(docs))
	if n == 0 {
		return nil
	}

	stmts := make([]string, 0, n)
	for i := range n {
		row := Row{Content: docs[i].Content, Embedding: vectors[i], Metadata: docs[i].Metadata}
		stmt, err := s.builder.Insert(row)
		if err != nil {
			return fmt.Errorf("building insert for document %d: %w", i, err)
		}
		stmts = append(stmts, stmt)
	}

	chunks := Chunk(stmts, s.cfg.MaxBatchCount, s.cfg.MaxBatchBytes)
	s.logger.Debug("writing rows", "rows", n, "chunks", len(chunks), "concurrency", s.cfg.WriteConcurrency)

	if s.cfg.WriteConcurrency > 1 && len(chunks) > 1 {
		return s.writeConcurrent(ctx, chunks)
	}
	return s.writeSequential(ctx, chunks)
}

// writeSequential executes chunks in order and stops at the first failure.
func (s *Store) writeSequential(ctx context.Context, chunks [][]string) error {
	for i, chunk := range chunks {
		if err := s.db.Execute(ctx, s.cfg.Database, chunk); err != nil {
			return &WriteError{Chunk: i, Total: len(chunks), Err: err}
		}
		s.logger.Debug("chunk written", "chunk", i+1, "of", len(chunks), "statements", len(chunk))
	}
	return nil
}

// writeConcurrent executes up to WriteConcurrency chunks at a time. The
// first failure cancels chunks that have not started.
func (s *Store) writeConcurrent(ctx context.Context, chunks [][]string) error {
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.WriteConcurrency)

	for i, chunk := range chunks {
		g.Go(func() error {
			if gCtx.Err() != nil {
				return nil
			}
			if err := s.db.Execute(gCtx, s.cfg.Database, chunk); err != nil {
				return &WriteError{Chunk: i, Total: len(chunks), Err: err}
			}
			return nil
		})
	}
	return g.Wait()
}

func orDefault(k int) int {
	if k <= 0 {
		return 1
	}
	return k
}

// SimilaritySearch returns up to KVector nearest documents to query.
func (s *Store) SimilaritySearch(ctx context.Context, query string, opts SimilarityOptions) ([]SearchResult, error) {
	k := orDefault(opts.KVector)
	vec, err := s.emb.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	if err := checkFinite(vec); err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	stmt, err := s.builder.Similarity(vec, k, opts.SearchOptions)
	if err != nil {
		return nil, fmt.Errorf("building similarity query: %w: %w", ErrInvalidSearch, err)
	}
	return s.run(ctx, SearchTypeSimilarity, stmt)
}

// FullTextSearch returns up to KFTS documents matching any word of query.
// A query without searchable words returns no results.
func (s *Store) FullTextSearch(ctx context.Context, query string, opts FullTextOptions) ([]SearchResult, error) {
	k := orDefault(opts.KFTS)
	stmt, ok, err := s.builder.FullText(query, k, opts.SearchOptions)
	if err != nil {
		return nil, fmt.Errorf("building full-text query: %w: %w", ErrInvalidSearch, err)
	}
	if !ok {
		s.logger.Debug("full-text query has no searchable words", "query", query)
		return nil, nil
	}
	return s.run(ctx, SearchTypeFullText, stmt)
}

// HybridSearch runs full-text then similarity search and merges the two
// under the KFTS and KVector quotas. If either channel fails, its error
// result is returned alone.
func (s *Store) HybridSearch(ctx context.Context, query string, opts HybridOptions) ([]SearchResult, error) {
	kfts, kvector := orDefault(opts.KFTS), orDefault(opts.KVector)

	fts, err := s.FullTextSearch(ctx, query, FullTextOptions{KFTS: kfts, SearchOptions: opts.SearchOptions})
	if err != nil {
		return nil, err
	}
	if IsErrorResult(fts) {
		return fts, nil
	}

	sim, err := s.SimilaritySearch(ctx, query, SimilarityOptions{KVector: kvector, SearchOptions: opts.SearchOptions})
	if err != nil {
		return nil, err
	}
	if IsErrorResult(sim) {
		return sim, nil
	}

	combined := make([]SearchResult, 0, len(fts)+len(sim))
	combined = append(combined, fts...)
	combined = append(combined, sim...)
	return MergeResults(combined, kfts, kvector), nil
}

func (s *Store) run(ctx context.Context, kind, stmt string) ([]SearchResult, error) {
	results, err := s.db.Query(ctx, s.cfg.Database, []string{stmt})
	if err != nil {
		return s.searchFailure(kind, err)
	}
	if len(results) == 0 {
		return nil, nil
	}
	out, err := mapRows(results[0])
	if err != nil {
		return s.searchFailure(kind, err)
	}
	return out, nil
}

func (s *Store) searchFailure(kind string, err error) ([]SearchResult, error) {
	s.logger.Warn("search failed", "kind", kind, "table", s.cfg.Table, "error", err)
	if s.cfg.StrictSearchErrors {
		return nil, &SearchError{Kind: kind, Err: err}
	}
	return []SearchResult{errorResult(err)}, nil
}

// errorResult is the synthetic row standing in for a failed search.
func errorResult(err error) SearchResult {
	content, _ := json.Marshal(map[string]string{"error": err.Error()})
	return SearchResult{
		Document: Document{
			Content:  string(content),
			Metadata: map[string]any{"searchtype": SearchTypeError},
		},
		Score: 0,
	}
}

// mapRows converts an (id, content, metadata, score) result set.
func mapRows(res dbservice.QueryResult) ([]SearchResult, error) {
	idCol, contentCol := res.Column("id"), res.Column("content")
	metaCol, scoreCol := res.Column("metadata"), res.Column("score")
	if idCol < 0 || contentCol < 0 || metaCol < 0 || scoreCol < 0 {
		return nil, fmt.Errorf("unexpected result columns %v", res.Columns)
	}

	out := make([]SearchResult, 0, len(res.Rows))
	for i, row := range res.Rows {
		if len(row) < len(res.Columns) {
			return nil, fmt.Errorf("row %d has %d values, want %d", i, len(row), len(res.Columns))
		}

		var meta map[string]any
		if raw := dbservice.AsString(row[metaCol]); raw != "" {
			if err := json.Unmarshal([]byte(raw), &meta); err != nil {
				return nil, fmt.Errorf("decoding metadata of row %d: %w", i, err)
			}
		}
		score, err := dbservice.AsFloat(row[scoreCol])
		if err != nil {
			return nil, fmt.Errorf("decoding score of row %d: %w", i, err)
		}

		out = append(out, SearchResult{
			Document: Document{
				ID:       dbservice.AsString(row[idCol]),
				Content:  dbservice.AsString(row[contentCol]),
				Metadata: meta,
			},
			Score: score,
		})
	}
	return out, nil
}
