package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/edgevec/internal/retrieval"
)

const maxRequestBodySize = 10 << 20 // 10MB

// maxK caps kvector and kfts per request.
const maxK = 100

// Retriever is the part of *retrieval.Store the API layer needs.
type Retriever interface {
	Setup(ctx context.Context) error
	AddDocuments(ctx context.Context, docs []retrieval.Document) error
	SimilaritySearch(ctx context.Context, query string, opts retrieval.SimilarityOptions) ([]retrieval.SearchResult, error)
	FullTextSearch(ctx context.Context, query string, opts retrieval.FullTextOptions) ([]retrieval.SearchResult, error)
	HybridSearch(ctx context.Context, query string, opts retrieval.HybridOptions) ([]retrieval.SearchResult, error)
}

type Deps struct {
	Store  Retriever
	Token  string
	Logger *slog.Logger
}

type DocumentsRequest struct {
	Documents []retrieval.Document `json:"documents"`
}

type SearchRequest struct {
	Query         string             `json:"query"`
	KVector       int                `json:"kvector"`
	KFTS          int                `json:"kfts"`
	Filters       []retrieval.Filter `json:"filters"`
	MetadataItems []string           `json:"metadata_items"`
}

type SearchResponse struct {
	Results []retrieval.SearchResult `json:"results"`
}

// NewHandler returns the REST API. /health is public; everything else
// requires the bearer token.
func NewHandler(deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(RequestID)

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/setup", handleSetup(deps))
		r.Post("/documents", handleAddDocuments(deps))
		r.Post("/search/similarity", handleSearch(deps, searchSimilarity))
		r.Post("/search/fulltext", handleSearch(deps, searchFullText))
		r.Post("/search/hybrid", handleSearch(deps, searchHybrid))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleSetup(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Store.Setup(r.Context()); err != nil {
			storeError(w, deps.Logger, r, "setup failed", err)
			return
		}
		writeJSON(w, map[string]string{"status": "ready"})
	}
}

func handleAddDocuments(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req DocumentsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if len(req.Documents) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "documents must not be empty")
			return
		}
		for i, d := range req.Documents {
			if d.Content == "" {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "document %d has no content", i)
				return
			}
		}

		if err := deps.Store.AddDocuments(r.Context(), req.Documents); err != nil {
			storeError(w, deps.Logger, r, "adding documents failed", err)
			return
		}
		writeJSON(w, map[string]any{"status": "stored", "count": len(req.Documents)})
	}
}

type searchFunc func(ctx context.Context, s Retriever, req SearchRequest, opts retrieval.SearchOptions) ([]retrieval.SearchResult, error)

func searchSimilarity(ctx context.Context, s Retriever, req SearchRequest, opts retrieval.SearchOptions) ([]retrieval.SearchResult, error) {
	return s.SimilaritySearch(ctx, req.Query, retrieval.SimilarityOptions{KVector: req.KVector, SearchOptions: opts})
}

func searchFullText(ctx context.Context, s Retriever, req SearchRequest, opts retrieval.SearchOptions) ([]retrieval.SearchResult, error) {
	return s.FullTextSearch(ctx, req.Query, retrieval.FullTextOptions{KFTS: req.KFTS, SearchOptions: opts})
}

func searchHybrid(ctx context.Context, s Retriever, req SearchRequest, opts retrieval.SearchOptions) ([]retrieval.SearchResult, error) {
	return s.HybridSearch(ctx, req.Query, retrieval.HybridOptions{KFTS: req.KFTS, KVector: req.KVector, SearchOptions: opts})
}

func handleSearch(deps Deps, search searchFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req SearchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Query == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "query is required")
			return
		}
		if req.KVector > maxK || req.KFTS > maxK {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "kvector and kfts must not exceed %d", maxK)
			return
		}
		for i, f := range req.Filters {
			if _, err := retrieval.ParseOperator(string(f.Operator)); err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "filter %d: %v", i, err)
				return
			}
		}

		opts := retrieval.SearchOptions{Filters: req.Filters, MetadataItems: req.MetadataItems}
		results, err := search(r.Context(), deps.Store, req, opts)
		if err != nil {
			storeError(w, deps.Logger, r, "search failed", err)
			return
		}
		if results == nil {
			results = []retrieval.SearchResult{}
		}
		writeJSON(w, SearchResponse{Results: results})
	}
}

// storeError maps retrieval errors onto HTTP statuses.
func storeError(w http.ResponseWriter, logger *slog.Logger, r *http.Request, msg string, err error) {
	var (
		setupErr  *retrieval.SetupError
		writeErr  *retrieval.WriteError
		searchErr *retrieval.SearchError
	)
	switch {
	case errors.Is(err, retrieval.ErrInvalidSearch):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
		return
	case errors.As(err, &setupErr), errors.As(err, &writeErr), errors.As(err, &searchErr):
		logger.Warn(msg, "path", r.URL.Path, "request_id", r.Header.Get(requestIDHeader), "error", err)
		httpError(w, http.StatusBadGateway, "database_error", "%s: %v", msg, err)
	default:
		logger.Error(msg, "path", r.URL.Path, "request_id", r.Header.Get(requestIDHeader), "error", err)
		httpError(w, http.StatusInternalServerError, "api_error", "%s: %v", msg, err)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", "error", err)
	}
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
