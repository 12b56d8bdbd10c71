package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"
)

// Embedder turns text into vectors. Every vector it returns for one store
// must have the same dimension.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Document is a unit of text with metadata. ID is assigned by the store on
// write and populated on read.
type Document struct {
	ID       string         `json:"id,omitempty"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Row is the stored form of a document: its text, its embedding and its
// metadata.
type Row struct {
	Content   string
	Embedding []float32
	Metadata  map[string]any
}

// SearchResult is a retrieved document with the score of the channel that
// found it. Similarity scores and full-text scores are not comparable.
type SearchResult struct {
	Document
	Score float64 `json:"score"`
}

// Search type tags carried in Metadata["searchtype"].
const (
	SearchTypeSimilarity = "similarity"
	SearchTypeFullText   = "fulltextsearch"
	SearchTypeError      = "error"
)

// SearchType returns the channel tag of the result, or "".
func (r SearchResult) SearchType() string {
	if r.Metadata == nil {
		return ""
	}
	s, _ := r.Metadata["searchtype"].(string)
	return s
}

// IsErrorResult reports whether results is the single synthetic row a
// search returns when the database service failed.
func IsErrorResult(results []SearchResult) bool {
	return len(results) == 1 && results[0].SearchType() == SearchTypeError
}

// Operator is a SQL comparison operator usable in a Filter.
type Operator string

const (
	OpEq        Operator = "="
	OpNe        Operator = "!="
	OpGt        Operator = ">"
	OpLt        Operator = "<"
	OpLe        Operator = "<="
	OpGe        Operator = ">="
	OpLike      Operator = "LIKE"
	OpNotLike   Operator = "NOT LIKE"
	OpIn        Operator = "IN"
	OpNotIn     Operator = "NOT IN"
	OpIsNull    Operator = "IS NULL"
	OpIsNotNull Operator = "IS NOT NULL"
)

var operators = []Operator{OpEq, OpNe, OpGt, OpLt, OpLe, OpGe, OpLike, OpNotLike, OpIn, OpNotIn, OpIsNull, OpIsNotNull}

// ParseOperator returns the Operator with the given textual form.
func ParseOperator(s string) (Operator, error) {
	for _, op := range operators {
		if string(op) == s {
			return op, nil
		}
	}
	return "", fmt.Errorf("unknown operator %q", s)
}

// Filter is one predicate on a metadata column. A list of filters is
// AND-conjoined. For IN and NOT IN, Value is the comma-separated list
// placed verbatim inside parentheses.
type Filter struct {
	Operator Operator `json:"operator"`
	Column   string   `json:"column"`
	Value    string   `json:"value,omitempty"`
}

// parseOrder lists operators so that no entry is a prefix of a later one.
var parseOrder = []Operator{OpIsNotNull, OpIsNull, OpNotLike, OpNotIn, OpLike, OpIn, OpNe, OpLe, OpGe, OpEq, OpGt, OpLt}

// ParseFilter parses "column operator [value]", for example "topic = go",
// "lang IN 'go','rust'" or "topic IS NULL". Word operators are matched
// case-insensitively and must be separated from the column by a space.
func ParseFilter(s string) (Filter, error) {
	col, rest, ok := strings.Cut(strings.TrimSpace(s), " ")
	if !ok || col == "" {
		return Filter{}, fmt.Errorf("filter %q: want \"column operator [value]\"", s)
	}
	rest = strings.TrimSpace(rest)

	for _, op := range parseOrder {
		n := len(op)
		if len(rest) < n || !strings.EqualFold(rest[:n], string(op)) {
			continue
		}
		value := rest[n:]
		if isWordOperator(op) && value != "" && value[0] != ' ' {
			continue
		}
		value = strings.TrimSpace(value)

		switch op {
		case OpIsNull, OpIsNotNull:
			if value != "" {
				return Filter{}, fmt.Errorf("filter %q: %s takes no value", s, op)
			}
		default:
			if value == "" {
				return Filter{}, fmt.Errorf("filter %q: %s needs a value", s, op)
			}
		}
		return Filter{Operator: op, Column: col, Value: value}, nil
	}
	return Filter{}, fmt.Errorf("filter %q: unknown operator", s)
}

func isWordOperator(op Operator) bool {
	c := op[len(op)-1]
	return c >= 'A' && c <= 'Z'
}

// SearchOptions are shared by all three searches.
type SearchOptions struct {
	Filters []Filter
	// MetadataItems selects metadata keys returned next to searchtype.
	MetadataItems []string
}

// SimilarityOptions configures SimilaritySearch.
type SimilarityOptions struct {
	KVector int
	SearchOptions
}

// FullTextOptions configures FullTextSearch.
type FullTextOptions struct {
	KFTS int
	SearchOptions
}

// HybridOptions configures HybridSearch.
type HybridOptions struct {
	KFTS    int
	KVector int
	SearchOptions
}

// Mode selects which indexes the schema carries.
type Mode string

const (
	ModeVector Mode = "vector"
	ModeHybrid Mode = "hybrid"
)

// ParseMode accepts "vector" or "hybrid".
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeVector, ModeHybrid:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown mode %q (want vector or hybrid)", s)
}

const (
	DefaultMaxBatchCount     = 1000
	DefaultMaxBatchBytes     = 838860
	DefaultReadyTimeout      = 30 * time.Second
	DefaultReadyPollInterval = time.Second
)

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func validIdentifier(s string) bool { return identPattern.MatchString(s) }

// Config fixes the schema and behaviour of a Store. Mode and the metadata
// layout must not change after Setup.
type Config struct {
	Database string
	Table    string
	Mode     Mode

	// MetadataColumns selects the expanded layout: one nullable TEXT column
	// per key instead of a single JSON metadata column.
	MetadataColumns []string

	// UseVectorIndex renders similarity queries through vector_top_k. Backends
	// without that table function need false.
	UseVectorIndex bool

	MaxBatchCount int
	MaxBatchBytes int

	// WriteConcurrency > 1 executes chunks concurrently; chunk order is then
	// not preserved across the batch.
	WriteConcurrency int

	ReadyTimeout      time.Duration
	ReadyPollInterval time.Duration

	// StrictSearchErrors returns *SearchError instead of a synthetic
	// error row when the database service fails.
	StrictSearchErrors bool

	Logger *slog.Logger
}

// Expanded reports whether metadata is stored in dedicated columns.
func (c Config) Expanded() bool { return len(c.MetadataColumns) > 0 }

// withDefaults fills zero values.
func (c Config) withDefaults() Config {
	if c.Mode == "" {
		c.Mode = ModeHybrid
	}
	if c.MaxBatchCount <= 0 {
		c.MaxBatchCount = DefaultMaxBatchCount
	}
	if c.MaxBatchBytes <= 0 {
		c.MaxBatchBytes = DefaultMaxBatchBytes
	}
	if c.WriteConcurrency <= 0 {
		c.WriteConcurrency = 1
	}
	if c.ReadyTimeout <= 0 {
		c.ReadyTimeout = DefaultReadyTimeout
	}
	if c.ReadyPollInterval <= 0 {
		c.ReadyPollInterval = DefaultReadyPollInterval
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Validate checks names and mode before anything reaches the database.
func (c Config) Validate() error {
	if c.Database == "" {
		return fmt.Errorf("database name is required")
	}
	if !validIdentifier(c.Table) {
		return fmt.Errorf("invalid table name %q", c.Table)
	}
	if _, err := ParseMode(string(c.Mode)); err != nil {
		return err
	}
	seen := make(map[string]bool, len(c.MetadataColumns))
	for _, col := range c.MetadataColumns {
		if !validIdentifier(col) {
			return fmt.Errorf("invalid metadata column %q", col)
		}
		if reservedColumns[col] {
			return fmt.Errorf("metadata column %q collides with a built-in column", col)
		}
		if seen[col] {
			return fmt.Errorf("duplicate metadata column %q", col)
		}
		seen[col] = true
	}
	return nil
}

var reservedColumns = map[string]bool{
	"id": true, "content": true, "embedding": true, "metadata": true, "rowid": true, "rank": true, "searchtype": true,
}
