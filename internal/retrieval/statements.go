package retrieval

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"unicode"
)

var quoteStripper = strings.NewReplacer(`'`, " ", `"`, " ")

// sanitize replaces single and double quotes with a space. It is lossy: the
// stored text is the sanitized form, not the original.
func sanitize(s string) string {
	return quoteStripper.Replace(s)
}

// sanitizeJSON sanitizes every key and string leaf of a decoded JSON value.
func sanitizeJSON(v any) any {
	switch val := v.(type) {
	case string:
		return sanitize(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			out[sanitize(k)] = sanitizeJSON(inner)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = sanitizeJSON(inner)
		}
		return out
	default:
		return v
	}
}

// metadataJSON renders metadata as sanitized JSON. Values are normalised
// through a JSON round trip first so that any Go type is covered.
func metadataJSON(m map[string]any) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encoding metadata: %w", err)
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", fmt.Errorf("normalising metadata: %w", err)
	}
	out, err := json.Marshal(sanitizeJSON(decoded))
	if err != nil {
		return "", fmt.Errorf("encoding metadata: %w", err)
	}
	return string(out), nil
}

// textValue renders one expanded-layout value. Non-strings are stored as
// their JSON text.
func textValue(v any) (string, error) {
	if s, ok := v.(string); ok {
		return sanitize(s), nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return sanitize(string(b)), nil
}

// checkFinite rejects NaN and infinite components, which have no JSON
// spelling inside vector('[...]').
func checkFinite(v []float32) error {
	for i, f := range v {
		if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
			return fmt.Errorf("embedding component %d is %v", i, f)
		}
	}
	return nil
}

// vectorLiteral renders v as a vector('[...]') call.
func vectorLiteral(v []float32) string {
	var sb strings.Builder
	sb.WriteString("vector('[")
	for i, f := range v {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.FormatFloat(float64(f), 'g', -1, 32))
	}
	sb.WriteString("]')")
	return sb.String()
}

// ftsQuery turns free text into an FTS5 expression matching any word.
// It returns "" when no word survives.
func ftsQuery(query string) string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return ' '
	}, query)

	words := strings.Fields(cleaned)
	if len(words) == 0 {
		return ""
	}
	for i, w := range words {
		words[i] = `"` + w + `"`
	}
	return strings.Join(words, " OR ")
}

// StatementBuilder renders SQL text for one table. It never touches the
// database.
type StatementBuilder struct {
	table    string
	columns  []string
	useIndex bool
}

// NewStatementBuilder returns a builder for the table and layout in cfg.
func NewStatementBuilder(cfg Config) *StatementBuilder {
	return &StatementBuilder{
		table:    cfg.Table,
		columns:  cfg.MetadataColumns,
		useIndex: cfg.UseVectorIndex,
	}
}

func (b *StatementBuilder) expanded() bool { return len(b.columns) > 0 }

func (b *StatementBuilder) ftsTable() string { return b.table + "_fts" }

func (b *StatementBuilder) indexName() string { return b.table + "_idx" }

// Insert renders the INSERT statement for one row.
func (b *StatementBuilder) Insert(row Row) (string, error) {
	if err := checkFinite(row.Embedding); err != nil {
		return "", err
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "INSERT INTO %s (content, embedding, ", b.table)

	if !b.expanded() {
		meta, err := metadataJSON(row.Metadata)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&sb, "metadata) VALUES ('%s', %s, '%s')", sanitize(row.Content), vectorLiteral(row.Embedding), meta)
		return sb.String(), nil
	}

	sb.WriteString(strings.Join(b.columns, ", "))
	fmt.Fprintf(&sb, ") VALUES ('%s', %s", sanitize(row.Content), vectorLiteral(row.Embedding))
	for _, col := range b.columns {
		v, ok := row.Metadata[col]
		if !ok || v == nil {
			sb.WriteString(", NULL")
			continue
		}
		text, err := textValue(v)
		if err != nil {
			return "", fmt.Errorf("encoding column %s: %w", col, err)
		}
		fmt.Fprintf(&sb, ", '%s'", text)
	}
	sb.WriteString(")")
	return sb.String(), nil
}

// Similarity renders the top-k nearest neighbour query for vec.
func (b *StatementBuilder) Similarity(vec []float32, k int, opts SearchOptions) (string, error) {
	t := b.table
	proj, err := b.projection(t, SearchTypeSimilarity, opts.MetadataItems)
	if err != nil {
		return "", err
	}
	where, err := b.filters(t, opts.Filters)
	if err != nil {
		return "", err
	}
	lit := vectorLiteral(vec)

	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT %s.id AS id, %s.content AS content, %s AS metadata, 1 - vector_distance_cos(%s.embedding, %s) AS score",
		t, t, proj, t, lit)
	if b.useIndex {
		fmt.Fprintf(&sb, " FROM vector_top_k('%s', %s, %d) AS top_k JOIN %s ON top_k.id = %s.rowid",
			b.indexName(), lit, k, t, t)
		if where != "" {
			sb.WriteString(" WHERE " + where)
		}
		sb.WriteString(" ORDER BY score DESC")
		return sb.String(), nil
	}

	fmt.Fprintf(&sb, " FROM %s", t)
	if where != "" {
		sb.WriteString(" WHERE " + where)
	}
	fmt.Fprintf(&sb, " ORDER BY score DESC LIMIT %d", k)
	return sb.String(), nil
}

// FullText renders the full-text query. ok is false when the query has no
// searchable words, in which case nothing should be sent.
func (b *StatementBuilder) FullText(query string, k int, opts SearchOptions) (stmt string, ok bool, err error) {
	match := ftsQuery(query)
	if match == "" {
		return "", false, nil
	}

	f := b.ftsTable()
	proj, err := b.projection(f, SearchTypeFullText, opts.MetadataItems)
	if err != nil {
		return "", false, err
	}
	where, err := b.filters(f, opts.Filters)
	if err != nil {
		return "", false, err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT %s.id AS id, %s.content AS content, %s AS metadata, -rank AS score FROM %s WHERE %s MATCH '%s'",
		f, f, proj, f, f, match)
	if where != "" {
		sb.WriteString(" AND " + where)
	}
	fmt.Fprintf(&sb, " ORDER BY rank LIMIT %d", k)
	return sb.String(), true, nil
}

// projection builds the json_object expression returned as the metadata
// column of a search.
func (b *StatementBuilder) projection(src, tag string, items []string) (string, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "json_object('searchtype', '%s'", tag)
	for _, item := range items {
		if !validIdentifier(item) {
			return "", fmt.Errorf("invalid metadata item %q", item)
		}
		if b.expanded() {
			if !slices.Contains(b.columns, item) {
				return "", fmt.Errorf("metadata item %q is not a metadata column", item)
			}
			fmt.Fprintf(&sb, ", '%s', %s.%s", item, src, item)
		} else {
			fmt.Fprintf(&sb, ", '%s', json_extract(%s.metadata, '$.%s')", item, src, item)
		}
	}
	sb.WriteString(")")
	return sb.String(), nil
}

// column resolves a filter column against src. In the plain layout keys
// that are not physical columns live inside the JSON metadata.
func (b *StatementBuilder) column(src, col string) string {
	if b.expanded() {
		return src + "." + col
	}
	switch col {
	case "id", "content", "metadata":
		return src + "." + col
	}
	return fmt.Sprintf("json_extract(%s.metadata, '$.%s')", src, col)
}

// filters renders the AND-conjoined filter list, or "" for none.
func (b *StatementBuilder) filters(src string, filters []Filter) (string, error) {
	if len(filters) == 0 {
		return "", nil
	}
	clauses := make([]string, 0, len(filters))
	for _, f := range filters {
		if !validIdentifier(f.Column) {
			return "", fmt.Errorf("invalid filter column %q", f.Column)
		}
		op, err := ParseOperator(string(f.Operator))
		if err != nil {
			return "", err
		}
		col := b.column(src, f.Column)
		switch op {
		case OpIn, OpNotIn:
			clauses = append(clauses, fmt.Sprintf("%s %s (%s)", col, op, f.Value))
		case OpIsNull, OpIsNotNull:
			clauses = append(clauses, fmt.Sprintf("%s %s", col, op))
		default:
			clauses = append(clauses, fmt.Sprintf("%s %s '%s'", col, op, sanitize(f.Value)))
		}
	}
	return strings.Join(clauses, " AND "), nil
}
