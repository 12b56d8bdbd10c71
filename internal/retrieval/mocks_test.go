package retrieval

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"unicode"

	"github.com/kalambet/edgevec/internal/dbservice"
)

// mockService records calls and answers from in-memory state.
type mockService struct {
	mu sync.Mutex

	databases []dbservice.Database
	tables    []string

	// pendingPolls is how many ListDatabases calls report a newly created
	// database as "creating" before it turns ready.
	pendingPolls int

	created   []string
	listCalls int
	executed  [][]string
	queried   [][]string

	executeFn func(stmts []string) error
	queryFn   func(stmts []string) ([]dbservice.QueryResult, error)
}

func (m *mockService) ListDatabases(_ context.Context) ([]dbservice.Database, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listCalls++
	out := make([]dbservice.Database, len(m.databases))
	for i, db := range m.databases {
		if db.Status == "creating" {
			if m.pendingPolls > 0 {
				m.pendingPolls--
			} else {
				m.databases[i].Status = "ready"
				db.Status = "ready"
			}
		}
		out[i] = db
	}
	return out, nil
}

func (m *mockService) CreateDatabase(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.created = append(m.created, name)
	m.databases = append(m.databases, dbservice.Database{ID: name, Name: name, Status: "creating"})
	return nil
}

func (m *mockService) ListTables(_ context.Context, _ string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.tables...), nil
}

func (m *mockService) Execute(_ context.Context, _ string, stmts []string) error {
	m.mu.Lock()
	m.executed = append(m.executed, stmts)
	fn := m.executeFn
	m.mu.Unlock()
	if fn != nil {
		return fn(stmts)
	}
	return nil
}

func (m *mockService) Query(_ context.Context, _ string, stmts []string) ([]dbservice.QueryResult, error) {
	m.mu.Lock()
	m.queried = append(m.queried, stmts)
	fn := m.queryFn
	m.mu.Unlock()
	if fn != nil {
		return fn(stmts)
	}
	return []dbservice.QueryResult{{Columns: []string{"id", "content", "metadata", "score"}}}, nil
}

// bagOfWords embeds text by hashing lower-cased words into dim buckets, so
// texts sharing words are close under cosine similarity.
type bagOfWords struct {
	dim int

	mu         sync.Mutex
	queryCalls int
	docCalls   int
	err        error
}

func (b *bagOfWords) vector(text string) []float32 {
	v := make([]float32, b.dim)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		h := fnv.New32a()
		h.Write([]byte(w))
		v[h.Sum32()%uint32(b.dim)]++
	}
	var norm float64
	for _, f := range v {
		norm += float64(f * f)
	}
	if norm == 0 {
		v[0] = 1
		return v
	}
	for i := range v {
		v[i] = float32(float64(v[i]) / math.Sqrt(norm))
	}
	return v
}

func (b *bagOfWords) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	b.mu.Lock()
	b.docCalls++
	b.mu.Unlock()
	if b.err != nil {
		return nil, b.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = b.vector(t)
	}
	return out, nil
}

func (b *bagOfWords) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	b.mu.Lock()
	b.queryCalls++
	b.mu.Unlock()
	if b.err != nil {
		return nil, b.err
	}
	return b.vector(text), nil
}
