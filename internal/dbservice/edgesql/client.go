// Package edgesql is a dbservice.Service backed by the edge SQL REST API.
package edgesql

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/edgevec/internal/dbservice"
)

const (
	DefaultBaseURL = "https://api.azion.com/v4/edge_sql"
	defaultTimeout = 60 * time.Second
	maxRetries     = 3
	initialBackoff = 500 * time.Millisecond
)

// ErrDatabaseNotFound is returned when a database name cannot be resolved.
var ErrDatabaseNotFound = errors.New("database not found")

var _ dbservice.Service = (*Client)(nil)

// Client talks to the edge SQL API. Database names are resolved to ids on
// first use and cached for the client's lifetime.
type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger

	mu  sync.Mutex
	ids map[string]string
}

// New creates a client for the default API endpoint.
func New(token string) *Client {
	return &Client{
		token:   token,
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
		logger: slog.Default(),
		ids:    make(map[string]string),
	}
}

// NewWithBaseURL creates a client pointing at a custom base URL.
func NewWithBaseURL(token, baseURL string) *Client {
	c := New(token)
	if baseURL != "" {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
	return c
}

// StatusError is returned for any non-2xx response.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Status, e.Body)
}

func isRateLimit(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Status == http.StatusTooManyRequests
}

type databaseEntry struct {
	ID     any    `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

type databasesResponse struct {
	Results []databaseEntry `json:"results"`
}

type createRequest struct {
	Name string `json:"name"`
}

type queryRequest struct {
	Statements []string `json:"statements"`
}

type queryResponse struct {
	Data []struct {
		Results struct {
			Columns []string `json:"columns"`
			Rows    [][]any  `json:"rows"`
		} `json:"results"`
		Error string `json:"error"`
	} `json:"data"`
}

// ListDatabases returns every database visible to the token.
func (c *Client) ListDatabases(ctx context.Context) ([]dbservice.Database, error) {
	var resp databasesResponse
	if err := c.do(ctx, http.MethodGet, "/databases", nil, &resp); err != nil {
		return nil, fmt.Errorf("listing databases: %w", err)
	}

	dbs := make([]dbservice.Database, len(resp.Results))
	c.mu.Lock()
	for i, r := range resp.Results {
		id := dbservice.AsString(r.ID)
		dbs[i] = dbservice.Database{ID: id, Name: r.Name, Status: strings.ToLower(r.Status)}
		c.ids[r.Name] = id
	}
	c.mu.Unlock()
	return dbs, nil
}

// CreateDatabase requests creation. The API creates databases
// asynchronously; poll ListDatabases for readiness.
func (c *Client) CreateDatabase(ctx context.Context, name string) error {
	if err := c.do(ctx, http.MethodPost, "/databases", createRequest{Name: name}, nil); err != nil {
		return fmt.Errorf("creating database %s: %w", name, err)
	}
	return nil
}

// ListTables returns the user tables, including virtual tables.
func (c *Client) ListTables(ctx context.Context, db string) ([]string, error) {
	results, err := c.Query(ctx, db, []string{"PRAGMA table_list"})
	if err != nil {
		return nil, fmt.Errorf("listing tables: %w", err)
	}
	if len(results) == 0 {
		return nil, nil
	}

	res := results[0]
	nameCol, schemaCol := res.Column("name"), res.Column("schema")
	if nameCol < 0 {
		return nil, fmt.Errorf("listing tables: no name column in %v", res.Columns)
	}

	var tables []string
	for _, row := range res.Rows {
		if schemaCol >= 0 && dbservice.AsString(row[schemaCol]) != "main" {
			continue
		}
		name := dbservice.AsString(row[nameCol])
		if strings.HasPrefix(name, "sqlite_") {
			continue
		}
		tables = append(tables, name)
	}
	return tables, nil
}

// Execute runs the statements as one request.
func (c *Client) Execute(ctx context.Context, db string, statements []string) error {
	if _, err := c.Query(ctx, db, statements); err != nil {
		return err
	}
	return nil
}

// Query runs the statements and returns one result per statement. A
// statement-level error reported by the API fails the whole call.
func (c *Client) Query(ctx context.Context, db string, statements []string) ([]dbservice.QueryResult, error) {
	id, err := c.resolve(ctx, db)
	if err != nil {
		return nil, err
	}

	var resp queryResponse
	if err := c.do(ctx, http.MethodPost, "/databases/"+id+"/query", queryRequest{Statements: statements}, &resp); err != nil {
		return nil, fmt.Errorf("querying %s: %w", db, err)
	}

	results := make([]dbservice.QueryResult, len(resp.Data))
	for i, d := range resp.Data {
		if d.Error != "" {
			return nil, fmt.Errorf("statement %d: %s", i, d.Error)
		}
		results[i] = dbservice.QueryResult{Columns: d.Results.Columns, Rows: d.Results.Rows}
	}
	return results, nil
}

// resolve maps a database name to its id, refreshing the cache on a miss.
func (c *Client) resolve(ctx context.Context, name string) (string, error) {
	c.mu.Lock()
	id, ok := c.ids[name]
	c.mu.Unlock()
	if ok {
		return id, nil
	}

	if _, err := c.ListDatabases(ctx); err != nil {
		return "", err
	}

	c.mu.Lock()
	id, ok = c.ids[name]
	c.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrDatabaseNotFound, name)
	}
	return id, nil
}

// do sends one API call, retrying with exponential backoff on HTTP 429.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body []byte
	if in != nil {
		var err error
		body, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
	}

	var lastErr error
	for attempt := range maxRetries {
		err := c.doOnce(ctx, method, path, body, out)
		if err == nil {
			return nil
		}
		if !isRateLimit(err) {
			return err
		}

		lastErr = err
		if attempt < maxRetries-1 {
			backoff := time.Duration(float64(initialBackoff) * math.Pow(2, float64(attempt)))
			c.logger.Debug("edge sql rate limited, backing off", "path", path, "backoff", backoff)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
	}

	return fmt.Errorf("rate limited after %d retries: %w", maxRetries, lastErr)
}

func (c *Client) doOnce(ctx context.Context, method, path string, body []byte, out any) error {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Token "+c.token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-Id", uuid.NewString())
	if req.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
}
