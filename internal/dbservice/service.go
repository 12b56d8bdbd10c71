package dbservice

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
)

// Service is the contract of a remote SQL database service: it manages
// named databases and runs batches of SQL text against them. Retries,
// pooling and authentication are the implementation's concern.
type Service interface {
	// ListDatabases returns every database known to the service.
	ListDatabases(ctx context.Context) ([]Database, error)

	// CreateDatabase asks the service to create a database. Creation may be
	// asynchronous; callers poll ListDatabases for a ready status.
	CreateDatabase(ctx context.Context, name string) error

	// ListTables returns the table names present in the database.
	ListTables(ctx context.Context, db string) ([]string, error)

	// Execute runs the statements as one batch. A batch is all-or-nothing
	// from the caller's perspective.
	Execute(ctx context.Context, db string, statements []string) error

	// Query runs read statements and returns one result per statement.
	Query(ctx context.Context, db string, statements []string) ([]QueryResult, error)
}

// Database describes one database of the service.
type Database struct {
	ID     string
	Name   string
	Status string
}

// Ready reports whether the service considers the database usable.
// An empty status is treated as ready for services that don't report one.
func (d Database) Ready() bool {
	switch d.Status {
	case "", "ready", "created", "active":
		return true
	}
	return false
}

// QueryResult is the tabular result of one statement.
type QueryResult struct {
	Columns []string
	Rows    [][]any
}

// Column returns the index of the named column, or -1.
func (r QueryResult) Column(name string) int {
	for i, c := range r.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// AsString converts a scanned or JSON-decoded value to its text form.
func AsString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []byte:
		return string(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case int:
		return strconv.Itoa(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case json.Number:
		return val.String()
	default:
		return fmt.Sprintf("%v", val)
	}
}

// AsFloat converts a scanned or JSON-decoded numeric value to float64.
func AsFloat(v any) (float64, error) {
	switch val := v.(type) {
	case nil:
		return 0, nil
	case float64:
		return val, nil
	case float32:
		return float64(val), nil
	case int64:
		return float64(val), nil
	case int:
		return float64(val), nil
	case json.Number:
		return val.Float64()
	case string:
		return strconv.ParseFloat(val, 64)
	case []byte:
		return strconv.ParseFloat(string(val), 64)
	default:
		return 0, fmt.Errorf("unsupported numeric value of type %T", v)
	}
}
