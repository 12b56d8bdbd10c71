// Package sqlite implements dbservice.Service on top of local SQLite files.
// It understands the same vector SQL the edge service does, except the
// vector_top_k table function, so stores using it must disable the vector
// index path.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/kalambet/edgevec/internal/dbservice"
)

// Compile-time check that Service implements dbservice.Service.
var _ dbservice.Service = (*Service)(nil)

// ErrDatabaseNotFound is returned when a database has not been created.
var ErrDatabaseNotFound = errors.New("database not found")

var validName = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Service keeps one *sql.DB per database name. With dir set to ":memory:"
// databases live only as long as the Service.
type Service struct {
	dir string

	mu  sync.Mutex
	dbs map[string]*sql.DB
}

// Open returns a Service storing databases as <dir>/<name>.db.
// Pass ":memory:" for in-memory databases (used by tests).
func Open(dir string) (*Service, error) {
	if err := registerFunctions(); err != nil {
		return nil, fmt.Errorf("registering vector functions: %w", err)
	}
	if dir != ":memory:" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}
	return &Service{dir: dir, dbs: make(map[string]*sql.DB)}, nil
}

// Close closes every open database.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for name, db := range s.dbs {
		if err := db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %s: %w", name, err))
		}
		delete(s.dbs, name)
	}
	return errors.Join(errs...)
}

func (s *Service) inMemory() bool { return s.dir == ":memory:" }

func (s *Service) path(name string) string {
	return filepath.Join(s.dir, name+".db")
}

// handle returns the open database, opening it first when needed. Unless
// create is set, a database that was never created is an error.
func (s *Service) handle(name string, create bool) (*sql.DB, error) {
	if !validName.MatchString(name) {
		return nil, fmt.Errorf("invalid database name %q", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if db, ok := s.dbs[name]; ok {
		return db, nil
	}

	dsn := ":memory:"
	if !s.inMemory() {
		dsn = s.path(name)
		if !create {
			if _, err := os.Stat(dsn); errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("%w: %s", ErrDatabaseNotFound, name)
			}
		}
	} else if !create {
		return nil, fmt.Errorf("%w: %s", ErrDatabaseNotFound, name)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors and to
	// keep in-memory databases alive.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if !s.inMemory() {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting journal mode: %w", err)
		}
	}

	s.dbs[name] = db
	return db, nil
}

// ListDatabases returns all created databases. Local databases are ready as
// soon as they exist.
func (s *Service) ListDatabases(ctx context.Context) ([]dbservice.Database, error) {
	names := make(map[string]struct{})

	s.mu.Lock()
	for name := range s.dbs {
		names[name] = struct{}{}
	}
	s.mu.Unlock()

	if !s.inMemory() {
		matches, err := filepath.Glob(filepath.Join(s.dir, "*.db"))
		if err != nil {
			return nil, fmt.Errorf("listing databases: %w", err)
		}
		for _, m := range matches {
			names[strings.TrimSuffix(filepath.Base(m), ".db")] = struct{}{}
		}
	}

	dbs := make([]dbservice.Database, 0, len(names))
	for name := range names {
		dbs = append(dbs, dbservice.Database{ID: name, Name: name, Status: "ready"})
	}
	sort.Slice(dbs, func(i, j int) bool { return dbs[i].Name < dbs[j].Name })
	return dbs, nil
}

// CreateDatabase creates the database file. Creating an existing database
// is a no-op.
func (s *Service) CreateDatabase(ctx context.Context, name string) error {
	db, err := s.handle(name, true)
	if err != nil {
		return err
	}
	// Force the file header to be written.
	if _, err := db.ExecContext(ctx, "PRAGMA user_version = 1"); err != nil {
		return fmt.Errorf("initializing database %s: %w", name, err)
	}
	return nil
}

// ListTables returns the names of all regular and virtual tables.
func (s *Service) ListTables(ctx context.Context, name string) ([]string, error) {
	db, err := s.handle(name, false)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `SELECT name FROM sqlite_master WHERE type = 'table' ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("listing tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("scanning table name: %w", err)
		}
		tables = append(tables, t)
	}
	return tables, rows.Err()
}

// Execute runs the statements in one transaction.
func (s *Service) Execute(ctx context.Context, name string, statements []string) error {
	db, err := s.handle(name, false)
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	for i, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			tx.Rollback()
			return fmt.Errorf("executing statement %d: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing batch: %w", err)
	}
	return nil
}

// Query runs each statement and collects its full result set.
func (s *Service) Query(ctx context.Context, name string, statements []string) ([]dbservice.QueryResult, error) {
	db, err := s.handle(name, false)
	if err != nil {
		return nil, err
	}

	results := make([]dbservice.QueryResult, 0, len(statements))
	for i, stmt := range statements {
		res, err := queryOne(ctx, db, stmt)
		if err != nil {
			return nil, fmt.Errorf("querying statement %d: %w", i, err)
		}
		results = append(results, res)
	}
	return results, nil
}

func queryOne(ctx context.Context, db *sql.DB, stmt string) (dbservice.QueryResult, error) {
	rows, err := db.QueryContext(ctx, stmt)
	if err != nil {
		return dbservice.QueryResult{}, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return dbservice.QueryResult{}, err
	}

	res := dbservice.QueryResult{Columns: cols}
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return dbservice.QueryResult{}, fmt.Errorf("scanning row: %w", err)
		}
		res.Rows = append(res.Rows, values)
	}
	return res, rows.Err()
}
