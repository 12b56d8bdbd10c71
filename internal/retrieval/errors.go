package retrieval

import (
	"errors"
	"fmt"
)

// ErrInvalidSearch marks searches rejected before reaching the database:
// unknown operators, invalid filter columns or metadata items.
var ErrInvalidSearch = errors.New("invalid search options")

// SetupError reports a failed provisioning step.
type SetupError struct {
	Step string // config, database, readiness, tables, dimension or schema
	Err  error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("setup %s: %v", e.Step, e.Err)
}

func (e *SetupError) Unwrap() error { return e.Err }

// WriteError reports the first chunk that failed to execute. Chunks after
// it were not attempted; chunks before it were committed.
type WriteError struct {
	Chunk int // zero-based index of the failed chunk
	Total int
	Err   error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("writing chunk %d of %d: %v", e.Chunk+1, e.Total, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// SearchError is returned by searches when the store runs with
// StrictSearchErrors.
type SearchError struct {
	Kind string // a search type tag
	Err  error
}

func (e *SearchError) Error() string {
	return fmt.Sprintf("%s search: %v", e.Kind, e.Err)
}

func (e *SearchError) Unwrap() error { return e.Err }
