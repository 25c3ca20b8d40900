package db

import (
	"errors"
	"fmt"
)

// ErrConnectionNotFound indicates no live catalog connection is registered
// for the requested session key. Surfaced before any query is attempted.
var ErrConnectionNotFound = errors.New("db: no live connection for session")

// QueryError wraps a failed catalog read. A query failure aborts the whole
// build; no partial tree is ever returned.
type QueryError struct {
	Query string
	Err   error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("db: catalog query failed: %v", e.Err)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}
