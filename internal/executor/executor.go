// Package executor runs agent queries against a log database.
package executor

import (
	"context"
	"fmt"
	"strings"
)

// ErrorKind classifies a failed query.
type ErrorKind string

const (
	// ErrorKindQuery is a malformed or failing query. It is reported to the
	// agent and the episode continues.
	ErrorKindQuery ErrorKind = "query"
	// ErrorKindBackend is a transport or connection failure.
	ErrorKindBackend ErrorKind = "backend"
)

// Error describes why a query produced no rows.
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s error: %s", e.Kind, e.Message)
}

// Result is either rows or an error, never both.
type Result struct {
	Columns []string
	Rows    [][]string
	Err     *Error
}

// OK reports whether the query succeeded.
func (r Result) OK() bool {
	return r.Err == nil
}

// Rows builds a successful result.
func Rows(columns []string, rows [][]string) Result {
	return Result{Columns: columns, Rows: rows}
}

// Failed builds an error result.
func Failed(kind ErrorKind, format string, args ...interface{}) Result {
	return Result{Err: &Error{Kind: kind, Message: strings.TrimSpace(fmt.Sprintf(format, args...))}}
}

// Executor runs one query. Implementations report failures in the Result
// rather than as Go errors.
type Executor interface {
	Execute(ctx context.Context, query string) Result
}
