// Package oracle defines the text-completion collaborator used for scoring,
// question generation and scripted agents.
package oracle

import (
	"context"
	"errors"
)

// ErrEmptyResponse is returned when the backend produced no text.
var ErrEmptyResponse = errors.New("oracle returned no choices")

// Request is one completion call.
type Request struct {
	System string
	User   string
	// Seed varies sampling between retries. Zero leaves it to the backend.
	Seed int
}

// Oracle turns a system instruction and payload into free text.
type Oracle interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Func adapts a function to Oracle.
type Func func(ctx context.Context, req Request) (string, error)

// Complete calls f.
func (f Func) Complete(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}
