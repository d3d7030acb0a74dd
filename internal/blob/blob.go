// Package blob stores job artifacts: checkpoint blobs, NDJSON output
// batches, seed data, and exports.
package blob

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("blob: not found")

type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte, contentType string) error
	// List returns the object keys under prefix, in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)
}
