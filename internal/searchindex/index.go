// Package searchindex defines the search index the pipeline writes to and the
// lexical retrieval source reads from.
package searchindex

import (
	"context"
	"errors"
)

// ErrIndexNotFound is returned when an operation targets a missing index.
var ErrIndexNotFound = errors.New("index not found")

// OpType is the kind of index write.
type OpType int

const (
	OpUpsert OpType = iota
	OpDelete
)

func (t OpType) String() string {
	if t == OpDelete {
		return "delete"
	}
	return "upsert"
}

// Op is one document write. Doc is ignored for deletes.
type Op struct {
	Type OpType
	ID   string
	Doc  map[string]any
}

// Query is a lexical search over one or more indexes.
type Query struct {
	Indexes []string
	Text    string
	// Filters are exact-match constraints on document fields.
	Filters map[string]any
	Size    int
}

// Hit is one matched document.
type Hit struct {
	Index     string
	ID        string
	Score     float64
	Fields    map[string]any
	Fragments map[string][]string
}

// Index is the search index contract.
type Index interface {
	// Bulk applies ops to index in order, creating the index on first use.
	Bulk(ctx context.Context, index string, ops []Op) error

	// Delete removes one document. Deleting a missing document is not an error.
	Delete(ctx context.Context, index, id string) error

	// DeleteAll removes every document of index. It returns ErrIndexNotFound
	// if the index does not exist.
	DeleteAll(ctx context.Context, index string) error

	// IDs lists every document id of index.
	IDs(ctx context.Context, index string) ([]string, error)

	// Search runs q. Missing indexes are skipped.
	Search(ctx context.Context, q Query) ([]Hit, error)

	Close() error
}
