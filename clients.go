package ragserve

import (
	"context"

	"github.com/hupe1980/ragserve/model"
	"github.com/hupe1980/ragserve/stream"
)

// VectorIndex is one shard of the vector index backend. Implementations own
// embedding storage and similarity search; the service never inspects index
// internals.
type VectorIndex interface {
	// Search returns up to k documents ranked by similarity to the query
	// vector, restricted to documents matching the filter.
	Search(ctx context.Context, vector []float32, k int, filter model.Filter) ([]model.ScoredDocument, error)

	// Upsert stores documents and their vectors. vectors[i] belongs to
	// docs[i]; an existing ID is overwritten.
	Upsert(ctx context.Context, docs []model.Document, vectors [][]float32) error

	// Delete removes documents by ID. Unknown IDs are ignored.
	Delete(ctx context.Context, ids []string) error
}

// Embedder turns text into vectors.
type Embedder interface {
	// Embed returns one vector per input text, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// TokenStream delivers generated answer fragments in order.
// Recv returns io.EOF after the last fragment.
type TokenStream = stream.TokenStream

// Generator produces answers from a prompt assembled out of the query and
// retrieved context.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	GenerateStream(ctx context.Context, prompt string) (TokenStream, error)
}
