// Package testutil provides deterministic fake collaborators for tests:
// an in-memory vector index, a counting embedder, and a scripted generator.
package testutil

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/ragserve/model"
	"github.com/hupe1980/ragserve/stream"
)

// FakeIndex is an in-memory vector index shard. Scores are the dot product
// of the stored and query vectors, so tests control ranking by choosing
// vectors.
type FakeIndex struct {
	mu   sync.RWMutex
	docs map[string]storedDoc

	// SearchErr, when set, fails every search.
	SearchErr error

	// SearchDelay artificially slows every search.
	SearchDelay time.Duration

	SearchCalls atomic.Int64
}

type storedDoc struct {
	doc    model.Document
	vector []float32
}

// NewFakeIndex creates an empty shard.
func NewFakeIndex() *FakeIndex {
	return &FakeIndex{docs: make(map[string]storedDoc)}
}

// Search implements the vector index contract.
func (f *FakeIndex) Search(ctx context.Context, vector []float32, k int, filter model.Filter) ([]model.ScoredDocument, error) {
	f.SearchCalls.Add(1)

	if f.SearchDelay > 0 {
		select {
		case <-time.After(f.SearchDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.SearchErr != nil {
		return nil, f.SearchErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	var results []model.ScoredDocument
	for _, stored := range f.docs {
		if !matches(stored.doc, filter) {
			continue
		}
		results = append(results, model.ScoredDocument{
			Document: stored.doc,
			Score:    dot(vector, stored.vector),
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// Upsert implements the vector index contract.
func (f *FakeIndex) Upsert(_ context.Context, docs []model.Document, vectors [][]float32) error {
	if len(docs) != len(vectors) {
		return fmt.Errorf("got %d docs but %d vectors", len(docs), len(vectors))
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	for i, doc := range docs {
		f.docs[doc.ID] = storedDoc{doc: doc, vector: vectors[i]}
	}
	return nil
}

// Delete implements the vector index contract.
func (f *FakeIndex) Delete(_ context.Context, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, id := range ids {
		delete(f.docs, id)
	}
	return nil
}

// Len returns the stored document count.
func (f *FakeIndex) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.docs)
}

func matches(doc model.Document, filter model.Filter) bool {
	for key, values := range filter {
		got, ok := doc.Metadata[key]
		if !ok {
			return false
		}
		found := false
		for _, v := range values {
			if got == v {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func dot(a, b []float32) float32 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float32
	for i := 0; i < n; i++ {
		sum += a[i] * b[i]
	}
	return sum
}

// FakeEmbedder derives a deterministic vector from each text's hash and
// counts calls, so tests can assert the cache short-circuited embedding.
type FakeEmbedder struct {
	// Dim is the vector dimension (default 8).
	Dim int

	// Err, when set, fails every call.
	Err error

	Calls atomic.Int64
}

// Embed implements the embedding contract.
func (f *FakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.Calls.Add(1)
	if f.Err != nil {
		return nil, f.Err
	}

	dim := f.Dim
	if dim <= 0 {
		dim = 8
	}

	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = Vector(text, dim)
	}
	return vectors, nil
}

// Vector derives a deterministic unit-scale vector from a seed string.
func Vector(seed string, dim int) []float32 {
	h := fnv.New64a()
	h.Write([]byte(seed))
	state := h.Sum64()

	v := make([]float32, dim)
	for i := range v {
		// xorshift keeps components spread without math/rand state.
		state ^= state << 13
		state ^= state >> 7
		state ^= state << 17
		v[i] = float32(state%1000) / 1000
	}
	return v
}

// FakeGenerator returns a fixed answer, optionally split into fragments
// for streaming.
type FakeGenerator struct {
	Answer    string
	Fragments []string

	// Err fails Generate; StreamErr fails GenerateStream at open.
	Err       error
	StreamErr error

	Calls       atomic.Int64
	StreamCalls atomic.Int64
}

// Generate implements the generation contract.
func (f *FakeGenerator) Generate(ctx context.Context, _ string) (string, error) {
	f.Calls.Add(1)
	if f.Err != nil {
		return "", f.Err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return f.Answer, nil
}

// GenerateStream implements the generation contract.
func (f *FakeGenerator) GenerateStream(_ context.Context, _ string) (stream.TokenStream, error) {
	f.StreamCalls.Add(1)
	if f.StreamErr != nil {
		return nil, f.StreamErr
	}

	fragments := f.Fragments
	if fragments == nil && f.Answer != "" {
		fragments = []string{f.Answer}
	}
	return &FakeTokenStream{fragments: fragments}, nil
}

// FakeTokenStream replays scripted fragments.
type FakeTokenStream struct {
	mu        sync.Mutex
	fragments []string
	pos       int
	closed    bool

	// FailAfter injects an error after that many fragments (0 disables).
	FailAfter int

	// Delay slows each Recv.
	Delay time.Duration
}

// Recv returns the next fragment or io.EOF.
func (f *FakeTokenStream) Recv() (string, error) {
	if f.Delay > 0 {
		time.Sleep(f.Delay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return "", errors.New("stream closed")
	}
	if f.FailAfter > 0 && f.pos >= f.FailAfter {
		return "", errors.New("generation interrupted")
	}
	if f.pos >= len(f.fragments) {
		return "", io.EOF
	}

	fragment := f.fragments[f.pos]
	f.pos++
	return fragment, nil
}

// Close implements the stream contract.
func (f *FakeTokenStream) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// Closed reports whether Close was called.
func (f *FakeTokenStream) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Documents builds n documents with IDs doc-0..doc-n-1, cycling through the
// given metadata categories.
func Documents(n int, categories ...string) []model.Document {
	docs := make([]model.Document, n)
	for i := range docs {
		docs[i] = model.Document{
			ID:      fmt.Sprintf("doc-%03d", i),
			Content: fmt.Sprintf("document body %d", i),
		}
		if len(categories) > 0 {
			docs[i].Metadata = map[string]string{
				"category": categories[i%len(categories)],
			}
		}
	}
	return docs
}
