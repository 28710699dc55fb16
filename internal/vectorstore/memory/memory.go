// Package memory is an in-process vector store with brute-force cosine search.
// It backs tests and the dev server when no database is configured.
package memory

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/cloo-solutions/recall/internal/domain"
	"github.com/segmentio/ksuid"
)

type entry struct {
	record domain.EmbeddingRecord
	norm   float64
	seq    uint64
}

// Store keeps records partitioned by owner scope. A query only ever scans the
// partition of the scope it was issued under.
type Store struct {
	mu         sync.RWMutex
	dimensions int
	now        func() time.Time
	seq        uint64
	scopes     map[string][]entry
}

// Option configures a Store
type Option func(*Store)

// WithClock overrides the creation timestamp source
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates a store for vectors of the given width
func NewStore(dimensions int, opts ...Option) *Store {
	s := &Store{
		dimensions: dimensions,
		now:        time.Now,
		scopes:     make(map[string][]entry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Put appends a new record
func (s *Store) Put(ctx context.Context, ownerScope string, chunk domain.Chunk, vector []float32) (*domain.EmbeddingRecord, error) {
	if err := domain.ValidateScope(ownerScope); err != nil {
		return nil, err
	}
	if err := domain.ValidateChunk(chunk); err != nil {
		return nil, err
	}
	if err := domain.ValidateVector(vector, s.dimensions); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rec := domain.EmbeddingRecord{
		ID:         ksuid.New().String(),
		OwnerScope: ownerScope,
		Chunk:      chunk,
		Vector:     append([]float32(nil), vector...),
		CreatedAt:  s.now().UTC(),
	}

	s.mu.Lock()
	s.seq++
	s.scopes[ownerScope] = append(s.scopes[ownerScope], entry{record: rec, norm: norm(vector), seq: s.seq})
	s.mu.Unlock()

	out := rec
	out.Vector = append([]float32(nil), rec.Vector...)
	return &out, nil
}

// Query returns up to k records of ownerScope with similarity >= minSimilarity,
// most similar first, older records first on ties.
func (s *Store) Query(ctx context.Context, ownerScope string, vector []float32, k int, minSimilarity float64) ([]domain.RetrievalResult, error) {
	if err := domain.ValidateScope(ownerScope); err != nil {
		return nil, err
	}
	if err := domain.ValidateQuery(k, minSimilarity); err != nil {
		return nil, err
	}
	if err := domain.ValidateVector(vector, s.dimensions); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	qnorm := norm(vector)

	type hit struct {
		e   *entry
		sim float64
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.scopes[ownerScope]
	hits := make([]hit, 0, len(entries))
	for i := range entries {
		e := &entries[i]
		sim := dot(e.record.Vector, vector) / (e.norm * qnorm)
		if sim >= minSimilarity {
			hits = append(hits, hit{e: e, sim: sim})
		}
	}

	sort.Slice(hits, func(i, j int) bool {
		a, b := hits[i], hits[j]
		if a.sim != b.sim {
			return a.sim > b.sim
		}
		if !a.e.record.CreatedAt.Equal(b.e.record.CreatedAt) {
			return a.e.record.CreatedAt.Before(b.e.record.CreatedAt)
		}
		return a.e.seq < b.e.seq
	})

	if len(hits) > k {
		hits = hits[:k]
	}

	results := make([]domain.RetrievalResult, 0, len(hits))
	for _, h := range hits {
		c := h.e.record.Chunk
		results = append(results, domain.RetrievalResult{
			SourceType: c.SourceType,
			SourceID:   c.SourceID,
			Ordinal:    c.Ordinal,
			Text:       c.Text,
			Similarity: h.sim,
		})
	}
	return results, nil
}

// DeleteBySource removes every record of one source within ownerScope
func (s *Store) DeleteBySource(ctx context.Context, ownerScope string, sourceType domain.SourceType, sourceID string) (int64, error) {
	if err := domain.ValidateScope(ownerScope); err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.scopes[ownerScope]
	kept := entries[:0]
	var deleted int64
	for _, e := range entries {
		if e.record.Chunk.SourceType == sourceType && e.record.Chunk.SourceID == sourceID {
			deleted++
			continue
		}
		kept = append(kept, e)
	}
	if len(kept) == 0 {
		delete(s.scopes, ownerScope)
	} else {
		s.scopes[ownerScope] = kept
	}
	return deleted, nil
}

// Count returns the number of records stored under ownerScope
func (s *Store) Count(ownerScope string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.scopes[ownerScope])
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func norm(v []float32) float64 {
	return math.Sqrt(dot(v, v))
}
