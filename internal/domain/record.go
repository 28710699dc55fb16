package domain

import (
	"fmt"
	"math"
	"time"
)

// DefaultEmbeddingDimensions is the vector width of text-embedding-ada-002
const DefaultEmbeddingDimensions = 1536

// Chunk is a contiguous slice of a source document
type Chunk struct {
	SourceID   string
	SourceType SourceType
	Ordinal    int
	Text       string
}

// EmbeddingRecord is the persisted vector for one chunk. Records are never mutated.
type EmbeddingRecord struct {
	ID         string
	OwnerScope string
	Chunk      Chunk
	Vector     []float32
	CreatedAt  time.Time
}

// RetrievalResult is one ranked hit returned by a similarity query
type RetrievalResult struct {
	SourceType SourceType `json:"source_type"`
	SourceID   string     `json:"source_id"`
	Ordinal    int        `json:"ordinal"`
	Text       string     `json:"text"`
	Similarity float64    `json:"similarity"`
}

// ValidateChunk validates a Chunk instance
func ValidateChunk(c Chunk) error {
	if !c.SourceType.IsValid() {
		return ErrInvalidSourceType
	}
	if c.SourceID == "" {
		return ErrMissingSourceID
	}
	if c.Ordinal < 0 {
		return NewDomainError(ErrCodeValidation, fmt.Sprintf("chunk ordinal cannot be negative: %d", c.Ordinal))
	}
	return nil
}

// ValidateVector checks the vector width and rejects the zero vector and
// vectors holding NaN or an infinity.
func ValidateVector(vec []float32, dimensions int) error {
	if len(vec) != dimensions {
		return ErrInvalidDimension.WithCause(fmt.Errorf("got %d, want %d", len(vec), dimensions))
	}
	nonZero := false
	for i, v := range vec {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return ErrInvalidDimension.WithCause(fmt.Errorf("component %d is %v", i, v))
		}
		if v != 0 {
			nonZero = true
		}
	}
	if !nonZero {
		return ErrZeroVector
	}
	return nil
}

// ValidateQuery checks the k and minimum similarity bounds of a query
func ValidateQuery(k int, minSimilarity float64) error {
	if k <= 0 {
		return ErrInvalidLimit
	}
	if minSimilarity < -1 || minSimilarity > 1 {
		return ErrInvalidMinSimilarity
	}
	return nil
}
