package service

import (
	"context"
	"fmt"

	"github.com/cloo-solutions/recall/internal/domain"
	"github.com/cloo-solutions/recall/internal/storage"
)

// SourceRemover deletes the records of one source
type SourceRemover interface {
	RemoveSource(ctx context.Context, ownerScope string, sourceType domain.SourceType, sourceID string) (int64, error)
}

// SourceService removes a source everywhere it is kept: its embedding
// records and, for uploaded files, the stored document.
type SourceService struct {
	records SourceRemover
	storage ObjectStore
}

// NewSourceService creates a new SourceService. storage may be nil.
func NewSourceService(records SourceRemover, storage ObjectStore) *SourceService {
	return &SourceService{records: records, storage: storage}
}

// RemoveSource returns the number of deleted records. Unknown sources are not an error.
func (s *SourceService) RemoveSource(ctx context.Context, ownerScope string, sourceType domain.SourceType, sourceID string) (int64, error) {
	n, err := s.records.RemoveSource(ctx, ownerScope, sourceType, sourceID)
	if err != nil {
		return 0, err
	}

	if sourceType == domain.SourceTypeFile && s.storage != nil {
		key := storage.ObjectKey(ownerScope, sourceType, sourceID)
		if err := s.storage.DeleteObject(ctx, key); err != nil {
			return n, fmt.Errorf("failed to delete source object: %w", err)
		}
	}

	return n, nil
}
