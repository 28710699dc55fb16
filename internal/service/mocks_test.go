package service

import (
	"context"
	"io"

	"github.com/cloo-solutions/recall/internal/domain"
	"github.com/cloo-solutions/recall/internal/pagination"
	"github.com/cloo-solutions/recall/internal/storage"
	"github.com/stretchr/testify/mock"
)

// MockUUIDGenerator returns the given ids in order, then "default-uuid"
type MockUUIDGenerator struct {
	callCount int
	uuids     []string
}

func NewMockUUIDGenerator(uuids ...string) *MockUUIDGenerator {
	return &MockUUIDGenerator{uuids: uuids}
}

func (m *MockUUIDGenerator) NewString() string {
	if m.callCount < len(m.uuids) {
		uuid := m.uuids[m.callCount]
		m.callCount++
		return uuid
	}
	return "default-uuid"
}

type MockAPIKeyRepository struct {
	mock.Mock
}

func (m *MockAPIKeyRepository) Create(ctx context.Context, key *domain.APIKey) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

func (m *MockAPIKeyRepository) GetByHash(ctx context.Context, hash string) (*domain.APIKey, error) {
	args := m.Called(ctx, hash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.APIKey), args.Error(1)
}

func (m *MockAPIKeyRepository) ListByScope(ctx context.Context, ownerScope string) ([]*domain.APIKey, error) {
	args := m.Called(ctx, ownerScope)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.APIKey), args.Error(1)
}

func (m *MockAPIKeyRepository) Revoke(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

type MockIngestJobRepository struct {
	mock.Mock
}

func (m *MockIngestJobRepository) Create(ctx context.Context, job *domain.IngestJob) error {
	args := m.Called(ctx, job)
	return args.Error(0)
}

func (m *MockIngestJobRepository) GetByID(ctx context.Context, ownerScope, id string) (*domain.IngestJob, error) {
	args := m.Called(ctx, ownerScope, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.IngestJob), args.Error(1)
}

func (m *MockIngestJobRepository) ListByScopeWithCursor(ctx context.Context, ownerScope string, cursor *pagination.Cursor, limit int) (*pagination.PageResult[*domain.IngestJob], error) {
	args := m.Called(ctx, ownerScope, cursor, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*pagination.PageResult[*domain.IngestJob]), args.Error(1)
}

type MockObjectStore struct {
	mock.Mock
}

func (m *MockObjectStore) PutObject(ctx context.Context, key, contentType string, body io.Reader, size int64) error {
	args := m.Called(ctx, key, contentType, body, size)
	return args.Error(0)
}

func (m *MockObjectStore) GetObject(ctx context.Context, key string) (io.ReadCloser, *storage.ObjectMetadata, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, nil, args.Error(2)
	}
	var meta *storage.ObjectMetadata
	if args.Get(1) != nil {
		meta = args.Get(1).(*storage.ObjectMetadata)
	}
	return args.Get(0).(io.ReadCloser), meta, args.Error(2)
}

func (m *MockObjectStore) DeleteObject(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

type MockSourceRemover struct {
	mock.Mock
}

func (m *MockSourceRemover) RemoveSource(ctx context.Context, ownerScope string, sourceType domain.SourceType, sourceID string) (int64, error) {
	args := m.Called(ctx, ownerScope, sourceType, sourceID)
	return args.Get(0).(int64), args.Error(1)
}
