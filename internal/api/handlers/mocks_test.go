package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"

	"github.com/cloo-solutions/recall/internal/api/middleware"
	"github.com/cloo-solutions/recall/internal/domain"
	"github.com/cloo-solutions/recall/internal/pagination"
	"github.com/cloo-solutions/recall/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/mock"
)

type MockRetrievalService struct {
	mock.Mock
}

func (m *MockRetrievalService) Ingest(ctx context.Context, in service.IngestInput) (*service.IngestResult, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.IngestResult), args.Error(1)
}

func (m *MockRetrievalService) RetrieveContext(ctx context.Context, in service.RetrieveInput) ([]domain.RetrievalResult, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.RetrievalResult), args.Error(1)
}

type MockSourceService struct {
	mock.Mock
}

func (m *MockSourceService) RemoveSource(ctx context.Context, ownerScope string, sourceType domain.SourceType, sourceID string) (int64, error) {
	args := m.Called(ctx, ownerScope, sourceType, sourceID)
	return args.Get(0).(int64), args.Error(1)
}

type MockJobService struct {
	mock.Mock
}

func (m *MockJobService) Enqueue(ctx context.Context, in service.IngestInput) (*domain.IngestJob, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.IngestJob), args.Error(1)
}

func (m *MockJobService) EnqueueFile(ctx context.Context, in service.FileInput) (*domain.IngestJob, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.IngestJob), args.Error(1)
}

func (m *MockJobService) Get(ctx context.Context, ownerScope, id string) (*domain.IngestJob, error) {
	args := m.Called(ctx, ownerScope, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.IngestJob), args.Error(1)
}

func (m *MockJobService) List(ctx context.Context, ownerScope string, limit int, cursor string) (*pagination.PageResult[*domain.IngestJob], error) {
	args := m.Called(ctx, ownerScope, limit, cursor)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*pagination.PageResult[*domain.IngestJob]), args.Error(1)
}

const testScope = "acme/user-1"

func requestWithScope(method, url string, body []byte) *http.Request {
	req := httptest.NewRequest(method, url, bytes.NewReader(body))
	ctx := context.WithValue(req.Context(), middleware.ScopeKey, testScope)
	return req.WithContext(ctx)
}

func requestWithScopeReader(method, url string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, url, body)
	ctx := context.WithValue(req.Context(), middleware.ScopeKey, testScope)
	return req.WithContext(ctx)
}

func withURLParams(req *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for k, v := range params {
		rctx.URLParams.Add(k, v)
	}
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func mustJSON(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}

// envelope decodes the {"data": ...} wrapper into T
type envelope[T any] struct {
	Data  T      `json:"data"`
	Error string `json:"error"`
}
