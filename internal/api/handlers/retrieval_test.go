package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/cloo-solutions/recall/internal/domain"
	"github.com/cloo-solutions/recall/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newRetrievalHandler() (*RetrievalHandler, *MockRetrievalService, *MockSourceService, *MockJobService) {
	svc := new(MockRetrievalService)
	sources := new(MockSourceService)
	jobs := new(MockJobService)
	return NewRetrievalHandler(svc, sources, jobs, 1000), svc, sources, jobs
}

func record(ordinal int) *domain.EmbeddingRecord {
	return &domain.EmbeddingRecord{
		ID:        "rec-" + string(rune('a'+ordinal)),
		Chunk:     domain.Chunk{Ordinal: ordinal},
		CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestRetrievalHandler_Ingest_Success(t *testing.T) {
	h, svc, _, _ := newRetrievalHandler()

	expected := service.IngestInput{
		OwnerScope:   testScope,
		SourceType:   domain.SourceTypeMessage,
		SourceID:     "msg-1",
		Text:         "hello",
		MaxChunkSize: 1000,
	}
	svc.On("Ingest", mock.Anything, expected).
		Return(&service.IngestResult{ChunkCount: 1, Records: []*domain.EmbeddingRecord{record(0)}}, nil)

	body := mustJSON(IngestRequest{SourceType: "message", SourceID: "msg-1", Text: "hello"})
	w := httptest.NewRecorder()
	h.Ingest(w, requestWithScope(http.MethodPost, "/ingest", body))

	assert.Equal(t, http.StatusOK, w.Code)

	var resp envelope[IngestResponse]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Data.Complete)
	assert.Equal(t, 1, resp.Data.ChunkCount)
	require.Len(t, resp.Data.Records, 1)
	assert.Equal(t, 0, resp.Data.Records[0].Ordinal)
	assert.Equal(t, "2026-01-02T03:04:05Z", resp.Data.Records[0].CreatedAt)
	assert.Equal(t, []int{}, resp.Data.FailedOrdinals)
	assert.Empty(t, resp.Data.Error)
	svc.AssertExpectations(t)
}

func TestRetrievalHandler_Ingest_PartialIsStillOK(t *testing.T) {
	h, svc, _, _ := newRetrievalHandler()

	chunkSize := 10
	abortErr := domain.ErrProviderUnavailable
	svc.On("Ingest", mock.Anything, mock.MatchedBy(func(in service.IngestInput) bool {
		return in.MaxChunkSize == chunkSize && in.SourceType == domain.SourceTypeFile
	})).Return(&service.IngestResult{
		ChunkCount: 3,
		Records:    []*domain.EmbeddingRecord{record(0)},
		Failures:   []service.ChunkFailure{{Ordinal: 1, Err: abortErr}, {Ordinal: 2, Err: abortErr}},
		AbortErr:   abortErr,
	}, nil)

	body := mustJSON(IngestRequest{SourceType: "file", SourceID: "doc", Text: "x", MaxChunkSize: &chunkSize})
	w := httptest.NewRecorder()
	h.Ingest(w, requestWithScope(http.MethodPost, "/ingest", body))

	assert.Equal(t, http.StatusOK, w.Code)

	var resp envelope[IngestResponse]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Data.Complete)
	assert.Equal(t, []int{1, 2}, resp.Data.FailedOrdinals)
	assert.Contains(t, resp.Data.Error, "unavailable")
}

func TestRetrievalHandler_Ingest_Async(t *testing.T) {
	h, svc, _, jobs := newRetrievalHandler()

	job := &domain.IngestJob{
		ID:           "job-1",
		OwnerScope:   testScope,
		SourceType:   domain.SourceTypeMessage,
		SourceID:     "msg-1",
		MaxChunkSize: 1000,
		Status:       domain.IngestJobStatusPending,
		CreatedAt:    time.Now().UTC(),
	}
	jobs.On("Enqueue", mock.Anything, mock.MatchedBy(func(in service.IngestInput) bool {
		return in.OwnerScope == testScope && in.SourceID == "msg-1"
	})).Return(job, nil)

	body := mustJSON(IngestRequest{SourceType: "message", SourceID: "msg-1", Text: "hello"})
	w := httptest.NewRecorder()
	h.Ingest(w, requestWithScope(http.MethodPost, "/ingest?async=true", body))

	assert.Equal(t, http.StatusAccepted, w.Code)

	var resp envelope[JobResponse]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "job-1", resp.Data.ID)
	assert.Equal(t, "pending", resp.Data.Status)
	svc.AssertNotCalled(t, "Ingest", mock.Anything, mock.Anything)
}

func TestRetrievalHandler_Ingest_Validation(t *testing.T) {
	h, svc, _, _ := newRetrievalHandler()
	svc.On("Ingest", mock.Anything, mock.Anything).Return(nil, domain.ErrMissingSourceID)

	tests := []struct {
		name string
		body []byte
		code int
	}{
		{"malformed body", []byte("{"), http.StatusBadRequest},
		{"unknown source type", mustJSON(IngestRequest{SourceType: "email", SourceID: "x"}), http.StatusBadRequest},
		{"service validation", mustJSON(IngestRequest{SourceType: "message"}), http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			h.Ingest(w, requestWithScope(http.MethodPost, "/ingest", tt.body))
			assert.Equal(t, tt.code, w.Code)
		})
	}
}

func TestRetrievalHandler_Ingest_Unauthorized(t *testing.T) {
	h, _, _, _ := newRetrievalHandler()

	w := httptest.NewRecorder()
	h.Ingest(w, httptest.NewRequest(http.MethodPost, "/ingest", nil))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRetrievalHandler_Retrieve_Success(t *testing.T) {
	h, svc, _, _ := newRetrievalHandler()

	results := []domain.RetrievalResult{
		{SourceType: domain.SourceTypeMessage, SourceID: "m1", Ordinal: 0, Text: "hi", Similarity: 0.93},
	}
	svc.On("RetrieveContext", mock.Anything, service.RetrieveInput{
		OwnerScope:    testScope,
		Query:         "greeting",
		K:             2,
		MinSimilarity: 0.5,
	}).Return(results, nil)

	k, minSim := 2, 0.5
	body := mustJSON(RetrieveRequest{Query: "greeting", K: &k, MinSimilarity: &minSim})
	w := httptest.NewRecorder()
	h.Retrieve(w, requestWithScope(http.MethodPost, "/retrieve", body))

	assert.Equal(t, http.StatusOK, w.Code)

	var resp envelope[RetrieveResponse]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, results, resp.Data.Results)
}

func TestRetrievalHandler_Retrieve_Defaults(t *testing.T) {
	h, svc, _, _ := newRetrievalHandler()

	svc.On("RetrieveContext", mock.Anything, service.RetrieveInput{
		OwnerScope: testScope,
		Query:      "q",
		K:          DefaultRetrieveLimit,
	}).Return(nil, nil)

	w := httptest.NewRecorder()
	h.Retrieve(w, requestWithScope(http.MethodPost, "/retrieve", mustJSON(RetrieveRequest{Query: "q"})))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"data":{"results":[]}}`, w.Body.String())
}

func TestRetrievalHandler_Retrieve_ErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"provider unavailable", domain.ErrProviderUnavailable, http.StatusServiceUnavailable},
		{"provider rejected", domain.ErrProviderRejected, http.StatusUnprocessableEntity},
		{"bad k", domain.ErrInvalidLimit, http.StatusBadRequest},
		{"infrastructure", errors.New("connection refused"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, svc, _, _ := newRetrievalHandler()
			svc.On("RetrieveContext", mock.Anything, mock.Anything).Return(nil, tt.err)

			w := httptest.NewRecorder()
			h.Retrieve(w, requestWithScope(http.MethodPost, "/retrieve", mustJSON(RetrieveRequest{Query: "q"})))

			assert.Equal(t, tt.code, w.Code)
		})
	}
}

func TestRetrievalHandler_RemoveSource(t *testing.T) {
	h, _, sources, _ := newRetrievalHandler()
	sources.On("RemoveSource", mock.Anything, testScope, domain.SourceTypeKnowledgeNode, "node-9").Return(int64(4), nil)

	req := withURLParams(requestWithScope(http.MethodDelete, "/sources/knowledge-node/node-9", nil),
		map[string]string{"type": "knowledge-node", "id": "node-9"})
	w := httptest.NewRecorder()
	h.RemoveSource(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"data":{"deleted":4}}`, w.Body.String())
	sources.AssertExpectations(t)
}

func TestRetrievalHandler_RemoveSource_InvalidType(t *testing.T) {
	h, _, sources, _ := newRetrievalHandler()

	req := withURLParams(requestWithScope(http.MethodDelete, "/sources/email/x", nil),
		map[string]string{"type": "email", "id": "x"})
	w := httptest.NewRecorder()
	h.RemoveSource(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	sources.AssertNotCalled(t, "RemoveSource", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRetrievalHandler_RemoveSource_EscapedID(t *testing.T) {
	h, _, sources, _ := newRetrievalHandler()
	sources.On("RemoveSource", mock.Anything, testScope, domain.SourceTypeFile, "docs/a b.md").Return(int64(2), nil)

	req := withURLParams(requestWithScope(http.MethodDelete, "/sources/file/docs%2Fa%20b.md", nil),
		map[string]string{"type": "file", "id": "docs%2Fa%20b.md"})
	w := httptest.NewRecorder()
	h.RemoveSource(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	sources.AssertExpectations(t)
}

func TestRetrievalHandler_RemoveSource_RoutedIDsDecodeOnce(t *testing.T) {
	ids := []string{"a/b", "a%41", "50%off", "docs/a b.md", "plain"}

	for _, id := range ids {
		t.Run(id, func(t *testing.T) {
			h, _, sources, _ := newRetrievalHandler()
			sources.On("RemoveSource", mock.Anything, testScope, domain.SourceTypeFile, id).Return(int64(1), nil)

			router := chi.NewRouter()
			router.Delete("/sources/{type}/{id}", h.RemoveSource)

			req := requestWithScope(http.MethodDelete, "/sources/file/"+url.PathEscape(id), nil)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
			sources.AssertExpectations(t)
		})
	}
}
