package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"

	"github.com/cloo-solutions/recall/internal/api"
	"github.com/cloo-solutions/recall/internal/api/middleware"
	"github.com/cloo-solutions/recall/internal/domain"
	"github.com/cloo-solutions/recall/internal/service"
	"github.com/go-chi/chi/v5"
)

const (
	// DefaultRetrieveLimit applies when a retrieve request omits k
	DefaultRetrieveLimit = 5
)

type RetrievalService interface {
	Ingest(ctx context.Context, in service.IngestInput) (*service.IngestResult, error)
	RetrieveContext(ctx context.Context, in service.RetrieveInput) ([]domain.RetrievalResult, error)
}

type SourceService interface {
	RemoveSource(ctx context.Context, ownerScope string, sourceType domain.SourceType, sourceID string) (int64, error)
}

type RetrievalHandler struct {
	svc          RetrievalService
	sources      SourceService
	jobs         JobService
	maxChunkSize int
}

func NewRetrievalHandler(svc RetrievalService, sources SourceService, jobs JobService, maxChunkSize int) *RetrievalHandler {
	return &RetrievalHandler{svc: svc, sources: sources, jobs: jobs, maxChunkSize: maxChunkSize}
}

type IngestRequest struct {
	SourceType   string `json:"source_type"`
	SourceID     string `json:"source_id"`
	Text         string `json:"text"`
	MaxChunkSize *int   `json:"max_chunk_size,omitempty"`
}

type RecordResponse struct {
	ID        string `json:"id"`
	Ordinal   int    `json:"ordinal"`
	CreatedAt string `json:"created_at"`
}

type IngestResponse struct {
	SourceType     string           `json:"source_type"`
	SourceID       string           `json:"source_id"`
	ChunkCount     int              `json:"chunk_count"`
	Records        []RecordResponse `json:"records"`
	FailedOrdinals []int            `json:"failed_ordinals"`
	Complete       bool             `json:"complete"`
	Error          string           `json:"error,omitempty"`
}

type RetrieveRequest struct {
	Query         string   `json:"query"`
	K             *int     `json:"k,omitempty"`
	MinSimilarity *float64 `json:"min_similarity,omitempty"`
}

type RetrieveResponse struct {
	Results []domain.RetrievalResult `json:"results"`
}

type RemoveSourceResponse struct {
	Deleted int64 `json:"deleted"`
}

func ingestResultToResponse(in service.IngestInput, res *service.IngestResult) *IngestResponse {
	resp := &IngestResponse{
		SourceType:     string(in.SourceType),
		SourceID:       in.SourceID,
		ChunkCount:     res.ChunkCount,
		Records:        make([]RecordResponse, 0, len(res.Records)),
		FailedOrdinals: res.FailedOrdinals(),
		Complete:       res.Complete(),
	}
	for _, rec := range res.Records {
		resp.Records = append(resp.Records, RecordResponse{
			ID:        rec.ID,
			Ordinal:   rec.Chunk.Ordinal,
			CreatedAt: rec.CreatedAt.Format(timeFormat),
		})
	}
	if res.AbortErr != nil {
		resp.Error = res.AbortErr.Error()
	}
	return resp
}

// Ingest runs the pipeline inline, or enqueues a job when async=true.
// A partial outcome is still a 200: the failed ordinals are part of the data.
func (h *RetrievalHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	scope := middleware.GetScope(r.Context())
	if scope == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.BodyError(w, err, "invalid request body")
		return
	}

	sourceType, err := domain.ParseSourceType(req.SourceType)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	maxChunkSize := h.maxChunkSize
	if req.MaxChunkSize != nil {
		maxChunkSize = *req.MaxChunkSize
	}

	input := service.IngestInput{
		OwnerScope:   scope,
		SourceType:   sourceType,
		SourceID:     req.SourceID,
		Text:         req.Text,
		MaxChunkSize: maxChunkSize,
	}

	async, _ := strconv.ParseBool(r.URL.Query().Get("async"))
	if async {
		if h.jobs == nil {
			api.Error(w, http.StatusServiceUnavailable, "async ingestion is not available")
			return
		}
		job, err := h.jobs.Enqueue(r.Context(), input)
		if err != nil {
			api.HandleError(w, err)
			return
		}
		api.Success(w, http.StatusAccepted, jobToResponse(job))
		return
	}

	result, err := h.svc.Ingest(r.Context(), input)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, ingestResultToResponse(input, result))
}

func (h *RetrievalHandler) Retrieve(w http.ResponseWriter, r *http.Request) {
	scope := middleware.GetScope(r.Context())
	if scope == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req RetrieveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.BodyError(w, err, "invalid request body")
		return
	}

	k := DefaultRetrieveLimit
	if req.K != nil {
		k = *req.K
	}
	var minSimilarity float64
	if req.MinSimilarity != nil {
		minSimilarity = *req.MinSimilarity
	}

	results, err := h.svc.RetrieveContext(r.Context(), service.RetrieveInput{
		OwnerScope:    scope,
		Query:         req.Query,
		K:             k,
		MinSimilarity: minSimilarity,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}
	if results == nil {
		results = []domain.RetrievalResult{}
	}

	api.Success(w, http.StatusOK, RetrieveResponse{Results: results})
}

func (h *RetrievalHandler) RemoveSource(w http.ResponseWriter, r *http.Request) {
	scope := middleware.GetScope(r.Context())
	if scope == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	sourceType, err := domain.ParseSourceType(chi.URLParam(r, "type"))
	if err != nil {
		api.HandleError(w, err)
		return
	}

	// chi routes on the raw path when the request has one, and then the id
	// arrives still escaped. Otherwise it is already decoded.
	sourceID := chi.URLParam(r, "id")
	if r.URL.RawPath != "" {
		if sourceID, err = url.PathUnescape(sourceID); err != nil {
			api.Error(w, http.StatusBadRequest, "invalid source id")
			return
		}
	}

	deleted, err := h.sources.RemoveSource(r.Context(), scope, sourceType, sourceID)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, RemoveSourceResponse{Deleted: deleted})
}
