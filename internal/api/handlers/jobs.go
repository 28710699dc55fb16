package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/cloo-solutions/recall/internal/api"
	"github.com/cloo-solutions/recall/internal/api/middleware"
	"github.com/cloo-solutions/recall/internal/domain"
	"github.com/cloo-solutions/recall/internal/extract"
	"github.com/cloo-solutions/recall/internal/pagination"
	"github.com/cloo-solutions/recall/internal/service"
	"github.com/go-chi/chi/v5"
)

const (
	timeFormat = "2006-01-02T15:04:05Z"

	// maxMultipartMemory is how much of an upload is buffered in memory
	// before spilling to a temporary file
	maxMultipartMemory = 8 << 20
)

type JobService interface {
	Enqueue(ctx context.Context, in service.IngestInput) (*domain.IngestJob, error)
	EnqueueFile(ctx context.Context, in service.FileInput) (*domain.IngestJob, error)
	Get(ctx context.Context, ownerScope, id string) (*domain.IngestJob, error)
	List(ctx context.Context, ownerScope string, limit int, cursor string) (*pagination.PageResult[*domain.IngestJob], error)
}

type JobHandler struct {
	svc          JobService
	maxChunkSize int
}

func NewJobHandler(svc JobService, maxChunkSize int) *JobHandler {
	return &JobHandler{svc: svc, maxChunkSize: maxChunkSize}
}

type JobResponse struct {
	ID             string `json:"id"`
	SourceType     string `json:"source_type"`
	SourceID       string `json:"source_id"`
	ContentType    string `json:"content_type,omitempty"`
	MaxChunkSize   int    `json:"max_chunk_size"`
	Status         string `json:"status"`
	Retries        int32  `json:"retries"`
	RecordCount    int    `json:"record_count"`
	FailedOrdinals []int  `json:"failed_ordinals"`
	Error          string `json:"error,omitempty"`
	CreatedAt      string `json:"created_at"`
	ProcessedAt    string `json:"processed_at,omitempty"`
}

type JobListResponse struct {
	Items   []*JobResponse `json:"items"`
	Cursor  string         `json:"cursor,omitempty"`
	HasMore bool           `json:"has_more"`
}

func jobToResponse(j *domain.IngestJob) *JobResponse {
	failed := j.FailedOrdinals
	if failed == nil {
		failed = []int{}
	}
	resp := &JobResponse{
		ID:             j.ID,
		SourceType:     string(j.SourceType),
		SourceID:       j.SourceID,
		ContentType:    j.ContentType,
		MaxChunkSize:   j.MaxChunkSize,
		Status:         string(j.Status),
		Retries:        j.Retries,
		RecordCount:    j.RecordCount,
		FailedOrdinals: failed,
		Error:          j.Error,
		CreatedAt:      j.CreatedAt.Format(timeFormat),
	}
	if j.ProcessedAt != nil {
		resp.ProcessedAt = j.ProcessedAt.Format(timeFormat)
	}
	return resp
}

func (h *JobHandler) Get(w http.ResponseWriter, r *http.Request) {
	scope := middleware.GetScope(r.Context())
	if scope == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id := chi.URLParam(r, "id")
	if id == "" {
		api.Error(w, http.StatusBadRequest, "id is required")
		return
	}

	job, err := h.svc.Get(r.Context(), scope, id)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, jobToResponse(job))
}

func (h *JobHandler) List(w http.ResponseWriter, r *http.Request) {
	scope := middleware.GetScope(r.Context())
	if scope == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			api.Error(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}

	page, err := h.svc.List(r.Context(), scope, limit, r.URL.Query().Get("cursor"))
	if err != nil {
		api.HandleError(w, err)
		return
	}

	resp := JobListResponse{
		Items:   make([]*JobResponse, 0, len(page.Items)),
		Cursor:  page.Cursor,
		HasMore: page.HasMore,
	}
	for _, job := range page.Items {
		resp.Items = append(resp.Items, jobToResponse(job))
	}

	api.Success(w, http.StatusOK, resp)
}

// UploadFile stores a multipart "file" part and queues it for ingestion.
// Form fields: source_id (defaults to the file name), content_type, max_chunk_size.
func (h *JobHandler) UploadFile(w http.ResponseWriter, r *http.Request) {
	scope := middleware.GetScope(r.Context())
	if scope == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		api.BodyError(w, err, "invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		api.Error(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	sourceID := r.FormValue("source_id")
	if sourceID == "" {
		sourceID = header.Filename
	}

	contentType := r.FormValue("content_type")
	if contentType == "" {
		contentType = header.Header.Get("Content-Type")
	}
	if contentType == "" || contentType == "application/octet-stream" {
		if guessed := extract.MediaTypeForFilename(header.Filename); guessed != "" {
			contentType = guessed
		}
	}

	maxChunkSize := h.maxChunkSize
	if raw := r.FormValue("max_chunk_size"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			api.Error(w, http.StatusBadRequest, "invalid max_chunk_size")
			return
		}
		maxChunkSize = parsed
	}

	job, err := h.svc.EnqueueFile(r.Context(), service.FileInput{
		OwnerScope:   scope,
		SourceID:     sourceID,
		ContentType:  contentType,
		Body:         file,
		Size:         header.Size,
		MaxChunkSize: maxChunkSize,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusAccepted, jobToResponse(job))
}
