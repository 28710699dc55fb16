package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/cloo-solutions/recall/internal/domain"
	"github.com/cloo-solutions/recall/internal/extract"
	"github.com/cloo-solutions/recall/internal/pagination"
	"github.com/cloo-solutions/recall/internal/storage"
	"go.uber.org/zap"
)

const (
	DefaultJobPageSize = 20
	MaxJobPageSize     = 100
)

// IngestJobRepository persists ingest jobs
type IngestJobRepository interface {
	Create(ctx context.Context, job *domain.IngestJob) error
	GetByID(ctx context.Context, ownerScope, id string) (*domain.IngestJob, error)
	ListByScopeWithCursor(ctx context.Context, ownerScope string, cursor *pagination.Cursor, limit int) (*pagination.PageResult[*domain.IngestJob], error)
}

// ObjectStore keeps uploaded source documents
type ObjectStore interface {
	PutObject(ctx context.Context, key, contentType string, body io.Reader, size int64) error
	GetObject(ctx context.Context, key string) (io.ReadCloser, *storage.ObjectMetadata, error)
	DeleteObject(ctx context.Context, key string) error
}

// FileInput is an uploaded document to ingest asynchronously
type FileInput struct {
	OwnerScope   string
	SourceID     string
	ContentType  string
	Body         io.Reader
	Size         int64
	MaxChunkSize int
}

// IngestJobService turns ingest requests into jobs processed by the worker
type IngestJobService struct {
	repo       IngestJobRepository
	storage    ObjectStore
	extractors *extract.Registry
	uuidGen    UUIDGenerator
	logger     *zap.Logger
}

// NewIngestJobService creates a new IngestJobService. storage may be nil, in
// which case file uploads are refused.
func NewIngestJobService(repo IngestJobRepository, storage ObjectStore, extractors *extract.Registry, uuidGen UUIDGenerator, logger *zap.Logger) *IngestJobService {
	if extractors == nil {
		extractors = extract.NewRegistry()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IngestJobService{
		repo:       repo,
		storage:    storage,
		extractors: extractors,
		uuidGen:    uuidGen,
		logger:     logger,
	}
}

// Enqueue validates the input and stores a pending job with inline text
func (s *IngestJobService) Enqueue(ctx context.Context, in IngestInput) (*domain.IngestJob, error) {
	if err := ValidateIngestInput(in); err != nil {
		return nil, err
	}

	job := s.newJob(in.OwnerScope, in.SourceType, in.SourceID, in.MaxChunkSize)
	job.Text = in.Text

	if err := s.create(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// EnqueueFile uploads the document to object storage and stores a pending job
// that references it. The document is extracted when the job runs.
func (s *IngestJobService) EnqueueFile(ctx context.Context, in FileInput) (*domain.IngestJob, error) {
	if s.storage == nil {
		return nil, domain.ErrStorageNotConfigured
	}
	if err := ValidateIngestInput(IngestInput{
		OwnerScope:   in.OwnerScope,
		SourceType:   domain.SourceTypeFile,
		SourceID:     in.SourceID,
		MaxChunkSize: in.MaxChunkSize,
	}); err != nil {
		return nil, err
	}
	if in.Body == nil {
		return nil, domain.ErrMissingRequiredField.WithCause(fmt.Errorf("file body"))
	}
	if _, err := s.extractors.Lookup(in.ContentType); err != nil {
		return nil, err
	}

	key := storage.ObjectKey(in.OwnerScope, domain.SourceTypeFile, in.SourceID)
	if err := s.storage.PutObject(ctx, key, in.ContentType, in.Body, in.Size); err != nil {
		return nil, domain.ErrStorageOperationFail.WithCause(err)
	}

	job := s.newJob(in.OwnerScope, domain.SourceTypeFile, in.SourceID, in.MaxChunkSize)
	job.ObjectKey = key
	job.ContentType = in.ContentType

	if err := s.create(ctx, job); err != nil {
		if delErr := s.storage.DeleteObject(context.WithoutCancel(ctx), key); delErr != nil {
			s.logger.Warn("failed to clean up uploaded object",
				zap.String("object_key", key), zap.Error(delErr))
		}
		return nil, err
	}
	return job, nil
}

// Get returns a job of the scope. Jobs of other scopes are not found.
func (s *IngestJobService) Get(ctx context.Context, ownerScope, id string) (*domain.IngestJob, error) {
	if err := domain.ValidateScope(ownerScope); err != nil {
		return nil, err
	}
	if strings.TrimSpace(id) == "" {
		return nil, domain.ErrIngestJobNotFound
	}
	return s.repo.GetByID(ctx, ownerScope, id)
}

// List pages through the jobs of a scope, newest first
func (s *IngestJobService) List(ctx context.Context, ownerScope string, limit int, cursor string) (*pagination.PageResult[*domain.IngestJob], error) {
	if err := domain.ValidateScope(ownerScope); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultJobPageSize
	}
	if limit > MaxJobPageSize {
		limit = MaxJobPageSize
	}

	decoded, err := pagination.DecodeCursor(cursor)
	if err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "invalid cursor", err)
	}

	page, err := s.repo.ListByScopeWithCursor(ctx, ownerScope, decoded, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list ingest jobs: %w", err)
	}
	return page, nil
}

// ResolveText returns the text a job ingests: inline text, or the extracted
// content of its stored object.
func (s *IngestJobService) ResolveText(ctx context.Context, job *domain.IngestJob) (string, error) {
	if !job.HasObject() {
		return job.Text, nil
	}
	if s.storage == nil {
		return "", domain.ErrStorageNotConfigured
	}

	body, _, err := s.storage.GetObject(ctx, job.ObjectKey)
	if err != nil {
		return "", err
	}
	defer body.Close()

	text, err := s.extractors.Extract(ctx, job.ContentType, body)
	if err != nil {
		return "", fmt.Errorf("failed to extract %s: %w", job.ContentType, err)
	}
	return text, nil
}

func (s *IngestJobService) newJob(ownerScope string, sourceType domain.SourceType, sourceID string, maxChunkSize int) *domain.IngestJob {
	return &domain.IngestJob{
		ID:           s.uuidGen.NewString(),
		OwnerScope:   ownerScope,
		SourceType:   sourceType,
		SourceID:     sourceID,
		MaxChunkSize: maxChunkSize,
		Status:       domain.IngestJobStatusPending,
		CreatedAt:    time.Now().UTC(),
	}
}

func (s *IngestJobService) create(ctx context.Context, job *domain.IngestJob) error {
	if err := domain.ValidateIngestJob(job); err != nil {
		return err
	}
	if err := s.repo.Create(ctx, job); err != nil {
		return fmt.Errorf("failed to create ingest job: %w", err)
	}
	s.logger.Info("ingest job queued",
		zap.String("job_id", job.ID),
		zap.String("owner_scope", job.OwnerScope),
		zap.String("source_type", string(job.SourceType)),
		zap.String("source_id", job.SourceID),
		zap.Bool("object", job.HasObject()))
	return nil
}

// IsPermanent reports whether retrying a job cannot change its outcome
func IsPermanent(err error) bool {
	var domainErr *domain.DomainError
	if !errors.As(err, &domainErr) {
		return false
	}
	switch domainErr.Code {
	case domain.ErrCodeValidation, domain.ErrCodeNotFound, domain.ErrCodeInvalidScope, domain.ErrCodeInvalidDimension:
		return true
	}
	return false
}
