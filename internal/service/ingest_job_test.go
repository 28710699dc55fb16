package service

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/cloo-solutions/recall/internal/domain"
	"github.com/cloo-solutions/recall/internal/extract"
	"github.com/cloo-solutions/recall/internal/pagination"
	"github.com/cloo-solutions/recall/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestJobService(repo IngestJobRepository, store ObjectStore, ids ...string) *IngestJobService {
	return NewIngestJobService(repo, store, extract.NewRegistry(), NewMockUUIDGenerator(ids...), nil)
}

func TestIngestJobService_Enqueue(t *testing.T) {
	ctx := context.Background()
	repo := new(MockIngestJobRepository)

	repo.On("Create", ctx, mock.MatchedBy(func(job *domain.IngestJob) bool {
		return job.ID == "job-1" &&
			job.Status == domain.IngestJobStatusPending &&
			job.OwnerScope == "acme/u1" &&
			job.Text == "hello" &&
			job.ObjectKey == ""
	})).Return(nil)

	svc := newTestJobService(repo, nil, "job-1")
	job, err := svc.Enqueue(ctx, IngestInput{
		OwnerScope:   "acme/u1",
		SourceType:   domain.SourceTypeMessage,
		SourceID:     "m-1",
		Text:         "hello",
		MaxChunkSize: 100,
	})

	require.NoError(t, err)
	assert.Equal(t, "job-1", job.ID)
	assert.False(t, job.CreatedAt.IsZero())
	repo.AssertExpectations(t)
}

func TestIngestJobService_Enqueue_Validation(t *testing.T) {
	repo := new(MockIngestJobRepository)
	svc := newTestJobService(repo, nil)

	_, err := svc.Enqueue(context.Background(), IngestInput{SourceType: domain.SourceTypeMessage, SourceID: "m", MaxChunkSize: 1})
	assert.ErrorIs(t, err, domain.ErrInvalidScope)

	_, err = svc.Enqueue(context.Background(), IngestInput{OwnerScope: "s", SourceType: "video", SourceID: "m", MaxChunkSize: 1})
	assert.ErrorIs(t, err, domain.ErrInvalidSourceType)

	repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestIngestJobService_Enqueue_RepoError(t *testing.T) {
	ctx := context.Background()
	repo := new(MockIngestJobRepository)
	repo.On("Create", ctx, mock.Anything).Return(errors.New("db down"))

	svc := newTestJobService(repo, nil, "job-1")
	_, err := svc.Enqueue(ctx, IngestInput{OwnerScope: "s", SourceType: domain.SourceTypeMessage, SourceID: "m", MaxChunkSize: 1})

	assert.ErrorContains(t, err, "db down")
}

func TestIngestJobService_EnqueueFile(t *testing.T) {
	ctx := context.Background()
	repo := new(MockIngestJobRepository)
	store := new(MockObjectStore)
	body := strings.NewReader("<p>hi</p>")

	store.On("PutObject", ctx, "acme/file/page.html", "text/html; charset=utf-8", body, int64(9)).Return(nil)
	repo.On("Create", ctx, mock.MatchedBy(func(job *domain.IngestJob) bool {
		return job.SourceType == domain.SourceTypeFile &&
			job.ObjectKey == "acme/file/page.html" &&
			job.ContentType == "text/html; charset=utf-8" &&
			job.Text == ""
	})).Return(nil)

	svc := newTestJobService(repo, store, "job-1")
	job, err := svc.EnqueueFile(ctx, FileInput{
		OwnerScope:   "acme",
		SourceID:     "page.html",
		ContentType:  "text/html; charset=utf-8",
		Body:         body,
		Size:         9,
		MaxChunkSize: 500,
	})

	require.NoError(t, err)
	assert.True(t, job.HasObject())
	store.AssertExpectations(t)
	repo.AssertExpectations(t)
}

func TestIngestJobService_EnqueueFile_UnsupportedType(t *testing.T) {
	repo := new(MockIngestJobRepository)
	store := new(MockObjectStore)
	svc := newTestJobService(repo, store)

	_, err := svc.EnqueueFile(context.Background(), FileInput{
		OwnerScope:   "acme",
		SourceID:     "scan.pdf",
		ContentType:  "application/pdf",
		Body:         strings.NewReader("%PDF"),
		MaxChunkSize: 500,
	})

	assert.ErrorIs(t, err, domain.ErrUnsupportedContentType)
	store.AssertNotCalled(t, "PutObject", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestIngestJobService_EnqueueFile_NoStorage(t *testing.T) {
	svc := newTestJobService(new(MockIngestJobRepository), nil)

	_, err := svc.EnqueueFile(context.Background(), FileInput{OwnerScope: "acme", SourceID: "a", ContentType: "text/plain", Body: strings.NewReader("x"), MaxChunkSize: 1})

	assert.ErrorIs(t, err, domain.ErrStorageNotConfigured)
}

func TestIngestJobService_EnqueueFile_CleansUpOnRepoError(t *testing.T) {
	ctx := context.Background()
	repo := new(MockIngestJobRepository)
	store := new(MockObjectStore)

	store.On("PutObject", ctx, "acme/file/a.txt", "text/plain", mock.Anything, int64(1)).Return(nil)
	store.On("DeleteObject", mock.Anything, "acme/file/a.txt").Return(nil)
	repo.On("Create", ctx, mock.Anything).Return(errors.New("db down"))

	svc := newTestJobService(repo, store, "job-1")
	_, err := svc.EnqueueFile(ctx, FileInput{OwnerScope: "acme", SourceID: "a.txt", ContentType: "text/plain", Body: strings.NewReader("x"), Size: 1, MaxChunkSize: 1})

	assert.Error(t, err)
	store.AssertExpectations(t)
}

func TestIngestJobService_EnqueueFile_StorageError(t *testing.T) {
	ctx := context.Background()
	repo := new(MockIngestJobRepository)
	store := new(MockObjectStore)
	store.On("PutObject", ctx, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(errors.New("bucket gone"))

	svc := newTestJobService(repo, store)
	_, err := svc.EnqueueFile(ctx, FileInput{OwnerScope: "acme", SourceID: "a.txt", ContentType: "text/plain", Body: strings.NewReader("x"), Size: 1, MaxChunkSize: 1})

	assert.ErrorIs(t, err, domain.ErrStorageOperationFail)
	repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestIngestJobService_Get(t *testing.T) {
	ctx := context.Background()
	repo := new(MockIngestJobRepository)
	repo.On("GetByID", ctx, "acme", "job-1").Return(&domain.IngestJob{ID: "job-1", OwnerScope: "acme"}, nil)
	repo.On("GetByID", ctx, "other", "job-1").Return(nil, domain.ErrIngestJobNotFound)

	svc := newTestJobService(repo, nil)

	job, err := svc.Get(ctx, "acme", "job-1")
	require.NoError(t, err)
	assert.Equal(t, "job-1", job.ID)

	_, err = svc.Get(ctx, "other", "job-1")
	assert.ErrorIs(t, err, domain.ErrIngestJobNotFound)

	_, err = svc.Get(ctx, "acme", "")
	assert.ErrorIs(t, err, domain.ErrIngestJobNotFound)
}

func TestIngestJobService_List(t *testing.T) {
	ctx := context.Background()
	repo := new(MockIngestJobRepository)
	page := &pagination.PageResult[*domain.IngestJob]{Items: []*domain.IngestJob{{ID: "job-1"}}}

	repo.On("ListByScopeWithCursor", ctx, "acme", (*pagination.Cursor)(nil), DefaultJobPageSize).Return(page, nil).Once()
	repo.On("ListByScopeWithCursor", ctx, "acme", (*pagination.Cursor)(nil), MaxJobPageSize).Return(page, nil).Once()

	svc := newTestJobService(repo, nil)

	got, err := svc.List(ctx, "acme", 0, "")
	require.NoError(t, err)
	assert.Len(t, got.Items, 1)

	_, err = svc.List(ctx, "acme", 1000, "")
	require.NoError(t, err)

	_, err = svc.List(ctx, "acme", 10, "!!not-base64")
	assert.Equal(t, domain.ErrCodeValidation, domain.CodeOf(err))

	repo.AssertExpectations(t)
}

func TestIngestJobService_ResolveText(t *testing.T) {
	ctx := context.Background()
	store := new(MockObjectStore)
	store.On("GetObject", ctx, "acme/file/page.html").
		Return(io.NopCloser(strings.NewReader("<h1>Title</h1><p>Body</p>")), &storage.ObjectMetadata{}, nil)
	store.On("GetObject", ctx, "acme/file/gone.txt").
		Return(nil, nil, storage.ErrObjectNotFound)

	svc := newTestJobService(new(MockIngestJobRepository), store)

	text, err := svc.ResolveText(ctx, &domain.IngestJob{Text: "inline"})
	require.NoError(t, err)
	assert.Equal(t, "inline", text)

	text, err = svc.ResolveText(ctx, &domain.IngestJob{ObjectKey: "acme/file/page.html", ContentType: "text/html"})
	require.NoError(t, err)
	assert.Equal(t, "Title\n\nBody", text)

	_, err = svc.ResolveText(ctx, &domain.IngestJob{ObjectKey: "acme/file/gone.txt", ContentType: "text/plain"})
	assert.ErrorIs(t, err, storage.ErrObjectNotFound)
	assert.True(t, IsPermanent(err))
}

func TestIsPermanent(t *testing.T) {
	assert.True(t, IsPermanent(domain.ErrInvalidSourceType))
	assert.True(t, IsPermanent(domain.ErrUnsupportedContentType.WithCause(errors.New("x"))))
	assert.True(t, IsPermanent(domain.ErrInvalidDimension))
	assert.False(t, IsPermanent(domain.ErrProviderUnavailable))
	assert.False(t, IsPermanent(errors.New("connection reset")))
	assert.False(t, IsPermanent(context.Canceled))
}
