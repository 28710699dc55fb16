package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cloo-solutions/recall/internal/domain"
	"github.com/cloo-solutions/recall/internal/telemetry"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultIngestConcurrency bounds in-flight embedding calls per ingest.
const DefaultIngestConcurrency = 4

// EmbeddingClient defines the interface for generating embeddings
type EmbeddingClient interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
}

// VectorStore persists embedding records and answers scoped similarity queries
type VectorStore interface {
	Put(ctx context.Context, ownerScope string, chunk domain.Chunk, vector []float32) (*domain.EmbeddingRecord, error)
	Query(ctx context.Context, ownerScope string, vector []float32, k int, minSimilarity float64) ([]domain.RetrievalResult, error)
	DeleteBySource(ctx context.Context, ownerScope string, sourceType domain.SourceType, sourceID string) (int64, error)
}

type IngestInput struct {
	OwnerScope   string
	SourceType   domain.SourceType
	SourceID     string
	Text         string
	MaxChunkSize int
}

type RetrieveInput struct {
	OwnerScope    string
	Query         string
	K             int
	MinSimilarity float64
}

// ChunkFailure explains why one ordinal has no record
type ChunkFailure struct {
	Ordinal int
	Err     error
}

// IngestResult is the outcome of one ingest. Records are in ordinal order.
// Every chunk ordinal appears either in Records or in Failures, never both.
type IngestResult struct {
	ChunkCount int
	Records    []*domain.EmbeddingRecord
	Failures   []ChunkFailure
	// AbortErr is set when ingestion stopped early: provider unavailable after
	// retries, a store failure, or cancellation.
	AbortErr error
}

// FailedOrdinals returns the ordinals without a persisted record, ascending
func (r *IngestResult) FailedOrdinals() []int {
	out := make([]int, 0, len(r.Failures))
	for _, f := range r.Failures {
		out = append(out, f.Ordinal)
	}
	sort.Ints(out)
	return out
}

// Complete reports whether every chunk was persisted
func (r *IngestResult) Complete() bool {
	return r.AbortErr == nil && len(r.Failures) == 0
}

// Aborted reports whether ingestion stopped before trying every chunk
func (r *IngestResult) Aborted() bool {
	return r.AbortErr != nil
}

// RetrievalService is the entry point for ingesting, retrieving and removing content
type RetrievalService struct {
	embedder    EmbeddingClient
	store       VectorStore
	retry       RetryPolicy
	concurrency int
	logger      *zap.Logger
}

type RetrievalOption func(*RetrievalService)

func WithRetryPolicy(p RetryPolicy) RetrievalOption {
	return func(s *RetrievalService) { s.retry = p }
}

func WithIngestConcurrency(n int) RetrievalOption {
	return func(s *RetrievalService) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

func WithLogger(logger *zap.Logger) RetrievalOption {
	return func(s *RetrievalService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewRetrievalService creates a new RetrievalService instance
func NewRetrievalService(embedder EmbeddingClient, store VectorStore, opts ...RetrievalOption) *RetrievalService {
	s := &RetrievalService{
		embedder:    embedder,
		store:       store,
		retry:       DefaultRetryPolicy(),
		concurrency: DefaultIngestConcurrency,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ValidateIngestInput performs the checks Ingest does before touching the provider
func ValidateIngestInput(in IngestInput) error {
	if err := domain.ValidateScope(in.OwnerScope); err != nil {
		return err
	}
	if !in.SourceType.IsValid() {
		return domain.ErrInvalidSourceType
	}
	if strings.TrimSpace(in.SourceID) == "" {
		return domain.ErrMissingSourceID
	}
	if in.MaxChunkSize <= 0 {
		return domain.ErrInvalidChunkSize
	}
	return nil
}

// Ingest chunks, embeds and stores text. The returned error is non-nil only when
// the input is invalid. Provider and store failures are reported in the result:
// rejected chunks are skipped, anything else aborts the remaining chunks.
func (s *RetrievalService) Ingest(ctx context.Context, in IngestInput) (*IngestResult, error) {
	if err := ValidateIngestInput(in); err != nil {
		return nil, err
	}

	ctx, span := telemetry.StartSpan(ctx, "retrieval.ingest", telemetry.SpanAttributes{
		OwnerScope: in.OwnerScope,
		SourceType: string(in.SourceType),
		SourceID:   in.SourceID,
		Operation:  "ingest",
	})
	defer span.End()

	log := s.logger.With(
		zap.String("owner_scope", in.OwnerScope),
		zap.String("source_type", string(in.SourceType)),
		zap.String("source_id", in.SourceID),
	)

	chunks := ChunkText(in.Text, in.MaxChunkSize)
	records := make([]*domain.EmbeddingRecord, len(chunks))
	rejected := make([]error, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for i, text := range chunks {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			vec, err := s.embed(gctx, text)
			if err != nil {
				if errors.Is(err, domain.ErrProviderRejected) {
					rejected[i] = err
					log.Warn("chunk rejected by embedding provider, skipping",
						zap.Int("ordinal", i), zap.Error(err))
					return nil
				}
				return fmt.Errorf("failed to embed chunk %d: %w", i, err)
			}

			chunk := domain.Chunk{
				SourceID:   in.SourceID,
				SourceType: in.SourceType,
				Ordinal:    i,
				Text:       text,
			}
			// A started write always finishes so the record set matches the report.
			rec, err := s.store.Put(context.WithoutCancel(gctx), in.OwnerScope, chunk, vec)
			if err != nil {
				return fmt.Errorf("failed to store chunk %d: %w", i, err)
			}
			records[i] = rec
			return nil
		})
	}

	abortErr := g.Wait()
	if abortErr == nil {
		abortErr = ctx.Err()
	}

	result := &IngestResult{ChunkCount: len(chunks)}
	for i := range chunks {
		switch {
		case records[i] != nil:
			result.Records = append(result.Records, records[i])
		case rejected[i] != nil:
			result.Failures = append(result.Failures, ChunkFailure{Ordinal: i, Err: rejected[i]})
		default:
			result.Failures = append(result.Failures, ChunkFailure{Ordinal: i, Err: abortErr})
		}
	}
	if abortErr != nil && len(result.Records)+countRejected(rejected) < len(chunks) {
		result.AbortErr = abortErr
	}

	span.SetData("chunks", len(chunks))
	span.SetData("records", len(result.Records))
	if result.AbortErr != nil {
		span.SetError(result.AbortErr)
		log.Error("ingest aborted",
			zap.Int("chunks", len(chunks)),
			zap.Int("records", len(result.Records)),
			zap.Ints("failed_ordinals", result.FailedOrdinals()),
			zap.Error(result.AbortErr))
	} else {
		log.Info("ingest finished",
			zap.Int("chunks", len(chunks)),
			zap.Int("records", len(result.Records)),
			zap.Ints("failed_ordinals", result.FailedOrdinals()))
	}

	return result, nil
}

func countRejected(rejected []error) int {
	n := 0
	for _, err := range rejected {
		if err != nil {
			n++
		}
	}
	return n
}

// RetrieveContext embeds the query and returns the most similar chunks of the
// scope. Any failure fails the whole call.
func (s *RetrievalService) RetrieveContext(ctx context.Context, in RetrieveInput) ([]domain.RetrievalResult, error) {
	if err := domain.ValidateScope(in.OwnerScope); err != nil {
		return nil, err
	}
	if err := domain.ValidateQuery(in.K, in.MinSimilarity); err != nil {
		return nil, err
	}

	ctx, span := telemetry.StartSpan(ctx, "retrieval.retrieve", telemetry.SpanAttributes{
		OwnerScope: in.OwnerScope,
		Operation:  "retrieve",
	})
	defer span.End()

	vec, err := s.embed(ctx, in.Query)
	if err != nil {
		span.SetError(err)
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	results, err := s.store.Query(ctx, in.OwnerScope, vec, in.K, in.MinSimilarity)
	if err != nil {
		span.SetError(err)
		return nil, fmt.Errorf("failed to query vector store: %w", err)
	}

	span.SetData("results", len(results))
	return results, nil
}

// RemoveSource deletes every record of a source. Removing an unknown source
// returns 0 and no error.
func (s *RetrievalService) RemoveSource(ctx context.Context, ownerScope string, sourceType domain.SourceType, sourceID string) (int64, error) {
	if err := domain.ValidateScope(ownerScope); err != nil {
		return 0, err
	}
	if !sourceType.IsValid() {
		return 0, domain.ErrInvalidSourceType
	}

	ctx, span := telemetry.StartSpan(ctx, "retrieval.remove_source", telemetry.SpanAttributes{
		OwnerScope: ownerScope,
		SourceType: string(sourceType),
		SourceID:   sourceID,
		Operation:  "remove_source",
	})
	defer span.End()

	n, err := s.store.DeleteBySource(ctx, ownerScope, sourceType, sourceID)
	if err != nil {
		span.SetError(err)
		return 0, fmt.Errorf("failed to delete source records: %w", err)
	}

	s.logger.Debug("source removed",
		zap.String("owner_scope", ownerScope),
		zap.String("source_type", string(sourceType)),
		zap.String("source_id", sourceID),
		zap.Int64("deleted", n))
	return n, nil
}

func (s *RetrievalService) embed(ctx context.Context, text string) ([]float32, error) {
	var vec []float32
	err := s.retry.Do(ctx, func() error {
		v, err := s.embedder.GenerateEmbedding(ctx, text)
		if err != nil {
			return err
		}
		vec = v
		return nil
	}, func(err error, wait time.Duration) {
		s.logger.Debug("embedding provider unavailable, retrying",
			zap.Duration("wait", wait), zap.Error(err))
	})
	if err != nil {
		return nil, err
	}
	return vec, nil
}
