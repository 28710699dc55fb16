package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cloo-solutions/recall/internal/domain"
	"github.com/cloo-solutions/recall/internal/service"
	"github.com/cloo-solutions/recall/internal/telemetry"
	"go.uber.org/zap"
)

const (
	// MaxRetries is the maximum number of attempts for an aborted job
	MaxRetries = 3

	// DefaultBatchSize is how many jobs one poll claims
	DefaultBatchSize = 10
)

// IngestJobRepository defines the interface for ingest job persistence
type IngestJobRepository interface {
	// ClaimPending moves pending jobs to processing and returns them
	ClaimPending(ctx context.Context, limit int) ([]*domain.IngestJob, error)

	// UpdateOutcome records the status and result of an attempt
	UpdateOutcome(ctx context.Context, id string, status domain.IngestJobStatus, recordCount int, failedOrdinals []int, errMsg string) error

	// IncrementRetries increments the retry count for a job
	IncrementRetries(ctx context.Context, id string) error
}

// Ingester runs the retrieval pipeline for one source
type Ingester interface {
	Ingest(ctx context.Context, in service.IngestInput) (*service.IngestResult, error)
	RemoveSource(ctx context.Context, ownerScope string, sourceType domain.SourceType, sourceID string) (int64, error)
}

// TextResolver produces the text a job ingests
type TextResolver interface {
	ResolveText(ctx context.Context, job *domain.IngestJob) (string, error)
}

// IngestWorker processes ingest jobs
type IngestWorker struct {
	repo      IngestJobRepository
	ingester  Ingester
	resolver  TextResolver
	publisher Publisher
	batchSize int
	logger    *zap.Logger
	txRunner  service.TxRunner
	now       func() time.Time
}

// IngestWorkerOption configures an IngestWorker
type IngestWorkerOption func(*IngestWorker)

// WithTxRunner makes the retry count and the attempt's outcome land in one
// transaction.
func WithTxRunner(tx service.TxRunner) IngestWorkerOption {
	return func(w *IngestWorker) { w.txRunner = tx }
}

// NewIngestWorker creates a new IngestWorker instance
func NewIngestWorker(repo IngestJobRepository, ingester Ingester, resolver TextResolver, publisher Publisher, batchSize int, logger *zap.Logger, opts ...IngestWorkerOption) *IngestWorker {
	if publisher == nil {
		publisher = NoopPublisher{}
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &IngestWorker{
		repo:      repo,
		ingester:  ingester,
		resolver:  resolver,
		publisher: publisher,
		batchSize: batchSize,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// ProcessJobs implements the JobProcessor interface
func (w *IngestWorker) ProcessJobs(ctx context.Context) error {
	jobs, err := w.repo.ClaimPending(ctx, w.batchSize)
	if err != nil {
		return fmt.Errorf("failed to fetch pending jobs: %w", err)
	}

	if len(jobs) == 0 {
		return nil
	}

	w.logger.Info("processing pending ingest jobs", zap.Int("count", len(jobs)))

	for _, job := range jobs {
		if ctx.Err() != nil {
			if err := w.requeue(ctx, job); err != nil {
				w.logger.Error("error requeueing job", zap.String("job_id", job.ID), zap.Error(err))
			}
			continue
		}
		if err := w.processJob(ctx, job); err != nil {
			w.logger.Error("error processing job", zap.String("job_id", job.ID), zap.Error(err))
		}
	}

	return nil
}

func (w *IngestWorker) processJob(ctx context.Context, job *domain.IngestJob) error {
	ctx, span := telemetry.StartTransaction(ctx, "ingest_job", "job.ingest", telemetry.SpanAttributes{
		OwnerScope: job.OwnerScope,
		SourceType: string(job.SourceType),
		SourceID:   job.SourceID,
		JobID:      job.ID,
		Operation:  "ingest",
	})
	defer span.End()

	log := w.logger.With(
		zap.String("job_id", job.ID),
		zap.String("owner_scope", job.OwnerScope),
		zap.String("source_type", string(job.SourceType)),
		zap.String("source_id", job.SourceID),
		zap.Int32("retries", job.Retries),
	)
	log.Info("processing ingest job")

	// An earlier attempt, retried or cut short by shutdown, may have left
	// records behind.
	if attemptedBefore(job) {
		if _, err := w.ingester.RemoveSource(ctx, job.OwnerScope, job.SourceType, job.SourceID); err != nil {
			return w.handleJobFailure(ctx, log, job, fmt.Errorf("failed to clear previous attempt: %w", err), nil)
		}
	}

	text, err := w.resolver.ResolveText(ctx, job)
	if err != nil {
		if service.IsPermanent(err) {
			return w.finish(ctx, log, job, domain.IngestJobStatusFailed, 0, nil, err.Error())
		}
		return w.handleJobFailure(ctx, log, job, err, nil)
	}

	result, err := w.ingester.Ingest(ctx, service.IngestInput{
		OwnerScope:   job.OwnerScope,
		SourceType:   job.SourceType,
		SourceID:     job.SourceID,
		Text:         text,
		MaxChunkSize: job.MaxChunkSize,
	})
	if err != nil {
		return w.finish(ctx, log, job, domain.IngestJobStatusFailed, 0, nil, err.Error())
	}

	switch {
	case result.Aborted():
		span.SetError(result.AbortErr)
		return w.handleJobFailure(ctx, log, job, result.AbortErr, result)
	case len(result.Failures) > 0:
		return w.finish(ctx, log, job, domain.IngestJobStatusPartial, len(result.Records), result.FailedOrdinals(), "")
	default:
		return w.finish(ctx, log, job, domain.IngestJobStatusCompleted, len(result.Records), nil, "")
	}
}

// handleJobFailure handles a failed attempt with retry logic
func (w *IngestWorker) handleJobFailure(ctx context.Context, log *zap.Logger, job *domain.IngestJob, jobErr error, result *service.IngestResult) error {
	log.Warn("ingest job attempt failed", zap.Error(jobErr))

	// Status writes must land even when the worker is shutting down.
	dbCtx := context.WithoutCancel(ctx)

	// Shutdown is not the job's fault: hand it back without spending a retry.
	if errors.Is(jobErr, context.Canceled) && ctx.Err() != nil {
		if _, err := w.ingester.RemoveSource(dbCtx, job.OwnerScope, job.SourceType, job.SourceID); err != nil {
			log.Warn("failed to clear interrupted attempt", zap.Error(err))
		}
		return w.requeue(ctx, job)
	}

	if job.Retries+1 >= MaxRetries {
		log.Error("ingest job exceeded max retries, marking as failed", zap.Int("max_retries", MaxRetries))

		var recordCount int
		var failed []int
		if result != nil {
			recordCount = len(result.Records)
			failed = result.FailedOrdinals()
		}
		errMsg := fmt.Sprintf("max retries exceeded: %v", jobErr)
		if err := w.recordAttempt(dbCtx, job.ID, domain.IngestJobStatusFailed, recordCount, failed, errMsg); err != nil {
			return err
		}
		w.announce(ctx, log, job, domain.IngestJobStatusFailed, recordCount, failed, errMsg)
		return nil
	}

	log.Info("ingest job will be retried",
		zap.Int32("attempt", job.Retries+1), zap.Int("max_retries", MaxRetries))
	errMsg := fmt.Sprintf("retry %d: %v", job.Retries+1, jobErr)
	return w.recordAttempt(dbCtx, job.ID, domain.IngestJobStatusPending, 0, nil, errMsg)
}

// recordAttempt spends a retry and stores the attempt's outcome
func (w *IngestWorker) recordAttempt(ctx context.Context, id string, status domain.IngestJobStatus, recordCount int, failed []int, errMsg string) error {
	write := func(repo service.IngestJobWriter) error {
		if err := repo.IncrementRetries(ctx, id); err != nil {
			return fmt.Errorf("failed to increment retries: %w", err)
		}
		if err := repo.UpdateOutcome(ctx, id, status, recordCount, failed, errMsg); err != nil {
			return fmt.Errorf("failed to update job status to %s: %w", status, err)
		}
		return nil
	}

	if w.txRunner == nil {
		return write(w.repo)
	}
	return w.txRunner.WithTx(ctx, func(repos service.TxRepositories) error {
		return write(repos.IngestJobs())
	})
}

// attemptedBefore reports whether the job ran earlier. Every retried or
// requeued job carries the error of its previous attempt.
func attemptedBefore(job *domain.IngestJob) bool {
	return job.Retries > 0 || job.Error != ""
}

// requeue hands a claimed job back to the queue without spending a retry
func (w *IngestWorker) requeue(ctx context.Context, job *domain.IngestJob) error {
	err := w.repo.UpdateOutcome(context.WithoutCancel(ctx), job.ID, domain.IngestJobStatusPending, 0, nil, "interrupted by shutdown")
	if err != nil {
		return fmt.Errorf("failed to requeue interrupted job: %w", err)
	}
	return nil
}

// finish records a terminal outcome and publishes it
func (w *IngestWorker) finish(ctx context.Context, log *zap.Logger, job *domain.IngestJob, status domain.IngestJobStatus, recordCount int, failed []int, errMsg string) error {
	if err := w.repo.UpdateOutcome(context.WithoutCancel(ctx), job.ID, status, recordCount, failed, errMsg); err != nil {
		return fmt.Errorf("failed to update job status to %s: %w", status, err)
	}
	w.announce(ctx, log, job, status, recordCount, failed, errMsg)
	return nil
}

// announce applies a terminal outcome to the job, logs it and publishes it
func (w *IngestWorker) announce(ctx context.Context, log *zap.Logger, job *domain.IngestJob, status domain.IngestJobStatus, recordCount int, failed []int, errMsg string) {
	job.Status = status
	job.RecordCount = recordCount
	job.FailedOrdinals = failed
	job.Error = errMsg
	now := w.now()
	job.ProcessedAt = &now

	fields := []zap.Field{
		zap.String("status", string(status)),
		zap.Int("records", recordCount),
		zap.Ints("failed_ordinals", failed),
	}
	if status == domain.IngestJobStatusFailed {
		log.Error("ingest job failed", append(fields, zap.String("error", errMsg))...)
	} else {
		log.Info("ingest job finished", fields...)
	}

	if err := w.publisher.Publish(context.WithoutCancel(ctx), NewJobEvent(job, now)); err != nil {
		log.Warn("failed to publish job event", zap.Error(err))
	}
}
