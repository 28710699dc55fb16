package repository

import (
	"context"
	"errors"
	"time"

	"github.com/cloo-solutions/recall/internal/domain"
	"github.com/cloo-solutions/recall/internal/pagination"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

const ingestJobColumns = `id, owner_scope, source_type, source_id, text, object_key, content_type, max_chunk_size,
	status, retries, error, record_count, failed_ordinals, created_at, processed_at`

type IngestJobRepository struct {
	db dbtx
}

func NewIngestJobRepository(pool *pgxpool.Pool) *IngestJobRepository {
	return &IngestJobRepository{db: pool}
}

func NewIngestJobRepositoryWithTx(tx pgx.Tx) *IngestJobRepository {
	return &IngestJobRepository{db: tx}
}

func (r *IngestJobRepository) Create(ctx context.Context, job *domain.IngestJob) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO ingest_jobs (id, owner_scope, source_type, source_id, text, object_key, content_type, max_chunk_size,
		                          status, retries, error, record_count, failed_ordinals, created_at, processed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		job.ID, job.OwnerScope, job.SourceType, job.SourceID,
		job.Text, nullableString(job.ObjectKey), nullableString(job.ContentType), job.MaxChunkSize,
		job.Status, job.Retries, nullableString(job.Error), job.RecordCount, toInt32s(job.FailedOrdinals),
		job.CreatedAt, job.ProcessedAt,
	)
	return err
}

// GetByID returns the job only if it belongs to ownerScope
func (r *IngestJobRepository) GetByID(ctx context.Context, ownerScope, id string) (*domain.IngestJob, error) {
	job, err := scanIngestJob(r.db.QueryRow(ctx,
		`SELECT `+ingestJobColumns+` FROM ingest_jobs WHERE id = $1 AND owner_scope = $2`,
		id, ownerScope,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrIngestJobNotFound
		}
		return nil, err
	}
	return job, nil
}

func (r *IngestJobRepository) ListByScopeWithCursor(ctx context.Context, ownerScope string, cursor *pagination.Cursor, limit int) (*pagination.PageResult[*domain.IngestJob], error) {
	if limit <= 0 {
		limit = 20
	}

	var rows pgx.Rows
	var err error

	if cursor != nil {
		rows, err = r.db.Query(ctx,
			`SELECT `+ingestJobColumns+`
			 FROM ingest_jobs
			 WHERE owner_scope = $1 AND (created_at, id) < ($2, $3)
			 ORDER BY created_at DESC, id DESC
			 LIMIT $4`,
			ownerScope, cursor.Timestamp, cursor.LastID, limit+1,
		)
	} else {
		rows, err = r.db.Query(ctx,
			`SELECT `+ingestJobColumns+`
			 FROM ingest_jobs
			 WHERE owner_scope = $1
			 ORDER BY created_at DESC, id DESC
			 LIMIT $2`,
			ownerScope, limit+1,
		)
	}
	if err != nil {
		return nil, err
	}

	jobs, err := collectIngestJobs(rows)
	if err != nil {
		return nil, err
	}

	return pagination.NewPage(jobs, limit, ingestJobCursorKey), nil
}

// ClaimPending moves up to limit pending jobs to processing. Concurrent
// claimers never receive the same job.
func (r *IngestJobRepository) ClaimPending(ctx context.Context, limit int) ([]*domain.IngestJob, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := r.db.Query(ctx,
		`WITH cte AS (
			 SELECT id
			 FROM ingest_jobs
			 WHERE status = $1
			 ORDER BY created_at ASC
			 FOR UPDATE SKIP LOCKED
			 LIMIT $2
		 )
		 UPDATE ingest_jobs
		 SET status = $3,
		     processed_at = NULL
		 FROM cte
		 WHERE ingest_jobs.id = cte.id
		 RETURNING ingest_jobs.id, ingest_jobs.owner_scope, ingest_jobs.source_type, ingest_jobs.source_id,
		           ingest_jobs.text, ingest_jobs.object_key, ingest_jobs.content_type, ingest_jobs.max_chunk_size,
		           ingest_jobs.status, ingest_jobs.retries, ingest_jobs.error, ingest_jobs.record_count,
		           ingest_jobs.failed_ordinals, ingest_jobs.created_at, ingest_jobs.processed_at`,
		domain.IngestJobStatusPending, limit, domain.IngestJobStatusProcessing,
	)
	if err != nil {
		return nil, err
	}
	return collectIngestJobs(rows)
}

// UpdateOutcome records the result of one processing attempt. Terminal
// statuses also stamp processed_at.
func (r *IngestJobRepository) UpdateOutcome(ctx context.Context, id string, status domain.IngestJobStatus, recordCount int, failedOrdinals []int, errMsg string) error {
	var processedAt *time.Time
	switch status {
	case domain.IngestJobStatusCompleted, domain.IngestJobStatusPartial, domain.IngestJobStatusFailed:
		now := time.Now().UTC()
		processedAt = &now
	}

	cmdTag, err := r.db.Exec(ctx,
		`UPDATE ingest_jobs
		 SET status = $1, record_count = $2, failed_ordinals = $3, error = $4, processed_at = $5
		 WHERE id = $6`,
		status, recordCount, toInt32s(failedOrdinals), nullableString(errMsg), processedAt, id,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrIngestJobNotFound
	}
	return nil
}

func (r *IngestJobRepository) IncrementRetries(ctx context.Context, id string) error {
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE ingest_jobs SET retries = retries + 1 WHERE id = $1`,
		id,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrIngestJobNotFound
	}
	return nil
}

func collectIngestJobs(rows pgx.Rows) ([]*domain.IngestJob, error) {
	defer rows.Close()

	var jobs []*domain.IngestJob
	for rows.Next() {
		job, err := scanIngestJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func scanIngestJob(row pgx.Row) (*domain.IngestJob, error) {
	var job domain.IngestJob
	var objectKey, contentType, errMsg pgtype.Text
	var failed []int32
	err := row.Scan(
		&job.ID, &job.OwnerScope, &job.SourceType, &job.SourceID,
		&job.Text, &objectKey, &contentType, &job.MaxChunkSize,
		&job.Status, &job.Retries, &errMsg, &job.RecordCount, &failed,
		&job.CreatedAt, &job.ProcessedAt,
	)
	if err != nil {
		return nil, err
	}
	if objectKey.Valid {
		job.ObjectKey = objectKey.String
	}
	if contentType.Valid {
		job.ContentType = contentType.String
	}
	if errMsg.Valid {
		job.Error = errMsg.String
	}
	if len(failed) > 0 {
		job.FailedOrdinals = make([]int, len(failed))
		for i, o := range failed {
			job.FailedOrdinals[i] = int(o)
		}
	}
	return &job, nil
}

func toInt32s(values []int) []int32 {
	out := make([]int32, len(values))
	for i, v := range values {
		out[i] = int32(v)
	}
	return out
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func ingestJobCursorKey(j *domain.IngestJob) (string, time.Time) {
	return j.ID, j.CreatedAt
}
