package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/cloo-solutions/recall/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"github.com/segmentio/ksuid"
)

// EmbeddingRecordRepository stores embedding records in Postgres and ranks
// them with the pgvector cosine distance operator.
type EmbeddingRecordRepository struct {
	db         dbtx
	dimensions int
	now        func() time.Time
}

func NewEmbeddingRecordRepository(pool *pgxpool.Pool, dimensions int) *EmbeddingRecordRepository {
	return newEmbeddingRecordRepository(pool, dimensions)
}

func NewEmbeddingRecordRepositoryWithTx(tx pgx.Tx, dimensions int) *EmbeddingRecordRepository {
	return newEmbeddingRecordRepository(tx, dimensions)
}

func newEmbeddingRecordRepository(db dbtx, dimensions int) *EmbeddingRecordRepository {
	if dimensions <= 0 {
		dimensions = domain.DefaultEmbeddingDimensions
	}
	return &EmbeddingRecordRepository{
		db:         db,
		dimensions: dimensions,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Dimensions returns the vector width the repository accepts
func (r *EmbeddingRecordRepository) Dimensions() int {
	return r.dimensions
}

func (r *EmbeddingRecordRepository) Put(ctx context.Context, ownerScope string, chunk domain.Chunk, vector []float32) (*domain.EmbeddingRecord, error) {
	if err := domain.ValidateScope(ownerScope); err != nil {
		return nil, err
	}
	if err := domain.ValidateChunk(chunk); err != nil {
		return nil, err
	}
	if err := domain.ValidateVector(vector, r.dimensions); err != nil {
		return nil, err
	}

	rec := &domain.EmbeddingRecord{
		ID:         ksuid.New().String(),
		OwnerScope: ownerScope,
		Chunk:      chunk,
		Vector:     append([]float32(nil), vector...),
		// Postgres keeps microseconds; truncate so the returned record matches the row.
		CreatedAt: r.now().Truncate(time.Microsecond),
	}

	_, err := r.db.Exec(ctx,
		`INSERT INTO embedding_records (id, owner_scope, source_type, source_id, ordinal, content, embedding, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.ID, rec.OwnerScope, chunk.SourceType, chunk.SourceID, chunk.Ordinal, chunk.Text,
		pgvector.NewVector(rec.Vector), rec.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert embedding record: %w", err)
	}
	return rec, nil
}

func (r *EmbeddingRecordRepository) Query(ctx context.Context, ownerScope string, vector []float32, k int, minSimilarity float64) ([]domain.RetrievalResult, error) {
	if err := domain.ValidateScope(ownerScope); err != nil {
		return nil, err
	}
	if err := domain.ValidateQuery(k, minSimilarity); err != nil {
		return nil, err
	}
	if err := domain.ValidateVector(vector, r.dimensions); err != nil {
		return nil, err
	}

	rows, err := r.db.Query(ctx,
		`SELECT source_type, source_id, ordinal, content, 1 - (embedding <=> $2) AS similarity
		 FROM embedding_records
		 WHERE owner_scope = $1 AND 1 - (embedding <=> $2) >= $3
		 ORDER BY embedding <=> $2 ASC, created_at ASC, id ASC
		 LIMIT $4`,
		ownerScope, pgvector.NewVector(vector), minSimilarity, k,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query embedding records: %w", err)
	}
	defer rows.Close()

	results := make([]domain.RetrievalResult, 0, k)
	for rows.Next() {
		var res domain.RetrievalResult
		if err := rows.Scan(&res.SourceType, &res.SourceID, &res.Ordinal, &res.Text, &res.Similarity); err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return results, rows.Err()
}

func (r *EmbeddingRecordRepository) DeleteBySource(ctx context.Context, ownerScope string, sourceType domain.SourceType, sourceID string) (int64, error) {
	if err := domain.ValidateScope(ownerScope); err != nil {
		return 0, err
	}
	cmdTag, err := r.db.Exec(ctx,
		`DELETE FROM embedding_records WHERE owner_scope = $1 AND source_type = $2 AND source_id = $3`,
		ownerScope, sourceType, sourceID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete embedding records: %w", err)
	}
	return cmdTag.RowsAffected(), nil
}

// CountBySource returns how many records a source currently has
func (r *EmbeddingRecordRepository) CountBySource(ctx context.Context, ownerScope string, sourceType domain.SourceType, sourceID string) (int, error) {
	var n int
	err := r.db.QueryRow(ctx,
		`SELECT count(*) FROM embedding_records WHERE owner_scope = $1 AND source_type = $2 AND source_id = $3`,
		ownerScope, sourceType, sourceID,
	).Scan(&n)
	return n, err
}
