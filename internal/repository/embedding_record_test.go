//go:build integration

package repository

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cloo-solutions/recall/internal/domain"
	"github.com/cloo-solutions/recall/internal/testutil"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDims = domain.DefaultEmbeddingDimensions

// vec pads the leading values with zeros up to the column width
func vec(values ...float32) []float32 {
	v := make([]float32, testDims)
	copy(v, values)
	return v
}

func chunkOf(sourceType domain.SourceType, sourceID string, ordinal int, text string) domain.Chunk {
	return domain.Chunk{SourceType: sourceType, SourceID: sourceID, Ordinal: ordinal, Text: text}
}

func setupRecordRepo(ctx context.Context, t *testing.T) (*EmbeddingRecordRepository, *pgxpool.Pool) {
	t.Helper()
	pc := testutil.NewPostgresContainer(ctx, t)
	t.Cleanup(func() { _ = pc.Terminate(ctx) })

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	t.Cleanup(pool.Close)

	return NewEmbeddingRecordRepository(pool, testDims), pool
}

func TestEmbeddingRecordRepository_PutAndQuery(t *testing.T) {
	ctx := context.Background()
	repo, _ := setupRecordRepo(ctx, t)

	a, err := repo.Put(ctx, "user-1", chunkOf(domain.SourceTypeFile, "a", 0, "alpha"), vec(1, 0))
	require.NoError(t, err)
	assert.NotEmpty(t, a.ID)
	assert.False(t, a.CreatedAt.IsZero())

	_, err = repo.Put(ctx, "user-1", chunkOf(domain.SourceTypeFile, "b", 0, "beta"), vec(0.9, 0.1))
	require.NoError(t, err)
	_, err = repo.Put(ctx, "user-1", chunkOf(domain.SourceTypeFile, "c", 0, "gamma"), vec(0, 1))
	require.NoError(t, err)

	results, err := repo.Query(ctx, "user-1", vec(1, 0), 2, -1)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].SourceID)
	assert.InDelta(t, 1.0, results[0].Similarity, 1e-6)
	assert.Equal(t, "b", results[1].SourceID)
	assert.InDelta(t, 0.9939, results[1].Similarity, 1e-3)
	assert.Equal(t, "alpha", results[0].Text)
	assert.Equal(t, domain.SourceTypeFile, results[0].SourceType)
}

func TestEmbeddingRecordRepository_Query_MinSimilarity(t *testing.T) {
	ctx := context.Background()
	repo, _ := setupRecordRepo(ctx, t)

	_, err := repo.Put(ctx, "s", chunkOf(domain.SourceTypeMessage, "a", 0, "same"), vec(1, 0))
	require.NoError(t, err)
	_, err = repo.Put(ctx, "s", chunkOf(domain.SourceTypeMessage, "b", 0, "orthogonal"), vec(0, 1))
	require.NoError(t, err)
	_, err = repo.Put(ctx, "s", chunkOf(domain.SourceTypeMessage, "c", 0, "opposite"), vec(-1, 0))
	require.NoError(t, err)

	results, err := repo.Query(ctx, "s", vec(1, 0), 10, 0.5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].SourceID)

	results, err = repo.Query(ctx, "s", vec(1, 0), 10, -1)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "c", results[2].SourceID)
	assert.InDelta(t, -1.0, results[2].Similarity, 1e-6)
}

func TestEmbeddingRecordRepository_ScopeIsolation(t *testing.T) {
	ctx := context.Background()
	repo, _ := setupRecordRepo(ctx, t)

	_, err := repo.Put(ctx, "A", chunkOf(domain.SourceTypeFile, "doc", 0, "secret"), vec(1, 0))
	require.NoError(t, err)

	results, err := repo.Query(ctx, "B", vec(1, 0), 10, -1)
	require.NoError(t, err)
	assert.Empty(t, results)

	n, err := repo.DeleteBySource(ctx, "B", domain.SourceTypeFile, "doc")
	require.NoError(t, err)
	assert.Zero(t, n)

	results, err = repo.Query(ctx, "A", vec(1, 0), 10, -1)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestEmbeddingRecordRepository_TiesOrderedByCreation(t *testing.T) {
	ctx := context.Background()
	repo, _ := setupRecordRepo(ctx, t)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var step int
	repo.now = func() time.Time {
		step++
		return base.Add(time.Duration(step) * time.Second)
	}

	for _, id := range []string{"first", "second", "third"} {
		_, err := repo.Put(ctx, "s", chunkOf(domain.SourceTypeMessage, id, 0, id), vec(0.5, 0.5))
		require.NoError(t, err)
	}

	results, err := repo.Query(ctx, "s", vec(1, 1), 3, -1)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, []string{"first", "second", "third"},
		[]string{results[0].SourceID, results[1].SourceID, results[2].SourceID})
}

func TestEmbeddingRecordRepository_DeleteBySource(t *testing.T) {
	ctx := context.Background()
	repo, _ := setupRecordRepo(ctx, t)

	for i := 0; i < 3; i++ {
		_, err := repo.Put(ctx, "s", chunkOf(domain.SourceTypeFile, "doc", i, "part"), vec(1, float32(i)))
		require.NoError(t, err)
	}
	_, err := repo.Put(ctx, "s", chunkOf(domain.SourceTypeMessage, "doc", 0, "same id, other type"), vec(1, 0))
	require.NoError(t, err)

	count, err := repo.CountBySource(ctx, "s", domain.SourceTypeFile, "doc")
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	n, err := repo.DeleteBySource(ctx, "s", domain.SourceTypeFile, "doc")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	n, err = repo.DeleteBySource(ctx, "s", domain.SourceTypeFile, "doc")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	count, err = repo.CountBySource(ctx, "s", domain.SourceTypeMessage, "doc")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestEmbeddingRecordRepository_Validation(t *testing.T) {
	ctx := context.Background()
	repo, _ := setupRecordRepo(ctx, t)

	_, err := repo.Put(ctx, "", chunkOf(domain.SourceTypeFile, "doc", 0, "x"), vec(1))
	assert.ErrorIs(t, err, domain.ErrInvalidScope)

	_, err = repo.Put(ctx, "s", chunkOf(domain.SourceTypeFile, "doc", 0, "x"), []float32{1, 0})
	assert.ErrorIs(t, err, domain.ErrInvalidDimension)

	_, err = repo.Put(ctx, "s", chunkOf(domain.SourceTypeFile, "doc", 0, "x"), vec())
	assert.ErrorIs(t, err, domain.ErrZeroVector)

	_, err = repo.Query(ctx, "s", vec(1), 0, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidLimit)

	_, err = repo.Query(ctx, "s", vec(1), 1, 1.5)
	assert.ErrorIs(t, err, domain.ErrInvalidMinSimilarity)

	_, err = repo.Query(ctx, "", vec(1), 1, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidScope)
}

func TestEmbeddingRecordRepository_ConcurrentPutsSameSource(t *testing.T) {
	ctx := context.Background()
	repo, _ := setupRecordRepo(ctx, t)

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 5; i++ {
				_, err := repo.Put(ctx, "s", chunkOf(domain.SourceTypeFile, "doc", i, strings.Repeat("x", i+1)), vec(1, float32(i)))
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	count, err := repo.CountBySource(ctx, "s", domain.SourceTypeFile, "doc")
	require.NoError(t, err)
	assert.Equal(t, 20, count)
}
