package repository

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/cloo-solutions/recall/internal/domain"
	"github.com/cloo-solutions/recall/internal/pagination"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// uniqueViolation is the Postgres SQLSTATE for a duplicate key
const uniqueViolation = "23505"

// apiKeyColumns matches the field order of domain.APIKey
const apiKeyColumns = `id, owner_scope, name, key_hash, created_at, revoked_at`

const defaultAPIKeyPageSize = 20

type APIKeyRepository struct {
	pool *pgxpool.Pool
}

func NewAPIKeyRepository(pool *pgxpool.Pool) *APIKeyRepository {
	return &APIKeyRepository{pool: pool}
}

func (r *APIKeyRepository) Create(ctx context.Context, key *domain.APIKey) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO api_keys (`+apiKeyColumns+`) VALUES ($1, $2, $3, $4, $5, $6)`,
		key.ID, key.OwnerScope, key.Name, key.KeyHash, key.CreatedAt, key.RevokedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return domain.ErrAPIKeyAlreadyExists.WithCause(err)
	}
	return err
}

func (r *APIKeyRepository) GetByID(ctx context.Context, id string) (*domain.APIKey, error) {
	return r.getOne(ctx, `SELECT `+apiKeyColumns+` FROM api_keys WHERE id = $1`, id)
}

// GetByHash looks a key up by the hash of its token
func (r *APIKeyRepository) GetByHash(ctx context.Context, hash string) (*domain.APIKey, error) {
	return r.getOne(ctx, `SELECT `+apiKeyColumns+` FROM api_keys WHERE key_hash = $1`, hash)
}

func (r *APIKeyRepository) getOne(ctx context.Context, query string, arg any) (*domain.APIKey, error) {
	rows, err := r.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	key, err := pgx.CollectExactlyOneRow(rows, pgx.RowToAddrOfStructByPos[domain.APIKey])
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrAPIKeyNotFound
	}
	return key, err
}

// ListByScope returns every key of a tenant, newest first
func (r *APIKeyRepository) ListByScope(ctx context.Context, ownerScope string) ([]*domain.APIKey, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE owner_scope = $1 ORDER BY created_at DESC, id DESC`,
		ownerScope,
	)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToAddrOfStructByPos[domain.APIKey])
}

// ListByScopeWithCursor pages through a tenant's keys using keyset pagination
// on (created_at, id).
func (r *APIKeyRepository) ListByScopeWithCursor(ctx context.Context, ownerScope string, cursor *pagination.Cursor, limit int) (*pagination.PageResult[*domain.APIKey], error) {
	if limit <= 0 {
		limit = defaultAPIKeyPageSize
	}

	query := `SELECT ` + apiKeyColumns + ` FROM api_keys WHERE owner_scope = $1`
	args := []any{ownerScope}
	if cursor != nil {
		query += ` AND (created_at, id) < ($2, $3)`
		args = append(args, cursor.Timestamp, cursor.LastID)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ` + placeholder(len(args)+1)
	args = append(args, limit+1)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	keys, err := pgx.CollectRows(rows, pgx.RowToAddrOfStructByPos[domain.APIKey])
	if err != nil {
		return nil, err
	}
	return pagination.NewPage(keys, limit, apiKeyCursorKey), nil
}

// Revoke marks an active key revoked. Revoking twice reports not found.
func (r *APIKeyRepository) Revoke(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE api_keys SET revoked_at = $1 WHERE id = $2 AND revoked_at IS NULL`,
		time.Now().UTC(), id,
	)
	return affectedOne(tag, err)
}

func (r *APIKeyRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM api_keys WHERE id = $1`, id)
	return affectedOne(tag, err)
}

func affectedOne(tag pgconn.CommandTag, err error) error {
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAPIKeyNotFound
	}
	return nil
}

// placeholder returns the nth positional parameter
func placeholder(n int) string {
	return "$" + strconv.Itoa(n)
}

func apiKeyCursorKey(k *domain.APIKey) (string, time.Time) {
	return k.ID, k.CreatedAt
}
