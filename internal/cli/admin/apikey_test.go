package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/cloo-solutions/recall/internal/domain"
	"github.com/cloo-solutions/recall/internal/pagination"
	"github.com/cloo-solutions/recall/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeKeys struct {
	issued    *service.IssuedKey
	page      *pagination.PageResult[*domain.APIKey]
	err       error
	gotCursor *pagination.Cursor
	gotLimit  int
	revoked   []string
}

func (f *fakeKeys) IssueAPIKey(ctx context.Context, tenant, name string) (*service.IssuedKey, error) {
	return f.issued, f.err
}

func (f *fakeKeys) RevokeAPIKey(ctx context.Context, keyID string) error {
	f.revoked = append(f.revoked, keyID)
	return f.err
}

func (f *fakeKeys) ListByScopeWithCursor(ctx context.Context, ownerScope string, cursor *pagination.Cursor, limit int) (*pagination.PageResult[*domain.APIKey], error) {
	f.gotCursor, f.gotLimit = cursor, limit
	return f.page, f.err
}

func TestRunAPIKeyCreate(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	keys := &fakeKeys{issued: &service.IssuedKey{
		Key:   &domain.APIKey{ID: "key-1", OwnerScope: "acme", Name: "ci", CreatedAt: created},
		Token: "rcl_secret",
	}}

	t.Run("text", func(t *testing.T) {
		var out bytes.Buffer
		require.NoError(t, runAPIKeyCreate(context.Background(), &out, keys, "acme", "ci", false))
		assert.Contains(t, out.String(), "Created key key-1 (ci) for scope acme")
		assert.Contains(t, out.String(), "Token: rcl_secret")
	})

	t.Run("json", func(t *testing.T) {
		var out bytes.Buffer
		require.NoError(t, runAPIKeyCreate(context.Background(), &out, keys, "acme", "ci", true))

		var view apiKeyView
		require.NoError(t, json.Unmarshal(out.Bytes(), &view))
		assert.Equal(t, "key-1", view.ID)
		assert.Equal(t, "rcl_secret", view.Token)
		assert.False(t, view.Revoked)
		require.NotNil(t, view.CreatedAt)
		assert.True(t, created.Equal(*view.CreatedAt))
	})

	t.Run("error", func(t *testing.T) {
		failing := &fakeKeys{err: domain.ErrTenantScopeNested}
		err := runAPIKeyCreate(context.Background(), &bytes.Buffer{}, failing, "acme/u", "ci", false)
		assert.ErrorIs(t, err, domain.ErrTenantScopeNested)
	})
}

func TestRunAPIKeyList(t *testing.T) {
	now := time.Now().UTC()
	keys := &fakeKeys{page: &pagination.PageResult[*domain.APIKey]{
		Items: []*domain.APIKey{
			{ID: "key-2", Name: "new", OwnerScope: "acme", CreatedAt: now},
			{ID: "key-1", Name: "old", OwnerScope: "acme", CreatedAt: now.Add(-time.Hour), RevokedAt: &now},
		},
		Cursor:  "next-token",
		HasMore: true,
	}}

	t.Run("text", func(t *testing.T) {
		var out bytes.Buffer
		require.NoError(t, runAPIKeyList(context.Background(), &out, keys, "acme", "", 2, false))
		assert.Contains(t, out.String(), "key-2")
		assert.Contains(t, out.String(), "revoked")
		assert.Contains(t, out.String(), "--cursor next-token")
		assert.Nil(t, keys.gotCursor)
		assert.Equal(t, 2, keys.gotLimit)
	})

	t.Run("json", func(t *testing.T) {
		var out bytes.Buffer
		require.NoError(t, runAPIKeyList(context.Background(), &out, keys, "acme", "", 2, true))

		var page apiKeyPage
		require.NoError(t, json.Unmarshal(out.Bytes(), &page))
		require.Len(t, page.Items, 2)
		assert.True(t, page.Items[1].Revoked)
		assert.Empty(t, page.Items[0].Token)
		assert.Equal(t, "next-token", page.Cursor)
		assert.True(t, page.HasMore)
	})

	t.Run("passes decoded cursor", func(t *testing.T) {
		token := pagination.EncodeCursor("key-9", now)
		require.NoError(t, runAPIKeyList(context.Background(), &bytes.Buffer{}, keys, "acme", token, 5, false))
		require.NotNil(t, keys.gotCursor)
		assert.Equal(t, "key-9", keys.gotCursor.LastID)
	})

	t.Run("rejects bad input", func(t *testing.T) {
		err := runAPIKeyList(context.Background(), &bytes.Buffer{}, keys, "acme/u1", "", 5, false)
		assert.ErrorIs(t, err, domain.ErrTenantScopeNested)

		err = runAPIKeyList(context.Background(), &bytes.Buffer{}, keys, "acme", "!!", 5, false)
		assert.ErrorContains(t, err, "invalid cursor")
	})

	t.Run("empty", func(t *testing.T) {
		empty := &fakeKeys{page: &pagination.PageResult[*domain.APIKey]{}}
		var out bytes.Buffer
		require.NoError(t, runAPIKeyList(context.Background(), &out, empty, "acme", "", 5, false))
		assert.Equal(t, "No API keys for scope acme\n", out.String())
	})
}

func TestRunAPIKeyRevoke(t *testing.T) {
	keys := &fakeKeys{}
	var out bytes.Buffer
	require.NoError(t, runAPIKeyRevoke(context.Background(), &out, keys, "key-1", true))
	assert.Equal(t, []string{"key-1"}, keys.revoked)
	assert.JSONEq(t, `{"id":"key-1","revoked":true}`, out.String())

	missing := &fakeKeys{err: domain.ErrAPIKeyNotFound}
	err := runAPIKeyRevoke(context.Background(), &bytes.Buffer{}, missing, "key-404", false)
	assert.True(t, errors.Is(err, domain.ErrAPIKeyNotFound))
}
