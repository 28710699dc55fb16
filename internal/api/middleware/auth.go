package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/cloo-solutions/recall/internal/api"
	"github.com/cloo-solutions/recall/internal/domain"
)

type contextKey string

const (
	ScopeKey  contextKey = "owner_scope"
	TenantKey contextKey = "tenant_scope"

	scopeHolderKey contextKey = "scope_holder"
)

// SubjectHeader narrows the key's scope to one subject of the tenant
const SubjectHeader = "X-Recall-Subject"

type AuthValidator interface {
	ValidateAPIKey(ctx context.Context, token string) (string, error)
}

const bearerScheme = "bearer "

// bearerToken extracts the token of an Authorization header. The scheme is
// matched case-insensitively.
func bearerToken(header string) (string, bool) {
	if len(header) <= len(bearerScheme) || !strings.EqualFold(header[:len(bearerScheme)], bearerScheme) {
		return "", false
	}
	return strings.TrimSpace(header[len(bearerScheme):]), true
}

// APIKeyAuth resolves the caller's owner scope from its API key and the
// optional subject header.
func APIKeyAuth(validator AuthValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				api.ErrorWithCode(w, http.StatusUnauthorized, domain.ErrCodeUnauthorized, "missing authorization header")
				return
			}
			token, ok := bearerToken(header)
			if !ok {
				api.ErrorWithCode(w, http.StatusUnauthorized, domain.ErrCodeUnauthorized, "invalid authorization format")
				return
			}

			tenant, err := validator.ValidateAPIKey(r.Context(), token)
			switch {
			case domain.CodeOf(err) == domain.ErrCodeUnauthorized:
				// revoked and unknown keys look the same to the caller
				api.ErrorWithCode(w, http.StatusUnauthorized, domain.ErrCodeUnauthorized, "invalid api key")
				return
			case err != nil:
				api.HandleError(w, err)
				return
			}

			subject := r.Header.Get(SubjectHeader)
			if strings.Contains(subject, "/") {
				api.ErrorWithCode(w, http.StatusBadRequest, domain.ErrCodeInvalidScope, "subject cannot contain '/'")
				return
			}

			scope := domain.ScopeFor(tenant, subject)
			if holder, ok := r.Context().Value(scopeHolderKey).(*scopeHolder); ok {
				holder.scope = scope
			}

			ctx := context.WithValue(r.Context(), TenantKey, tenant)
			ctx = context.WithValue(ctx, ScopeKey, scope)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetScope returns the owner scope every request operation is confined to
func GetScope(ctx context.Context) string {
	scope, _ := ctx.Value(ScopeKey).(string)
	return scope
}

// GetTenant returns the scope bound to the API key
func GetTenant(ctx context.Context) string {
	tenant, _ := ctx.Value(TenantKey).(string)
	return tenant
}

// scopeHolder lets outer middleware see the scope resolved further down the chain
type scopeHolder struct {
	scope string
}

func ensureScopeHolder(r *http.Request) (*http.Request, *scopeHolder) {
	if holder, ok := r.Context().Value(scopeHolderKey).(*scopeHolder); ok {
		return r, holder
	}
	holder := &scopeHolder{}
	return r.WithContext(context.WithValue(r.Context(), scopeHolderKey, holder)), holder
}
