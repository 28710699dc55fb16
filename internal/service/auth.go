package service

import (
	"context"
	"errors"
	"time"

	"github.com/cloo-solutions/recall/internal/domain"
)

type APIKeyRepository interface {
	Create(ctx context.Context, key *domain.APIKey) error
	GetByHash(ctx context.Context, hash string) (*domain.APIKey, error)
	ListByScope(ctx context.Context, ownerScope string) ([]*domain.APIKey, error)
	Revoke(ctx context.Context, id string) error
}

// IssuedKey pairs a stored key with its plaintext token. The token is only
// available at issue time.
type IssuedKey struct {
	Key   *domain.APIKey
	Token string
}

type AuthService struct {
	keyRepo APIKeyRepository
	uuidGen UUIDGenerator
	now     func() time.Time
}

func NewAuthService(keyRepo APIKeyRepository, uuidGen UUIDGenerator) *AuthService {
	return &AuthService{
		keyRepo: keyRepo,
		uuidGen: uuidGen,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// IssueAPIKey generates a token for a tenant scope and stores its hash.
func (s *AuthService) IssueAPIKey(ctx context.Context, tenant, name string) (*IssuedKey, error) {
	token, err := domain.NewAPIToken()
	if err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeInternalError, "failed to generate API key", err)
	}
	return s.register(ctx, tenant, name, token)
}

// EnsureAPIKey registers a caller-chosen token unless it is already stored.
// created reports whether a new key was written.
func (s *AuthService) EnsureAPIKey(ctx context.Context, tenant, name, token string) (key *domain.APIKey, created bool, err error) {
	if !domain.IsValidAPIToken(token) {
		return nil, false, domain.ErrMalformedAPIToken
	}

	existing, err := s.keyRepo.GetByHash(ctx, domain.HashAPIToken(token))
	switch {
	case err == nil:
		return existing, false, nil
	case !errors.Is(err, domain.ErrAPIKeyNotFound):
		return nil, false, err
	}

	issued, err := s.register(ctx, tenant, name, token)
	if err != nil {
		return nil, false, err
	}
	return issued.Key, true, nil
}

func (s *AuthService) register(ctx context.Context, tenant, name, token string) (*IssuedKey, error) {
	if name == "" {
		return nil, domain.ErrMissingAPIKeyName
	}
	key := &domain.APIKey{
		ID:         s.uuidGen.NewString(),
		OwnerScope: tenant,
		Name:       name,
		KeyHash:    domain.HashAPIToken(token),
		CreatedAt:  s.now(),
	}
	if err := key.Validate(); err != nil {
		return nil, err
	}
	if err := s.keyRepo.Create(ctx, key); err != nil {
		return nil, err
	}
	return &IssuedKey{Key: key, Token: token}, nil
}

// Authenticate resolves a token to its active key. Unknown and malformed
// tokens are indistinguishable to the caller.
func (s *AuthService) Authenticate(ctx context.Context, token string) (*domain.APIKey, error) {
	if !domain.IsValidAPIToken(token) {
		return nil, domain.ErrInvalidAPIKey
	}

	key, err := s.keyRepo.GetByHash(ctx, domain.HashAPIToken(token))
	if errors.Is(err, domain.ErrAPIKeyNotFound) {
		return nil, domain.ErrInvalidAPIKey
	}
	if err != nil {
		return nil, err
	}
	if key.IsRevoked() {
		return nil, domain.ErrAPIKeyRevoked
	}
	return key, nil
}

// ValidateAPIKey returns the tenant scope of an active key
func (s *AuthService) ValidateAPIKey(ctx context.Context, token string) (string, error) {
	key, err := s.Authenticate(ctx, token)
	if err != nil {
		return "", err
	}
	return key.OwnerScope, nil
}

func (s *AuthService) RevokeAPIKey(ctx context.Context, keyID string) error {
	if keyID == "" {
		return domain.ErrMissingAPIKeyID
	}
	return s.keyRepo.Revoke(ctx, keyID)
}

func (s *AuthService) ListAPIKeys(ctx context.Context, tenant string) ([]*domain.APIKey, error) {
	if err := domain.ValidateTenantScope(tenant); err != nil {
		return nil, err
	}
	return s.keyRepo.ListByScope(ctx, tenant)
}
