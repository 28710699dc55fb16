package domain

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

const (
	// APITokenPrefix marks every token issued by this service.
	APITokenPrefix = "rcl_"

	apiTokenSecretBytes = 32
)

// APIKey authenticates a tenant. Every request made with the key is confined
// to OwnerScope or a subject scope beneath it. Only the token hash is kept.
type APIKey struct {
	ID         string
	OwnerScope string
	Name       string
	KeyHash    string
	CreatedAt  time.Time
	RevokedAt  *time.Time
}

func (a *APIKey) IsRevoked() bool {
	return a.RevokedAt != nil
}

// Validate checks that the key is ready to be persisted
func (a *APIKey) Validate() error {
	if a.ID == "" || a.Name == "" || a.KeyHash == "" {
		return ErrInvalidAPIKeyRecord
	}
	return ValidateTenantScope(a.OwnerScope)
}

// ValidateTenantScope rejects scopes that would collide with subject scopes
func ValidateTenantScope(scope string) error {
	if err := ValidateScope(scope); err != nil {
		return err
	}
	if strings.Contains(scope, scopeSeparator) {
		return ErrTenantScopeNested
	}
	return nil
}

// NewAPIToken returns a fresh random token: the prefix followed by 64 hex chars.
func NewAPIToken() (string, error) {
	secret := make([]byte, apiTokenSecretBytes)
	if _, err := rand.Read(secret); err != nil {
		return "", err
	}
	return APITokenPrefix + hex.EncodeToString(secret), nil
}

// IsValidAPIToken checks the token shape without consulting storage.
func IsValidAPIToken(token string) bool {
	secret, ok := strings.CutPrefix(token, APITokenPrefix)
	if !ok || len(secret) != 2*apiTokenSecretBytes {
		return false
	}
	_, err := hex.DecodeString(secret)
	return err == nil
}

// HashAPIToken is the lookup key stored in place of the plaintext token.
func HashAPIToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
