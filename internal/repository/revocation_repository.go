package repository

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/noah-isme/patra-api/pkg/cache"
)

// RevocationRepository remembers signed-out credentials until they would
// have expired anyway.
type RevocationRepository struct {
	cache *CacheRepository
}

// NewRevocationRepository constructs a RevocationRepository.
func NewRevocationRepository(store *CacheRepository) *RevocationRepository {
	return &RevocationRepository{cache: store}
}

func revocationKey(credential string) string {
	sum := sha256.Sum256([]byte(credential))
	return cache.PrefixRevocation + hex.EncodeToString(sum[:])
}

// Revoke marks credential revoked for ttl.
func (r *RevocationRepository) Revoke(ctx context.Context, credential string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	return r.cache.Set(ctx, revocationKey(credential), true, ttl)
}

// IsRevoked reports whether credential was revoked.
func (r *RevocationRepository) IsRevoked(ctx context.Context, credential string) (bool, error) {
	return r.cache.Exists(ctx, revocationKey(credential))
}
