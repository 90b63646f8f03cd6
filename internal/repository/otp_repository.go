package repository

import (
	"context"
	"strings"
	"time"

	"github.com/noah-isme/patra-api/internal/models"
	"github.com/noah-isme/patra-api/pkg/cache"
)

// OTPRepository keeps password reset codes in Redis, one per email.
type OTPRepository struct {
	cache *CacheRepository
}

// NewOTPRepository constructs an OTPRepository.
func NewOTPRepository(store *CacheRepository) *OTPRepository {
	return &OTPRepository{cache: store}
}

func otpKey(email string) string {
	return cache.PrefixOTP + strings.ToLower(strings.TrimSpace(email))
}

// Save stores record until its expiry.
func (r *OTPRepository) Save(ctx context.Context, email string, record models.OTPRecord) error {
	ttl := time.Until(record.ExpiresAt)
	if ttl <= 0 {
		ttl = time.Second
	}
	return r.cache.Set(ctx, otpKey(email), record, ttl)
}

// Load returns the stored record or appErrors.ErrCacheMiss.
func (r *OTPRepository) Load(ctx context.Context, email string) (*models.OTPRecord, error) {
	var record models.OTPRecord
	if err := r.cache.Get(ctx, otpKey(email), &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// Delete removes the code for email.
func (r *OTPRepository) Delete(ctx context.Context, email string) error {
	return r.cache.Delete(ctx, otpKey(email))
}
