package repository

import (
	"context"
	"sync"

	"github.com/noah-isme/patra-api/internal/models"
	"github.com/noah-isme/patra-api/pkg/cache"
	appErrors "github.com/noah-isme/patra-api/pkg/errors"
)

// SessionRepository keeps one desk session in Redis under a per-desk key, so
// a console restart resumes the session.
type SessionRepository struct {
	cache *CacheRepository
	key   string
}

// NewSessionRepository constructs a redis-backed session store for deskID.
func NewSessionRepository(store *CacheRepository, deskID string) *SessionRepository {
	return &SessionRepository{cache: store, key: sessionKey(deskID)}
}

func sessionKey(deskID string) string {
	return cache.PrefixSession + deskID
}

// Load returns the stored record or appErrors.ErrCacheMiss.
func (r *SessionRepository) Load(ctx context.Context) (*models.SessionRecord, error) {
	var record models.SessionRecord
	if err := r.cache.Get(ctx, r.key, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// Save replaces the stored record. Expiry is enforced by the session
// authority, not by a key TTL.
func (r *SessionRepository) Save(ctx context.Context, record models.SessionRecord) error {
	return r.cache.Set(ctx, r.key, record, 0)
}

// Clear removes the record.
func (r *SessionRepository) Clear(ctx context.Context) error {
	return r.cache.Delete(ctx, r.key)
}

// MemorySessionStore keeps the session in process memory.
type MemorySessionStore struct {
	mu     sync.Mutex
	record *models.SessionRecord
}

// NewMemorySessionStore constructs an empty in-memory store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{}
}

// Load returns a copy of the stored record or appErrors.ErrCacheMiss.
func (s *MemorySessionStore) Load(ctx context.Context) (*models.SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.record == nil {
		return nil, appErrors.ErrCacheMiss
	}
	record := *s.record
	return &record, nil
}

// Save replaces the stored record.
func (s *MemorySessionStore) Save(ctx context.Context, record models.SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record = &record
	return nil
}

// Clear removes the record.
func (s *MemorySessionStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record = nil
	return nil
}
