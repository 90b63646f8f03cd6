package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/patra-api/pkg/errors"
)

type hitCounter struct {
	hits, misses int
}

func (h *hitCounter) RecordCacheOperation(hit bool, _ time.Duration) {
	if hit {
		h.hits++
		return
	}
	h.misses++
}

func TestCacheRepositoryReportsHitsAndMisses(t *testing.T) {
	store, _ := newTestCache(t)
	counter := &hitCounter{}
	store.WithObserver(counter)
	ctx := context.Background()

	var dest map[string]string
	err := store.Get(ctx, "missing", &dest)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrCacheMiss))

	require.NoError(t, store.Set(ctx, "present", map[string]string{"a": "b"}, time.Minute))
	require.NoError(t, store.Get(ctx, "present", &dest))
	assert.Equal(t, "b", dest["a"])

	assert.Equal(t, 1, counter.hits)
	assert.Equal(t, 1, counter.misses)
}

func TestCacheRepositoryWithoutClient(t *testing.T) {
	store := NewCacheRepository(nil, nil)
	var dest string
	assert.True(t, appErrors.HasCode(store.Get(context.Background(), "k", &dest), appErrors.ErrCacheMiss))
	assert.NoError(t, store.Set(context.Background(), "k", "v", 0))
	ok, err := store.Exists(context.Background(), "k")
	require.NoError(t, err)
	assert.False(t, ok)
}
