package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/patra-api/internal/models"
	appErrors "github.com/noah-isme/patra-api/pkg/errors"
)

func TestSessionRepositoryRoundTrip(t *testing.T) {
	store, srv := newTestCache(t)
	repo := NewSessionRepository(store, "desk-7")
	ctx := context.Background()

	_, err := repo.Load(ctx)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrCacheMiss))

	record := models.SessionRecord{Credential: "a.b.c", Alive: true, LastActivity: time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC), CachedRole: models.RoleSP}
	require.NoError(t, repo.Save(ctx, record))
	assert.True(t, srv.Exists("patra:session:desk-7"))

	loaded, err := repo.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, record.Credential, loaded.Credential)
	assert.Equal(t, models.RoleSP, loaded.CachedRole)
	assert.True(t, loaded.LastActivity.Equal(record.LastActivity))

	require.NoError(t, repo.Clear(ctx))
	require.NoError(t, repo.Clear(ctx))
	_, err = repo.Load(ctx)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrCacheMiss))
}

func TestMemorySessionStoreReturnsCopies(t *testing.T) {
	store := NewMemorySessionStore()
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, models.SessionRecord{Credential: "x", Alive: true}))

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	loaded.Alive = false

	again, err := store.Load(ctx)
	require.NoError(t, err)
	assert.True(t, again.Alive)
}
