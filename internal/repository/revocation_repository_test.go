package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRevocationRepository(t *testing.T) {
	store, srv := newTestCache(t)
	repo := NewRevocationRepository(store)
	ctx := context.Background()

	revoked, err := repo.IsRevoked(ctx, "a.b.c")
	require.NoError(t, err)
	assert.False(t, revoked)

	require.NoError(t, repo.Revoke(ctx, "a.b.c", time.Hour))
	revoked, err = repo.IsRevoked(ctx, "a.b.c")
	require.NoError(t, err)
	assert.True(t, revoked)

	srv.FastForward(2 * time.Hour)
	revoked, err = repo.IsRevoked(ctx, "a.b.c")
	require.NoError(t, err)
	assert.False(t, revoked)
}

func TestRevocationRepositoryIgnoresExpiredCredentials(t *testing.T) {
	store, srv := newTestCache(t)
	repo := NewRevocationRepository(store)

	require.NoError(t, repo.Revoke(context.Background(), "a.b.c", 0))
	assert.Empty(t, srv.Keys())
}
