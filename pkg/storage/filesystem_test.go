package storage

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLocalStoragePutGetDelete(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	info, err := store.Put(ctx, "letters/l-1/reports/r.pdf", strings.NewReader("%PDF-1.4"), 8, "application/pdf")
	require.NoError(t, err)
	require.Equal(t, int64(8), info.Size)

	body, got, err := store.Get(ctx, "letters/l-1/reports/r.pdf")
	require.NoError(t, err)
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	require.NoError(t, body.Close())
	require.Equal(t, "%PDF-1.4", string(data))
	require.Equal(t, "application/pdf", got.ContentType)

	require.NoError(t, store.Delete(ctx, "letters/l-1/reports/r.pdf"))
	_, _, err = store.Get(ctx, "letters/l-1/reports/r.pdf")
	require.ErrorIs(t, err, ErrObjectNotFound)
	require.NoError(t, store.Delete(ctx, "letters/l-1/reports/r.pdf"))
}

func TestLocalStorageKeepsKeysInsideBaseDir(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalStorage(dir)
	require.NoError(t, err)

	path, err := store.resolve("../../etc/passwd")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(path, dir))

	_, err = store.resolve("/")
	require.Error(t, err)
}
