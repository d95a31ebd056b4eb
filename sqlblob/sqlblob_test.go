package sqlblob_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/eak1mov/go-worldmap/blob"
	"github.com/eak1mov/go-worldmap/sqlblob"
	"github.com/stretchr/testify/require"
)

func TestStore(t *testing.T) {
	ctx := context.Background()
	filePath := filepath.Join(t.TempDir(), "map.sqlite")

	store, err := sqlblob.Open(filePath)
	require.NoError(t, err)

	require.NoError(t, blob.WriteAll(ctx, store, "grid-1", []byte("one")))
	require.NoError(t, blob.WriteAll(ctx, store, "grid-1", []byte("two")))
	require.NoError(t, blob.WriteAll(ctx, store, "index", nil))

	data, err := blob.ReadAll(ctx, store, "grid-1")
	require.NoError(t, err)
	require.Equal(t, []byte("two"), data)

	data, err = blob.ReadAll(ctx, store, "index")
	require.NoError(t, err)
	require.Empty(t, data)

	_, err = blob.ReadAll(ctx, store, "grid-2")
	require.ErrorIs(t, err, blob.ErrNotFound)

	require.NoError(t, store.Close())

	store, err = sqlblob.Open(filePath)
	require.NoError(t, err)
	defer store.Close()

	var keys []string
	require.NoError(t, store.VisitKeys(func(key string) error {
		keys = append(keys, key)
		return nil
	}))
	require.Equal(t, []string{"grid-1", "index"}, keys)

	require.NoError(t, store.Delete(ctx, "grid-1"))
	_, err = blob.ReadAll(ctx, store, "grid-1")
	require.ErrorIs(t, err, blob.ErrNotFound)
}
