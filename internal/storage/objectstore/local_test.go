package objectstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cost-sentinel/cost-sentinel/internal/provider"
)

func TestLocalStore_RoundTrip(t *testing.T) {
	store, err := NewLocal(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "costs/2026-07/123456789012.json", []byte(`{"total": 1}`)))

	data, err := store.Get(ctx, "costs/2026-07/123456789012.json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"total": 1}`, string(data))

	// Upsert overwrites in place.
	require.NoError(t, store.Put(ctx, "costs/2026-07/123456789012.json", []byte(`{"total": 2}`)))
	data, err = store.Get(ctx, "costs/2026-07/123456789012.json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"total": 2}`, string(data))
}

func TestLocalStore_NotFound(t *testing.T) {
	store, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	_, err = store.Get(context.Background(), "missing/key.json")
	assert.ErrorIs(t, err, provider.ErrNotFound)
}

func TestLocalStore_List(t *testing.T) {
	store, err := NewLocal(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "costs/2026-07/111111111111.json", []byte(`{}`)))
	require.NoError(t, store.Put(ctx, "costs/2026-07/222222222222.json", []byte(`{}`)))
	require.NoError(t, store.Put(ctx, "costs/2026-06/111111111111.json", []byte(`{}`)))
	require.NoError(t, store.Put(ctx, "teams/teams.json", []byte(`{}`)))

	keys, err := store.List(ctx, "costs/2026-07/")
	require.NoError(t, err)
	assert.Len(t, keys, 2)

	keys, err = store.List(ctx, "costs/")
	require.NoError(t, err)
	assert.Len(t, keys, 3)
}

func TestLocalStore_RejectsTraversal(t *testing.T) {
	store, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	err = store.Put(context.Background(), "../outside.json", []byte(`{}`))
	require.Error(t, err)
	_, err = store.Get(context.Background(), "../../etc/passwd")
	require.Error(t, err)
	assert.False(t, provider.IsNotFound(err))
}

func TestLocalStore_Delete(t *testing.T) {
	store, err := NewLocal(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "teams/teams.json", []byte(`{}`)))
	require.NoError(t, store.Delete(ctx, "teams/teams.json"))
	_, err = store.Get(ctx, "teams/teams.json")
	assert.ErrorIs(t, err, provider.ErrNotFound)

	// Deleting a missing key is not an error.
	assert.NoError(t, store.Delete(ctx, "teams/teams.json"))
}

func TestMemoryStore_MatchesLocalSemantics(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	_, err := store.Get(ctx, "missing")
	assert.ErrorIs(t, err, provider.ErrNotFound)

	require.NoError(t, store.Put(ctx, "anomalies/2026-07.json", []byte(`[]`)))
	keys, err := store.List(ctx, "anomalies/")
	require.NoError(t, err)
	assert.Equal(t, []string{"anomalies/2026-07.json"}, keys)
}
