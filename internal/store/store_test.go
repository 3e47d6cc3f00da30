package store

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	_, err := m.Get(ctx, KeySessionID)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, m.Set(ctx, KeySessionID, "abc"))
	value, err := m.Get(ctx, KeySessionID)
	require.NoError(t, err)
	assert.Equal(t, "abc", value)

	require.NoError(t, m.Delete(ctx, KeySessionID, KeyStartedAt))
	_, err = m.Get(ctx, KeySessionID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.json")

	f, err := NewFileStore(path)
	require.NoError(t, err)

	_, err = f.Get(ctx, KeyLastActivity)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, f.Set(ctx, KeyLastActivity, "1000"))
	require.NoError(t, f.Set(ctx, KeySessionID, "abc"))

	value, err := f.Get(ctx, KeyLastActivity)
	require.NoError(t, err)
	assert.Equal(t, "1000", value)

	// Deleting one key leaves the others intact.
	require.NoError(t, f.Delete(ctx, KeyLastActivity))
	_, err = f.Get(ctx, KeyLastActivity)
	assert.ErrorIs(t, err, ErrNotFound)
	value, err = f.Get(ctx, KeySessionID)
	require.NoError(t, err)
	assert.Equal(t, "abc", value)
}

func TestFileStoreCrossProcessVisibility(t *testing.T) {
	// Two store instances over the same path model two tabs sharing a
	// storage partition: a write in one is observed by the other.
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.json")

	tabA, err := NewFileStore(path)
	require.NoError(t, err)
	tabB, err := NewFileStore(path)
	require.NoError(t, err)

	activity := strconv.FormatInt(1700000000000, 10)
	require.NoError(t, tabA.Set(ctx, KeyLastActivity, activity))

	value, err := tabB.Get(ctx, KeyLastActivity)
	require.NoError(t, err)
	assert.Equal(t, activity, value)
}

func TestFileStoreCorruptFileFailsClosed(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o600))

	f, err := NewFileStore(path)
	require.NoError(t, err)

	_, err = f.Get(ctx, KeySessionID)
	assert.ErrorIs(t, err, ErrNotFound)
}
