package runtime

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/pulsehub/backend/memory"
	errorspkg "github.com/drblury/pulsehub/internal/runtime/errors"
)

// failingKV fails every operation, standing in for an unreachable backend.
type failingKV struct{}

func (failingKV) Get(context.Context, string) (string, error) {
	return "", errors.New("connection refused")
}

func (failingKV) Set(context.Context, string, string, time.Duration) error {
	return errors.New("connection refused")
}

func (failingKV) Del(context.Context, string) error {
	return errors.New("connection refused")
}

func (failingKV) Incr(context.Context, string, time.Duration) (int64, error) {
	return 0, errors.New("connection refused")
}

func TestCacheSetGet(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	cache := NewCache(store, "test:")

	require.NoError(t, cache.Set(ctx, "session.abc", `{"user":"u1"}`, time.Minute))

	value, found, err := cache.Get(ctx, "session.abc")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, `{"user":"u1"}`, value)

	// The entry lands on the backend under the configured prefix.
	raw, err := store.Get(ctx, "test:session.abc")
	require.NoError(t, err)
	assert.Equal(t, `{"user":"u1"}`, raw)
}

func TestCacheGetMiss(t *testing.T) {
	cache := NewCache(memory.NewStore(), "test:")

	value, found, err := cache.Get(context.Background(), "never.set")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Empty(t, value)
}

func TestCacheValidation(t *testing.T) {
	ctx := context.Background()
	cache := NewCache(memory.NewStore(), "test:")

	_, _, err := cache.Get(ctx, "")
	assert.ErrorIs(t, err, errorspkg.ErrKeyRequired)

	assert.ErrorIs(t, cache.Set(ctx, "", "v", time.Minute), errorspkg.ErrKeyRequired)
	assert.ErrorIs(t, cache.Del(ctx, ""), errorspkg.ErrKeyRequired)

	assert.ErrorIs(t, cache.Set(ctx, "k", "v", 0), errorspkg.ErrInvalidTTL)
	assert.ErrorIs(t, cache.Set(ctx, "k", "v", -time.Second), errorspkg.ErrInvalidTTL)
}

func TestCacheDel(t *testing.T) {
	ctx := context.Background()
	cache := NewCache(memory.NewStore(), "test:")

	require.NoError(t, cache.Set(ctx, "k", "v", time.Minute))
	require.NoError(t, cache.Del(ctx, "k"))

	_, found, err := cache.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)

	// Deleting an absent key is not an error.
	assert.NoError(t, cache.Del(ctx, "k"))
}

func TestCacheBackendErrors(t *testing.T) {
	ctx := context.Background()
	cache := NewCache(failingKV{}, "test:")

	_, _, err := cache.Get(ctx, "k")
	assert.ErrorIs(t, err, errorspkg.ErrBackendUnavailable)

	assert.ErrorIs(t, cache.Set(ctx, "k", "v", time.Minute), errorspkg.ErrBackendUnavailable)
	assert.ErrorIs(t, cache.Del(ctx, "k"), errorspkg.ErrBackendUnavailable)
}
