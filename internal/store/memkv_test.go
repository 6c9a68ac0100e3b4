package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemKVGetSetDelete(t *testing.T) {
	ctx := context.Background()
	kv := NewMemKV()

	got, err := kv.Get(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, kv.Set(ctx, "a", []byte("1"), 0))
	got, err = kv.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), got)

	require.NoError(t, kv.Delete(ctx, "a", "b"))
	got, err = kv.Get(ctx, "a")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemKVExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	kv := NewMemKV()
	kv.now = func() time.Time { return now }

	require.NoError(t, kv.Set(ctx, "k", []byte("v"), time.Minute))
	got, _ := kv.Get(ctx, "k")
	assert.Equal(t, []byte("v"), got)

	now = now.Add(time.Minute)
	got, _ = kv.Get(ctx, "k")
	assert.Nil(t, got)
}

func TestMemKVIncr(t *testing.T) {
	ctx := context.Background()
	kv := NewMemKV()

	n, err := kv.Incr(ctx, "gen")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	n, err = kv.Incr(ctx, "gen")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	got, err := kv.Get(ctx, "gen")
	require.NoError(t, err)
	assert.Equal(t, []byte("2"), got)

	require.NoError(t, kv.Set(ctx, "name", []byte("ravi"), 0))
	_, err = kv.Incr(ctx, "name")
	assert.Error(t, err)
}
