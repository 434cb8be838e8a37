package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexpron/mri-processing/types"
)

// newTestRedisStore connects to a local Redis instance, skipping the test
// when none is running.
func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	store, err := NewRedisStore(RedisOptions{Addr: "localhost:6379", DB: 15})
	if err != nil {
		t.Skipf("redis not available: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRedisStoreSaveAndGet(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()

	report := sampleReport(910001, types.RunCompleted)
	require.NoError(t, store.SaveRun(ctx, report))

	got, err := store.GetRun(ctx, report.ID)
	require.NoError(t, err)
	assert.Equal(t, report.ID, got.ID)
	assert.Equal(t, report.Pipeline, got.Pipeline)
	assert.Equal(t, report.Status, got.Status)
	assert.Equal(t, types.StatusDone, got.Nodes["mrconvert"].Status)
}

func TestRedisStoreGetMissing(t *testing.T) {
	store := newTestRedisStore(t)

	_, err := store.GetRun(context.Background(), 999999999)
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestRedisStoreCancelledContext(t *testing.T) {
	store := newTestRedisStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := store.SaveRun(ctx, sampleReport(910002, types.RunCompleted))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewRedisStoreBadAddress(t *testing.T) {
	_, err := NewRedisStore(RedisOptions{Addr: "localhost:1"})
	assert.Error(t, err)
}
