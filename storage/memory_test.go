package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexpron/mri-processing/types"
)

func sampleReport(id uint64, status string) types.RunReport {
	return types.RunReport{
		ID:       id,
		Pipeline: "diffusion_pipeline",
		Status:   status,
		Nodes: map[string]types.NodeResult{
			"mrconvert": {NodeID: "mrconvert", Status: types.StatusDone},
		},
		Outputs:   map[string]types.Value{"tractogram": "/work/tractogram.tck"},
		StartedAt: 1700000000000,
		EndedAt:   1700000060000,
	}
}

func TestMemoryStoreSaveAndGet(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	report := sampleReport(1, types.RunCompleted)
	require.NoError(t, store.SaveRun(ctx, report))

	got, err := store.GetRun(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, report, got)
}

func TestMemoryStoreGetMissing(t *testing.T) {
	store := NewMemoryStore()

	_, err := store.GetRun(context.Background(), 42)
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestMemoryStoreOverwrite(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.SaveRun(ctx, sampleReport(1, types.RunPartialFailure)))
	require.NoError(t, store.SaveRun(ctx, sampleReport(1, types.RunCompleted)))

	got, err := store.GetRun(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, types.RunCompleted, got.Status)
}

func TestMemoryStoreListRuns(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.SaveRun(ctx, sampleReport(1, types.RunCompleted)))
	require.NoError(t, store.SaveRun(ctx, sampleReport(2, types.RunPartialFailure)))

	reports, err := store.ListRuns(ctx)
	require.NoError(t, err)
	assert.Len(t, reports, 2)
}

func TestMemoryStorePruneCompleted(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.SaveRun(ctx, sampleReport(1, types.RunCompleted)))
	require.NoError(t, store.SaveRun(ctx, sampleReport(2, types.RunPartialFailure)))

	require.NoError(t, store.PruneCompleted(ctx))

	_, err := store.GetRun(ctx, 1)
	assert.ErrorIs(t, err, ErrRunNotFound)
	_, err = store.GetRun(ctx, 2)
	assert.NoError(t, err)
}

func TestMemoryStoreCancelledContext(t *testing.T) {
	store := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := store.SaveRun(ctx, sampleReport(1, types.RunCompleted))
	assert.ErrorIs(t, err, context.Canceled)
	_, err = store.GetRun(ctx, 1)
	assert.ErrorIs(t, err, context.Canceled)
}
