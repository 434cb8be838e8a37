package storage

import (
	"context"

	"github.com/alexpron/mri-processing/types"
)

// RunStore defines the interface for persisting and retrieving pipeline run
// reports. Reports carry the per-node diagnostics needed to debug or resume
// a partially failed run without re-running succeeded stages.
type RunStore interface {
	// SaveRun saves a run report.
	SaveRun(ctx context.Context, report types.RunReport) error

	// GetRun retrieves a run report by ID.
	GetRun(ctx context.Context, id uint64) (types.RunReport, error)
}

// withContext is a standalone generic helper function.
func withContext[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	var zero T
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	default:
		return fn()
	}
}
