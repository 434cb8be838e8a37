package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/alexpron/mri-processing/types"
)

// ErrRunNotFound is returned when a requested run report does not exist.
var ErrRunNotFound = errors.New("run not found")

// MemoryStore is an in-memory implementation of the RunStore interface.
type MemoryStore struct {
	runs map[uint64]types.RunReport
	mu   sync.RWMutex
}

// NewMemoryStore creates a new MemoryStore instance.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: make(map[uint64]types.RunReport)}
}

// SaveRun saves a run report to memory.
func (s *MemoryStore) SaveRun(ctx context.Context, report types.RunReport) error {
	_, err := withContext(ctx, func() (struct{}, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.runs[report.ID] = report
		return struct{}{}, nil
	})
	return err
}

// GetRun retrieves a run report from memory.
func (s *MemoryStore) GetRun(ctx context.Context, id uint64) (types.RunReport, error) {
	return withContext(ctx, func() (types.RunReport, error) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		report, ok := s.runs[id]
		if !ok {
			return types.RunReport{}, fmt.Errorf("%w: id=%d", ErrRunNotFound, id)
		}
		return report, nil
	})
}

// ListRuns returns all stored run reports, in unspecified order.
func (s *MemoryStore) ListRuns(ctx context.Context) ([]types.RunReport, error) {
	return withContext(ctx, func() ([]types.RunReport, error) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		reports := make([]types.RunReport, 0, len(s.runs))
		for _, r := range s.runs {
			reports = append(reports, r)
		}
		return reports, nil
	})
}

// PruneCompleted removes reports of runs that completed without failures.
func (s *MemoryStore) PruneCompleted(ctx context.Context) error {
	_, err := withContext(ctx, func() (struct{}, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		for id, r := range s.runs {
			if r.Status == types.RunCompleted {
				delete(s.runs, id)
			}
		}
		return struct{}{}, nil
	})
	return err
}
