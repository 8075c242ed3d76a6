package optimization

import (
	"context"
	"sync"

	"github.com/tzgateway/gateway/tzerr"
)

// JobRow is the persisted state of one launched optimization job.
type JobRow struct {
	Handle       JobHandle
	Provider     ProviderKind
	DashboardURL string
	Status       StatusKind
}

// JobStore tracks launched jobs between a launch and its subsequent polls,
// mirroring the teacher's runtime/agent/session.Store seam (create once,
// read/update by id thereafter).
type JobStore interface {
	Put(ctx context.Context, row JobRow) error
	Get(ctx context.Context, handle JobHandle) (JobRow, error)
}

// MemoryJobStore is an in-memory JobStore, grounded on
// runtime/agent/session/inmem.Store's map+RWMutex shape.
type MemoryJobStore struct {
	mu   sync.RWMutex
	jobs map[JobHandle]JobRow
}

// NewMemoryJobStore builds an empty MemoryJobStore.
func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{jobs: make(map[JobHandle]JobRow)}
}

func (s *MemoryJobStore) Put(ctx context.Context, row JobRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[row.Handle] = row
	return nil
}

func (s *MemoryJobStore) Get(ctx context.Context, handle JobHandle) (JobRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.jobs[handle]
	if !ok {
		return JobRow{}, tzerr.New(tzerr.KindOptimizationJobNotFound, "optimization job not found", nil, map[string]any{"handle": handle})
	}
	return row, nil
}
