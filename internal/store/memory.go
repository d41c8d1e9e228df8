package store

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process RunStore for the CLI and tests. Records do
// not expire.
type MemoryStore struct {
	mu   sync.RWMutex
	runs map[string]RunRecord
}

var _ RunStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: make(map[string]RunRecord)}
}

func (m *MemoryStore) PutRun(_ context.Context, run *RunRecord) error {
	now := time.Now().Unix()
	if run.CreatedAt == 0 {
		run.CreatedAt = now
	}
	run.UpdatedAt = now
	m.mu.Lock()
	m.runs[run.RunID] = *run
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) GetRun(_ context.Context, runID string) (*RunRecord, error) {
	m.mu.RLock()
	rec, ok := m.runs[runID]
	m.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (m *MemoryStore) UpdateRunState(_ context.Context, runID string, u RunUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.runs[runID]
	rec.RunID = runID
	u.apply(&rec)
	rec.UpdatedAt = time.Now().Unix()
	m.runs[runID] = rec
	return nil
}
