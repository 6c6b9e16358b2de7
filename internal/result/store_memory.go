package result

import (
	"context"
	"sync"
)

// MemoryStore backs tests and single-shot CLI runs.
type MemoryStore struct {
	mu        sync.RWMutex
	sets      map[string]ResultSet
	results   map[string]map[string]Result // setID -> itemID -> row
	snapshots map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sets:      map[string]ResultSet{},
		results:   map[string]map[string]Result{},
		snapshots: map[string][]byte{},
	}
}

func (m *MemoryStore) CreateResultSet(_ context.Context, rs ResultSet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sets[rs.ID]; ok {
		return nil // idempotent, parity with the SQL store's ON CONFLICT DO NOTHING
	}
	m.sets[rs.ID] = rs
	m.results[rs.ID] = map[string]Result{}
	return nil
}

func (m *MemoryStore) GetResultSet(_ context.Context, id string) (ResultSet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rs, ok := m.sets[id]
	if !ok {
		return ResultSet{}, ErrNotFound
	}
	return rs, nil
}

func (m *MemoryStore) FinishResultSet(_ context.Context, id string, totalScore float64, passed bool, finishedAt int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rs, ok := m.sets[id]
	if !ok {
		return ErrNotFound
	}
	rs.Status = StatusFinished
	rs.TotalScore = totalScore
	rs.Passed = passed
	rs.FinishedAt = finishedAt
	m.sets[id] = rs
	return nil
}

func (m *MemoryStore) UpsertResult(_ context.Context, r Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows, ok := m.results[r.ResultSetID]
	if !ok {
		rows = map[string]Result{}
		m.results[r.ResultSetID] = rows
	}
	rows[r.ItemID] = r
	return nil
}

func (m *MemoryStore) ListResults(_ context.Context, setID string) ([]Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rows := m.results[setID]
	out := make([]Result, 0, len(rows))
	for _, r := range rows {
		out = append(out, r)
	}
	return out, nil
}

func (m *MemoryStore) SaveSnapshot(_ context.Context, setID string, snap []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sets[setID]; !ok {
		return ErrNotFound
	}
	cp := make([]byte, len(snap))
	copy(cp, snap)
	m.snapshots[setID] = cp
	return nil
}

func (m *MemoryStore) LoadSnapshot(_ context.Context, setID string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.sets[setID]; !ok {
		return nil, ErrNotFound
	}
	return m.snapshots[setID], nil
}
