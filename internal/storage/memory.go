package storage

import (
	"context"
	"sort"
	"sync"

	"popgenval/internal/model"
)

type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	rows        map[string][]model.Row
	runs        map[string]model.RunMeta
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initialized {
		return nil
	}
	s.initialized = true
	s.rows = make(map[string][]model.Row)
	s.runs = make(map[string]model.RunMeta)
	return nil
}

func (s *MemoryStore) Reset(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initialized = true
	s.rows = make(map[string][]model.Row)
	s.runs = make(map[string]model.RunMeta)
	return nil
}

func (s *MemoryStore) AppendRows(_ context.Context, table string, rows []model.Row) error {
	if err := ValidateTableName(table); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return ErrNotInitialized
	}
	for _, row := range rows {
		row.Table = table
		s.rows[table] = append(s.rows[table], row)
	}
	return nil
}

func (s *MemoryStore) LoadRows(_ context.Context, table string) ([]model.Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.initialized {
		return nil, ErrNotInitialized
	}
	return append([]model.Row(nil), s.rows[table]...), nil
}

func (s *MemoryStore) CountRows(_ context.Context, table string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.initialized {
		return 0, ErrNotInitialized
	}
	return len(s.rows[table]), nil
}

func (s *MemoryStore) Tables(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.initialized {
		return nil, ErrNotInitialized
	}
	names := make([]string, 0, len(s.rows))
	for name, rows := range s.rows {
		if len(rows) > 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (s *MemoryStore) SaveRunMeta(_ context.Context, meta model.RunMeta) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return ErrNotInitialized
	}
	meta.Scenarios = append([]model.Scenario(nil), meta.Scenarios...)
	s.runs[meta.RunID] = meta
	return nil
}

func (s *MemoryStore) GetRunMeta(_ context.Context, runID string) (model.RunMeta, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.initialized {
		return model.RunMeta{}, false, ErrNotInitialized
	}
	meta, ok := s.runs[runID]
	return meta, ok, nil
}

func (s *MemoryStore) ListRunMeta(_ context.Context) ([]model.RunMeta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.initialized {
		return nil, ErrNotInitialized
	}
	out := make([]model.RunMeta, 0, len(s.runs))
	for _, meta := range s.runs {
		out = append(out, meta)
	}
	sortRunsNewestFirst(out)
	return out, nil
}

func sortRunsNewestFirst(runs []model.RunMeta) {
	sort.SliceStable(runs, func(i, j int) bool {
		if runs[i].CreatedAtUTC.Equal(runs[j].CreatedAtUTC) {
			return runs[i].RunID < runs[j].RunID
		}
		return runs[i].CreatedAtUTC.After(runs[j].CreatedAtUTC)
	})
}
