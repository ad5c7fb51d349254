package store

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"evcal/internal/model"
)

// MemoryStore keeps series in a map. Values are cloned on the way in and
// out so callers never share slices with the store.
type MemoryStore struct {
	mu     sync.RWMutex
	series map[string]model.Series
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{series: map[string]model.Series{}}
}

func (m *MemoryStore) Get(ctx context.Context, uid string) (model.Series, error) {
	if err := ctx.Err(); err != nil {
		return model.Series{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.series[uid]
	if !ok {
		return model.Series{}, fmt.Errorf("%w: %s", ErrNotFound, uid)
	}
	return s.Clone(), nil
}

func (m *MemoryStore) Create(ctx context.Context, s model.Series) (model.Series, error) {
	if err := ctx.Err(); err != nil {
		return model.Series{}, err
	}
	if err := checkUID(s.UID()); err != nil {
		return model.Series{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.series[s.UID()]; ok {
		return model.Series{}, fmt.Errorf("%w: %s", ErrAlreadyExists, s.UID())
	}
	s = s.Clone()
	s.Revision = 1
	m.series[s.UID()] = s
	return s.Clone(), nil
}

func (m *MemoryStore) Update(ctx context.Context, s model.Series) (model.Series, error) {
	if err := ctx.Err(); err != nil {
		return model.Series{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.series[s.UID()]
	if !ok {
		return model.Series{}, fmt.Errorf("%w: %s", ErrNotFound, s.UID())
	}
	if current.Revision != s.Revision {
		return model.Series{}, fmt.Errorf("%w: %s at revision %d, got %d", ErrConflict, s.UID(), current.Revision, s.Revision)
	}
	s = s.Clone()
	s.Revision++
	m.series[s.UID()] = s
	return s.Clone(), nil
}

func (m *MemoryStore) Delete(ctx context.Context, uid string, revision int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.series[uid]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, uid)
	}
	if revision != 0 && current.Revision != revision {
		return fmt.Errorf("%w: %s at revision %d, got %d", ErrConflict, uid, current.Revision, revision)
	}
	delete(m.series, uid)
	return nil
}

func (m *MemoryStore) List(ctx context.Context) ([]model.Series, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Series, 0, len(m.series))
	for _, s := range m.series {
		out = append(out, s.Clone())
	}
	slices.SortFunc(out, func(a, b model.Series) int { return strings.Compare(a.UID(), b.UID()) })
	return out, nil
}
