package audit

import (
	"context"
	"sync"
)

// MemoryRepository keeps entries in process memory (tests, single-node dev).
type MemoryRepository struct {
	mu      sync.RWMutex
	entries []*Entry
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

func (m *MemoryRepository) Append(ctx context.Context, e *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *e
	m.entries = append(m.entries, &cp)
	return nil
}

func (m *MemoryRepository) List(ctx context.Context, f Filter) ([]*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []*Entry{}
	for i := len(m.entries) - 1; i >= 0 && len(out) < f.Limit; i-- {
		e := m.entries[i]
		if f.TargetUserID != 0 && e.TargetUserID != f.TargetUserID {
			continue
		}
		if !f.Since.IsZero() && e.At.Before(f.Since) {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}
