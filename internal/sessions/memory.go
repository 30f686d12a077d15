package sessions

import (
	"context"
	"sync"
)

// MemoryRepository keeps sessions in process memory. Sessions do not survive
// a restart; used when neither Redis nor MongoDB is configured, and in tests.
type MemoryRepository struct {
	mu   sync.Mutex
	byRT map[string]*Session
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byRT: map[string]*Session{}}
}

func (m *MemoryRepository) Create(ctx context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.byRT[s.RefreshToken] = &cp
	return nil
}

func (m *MemoryRepository) GetByRefresh(ctx context.Context, refresh string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byRT[refresh]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryRepository) DeleteByRefresh(ctx context.Context, refresh string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byRT, refresh)
	return nil
}

func (m *MemoryRepository) DeleteByUser(ctx context.Context, userID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for rt, s := range m.byRT {
		if s.UserID == userID {
			delete(m.byRT, rt)
			n++
		}
	}
	return n, nil
}
