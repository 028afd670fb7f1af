package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemStore 内存版长期记忆
type MemStore struct {
	mu      sync.RWMutex
	records map[string][]Record // userID -> records
	now     func() time.Time
}

// NewMemStore 创建内存版 Store
func NewMemStore() *MemStore {
	return &MemStore{records: make(map[string][]Record), now: time.Now}
}

// Append 实现 Store
func (s *MemStore) Append(ctx context.Context, userID, content, source string) (Record, error) {
	if err := validate(userID, content); err != nil {
		return Record{}, err
	}
	r := Record{
		UserID:    userID,
		RecordID:  uuid.NewString(),
		Content:   content,
		Source:    source,
		CreatedAt: s.now().UTC(),
	}
	s.mu.Lock()
	s.records[userID] = append(s.records[userID], r)
	s.mu.Unlock()
	return r, nil
}

// ListFor 实现 Store
func (s *MemStore) ListFor(ctx context.Context, userID string) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.records[userID]
	if len(list) == 0 {
		return nil, nil
	}
	out := make([]Record, len(list))
	copy(out, list)
	return out, nil
}
