package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore is a simple in-process history store for local/dev use.
// Each session keeps at most maxPerSession turns.
type InMemoryStore struct {
	mu            sync.RWMutex
	records       map[string][]TurnRecord
	maxPerSession int
}

func NewInMemoryStore(maxPerSession int) *InMemoryStore {
	if maxPerSession <= 0 {
		maxPerSession = 200
	}
	return &InMemoryStore{
		records:       make(map[string][]TurnRecord),
		maxPerSession: maxPerSession,
	}
}

func (s *InMemoryStore) SaveTurn(_ context.Context, record TurnRecord) error {
	record = withDefaults(record)
	s.mu.Lock()
	defer s.mu.Unlock()
	arr := append(s.records[record.SessionID], record)
	if over := len(arr) - s.maxPerSession; over > 0 {
		arr = append([]TurnRecord(nil), arr[over:]...)
	}
	s.records[record.SessionID] = arr
	return nil
}

func (s *InMemoryStore) RecentTurns(_ context.Context, sessionID string, limit int) ([]TurnRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	arr := s.records[sessionID]
	if len(arr) == 0 {
		return nil, nil
	}
	if limit <= 0 || limit > len(arr) {
		limit = len(arr)
	}
	out := make([]TurnRecord, limit)
	copy(out, arr[len(arr)-limit:])
	return out, nil
}

func (s *InMemoryStore) Ping(context.Context) error { return nil }

func (s *InMemoryStore) Close() error { return nil }

func withDefaults(record TurnRecord) TurnRecord {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	return record
}
