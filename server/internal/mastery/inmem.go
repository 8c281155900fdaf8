package mastery

import (
	"context"
	"sync"
)

// InMemoryStore 未配置数据库时使用。
type InMemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{entries: make(map[string]*Entry)}
}

func (s *InMemoryStore) Record(_ context.Context, a Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[a.QuestionID]
	if !ok {
		e = &Entry{QuestionID: a.QuestionID}
		s.entries[a.QuestionID] = e
	}
	if a.Section != "" {
		e.Section = a.Section
	}
	e.TimesSeen++
	if a.Correct {
		e.TimesCorrect++
	}
	e.LastSeenAt = a.At
	return nil
}

func (s *InMemoryStore) Entries(_ context.Context) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, *e)
	}
	return out, nil
}
