package timeline

import (
	"context"
	"sort"
	"sync"
	"time"

	"skytrail/server/internal/model"
)

// InMemoryStore 是一个基于内存的 Timeline 存储实现。
type InMemoryStore struct {
	mu       sync.RWMutex
	events   map[string][]model.Event
	seq      map[string]int64
	eventIDs map[string]map[string]int64
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		events:   make(map[string][]model.Event),
		seq:      make(map[string]int64),
		eventIDs: make(map[string]map[string]int64),
	}
}

func (s *InMemoryStore) Append(_ context.Context, sessionID string, evt *model.Event) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if evt.EventID != "" {
		if seq, ok := s.eventIDs[sessionID][evt.EventID]; ok {
			return seq, nil
		}
	}

	s.seq[sessionID]++
	seq := s.seq[sessionID]

	stored := *evt
	stored.Seq = seq
	stored.SessionID = sessionID
	s.events[sessionID] = append(s.events[sessionID], stored)

	if evt.EventID != "" {
		if s.eventIDs[sessionID] == nil {
			s.eventIDs[sessionID] = make(map[string]int64)
		}
		s.eventIDs[sessionID][evt.EventID] = seq
	}
	return seq, nil
}

func (s *InMemoryStore) Lookup(_ context.Context, sessionID, eventID string) (int64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seq, ok := s.eventIDs[sessionID][eventID]
	return seq, ok, nil
}

// List 返回切片副本，调用方可以随意修改。
func (s *InMemoryStore) List(_ context.Context, sessionID string, after int64) ([]model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := s.events[sessionID]
	// seq 从 1 连续分配，按 seq 二分即可。
	start := sort.Search(len(events), func(i int) bool { return events[i].Seq > after })
	out := make([]model.Event, len(events)-start)
	copy(out, events[start:])
	return out, nil
}

func (s *InMemoryStore) Drop(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.events, sessionID)
	delete(s.seq, sessionID)
	delete(s.eventIDs, sessionID)
	return nil
}

func (s *InMemoryStore) IdleBefore(before time.Time) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []string
	for id, events := range s.events {
		if len(events) > 0 && events[len(events)-1].ServerTS.Before(before) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}
