package session

import (
	"context"
	"slices"
	"sync"

	"skytrail/server/internal/model"
)

// InMemoryStore 是一个基于内存的会话存储实现。
type InMemoryStore struct {
	mu   sync.RWMutex
	data map[string]*model.HopSession
}

func NewInMemoryStore() *InMemoryStore {
	// 单实例部署用内存 store；重启即丢数据，多实例部署换 RedisStore。
	return &InMemoryStore{data: make(map[string]*model.HopSession)}
}

// Get 根据会话 id 获取快照。返回的是副本，调用方修改后需要 Save。
func (s *InMemoryStore) Get(_ context.Context, id string) (*model.HopSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.data[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneSession(sess), nil
}

// Save 保存或更新快照。
func (s *InMemoryStore) Save(_ context.Context, sess *model.HopSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[sess.State.SessionID] = cloneSession(sess)
	return nil
}

func (s *InMemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data[id]; !ok {
		return ErrNotFound
	}
	delete(s.data, id)
	return nil
}

// cloneSession 复制可变的状态切片；Hop 规划后不再修改，直接共享。
func cloneSession(sess *model.HopSession) *model.HopSession {
	out := *sess
	out.State.Responses = slices.Clone(sess.State.Responses)
	out.State.AcknowledgedEmergencies = slices.Clone(sess.State.AcknowledgedEmergencies)
	return &out
}
