package session

import (
	"context"
	"errors"

	"skytrail/server/internal/model"
)

var ErrNotFound = errors.New("session not found")

// Store 保存 hop 会话快照（不可变的 Hop + 可变的 SessionState）。
type Store interface {
	Get(ctx context.Context, id string) (*model.HopSession, error)
	Save(ctx context.Context, s *model.HopSession) error
	Delete(ctx context.Context, id string) error
}
