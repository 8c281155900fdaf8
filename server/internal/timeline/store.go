package timeline

import (
	"context"
	"time"

	"skytrail/server/internal/model"
)

// Store 每个 hop 会话一条只追加的事件日志。
type Store interface {
	// Append 先写 timeline 再推进状态；返回本次写入的 seq。
	// 同一会话 seq 单调递增；相同 EventID 幂等返回同一 seq。
	Append(ctx context.Context, sessionID string, evt *model.Event) (int64, error)
	// Lookup 查询某个 EventID 是否已写入，返回其 seq。
	Lookup(ctx context.Context, sessionID, eventID string) (int64, bool, error)
	// List 返回 seq > after 的事件（after=0 即全量），用于回放与断线续传。
	List(ctx context.Context, sessionID string, after int64) ([]model.Event, error)
	// Drop 删除会话时一并清掉日志。
	Drop(ctx context.Context, sessionID string) error
}

// Expirer 能按最后写入时间找出空闲会话的实现。
type Expirer interface {
	// IdleBefore 返回最后一条事件的 ServerTS 早于 before 的会话 id。
	IdleBefore(before time.Time) []string
}
