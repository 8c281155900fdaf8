package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"skytrail/server/internal/logger"
	"skytrail/server/internal/model"
)

const defaultKeyPrefix = "skytrail:hop:"

// RedisStore 把会话快照以 JSON 存进 Redis，多实例共享。
type RedisStore struct {
	log    *logger.Logger
	rdb    *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisStore 连接 Redis 并 ping 一次，连不上直接返回错误。
func NewRedisStore(ctx context.Context, addr string, ttl time.Duration, log *logger.Logger) (*RedisStore, error) {
	if addr == "" {
		return nil, fmt.Errorf("missing redis addr")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedisStoreWithClient(rdb, ttl, log), nil
}

func NewRedisStoreWithClient(rdb *redis.Client, ttl time.Duration, log *logger.Logger) *RedisStore {
	return &RedisStore{
		log:    log.With("component", "RedisSessionStore"),
		rdb:    rdb,
		ttl:    ttl,
		prefix: defaultKeyPrefix,
	}
}

func (s *RedisStore) key(id string) string {
	return s.prefix + id
}

func (s *RedisStore) Get(ctx context.Context, id string) (*model.HopSession, error) {
	raw, err := s.rdb.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", id, err)
	}
	var sess model.HopSession
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	return &sess, nil
}

// Save 每次写入都刷新 TTL；ttl<=0 表示不过期。
func (s *RedisStore) Save(ctx context.Context, sess *model.HopSession) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", sess.State.SessionID, err)
	}
	ttl := s.ttl
	if ttl < 0 {
		ttl = 0
	}
	if err := s.rdb.Set(ctx, s.key(sess.State.SessionID), raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", sess.State.SessionID, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	n, err := s.rdb.Del(ctx, s.key(id)).Result()
	if err != nil {
		return fmt.Errorf("redis del %s: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
