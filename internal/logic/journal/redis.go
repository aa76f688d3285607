package journal

import (
	"context"
	"errors"
	"fmt"
	"jewl-sol/internal/logic/submitter"
	"time"

	"github.com/redis/go-redis/v9"
)

const statusPrefix = "journal:tx"

const defaultStatusTTL = 72 * time.Hour

// RedisStatusStore 按签名保存最近提交的状态，供快速查询
type RedisStatusStore struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

func NewRedisStatusStore(rdb redis.UniversalClient, ttl time.Duration) *RedisStatusStore {
	if ttl <= 0 {
		ttl = defaultStatusTTL
	}
	return &RedisStatusStore{rdb: rdb, ttl: ttl}
}

func (r *RedisStatusStore) getKey(sig string) string {
	return fmt.Sprintf("%s:%s", statusPrefix, sig)
}

// GetStatus 不存在时 ok 为 false
func (r *RedisStatusStore) GetStatus(ctx context.Context, sig string) (submitter.Status, bool, error) {
	val, err := r.rdb.Get(ctx, r.getKey(sig)).Result()
	switch {
	case errors.Is(err, redis.Nil):
		return "", false, nil
	case err != nil:
		return "", false, fmt.Errorf("redis get error: %w", err)
	}
	return submitter.Status(val), true, nil
}

func (r *RedisStatusStore) MarkStatus(ctx context.Context, sig string, status submitter.Status) error {
	return r.rdb.Set(ctx, r.getKey(sig), string(status), r.ttl).Err()
}
