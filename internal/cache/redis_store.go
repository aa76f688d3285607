package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/zeromicro/go-zero/core/jsonx"
)

// Store 二级缓存存储，值为 JSON 字节
type Store interface {
	Load(ctx context.Context, key string) (raw []byte, storedAt time.Time, ok bool, err error)
	Save(ctx context.Context, key string, raw []byte, storedAt time.Time, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
}

type storedValue struct {
	At    int64           `json:"at"` // 写入时间（毫秒）
	Value json.RawMessage `json:"value"`
}

// RedisStore 以 <prefix>:<key> 保存 {at, value}，key 过期时间与 ttl 一致
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisStore(rdb *redis.Client, prefix string) *RedisStore {
	return &RedisStore{rdb: rdb, prefix: prefix}
}

func (s *RedisStore) key(k string) string {
	return fmt.Sprintf("%s:%s", s.prefix, k)
}

func (s *RedisStore) Load(ctx context.Context, key string) ([]byte, time.Time, bool, error) {
	data, err := s.rdb.Get(ctx, s.key(key)).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, time.Time{}, false, nil
	case err != nil:
		return nil, time.Time{}, false, fmt.Errorf("redis get error: %w", err)
	}
	var v storedValue
	if err := jsonx.Unmarshal(data, &v); err != nil {
		return nil, time.Time{}, false, fmt.Errorf("decode cached value: %w", err)
	}
	return v.Value, time.UnixMilli(v.At), true, nil
}

func (s *RedisStore) Save(ctx context.Context, key string, raw []byte, storedAt time.Time, ttl time.Duration) error {
	data, err := jsonx.Marshal(storedValue{At: storedAt.UnixMilli(), Value: raw})
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, s.key(key), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set error: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, s.key(key)).Err()
}

// Clear 删除 prefix 下的所有 key
func (s *RedisStore) Clear(ctx context.Context) error {
	iter := s.rdb.Scan(ctx, 0, s.prefix+":*", 500).Iterator()
	keys := make([]string, 0, 500)
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
		if len(keys) == 500 {
			if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
				return err
			}
			keys = keys[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan error: %w", err)
	}
	if len(keys) > 0 {
		return s.rdb.Del(ctx, keys...).Err()
	}
	return nil
}
