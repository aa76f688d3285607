package cache

import (
	"context"
	"jewl-sol/pkg/logger"
	"sync"
	"time"

	"github.com/zeromicro/go-zero/core/jsonx"
	"github.com/zeromicro/go-zero/core/syncx"
)

type Producer[T any] func(ctx context.Context) (T, error)

type entry[T any] struct {
	value T
	at    time.Time
}

type options struct {
	now          func() time.Time
	singleFlight bool
	store        Store
	name         string
}

type Option func(*options)

// WithClock 注入时钟，测试用
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithSingleFlight 同一 key 并发未命中时只执行一次 producer。
// 默认关闭：并发未命中允许重复执行 producer
func WithSingleFlight() Option {
	return func(o *options) {
		o.singleFlight = true
	}
}

// WithStore 二级存储（如 Redis），进程重启后仍可命中
func WithStore(s Store) Option {
	return func(o *options) {
		o.store = s
	}
}

func WithName(name string) Option {
	return func(o *options) {
		o.name = name
	}
}

// TTLCache 按 key 缓存异步查询结果，命中条件为 now - 写入时间 < ttl。
// producer 返回 error 时不缓存
type TTLCache[T any] struct {
	mu      sync.RWMutex
	entries map[string]entry[T]
	now     func() time.Time
	flight  syncx.SingleFlight
	store   Store
	name    string
}

func New[T any](opts ...Option) *TTLCache[T] {
	o := options{now: time.Now, name: "default"}
	for _, opt := range opts {
		opt(&o)
	}
	c := &TTLCache[T]{
		entries: make(map[string]entry[T]),
		now:     o.now,
		store:   o.store,
		name:    o.name,
	}
	if o.singleFlight {
		c.flight = syncx.NewSingleFlight()
	}
	return c
}

func (c *TTLCache[T]) Get(ctx context.Context, key string, ttl time.Duration, producer Producer[T]) (T, error) {
	if v, ok := c.lookup(key, ttl); ok {
		return v, nil
	}
	if v, ok := c.loadStore(ctx, key, ttl); ok {
		return v, nil
	}

	if c.flight == nil {
		return c.produce(ctx, key, ttl, producer)
	}
	v, err := c.flight.Do(key, func() (any, error) {
		// 等待期间可能已被其它调用写入
		if v, ok := c.lookup(key, ttl); ok {
			return v, nil
		}
		return c.produce(ctx, key, ttl, producer)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

func (c *TTLCache[T]) lookup(key string, ttl time.Duration) (T, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if ok && c.now().Sub(e.at) < ttl {
		return e.value, true
	}
	var zero T
	return zero, false
}

func (c *TTLCache[T]) produce(ctx context.Context, key string, ttl time.Duration, producer Producer[T]) (T, error) {
	v, err := producer(ctx)
	if err != nil {
		return v, err
	}
	at := c.now()
	c.mu.Lock()
	c.entries[key] = entry[T]{value: v, at: at}
	c.mu.Unlock()

	if c.store != nil {
		raw, err := jsonx.Marshal(v)
		if err == nil {
			err = c.store.Save(ctx, key, raw, at, ttl)
		}
		if err != nil {
			logger.Warnf("[TTLCache] %s 写入二级缓存失败: key=%s, err=%v", c.name, key, err)
		}
	}
	return v, nil
}

func (c *TTLCache[T]) loadStore(ctx context.Context, key string, ttl time.Duration) (T, bool) {
	var zero T
	if c.store == nil {
		return zero, false
	}
	raw, at, ok, err := c.store.Load(ctx, key)
	if err != nil {
		logger.Warnf("[TTLCache] %s 读取二级缓存失败: key=%s, err=%v", c.name, key, err)
		return zero, false
	}
	if !ok || c.now().Sub(at) >= ttl {
		return zero, false
	}
	var v T
	if err := jsonx.Unmarshal(raw, &v); err != nil {
		logger.Warnf("[TTLCache] %s 二级缓存数据无法解析: key=%s, err=%v", c.name, key, err)
		return zero, false
	}
	c.mu.Lock()
	c.entries[key] = entry[T]{value: v, at: at}
	c.mu.Unlock()
	return v, true
}

// Peek 只查内存，不触发 producer
func (c *TTLCache[T]) Peek(key string, ttl time.Duration) (T, bool) {
	return c.lookup(key, ttl)
}

// Put 直接写入内存（批量查询后逐项回填）
func (c *TTLCache[T]) Put(key string, v T) {
	c.mu.Lock()
	c.entries[key] = entry[T]{value: v, at: c.now()}
	c.mu.Unlock()
}

// Invalidate 删除单个 key
func (c *TTLCache[T]) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	c.withStore(func(ctx context.Context, s Store) error { return s.Delete(ctx, key) })
}

// InvalidateAll 清空整个缓存
func (c *TTLCache[T]) InvalidateAll() {
	c.mu.Lock()
	c.entries = make(map[string]entry[T])
	c.mu.Unlock()
	c.withStore(func(ctx context.Context, s Store) error { return s.Clear(ctx) })
}

func (c *TTLCache[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

const storeTimeout = 3 * time.Second

func (c *TTLCache[T]) withStore(fn func(ctx context.Context, s Store) error) {
	if c.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := fn(ctx, c.store); err != nil {
		logger.Warnf("[TTLCache] %s 清理二级缓存失败: %v", c.name, err)
	}
}
