package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func counting(calls *atomic.Int32, prefix string) Producer[string] {
	return func(context.Context) (string, error) {
		n := calls.Add(1)
		return prefix + string(rune('0'+n)), nil
	}
}

func TestTTLExpiry(t *testing.T) {
	clock := newFakeClock()
	c := New[string](WithClock(clock.Now))
	var calls atomic.Int32
	ctx := context.Background()

	v, err := c.Get(ctx, "price:SOL", 30*time.Second, counting(&calls, "v"))
	require.NoError(t, err)
	assert.Equal(t, "v1", v)

	clock.Advance(29 * time.Second)
	v, err = c.Get(ctx, "price:SOL", 30*time.Second, counting(&calls, "v"))
	require.NoError(t, err)
	assert.Equal(t, "v1", v)
	assert.Equal(t, int32(1), calls.Load())

	clock.Advance(2 * time.Second)
	v, err = c.Get(ctx, "price:SOL", 30*time.Second, counting(&calls, "v"))
	require.NoError(t, err)
	assert.Equal(t, "v2", v)
	assert.Equal(t, int32(2), calls.Load())
}

func TestTTLBoundaryIsMiss(t *testing.T) {
	clock := newFakeClock()
	c := New[string](WithClock(clock.Now))
	var calls atomic.Int32

	_, _ = c.Get(context.Background(), "k", 10*time.Second, counting(&calls, "v"))
	clock.Advance(10 * time.Second)
	v, _ := c.Get(context.Background(), "k", 10*time.Second, counting(&calls, "v"))
	assert.Equal(t, "v2", v)
}

func TestTTLIsPerCall(t *testing.T) {
	clock := newFakeClock()
	c := New[string](WithClock(clock.Now))
	var calls atomic.Int32

	_, _ = c.Get(context.Background(), "k", time.Minute, counting(&calls, "v"))
	clock.Advance(20 * time.Second)
	// 更短的 ttl 视为过期
	v, _ := c.Get(context.Background(), "k", 10*time.Second, counting(&calls, "v"))
	assert.Equal(t, "v2", v)
}

func TestErrorsAreNotCached(t *testing.T) {
	c := New[int]()
	boom := errors.New("upstream down")
	_, err := c.Get(context.Background(), "k", time.Minute, func(context.Context) (int, error) { return 0, boom })
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, c.Len())

	v, err := c.Get(context.Background(), "k", time.Minute, func(context.Context) (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestInvalidate(t *testing.T) {
	c := New[string]()
	var calls atomic.Int32
	ctx := context.Background()

	_, _ = c.Get(ctx, "a", time.Minute, counting(&calls, "a"))
	_, _ = c.Get(ctx, "b", time.Minute, counting(&calls, "b"))
	assert.Equal(t, 2, c.Len())

	c.Invalidate("a")
	assert.Equal(t, 1, c.Len())
	v, _ := c.Get(ctx, "a", time.Minute, counting(&calls, "a"))
	assert.Equal(t, "a3", v)

	c.InvalidateAll()
	assert.Zero(t, c.Len())
}

// 默认不合并并发请求
func TestConcurrentMissWithoutSingleFlight(t *testing.T) {
	c := New[int]()
	var calls atomic.Int32
	release := make(chan struct{})
	producer := func(context.Context) (int, error) {
		calls.Add(1)
		<-release
		return 1, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = c.Get(context.Background(), "k", time.Minute, producer)
		}()
	}
	assert.Eventually(t, func() bool { return calls.Load() == 2 }, time.Second, 5*time.Millisecond)
	close(release)
	wg.Wait()
}

func TestConcurrentMissWithSingleFlight(t *testing.T) {
	c := New[int](WithSingleFlight())
	var calls atomic.Int32
	release := make(chan struct{})
	producer := func(context.Context) (int, error) {
		calls.Add(1)
		<-release
		return 5, nil
	}

	var wg sync.WaitGroup
	results := make([]int, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = c.Get(context.Background(), "k", time.Minute, producer)
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, r := range results {
		assert.Equal(t, 5, r)
	}
}

type quote struct {
	Mint  string  `json:"mint"`
	Price float64 `json:"price"`
}

func TestRedisStoreSharedAcrossInstances(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	clock := newFakeClock()
	store := NewRedisStore(rdb, "test:cache")
	first := New[quote](WithClock(clock.Now), WithStore(store))
	second := New[quote](WithClock(clock.Now), WithStore(store))
	ctx := context.Background()

	want := quote{Mint: "So11111111111111111111111111111111111111112", Price: 151.25}
	v, err := first.Get(ctx, "sol", 30*time.Second, func(context.Context) (quote, error) { return want, nil })
	require.NoError(t, err)
	assert.Equal(t, want, v)
	assert.True(t, mr.Exists("test:cache:sol"))

	clock.Advance(10 * time.Second)
	v, err = second.Get(ctx, "sol", 30*time.Second, func(context.Context) (quote, error) {
		return quote{}, errors.New("should hit redis")
	})
	require.NoError(t, err)
	assert.Equal(t, want, v)

	// 二级缓存的写入时间同样参与 ttl 判断
	clock.Advance(25 * time.Second)
	third := New[quote](WithClock(clock.Now), WithStore(store))
	v, err = third.Get(ctx, "sol", 30*time.Second, func(context.Context) (quote, error) {
		return quote{Mint: want.Mint, Price: 152}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 152.0, v.Price)

	second.InvalidateAll()
	assert.False(t, mr.Exists("test:cache:sol"))
}

func TestRedisStoreLoadMissing(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	store := NewRedisStore(rdb, "test")
	_, _, ok, err := store.Load(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Save(context.Background(), "k", []byte(`1`), time.Now(), time.Minute))
	require.NoError(t, store.Delete(context.Background(), "k"))
	_, _, ok, err = store.Load(context.Background(), "k")
	require.NoError(t, err)
	assert.False(t, ok)
}
