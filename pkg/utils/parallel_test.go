package utils

import (
	"context"
	"errors"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 为了测试上下文取消而定义的任务类型
type TestTaskWithContext struct {
	ID  int
	Ctx context.Context
}

// 定义测试专用的结果类型
type TestTaskProcessResult struct {
	ID     int
	Status string
	Value  int
}

func TestParallelMap(t *testing.T) {
	// 测试空输入
	t.Run("empty input", func(t *testing.T) {
		var emptyInput []int
		result := ParallelMap(emptyInput, 4, func(i int) int {
			return i * 2
		})
		assert.Empty(t, result)
	})

	// 测试单元素输入 - 应该直接处理，不使用并发
	t.Run("single input", func(t *testing.T) {
		result := ParallelMap([]int{42}, 4, func(i int) int {
			return i * 2
		})
		assert.Equal(t, []int{84}, result)
	})

	// 测试多元素输入 - 确保顺序正确
	t.Run("multiple inputs with order", func(t *testing.T) {
		input := []int{1, 2, 3, 4, 5}
		result := ParallelMap(input, 3, func(i int) int {
			// 添加随机延迟，测试顺序保持
			time.Sleep(time.Duration(rand.Intn(10)) * time.Millisecond)
			return i * 2
		})
		assert.Equal(t, []int{2, 4, 6, 8, 10}, result)
	})

	// 测试并发执行 - 确保真的是并行处理
	t.Run("concurrent execution", func(t *testing.T) {
		input := make([]int, 100)
		for i := range input {
			input[i] = i
		}

		var maxConcurrent int32
		var currentConcurrent int32

		ParallelMap(input, 10, func(i int) int {
			current := atomic.AddInt32(&currentConcurrent, 1)
			for {
				max := atomic.LoadInt32(&maxConcurrent)
				if current <= max || atomic.CompareAndSwapInt32(&maxConcurrent, max, current) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			atomic.AddInt32(&currentConcurrent, -1)
			return i * 2
		})

		// 检查最大并发数是否接近预期
		assert.GreaterOrEqual(t, maxConcurrent, int32(5))
		assert.LessOrEqual(t, maxConcurrent, int32(10))
	})

	// 测试带有上下文的任务
	t.Run("tasks with context cancellation", func(t *testing.T) {
		parentCtx, parentCancel := context.WithCancel(context.Background())
		defer parentCancel()

		const taskCount = 50
		tasks := make([]TestTaskWithContext, taskCount)
		for i := 0; i < taskCount; i++ {
			tasks[i] = TestTaskWithContext{ID: i, Ctx: parentCtx}
		}

		go func() {
			time.Sleep(50 * time.Millisecond)
			parentCancel()
		}()

		var canceledCount int32
		results := ParallelMap(tasks, 8, func(task TestTaskWithContext) TestTaskProcessResult {
			time.Sleep(time.Duration(30+rand.Intn(40)) * time.Millisecond)
			if task.Ctx.Err() != nil {
				atomic.AddInt32(&canceledCount, 1)
				return TestTaskProcessResult{ID: task.ID, Status: "canceled", Value: -1}
			}
			return TestTaskProcessResult{ID: task.ID, Status: "completed", Value: task.ID * 10}
		})

		require.Len(t, results, taskCount)
		assert.NotZero(t, canceledCount)
		for i, result := range results {
			assert.Equal(t, i, result.ID)
			if result.Status == "completed" {
				assert.Equal(t, i*10, result.Value)
			} else {
				assert.True(t, contains([]string{"canceled"}, result.Status))
			}
		}
	})
}

func TestParallelMapErr(t *testing.T) {
	t.Run("all succeed", func(t *testing.T) {
		out, err := ParallelMapErr(context.Background(), []int{1, 2, 3}, 2, func(_ context.Context, i int) (int, error) {
			return i * i, nil
		})
		require.NoError(t, err)
		assert.Equal(t, []int{1, 4, 9}, out)
	})

	t.Run("first error wins", func(t *testing.T) {
		boom := errors.New("boom")
		input := make([]int, 20)
		for i := range input {
			input[i] = i
		}
		var calls int32
		out, err := ParallelMapErr(context.Background(), input, 1, func(_ context.Context, i int) (int, error) {
			atomic.AddInt32(&calls, 1)
			if i == 3 {
				return 0, boom
			}
			return i, nil
		})
		assert.ErrorIs(t, err, boom)
		assert.Nil(t, out)
		// 串行模式下出错后不再调用
		assert.Equal(t, int32(4), atomic.LoadInt32(&calls))
	})

	t.Run("parent context canceled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := ParallelMapErr(ctx, []int{1, 2}, 2, func(ctx context.Context, i int) (int, error) {
			return i, nil
		})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

// 辅助函数：检查切片是否包含某个字符串
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
