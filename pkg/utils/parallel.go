package utils

import (
	"context"
	"sync"
)

// ParallelMap 以最多 workers 个协程并发执行 fn，结果顺序与输入一致
func ParallelMap[T any, R any](input []T, workers int, fn func(T) R) []R {
	result := make([]R, len(input))
	if len(input) == 0 {
		return result
	}
	// 单元素或单 worker 直接串行处理
	if len(input) == 1 || workers <= 1 {
		for i, v := range input {
			result[i] = fn(v)
		}
		return result
	}
	if workers > len(input) {
		workers = len(input)
	}

	indexes := make(chan int)
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for i := range indexes {
				result[i] = fn(input[i])
			}
		}()
	}
	for i := range input {
		indexes <- i
	}
	close(indexes)
	wg.Wait()
	return result
}

// ParallelMapErr 与 ParallelMap 相同，但任一任务失败即取消其余任务并返回第一个错误
func ParallelMapErr[T any, R any](ctx context.Context, input []T, workers int, fn func(context.Context, T) (R, error)) ([]R, error) {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	var (
		once     sync.Once
		firstErr error
	)
	result := ParallelMap(input, workers, func(v T) R {
		var zero R
		if ctx.Err() != nil {
			return zero
		}
		r, err := fn(ctx, v)
		if err != nil {
			once.Do(func() {
				firstErr = err
				cancel(err)
			})
			return zero
		}
		return r
	})
	if firstErr != nil {
		return nil, firstErr
	}
	if err := context.Cause(ctx); err != nil {
		return nil, err
	}
	return result, nil
}
