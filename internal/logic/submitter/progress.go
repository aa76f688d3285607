package submitter

import (
	"context"
	"jewl-sol/internal/chain"
	"jewl-sol/pkg/logger"
	"runtime/debug"
	"sync"
	"time"
)

type Step string

const (
	StepPreparing  Step = "preparing"
	StepSigning    Step = "signing"
	StepSending    Step = "sending"
	StepConfirming Step = "confirming"
)

// ProgressFunc 进度回调：当前步骤 + 剩余有效期比例 [0,1]
type ProgressFunc func(step Step, remaining float64)

type HeightGetter interface {
	GetBlockHeight(ctx context.Context) (uint64, error)
}

// RemainingFraction clamp((lastValid - height) / window, 0, 1)
func RemainingFraction(lastValid, height, window uint64) float64 {
	if window == 0 || height >= lastValid {
		return 0
	}
	f := float64(lastValid-height) / float64(window)
	if f > 1 {
		return 1
	}
	return f
}

// progressReporter 后台定时上报进度。回调在 mu 下串行执行，
// stop 返回后不会再有任何回调
type progressReporter struct {
	fn       ProgressFunc
	heights  HeightGetter
	interval time.Duration
	window   uint64

	mu       sync.Mutex
	step     Step
	cp       *chain.Checkpoint
	fraction float64
	stopped  bool

	cancel context.CancelFunc
	done   chan struct{}
}

func startProgressReporter(parent context.Context, fn ProgressFunc, heights HeightGetter, interval time.Duration, window uint64) *progressReporter {
	r := &progressReporter{
		fn:       fn,
		heights:  heights,
		interval: interval,
		window:   window,
		fraction: 1,
		done:     make(chan struct{}),
	}
	if fn == nil {
		r.stopped = true
		close(r.done)
		return r
	}
	ctx, cancel := context.WithCancel(parent)
	r.cancel = cancel
	go r.run(ctx)
	return r
}

func (r *progressReporter) run(ctx context.Context) {
	defer close(r.done)
	defer func() {
		if rec := recover(); rec != nil {
			logger.Errorf("[SubmitEngine] 进度回调 panic: %v\n%s", rec, debug.Stack())
		}
	}()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *progressReporter) tick(ctx context.Context) {
	r.mu.Lock()
	cp := r.cp
	r.mu.Unlock()

	fraction := -1.0
	if cp != nil {
		height, err := r.heights.GetBlockHeight(ctx)
		if err != nil {
			if ctx.Err() == nil {
				logger.Debugf("[SubmitEngine] 获取区块高度失败: %v", err)
			}
		} else {
			fraction = RemainingFraction(cp.LastValidBlockHeight, height, r.window)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}
	if fraction >= 0 {
		r.fraction = fraction
	}
	r.fn(r.step, r.fraction)
}

// transition 切换步骤并立即上报一次
func (r *progressReporter) transition(step Step) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}
	r.step = step
	r.fn(step, r.fraction)
}

func (r *progressReporter) setCheckpoint(cp chain.Checkpoint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cp = &cp
}

// stop 取消后台循环并等待其退出
func (r *progressReporter) stop() {
	r.mu.Lock()
	r.stopped = true
	r.mu.Unlock()
	if r.cancel != nil {
		r.cancel()
	}
	<-r.done
}
