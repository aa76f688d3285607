package journal

import (
	"context"
	"jewl-sol/internal/logic/submitter"
	"jewl-sol/pkg/logger"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

const (
	defaultFlushInterval = 5 * time.Second
	gcInterval           = time.Hour
	retention            = 30 * 24 * time.Hour
	flushTimeout         = 10 * time.Second
	maxBuffered          = 100_000
)

// Journal 统一封装 Redis 热状态与 DB 持久化，实现 submitter.Recorder。
// redis / db 均可为 nil，对应部分不记录
type Journal struct {
	redis         *RedisStatusStore
	db            *DBStore
	buffer        *recordBuffer
	flushInterval time.Duration

	ctx     context.Context
	cancel  context.CancelFunc
	started atomic.Bool
	done    chan struct{} // Start 返回时关闭
}

func NewJournal(redis *RedisStatusStore, db *DBStore, flushInterval time.Duration) *Journal {
	if flushInterval <= 0 {
		flushInterval = defaultFlushInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Journal{
		redis:         redis,
		db:            db,
		buffer:        newRecordBuffer(),
		flushInterval: flushInterval,
		ctx:           ctx,
		cancel:        cancel,
		done:          make(chan struct{}),
	}
}

// Record 写入 Redis 状态，并加入缓冲区等待批量落库。签名前失败的结果没有签名，不记录
func (j *Journal) Record(ctx context.Context, o submitter.Outcome) error {
	if o.Signature == "" {
		logger.Debugf("[Journal] 跳过无签名的提交结果: status=%s, step=%s", o.Status, o.LastStep)
		return nil
	}
	if j.redis != nil {
		if err := j.redis.MarkStatus(ctx, o.Signature, o.Status); err != nil {
			return err
		}
	}
	if j.db != nil {
		if j.buffer.Len() >= maxBuffered {
			logger.Errorf("[Journal] 缓冲区已满，丢弃记录: sig=%s", o.Signature)
			return nil
		}
		j.buffer.Add(recordFromOutcome(o))
	}
	return nil
}

// Status 先查 Redis，未命中再查 DB 并回填 Redis
func (j *Journal) Status(ctx context.Context, sig string) (submitter.Status, bool, error) {
	if j.redis != nil {
		status, ok, err := j.redis.GetStatus(ctx, sig)
		if err != nil {
			return "", false, err
		}
		if ok {
			return status, true, nil
		}
	}
	if j.db == nil {
		return "", false, nil
	}
	status, ok, err := j.db.GetStatus(ctx, sig)
	if err != nil || !ok {
		return "", false, err
	}
	if j.redis != nil {
		_ = j.redis.MarkStatus(ctx, sig, status)
	}
	return status, true, nil
}

// Flush 把缓冲区写入 DB，失败的记录放回缓冲区
func (j *Journal) Flush(ctx context.Context) error {
	if j.db == nil {
		return nil
	}
	list := j.buffer.Flush()
	if len(list) == 0 {
		return nil
	}
	if err := j.db.BatchUpsert(ctx, list); err != nil {
		j.buffer.Requeue(list)
		return err
	}
	logger.Debugf("[Journal] 写入提交记录 %d 条", len(list))
	return nil
}

// Start 启动定时 flush 与 GC，阻塞到 Stop
func (j *Journal) Start() {
	if !j.started.CompareAndSwap(false, true) {
		return
	}
	defer close(j.done)
	if j.db == nil {
		<-j.ctx.Done()
		return
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		j.gcLoop()
	}()
	j.flushLoop()
	wg.Wait()
}

// Stop 等待进行中的 flush 结束后，把剩余缓冲区写入 DB
func (j *Journal) Stop() {
	j.cancel()
	if j.started.Load() {
		<-j.done
	}

	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	if err := j.Flush(ctx); err != nil {
		logger.Errorf("[Journal] 退出前写入失败: pending=%d, err=%v", j.buffer.Len(), err)
	}
}

func (j *Journal) flushLoop() {
	ticker := time.NewTicker(j.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-j.ctx.Done():
			return
		case <-ticker.C:
			j.safeFlush()
		}
	}
}

func (j *Journal) safeFlush() {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("[Journal] flush panic: %v\n%s", r, debug.Stack())
		}
	}()
	// 不跟随 j.ctx 取消，Stop 时让进行中的写入完成
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	if err := j.Flush(ctx); err != nil {
		logger.Warnf("[Journal] 写入提交记录失败，下轮重试: pending=%d, err=%v", j.buffer.Len(), err)
	}
}

// gcLoop 定期清理 retention 之前的记录
func (j *Journal) gcLoop() {
	ticker := time.NewTicker(gcInterval)
	defer ticker.Stop()

	for {
		select {
		case <-j.ctx.Done():
			return
		case <-ticker.C:
			if _, err := j.db.DeleteBefore(j.ctx, time.Now().Add(-retention)); err != nil {
				logger.Warnf("[Journal] 清理历史记录失败: %v", err)
			}
		}
	}
}
