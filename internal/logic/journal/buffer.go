package journal

import (
	"sync"
)

type recordBuffer struct {
	mu     sync.Mutex
	buffer []*Record
}

func newRecordBuffer() *recordBuffer {
	return &recordBuffer{}
}

func (b *recordBuffer) Add(record *Record) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buffer = append(b.buffer, record)
}

// Requeue 写库失败的记录放回缓冲区头部，下一轮重试
func (b *recordBuffer) Requeue(records []*Record) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buffer = append(records, b.buffer...)
}

func (b *recordBuffer) Flush() []*Record {
	b.mu.Lock()
	defer b.mu.Unlock()

	flushed := b.buffer
	b.buffer = nil
	return flushed
}

func (b *recordBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buffer)
}
