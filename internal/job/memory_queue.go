package job

import (
	"context"
	"errors"
	"sync"
)

// MemoryQueue 使用 channel 模拟消息队列，主要用于测试。
type MemoryQueue struct {
	ch   chan string
	done chan struct{}
	once sync.Once
}

// NewMemoryQueue 创建一个内存队列。
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 64
	}
	return &MemoryQueue{
		ch:   make(chan string, size),
		done: make(chan struct{}),
	}
}

// Publish 将作业投递到队列。
// 数据通道从不关闭,关闭信号走 done,并发 Close 不会引发向已关闭通道发送。
func (q *MemoryQueue) Publish(ctx context.Context, jobID string) error {
	select {
	case <-q.done:
		return errors.New("队列已关闭")
	default:
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-q.done:
		return errors.New("队列已关闭")
	case q.ch <- jobID:
		return nil
	}
}

// Consume 启动指定数量的工作协程消费队列中的作业。
func (q *MemoryQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if workerCount <= 0 {
		workerCount = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case <-q.done:
					return
				case jobID := <-q.ch:
					_ = handler(ctx, jobID)
				}
			}
		}()
	}
	select {
	case <-ctx.Done():
	case <-q.done:
	}
	wg.Wait()
	return ctx.Err()
}

// Close 关闭内存队列。
func (q *MemoryQueue) Close() error {
	q.once.Do(func() {
		close(q.done)
	})
	return nil
}
