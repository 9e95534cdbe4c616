package task

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	xerrors "AgentRouter/internal/errors"
)

const defaultMemoryQueueSize = 64

// MemoryQueue 基于带缓冲 channel 的进程内队列，用于单机部署和测试。
// 关闭后 Publish 返回错误，正在运行的 Consume 在当前任务处理完后退出。
type MemoryQueue struct {
	ch   chan string
	done chan struct{}
	once sync.Once
}

// NewMemoryQueue 创建容量为 size 的内存队列，size 非正数时使用默认容量。
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = defaultMemoryQueueSize
	}
	return &MemoryQueue{ch: make(chan string, size), done: make(chan struct{})}
}

// Publish 投递任务 ID，队列已满时阻塞直到有空位、ctx 结束或队列关闭。
func (q *MemoryQueue) Publish(ctx context.Context, taskID string) error {
	select {
	case <-q.done:
		return errQueueClosed
	default:
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-q.done:
		return errQueueClosed
	case q.ch <- taskID:
		return nil
	}
}

// Consume 启动 workerCount 个协程处理任务，直到 ctx 结束或队列关闭。
// 内存队列没有确认机制，handler 的错误由调用方负责重投。
func (q *MemoryQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	g, gctx := errgroup.WithContext(ctx)
	for range max(workerCount, 1) {
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return gctx.Err()
				case <-q.done:
					return nil
				case id := <-q.ch:
					_ = handler(gctx, id)
				}
			}
		})
	}
	return g.Wait()
}

// Pending 返回尚未被消费的任务数量。
func (q *MemoryQueue) Pending() int {
	return len(q.ch)
}

// Close 关闭队列，可重复调用。
func (q *MemoryQueue) Close() error {
	q.once.Do(func() { close(q.done) })
	return nil
}

var errQueueClosed = xerrors.New(xerrors.CodeQueueFailure, "内存队列已关闭", xerrors.WithRetryable(false))

var (
	_ Producer = (*MemoryQueue)(nil)
	_ Consumer = (*MemoryQueue)(nil)
)
