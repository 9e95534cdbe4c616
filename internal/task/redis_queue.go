package task

import (
	"context"
	stdErrors "errors"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	xerrors "AgentRouter/internal/errors"
)

// RedisQueueConfig 描述 Redis 队列的参数，连接由 storage/redis 统一创建。
type RedisQueueConfig struct {
	Queue     string
	BlockWait time.Duration
}

// RedisQueue 基于 Redis list 的任务队列：LPUSH 入队，BRPOP 出队。
// 客户端由调用方持有，Close 不会关闭它。
type RedisQueue struct {
	client *redis.Client
	key    string
	wait   time.Duration
}

// NewRedisQueue 基于已建立的 Redis 客户端创建队列。
func NewRedisQueue(client *redis.Client, cfg RedisQueueConfig) (*RedisQueue, error) {
	if client == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "Redis 客户端不能为空")
	}
	q := &RedisQueue{client: client, key: cfg.Queue, wait: cfg.BlockWait}
	if q.key == "" {
		q.key = "agentrouter:tasks"
	}
	if q.wait <= 0 {
		q.wait = 5 * time.Second
	}
	return q, nil
}

// Name 返回队列键名。
func (q *RedisQueue) Name() string { return q.key }

func (q *RedisQueue) Publish(ctx context.Context, taskID string) error {
	if err := q.client.LPush(ctx, q.key, taskID).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "Redis 发布任务失败")
	}
	return nil
}

// Len 返回队列中等待消费的任务数量。
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeQueueFailure, err, "读取 Redis 队列长度失败")
	}
	return n, nil
}

// Consume 以 workerCount 个协程执行 BRPOP。任一协程遇到 Redis 错误时全部退出。
// 出队即视为确认，失败任务由处理器重新投递。
func (q *RedisQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	g, gctx := errgroup.WithContext(ctx)
	for range max(workerCount, 1) {
		g.Go(func() error { return q.work(gctx, handler) })
	}
	return g.Wait()
}

func (q *RedisQueue) work(ctx context.Context, handler Handler) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		values, err := q.client.BRPop(ctx, q.wait, q.key).Result()
		switch {
		case err == nil:
		case stdErrors.Is(err, redis.Nil):
			continue
		case ctx.Err() != nil:
			return ctx.Err()
		case stdErrors.Is(err, redis.ErrClosed):
			return nil
		default:
			return xerrors.Wrap(xerrors.CodeQueueFailure, err, "Redis 取任务失败")
		}
		// BRPOP 返回 [key, value]。
		if len(values) == 2 {
			_ = handler(ctx, values[1])
		}
	}
}

// Close 对共享客户端无需操作。
func (q *RedisQueue) Close() error { return nil }

var _ Queue = (*RedisQueue)(nil)
