package task

import "context"

// Handler 处理从队列取出的任务 ID，返回的错误只用于日志，重投由处理器决定。
type Handler func(ctx context.Context, taskID string) error

// Producer 投递任务 ID。
type Producer interface {
	Publish(ctx context.Context, taskID string) error
	Close() error
}

// Consumer 以固定并发消费任务 ID，直到 ctx 结束。
type Consumer interface {
	Consume(ctx context.Context, workerCount int, handler Handler) error
	Close() error
}

// Queue 是内存、Redis 与 RabbitMQ 队列的共同形态。
type Queue interface {
	Producer
	Consumer
}
