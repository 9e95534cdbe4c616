package task

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"maps"
	"strings"
	"time"

	"github.com/google/uuid"

	"AgentRouter/internal/agent"
	xerrors "AgentRouter/internal/errors"
	"AgentRouter/pkg/logger"
)

const (
	defaultMaxRetries   = 3
	defaultPollInterval = 500 * time.Millisecond
)

// Service 是异步路由任务的入口：校验请求、落库、入队，并提供查询。
type Service struct {
	store      Store
	producer   Producer
	maxRetries int
}

// NewService 构造任务服务，maxRetries 非正数时取 3。
func NewService(store Store, producer Producer, maxRetries int) *Service {
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	return &Service{store: store, producer: producer, maxRetries: maxRetries}
}

// Submit 创建任务并投递到队列。请求携带 ID 时具备幂等性，重复提交直接返回已有任务。
func (s *Service) Submit(ctx context.Context, req agent.Request) (*Task, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, xerrors.New(CodeTaskValidation, "查询内容不能为空")
	}
	if s.store == nil || s.producer == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "任务服务未初始化")
	}

	id := strings.TrimSpace(req.ID)
	if id == "" {
		id = uuid.NewString()
	} else if existing, err := s.existing(ctx, id); existing != nil || err != nil {
		return existing, err
	}

	t := &Task{
		ID:         id,
		Query:      query,
		Intent:     cloneIntent(req.Intent),
		Metadata:   maps.Clone(req.Metadata),
		Status:     StatusPending,
		MaxRetries: s.maxRetries,
	}
	if err := s.store.Create(ctx, t); err != nil {
		// 并发提交同一 ID 时以先写入者为准。
		if stdErrors.Is(err, ErrTaskConflict) {
			if existing, getErr := s.existing(ctx, id); existing != nil || getErr != nil {
				return existing, getErr
			}
		}
		return nil, err
	}

	if err := s.producer.Publish(ctx, id); err != nil {
		wrapped := xerrors.Wrap(CodeTaskPublish, err, "发布任务到队列失败")
		logger.L().Error("任务入队失败", slog.Any("error", wrapped), slog.String("task_id", id))
		if markErr := s.store.MarkFailed(ctx, id, CodeTaskPublish, wrapped.Error(), true); markErr != nil {
			logger.L().Error("回写入队失败状态出错", slog.Any("error", markErr), slog.String("task_id", id))
		}
		return nil, wrapped
	}

	logger.Audit().Info("任务入队成功",
		slog.String("task_id", id),
		slog.String("query", t.Query),
		slog.Bool("has_intent", t.Intent != nil),
		slog.Int("max_retries", t.MaxRetries),
	)
	return t, nil
}

// existing 查询已存在的任务，不存在时返回 (nil, nil)。
func (s *Service) existing(ctx context.Context, id string) (*Task, error) {
	t, err := s.store.Get(ctx, id)
	switch {
	case err == nil:
		return t, nil
	case stdErrors.Is(err, ErrTaskNotFound):
		return nil, nil
	default:
		return nil, err
	}
}

// Get 返回指定任务的当前状态。
func (s *Service) Get(ctx context.Context, id string) (*Task, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "任务存储未初始化")
	}
	return s.store.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, opts ...ListOption) ([]*Task, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "任务存储未初始化")
	}
	return s.store.List(ctx, buildListOptions(opts))
}

func (s *Service) Stats(ctx context.Context, opts ...ListOption) (TaskStats, error) {
	if s.store == nil {
		return TaskStats{}, xerrors.New(xerrors.CodeInitializationFailure, "任务存储未初始化")
	}
	return s.store.Stats(ctx, buildListOptions(opts))
}

// WaitUntilCompleted 轮询任务直到 Done 或 ctx 结束。仍有重试机会的失败任务会继续等待。
func (s *Service) WaitUntilCompleted(ctx context.Context, id string, interval time.Duration) (*Task, error) {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		t, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if t.Done() {
			return t, nil
		}
		select {
		case <-ctx.Done():
			return t, ctx.Err()
		case <-ticker.C:
		}
	}
}
