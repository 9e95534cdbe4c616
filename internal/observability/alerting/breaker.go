package alerting

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"AgentRouter/internal/breaker"
	xerrors "AgentRouter/internal/errors"
	"AgentRouter/pkg/logger"
)

// BreakerObserver 将熔断器状态变化转换为告警。派发在独立协程中进行，不阻塞调用路径。
type BreakerObserver struct {
	dispatcher Dispatcher
	timeout    time.Duration
	logger     *slog.Logger
	wg         sync.WaitGroup
}

// NewBreakerObserver 创建熔断告警观察者。
func NewBreakerObserver(dispatcher Dispatcher, timeout time.Duration) *BreakerObserver {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &BreakerObserver{
		dispatcher: dispatcher,
		timeout:    timeout,
		logger:     logger.Named("alerting"),
	}
}

// OnStateChange 在熔断打开时发出告警，半开恢复到关闭时发出恢复通知。
func (o *BreakerObserver) OnStateChange(ev breaker.Event) {
	if o == nil || o.dispatcher == nil {
		return
	}
	var event Event
	switch {
	case ev.To == breaker.StateOpen:
		attrs := xerrors.AttributesOf(xerrors.CodeBreakerOpen)
		event = Event{
			Code:     xerrors.CodeBreakerOpen,
			Message:  ev.Reason,
			Severity: attrs.Severity,
		}
	case ev.From == breaker.StateHalfOpen && ev.To == breaker.StateClosed:
		event = Event{
			Code:     xerrors.CodeBreakerRecovered,
			Message:  "breaker recovered: " + ev.Reason,
			Severity: xerrors.AttributesOf(xerrors.CodeBreakerRecovered).Severity,
		}
	default:
		return
	}
	event.Breaker = ev.Breaker
	event.OccurredAt = ev.At
	event.Metadata = map[string]string{
		"from":          ev.From.String(),
		"to":            ev.To.String(),
		"failure_count": strconv.Itoa(ev.FailureCount),
		"success_count": strconv.Itoa(ev.SuccessCount),
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
		defer cancel()
		if err := o.dispatcher.Notify(ctx, event); err != nil {
			o.logger.Error("熔断告警发送失败", slog.String("breaker", event.Breaker), slog.Any("error", err))
		}
	}()
}

// Wait 等待已派发的告警发送完毕，用于优雅退出。
func (o *BreakerObserver) Wait() {
	if o != nil {
		o.wg.Wait()
	}
}

var _ breaker.Observer = (*BreakerObserver)(nil)
