package alerting

import (
	"context"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ThrottledDispatcher 对相同错误码与来源的告警限流，避免熔断抖动时刷屏。
type ThrottledDispatcher struct {
	next     Dispatcher
	interval time.Duration
	burst    int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	dropped  map[string]int
}

// NewThrottled 创建限流派发器：每个键在 interval 内最多放行 burst 条。
func NewThrottled(next Dispatcher, interval time.Duration, burst int) *ThrottledDispatcher {
	if interval <= 0 {
		interval = time.Minute
	}
	if burst <= 0 {
		burst = 1
	}
	return &ThrottledDispatcher{
		next:     next,
		interval: interval,
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
		dropped:  make(map[string]int),
	}
}

// Notify 在限额内转发事件，超出限额的事件被丢弃并计数，下一条放行的事件会带上丢弃数量。
func (d *ThrottledDispatcher) Notify(ctx context.Context, event Event) error {
	if d == nil || d.next == nil {
		return nil
	}
	key := throttleKey(event)

	d.mu.Lock()
	limiter, ok := d.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(d.interval), d.burst)
		d.limiters[key] = limiter
	}
	if !limiter.Allow() {
		d.dropped[key]++
		d.mu.Unlock()
		return nil
	}
	suppressed := d.dropped[key]
	delete(d.dropped, key)
	d.mu.Unlock()

	if suppressed > 0 {
		meta := make(map[string]string, len(event.Metadata)+1)
		for k, v := range event.Metadata {
			meta[k] = v
		}
		meta["suppressed"] = strconv.Itoa(suppressed)
		event.Metadata = meta
	}
	return d.next.Notify(ctx, event)
}

// Dropped 返回与该事件同键的累计丢弃数量。
func (d *ThrottledDispatcher) Dropped(event Event) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dropped[throttleKey(event)]
}

func throttleKey(event Event) string {
	return string(event.Code) + "|" + event.Breaker + "|" + event.TaskID
}
