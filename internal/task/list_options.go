package task

import (
	"slices"
	"strings"
	"time"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// SortOrder 控制列表按更新时间排序的方向。
type SortOrder int

const (
	SortByUpdatedDesc SortOrder = iota
	SortByUpdatedAsc
)

// ListOptions 描述任务查询条件。
//
// 时间范围以 Unix 秒表示，零值表示不限制。Handler、Mode、Degraded
// 三个条件只匹配已经写入结果的任务。
type ListOptions struct {
	Limit  int
	Offset int
	Order  SortOrder

	Statuses   []Status
	UpdatedGTE int64
	UpdatedLTE int64
	Query      string

	HasResult *bool
	Handler   string
	Mode      string
	Degraded  *bool
}

// ListOption 修改 ListOptions。
type ListOption func(*ListOptions)

func WithLimit(limit int) ListOption {
	return func(o *ListOptions) { o.Limit = limit }
}

func WithOffset(offset int) ListOption {
	return func(o *ListOptions) { o.Offset = offset }
}

func WithSortOrder(order SortOrder) ListOption {
	return func(o *ListOptions) { o.Order = order }
}

// WithStatuses 只返回处于给定状态的任务，未知状态会被忽略。
func WithStatuses(statuses ...Status) ListOption {
	return func(o *ListOptions) { o.Statuses = slices.Clone(statuses) }
}

// WithUpdatedSince 与 WithUpdatedUntil 均为闭区间。
func WithUpdatedSince(ts time.Time) ListOption {
	return func(o *ListOptions) { o.UpdatedGTE = unixOrZero(ts) }
}

func WithUpdatedUntil(ts time.Time) ListOption {
	return func(o *ListOptions) { o.UpdatedLTE = unixOrZero(ts) }
}

// WithQuery 在 ID、查询文本、元数据、错误信息和答案中做不区分大小写的子串匹配。
func WithQuery(query string) ListOption {
	return func(o *ListOptions) { o.Query = query }
}

func WithResultPresence(hasResult bool) ListOption {
	return func(o *ListOptions) { o.HasResult = &hasResult }
}

// WithHandler 只返回结果中包含指定处理器的任务。
func WithHandler(handlerID string) ListOption {
	return func(o *ListOptions) { o.Handler = handlerID }
}

// WithMode 只返回以指定路由模式执行的任务，例如 single 或 collaborative。
func WithMode(mode string) ListOption {
	return func(o *ListOptions) { o.Mode = mode }
}

// WithDegraded 按结果是否来自降级链过滤。
func WithDegraded(degraded bool) ListOption {
	return func(o *ListOptions) { o.Degraded = &degraded }
}

func buildListOptions(opts []ListOption) ListOptions {
	var o ListOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	o.applyDefaults()
	return o
}

func (o *ListOptions) applyDefaults() {
	switch {
	case o.Limit <= 0:
		o.Limit = defaultListLimit
	case o.Limit > maxListLimit:
		o.Limit = maxListLimit
	}
	o.Offset = max(o.Offset, 0)
	if o.Order != SortByUpdatedAsc {
		o.Order = SortByUpdatedDesc
	}
	o.Statuses = normalizeStatuses(o.Statuses)
	o.Query = strings.TrimSpace(o.Query)
	o.Handler = strings.TrimSpace(o.Handler)
	o.Mode = strings.ToLower(strings.TrimSpace(o.Mode))
}

// resultFiltered 判断是否设置了依赖执行结果的过滤条件。
func (o ListOptions) resultFiltered() bool {
	return o.Handler != "" || o.Mode != "" || o.Degraded != nil
}

// match 在内存中判断任务是否满足全部条件。
func (o ListOptions) match(t *Task) bool {
	if len(o.Statuses) > 0 && !slices.Contains(o.Statuses, t.Status) {
		return false
	}
	if o.UpdatedGTE > 0 && t.UpdatedAt < o.UpdatedGTE {
		return false
	}
	if o.UpdatedLTE > 0 && t.UpdatedAt > o.UpdatedLTE {
		return false
	}
	if o.HasResult != nil && t.Result.Empty() == *o.HasResult {
		return false
	}
	if o.resultFiltered() {
		r := t.Result
		if r == nil {
			return false
		}
		if o.Handler != "" && !slices.Contains(r.Handlers, o.Handler) {
			return false
		}
		if o.Mode != "" && !strings.EqualFold(r.Mode, o.Mode) {
			return false
		}
		if o.Degraded != nil && r.Degraded != *o.Degraded {
			return false
		}
	}
	return o.Query == "" || containsFold(t, strings.ToLower(o.Query))
}

func containsFold(t *Task, needle string) bool {
	fields := []string{t.ID, t.Query, t.LastError}
	for k, v := range t.Metadata {
		fields = append(fields, k, v)
	}
	if t.Result != nil {
		fields = append(fields, t.Result.Answer)
	}
	return slices.ContainsFunc(fields, func(f string) bool {
		return strings.Contains(strings.ToLower(f), needle)
	})
}

func normalizeStatuses(input []Status) []Status {
	var out []Status
	for _, s := range input {
		if IsValidStatus(s) && !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}

func unixOrZero(ts time.Time) int64 {
	if ts.IsZero() {
		return 0
	}
	return ts.Unix()
}
