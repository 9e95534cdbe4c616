package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"AgentRouter/internal/agent"
	"AgentRouter/internal/breaker"
	"AgentRouter/internal/catalog"
	xerrors "AgentRouter/internal/errors"
	"AgentRouter/internal/intent"
	"AgentRouter/internal/task"
)

// RouteRequest 是路由与任务接口的请求体。
type RouteRequest struct {
	ID       string            `json:"id,omitempty"`
	Query    string            `json:"query"`
	Intent   *intent.Result    `json:"intent,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func (r RouteRequest) toAgent() agent.Request {
	return agent.Request{ID: r.ID, Query: r.Query, Intent: r.Intent, Metadata: r.Metadata}
}

// ErrorResponse 是统一的错误响应体。
type ErrorResponse struct {
	Code     xerrors.Code      `json:"code"`
	Message  string            `json:"message"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Result   any               `json:"result,omitempty"`
}

// CatalogResponse 描述当前处理器目录。
type CatalogResponse struct {
	Version  uint64               `json:"version"`
	Source   string               `json:"source,omitempty"`
	LoadedAt time.Time            `json:"loaded_at"`
	Handlers []catalog.Descriptor `json:"handlers"`
	Intents  map[string][]string  `json:"intents"`
}

// HealthResponse 汇总服务健康状态。
type HealthResponse struct {
	Status       string   `json:"status"`
	Handlers     int      `json:"handlers"`
	OpenBreakers []string `json:"open_breakers,omitempty"`
}

func (s *Server) handleRoute(c *gin.Context) {
	s.route(c, true)
}

func (s *Server) handlePreview(c *gin.Context) {
	s.route(c, false)
}

func (s *Server) route(c *gin.Context, execute bool) {
	if s.agent == nil {
		writeError(c, xerrors.New(xerrors.CodeInitializationFailure, "路由服务未初始化"), nil)
		return
	}
	var req RouteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体解析失败"), nil)
		return
	}

	var (
		result *agent.Result
		err    error
	)
	if execute {
		result, err = s.agent.Handle(c.Request.Context(), req.toAgent())
	} else {
		result, err = s.agent.Route(c.Request.Context(), req.toAgent())
	}
	if err != nil {
		var payload any
		if result != nil {
			payload = result
		}
		writeError(c, err, payload)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleListDecisions(c *gin.Context) {
	if s.agent == nil {
		writeError(c, xerrors.New(xerrors.CodeInitializationFailure, "路由服务未初始化"), nil)
		return
	}
	records, err := s.agent.ListDecisions(c.Request.Context(), queryInt(c, "limit", 20))
	if err != nil {
		writeError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, records)
}

func (s *Server) handleCreateTask(c *gin.Context) {
	if s.tasks == nil {
		writeError(c, xerrors.New(xerrors.CodeInitializationFailure, "任务服务未初始化"), nil)
		return
	}
	var req RouteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体解析失败"), nil)
		return
	}
	created, err := s.tasks.Submit(c.Request.Context(), req.toAgent())
	if err != nil {
		writeError(c, err, nil)
		return
	}
	c.JSON(http.StatusAccepted, created)
}

func (s *Server) handleListTasks(c *gin.Context) {
	if s.tasks == nil {
		writeError(c, xerrors.New(xerrors.CodeInitializationFailure, "任务服务未初始化"), nil)
		return
	}
	opts, err := listOptionsFromQuery(c)
	if err != nil {
		writeError(c, err, nil)
		return
	}
	tasks, err := s.tasks.List(c.Request.Context(), opts...)
	if err != nil {
		writeError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, tasks)
}

func (s *Server) handleTaskStats(c *gin.Context) {
	if s.tasks == nil {
		writeError(c, xerrors.New(xerrors.CodeInitializationFailure, "任务服务未初始化"), nil)
		return
	}
	opts, err := listOptionsFromQuery(c)
	if err != nil {
		writeError(c, err, nil)
		return
	}
	stats, err := s.tasks.Stats(c.Request.Context(), opts...)
	if err != nil {
		writeError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) handleTaskDetail(c *gin.Context) {
	if s.tasks == nil {
		writeError(c, xerrors.New(xerrors.CodeInitializationFailure, "任务服务未初始化"), nil)
		return
	}
	found, err := s.tasks.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, found)
}

func (s *Server) handleListBreakers(c *gin.Context) {
	if s.breakers == nil {
		c.JSON(http.StatusOK, []breaker.Status{})
		return
	}
	c.JSON(http.StatusOK, s.breakers.Statuses())
}

func (s *Server) handleResetBreaker(c *gin.Context) {
	if s.breakers == nil {
		writeError(c, xerrors.New(xerrors.CodeInitializationFailure, "未配置熔断器"), nil)
		return
	}
	name := c.Param("name")
	if err := s.breakers.Reset(name); err != nil {
		writeError(c, err, nil)
		return
	}
	s.logger.Warn("熔断器被手动重置", "breaker", name, "remote", c.ClientIP())
	b, _ := s.breakers.Get(name)
	c.JSON(http.StatusOK, b.Status())
}

func (s *Server) handleCatalog(c *gin.Context) {
	if s.catalog == nil || s.catalog.Snapshot() == nil {
		writeError(c, xerrors.New(xerrors.CodeInitializationFailure, "处理器目录未加载"), nil)
		return
	}
	snap := s.catalog.Snapshot()
	resp := CatalogResponse{
		Version:  s.catalog.Version(),
		Source:   snap.Source(),
		LoadedAt: snap.LoadedAt(),
		Handlers: make([]catalog.Descriptor, 0, snap.Len()),
		Intents:  make(map[string][]string),
	}
	for _, d := range snap.All() {
		resp.Handlers = append(resp.Handlers, *d)
	}
	for _, label := range snap.Intents() {
		ids := make([]string, 0)
		for _, d := range snap.ByIntent(label) {
			ids = append(ids, d.ID)
		}
		resp.Intents[label] = ids
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleHealth(c *gin.Context) {
	resp := HealthResponse{Status: "ok"}
	if s.catalog != nil {
		if snap := s.catalog.Snapshot(); snap != nil {
			resp.Handlers = snap.Len()
		}
	}
	if s.breakers != nil {
		for _, st := range s.breakers.Statuses() {
			if st.State == breaker.StateOpen {
				resp.OpenBreakers = append(resp.OpenBreakers, st.Name)
			}
		}
	}
	if resp.Handlers == 0 {
		resp.Status = "degraded"
	}
	c.JSON(http.StatusOK, resp)
}

// listOptionsFromQuery 解析 status、limit、offset、q、order、has_result、since、until 参数。
func listOptionsFromQuery(c *gin.Context) ([]task.ListOption, error) {
	opts := []task.ListOption{
		task.WithLimit(queryInt(c, "limit", 20)),
		task.WithOffset(queryInt(c, "offset", 0)),
	}
	if raw := strings.TrimSpace(c.Query("status")); raw != "" {
		var statuses []task.Status
		for _, part := range strings.Split(raw, ",") {
			status := task.Status(strings.ToLower(strings.TrimSpace(part)))
			if !task.IsValidStatus(status) {
				return nil, xerrors.New(xerrors.CodeInvalidArgument, "未知的任务状态: "+part)
			}
			statuses = append(statuses, status)
		}
		opts = append(opts, task.WithStatuses(statuses...))
	}
	if q := c.Query("q"); q != "" {
		opts = append(opts, task.WithQuery(q))
	}
	if strings.EqualFold(c.Query("order"), "asc") {
		opts = append(opts, task.WithSortOrder(task.SortByUpdatedAsc))
	}
	for key, build := range map[string]func(bool) task.ListOption{
		"has_result": task.WithResultPresence,
		"degraded":   task.WithDegraded,
	} {
		raw := c.Query(key)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, key+" 必须是布尔值")
		}
		opts = append(opts, build(v))
	}
	if handler := c.Query("handler"); handler != "" {
		opts = append(opts, task.WithHandler(handler))
	}
	if mode := c.Query("mode"); mode != "" {
		opts = append(opts, task.WithMode(mode))
	}
	for key, build := range map[string]func(time.Time) task.ListOption{
		"since": task.WithUpdatedSince,
		"until": task.WithUpdatedUntil,
	} {
		raw := c.Query(key)
		if raw == "" {
			continue
		}
		ts, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, key+" 必须是 Unix 时间戳")
		}
		opts = append(opts, build(time.Unix(ts, 0)))
	}
	return opts, nil
}

func queryInt(c *gin.Context, key string, def int) int {
	raw := c.Query(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}

// statusOf 将错误码映射为 HTTP 状态码。
func statusOf(code xerrors.Code) int {
	switch code {
	case xerrors.CodeInvalidArgument, task.CodeTaskValidation:
		return http.StatusBadRequest
	case xerrors.CodeNotFound, task.CodeTaskNotFound:
		return http.StatusNotFound
	case xerrors.CodeConflict, task.CodeTaskConflict:
		return http.StatusConflict
	case xerrors.CodeNoConfidentMatch:
		return http.StatusUnprocessableEntity
	case xerrors.CodeBreakerOpen, xerrors.CodeInitializationFailure, task.CodeTaskPublish:
		return http.StatusServiceUnavailable
	case xerrors.CodeDownstreamFailure, xerrors.CodeAllHandlersFailed:
		return http.StatusBadGateway
	case xerrors.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error, result any) {
	resp := ErrorResponse{Code: xerrors.CodeUnknown, Message: err.Error(), Result: result}
	if e, ok := xerrors.From(err); ok {
		resp.Code = e.Code()
		resp.Metadata = e.Metadata()
	}
	if resp.Code == xerrors.CodeNoConfidentMatch {
		resp.Message = xerrors.AttributesOf(xerrors.CodeNoConfidentMatch).Message
	}
	c.AbortWithStatusJSON(statusOf(resp.Code), resp)
}
