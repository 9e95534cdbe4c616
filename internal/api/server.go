package api

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"AgentRouter/internal/agent"
	"AgentRouter/internal/breaker"
	"AgentRouter/internal/catalog"
	"AgentRouter/internal/observability/metrics"
	"AgentRouter/internal/storage/mysql"
	"AgentRouter/internal/task"
	"AgentRouter/pkg/logger"
)

// AgentService 定义接口层所需的同步路由能力。
type AgentService interface {
	Handle(ctx context.Context, req agent.Request) (*agent.Result, error)
	Route(ctx context.Context, req agent.Request) (*agent.Result, error)
	ListDecisions(ctx context.Context, limit int) ([]mysql.DecisionRecord, error)
}

// CatalogSource 返回当前生效的处理器目录。
type CatalogSource interface {
	Snapshot() *catalog.Catalog
	Version() uint64
}

// Server 负责暴露 REST 接口。
type Server struct {
	addr     string
	agent    AgentService
	tasks    *task.Service
	breakers *breaker.Set
	catalog  CatalogSource
	metrics  bool
	logger   *slog.Logger
	engine   *gin.Engine
}

// Option 定义可选的服务配置。
type Option func(*Server)

// WithAgent 配置同步路由服务。
func WithAgent(a AgentService) Option {
	return func(s *Server) {
		s.agent = a
	}
}

// WithTaskService 配置异步任务服务。
func WithTaskService(svc *task.Service) Option {
	return func(s *Server) {
		s.tasks = svc
	}
}

// WithBreakers 配置熔断器集合，用于状态查询与手动重置。
func WithBreakers(set *breaker.Set) Option {
	return func(s *Server) {
		s.breakers = set
	}
}

// WithCatalog 配置处理器目录来源。
func WithCatalog(src CatalogSource) Option {
	return func(s *Server) {
		s.catalog = src
	}
}

// WithMetrics 在 /metrics 上挂载 Prometheus 指标。
func WithMetrics(enabled bool) Option {
	return func(s *Server) {
		s.metrics = enabled
	}
}

// WithLogger 覆盖默认日志器。
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, opts ...Option) *Server {
	s := &Server{addr: addr, logger: logger.Named("api")}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.engine = s.routes()
	return s
}

// Handler 返回完整的 HTTP 处理器，便于测试或嵌入其他服务。
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), metrics.GinMiddleware(), s.requestLogger())

	r.GET("/healthz", s.handleHealth)
	if s.metrics {
		r.GET("/metrics", gin.WrapH(metrics.Handler()))
	}

	v1 := r.Group("/api/v1")
	v1.POST("/route", s.handleRoute)
	v1.POST("/route/preview", s.handlePreview)
	v1.GET("/decisions", s.handleListDecisions)

	v1.POST("/tasks", s.handleCreateTask)
	v1.GET("/tasks", s.handleListTasks)
	v1.GET("/tasks/stats", s.handleTaskStats)
	v1.GET("/tasks/:id", s.handleTaskDetail)

	v1.GET("/breakers", s.handleListBreakers)
	v1.POST("/breakers/:name/reset", s.handleResetBreaker)

	v1.GET("/catalog", s.handleCatalog)
	return r
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.engine),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("API 服务启动", "address", s.addr)
		if err := server.ListenAndServe(); err != nil && !stdErrors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := c.Writer.Status()
		if status < http.StatusInternalServerError {
			return
		}
		s.logger.Warn("请求处理失败",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("status", status),
			slog.Duration("duration", time.Since(start)),
		)
	}
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
