package main

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	goredis "github.com/redis/go-redis/v9"

	"AgentRouter/internal/agent"
	"AgentRouter/internal/breaker"
	"AgentRouter/internal/catalog"
	"AgentRouter/internal/config"
	"AgentRouter/internal/fallback"
	"AgentRouter/internal/intent"
	"AgentRouter/internal/knowledge"
	"AgentRouter/internal/llm"
	"AgentRouter/internal/llm/anthropic"
	"AgentRouter/internal/llm/gemini"
	"AgentRouter/internal/llm/openai"
	"AgentRouter/internal/llm/pythonbridge"
	"AgentRouter/internal/observability/alerting"
	"AgentRouter/internal/observability/metrics"
	"AgentRouter/internal/pipeline"
	"AgentRouter/internal/routing"
	"AgentRouter/internal/storage/mysql"
	"AgentRouter/internal/storage/redis"
	"AgentRouter/internal/task"
	"AgentRouter/internal/tool"
	"AgentRouter/pkg/logger"
)

// application 持有一次运行所需的全部组件。
type application struct {
	catalog   *catalog.Holder
	watcher   *catalog.Watcher
	breakers  *breaker.Set
	agent     *agent.Agent
	tasks     *task.Service
	processor *task.Processor
	observer  *alerting.BreakerObserver

	closers []func() error
}

func (a *application) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

// Close 逆序释放资源。
func (a *application) Close() error {
	if a.observer != nil {
		a.observer.Wait()
	}
	var err error
	for i := len(a.closers) - 1; i >= 0; i-- {
		err = stdErrors.Join(err, a.closers[i]())
	}
	a.closers = nil
	return err
}

// build 按配置装配目录、熔断器、下游客户端、Agent 与任务处理器。
func build(ctx context.Context, cfg *config.Config) (_ *application, err error) {
	app := &application{}
	defer func() {
		if err != nil {
			_ = app.Close()
		}
	}()

	if err = os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}

	snapshot, err := catalog.LoadFile(cfg.Catalog.Path)
	if err != nil {
		return nil, err
	}
	app.catalog = catalog.NewHolder(snapshot)
	if cfg.Catalog.Watch {
		app.watcher = catalog.NewWatcher(cfg.Catalog.Path, app.catalog,
			catalog.WithDebounce(cfg.Catalog.Debounce),
			catalog.WithWatcherLogger(logger.Named("catalog")),
		)
	}

	dispatcher := newDispatcher(cfg.Alerting)

	app.breakers, err = breaker.NewSet(cfg.BreakerConfigs(), breaker.WithLogger(logger.Named("breaker")))
	if err != nil {
		return nil, err
	}
	metrics.SeedBreakers(app.breakers)
	app.breakers.Subscribe(metrics.BreakerObserver{})
	if dispatcher != nil {
		app.observer = alerting.NewBreakerObserver(dispatcher, cfg.Alerting.NotifyTimeout)
		app.breakers.Subscribe(app.observer)
	}

	var redisClient *goredis.Client
	if needsRedis(cfg) {
		redisClient, err = redis.NewClient(ctx, cfg.Storage.Redis)
		if err != nil {
			return nil, err
		}
		app.onClose(redisClient.Close)
	}

	client, err := newLLMClient(ctx, cfg.LLM)
	if err != nil {
		return nil, err
	}

	chain, err := newFallbackChain(app, cfg.Fallback, redisClient, cfg.Storage.Redis.Prefix())
	if err != nil {
		return nil, err
	}

	pipelineOpts := []pipeline.Option{
		pipeline.WithTools(newTools(cfg.Tools)),
		pipeline.WithFallbacks(chain),
		pipeline.WithMaxTokens(cfg.LLM.MaxTokens),
	}
	if cfg.Knowledge.Source != "" {
		provider, err := knowledge.LoadStaticProvider(cfg.Knowledge.Source, cfg.Knowledge.MaxResults)
		if err != nil {
			return nil, err
		}
		pipelineOpts = append(pipelineOpts, pipeline.WithRetriever(provider))
	}
	executor, err := pipeline.New(app.breakers, client, pipelineOpts...)
	if err != nil {
		return nil, err
	}

	router := routing.NewRouter(app.catalog,
		routing.WithGenerator(routing.NewGenerator(routing.WithWorkers(cfg.Routing.Workers))),
		routing.WithPolicy(routing.Policy{
			SingleThreshold:        cfg.Routing.SingleThreshold,
			CollaborationThreshold: cfg.Routing.CollaborationThreshold,
			MaxCollaborators:       cfg.Routing.MaxCollaborators,
		}),
	)

	var (
		decisions mysql.DecisionRepository
		store     task.Store
	)
	switch cfg.Storage.Driver {
	case "mysql":
		db, err := mysql.OpenAndMigrate(ctx, cfg.Storage.MySQL)
		if err != nil {
			return nil, err
		}
		app.onClose(db.Close)
		decisions = mysql.NewSQLDecisionRepository(db)
		store, err = task.NewMySQLStore(db)
		if err != nil {
			return nil, err
		}
	default:
		repo, err := mysql.NewFileDecisionRepository(cfg.Runtime.DataDir)
		if err != nil {
			return nil, err
		}
		decisions = repo
		store = task.NewMemoryStore()
	}

	agentOpts := []agent.Option{
		agent.WithDecisionRepository(decisions),
		agent.WithTimeout(cfg.Server.RequestTimeout),
	}
	if cfg.Intent.Endpoint != "" {
		analyzer, err := intent.NewHTTPAnalyzer(cfg.Intent.Endpoint,
			intent.WithTimeout(cfg.Intent.Timeout),
			intent.WithAPIKey(cfg.Intent.APIKey),
		)
		if err != nil {
			return nil, err
		}
		agentOpts = append(agentOpts, agent.WithAnalyzer(analyzer))
	}
	app.agent = agent.New(router, executor, agentOpts...)

	queue, err := newQueue(cfg.TaskQueue, redisClient)
	if err != nil {
		return nil, err
	}
	app.onClose(queue.Close)
	app.tasks = task.NewService(store, queue, cfg.Storage.MaxRetries)

	processorOpts := []task.ProcessorOption{
		task.WithWorkerCount(cfg.TaskQueue.Workers),
		task.WithProcessorLogger(logger.Named("task")),
	}
	if dispatcher != nil {
		processorOpts = append(processorOpts, task.WithAlertDispatcher(dispatcher))
	}
	app.processor = task.NewProcessor(app.agent, store, queue, queue, processorOpts...)
	return app, nil
}

func needsRedis(cfg *config.Config) bool {
	return cfg.TaskQueue.Driver == "redis" || cfg.Fallback.Cache == "redis"
}

// newLLMClient 根据 provider 创建对应的大模型客户端。
func newLLMClient(ctx context.Context, cfg config.LLMConfig) (llm.Client, error) {
	switch cfg.Provider {
	case "openai":
		return openai.NewClient(openai.Config{
			APIKey:  cfg.OpenAI.ResolveAPIKey(),
			BaseURL: cfg.OpenAI.BaseURL,
			Model:   cfg.OpenAI.Model,
		})
	case "anthropic":
		return anthropic.NewClient(anthropic.Config{
			APIKey:  cfg.Anthropic.ResolveAPIKey(),
			BaseURL: cfg.Anthropic.BaseURL,
			Model:   cfg.Anthropic.Model,
		})
	case "gemini":
		return gemini.NewClient(ctx, gemini.Config{
			APIKey:  cfg.Gemini.ResolveAPIKey(),
			BaseURL: cfg.Gemini.BaseURL,
			Model:   cfg.Gemini.Model,
		})
	default:
		script := pythonbridge.ResolveScriptPath(cfg.Python.WorkingDir, cfg.Python.ScriptPath)
		return pythonbridge.NewClient(cfg.Python.PythonExecutable, script, cfg.Python.WorkingDir)
	}
}

// newFallbackChain 组装降级链，缓存后端按配置选择。
func newFallbackChain(app *application, cfg config.FallbackConfig, client *goredis.Client, prefix string) (*fallback.Chain, error) {
	opts := []fallback.Option{fallback.WithLogger(logger.Named("fallback"))}
	if cfg.Notice != "" {
		opts = append(opts, fallback.WithNotice(cfg.Notice))
	}
	switch cfg.Cache {
	case "memory":
		opts = append(opts, fallback.WithCache(fallback.NewMemoryCache(cfg.MaxEntries), cfg.TTL))
	case "redis":
		opts = append(opts, fallback.WithCache(fallback.NewRedisCache(client, prefix+"fallback:"), cfg.TTL))
	case "badger":
		cache, err := fallback.OpenBadgerCache(cfg.BadgerDir)
		if err != nil {
			return nil, err
		}
		app.onClose(cache.Close)
		opts = append(opts, fallback.WithCache(cache, cfg.TTL))
	}
	return fallback.NewChain(opts...), nil
}

func newTools(tools []config.ToolConfig) *tool.Registry {
	registry := tool.NewRegistry()
	for _, tc := range tools {
		registry.Register(tc.Name, &tool.HTTPTool{
			Name:     tc.Name,
			Endpoint: tc.Endpoint,
			Headers:  tc.Headers,
			Client:   &http.Client{Timeout: tc.Timeout},
		})
	}
	return registry
}

type taskQueue interface {
	task.Producer
	task.Consumer
}

func newQueue(cfg config.TaskQueueConfig, client *goredis.Client) (taskQueue, error) {
	switch cfg.Driver {
	case "redis":
		return task.NewRedisQueue(client, task.RedisQueueConfig{Queue: cfg.Queue, BlockWait: cfg.BlockWait})
	case "rabbitmq":
		return task.NewRabbitMQQueue(task.RabbitMQConfig{
			URL:        cfg.RabbitMQ.URL,
			Queue:      cfg.Queue,
			Prefetch:   cfg.RabbitMQ.Prefetch,
			Durable:    cfg.RabbitMQ.Durable,
			AutoDelete: cfg.RabbitMQ.AutoDelete,
		})
	default:
		return task.NewMemoryQueue(cfg.Size), nil
	}
}

// newDispatcher 组合日志、Webhook 与 Slack 通知器，并按事件限流。
func newDispatcher(cfg config.AlertingConfig) alerting.Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	notifiers := []alerting.Notifier{&alerting.LogNotifier{Logger: logger.Named("alert")}}
	client := &http.Client{Timeout: cfg.NotifyTimeout}
	if cfg.WebhookURL != "" {
		notifiers = append(notifiers, &alerting.WebhookNotifier{URL: cfg.WebhookURL, Headers: cfg.WebhookHeaders, Client: client})
	}
	if cfg.SlackWebhookURL != "" {
		notifiers = append(notifiers, &alerting.SlackNotifier{
			Sender:    &alerting.SlackWebhookSender{URL: cfg.SlackWebhookURL, Client: client},
			ChannelID: cfg.SlackChannel,
		})
	}
	logger.Named("alerting").Info("告警已启用", slog.Int("notifiers", len(notifiers)))
	return alerting.NewThrottled(alerting.NewFanout(notifiers...), cfg.ThrottleWindow, cfg.ThrottleBurst)
}
