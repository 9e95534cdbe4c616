package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"AgentRouter/internal/breaker"
	xerrors "AgentRouter/internal/errors"
	"AgentRouter/internal/storage/mysql"
	"AgentRouter/internal/storage/redis"
	"AgentRouter/pkg/logger"
)

// EnvConfigPath 指定配置文件路径的环境变量。
const EnvConfigPath = "AGENTROUTER_CONFIG"

// DefaultPath 是未指定配置文件时的默认位置。
var DefaultPath = filepath.Join("configs", "agentrouter.yaml")

// Config 描述路由服务启动所需的全部配置。
type Config struct {
	Server    ServerConfig             `yaml:"server"`
	Logging   logger.Config            `yaml:"logging"`
	Catalog   CatalogConfig            `yaml:"catalog"`
	Routing   RoutingConfig            `yaml:"routing"`
	Intent    IntentConfig             `yaml:"intent"`
	LLM       LLMConfig                `yaml:"llm"`
	Knowledge KnowledgeConfig          `yaml:"knowledge"`
	Tools     []ToolConfig             `yaml:"tools" validate:"dive"`
	Breakers  map[string]BreakerConfig `yaml:"breakers"`
	Fallback  FallbackConfig           `yaml:"fallback"`
	Storage   StorageConfig            `yaml:"storage"`
	TaskQueue TaskQueueConfig          `yaml:"task_queue"`
	Alerting  AlertingConfig           `yaml:"alerting"`
	Metrics   MetricsConfig            `yaml:"metrics"`
	Runtime   RuntimeConfig            `yaml:"runtime"`
}

// ServerConfig 控制 API 服务的监听地址与请求超时。
type ServerConfig struct {
	Address        string        `yaml:"address" validate:"required"`
	RequestTimeout time.Duration `yaml:"request_timeout" validate:"gte=0"`
}

// CatalogConfig 指定处理器目录文件以及是否热加载。
type CatalogConfig struct {
	Path     string        `yaml:"path" validate:"required"`
	Watch    bool          `yaml:"watch"`
	Debounce time.Duration `yaml:"debounce" validate:"gte=0"`
}

// RoutingConfig 对应选择策略的阈值与打分并发度。
type RoutingConfig struct {
	SingleThreshold        float64 `yaml:"single_threshold" validate:"gte=0,lte=100"`
	CollaborationThreshold float64 `yaml:"collaboration_threshold" validate:"gte=0,lte=100"`
	MaxCollaborators       int     `yaml:"max_collaborators" validate:"min=1"`
	Workers                int     `yaml:"workers" validate:"gte=0"`
}

// IntentConfig 描述上游意图分析服务，Endpoint 为空时请求必须自带意图。
type IntentConfig struct {
	Endpoint string        `yaml:"endpoint" validate:"omitempty,url"`
	APIKey   string        `yaml:"api_key"`
	Timeout  time.Duration `yaml:"timeout" validate:"gte=0"`
}

// LLMConfig 用于配置大模型推理的调用方式。
type LLMConfig struct {
	Provider  string             `yaml:"provider" validate:"oneof=python_bridge openai anthropic gemini"`
	MaxTokens int                `yaml:"max_tokens" validate:"gte=0"`
	OpenAI    ProviderConfig     `yaml:"openai"`
	Anthropic ProviderConfig     `yaml:"anthropic"`
	Gemini    ProviderConfig     `yaml:"gemini"`
	Python    PythonBridgeConfig `yaml:"python_bridge"`
}

// ProviderConfig 是托管模型服务的通用连接参数。
type ProviderConfig struct {
	APIKey    string `yaml:"api_key"`
	APIKeyEnv string `yaml:"api_key_env"`
	BaseURL   string `yaml:"base_url"`
	Model     string `yaml:"model"`
}

// ResolveAPIKey 优先使用显式配置的密钥，否则读取 APIKeyEnv 指向的环境变量。
func (p ProviderConfig) ResolveAPIKey() string {
	if key := strings.TrimSpace(p.APIKey); key != "" {
		return key
	}
	if p.APIKeyEnv != "" {
		return strings.TrimSpace(os.Getenv(p.APIKeyEnv))
	}
	return ""
}

// PythonBridgeConfig 描述通过 Python 脚本完成推理时所需的信息。
type PythonBridgeConfig struct {
	PythonExecutable string `yaml:"python_executable"`
	ScriptPath       string `yaml:"script_path"`
	WorkingDir       string `yaml:"working_dir"`
}

// KnowledgeConfig 指定静态知识库文件。
type KnowledgeConfig struct {
	Source     string `yaml:"source"`
	MaxResults int    `yaml:"max_results" validate:"gte=0"`
}

// ToolConfig 描述一个通过 HTTP 调用的工具。
type ToolConfig struct {
	Name     string            `yaml:"name" validate:"required"`
	Endpoint string            `yaml:"endpoint" validate:"required,url"`
	Headers  map[string]string `yaml:"headers"`
	Timeout  time.Duration     `yaml:"timeout" validate:"gte=0"`
}

// BreakerConfig 是单个熔断器的配置项，名称取自 map 的键。
type BreakerConfig struct {
	FailureThreshold    int           `yaml:"failure_threshold"`
	SuccessThreshold    int           `yaml:"success_threshold"`
	Timeout             time.Duration `yaml:"timeout"`
	ResetTimeout        time.Duration `yaml:"reset_timeout"`
	MonitoringWindow    time.Duration `yaml:"monitoring_window"`
	HalfOpenMaxAttempts int           `yaml:"half_open_max_attempts"`
}

// FallbackConfig 控制降级应答缓存。
type FallbackConfig struct {
	Cache      string        `yaml:"cache" validate:"oneof=none memory redis badger"`
	TTL        time.Duration `yaml:"ttl" validate:"gte=0"`
	MaxEntries int           `yaml:"max_entries" validate:"gte=0"`
	BadgerDir  string        `yaml:"badger_dir"`
	Notice     string        `yaml:"notice"`
}

// StorageConfig 统一描述 MySQL、Redis 等后端的连接信息。
type StorageConfig struct {
	Driver     string       `yaml:"driver" validate:"oneof=memory mysql"`
	MySQL      mysql.Config `yaml:"mysql"`
	Redis      redis.Config `yaml:"redis"`
	MaxRetries int          `yaml:"max_retries" validate:"gte=0"`
}

// TaskQueueConfig 描述异步任务队列。
type TaskQueueConfig struct {
	Driver    string         `yaml:"driver" validate:"oneof=memory redis rabbitmq"`
	Workers   int            `yaml:"workers" validate:"gte=0"`
	Size      int            `yaml:"size" validate:"gte=0"`
	Queue     string         `yaml:"queue"`
	BlockWait time.Duration  `yaml:"block_wait" validate:"gte=0"`
	RabbitMQ  RabbitMQConfig `yaml:"rabbitmq"`
}

// RabbitMQConfig 描述 RabbitMQ 连接参数。
type RabbitMQConfig struct {
	URL        string `yaml:"url"`
	Prefetch   int    `yaml:"prefetch" validate:"gte=0"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// AlertingConfig 描述告警渠道与限流参数。
type AlertingConfig struct {
	Enabled         bool              `yaml:"enabled"`
	WebhookURL      string            `yaml:"webhook_url" validate:"omitempty,url"`
	WebhookHeaders  map[string]string `yaml:"webhook_headers"`
	SlackWebhookURL string            `yaml:"slack_webhook_url" validate:"omitempty,url"`
	SlackChannel    string            `yaml:"slack_channel"`
	ThrottleWindow  time.Duration     `yaml:"throttle_window" validate:"gte=0"`
	ThrottleBurst   int               `yaml:"throttle_burst" validate:"gte=0"`
	NotifyTimeout   time.Duration     `yaml:"notify_timeout" validate:"gte=0"`
}

// MetricsConfig 控制 Prometheus 指标暴露方式，Address 为空时挂载在 API 服务上。
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `yaml:"data_dir"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Path 返回配置文件路径：显式参数优先，其次环境变量，最后默认值。
func Path(explicit string) string {
	if strings.TrimSpace(explicit) != "" {
		return explicit
	}
	if env := strings.TrimSpace(os.Getenv(EnvConfigPath)); env != "" {
		return env
	}
	return DefaultPath
}

// Load 解析指定路径的 YAML 配置文件，补全默认值、应用环境变量覆盖并校验。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}
	return Parse(content, filepath.Dir(path))
}

// Parse 解析配置内容，相对路径以 baseDir 为基准。
func Parse(content []byte, baseDir string) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeConfiguration, err, "解析配置失败")
	}

	cfg.applyDefaults(baseDir)
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 校验配置字段以及每个熔断器配置。
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return xerrors.Wrap(xerrors.CodeConfiguration, err, "校验配置失败")
		}
		problems := make([]string, 0, len(fieldErrs))
		for _, fe := range fieldErrs {
			problems = append(problems, fmt.Sprintf("%s 不满足 %s=%s", fe.Namespace(), fe.Tag(), fe.Param()))
		}
		return xerrors.New(xerrors.CodeConfiguration, "配置无效: "+strings.Join(problems, "; "))
	}
	for _, bc := range c.BreakerConfigs() {
		if err := bc.Validate(); err != nil {
			return err
		}
	}
	if c.Storage.Driver == "mysql" && strings.TrimSpace(c.Storage.MySQL.DSN) == "" {
		return xerrors.New(xerrors.CodeConfiguration, "storage.driver=mysql 时必须配置 storage.mysql.dsn")
	}
	if c.TaskQueue.Driver == "redis" && !c.Storage.Redis.Enabled() {
		return xerrors.New(xerrors.CodeConfiguration, "task_queue.driver=redis 时必须配置 storage.redis.address")
	}
	if c.Fallback.Cache == "redis" && !c.Storage.Redis.Enabled() {
		return xerrors.New(xerrors.CodeConfiguration, "fallback.cache=redis 时必须配置 storage.redis.address")
	}
	if c.TaskQueue.Driver == "rabbitmq" && strings.TrimSpace(c.TaskQueue.RabbitMQ.URL) == "" {
		return xerrors.New(xerrors.CodeConfiguration, "task_queue.driver=rabbitmq 时必须配置 task_queue.rabbitmq.url")
	}
	return nil
}

// BreakerConfigs 按名称排序返回熔断器配置。
func (c *Config) BreakerConfigs() []breaker.Config {
	names := make([]string, 0, len(c.Breakers))
	for name := range c.Breakers {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]breaker.Config, 0, len(names))
	for _, name := range names {
		bc := c.Breakers[name]
		out = append(out, breaker.Config{
			Name:                name,
			FailureThreshold:    bc.FailureThreshold,
			SuccessThreshold:    bc.SuccessThreshold,
			Timeout:             bc.Timeout,
			ResetTimeout:        bc.ResetTimeout,
			MonitoringWindow:    bc.MonitoringWindow,
			HalfOpenMaxAttempts: bc.HalfOpenMaxAttempts,
		})
	}
	return out
}

// DefaultBreaker 返回 llm、rag、tool 使用的默认熔断参数。
func DefaultBreaker(name string) BreakerConfig {
	switch name {
	case "llm":
		return BreakerConfig{
			FailureThreshold:    3,
			SuccessThreshold:    2,
			Timeout:             30 * time.Second,
			ResetTimeout:        60 * time.Second,
			MonitoringWindow:    120 * time.Second,
			HalfOpenMaxAttempts: 1,
		}
	default:
		return BreakerConfig{
			FailureThreshold:    5,
			SuccessThreshold:    2,
			Timeout:             5 * time.Second,
			ResetTimeout:        30 * time.Second,
			MonitoringWindow:    60 * time.Second,
			HalfOpenMaxAttempts: 1,
		}
	}
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.RequestTimeout == 0 {
		c.Server.RequestTimeout = 60 * time.Second
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Audit.Path != "" {
		c.Logging.Audit.Path = resolvePath(baseDir, c.Logging.Audit.Path)
	}

	if c.Catalog.Path == "" {
		c.Catalog.Path = "catalog.yaml"
	}
	c.Catalog.Path = resolvePath(baseDir, c.Catalog.Path)
	if c.Catalog.Debounce == 0 {
		c.Catalog.Debounce = 250 * time.Millisecond
	}

	if c.Routing.SingleThreshold == 0 {
		c.Routing.SingleThreshold = 70
	}
	if c.Routing.CollaborationThreshold == 0 {
		c.Routing.CollaborationThreshold = 60
	}
	if c.Routing.MaxCollaborators == 0 {
		c.Routing.MaxCollaborators = 3
	}

	if c.Intent.Timeout == 0 {
		c.Intent.Timeout = 1500 * time.Millisecond
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = "python_bridge"
	}
	if c.LLM.MaxTokens == 0 {
		c.LLM.MaxTokens = 1024
	}
	if c.LLM.OpenAI.APIKeyEnv == "" {
		c.LLM.OpenAI.APIKeyEnv = "OPENAI_API_KEY"
	}
	if c.LLM.Anthropic.APIKeyEnv == "" {
		c.LLM.Anthropic.APIKeyEnv = "ANTHROPIC_API_KEY"
	}
	if c.LLM.Gemini.APIKeyEnv == "" {
		c.LLM.Gemini.APIKeyEnv = "GEMINI_API_KEY"
	}
	if c.LLM.Python.PythonExecutable == "" {
		c.LLM.Python.PythonExecutable = "python3"
	}
	if c.LLM.Python.WorkingDir == "" {
		c.LLM.Python.WorkingDir = baseDir
	} else {
		c.LLM.Python.WorkingDir = resolvePath(baseDir, c.LLM.Python.WorkingDir)
	}

	if c.Knowledge.Source != "" {
		c.Knowledge.Source = resolvePath(baseDir, c.Knowledge.Source)
	}
	if c.Knowledge.MaxResults == 0 {
		c.Knowledge.MaxResults = 3
	}

	if c.Breakers == nil {
		c.Breakers = make(map[string]BreakerConfig)
	}
	for _, name := range []string{"llm", "rag", "tool"} {
		if _, ok := c.Breakers[name]; !ok {
			c.Breakers[name] = DefaultBreaker(name)
		}
	}
	for name, bc := range c.Breakers {
		c.Breakers[name] = fillBreaker(bc, DefaultBreaker(name))
	}

	if c.Fallback.Cache == "" {
		c.Fallback.Cache = "memory"
	}
	if c.Fallback.TTL == 0 {
		c.Fallback.TTL = 24 * time.Hour
	}
	if c.Fallback.MaxEntries == 0 {
		c.Fallback.MaxEntries = 10000
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else {
		c.Runtime.DataDir = resolvePath(baseDir, c.Runtime.DataDir)
	}
	if c.Fallback.BadgerDir == "" {
		c.Fallback.BadgerDir = filepath.Join(c.Runtime.DataDir, "fallback")
	} else {
		c.Fallback.BadgerDir = resolvePath(baseDir, c.Fallback.BadgerDir)
	}

	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}
	if c.Storage.MaxRetries == 0 {
		c.Storage.MaxRetries = 3
	}

	if c.TaskQueue.Driver == "" {
		c.TaskQueue.Driver = "memory"
	}
	if c.TaskQueue.Workers == 0 {
		c.TaskQueue.Workers = 4
	}
	if c.TaskQueue.Size == 0 {
		c.TaskQueue.Size = 1024
	}

	if c.Alerting.ThrottleWindow == 0 {
		c.Alerting.ThrottleWindow = time.Minute
	}
	if c.Alerting.ThrottleBurst == 0 {
		c.Alerting.ThrottleBurst = 1
	}
	if c.Alerting.SlackChannel == "" {
		c.Alerting.SlackChannel = "#agentrouter-alerts"
	}
	if c.Alerting.NotifyTimeout == 0 {
		c.Alerting.NotifyTimeout = 5 * time.Second
	}
}

// fillBreaker 只补全缺失字段，显式配置的值保持不变。
func fillBreaker(bc, def BreakerConfig) BreakerConfig {
	if bc.FailureThreshold == 0 {
		bc.FailureThreshold = def.FailureThreshold
	}
	if bc.SuccessThreshold == 0 {
		bc.SuccessThreshold = def.SuccessThreshold
	}
	if bc.Timeout == 0 {
		bc.Timeout = def.Timeout
	}
	if bc.ResetTimeout == 0 {
		bc.ResetTimeout = def.ResetTimeout
	}
	if bc.MonitoringWindow == 0 {
		bc.MonitoringWindow = def.MonitoringWindow
	}
	if bc.HalfOpenMaxAttempts == 0 {
		bc.HalfOpenMaxAttempts = def.HalfOpenMaxAttempts
	}
	return bc
}

// applyEnv 应用 AGENTROUTER_* 环境变量覆盖。
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("AGENTROUTER_LOG_LEVEL"); ok && v != "" {
		c.Logging.Level = v
	}
	if v, ok := lookup("AGENTROUTER_SERVER_ADDRESS"); ok && v != "" {
		c.Server.Address = v
	}
	for name, bc := range c.Breakers {
		updated, err := breakerFromEnv(name, bc, lookup)
		if err != nil {
			return err
		}
		c.Breakers[name] = updated
	}
	return nil
}

func breakerFromEnv(name string, bc BreakerConfig, lookup func(string) (string, bool)) (BreakerConfig, error) {
	prefix := "AGENTROUTER_BREAKER_" + envSegment(name) + "_"

	ints := map[string]*int{
		"FAILURE_THRESHOLD":      &bc.FailureThreshold,
		"SUCCESS_THRESHOLD":      &bc.SuccessThreshold,
		"HALF_OPEN_MAX_ATTEMPTS": &bc.HalfOpenMaxAttempts,
	}
	for field, target := range ints {
		raw, ok := lookup(prefix + field)
		if !ok || strings.TrimSpace(raw) == "" {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return bc, xerrors.Wrap(xerrors.CodeConfiguration, err, fmt.Sprintf("环境变量 %s 不是整数", prefix+field))
		}
		*target = n
	}

	durations := map[string]*time.Duration{
		"TIMEOUT":           &bc.Timeout,
		"RESET_TIMEOUT":     &bc.ResetTimeout,
		"MONITORING_WINDOW": &bc.MonitoringWindow,
	}
	for field, target := range durations {
		raw, ok := lookup(prefix + field)
		if !ok || strings.TrimSpace(raw) == "" {
			continue
		}
		d, err := parseDuration(strings.TrimSpace(raw))
		if err != nil {
			return bc, xerrors.Wrap(xerrors.CodeConfiguration, err, fmt.Sprintf("环境变量 %s 不是合法时长", prefix+field))
		}
		*target = d
	}
	return bc, nil
}

// parseDuration 接受 Go 时长格式，纯数字按毫秒处理。
func parseDuration(raw string) (time.Duration, error) {
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	return time.ParseDuration(raw)
}

func envSegment(name string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(name) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			continue
		}
		b.WriteByte('_')
	}
	return b.String()
}

func resolvePath(baseDir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}
