package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "AgentRouter/internal/errors"
)

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agentrouter.yaml")
	require.NoError(t, os.WriteFile(path, []byte("catalog:\n  path: handlers.yaml\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, filepath.Join(dir, "handlers.yaml"), cfg.Catalog.Path)
	assert.Equal(t, filepath.Join(dir, "data"), cfg.Runtime.DataDir)
	assert.Equal(t, filepath.Join(dir, "data", "fallback"), cfg.Fallback.BadgerDir)
	assert.Equal(t, "python_bridge", cfg.LLM.Provider)
	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, "memory", cfg.TaskQueue.Driver)
	assert.Equal(t, 1500*time.Millisecond, cfg.Intent.Timeout)
	assert.EqualValues(t, 70, cfg.Routing.SingleThreshold)
	assert.EqualValues(t, 60, cfg.Routing.CollaborationThreshold)
	assert.Equal(t, 3, cfg.Routing.MaxCollaborators)

	breakers := cfg.BreakerConfigs()
	require.Len(t, breakers, 3)
	assert.Equal(t, "llm", breakers[0].Name)
	assert.Equal(t, "rag", breakers[1].Name)
	assert.Equal(t, "tool", breakers[2].Name)
	assert.Equal(t, 3, breakers[0].FailureThreshold)
	assert.Equal(t, 30*time.Second, breakers[0].Timeout)
	assert.Equal(t, 5, breakers[2].FailureThreshold)
	for _, bc := range breakers {
		require.NoError(t, bc.Validate())
	}
}

func TestParseKeepsExplicitBreakerFields(t *testing.T) {
	content := []byte(`
breakers:
  llm:
    failure_threshold: 7
    reset_timeout: 2m
  tool:billing-lookup:
    failure_threshold: 2
    timeout: 800ms
`)
	cfg, err := Parse(content, t.TempDir())
	require.NoError(t, err)

	llm := cfg.Breakers["llm"]
	assert.Equal(t, 7, llm.FailureThreshold)
	assert.Equal(t, 2*time.Minute, llm.ResetTimeout)
	assert.Equal(t, 2, llm.SuccessThreshold)
	assert.Equal(t, 30*time.Second, llm.Timeout)

	lookup := cfg.Breakers["tool:billing-lookup"]
	assert.Equal(t, 2, lookup.FailureThreshold)
	assert.Equal(t, 800*time.Millisecond, lookup.Timeout)
	assert.Equal(t, 30*time.Second, lookup.ResetTimeout)
	assert.Len(t, cfg.BreakerConfigs(), 4)
}

func TestEnvOverridesBreakerFields(t *testing.T) {
	t.Setenv("AGENTROUTER_BREAKER_LLM_FAILURE_THRESHOLD", "9")
	t.Setenv("AGENTROUTER_BREAKER_LLM_RESET_TIMEOUT", "45s")
	t.Setenv("AGENTROUTER_BREAKER_RAG_TIMEOUT", "2500")
	t.Setenv("AGENTROUTER_BREAKER_TOOL_BILLING_LOOKUP_SUCCESS_THRESHOLD", "4")
	t.Setenv("AGENTROUTER_LOG_LEVEL", "debug")
	t.Setenv("AGENTROUTER_SERVER_ADDRESS", "127.0.0.1:9090")

	cfg, err := Parse([]byte("breakers:\n  tool:billing-lookup: {}\n"), t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 9, cfg.Breakers["llm"].FailureThreshold)
	assert.Equal(t, 45*time.Second, cfg.Breakers["llm"].ResetTimeout)
	assert.Equal(t, 2500*time.Millisecond, cfg.Breakers["rag"].Timeout)
	assert.Equal(t, 4, cfg.Breakers["tool:billing-lookup"].SuccessThreshold)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "127.0.0.1:9090", cfg.Server.Address)
}

func TestEnvOverrideRejectsMalformedValues(t *testing.T) {
	t.Setenv("AGENTROUTER_BREAKER_LLM_FAILURE_THRESHOLD", "many")

	_, err := Parse([]byte("{}"), t.TempDir())
	require.Error(t, err)
	assert.True(t, xerrors.HasCode(err, xerrors.CodeConfiguration))
}

func TestValidateRejectsInvalidConfig(t *testing.T) {
	cases := map[string]string{
		"unknown provider":   "llm:\n  provider: mystery\n",
		"mysql without dsn":  "storage:\n  driver: mysql\n",
		"redis queue":        "task_queue:\n  driver: redis\n",
		"rabbitmq queue":     "task_queue:\n  driver: rabbitmq\n",
		"redis cache":        "fallback:\n  cache: redis\n",
		"bad tool":           "tools:\n  - name: lookup\n    endpoint: not a url\n",
		"threshold range":    "routing:\n  single_threshold: 120\n",
		"negative threshold": "breakers:\n  llm:\n    failure_threshold: -1\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(content), t.TempDir())
			require.Error(t, err)
			assert.True(t, xerrors.HasCode(err, xerrors.CodeConfiguration), err.Error())
		})
	}
}

func TestPathResolution(t *testing.T) {
	t.Setenv(EnvConfigPath, "")
	assert.Equal(t, DefaultPath, Path(""))
	assert.Equal(t, "/etc/agentrouter.yaml", Path("/etc/agentrouter.yaml"))

	t.Setenv(EnvConfigPath, "/srv/router.yaml")
	assert.Equal(t, "/srv/router.yaml", Path(""))
	assert.Equal(t, "explicit.yaml", Path("explicit.yaml"))
}

func TestProviderAPIKeyResolution(t *testing.T) {
	t.Setenv("ROUTER_TEST_KEY", " secret ")
	assert.Equal(t, "secret", ProviderConfig{APIKeyEnv: "ROUTER_TEST_KEY"}.ResolveAPIKey())
	assert.Equal(t, "inline", ProviderConfig{APIKey: "inline", APIKeyEnv: "ROUTER_TEST_KEY"}.ResolveAPIKey())
	assert.Empty(t, ProviderConfig{}.ResolveAPIKey())
}

func TestLoadShippedConfig(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "configs", "agentrouter.yaml"))
	require.NoError(t, err)

	root := filepath.Join("..", "..")
	assert.Equal(t, filepath.Join(root, "configs", "catalog.yaml"), cfg.Catalog.Path)
	assert.Equal(t, filepath.Join(root, "configs", "knowledge.yaml"), cfg.Knowledge.Source)
	assert.Equal(t, filepath.Join(root, "data"), cfg.Runtime.DataDir)
	assert.Equal(t, "python_bridge", cfg.LLM.Provider)
	assert.Equal(t, 30*time.Second, cfg.Breakers["llm"].Timeout)
	assert.Len(t, cfg.Tools, 1)
	assert.Equal(t, "#agentrouter-alerts", cfg.Alerting.SlackChannel)
}
