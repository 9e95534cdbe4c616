package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"AgentRouter/internal/agent"
	"AgentRouter/internal/catalog"
	"AgentRouter/internal/config"
	xerrors "AgentRouter/internal/errors"
	"AgentRouter/internal/intent"
	"AgentRouter/internal/routing"
	"AgentRouter/internal/task"
)

const chestPainIntent = `{"intent":"symptom_analysis","domains":["clinical","cardiology"],"complexity":"high","keywords":["chest","pain","differential"],"confidence":0.9}`

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := rootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCatalogValidate(t *testing.T) {
	out, err := execute(t, "", "catalog", "validate", filepath.Join("testdata", "catalog.yaml"))
	require.NoError(t, err)
	assert.Contains(t, out, "clinical-differential")
	assert.Contains(t, out, "billing-coder")
	assert.Contains(t, out, "3 个处理器")
}

func TestCatalogValidateRejectsDuplicates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dup.yaml")
	content := `handlers:
  - {id: a, name: A, tier: 1, domain: clinical}
  - {id: a, name: B, tier: 2, domain: clinical}
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	_, err := execute(t, "", "catalog", "validate", path)
	require.Error(t, err)
	assert.True(t, xerrors.HasCode(err, xerrors.CodeCatalogInvalid))
}

func TestRouteCommand(t *testing.T) {
	out, err := execute(t, "", "route",
		"--catalog", filepath.Join("testdata", "catalog.yaml"),
		"--intent", chestPainIntent,
		"chest", "pain", "differential")
	require.NoError(t, err)

	var sel routing.Selection
	require.NoError(t, json.Unmarshal([]byte(out), &sel))
	assert.Equal(t, routing.ModeSingle, sel.Mode)
	assert.Equal(t, []string{"clinical-differential"}, sel.HandlerIDs())
}

func TestRouteReadsIntentFromStdin(t *testing.T) {
	out, err := execute(t, chestPainIntent, "route",
		"--catalog", filepath.Join("testdata", "catalog.yaml"),
		"--intent", "-",
		"chest pain differential")
	require.NoError(t, err)
	assert.Contains(t, out, "clinical-differential")
}

func TestRouteNoConfidentMatch(t *testing.T) {
	_, err := execute(t, "", "route",
		"--catalog", filepath.Join("testdata", "catalog.yaml"),
		"--intent", `{"intent":"weather","keywords":["rain"],"confidence":0.3}`,
		"will it rain tomorrow")
	require.Error(t, err)
	assert.True(t, xerrors.HasCode(err, xerrors.CodeNoConfidentMatch))
}

func TestRouteRejectsMalformedIntent(t *testing.T) {
	_, err := execute(t, "", "route",
		"--catalog", filepath.Join("testdata", "catalog.yaml"),
		"--intent", `{"intent":`,
		"chest pain")
	require.Error(t, err)
	assert.True(t, xerrors.HasCode(err, xerrors.CodeInvalidArgument))
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	catalogPath, err := filepath.Abs(filepath.Join("testdata", "catalog.yaml"))
	require.NoError(t, err)
	dir := t.TempDir()
	content := `
catalog:
  path: ` + catalogPath + `
llm:
  provider: python_bridge
  python_bridge:
    script_path: bridge.py
runtime:
  data_dir: ` + filepath.Join(dir, "data") + `
`
	cfg, err := config.Parse([]byte(content), dir)
	require.NoError(t, err)
	return cfg
}

func agentRequest() agent.Request {
	return agent.Request{
		Query: "chest pain differential",
		Intent: &intent.Result{
			Intent:     "symptom_analysis",
			Domains:    []catalog.Domain{catalog.DomainClinical, catalog.DomainCardiology},
			Complexity: intent.ComplexityHigh,
			Keywords:   []string{"chest", "pain", "differential"},
			Confidence: 0.9,
		},
	}
}

func TestBuildWithMemoryBackends(t *testing.T) {
	cfg := testConfig(t)

	app, err := build(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, app.Close()) })

	assert.Equal(t, 3, app.catalog.Snapshot().Len())
	assert.Nil(t, app.watcher)
	assert.Nil(t, app.observer)
	assert.ElementsMatch(t, []string{"llm", "rag", "tool"}, app.breakers.Names())

	res, err := app.agent.Route(context.Background(), agentRequest())
	require.NoError(t, err)
	assert.Equal(t, []string{"clinical-differential"}, res.Selection.HandlerIDs())

	created, err := app.tasks.Submit(context.Background(), agentRequest())
	require.NoError(t, err)
	assert.Equal(t, task.StatusPending, created.Status)
}

func TestBuildFailsOnMissingCatalog(t *testing.T) {
	cfg := testConfig(t)
	cfg.Catalog.Path = filepath.Join(t.TempDir(), "missing.yaml")

	_, err := build(context.Background(), cfg)
	require.Error(t, err)
	assert.True(t, xerrors.HasCode(err, xerrors.CodeCatalogInvalid))
}

func TestNewDispatcher(t *testing.T) {
	assert.Nil(t, newDispatcher(config.AlertingConfig{}))

	d := newDispatcher(config.AlertingConfig{
		Enabled:         true,
		WebhookURL:      "http://127.0.0.1:1/hook",
		SlackWebhookURL: "http://127.0.0.1:1/slack",
		SlackChannel:    "#ops",
		ThrottleBurst:   1,
	})
	assert.NotNil(t, d)
}

func TestNewQueueDefaultsToMemory(t *testing.T) {
	q, err := newQueue(config.TaskQueueConfig{Driver: "memory", Size: 8}, nil)
	require.NoError(t, err)
	assert.IsType(t, &task.MemoryQueue{}, q)
	assert.NoError(t, q.Close())
}

func TestNewTools(t *testing.T) {
	reg := newTools([]config.ToolConfig{
		{Name: "ecg-reader", Endpoint: "http://127.0.0.1:1/ecg"},
		{Name: "billing-lookup", Endpoint: "http://127.0.0.1:1/billing"},
	})
	assert.Equal(t, []string{"billing-lookup", "ecg-reader"}, reg.Names())
}
