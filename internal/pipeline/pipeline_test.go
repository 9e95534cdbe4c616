package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"AgentRouter/internal/breaker"
	"AgentRouter/internal/catalog"
	xerrors "AgentRouter/internal/errors"
	"AgentRouter/internal/fallback"
	"AgentRouter/internal/knowledge"
	"AgentRouter/internal/llm"
	"AgentRouter/internal/routing"
	"AgentRouter/internal/tool"
)

func breakerConfig(name string) breaker.Config {
	return breaker.Config{
		Name:                name,
		FailureThreshold:    3,
		SuccessThreshold:    2,
		Timeout:             time.Second,
		ResetTimeout:        time.Minute,
		MonitoringWindow:    time.Minute,
		HalfOpenMaxAttempts: 1,
	}
}

func newBreakers(t *testing.T, extra ...string) *breaker.Set {
	t.Helper()
	names := append([]string{"llm", "rag", "tool"}, extra...)
	configs := make([]breaker.Config, 0, len(names))
	for _, n := range names {
		configs = append(configs, breakerConfig(n))
	}
	set, err := breaker.NewSet(configs)
	require.NoError(t, err)
	return set
}

var (
	cardiology = &catalog.Descriptor{
		ID:         "cardiology-consult",
		Name:       "Cardiology Consult",
		Tier:       1,
		Domain:     catalog.DomainCardiology,
		FocusAreas: []string{"arrhythmia"},
		Expertise:  "Interprets cardiac findings.",
		Retrieval:  true,
		Tools:      []string{"ecg-reader"},
	}
	clinical = &catalog.Descriptor{
		ID:     "clinical-differential",
		Name:   "Clinical Differential",
		Tier:   1,
		Domain: catalog.DomainClinical,
	}
)

func single(h *catalog.Descriptor, score float64) routing.Selection {
	return routing.Selection{
		Mode: routing.ModeSingle,
		Selected: []routing.Candidate{{
			Handler: h, HandlerID: h.ID, Name: h.Name, Score: score,
			Sources: []routing.Pass{routing.PassIntent},
		}},
	}
}

func collaborative(hs ...*catalog.Descriptor) routing.Selection {
	sel := routing.Selection{Mode: routing.ModeCollaborative}
	for i, h := range hs {
		sel.Selected = append(sel.Selected, routing.Candidate{
			Handler: h, HandlerID: h.ID, Name: h.Name, Score: float64(90 - i*10),
		})
	}
	return sel
}

type echoLLM struct {
	mu       sync.Mutex
	requests []llm.Request
	fail     map[string]error
	calls    atomic.Int32
}

func (e *echoLLM) Generate(_ context.Context, req llm.Request) (*llm.Response, error) {
	e.calls.Add(1)
	e.mu.Lock()
	e.requests = append(e.requests, req)
	err := e.fail[req.HandlerID]
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &llm.Response{Text: "answer from " + req.HandlerID, Model: "test-model", Provider: "test"}, nil
}

func (e *echoLLM) last() llm.Request {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.requests[len(e.requests)-1]
}

func TestNewRequiresCoreBreakers(t *testing.T) {
	set, err := breaker.NewSet([]breaker.Config{breakerConfig("llm"), breakerConfig("tool")})
	require.NoError(t, err)

	_, err = New(set, &echoLLM{})
	require.Error(t, err)
	assert.Equal(t, xerrors.CodeConfiguration, xerrors.CodeOf(err))
	assert.Contains(t, err.Error(), "rag")

	_, err = New(newBreakers(t), nil)
	require.Error(t, err)
}

func TestExecuteSingleHandlerWithRetrievalAndTools(t *testing.T) {
	client := &echoLLM{}
	retriever := knowledge.NewStaticProvider([]knowledge.Snippet{
		{Title: "QT prolongation", Content: "Check electrolytes.", Keywords: []string{"palpitations"}},
	}, 3)
	tools := tool.NewRegistry()
	tools.Register("ecg-reader", tool.Func(func(_ context.Context, in tool.Input) (*tool.Result, error) {
		return &tool.Result{Output: "sinus rhythm for " + in.HandlerID}, nil
	}))
	cache := fallback.NewMemoryCache(10)
	chain := fallback.NewChain(fallback.WithCache(cache, time.Hour))

	exec, err := New(newBreakers(t), client,
		WithRetriever(retriever), WithTools(tools), WithFallbacks(chain))
	require.NoError(t, err)

	resp, err := exec.Execute(context.Background(), single(cardiology, 85), Request{Query: "palpitations at night"})
	require.NoError(t, err)

	assert.Equal(t, "answer from cardiology-consult", resp.Answer)
	assert.False(t, resp.Degraded)
	require.Len(t, resp.Handlers, 1)
	out := resp.Handlers[0]
	assert.Equal(t, "test-model", out.Model)
	assert.Equal(t, []string{"intent"}, out.Sources)
	require.Len(t, out.Calls, 3)
	assert.Equal(t, ServiceRAG, out.Calls[0].Service)
	assert.Equal(t, ServiceTool, out.Calls[1].Service)
	assert.Equal(t, "ecg-reader", out.Calls[1].Target)
	assert.Equal(t, "tool", out.Calls[1].Breaker)
	assert.Equal(t, ServiceLLM, out.Calls[2].Service)

	req := client.last()
	require.Len(t, req.Knowledge, 1)
	assert.Equal(t, "QT prolongation", req.Knowledge[0].Title)
	require.Len(t, req.Tools, 1)
	assert.Equal(t, "sinus rhythm for cardiology-consult", req.Tools[0].Output)
	assert.Contains(t, req.System, "Cardiology Consult")
	assert.Contains(t, req.System, "arrhythmia")

	assert.Equal(t, 1, cache.Len(), "successful answers are remembered")
}

func TestExecuteUsesToolSpecificBreaker(t *testing.T) {
	tools := tool.NewRegistry()
	tools.Register("ecg-reader", tool.Func(func(context.Context, tool.Input) (*tool.Result, error) {
		return &tool.Result{Output: "ok"}, nil
	}))
	exec, err := New(newBreakers(t, ToolBreakerName("ecg-reader")), &echoLLM{}, WithTools(tools))
	require.NoError(t, err)

	resp, err := exec.Execute(context.Background(), single(cardiology, 85), Request{Query: "q"})
	require.NoError(t, err)
	assert.Equal(t, "tool:ecg-reader", resp.Handlers[0].Calls[0].Breaker)
}

func TestExecuteDegradesToolFailure(t *testing.T) {
	client := &echoLLM{}
	tools := tool.NewRegistry()
	tools.Register("ecg-reader", tool.Func(func(context.Context, tool.Input) (*tool.Result, error) {
		return nil, errors.New("device offline")
	}))
	exec, err := New(newBreakers(t), client, WithTools(tools), WithFallbacks(fallback.NewChain()))
	require.NoError(t, err)

	resp, err := exec.Execute(context.Background(), single(cardiology, 85), Request{Query: "q"})
	require.NoError(t, err)
	assert.True(t, resp.Degraded)
	assert.True(t, resp.Handlers[0].Degraded)
	assert.True(t, resp.Handlers[0].Calls[0].Degraded)
	assert.Contains(t, resp.Handlers[0].Calls[0].Error, "device offline")

	req := client.last()
	require.Len(t, req.Tools, 1)
	assert.Equal(t, "result unavailable", req.Tools[0].Output)
}

func TestExecuteServesCachedAnswerWhenGenerationFails(t *testing.T) {
	cache := fallback.NewMemoryCache(10)
	chain := fallback.NewChain(fallback.WithCache(cache, time.Hour))
	client := &echoLLM{fail: map[string]error{}}

	exec, err := New(newBreakers(t), client, WithFallbacks(chain))
	require.NoError(t, err)

	_, err = exec.Execute(context.Background(), single(clinical, 80), Request{Query: "chest pain"})
	require.NoError(t, err)

	client.mu.Lock()
	client.fail[clinical.ID] = errors.New("provider down")
	client.mu.Unlock()

	resp, err := exec.Execute(context.Background(), single(clinical, 80), Request{Query: "  Chest Pain "})
	require.NoError(t, err)
	assert.True(t, resp.Degraded)
	assert.Equal(t, "answer from clinical-differential", resp.Answer)
	assert.Contains(t, resp.Handlers[0].Calls[0].Error, "provider down")
}

func TestExecuteAllHandlersFailed(t *testing.T) {
	client := &echoLLM{fail: map[string]error{
		clinical.ID:   errors.New("provider down"),
		cardiology.ID: errors.New("provider down"),
	}}
	exec, err := New(newBreakers(t), client)
	require.NoError(t, err)

	resp, err := exec.Execute(context.Background(), collaborative(clinical, cardiology), Request{Query: "q"})
	require.Error(t, err)
	assert.Equal(t, xerrors.CodeAllHandlersFailed, xerrors.CodeOf(err))
	require.NotNil(t, resp)
	for _, h := range resp.Handlers {
		assert.True(t, h.Failed())
		assert.NotEmpty(t, h.Error)
	}
}

func TestExecuteCollaborativePartialFailure(t *testing.T) {
	client := &echoLLM{fail: map[string]error{cardiology.ID: errors.New("provider down")}}
	exec, err := New(newBreakers(t), client)
	require.NoError(t, err)

	resp, err := exec.Execute(context.Background(), collaborative(clinical, cardiology), Request{Query: "q"})
	require.NoError(t, err)
	assert.True(t, resp.Degraded)
	assert.Equal(t, routing.ModeCollaborative, resp.Mode)
	assert.Equal(t, "[Clinical Differential]\nanswer from clinical-differential", resp.Answer)
	require.Len(t, resp.Handlers, 2)
	assert.Equal(t, clinical.ID, resp.Handlers[0].HandlerID)
	assert.Equal(t, cardiology.ID, resp.Handlers[1].HandlerID)
	assert.True(t, resp.Handlers[1].Failed())
}

func TestExecuteCollaborativeJoinsAnswersInRankOrder(t *testing.T) {
	exec, err := New(newBreakers(t), &echoLLM{})
	require.NoError(t, err)

	resp, err := exec.Execute(context.Background(), collaborative(clinical, cardiology), Request{Query: "q"})
	require.NoError(t, err)
	parts := strings.Split(resp.Answer, "\n\n")
	require.Len(t, parts, 2)
	assert.True(t, strings.HasPrefix(parts[0], "[Clinical Differential]"))
	assert.True(t, strings.HasPrefix(parts[1], "[Cardiology Consult]"))
}

func TestExecuteShortCircuitsWhenLLMBreakerOpens(t *testing.T) {
	client := &echoLLM{fail: map[string]error{clinical.ID: errors.New("provider down")}}
	breakers := newBreakers(t)
	exec, err := New(breakers, client, WithFallbacks(fallback.NewChain(fallback.WithNotice("service unavailable"))))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		resp, err := exec.Execute(context.Background(), single(clinical, 80), Request{Query: "q"})
		require.NoError(t, err)
		assert.Equal(t, "service unavailable", resp.Answer)
	}
	b, _ := breakers.Get("llm")
	assert.Equal(t, breaker.StateOpen, b.State())

	resp, err := exec.Execute(context.Background(), single(clinical, 80), Request{Query: "q"})
	require.NoError(t, err)
	assert.True(t, resp.Degraded)
	assert.Equal(t, int32(3), client.calls.Load(), "open breaker must not reach the provider")
	assert.Contains(t, resp.Handlers[0].Calls[0].Error, string(xerrors.CodeBreakerOpen))
}

func TestExecuteRejectsEmptySelection(t *testing.T) {
	exec, err := New(newBreakers(t), &echoLLM{})
	require.NoError(t, err)

	_, err = exec.Execute(context.Background(), routing.Selection{Mode: routing.ModeSingle}, Request{Query: "q"})
	assert.Equal(t, xerrors.CodeNoConfidentMatch, xerrors.CodeOf(err))
}
