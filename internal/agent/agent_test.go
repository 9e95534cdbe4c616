package agent

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"AgentRouter/internal/breaker"
	"AgentRouter/internal/catalog"
	xerrors "AgentRouter/internal/errors"
	"AgentRouter/internal/intent"
	"AgentRouter/internal/llm"
	"AgentRouter/internal/pipeline"
	"AgentRouter/internal/routing"
	"AgentRouter/internal/storage/mysql"
)

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	c, err := catalog.New([]catalog.Descriptor{
		{
			ID: "clinical-differential", Name: "Clinical Differential", Tier: 1, Domain: catalog.DomainClinical,
			Capabilities: []string{"chest pain triage", "differential generation", "cardiac pain workup"},
		},
		{
			ID: "billing-coder", Name: "Billing Coder", Tier: 3, Domain: catalog.DomainBilling,
			Capabilities: []string{"invoice reconciliation"},
		},
	}, map[string][]string{"symptom_analysis": {"clinical-differential"}})
	require.NoError(t, err)
	return c
}

func chestPain() *intent.Result {
	return &intent.Result{
		Intent:     "symptom_analysis",
		Domains:    []catalog.Domain{catalog.DomainClinical, catalog.DomainCardiology},
		Complexity: intent.ComplexityHigh,
		Keywords:   []string{"chest", "pain", "differential"},
		Confidence: 0.9,
	}
}

func newExecutor(t *testing.T, client llm.Client) *pipeline.Executor {
	t.Helper()
	var configs []breaker.Config
	for _, name := range []string{"llm", "rag", "tool"} {
		configs = append(configs, breaker.Config{
			Name: name, FailureThreshold: 3, SuccessThreshold: 2,
			Timeout: time.Second, ResetTimeout: time.Minute, MonitoringWindow: time.Minute, HalfOpenMaxAttempts: 1,
		})
	}
	set, err := breaker.NewSet(configs)
	require.NoError(t, err)
	exec, err := pipeline.New(set, client)
	require.NoError(t, err)
	return exec
}

var okLLM = llm.ClientFunc(func(_ context.Context, req llm.Request) (*llm.Response, error) {
	return &llm.Response{Text: "differential for " + req.Prompt, Model: "stub"}, nil
})

type countingExecutor struct {
	calls atomic.Int32
	fn    func(ctx context.Context) (*pipeline.Response, error)
}

func (c *countingExecutor) Execute(ctx context.Context, _ routing.Selection, _ pipeline.Request) (*pipeline.Response, error) {
	c.calls.Add(1)
	return c.fn(ctx)
}

func TestHandleAnswersAndRecordsDecision(t *testing.T) {
	repo, err := mysql.NewFileDecisionRepository(t.TempDir())
	require.NoError(t, err)

	router := routing.NewRouter(catalog.NewHolder(testCatalog(t)))
	ag := New(router, newExecutor(t, okLLM), WithDecisionRepository(repo))

	res, err := ag.Handle(context.Background(), Request{ID: "req-1", Query: " chest pain differential ", Intent: chestPain()})
	require.NoError(t, err)
	assert.Equal(t, "req-1", res.RequestID)
	assert.Equal(t, "chest pain differential", res.Query)
	assert.Equal(t, []string{"clinical-differential"}, res.Selection.HandlerIDs())
	require.NotNil(t, res.Response)
	assert.Equal(t, "differential for chest pain differential", res.Response.Answer)

	records, err := ag.ListDecisions(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	rec := records[0]
	assert.Equal(t, mysql.OutcomeAnswered, rec.Outcome)
	assert.Equal(t, "symptom_analysis", rec.Intent)
	assert.Equal(t, []string{"clinical", "cardiology"}, rec.Domains)
	assert.Equal(t, 82.0, rec.Scores["clinical-differential"])
	assert.Equal(t, "single", rec.Mode)
	assert.Empty(t, rec.ErrorCode)
}

func TestHandleNoConfidentMatch(t *testing.T) {
	repo, err := mysql.NewFileDecisionRepository(t.TempDir())
	require.NoError(t, err)
	exec := &countingExecutor{fn: func(context.Context) (*pipeline.Response, error) { return &pipeline.Response{}, nil }}
	ag := New(routing.NewRouter(catalog.NewHolder(testCatalog(t))), exec, WithDecisionRepository(repo))

	in := &intent.Result{Intent: "weather", Domains: []catalog.Domain{catalog.DomainResearch}, Keywords: []string{"forecast"}}
	res, err := ag.Handle(context.Background(), Request{Query: "what is the forecast", Intent: in})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoConfidentMatch))
	assert.Contains(t, err.Error(), "please rephrase")
	require.NotNil(t, res)
	assert.True(t, res.Selection.Empty())
	assert.NotEmpty(t, res.RequestID)
	assert.Zero(t, exec.calls.Load())

	records, err := repo.ListLatest(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, mysql.OutcomeNoMatch, records[0].Outcome)
	assert.Equal(t, string(xerrors.CodeNoConfidentMatch), records[0].ErrorCode)
}

func TestNoMatchDecisionKeepsRejectedCandidates(t *testing.T) {
	repo, err := mysql.NewFileDecisionRepository(t.TempDir())
	require.NoError(t, err)
	exec := &countingExecutor{fn: func(context.Context) (*pipeline.Response, error) { return &pipeline.Response{}, nil }}
	ag := New(routing.NewRouter(catalog.NewHolder(testCatalog(t))), exec, WithDecisionRepository(repo))

	// 意图关联命中临床处理器但分数不足，账单处理器只来自领域匹配。
	in := &intent.Result{
		Intent:     "symptom_analysis",
		Domains:    []catalog.Domain{catalog.DomainBilling},
		Keywords:   []string{"pain"},
		Confidence: 0.6,
	}
	_, err = ag.Handle(context.Background(), Request{ID: "req-nm", Query: "mild pain", Intent: in})
	require.ErrorIs(t, err, ErrNoConfidentMatch)

	records, err := repo.ListLatest(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, records, 1)
	rec := records[0]
	assert.Equal(t, mysql.OutcomeNoMatch, rec.Outcome)
	assert.Empty(t, rec.Selected)
	require.Len(t, rec.Rejected, 2)
	assert.Equal(t, mysql.RejectedHandler{
		HandlerID: "clinical-differential", Score: 46, Reason: "score 46 not above threshold 70",
	}, rec.Rejected[0])
	assert.Equal(t, "billing-coder", rec.Rejected[1].HandlerID)
	assert.Equal(t, 20.0, rec.Rejected[1].Score)
	assert.Equal(t, "single-handler mode keeps only the top candidate", rec.Rejected[1].Reason)
}

func TestHandleUsesAnalyzerWhenIntentMissing(t *testing.T) {
	router := routing.NewRouter(catalog.NewHolder(testCatalog(t)))
	ag := New(router, newExecutor(t, okLLM), WithAnalyzer(intent.Static{Result: *chestPain()}))

	res, err := ag.Handle(context.Background(), Request{Query: "chest pain differential"})
	require.NoError(t, err)
	assert.Equal(t, "symptom_analysis", res.Intent.Intent)
}

func TestHandleWithoutIntentOrAnalyzer(t *testing.T) {
	ag := New(routing.NewRouter(catalog.NewHolder(testCatalog(t))), newExecutor(t, okLLM))

	_, err := ag.Handle(context.Background(), Request{Query: "chest pain"})
	assert.Equal(t, xerrors.CodeInvalidArgument, xerrors.CodeOf(err))
}

func TestHandleAnalyzerFailure(t *testing.T) {
	failing := intent.AnalyzerFunc(func(context.Context, string) (intent.Result, error) {
		return intent.Result{}, errors.New("classifier offline")
	})
	ag := New(routing.NewRouter(catalog.NewHolder(testCatalog(t))), newExecutor(t, okLLM), WithAnalyzer(failing))

	_, err := ag.Handle(context.Background(), Request{Query: "chest pain"})
	assert.Equal(t, xerrors.CodeDownstreamFailure, xerrors.CodeOf(err))
}

func TestHandleRejectsEmptyQuery(t *testing.T) {
	ag := New(routing.NewRouter(catalog.NewHolder(testCatalog(t))), newExecutor(t, okLLM))

	_, err := ag.Handle(context.Background(), Request{Query: "   ", Intent: chestPain()})
	assert.Equal(t, xerrors.CodeInvalidArgument, xerrors.CodeOf(err))
}

func TestRouteDoesNotExecute(t *testing.T) {
	repo, err := mysql.NewFileDecisionRepository(t.TempDir())
	require.NoError(t, err)
	exec := &countingExecutor{fn: func(context.Context) (*pipeline.Response, error) { return &pipeline.Response{}, nil }}
	ag := New(routing.NewRouter(catalog.NewHolder(testCatalog(t))), exec, WithDecisionRepository(repo))

	res, err := ag.Route(context.Background(), Request{Query: "chest pain differential", Intent: chestPain()})
	require.NoError(t, err)
	assert.Nil(t, res.Response)
	assert.Zero(t, exec.calls.Load())

	records, err := repo.ListLatest(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, mysql.OutcomeRouted, records[0].Outcome)
}

func TestHandleRecordsExecutionFailure(t *testing.T) {
	repo, err := mysql.NewFileDecisionRepository(t.TempDir())
	require.NoError(t, err)
	failing := llm.ClientFunc(func(context.Context, llm.Request) (*llm.Response, error) {
		return nil, errors.New("provider down")
	})
	ag := New(routing.NewRouter(catalog.NewHolder(testCatalog(t))), newExecutor(t, failing), WithDecisionRepository(repo))

	res, err := ag.Handle(context.Background(), Request{Query: "chest pain differential", Intent: chestPain()})
	require.Error(t, err)
	assert.Equal(t, xerrors.CodeAllHandlersFailed, xerrors.CodeOf(err))
	require.NotNil(t, res)

	records, err := repo.ListLatest(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, mysql.OutcomeFailed, records[0].Outcome)
	assert.Equal(t, string(xerrors.CodeAllHandlersFailed), records[0].ErrorCode)
}

func TestHandleTimeout(t *testing.T) {
	exec := &countingExecutor{fn: func(ctx context.Context) (*pipeline.Response, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	ag := New(routing.NewRouter(catalog.NewHolder(testCatalog(t))), exec, WithTimeout(20*time.Millisecond))

	_, err := ag.Handle(context.Background(), Request{Query: "chest pain differential", Intent: chestPain()})
	require.Error(t, err)
	assert.Equal(t, xerrors.CodeTimeout, xerrors.CodeOf(err))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestListDecisionsRequiresRepository(t *testing.T) {
	ag := New(nil, nil)
	_, err := ag.ListDecisions(context.Background(), 5)
	assert.Equal(t, xerrors.CodeInitializationFailure, xerrors.CodeOf(err))
}
