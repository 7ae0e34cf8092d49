package analysis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/dealscope/internal/composer"
	"github.com/kalambet/dealscope/internal/engine"
	"github.com/kalambet/dealscope/internal/retrieval"
	"github.com/kalambet/dealscope/internal/search"
	"github.com/kalambet/dealscope/internal/structured"
)

type retrieveCall struct {
	question string
	filter   retrieval.Filter
	topK     int
}

type mockRetriever struct {
	mu    sync.Mutex
	calls []retrieveCall
	fn    func(question string) []retrieval.ContextChunk
}

func (m *mockRetriever) Retrieve(_ context.Context, question string, filter retrieval.Filter, topK int) []retrieval.ContextChunk {
	m.mu.Lock()
	m.calls = append(m.calls, retrieveCall{question: question, filter: filter, topK: topK})
	m.mu.Unlock()
	if m.fn != nil {
		return m.fn(question)
	}
	return []retrieval.ContextChunk{}
}

type mockSearcher struct {
	mu      sync.Mutex
	queries []string
	fn      func(query string, num int) ([]search.Result, error)
}

func (m *mockSearcher) Search(_ context.Context, query string, num int) ([]search.Result, error) {
	m.mu.Lock()
	m.queries = append(m.queries, query)
	m.mu.Unlock()
	return m.fn(query, num)
}

// recordingInvoker returns out for every prompt and remembers the prompts.
type recordingInvoker struct {
	mu      sync.Mutex
	prompts []string
	out     func(prompt string) (string, error)
}

func (r *recordingInvoker) Invoke(_ context.Context, prompt string) (string, error) {
	r.mu.Lock()
	r.prompts = append(r.prompts, prompt)
	r.mu.Unlock()
	return r.out(prompt)
}

func (r *recordingInvoker) last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.prompts[len(r.prompts)-1]
}

func constant(s string) func(string) (string, error) {
	return func(string) (string, error) { return s, nil }
}

func newEnv(ret Retriever, s search.Searcher, inv structured.Invoker) *Env {
	return &Env{Retriever: ret, Searcher: s, Invoker: inv, Composer: composer.New(0)}
}

func TestStages_OrderAndNames(t *testing.T) {
	stages := Stages(newEnv(&mockRetriever{}, nil, &recordingInvoker{out: constant("{}")}))
	require.Len(t, stages, len(StageNames))
	for i, s := range stages {
		assert.Equal(t, StageNames[i], s.Name())
	}
}

func TestStages_EmptyObjectYieldsCompleteArtifacts(t *testing.T) {
	env := newEnv(&mockRetriever{}, nil, &recordingInvoker{out: constant("{}")})
	a := &Artifacts{}
	for _, s := range Stages(env) {
		prov, err := s.Run(context.Background(), "e1", a)
		require.NoError(t, err, s.Name())
		assert.Equal(t, structured.ProvenanceOK, prov, s.Name())
	}

	require.NotNil(t, a.Extraction)
	require.NotNil(t, a.Benchmark)
	require.NotNil(t, a.Risk)
	require.NotNil(t, a.Market)
	require.NotNil(t, a.Growth)
	require.NotNil(t, a.Recommendation)

	assert.Equal(t, Unknown, a.Extraction.CompanyInfo.Name)
	assert.Equal(t, 50.0, a.Benchmark.BenchmarkScore)
	assert.Equal(t, Unknown, a.Benchmark.SectorBenchmarks.Sector)
	assert.Equal(t, []RedFlag{}, a.Risk.RedFlags)
	assert.Empty(t, a.Risk.ErrorNote)
	assert.Equal(t, 5.0, a.Growth.OverallGrowthScore)
	assert.Equal(t, DecisionMaybe, a.Recommendation.Decision)
}

func TestExtraction_QueriesAreEntityScoped(t *testing.T) {
	ret := &mockRetriever{}
	env := newEnv(ret, nil, &recordingInvoker{out: constant("{}")})

	_, err := Stages(env)[0].Run(context.Background(), "acme", &Artifacts{})
	require.NoError(t, err)

	require.Len(t, ret.calls, len(extractionQueries))
	var ks []int
	for _, c := range ret.calls {
		assert.Equal(t, retrieval.Filter{retrieval.FilterEntityID: "acme"}, c.filter)
		ks = append(ks, c.topK)
	}
	sort.Ints(ks)
	assert.Equal(t, []int{3, 3, 3, 3, 5, 5}, ks)
}

func TestRisk_UsesTenChunksForMetrics(t *testing.T) {
	ret := &mockRetriever{}
	env := newEnv(ret, nil, &recordingInvoker{out: constant("{}")})

	_, err := riskStage(env).Run(context.Background(), "acme", &Artifacts{})
	require.NoError(t, err)

	byQuestion := map[string]int{}
	for _, c := range ret.calls {
		byQuestion[c.question] = c.topK
	}
	assert.Equal(t, 10, byQuestion[riskQueries[0].Question])
	assert.Len(t, byQuestion, 5)
}

func TestStage_ChunksJoinedInPrompt(t *testing.T) {
	ret := &mockRetriever{fn: func(q string) []retrieval.ContextChunk {
		if strings.HasPrefix(q, "What is the company name") {
			return []retrieval.ContextChunk{
				{Text: "Acme builds rockets", Score: 0.9},
				{Text: "Founded in Lisbon", Score: 0.8},
			}
		}
		return []retrieval.ContextChunk{}
	}}
	inv := &recordingInvoker{out: constant("{}")}

	_, err := extractionStage(newEnv(ret, nil, inv)).Run(context.Background(), "acme", &Artifacts{})
	require.NoError(t, err)

	p := inv.last()
	assert.Contains(t, p, "COMPANY INFORMATION:\nAcme builds rockets\n\n---\n\nFounded in Lisbon\n\n")
	assert.Contains(t, p, "FUNDING:\n\n\n")
	assert.True(t, strings.HasPrefix(p, extractionRole))
}

func TestStage_InvokeErrorIsFatal(t *testing.T) {
	inv := &recordingInvoker{out: func(string) (string, error) { return "", engine.ErrMissingAPIKey }}
	a := &Artifacts{}

	_, err := riskStage(newEnv(&mockRetriever{}, nil, inv)).Run(context.Background(), "e1", a)
	require.Error(t, err)
	assert.ErrorIs(t, err, engine.ErrMissingAPIKey)
	assert.True(t, strings.HasPrefix(err.Error(), "risk: "))
	assert.Nil(t, a.Risk)
}

func TestStage_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	inv := &recordingInvoker{out: constant("{}")}

	_, err := extractionStage(newEnv(&mockRetriever{}, nil, inv)).Run(ctx, "e1", &Artifacts{})
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, inv.prompts)
}

func TestBenchmark_SearchQueriesAndPlaceholder(t *testing.T) {
	s := &mockSearcher{fn: func(string, int) ([]search.Result, error) { return nil, search.ErrNotConfigured }}
	inv := &recordingInvoker{out: constant(`{"benchmark_score": 72}`)}
	a := &Artifacts{Extraction: &Extraction{CompanyInfo: CompanyInfo{Name: "Acme", Sector: "FinTech", Stage: "Series A"}}}

	prov, err := benchmarkStage(newEnv(&mockRetriever{}, s, inv)).Run(context.Background(), "acme", a)
	require.NoError(t, err)
	assert.Equal(t, structured.ProvenanceOK, prov)

	sort.Strings(s.queries)
	assert.Equal(t, []string{
		"FinTech Series A stage average metrics 2024",
		"FinTech seed stage revenue benchmarks",
		"FinTech startup growth rates benchmarks",
		"FinTech startup valuation multiples",
	}, s.queries)

	p := inv.last()
	assert.Equal(t, 4, strings.Count(p, PlaceholderBenchmark.Snippet))
	assert.Contains(t, p, `"sector": "FinTech"`)
	assert.Equal(t, 72.0, a.Benchmark.BenchmarkScore)
	assert.Equal(t, "Series A", a.Benchmark.SectorBenchmarks.Stage)
}

func TestBenchmark_FallbackCarriesSectorAndStage(t *testing.T) {
	inv := &recordingInvoker{out: constant("no json here")}
	a := &Artifacts{Extraction: &Extraction{CompanyInfo: CompanyInfo{Sector: "HealthTech"}}}

	prov, err := benchmarkStage(newEnv(&mockRetriever{}, nil, inv)).Run(context.Background(), "e1", a)
	require.NoError(t, err)
	assert.Equal(t, structured.ProvenanceFallback, prov)
	assert.Equal(t, "HealthTech", a.Benchmark.SectorBenchmarks.Sector)
	assert.Equal(t, "Seed", a.Benchmark.SectorBenchmarks.Stage)
}

func TestMarket_SearchFailureGivesEmptyResults(t *testing.T) {
	s := &mockSearcher{fn: func(q string, num int) ([]search.Result, error) {
		assert.Equal(t, 5, num)
		if strings.HasSuffix(q, "competitors") {
			return []search.Result{{Title: "Rival", Snippet: "a rival", Link: "https://rival.example"}}, nil
		}
		return nil, errors.New("quota exceeded")
	}}
	ret := &mockRetriever{}
	inv := &recordingInvoker{out: constant("{}")}
	a := &Artifacts{Extraction: &Extraction{CompanyInfo: CompanyInfo{Name: "Acme", Sector: "AI"}}}

	_, err := marketStage(newEnv(ret, s, inv)).Run(context.Background(), "acme", a)
	require.NoError(t, err)

	assert.Empty(t, ret.calls)
	assert.ElementsMatch(t, []string{"Acme startup", "AI market size 2024", "AI startups competitors"}, s.queries)

	p := inv.last()
	assert.Contains(t, p, "COMPANY SEARCH RESULTS:\n[]\n\n")
	assert.Contains(t, p, "MARKET SIZE RESULTS:\n[]\n\n")
	assert.Contains(t, p, `"title": "Rival"`)
}

func TestRisk_FencedPartialObject(t *testing.T) {
	inv := &recordingInvoker{out: constant("```json\n{\"risk_score\": 80}\n```")}
	a := &Artifacts{}

	prov, err := riskStage(newEnv(&mockRetriever{}, nil, inv)).Run(context.Background(), "e1", a)
	require.NoError(t, err)
	assert.Equal(t, structured.ProvenanceOK, prov)
	assert.Equal(t, 80.0, a.Risk.RiskScore)
	assert.Equal(t, []RedFlag{}, a.Risk.RedFlags)
	assert.Equal(t, "Unable to assess - analysis error", a.Risk.OverallAssessment)
}

func TestRisk_ProseIsSalvaged(t *testing.T) {
	inv := &recordingInvoker{out: constant("The burn rate is a deal breaker.\nTeam gaps are moderate.")}
	a := &Artifacts{}

	prov, err := riskStage(newEnv(&mockRetriever{}, nil, inv)).Run(context.Background(), "e1", a)
	require.NoError(t, err)
	assert.Equal(t, structured.ProvenancePartial, prov)
	require.Len(t, a.Risk.RedFlags, 2)
	assert.Equal(t, "CRITICAL", a.Risk.RedFlags[0].Severity)
	assert.Equal(t, 1, a.Risk.CriticalCount())
	assert.Equal(t, 60.0, a.Risk.RiskScore)
}

func TestRisk_UnusableOutputSetsErrorNote(t *testing.T) {
	inv := &recordingInvoker{out: constant("I cannot do that.")}
	a := &Artifacts{}

	prov, err := riskStage(newEnv(&mockRetriever{}, nil, inv)).Run(context.Background(), "e1", a)
	require.NoError(t, err)
	assert.Equal(t, structured.ProvenanceFallback, prov)
	assert.Equal(t, "Risk detection encountered an error", a.Risk.ErrorNote)
	assert.Equal(t, 50.0, a.Risk.RiskScore)
}

func TestSalvageRisk_CapsFlagsAndScore(t *testing.T) {
	var lines []string
	for i := 0; i < 7; i++ {
		lines = append(lines, fmt.Sprintf("issue %d is serious", i))
	}
	lines = append(lines, "unrelated line")

	v, ok := SalvageRisk(strings.Join(lines, "\n"))
	require.True(t, ok)
	assert.Len(t, v.RedFlags, maxSalvagedFlags)
	assert.Equal(t, 90.0, v.RiskScore)
	assert.Equal(t, "Manual Review Required", v.OverallAssessment)
	assert.Equal(t, "JSON parsing failed, extracted partial information", v.ParsingNote)
	for _, f := range v.RedFlags {
		assert.Equal(t, "detected_issue", f.Type)
		assert.Equal(t, "HIGH", f.Severity)
		assert.Equal(t, []string{"Extracted from analysis"}, f.Evidence)
		assert.Equal(t, "Requires manual review", f.Impact)
	}
}

func TestSalvageRisk_TruncatesDescriptionByRune(t *testing.T) {
	line := "minor " + strings.Repeat("é", 300)
	v, ok := SalvageRisk(line)
	require.True(t, ok)
	require.Len(t, v.RedFlags, 1)
	assert.Equal(t, maxFlagDescription, len([]rune(v.RedFlags[0].Description)))
	assert.Equal(t, 50.0, v.RiskScore)
}

func TestSalvageRisk_NoKeywords(t *testing.T) {
	_, ok := SalvageRisk("all good")
	assert.False(t, ok)
}

func TestRecommendation_PromptCarriesMetricsSummary(t *testing.T) {
	inv := &recordingInvoker{out: constant(`{"decision": "INVEST", "deal_score": 70}`)}
	a := &Artifacts{
		Risk: &RiskAnalysis{RiskScore: 35, RedFlags: []RedFlag{
			{Severity: "CRITICAL"}, {Severity: "critical"}, {Severity: "LOW"},
		}},
		Benchmark: &Benchmark{BenchmarkScore: 62.5},
		Growth:    &GrowthAssessment{OverallGrowthScore: 7},
	}

	_, err := recommendationStage(newEnv(&mockRetriever{}, nil, inv)).Run(context.Background(), "e1", a)
	require.NoError(t, err)

	p := inv.last()
	assert.Contains(t, p, "- Risk Score: 35/100 (lower is better)")
	assert.Contains(t, p, "- Benchmark Score: 62.5/100 (higher is better)")
	assert.Contains(t, p, "- Growth Score: 7/10 (higher is better)")
	assert.Contains(t, p, "- Red Flags Count: 3")
	assert.Contains(t, p, "- Critical Red Flags: 2")
	assert.Equal(t, DecisionInvest, a.Recommendation.Decision)
	assert.Equal(t, 70.0, a.Recommendation.DealScore)
}

func TestRecommendation_FallbackRecordsError(t *testing.T) {
	inv := &recordingInvoker{out: constant("sorry")}
	a := &Artifacts{}

	prov, err := recommendationStage(newEnv(&mockRetriever{}, nil, inv)).Run(context.Background(), "e1", a)
	require.NoError(t, err)
	assert.Equal(t, structured.ProvenanceFallback, prov)
	require.Len(t, a.Recommendation.KeyConcerns, 2)
	assert.Equal(t, "Analysis incomplete - technical error occurred", a.Recommendation.KeyConcerns[0])
	assert.True(t, strings.HasPrefix(a.Recommendation.KeyConcerns[1], "Error: "))
}

type chatEngine struct {
	model    string
	messages []engine.Message
	schema   *engine.Schema
}

func (c *chatEngine) Chat(_ context.Context, model string, messages []engine.Message, schema *engine.Schema) (string, error) {
	c.model, c.messages, c.schema = model, messages, schema
	return "{}", nil
}
func (c *chatEngine) Embed(context.Context, string, string) ([]float32, error) { return nil, nil }
func (c *chatEngine) IsRunning(context.Context) bool                           { return true }
func (c *chatEngine) ListModels(context.Context) ([]string, error)             { return nil, nil }
func (c *chatEngine) HasModel(context.Context, string) bool                    { return true }
func (c *chatEngine) PullModel(context.Context, string, func(engine.PullProgress)) error {
	return nil
}

func TestChatInvoker_SendsSingleUserMessage(t *testing.T) {
	e := &chatEngine{}
	out, err := ChatInvoker{Engine: e, Model: "openai/gpt-oss-120b"}.Invoke(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "{}", out)
	assert.Equal(t, "openai/gpt-oss-120b", e.model)
	assert.Equal(t, []engine.Message{{Role: engine.RoleUser, Content: "hello"}}, e.messages)
	require.NotNil(t, e.schema)
	assert.Equal(t, "object", e.schema.Type)
}
