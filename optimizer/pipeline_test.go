package optimizer

import (
	"context"
	"strings"
	"testing"

	"github.com/evansantos/slimclaw/config"
)

func pipelineCfg() *config.Config {
	cfg := config.Default()
	cfg.Windowing = config.WindowingConfig{Enabled: true, MaxMessages: 10, MaxTokens: 4000, SummarizeThreshold: 8}
	cfg.Caching = config.CachingConfig{Enabled: true, InjectBreakpoints: true, MinContentLength: 1000}
	cfg.Routing = routingCfg()
	return cfg
}

func newTestPipeline(t *testing.T, cfg *config.Config) *Pipeline {
	t.Helper()
	pricing := NewPricingCache(config.DynamicPricing{Enabled: false}, testLogger())
	latency := NewLatencyTracker(100, 60000)
	budget := NewBudgetTracker(cfg.Routing.Budget)
	abtest, err := NewABTestManager(config.ABTestingConfig{})
	if err != nil {
		t.Fatalf("unexpected ab test manager error: %v", err)
	}
	reporter := NewJSONLReporter(t.TempDir(), "metrics", testLogger())
	metrics := NewMetricsCollector(config.MetricsConfig{Enabled: true, FlushIntervalMs: 3_600_000, RingBufferSize: 10}, reporter, testLogger())
	t.Cleanup(metrics.Stop)
	return NewPipeline(cfg, testLogger(), pricing, latency, budget, abtest, metrics, nil)
}

func TestPipelineRunEndToEndSimpleGreeting(t *testing.T) {
	p := newTestPipeline(t, pipelineCfg())
	octx := OptimizationContext{
		RequestID: "req-1",
		Messages: []Message{
			NewTextMessage("system", "be helpful"),
			NewTextMessage("user", "hi there, thanks!"),
		},
		ReqCtx: RequestContext{OriginalModel: "claude-opus-4-5"},
	}

	result := p.Run(context.Background(), octx)

	if result.Classification.Tier != TierSimple {
		t.Fatalf("expected TierSimple classification, got %s", result.Classification.Tier)
	}
	if result.Routing.TargetModel != "claude-haiku-4-5" {
		t.Fatalf("expected routing to the simple tier's model, got %s", result.Routing.TargetModel)
	}
	if len(result.Messages) == 0 {
		t.Fatal("expected a non-empty optimized message list")
	}
}

func TestPipelineRunWindowsLongConversations(t *testing.T) {
	p := newTestPipeline(t, pipelineCfg())
	msgs := []Message{NewTextMessage("system", "be concise")}
	for i := 0; i < 20; i++ {
		msgs = append(msgs, NewTextMessage("user", strings.Repeat("word ", 30)))
	}
	octx := OptimizationContext{RequestID: "req-2", Messages: msgs, ReqCtx: RequestContext{OriginalModel: "claude-sonnet-4-5"}}

	result := p.Run(context.Background(), octx)

	if result.Windowing.Method != WindowingHeuristic {
		t.Fatalf("expected a long conversation to be windowed, got %v", result.Windowing.Method)
	}
}

func TestPipelineRunInjectsCacheBreakpoints(t *testing.T) {
	p := newTestPipeline(t, pipelineCfg())
	octx := OptimizationContext{
		RequestID: "req-3",
		Messages: []Message{
			NewTextMessage("user", strings.Repeat("a", 2000)),
		},
		ReqCtx: RequestContext{OriginalModel: "claude-sonnet-4-5"},
	}

	result := p.Run(context.Background(), octx)
	if result.CacheStats.BreakpointsInjected == 0 {
		t.Fatal("expected at least one cache breakpoint for a long message")
	}
}

func TestPipelineRecordOutcomeFoldsIntoComponents(t *testing.T) {
	cfg := pipelineCfg()
	cfg.Routing.Budget = config.BudgetConfig{Enabled: true, EnforcementAction: "alert-only"}
	p := newTestPipeline(t, cfg)

	octx := OptimizationContext{
		RequestID: "req-4",
		Messages:  []Message{NewTextMessage("user", "hello")},
		ReqCtx:    RequestContext{OriginalModel: "claude-opus-4-5"},
	}
	result := p.Run(context.Background(), octx)

	outputTokens := 100
	p.RecordOutcome("req-4", result, "shadow", 250, nil, &outputTokens, nil, nil, 0.05)

	stats := p.Latency.GetLatencyStats(result.Routing.TargetModel)
	if stats.Count != 1 {
		t.Fatalf("expected latency recorded for the routed model, got count=%d", stats.Count)
	}

	budgetStatus := p.Budget.GetStatus()
	if budgetStatus[string(result.Classification.Tier)].Daily.Spent != 0.05 {
		t.Fatalf("expected budget to record 0.05 spend, got %+v", budgetStatus)
	}

	all := p.Metrics.GetAll()
	if len(all) != 1 {
		t.Fatalf("expected exactly one recorded metric, got %d", len(all))
	}
}

func TestNewRequestIDIsUnique(t *testing.T) {
	a := NewRequestID()
	b := NewRequestID()
	if a == b {
		t.Fatal("expected two generated request ids to differ")
	}
	if !strings.HasPrefix(a, "slc_") {
		t.Fatalf("expected request id to carry the slc_ prefix, got %s", a)
	}
}

func TestVariantModelOverrideFallsBackWhenExperimentMissing(t *testing.T) {
	cfg := config.ABTestingConfig{}
	assignment := &ABAssignment{ExperimentID: "missing", VariantID: "a"}
	got := variantModelOverride(cfg, assignment, "fallback-model")
	if got != "fallback-model" {
		t.Fatalf("expected fallback model, got %s", got)
	}
}
