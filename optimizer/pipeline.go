package optimizer

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/evansantos/slimclaw/config"
	"github.com/rs/zerolog"
)

// Pipeline wires every optimizer component into the single request-time
// Optimization Pipeline: window → inject cache breakpoints → classify →
// route → assign A/B variant → shadow-recommend.
type Pipeline struct {
	cfg *config.Config
	log zerolog.Logger

	Pricing  *PricingCache
	Latency  *LatencyTracker
	Budget   *BudgetTracker
	ABTest   *ABTestManager
	Metrics  *MetricsCollector
	Router   RoutingProvider // nil unless a router-backed classifier is configured
}

// NewPipeline constructs a Pipeline from a validated config and the
// component instances it orchestrates. abtest and metrics may be nil
// when their respective features are disabled.
func NewPipeline(cfg *config.Config, log zerolog.Logger, pricing *PricingCache, latency *LatencyTracker, budget *BudgetTracker, abtest *ABTestManager, metrics *MetricsCollector, router RoutingProvider) *Pipeline {
	return &Pipeline{
		cfg:     cfg,
		log:     log,
		Pricing: pricing,
		Latency: latency,
		Budget:  budget,
		ABTest:  abtest,
		Metrics: metrics,
		Router:  router,
	}
}

// OptimizationContext is the per-request input to Run.
type OptimizationContext struct {
	RequestID string
	Messages  []Message
	ReqCtx    RequestContext
}

// OptimizationResult is the per-request output of Run: the optimized
// message sequence ready to forward, plus every intermediate artifact
// needed for debug headers and outcome recording.
type OptimizationResult struct {
	Messages        []Message
	Windowing       WindowingOutcome
	CacheStats      CacheInjectionStats
	Classification  ClassificationResult
	Routing         RoutingDecision
	Shadow          ShadowRecommendation
	ABAssignment    *ABAssignment
	OriginalTokens  int
	OptimizedTokens int
}

// Run executes the full pipeline for one request. It never fails: any
// internal error falls back to a passthrough result, per the fail-open
// optimization-path policy. Only the proxy's forward step surfaces
// errors to the caller.
func (p *Pipeline) Run(ctx context.Context, octx OptimizationContext) OptimizationResult {
	originalTokens := EstimateMessagesTokens(octx.Messages)

	messages := octx.Messages
	windowing := passthroughOutcome(messages)
	if p.cfg.Windowing.Enabled {
		windowing = Window(messages, p.cfg.Windowing)
		messages = BuildWindowedMessages(windowing)
	}

	cacheStats := CacheInjectionStats{}
	if p.cfg.Caching.Enabled && p.cfg.Caching.InjectBreakpoints {
		messages, cacheStats = InjectCacheBreakpoints(messages, p.cfg.Caching.MinContentLength)
	}

	var classification ClassificationResult
	if p.Router != nil {
		classification = ClassifyWithRouter(ctx, messages, p.Router)
	} else {
		classification = ClassifyHeuristic(messages)
	}

	decision := Route(classification, p.cfg.Routing, octx.ReqCtx)

	var abAssignment *ABAssignment
	if p.ABTest != nil && p.cfg.Routing.ABTesting.Enabled {
		abAssignment = p.ABTest.Assign(classification.Tier, octx.RequestID)
		if abAssignment != nil {
			decision.TargetModel = variantModelOverride(p.cfg.Routing.ABTesting, abAssignment, decision.TargetModel)
		}
	}

	var shadow ShadowRecommendation
	if p.Pricing != nil {
		shadow = BuildShadowRecommendation(
			octx.RequestID,
			octx.ReqCtx.OriginalModel,
			decision,
			p.cfg.Routing.TierProviders,
			p.Pricing.Get,
			p.cfg.Routing.OpenRouterHeaders,
		)
	}

	optimizedTokens := EstimateMessagesTokens(messages)

	return OptimizationResult{
		Messages:        messages,
		Windowing:       windowing,
		CacheStats:      cacheStats,
		Classification:  classification,
		Routing:         decision,
		Shadow:          shadow,
		ABAssignment:    abAssignment,
		OriginalTokens:  originalTokens,
		OptimizedTokens: optimizedTokens,
	}
}

// variantModelOverride resolves the model for an assigned A/B variant.
func variantModelOverride(cfg config.ABTestingConfig, assignment *ABAssignment, fallback string) string {
	for _, exp := range cfg.Experiments {
		if exp.ID != assignment.ExperimentID {
			continue
		}
		for _, v := range exp.Variants {
			if v.ID == assignment.VariantID {
				return v.Model
			}
		}
	}
	return fallback
}

// RecordOutcome folds a completed request's measured outcome into
// latency tracking, budget tracking, A/B testing, and metrics
// collection.
func (p *Pipeline) RecordOutcome(requestID string, result OptimizationResult, mode string, latencyMs float64, inputTokens, outputTokens, cacheReadTokens, cacheWriteTokens *int, costUSD float64) {
	model := result.Routing.TargetModel

	if p.Latency != nil {
		ot := 0
		if outputTokens != nil {
			ot = *outputTokens
		}
		p.Latency.RecordLatency(model, latencyMs, ot)
	}
	if p.Budget != nil {
		p.Budget.Record(string(result.Classification.Tier), costUSD)
	}
	if p.ABTest != nil && result.ABAssignment != nil {
		ot := 0
		if outputTokens != nil {
			ot = *outputTokens
		}
		p.ABTest.RecordOutcome(requestID, latencyMs, costUSD, ot)
	}

	if p.Metrics != nil {
		tokensSaved := result.OriginalTokens - result.OptimizedTokens
		if tokensSaved < 0 {
			tokensSaved = 0
		}
		m := OptimizerMetrics{
			RequestID:             requestID,
			Timestamp:             time.Now().UTC().Format(time.RFC3339),
			Mode:                  mode,
			OriginalMessageCount:  result.Windowing.OriginalMessageCount,
			WindowedMessageCount:  result.Windowing.WindowedMessageCount,
			OriginalTokenEstimate: result.OriginalTokens,
			WindowedTokenEstimate: result.OptimizedTokens,
			Tier:                  result.Classification.Tier,
			Confidence:            result.Classification.Confidence,
			OriginalModel:         result.Routing.OriginalModel,
			TargetModel:           result.Routing.TargetModel,
			RoutingApplied:        result.Routing.Applied,
			CacheBreakpoints:      result.CacheStats.BreakpointsInjected,
			ActualInputTokens:     inputTokens,
			ActualOutputTokens:    outputTokens,
			CacheReadTokens:       cacheReadTokens,
			CacheWriteTokens:      cacheWriteTokens,
			LatencyMs:             &latencyMs,
			TokensSaved:           tokensSaved,
			EstimatedCostSaved:    estimatedCostSaved(result, costUSD),
		}
		p.Metrics.Record(m)
	}
}

func estimatedCostSaved(result OptimizationResult, actualCostUSD float64) float64 {
	if result.Shadow.CostDelta.ActualCostPer1k <= 0 {
		return 0
	}
	ratio := result.Shadow.CostDelta.SavingsPercent / 100
	return actualCostUSD * ratio
}

// NewRequestID generates a unique, header-safe request identifier.
func NewRequestID() string {
	return fmt.Sprintf("slc_%d_%04d", time.Now().UnixNano(), rand.Intn(10000))
}
