package optimizer

import (
	"math"
	"time"

	"github.com/evansantos/slimclaw/config"
)

// referenceInputTokens and referenceOutputTokens define the standard
// workload used to compare model costs: 1k input + 1k output tokens.
const (
	referenceInputTokens  = 1000
	referenceOutputTokens = 1000
)

// costPerReferenceWorkload computes the cost of running the reference
// workload against p.
func costPerReferenceWorkload(p ModelPricing) float64 {
	return (p.InputPer1k * float64(referenceInputTokens) / 1000.0) +
		(p.OutputPer1k * float64(referenceOutputTokens) / 1000.0)
}

// BuildShadowRecommendation constructs a full ShadowRecommendation from
// the actual model, a RoutingDecision, a provider-resolution table, and
// a pricing lookup function.
func BuildShadowRecommendation(
	runID string,
	actualModel string,
	decision RoutingDecision,
	tierProviders map[string]string,
	pricing func(model string) ModelPricing,
	headers config.OpenRouterHeaders,
) ShadowRecommendation {
	recommendedModel := decision.TargetModel

	actualPricing := pricing(actualModel)
	recommendedPricing := pricing(recommendedModel)

	actualCost := costPerReferenceWorkload(actualPricing)
	recommendedCost := costPerReferenceWorkload(recommendedPricing)

	savings := 0.0
	if actualModel != recommendedModel && actualCost > 0 {
		savings = math.Max(0, (actualCost-recommendedCost)/actualCost*100)
		savings = math.Round(savings*100) / 100
	}

	resolution := ResolveProvider(recommendedModel, tierProviders)

	recHeaders := map[string]string{}
	if resolution.Provider == "openrouter" {
		ref := headers.HTTPReferer
		if ref == "" {
			ref = "slimclaw"
		}
		title := headers.XTitle
		if title == "" {
			title = "SlimClaw"
		}
		recHeaders["HTTP-Referer"] = ref
		recHeaders["X-Title"] = title
	}

	return ShadowRecommendation{
		RunID:               runID,
		Timestamp:           time.Now(),
		ActualModel:         actualModel,
		RecommendedModel:    recommendedModel,
		RecommendedProvider: resolution.Provider,
		Decision:            decision,
		CostDelta: CostDelta{
			ActualCostPer1k:      actualCost,
			RecommendedCostPer1k: recommendedCost,
			SavingsPercent:       savings,
		},
		RecommendedHeaders:  recHeaders,
		RecommendedThinking: decision.Thinking,
		WouldApply:          decision.Reason == ReasonRouted && actualModel != recommendedModel,
	}
}
