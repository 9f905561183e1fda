package optimizer

import (
	"testing"

	"github.com/evansantos/slimclaw/config"
)

func TestBuildShadowRecommendationComputesSavings(t *testing.T) {
	pricing := func(model string) ModelPricing {
		switch model {
		case "claude-opus-4-5":
			return ModelPricing{InputPer1k: 15, OutputPer1k: 75}
		case "claude-haiku-4-5":
			return ModelPricing{InputPer1k: 1, OutputPer1k: 5}
		default:
			return ModelPricing{}
		}
	}
	decision := RoutingDecision{
		OriginalModel: "claude-opus-4-5",
		TargetModel:   "claude-haiku-4-5",
		Reason:        ReasonRouted,
		Applied:       true,
	}

	rec := BuildShadowRecommendation("run-1", "claude-opus-4-5", decision, map[string]string{}, pricing, config.OpenRouterHeaders{})

	if rec.CostDelta.SavingsPercent <= 0 {
		t.Fatalf("expected positive savings, got %f", rec.CostDelta.SavingsPercent)
	}
	if !rec.WouldApply {
		t.Fatal("expected WouldApply=true for a routed decision to a different model")
	}
}

func TestBuildShadowRecommendationNoSavingsWhenSameModel(t *testing.T) {
	pricing := func(model string) ModelPricing {
		return ModelPricing{InputPer1k: 3, OutputPer1k: 15}
	}
	decision := RoutingDecision{
		OriginalModel: "claude-sonnet-4-5",
		TargetModel:   "claude-sonnet-4-5",
		Reason:        ReasonPinned,
	}

	rec := BuildShadowRecommendation("run-2", "claude-sonnet-4-5", decision, map[string]string{}, pricing, config.OpenRouterHeaders{})

	if rec.CostDelta.SavingsPercent != 0 {
		t.Fatalf("expected zero savings for unchanged model, got %f", rec.CostDelta.SavingsPercent)
	}
	if rec.WouldApply {
		t.Fatal("expected WouldApply=false when the decision was not routed")
	}
}

func TestBuildShadowRecommendationAddsOpenRouterHeaders(t *testing.T) {
	pricing := func(model string) ModelPricing { return ModelPricing{InputPer1k: 1, OutputPer1k: 2} }
	decision := RoutingDecision{TargetModel: "mistralai/mixtral-8x7b", Reason: ReasonRouted}

	rec := BuildShadowRecommendation("run-3", "claude-opus-4-5", decision,
		map[string]string{"mistralai/*": "openrouter"}, pricing, config.OpenRouterHeaders{})

	if rec.RecommendedProvider != "openrouter" {
		t.Fatalf("expected resolved provider openrouter, got %s", rec.RecommendedProvider)
	}
	if rec.RecommendedHeaders["HTTP-Referer"] != "slimclaw" {
		t.Fatalf("expected default HTTP-Referer header, got %q", rec.RecommendedHeaders["HTTP-Referer"])
	}
	if rec.RecommendedHeaders["X-Title"] != "SlimClaw" {
		t.Fatalf("expected default X-Title header, got %q", rec.RecommendedHeaders["X-Title"])
	}
}

func TestBuildShadowRecommendationNoHeadersForNonOpenRouter(t *testing.T) {
	pricing := func(model string) ModelPricing { return ModelPricing{InputPer1k: 1, OutputPer1k: 2} }
	decision := RoutingDecision{TargetModel: "claude-haiku-4-5", Reason: ReasonRouted}

	rec := BuildShadowRecommendation("run-4", "claude-opus-4-5", decision, map[string]string{}, pricing, config.OpenRouterHeaders{})

	if len(rec.RecommendedHeaders) != 0 {
		t.Fatalf("expected no recommended headers for a non-openrouter provider, got %+v", rec.RecommendedHeaders)
	}
}
