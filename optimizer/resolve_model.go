package optimizer

import (
	"strings"

	"github.com/evansantos/slimclaw/config"
)

// RequestContext is the per-request routing context: the model the
// caller asked for, relevant headers, and identifiers used for
// correlation and A/B assignment.
type RequestContext struct {
	OriginalModel string
	PinnedHeader  string // value of X-Model-Pinned, empty if absent
	SessionKey    string
	AgentID       string
}

// builtinTierDefaults is used when a tier has no configured model.
var builtinTierDefaults = map[ComplexityTier]string{
	TierSimple:    "claude-haiku-4-5",
	TierMid:       "claude-sonnet-4-5",
	TierComplex:   "claude-opus-4-5",
	TierReasoning: "claude-opus-4-5",
}

// getTierModel returns the configured model for tier, falling back to
// the built-in default when unset.
func getTierModel(tier ComplexityTier, cfg config.RoutingConfig) string {
	if m, ok := cfg.Tiers.ForTier(string(tier)); ok && m != "" {
		return m
	}
	return builtinTierDefaults[tier]
}

// modelTierPatterns infers a ComplexityTier from a model name, used
// only by the downgrade guard. Order matters: more specific exclusions
// are checked before broader inclusions.
type modelTierPattern struct {
	tier     ComplexityTier
	contains []string
	excludes []string
}

var modelTierPatterns = []modelTierPattern{
	{tier: TierReasoning, contains: []string{"o3", "o4-mini", "r1", "gemini-2.5-pro"}},
	{tier: TierSimple, contains: []string{"haiku", "nano", "mini", "v3"}, excludes: []string{"o-mini"}},
	{tier: TierMid, contains: []string{"sonnet", "flash", "llama-4", "qwen3-coder"}},
	{tier: TierComplex, contains: []string{"opus", "gpt-4", "gpt-4.1"}, excludes: []string{"turbo", "mini", "nano"}},
}

// inferTierFromModel returns the tier a model name implies, defaulting
// to complex when no pattern matches.
func inferTierFromModel(model string) ComplexityTier {
	lower := strings.ToLower(model)
	for _, p := range modelTierPatterns {
		matched := false
		for _, c := range p.contains {
			if strings.Contains(lower, c) {
				matched = true
				break
			}
		}
		if !matched {
			continue
		}
		excluded := false
		for _, e := range p.excludes {
			if strings.Contains(lower, e) {
				excluded = true
				break
			}
		}
		if !excluded {
			return p.tier
		}
	}
	return TierComplex
}

// Route produces a RoutingDecision from a classification, routing
// config, and request context. It never fails: on malformed config it
// falls back to a routing-disabled passthrough.
func Route(classification ClassificationResult, cfg config.RoutingConfig, reqCtx RequestContext) (decision RoutingDecision) {
	defer func() {
		if r := recover(); r != nil {
			decision = RoutingDecision{
				OriginalModel: reqCtx.OriginalModel,
				TargetModel:   reqCtx.OriginalModel,
				Tier:          classification.Tier,
				Confidence:    classification.Confidence,
				Reason:        ReasonRoutingDisabled,
				Applied:       false,
			}
		}
	}()

	tier := classification.Tier

	if reqCtx.PinnedHeader != "" {
		return finalize(reqCtx.OriginalModel, reqCtx.PinnedHeader, tier, classification.Confidence, ReasonPinned, cfg)
	}
	for _, pinned := range cfg.PinnedModels {
		if pinned == reqCtx.OriginalModel {
			return finalize(reqCtx.OriginalModel, reqCtx.OriginalModel, tier, classification.Confidence, ReasonPinned, cfg)
		}
	}
	if classification.Confidence < cfg.MinConfidence {
		return finalize(reqCtx.OriginalModel, reqCtx.OriginalModel, tier, classification.Confidence, ReasonLowConfidence, cfg)
	}
	if !cfg.Enabled {
		return finalize(reqCtx.OriginalModel, reqCtx.OriginalModel, tier, classification.Confidence, ReasonRoutingDisabled, cfg)
	}

	target := getTierModel(tier, cfg)

	if !cfg.AllowDowngrade {
		inferred := inferTierFromModel(reqCtx.OriginalModel)
		if tier.Less(inferred) {
			return finalize(reqCtx.OriginalModel, reqCtx.OriginalModel, tier, classification.Confidence, ReasonPinned, cfg)
		}
	}

	return finalize(reqCtx.OriginalModel, target, tier, classification.Confidence, ReasonRouted, cfg)
}

func finalize(original, target string, tier ComplexityTier, confidence float64, reason RoutingReason, cfg config.RoutingConfig) RoutingDecision {
	d := RoutingDecision{
		OriginalModel: original,
		TargetModel:   target,
		Tier:          tier,
		Confidence:    confidence,
		Reason:        reason,
		Applied:        reason == ReasonRouted,
	}
	if tier == TierReasoning && reason == ReasonRouted {
		budget := cfg.ReasoningBudget
		if budget <= 0 {
			budget = 10000
		}
		d.Thinking = &Thinking{BudgetTokens: budget}
	}
	return d
}
