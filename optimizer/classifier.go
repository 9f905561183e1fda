package optimizer

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strings"
)

// RoutingProvider is the capability interface a router-backed classifier
// consults. It exists to break the classifier-router cycle described in
// the routing design notes: a classifier that needs router input never
// imports the router package directly, it depends on this narrow
// interface instead.
type RoutingProvider interface {
	ClassifyViaRouter(ctx context.Context, text string) (RouterClassification, error)
}

// RouterClassification is the shape a RoutingProvider hands back.
type RouterClassification struct {
	Tier       ComplexityTier
	Confidence float64
	Model      string
}

var tierKeywords = map[ComplexityTier][]string{
	TierSimple: {
		"hello", "hi", "thanks", "thank you", "what is", "define",
		"yes", "no", "ok", "okay", "list", "summarize in one line",
	},
	TierMid: {
		"explain", "how does", "compare", "difference between",
		"write a function", "refactor", "convert", "translate",
	},
	TierComplex: {
		"design", "architecture", "debug", "optimize", "analyze",
		"implement", "algorithm", "performance", "concurrency", "security",
	},
	TierReasoning: {
		"prove", "derive", "step by step", "reason through", "multi-step",
		"formal proof", "edge case", "counterexample", "theorem",
	},
}

var codeBlockPattern = regexp.MustCompile("```")
var questionPattern = regexp.MustCompile(`\?`)

// structuralSignals captures the structural features §4.4 scores
// against, beyond keyword hits.
type structuralSignals struct {
	hasCodeBlocks  bool
	hasToolCalls   bool
	messageLength  int
	questionCount  int
}

func extractSignals(messages []Message) (text string, sig structuralSignals) {
	var b strings.Builder
	for _, m := range messages {
		t := m.Text()
		b.WriteString(t)
		b.WriteString(" ")
		if len(m.ToolCalls) > 0 {
			sig.hasToolCalls = true
		}
	}
	text = b.String()
	sig.messageLength = len(text)
	sig.hasCodeBlocks = codeBlockPattern.MatchString(text)
	sig.questionCount = len(questionPattern.FindAllString(text, -1))
	return text, sig
}

// ClassifyHeuristic maps messages to a ClassificationResult using
// keyword matching plus structural signals, with no external
// dependency. It never fails.
func ClassifyHeuristic(messages []Message) ClassificationResult {
	text, sig := extractSignals(messages)
	lower := strings.ToLower(text)

	raw := map[ComplexityTier]float64{
		TierSimple: 0, TierMid: 0, TierComplex: 0, TierReasoning: 0,
	}
	var fired []string

	for tier, kws := range tierKeywords {
		for _, kw := range kws {
			if strings.Contains(lower, kw) {
				raw[tier] += 1.0
				fired = append(fired, kw)
			}
		}
	}

	if sig.hasCodeBlocks {
		raw[TierComplex] += 1.5
		raw[TierMid] += 0.5
		fired = append(fired, "hasCodeBlocks")
	}
	if sig.hasToolCalls {
		raw[TierComplex] += 1.0
		fired = append(fired, "hasToolCalls")
	}
	switch {
	case sig.messageLength > 2000:
		raw[TierComplex] += 1.0
		fired = append(fired, "messageLength>2000")
	case sig.messageLength > 500:
		raw[TierMid] += 0.5
		fired = append(fired, "messageLength>500")
	}
	if sig.questionCount > 2 {
		raw[TierComplex] += 0.5
		fired = append(fired, "questionCount>2")
	}

	scores := normalizeScores(raw)
	tier, confidence := argmaxWithConfidence(scores)

	return ClassificationResult{
		Tier:       tier,
		Confidence: confidence,
		Scores:     scores,
		Signals:    fired,
		Reason:     fmt.Sprintf("heuristic: tier=%s confidence=%.2f signals=%d", tier, confidence, len(fired)),
	}
}

// normalizeScores shifts every tier score by +1 (floored at 0.01) and
// divides by the sum, yielding a proper distribution over tiers.
func normalizeScores(raw map[ComplexityTier]float64) map[ComplexityTier]float64 {
	shifted := make(map[ComplexityTier]float64, len(raw))
	var sum float64
	for tier, v := range raw {
		s := v + 1
		if s < 0.01 {
			s = 0.01
		}
		shifted[tier] = s
		sum += s
	}
	out := make(map[ComplexityTier]float64, len(shifted))
	for tier, v := range shifted {
		out[tier] = v / sum
	}
	return out
}

// argmaxWithConfidence returns the highest-scoring tier and a confidence
// derived from the gap to the runner-up, clamped to [0,1] and rounded to
// 2 decimals.
func argmaxWithConfidence(scores map[ComplexityTier]float64) (ComplexityTier, float64) {
	order := []ComplexityTier{TierSimple, TierMid, TierComplex, TierReasoning}

	var first, second ComplexityTier
	var firstScore, secondScore float64 = -1, -1
	for _, t := range order {
		s := scores[t]
		if s > firstScore {
			second, secondScore = first, firstScore
			first, firstScore = t, s
		} else if s > secondScore {
			second, secondScore = t, s
		}
	}
	_ = second

	confidence := 0.5 + (firstScore - secondScore)
	confidence = math.Max(0, math.Min(1, confidence))
	confidence = math.Round(confidence*100) / 100

	return first, confidence
}

// ClassifyWithRouter attempts router-backed classification and falls
// back to the heuristic classifier on any failure. The failure is not
// returned to the caller and is not logged, here or in Pipeline.Run; only
// the heuristic result shows that it happened.
func ClassifyWithRouter(ctx context.Context, messages []Message, provider RoutingProvider) ClassificationResult {
	if provider == nil {
		return ClassifyHeuristic(messages)
	}
	text, _ := extractSignals(messages)
	result, err := provider.ClassifyViaRouter(ctx, text)
	if err != nil {
		return ClassifyHeuristic(messages)
	}
	if _, ok := tierOrder[result.Tier]; !ok {
		return ClassifyHeuristic(messages)
	}

	const floor = 0.01
	scores := map[ComplexityTier]float64{
		TierSimple: floor, TierMid: floor, TierComplex: floor, TierReasoning: floor,
	}
	// Ensure the router's chosen tier strictly outscores the floor even
	// when it reports near-zero confidence, so argmax(scores) always
	// agrees with the returned tier.
	scores[result.Tier] = floor + math.Max(0.001, result.Confidence)
	sum := 0.0
	for _, v := range scores {
		sum += v
	}
	for t, v := range scores {
		scores[t] = v / sum
	}

	confidence := math.Round(math.Max(0, math.Min(1, result.Confidence))*100) / 100
	reason := fmt.Sprintf("router: tier=%s confidence=%.2f model=%s", result.Tier, confidence, result.Model)
	return ClassificationResult{
		Tier:       result.Tier,
		Confidence: confidence,
		Scores:     scores,
		Signals:    []string{"router"},
		Reason:     reason,
	}
}
