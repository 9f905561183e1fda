// Package optimizer implements the SlimClaw request-time Optimization
// Pipeline: windowing, cache-breakpoint injection, complexity
// classification, model routing, pricing, latency/budget tracking, A/B
// testing, and metrics collection.
package optimizer

import (
	"encoding/json"
	"time"
)

// CacheControl marks a message as a cache-reuse breakpoint. Its presence
// signals to a downstream provider that the prefix up to and including
// this message is cacheable.
type CacheControl struct {
	Type string `json:"type"` // always "ephemeral"
}

// ContentBlock is one block of a message's content when content is not a
// plain string.
type ContentBlock struct {
	Type         string        `json:"type"`
	Text         string        `json:"text,omitempty"`
	CacheControl *CacheControl `json:"cache_control,omitempty"`
}

// Message is one turn in a conversation. Content may arrive as either a
// plain string or an ordered array of content blocks; Text() flattens
// either shape to its textual payload.
type Message struct {
	Role         string         `json:"role"` // system|user|assistant|tool
	Blocks       []ContentBlock `json:"-"`
	content      string
	isStringForm bool
	CacheControl *CacheControl `json:"cache_control,omitempty"`
	ToolCalls    json.RawMessage `json:"tool_calls,omitempty"`
}

// NewTextMessage builds a Message whose content is a plain string.
func NewTextMessage(role, text string) Message {
	return Message{Role: role, content: text, isStringForm: true}
}

// NewBlockMessage builds a Message whose content is an array of blocks.
func NewBlockMessage(role string, blocks []ContentBlock) Message {
	return Message{Role: role, Blocks: blocks}
}

// Text returns the flattened textual payload of the message, ignoring
// non-text fields of any content blocks, per the Token Counter's edge
// case contract.
func (m Message) Text() string {
	if m.isStringForm {
		return m.content
	}
	var out string
	for _, b := range m.Blocks {
		out += b.Text
	}
	return out
}

// WithCacheControl returns a copy of m with cache_control set.
func (m Message) WithCacheControl(cc *CacheControl) Message {
	m.CacheControl = cc
	return m
}

// HasCacheControl reports whether the message already carries a
// breakpoint marker.
func (m Message) HasCacheControl() bool {
	return m.CacheControl != nil
}

// MarshalJSON emits content as a plain string when the message was built
// from one, and as a content-block array otherwise — matching the
// OpenAI/Anthropic wire shapes this proxy has to be compatible with.
func (m Message) MarshalJSON() ([]byte, error) {
	type wire struct {
		Role         string          `json:"role"`
		Content      interface{}     `json:"content"`
		CacheControl *CacheControl   `json:"cache_control,omitempty"`
		ToolCalls    json.RawMessage `json:"tool_calls,omitempty"`
	}
	w := wire{Role: m.Role, CacheControl: m.CacheControl, ToolCalls: m.ToolCalls}
	if m.isStringForm {
		w.Content = m.content
	} else {
		w.Content = m.Blocks
	}
	return json.Marshal(w)
}

// UnmarshalJSON accepts content as either a string or a content-block
// array.
func (m *Message) UnmarshalJSON(data []byte) error {
	aux := struct {
		Role         string          `json:"role"`
		Content      json.RawMessage `json:"content"`
		CacheControl *CacheControl   `json:"cache_control,omitempty"`
		ToolCalls    json.RawMessage `json:"tool_calls,omitempty"`
	}{}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	m.Role = aux.Role
	m.CacheControl = aux.CacheControl
	m.ToolCalls = aux.ToolCalls

	var asString string
	if err := json.Unmarshal(aux.Content, &asString); err == nil {
		m.content = asString
		m.isStringForm = true
		m.Blocks = nil
		return nil
	}
	var blocks []ContentBlock
	if len(aux.Content) > 0 {
		if err := json.Unmarshal(aux.Content, &blocks); err != nil {
			return err
		}
	}
	m.Blocks = blocks
	m.isStringForm = false
	return nil
}

// ComplexityTier is one of the four complexity buckets a request is
// placed into. The zero value is not a valid tier.
type ComplexityTier string

const (
	TierSimple    ComplexityTier = "simple"
	TierMid       ComplexityTier = "mid"
	TierComplex   ComplexityTier = "complex"
	TierReasoning ComplexityTier = "reasoning"
)

// tierOrder gives ComplexityTier its total order: simple < mid < complex
// < reasoning.
var tierOrder = map[ComplexityTier]int{
	TierSimple:    0,
	TierMid:       1,
	TierComplex:   2,
	TierReasoning: 3,
}

// Less reports whether t is strictly below other in the tier order.
func (t ComplexityTier) Less(other ComplexityTier) bool {
	return tierOrder[t] < tierOrder[other]
}

// ClassificationResult is the outcome of the Complexity Classifier.
type ClassificationResult struct {
	Tier       ComplexityTier             `json:"tier"`
	Confidence float64                    `json:"confidence"`
	Scores     map[ComplexityTier]float64 `json:"scores"`
	Signals    []string                   `json:"signals"`
	Reason     string                     `json:"reason"`
}

// WindowingMethod describes how a WindowingOutcome was produced.
type WindowingMethod string

const (
	WindowingNone      WindowingMethod = "none"
	WindowingHeuristic WindowingMethod = "heuristic"
	WindowingLLM       WindowingMethod = "llm" // reserved, never produced
)

// WindowingOutcome is the result of the Conversation Windower.
type WindowingOutcome struct {
	SystemPrompt          string
	ContextSummary        string
	RecentMessages        []Message
	OriginalMessageCount  int
	WindowedMessageCount  int
	TrimmedMessageCount   int
	OriginalTokenEstimate int
	WindowedTokenEstimate int
	SummaryTokenEstimate  int
	Method                WindowingMethod
}

// RoutingReason explains why a RoutingDecision landed where it did.
type RoutingReason string

const (
	ReasonRouted          RoutingReason = "routed"
	ReasonPinned          RoutingReason = "pinned"
	ReasonLowConfidence   RoutingReason = "low-confidence"
	ReasonRoutingDisabled RoutingReason = "routing-disabled"
)

// Thinking is an extended-thinking budget attached when the routed tier
// is "reasoning".
type Thinking struct {
	BudgetTokens int `json:"budget_tokens"`
}

// RoutingDecision is the outcome of the Model Router.
type RoutingDecision struct {
	OriginalModel string
	TargetModel   string
	Tier          ComplexityTier
	Confidence    float64
	Reason        RoutingReason
	Thinking      *Thinking
	Applied       bool
}

// CostDelta compares actual vs recommended per-reference-workload cost.
type CostDelta struct {
	ActualCostPer1k      float64
	RecommendedCostPer1k float64
	SavingsPercent       float64
}

// ShadowRecommendation is the full "what we would do" record produced for
// every request, independent of whether it was applied.
type ShadowRecommendation struct {
	RunID               string
	Timestamp           time.Time
	ActualModel         string
	RecommendedModel    string
	RecommendedProvider string
	Decision            RoutingDecision
	CostDelta           CostDelta
	RecommendedHeaders  map[string]string
	RecommendedThinking *Thinking
	WouldApply          bool
}

// ModelPricing is a per-1k-token price entry owned by the Dynamic
// Pricing Cache.
type ModelPricing struct {
	InputPer1k  float64
	OutputPer1k float64
	FetchedAt   time.Time
}

// LatencyMeasurement is one sample held by the Latency Tracker's
// per-model ring buffer.
type LatencyMeasurement struct {
	LatencyMs    float64
	Timestamp    time.Time
	OutputTokens int
}

// LatencyStats is the aggregate view returned by GetLatencyStats.
type LatencyStats struct {
	P50             float64
	P95             float64
	Avg             float64
	Min             float64
	Max             float64
	Count           int
	TokensPerSecond float64
}

// TierBudget is one reset-clock-governed spend counter. Spent is
// accumulated with Kahan compensation for numeric stability across many
// small additions, matching VariantAccumulator.add.
type TierBudget struct {
	Spent            float64
	ResetAt          time.Time
	costCompensation float64
}

// add folds one cost into the budget counter using Kahan summation.
func (tb *TierBudget) add(cost float64) {
	y := cost - tb.costCompensation
	t := tb.Spent + y
	tb.costCompensation = (t - tb.Spent) - y
	tb.Spent = t
}

// BudgetState is the per-tier daily/weekly spend snapshot.
type BudgetState struct {
	Daily  TierBudget
	Weekly TierBudget
}

// BudgetCheck is the result of BudgetTracker.Check.
type BudgetCheck struct {
	Allowed         bool
	DailyRemaining  float64
	WeeklyRemaining float64
	AlertTriggered  bool
}

// ExperimentStatus is the lifecycle state of an ABExperiment.
type ExperimentStatus string

const (
	ExperimentActive    ExperimentStatus = "active"
	ExperimentPaused    ExperimentStatus = "paused"
	ExperimentConcluded ExperimentStatus = "concluded"
)

// ABVariant is one arm of an ABExperiment.
type ABVariant struct {
	ID     string
	Model  string
	Weight float64 // 0..100
}

// ABExperiment groups variants competing for traffic within a tier.
type ABExperiment struct {
	ID         string
	Tier       ComplexityTier
	Variants   []ABVariant
	Status     ExperimentStatus
	StartedAt  time.Time
	EndAt      *time.Time
	MinSamples int
}

// ABAssignment binds a runId to the variant it was assigned, pending an
// outcome.
type ABAssignment struct {
	ExperimentID string
	VariantID    string
	AssignedAt   time.Time
}

// VariantAccumulator stores the running totals for one experiment
// variant. TotalCost is accumulated with Kahan compensation for numeric
// stability across many small additions.
type VariantAccumulator struct {
	Count             int64
	TotalLatencyMs    float64
	TotalCost         float64
	costCompensation  float64
	TotalOutputTokens int64
}

// add folds one outcome into the accumulator using Kahan summation for
// cost.
func (v *VariantAccumulator) add(latencyMs float64, cost float64, outputTokens int) {
	v.Count++
	v.TotalLatencyMs += latencyMs
	v.TotalOutputTokens += int64(outputTokens)

	y := cost - v.costCompensation
	t := v.TotalCost + y
	v.costCompensation = (t - v.TotalCost) - y
	v.TotalCost = t
}

// VariantResult is the averaged, reported view of a VariantAccumulator.
type VariantResult struct {
	VariantID    string
	Count        int64
	AvgLatencyMs int64
	AvgCost      float64
	AvgTokens    int64
}

// ExperimentResults is the aggregate view returned by GetResults.
type ExperimentResults struct {
	ExperimentID string
	Variants     []VariantResult
	Significant  bool
}

// OptimizerMetrics is a flat record capturing everything about one
// optimized request.
type OptimizerMetrics struct {
	RequestID             string         `json:"requestId"`
	Timestamp             string         `json:"timestamp"` // RFC3339
	Mode                  string         `json:"mode"`
	OriginalMessageCount  int            `json:"originalMessageCount"`
	WindowedMessageCount  int            `json:"windowedMessageCount"`
	OriginalTokenEstimate int            `json:"originalTokenEstimate"`
	WindowedTokenEstimate int            `json:"windowedTokenEstimate"`
	Tier                  ComplexityTier `json:"tier"`
	Confidence            float64        `json:"confidence"`
	OriginalModel         string         `json:"originalModel"`
	TargetModel           string         `json:"targetModel"`
	RoutingApplied        bool           `json:"routingApplied"`
	CacheBreakpoints      int            `json:"cacheBreakpoints"`
	ActualInputTokens     *int           `json:"actualInputTokens"`
	ActualOutputTokens    *int           `json:"actualOutputTokens"`
	CacheReadTokens       *int           `json:"cacheReadTokens"`
	CacheWriteTokens      *int           `json:"cacheWriteTokens"`
	LatencyMs             *float64       `json:"latencyMs"`
	TokensSaved           int            `json:"tokensSaved"`
	EstimatedCostSaved     float64       `json:"estimatedCostSaved"`
}
