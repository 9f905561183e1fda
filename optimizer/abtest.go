package optimizer

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/evansantos/slimclaw/config"
)

// defaultMaxPendingAssignments bounds the in-flight assignment map;
// beyond this, the oldest entries are FIFO-evicted down to 80% capacity.
const defaultMaxPendingAssignments = 1000

// assignmentTTL is how long a pending assignment survives without an
// outcome before being reaped.
const assignmentTTL = time.Hour

// defaultMinSamples is the per-variant sample count required before
// significance testing considers a comparison meaningful.
const defaultMinSamples = 30

// pendingAssignment pairs an ABAssignment with its insertion order for
// FIFO eviction.
type pendingAssignment struct {
	ABAssignment
	seq int64
}

// ABTestManager assigns requests to experiment variants by a
// deterministic hash of their run id, accumulates per-variant outcomes,
// and reports significance between exactly two variants.
type ABTestManager struct {
	mu                    sync.Mutex
	experiments           map[string]*ABExperiment
	pending               map[string]pendingAssignment
	accumulators          map[string]map[string]*VariantAccumulator // experimentID -> variantID -> acc
	maxPendingAssignments int
	seq                   int64
}

// NewABTestManager validates every experiment (≥1 variant, weights
// summing to 100) and constructs a manager. Returns a *config.ConfigError
// on the first invalid experiment.
func NewABTestManager(cfg config.ABTestingConfig) (*ABTestManager, error) {
	m := &ABTestManager{
		experiments:           make(map[string]*ABExperiment),
		pending:               make(map[string]pendingAssignment),
		accumulators:          make(map[string]map[string]*VariantAccumulator),
		maxPendingAssignments: defaultMaxPendingAssignments,
	}

	for _, exp := range cfg.Experiments {
		if len(exp.Variants) == 0 {
			return nil, &config.ConfigError{Field: "abTesting.experiments." + exp.ID + ".variants", Reason: "must have at least one variant"}
		}
		var sum float64
		for _, v := range exp.Variants {
			sum += v.Weight
		}
		if math.Abs(sum-100) > 0.01 {
			return nil, &config.ConfigError{Field: "abTesting.experiments." + exp.ID + ".variants", Reason: fmt.Sprintf("weights sum to %.2f, want 100", sum)}
		}

		variants := make([]ABVariant, len(exp.Variants))
		accs := make(map[string]*VariantAccumulator, len(exp.Variants))
		for i, v := range exp.Variants {
			variants[i] = ABVariant{ID: v.ID, Model: v.Model, Weight: v.Weight}
			accs[v.ID] = &VariantAccumulator{}
		}

		minSamples := exp.MinSamples
		if minSamples <= 0 {
			minSamples = defaultMinSamples
		}

		status := ExperimentStatus(exp.Status)
		if status == "" {
			status = ExperimentActive
		}

		m.experiments[exp.ID] = &ABExperiment{
			ID:         exp.ID,
			Tier:       ComplexityTier(exp.Tier),
			Variants:   variants,
			Status:     status,
			StartedAt:  time.Now(),
			EndAt:      exp.EndAt,
			MinSamples: minSamples,
		}
		m.accumulators[exp.ID] = accs
	}

	return m, nil
}

// abHash computes the deterministic 32-bit hash `(h*31 + ch) | 0` over
// runID, matching JavaScript's Number bitwise-OR truncation semantics
// via a signed 32-bit wraparound.
func abHash(runID string) int32 {
	var h int32
	for _, ch := range []byte(runID) {
		h = h*31 + int32(ch)
	}
	return h
}

// Assign finds the active experiment for tier and deterministically
// assigns runID to one of its variants by cumulative weight. Returns nil
// when no active experiment exists for tier.
func (m *ABTestManager) Assign(tier ComplexityTier, runID string) *ABAssignment {
	m.mu.Lock()
	defer m.mu.Unlock()

	var exp *ABExperiment
	now := time.Now()
	for _, e := range m.experiments {
		if e.Tier != tier || e.Status != ExperimentActive {
			continue
		}
		if e.EndAt != nil && !now.Before(*e.EndAt) {
			continue
		}
		exp = e
		break
	}
	if exp == nil {
		return nil
	}

	h := abHash(runID)
	bucket := int(((h % 100) + 100) % 100)

	var cumulative float64
	variantID := exp.Variants[len(exp.Variants)-1].ID
	for _, v := range exp.Variants {
		cumulative += v.Weight
		if float64(bucket) < cumulative {
			variantID = v.ID
			break
		}
	}

	m.reapLocked(now)
	m.evictIfFullLocked()

	assignment := ABAssignment{ExperimentID: exp.ID, VariantID: variantID, AssignedAt: now}
	m.seq++
	m.pending[runID] = pendingAssignment{ABAssignment: assignment, seq: m.seq}

	return &assignment
}

func (m *ABTestManager) reapLocked(now time.Time) {
	for runID, p := range m.pending {
		if now.Sub(p.AssignedAt) > assignmentTTL {
			delete(m.pending, runID)
		}
	}
}

func (m *ABTestManager) evictIfFullLocked() {
	if len(m.pending) < m.maxPendingAssignments {
		return
	}
	target := int(float64(m.maxPendingAssignments) * 0.8)

	type entry struct {
		runID string
		seq   int64
	}
	entries := make([]entry, 0, len(m.pending))
	for runID, p := range m.pending {
		entries = append(entries, entry{runID, p.seq})
	}
	for len(entries) > target {
		oldestIdx := 0
		for i, e := range entries {
			if e.seq < entries[oldestIdx].seq {
				oldestIdx = i
			}
		}
		delete(m.pending, entries[oldestIdx].runID)
		entries = append(entries[:oldestIdx], entries[oldestIdx+1:]...)
	}
}

// RecordOutcome accumulates an outcome into the variant runID was
// assigned to, then deletes the assignment to prevent double-counting.
// No-op when runID has no pending assignment.
func (m *ABTestManager) RecordOutcome(runID string, latencyMs float64, cost float64, outputTokens int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.pending[runID]
	if !ok {
		return
	}
	delete(m.pending, runID)

	accs, ok := m.accumulators[p.ExperimentID]
	if !ok {
		return
	}
	acc, ok := accs[p.VariantID]
	if !ok {
		return
	}
	acc.add(latencyMs, cost, outputTokens)
}

// GetResults returns averaged per-variant metrics and a significance
// verdict for the named experiment.
func (m *ABTestManager) GetResults(experimentID string) (ExperimentResults, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	exp, ok := m.experiments[experimentID]
	if !ok {
		return ExperimentResults{}, false
	}
	accs := m.accumulators[experimentID]

	results := make([]VariantResult, 0, len(exp.Variants))
	for _, v := range exp.Variants {
		acc := accs[v.ID]
		vr := VariantResult{VariantID: v.ID}
		if acc.Count > 0 {
			vr.Count = acc.Count
			vr.AvgLatencyMs = int64(math.Round(acc.TotalLatencyMs / float64(acc.Count)))
			vr.AvgCost = math.Round((acc.TotalCost/float64(acc.Count))*1e6) / 1e6
			vr.AvgTokens = int64(math.Round(float64(acc.TotalOutputTokens) / float64(acc.Count)))
		}
		results = append(results, vr)
	}

	significant := false
	if len(results) == 2 {
		a, b := results[0], results[1]
		minSamples := int64(exp.MinSamples)
		if minSamples < defaultMinSamples {
			minSamples = defaultMinSamples
		}
		if a.Count >= minSamples && b.Count >= minSamples && a.Count >= 30 && b.Count >= 30 {
			maxVal := math.Max(float64(a.AvgLatencyMs), float64(b.AvgLatencyMs))
			if maxVal > 0 {
				diff := math.Abs(float64(a.AvgLatencyMs) - float64(b.AvgLatencyMs))
				significant = diff/maxVal > 0.2
			}
		}
	}

	return ExperimentResults{ExperimentID: experimentID, Variants: results, Significant: significant}, true
}
