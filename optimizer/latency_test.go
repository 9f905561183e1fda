package optimizer

import (
	"math"
	"testing"
)

func TestLatencyTrackerRecordsAndReportsStats(t *testing.T) {
	lt := NewLatencyTracker(100, 60000)
	for _, ms := range []float64{10, 20, 30, 40, 50} {
		lt.RecordLatency("claude-haiku-4-5", ms, 100)
	}

	stats := lt.GetLatencyStats("claude-haiku-4-5")
	if stats.Count != 5 {
		t.Fatalf("expected count 5, got %d", stats.Count)
	}
	if stats.Min != 10 || stats.Max != 50 {
		t.Fatalf("expected min=10 max=50, got min=%f max=%f", stats.Min, stats.Max)
	}
	if stats.Avg != 30 {
		t.Fatalf("expected avg 30, got %f", stats.Avg)
	}
}

func TestLatencyTrackerUnknownModelReturnsZeroStats(t *testing.T) {
	lt := NewLatencyTracker(100, 60000)
	stats := lt.GetLatencyStats("never-seen")
	if stats.Count != 0 {
		t.Fatalf("expected zero count for unknown model, got %d", stats.Count)
	}
}

func TestLatencyTrackerDropsInvalidSamples(t *testing.T) {
	lt := NewLatencyTracker(100, 60000)
	lt.RecordLatency("m", math.NaN(), 10)
	lt.RecordLatency("m", math.Inf(1), 10)
	lt.RecordLatency("m", -5, 10)
	lt.RecordLatency("m", 70000, 10) // above outlier threshold

	stats := lt.GetLatencyStats("m")
	if stats.Count != 0 {
		t.Fatalf("expected all invalid samples dropped, got count=%d", stats.Count)
	}
}

func TestLatencyTrackerRingWraps(t *testing.T) {
	lt := NewLatencyTracker(3, 60000)
	for i := 1; i <= 5; i++ {
		lt.RecordLatency("m", float64(i)*10, 10)
	}
	stats := lt.GetLatencyStats("m")
	if stats.Count != 3 {
		t.Fatalf("expected ring capped at 3, got %d", stats.Count)
	}
	// Oldest two samples (10, 20) should have been overwritten by 40 and 50.
	if stats.Max != 50 {
		t.Fatalf("expected max 50 after wraparound, got %f", stats.Max)
	}
}

func TestPercentileCeilIndexing(t *testing.T) {
	sorted := []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100}
	p50 := percentile(sorted, 50)
	if p50 != 50 {
		t.Fatalf("expected p50=50, got %f", p50)
	}
	p95 := percentile(sorted, 95)
	if p95 != 100 {
		t.Fatalf("expected p95=100, got %f", p95)
	}
}

func TestMeanTokensPerSecondInfiniteSpecialCase(t *testing.T) {
	lt := NewLatencyTracker(10, 60000)
	lt.RecordLatency("m", 0, 50)
	stats := lt.GetLatencyStats("m")
	if !math.IsInf(stats.TokensPerSecond, 1) {
		t.Fatalf("expected +Inf tokens/sec for zero-latency sample, got %f", stats.TokensPerSecond)
	}
}

func TestMeanTokensPerSecondIgnoresZeroOutputTokens(t *testing.T) {
	lt := NewLatencyTracker(10, 60000)
	lt.RecordLatency("m", 100, 0)
	stats := lt.GetLatencyStats("m")
	if stats.TokensPerSecond != 0 {
		t.Fatalf("expected 0 tokens/sec when no sample has output tokens, got %f", stats.TokensPerSecond)
	}
}
