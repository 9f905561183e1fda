package optimizer

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/evansantos/slimclaw/config"
)

type fakeReporter struct {
	mu      sync.Mutex
	batches [][]OptimizerMetrics
	failN   int // number of calls to fail before succeeding
}

func (f *fakeReporter) WriteMetrics(batch []OptimizerMetrics) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failN > 0 {
		f.failN--
		return errors.New("write failed")
	}
	cp := append([]OptimizerMetrics(nil), batch...)
	f.batches = append(f.batches, cp)
	return nil
}

func (f *fakeReporter) totalWritten() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, b := range f.batches {
		n += len(b)
	}
	return n
}

func metricsCfg(ringSize int) config.MetricsConfig {
	return config.MetricsConfig{
		Enabled:         true,
		FlushIntervalMs: 3_600_000, // long enough to not fire during the test
		RingBufferSize:  ringSize,
	}
}

func latencyPtr(v float64) *float64 { return &v }

func TestMetricsCollectorRecordDisabledIsNoOp(t *testing.T) {
	reporter := &fakeReporter{}
	cfg := metricsCfg(10)
	cfg.Enabled = false
	mc := NewMetricsCollector(cfg, reporter, testLogger())
	defer mc.Stop()

	mc.Record(OptimizerMetrics{RequestID: "r1"})
	if len(mc.GetAll()) != 0 {
		t.Fatal("expected no metrics recorded while disabled")
	}
}

func TestMetricsCollectorGetAllOrdersMostRecentLast(t *testing.T) {
	reporter := &fakeReporter{}
	mc := NewMetricsCollector(metricsCfg(3), reporter, testLogger())
	defer mc.Stop()

	mc.Record(OptimizerMetrics{RequestID: "r1"})
	mc.Record(OptimizerMetrics{RequestID: "r2"})

	all := mc.GetAll()
	if len(all) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(all))
	}
	if all[0].RequestID != "r1" || all[1].RequestID != "r2" {
		t.Fatalf("expected insertion order r1,r2, got %s,%s", all[0].RequestID, all[1].RequestID)
	}
}

func TestMetricsCollectorRingWraps(t *testing.T) {
	reporter := &fakeReporter{}
	mc := NewMetricsCollector(metricsCfg(2), reporter, testLogger())
	defer mc.Stop()

	mc.Record(OptimizerMetrics{RequestID: "r1"})
	mc.Record(OptimizerMetrics{RequestID: "r2"})
	mc.Record(OptimizerMetrics{RequestID: "r3"})

	all := mc.GetAll()
	if len(all) != 2 {
		t.Fatalf("expected ring capped at 2, got %d", len(all))
	}
	if all[0].RequestID != "r2" || all[1].RequestID != "r3" {
		t.Fatalf("expected r2,r3 after wraparound, got %s,%s", all[0].RequestID, all[1].RequestID)
	}
}

func TestMetricsCollectorFlushTriggersAtBatchSize(t *testing.T) {
	reporter := &fakeReporter{}
	mc := NewMetricsCollector(metricsCfg(2), reporter, testLogger())
	defer mc.Stop()

	mc.Record(OptimizerMetrics{RequestID: "r1"})
	mc.Record(OptimizerMetrics{RequestID: "r2"})

	if reporter.totalWritten() != 2 {
		t.Fatalf("expected flush to have written 2 records, got %d", reporter.totalWritten())
	}
}

func TestMetricsCollectorFlushRequeuesOnFailure(t *testing.T) {
	reporter := &fakeReporter{failN: 1}
	mc := NewMetricsCollector(metricsCfg(1), reporter, testLogger())

	mc.Record(OptimizerMetrics{RequestID: "r1"}) // triggers flush, which fails and requeues
	mc.Record(OptimizerMetrics{RequestID: "r2"}) // triggers another flush, which should now succeed

	mc.Stop()

	if reporter.totalWritten() != 2 {
		t.Fatalf("expected both records eventually written after requeue, got %d", reporter.totalWritten())
	}
}

func TestMetricsCollectorGetStatsComputesAverages(t *testing.T) {
	reporter := &fakeReporter{}
	mc := NewMetricsCollector(metricsCfg(10), reporter, testLogger())
	defer mc.Stop()

	mc.Record(OptimizerMetrics{Tier: TierSimple, RoutingApplied: true, LatencyMs: latencyPtr(100), EstimatedCostSaved: 0.01, TokensSaved: 50})
	mc.Record(OptimizerMetrics{Tier: TierMid, RoutingApplied: false, LatencyMs: latencyPtr(200), EstimatedCostSaved: 0.02, TokensSaved: 25})

	stats := mc.GetStats()
	if stats.TotalRequests != 2 {
		t.Fatalf("expected 2 total requests, got %d", stats.TotalRequests)
	}
	if stats.RoutingAppliedCount != 1 {
		t.Fatalf("expected 1 routed request, got %d", stats.RoutingAppliedCount)
	}
	if stats.AvgLatencyMs != 150 {
		t.Fatalf("expected avg latency 150, got %f", stats.AvgLatencyMs)
	}
	if stats.TotalCostSaved < 0.029 || stats.TotalCostSaved > 0.031 {
		t.Fatalf("expected total cost saved ~0.03, got %f", stats.TotalCostSaved)
	}
	if stats.TotalTokensSaved != 75 {
		t.Fatalf("expected 75 total tokens saved, got %d", stats.TotalTokensSaved)
	}
}

func TestMetricsCollectorStopFlushesRemaining(t *testing.T) {
	reporter := &fakeReporter{}
	mc := NewMetricsCollector(metricsCfg(100), reporter, testLogger())

	mc.Record(OptimizerMetrics{RequestID: "r1"})
	mc.Stop()

	if reporter.totalWritten() != 1 {
		t.Fatalf("expected Stop to flush the pending record, got %d", reporter.totalWritten())
	}
}

func TestMetricsCollectorSafetyNetDoesNotBlockStop(t *testing.T) {
	// Regression guard: Stop must return promptly even with a long flush period.
	reporter := &fakeReporter{}
	mc := NewMetricsCollector(metricsCfg(10), reporter, testLogger())

	done := make(chan struct{})
	go func() {
		mc.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("expected Stop to return promptly")
	}
}
