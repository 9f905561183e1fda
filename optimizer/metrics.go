package optimizer

import (
	"sync"
	"time"

	"github.com/evansantos/slimclaw/config"
	"github.com/rs/zerolog"
)

// MetricsReporter is the durable write side a MetricsCollector flushes
// to. Implemented by *JSONLReporter.
type MetricsReporter interface {
	WriteMetrics(batch []OptimizerMetrics) error
}

// MetricsCollector holds a fixed-size ring buffer of the most recent
// metrics for live queries, plus a pending buffer that is periodically
// handed to a MetricsReporter for durable storage.
type MetricsCollector struct {
	mu sync.Mutex

	enabled      bool
	batchTrigger int           // pending-length flush trigger (ring capacity)
	flushPeriod  time.Duration // cfg.FlushIntervalMs, periodic flush cadence
	ring         []OptimizerMetrics
	ringCursor   int
	ringFilled   bool
	pending      []OptimizerMetrics

	reporter MetricsReporter
	log      zerolog.Logger

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewMetricsCollector constructs a collector and starts two background
// flush timers: one at cfg.FlushIntervalMs (the configured cadence) and
// a fixed 60s safety net against a stalled pending buffer.
func NewMetricsCollector(cfg config.MetricsConfig, reporter MetricsReporter, log zerolog.Logger) *MetricsCollector {
	ringSize := cfg.RingBufferSize
	if ringSize <= 0 {
		ringSize = 1000
	}
	flushPeriod := time.Duration(cfg.FlushIntervalMs) * time.Millisecond
	if flushPeriod <= 0 {
		flushPeriod = 10 * time.Second
	}

	mc := &MetricsCollector{
		enabled:      cfg.Enabled,
		batchTrigger: ringSize,
		flushPeriod:  flushPeriod,
		ring:         make([]OptimizerMetrics, ringSize),
		reporter:     reporter,
		log:          log,
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
	go mc.flushLoop()
	return mc
}

// Record appends m to the ring (wrapping) and the pending buffer. When
// disabled, the call is a no-op. Crossing the batch-size pending
// length triggers an immediate flush.
func (mc *MetricsCollector) Record(m OptimizerMetrics) {
	if !mc.enabled {
		return
	}
	mc.mu.Lock()
	mc.appendRingLocked(m)
	mc.pending = append(mc.pending, m)
	shouldFlush := len(mc.pending) >= mc.flushTriggerLocked()
	mc.mu.Unlock()

	if shouldFlush {
		mc.Flush()
	}
}

func (mc *MetricsCollector) flushTriggerLocked() int {
	if mc.batchTrigger <= 0 {
		return 100
	}
	return mc.batchTrigger
}

func (mc *MetricsCollector) appendRingLocked(m OptimizerMetrics) {
	if len(mc.ring) == 0 {
		return
	}
	mc.ring[mc.ringCursor] = m
	mc.ringCursor = (mc.ringCursor + 1) % len(mc.ring)
	if mc.ringCursor == 0 {
		mc.ringFilled = true
	}
}

// Flush drains the pending buffer and hands it to the reporter. On
// failure, up to the batch flush trigger (the ring buffer size) of the
// most recent entries are re-queued for retry; the rest are dropped, per
// ReporterWriteFailure policy.
func (mc *MetricsCollector) Flush() {
	mc.mu.Lock()
	batch := mc.pending
	mc.pending = nil
	mc.mu.Unlock()

	if len(batch) == 0 || mc.reporter == nil {
		return
	}

	if err := mc.reporter.WriteMetrics(batch); err != nil {
		mc.log.Error().Err(err).Int("batchSize", len(batch)).Msg("metrics reporter write failed, requeuing")
		retry := batch
		limit := mc.flushTriggerLocked()
		if len(retry) > limit {
			retry = retry[len(retry)-limit:]
		}
		mc.mu.Lock()
		mc.pending = append(retry, mc.pending...)
		mc.mu.Unlock()
	}
}

// flushLoop fires Flush on the configured cadence, plus a fixed 60s
// safety net in case the configured cadence is longer and the pending
// buffer would otherwise stall.
func (mc *MetricsCollector) flushLoop() {
	defer close(mc.doneCh)
	ticker := time.NewTicker(mc.flushPeriod)
	defer ticker.Stop()
	safetyNet := time.NewTicker(60 * time.Second)
	defer safetyNet.Stop()
	for {
		select {
		case <-ticker.C:
			mc.Flush()
		case <-safetyNet.C:
			mc.Flush()
		case <-mc.stopCh:
			return
		}
	}
}

// Stop halts the background flush timer and performs one final flush.
func (mc *MetricsCollector) Stop() {
	close(mc.stopCh)
	<-mc.doneCh
	mc.Flush()
}

// GetAll returns a consistent snapshot of the ring buffer contents, most
// recent last.
func (mc *MetricsCollector) GetAll() []OptimizerMetrics {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if !mc.ringFilled {
		out := make([]OptimizerMetrics, mc.ringCursor)
		copy(out, mc.ring[:mc.ringCursor])
		return out
	}

	n := len(mc.ring)
	out := make([]OptimizerMetrics, n)
	copy(out, mc.ring[mc.ringCursor:])
	copy(out[n-mc.ringCursor:], mc.ring[:mc.ringCursor])
	return out
}

// CollectorStats is the aggregate view returned by GetStats.
type CollectorStats struct {
	TotalRequests       int
	TierDistribution    map[ComplexityTier]int
	RoutingAppliedCount int
	AvgLatencyMs        float64
	TotalCostSaved      float64
	TotalTokensSaved    int
}

// GetStats computes totals, tier distribution, routing application
// rate, average latency, and cost saved from the ring contents.
func (mc *MetricsCollector) GetStats() CollectorStats {
	all := mc.GetAll()

	stats := CollectorStats{TierDistribution: make(map[ComplexityTier]int)}
	var latencySum float64
	var latencyCount int

	for _, m := range all {
		stats.TotalRequests++
		stats.TierDistribution[m.Tier]++
		if m.RoutingApplied {
			stats.RoutingAppliedCount++
		}
		if m.LatencyMs != nil {
			latencySum += *m.LatencyMs
			latencyCount++
		}
		stats.TotalCostSaved += m.EstimatedCostSaved
		stats.TotalTokensSaved += m.TokensSaved
	}

	if latencyCount > 0 {
		stats.AvgLatencyMs = latencySum / float64(latencyCount)
	}
	return stats
}
