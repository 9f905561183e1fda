package optimizer

import (
	"strings"
	"testing"
)

func longText(n int) string {
	return strings.Repeat("a", n)
}

func TestInjectCacheBreakpointsSkipsShortMessages(t *testing.T) {
	msgs := []Message{NewTextMessage("user", "hi")}
	out, stats := InjectCacheBreakpoints(msgs, 1000)

	if stats.EligibleMessages != 0 || stats.BreakpointsInjected != 0 {
		t.Fatalf("expected no eligible messages, got %+v", stats)
	}
	if out[0].HasCacheControl() {
		t.Fatal("expected short message to remain uncached")
	}
}

func TestInjectCacheBreakpointsSkipsToolMessages(t *testing.T) {
	msgs := []Message{NewTextMessage("tool", longText(2000))}
	_, stats := InjectCacheBreakpoints(msgs, 1000)

	if stats.EligibleMessages != 0 {
		t.Fatalf("expected tool messages to never be eligible, got %+v", stats)
	}
}

func TestInjectCacheBreakpointsCapsAtMaxPerRequest(t *testing.T) {
	msgs := make([]Message, 6)
	for i := range msgs {
		msgs[i] = NewTextMessage("user", longText(2000))
	}
	out, stats := InjectCacheBreakpoints(msgs, 1000)

	if stats.EligibleMessages != 6 {
		t.Fatalf("expected all 6 messages eligible, got %d", stats.EligibleMessages)
	}
	if stats.BreakpointsInjected != maxBreakpointsPerRequest {
		t.Fatalf("expected exactly %d breakpoints injected, got %d", maxBreakpointsPerRequest, stats.BreakpointsInjected)
	}

	injectedCount := 0
	for _, m := range out {
		if m.HasCacheControl() {
			injectedCount++
		}
	}
	if injectedCount != maxBreakpointsPerRequest {
		t.Fatalf("expected %d messages to carry cache_control, got %d", maxBreakpointsPerRequest, injectedCount)
	}
}

func TestInjectCacheBreakpointsIsIdempotent(t *testing.T) {
	msgs := []Message{
		NewTextMessage("user", longText(2000)),
		NewTextMessage("user", longText(2000)),
	}
	first, firstStats := InjectCacheBreakpoints(msgs, 1000)
	second, secondStats := InjectCacheBreakpoints(first, 1000)

	if secondStats.BreakpointsInjected != 0 {
		t.Fatalf("expected a second pass to inject nothing further, got %d", secondStats.BreakpointsInjected)
	}
	if len(first) != len(second) {
		t.Fatal("expected message count to stay stable across passes")
	}
	_ = firstStats
}

func TestInjectCacheBreakpointsDoesNotMutateInput(t *testing.T) {
	msgs := []Message{NewTextMessage("user", longText(2000))}
	_, _ = InjectCacheBreakpoints(msgs, 1000)

	if msgs[0].HasCacheControl() {
		t.Fatal("expected the original input slice to remain unmodified")
	}
}
