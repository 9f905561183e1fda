package optimizer

import (
	"strings"
	"testing"

	"github.com/evansantos/slimclaw/config"
)

func windowCfg() config.WindowingConfig {
	return config.WindowingConfig{
		Enabled:            true,
		MaxMessages:        4,
		MaxTokens:          100,
		SummarizeThreshold: 3,
	}
}

func TestWindowPassesThroughShortConversations(t *testing.T) {
	msgs := []Message{
		NewTextMessage("system", "you are a helpful assistant"),
		NewTextMessage("user", "hi"),
		NewTextMessage("assistant", "hello"),
	}
	out := Window(msgs, windowCfg())

	if out.Method != WindowingNone {
		t.Fatalf("expected no windowing for a short conversation, got %v", out.Method)
	}
	if out.TrimmedMessageCount != 0 {
		t.Fatalf("expected zero trimmed messages, got %d", out.TrimmedMessageCount)
	}
	if len(out.RecentMessages) != 2 {
		t.Fatalf("expected 2 messages after stripping system, got %d", len(out.RecentMessages))
	}
}

func TestWindowSummarizesLongConversations(t *testing.T) {
	cfg := windowCfg()
	msgs := []Message{NewTextMessage("system", "be concise")}
	for i := 0; i < 10; i++ {
		msgs = append(msgs, NewTextMessage("user", strings.Repeat("word ", 20)))
	}
	out := Window(msgs, cfg)

	if out.Method != WindowingHeuristic {
		t.Fatalf("expected heuristic windowing for a long conversation, got %v", out.Method)
	}
	if out.ContextSummary == "" {
		t.Fatal("expected a non-empty context summary")
	}
	if len(out.RecentMessages) > cfg.MaxMessages {
		t.Fatalf("expected at most %d recent messages, got %d", cfg.MaxMessages, len(out.RecentMessages))
	}
	if out.WindowedTokenEstimate+out.SummaryTokenEstimate > cfg.MaxTokens {
		// The windower keeps shrinking recent until it fits, or one
		// message remains — one remaining message alone may still
		// exceed budget, which is acceptable.
		if len(out.RecentMessages) > 1 {
			t.Fatalf("expected windowed+summary tokens to fit budget once more than one message remains")
		}
	}
}

func TestWindowNeverPanicsOnEmptyInput(t *testing.T) {
	out := Window(nil, windowCfg())
	if out.OriginalMessageCount != 0 {
		t.Fatalf("expected 0 original messages, got %d", out.OriginalMessageCount)
	}
}

func TestBuildWindowedMessagesReconstructsSystemAndSummary(t *testing.T) {
	outcome := WindowingOutcome{
		SystemPrompt:   "be helpful",
		ContextSummary: "user discussed billing",
		RecentMessages: []Message{NewTextMessage("user", "what now?")},
	}
	msgs := BuildWindowedMessages(outcome)

	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages (system + recent), got %d", len(msgs))
	}
	if msgs[0].Role != "system" {
		t.Fatalf("expected first message to be system, got %s", msgs[0].Role)
	}
	if !strings.Contains(msgs[0].Text(), "<context_summary>") {
		t.Fatal("expected system message to embed the context summary block")
	}
	if !strings.Contains(msgs[0].Text(), "be helpful") {
		t.Fatal("expected system message to retain the original system prompt")
	}
}

func TestBuildWindowedMessagesWithNoSystemOrSummary(t *testing.T) {
	outcome := WindowingOutcome{
		RecentMessages: []Message{NewTextMessage("user", "hi")},
	}
	msgs := BuildWindowedMessages(outcome)
	if len(msgs) != 1 {
		t.Fatalf("expected exactly the recent messages with no synthetic system message, got %d", len(msgs))
	}
}
