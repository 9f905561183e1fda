package optimizer

import (
	"strings"

	"github.com/evansantos/slimclaw/config"
)

// summaryCharBudget bounds the length of the heuristic-generated
// <context_summary> text.
const summaryCharBudget = 600

// Window produces a WindowingOutcome for messages under cfg, preserving
// the system prompt and the most recent messages while compressing
// older context into a short summary when the conversation exceeds the
// configured limits.
func Window(messages []Message, cfg config.WindowingConfig) WindowingOutcome {
	outcome := windowSafely(messages, cfg)
	return outcome
}

func windowSafely(messages []Message, cfg config.WindowingConfig) (result WindowingOutcome) {
	defer func() {
		if r := recover(); r != nil {
			result = passthroughOutcome(messages)
		}
	}()
	return window(messages, cfg)
}

func window(messages []Message, cfg config.WindowingConfig) WindowingOutcome {
	originalCount := len(messages)
	originalTokens := EstimateMessagesTokens(messages)

	systemPrompt := ""
	conversation := messages
	hasSystem := false
	if len(messages) > 0 && messages[0].Role == "system" {
		systemPrompt = messages[0].Text()
		conversation = messages[1:]
		hasSystem = true
	}

	if len(conversation) <= cfg.SummarizeThreshold && originalTokens <= cfg.MaxTokens {
		out := WindowingOutcome{
			SystemPrompt:          systemPrompt,
			RecentMessages:        conversation,
			OriginalMessageCount:  originalCount,
			WindowedMessageCount:  len(conversation),
			TrimmedMessageCount:   0,
			OriginalTokenEstimate: originalTokens,
			WindowedTokenEstimate: EstimateMessagesTokens(conversation),
			SummaryTokenEstimate:  0,
			Method:                WindowingNone,
		}
		return out
	}

	recent := conversation
	var trimmed []Message
	if len(conversation) > cfg.MaxMessages {
		cut := len(conversation) - cfg.MaxMessages
		trimmed = conversation[:cut]
		recent = conversation[cut:]
	}

	summary := summarize(trimmed)
	summaryTokens := EstimateTokens(summary)

	for EstimateMessagesTokens(recent)+summaryTokens > cfg.MaxTokens && len(recent) > 1 {
		trimmed = append(trimmed, recent[0])
		recent = recent[1:]
	}

	windowedCount := len(recent)
	_ = hasSystem

	return WindowingOutcome{
		SystemPrompt:          systemPrompt,
		ContextSummary:        summary,
		RecentMessages:        recent,
		OriginalMessageCount:  originalCount,
		WindowedMessageCount:  windowedCount,
		TrimmedMessageCount:   originalCount - windowedCount - boolToInt(systemPrompt != "" || hasSystem),
		OriginalTokenEstimate: originalTokens,
		WindowedTokenEstimate: EstimateMessagesTokens(recent),
		SummaryTokenEstimate:  summaryTokens,
		Method:                WindowingHeuristic,
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// passthroughOutcome is the never-throws fallback for any internal
// anomaly encountered while windowing.
func passthroughOutcome(messages []Message) WindowingOutcome {
	tokens := EstimateMessagesTokens(messages)
	return WindowingOutcome{
		RecentMessages:        messages,
		OriginalMessageCount:  len(messages),
		WindowedMessageCount:  len(messages),
		TrimmedMessageCount:   0,
		OriginalTokenEstimate: tokens,
		WindowedTokenEstimate: tokens,
		Method:                WindowingNone,
	}
}

// summarize produces a bounded heuristic summary string derived from
// the text of trimmed messages.
func summarize(trimmed []Message) string {
	if len(trimmed) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Earlier in this conversation: ")
	for _, m := range trimmed {
		text := strings.TrimSpace(m.Text())
		if text == "" {
			continue
		}
		line := text
		if len(line) > 120 {
			line = line[:120]
		}
		b.WriteString("[" + m.Role + "] " + line + " ")
		if b.Len() >= summaryCharBudget {
			break
		}
	}
	out := b.String()
	if len(out) > summaryCharBudget {
		out = out[:summaryCharBudget]
	}
	return strings.TrimSpace(out)
}

// BuildWindowedMessages reconstructs a message sequence from a
// WindowingOutcome: a leading system message (prompt plus optional
// <context_summary> block) followed by the recent messages, in order.
func BuildWindowedMessages(outcome WindowingOutcome) []Message {
	var sysContent strings.Builder
	sysContent.WriteString(outcome.SystemPrompt)
	if outcome.ContextSummary != "" {
		if sysContent.Len() > 0 {
			sysContent.WriteString("\n\n")
		}
		sysContent.WriteString("<context_summary>")
		sysContent.WriteString(outcome.ContextSummary)
		sysContent.WriteString("</context_summary>")
	}

	if sysContent.Len() == 0 {
		return append([]Message{}, outcome.RecentMessages...)
	}

	out := make([]Message, 0, len(outcome.RecentMessages)+1)
	out = append(out, NewTextMessage("system", sysContent.String()))
	out = append(out, outcome.RecentMessages...)
	return out
}
