package optimizer

import (
	"strings"
)

// codeCharSet is the punctuation set used to detect code-like text: a
// higher density of these characters relative to word count means the
// word-based estimate under-counts tokens, so a higher per-word
// multiplier is used.
const codeCharSet = "{}()[];"

// codeLikeThreshold is the minimum punctuation-char-per-word density at
// which a message is treated as code-like.
const codeLikeThreshold = 0.1

// EstimateTokens approximates the token count of text using the same
// heuristic a tokenizer-free gateway falls back to: a word-count-based
// estimate (boosted for code-like text) and a char-count-based estimate,
// taking whichever is larger.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	words := strings.Fields(text)
	wordCount := len(words)

	multiplier := 1.1
	if wordCount > 0 && isCodeLike(text, wordCount) {
		multiplier = 1.3
	}

	wordEstimate := float64(wordCount) * multiplier
	charEstimate := ceilDiv(len([]rune(text)), 4)

	if int(wordEstimate) > charEstimate {
		return int(wordEstimate)
	}
	return charEstimate
}

// isCodeLike reports whether text has a punctuation density consistent
// with code rather than prose.
func isCodeLike(text string, wordCount int) bool {
	var count int
	for _, r := range text {
		if strings.ContainsRune(codeCharSet, r) {
			count++
		}
	}
	return float64(count)/float64(wordCount) >= codeLikeThreshold
}

// ceilDiv returns ceil(n / d) for positive d.
func ceilDiv(n, d int) int {
	if n <= 0 {
		return 0
	}
	return (n + d - 1) / d
}

// perMessageOverhead is the small fixed per-message overhead that chat
// wire formats add (role + structural envelope); EstimateMessageTokens
// adds it to each message's estimate.
const perMessageOverhead = 4

// EstimateMessageTokens estimates the token cost of one message,
// including its structural overhead.
func EstimateMessageTokens(m Message) int {
	return EstimateTokens(m.Text()) + perMessageOverhead
}

// EstimateMessagesTokens estimates the total token cost of a slice of
// messages.
func EstimateMessagesTokens(msgs []Message) int {
	total := 0
	for _, m := range msgs {
		total += EstimateMessageTokens(m)
	}
	return total
}
