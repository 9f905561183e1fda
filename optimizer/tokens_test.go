package optimizer

import "testing"

func TestEstimateTokensEmpty(t *testing.T) {
	if got := EstimateTokens(""); got != 0 {
		t.Fatalf("expected 0 tokens for empty text, got %d", got)
	}
}

func TestEstimateTokensProse(t *testing.T) {
	text := "the quick brown fox jumps over the lazy dog"
	got := EstimateTokens(text)
	if got <= 0 {
		t.Fatalf("expected positive token estimate, got %d", got)
	}
}

func TestEstimateTokensCodeLikeBoostsEstimate(t *testing.T) {
	prose := "function returns value computed from input argument here"
	code := "function(a){b[0]=c();d[1]=e();}"

	proseEstimate := EstimateTokens(prose)
	codeEstimate := EstimateTokens(code)

	if codeEstimate <= 0 || proseEstimate <= 0 {
		t.Fatalf("expected both estimates positive, got prose=%d code=%d", proseEstimate, codeEstimate)
	}
	// The code sample is one whitespace-delimited word, the prose eight;
	// only the code sample gets the boosted word multiplier.
	if !isCodeLike(code, 1) || isCodeLike(prose, 8) {
		t.Fatalf("expected only the code sample to be treated as code-like")
	}
}

func TestEstimateTokensUsesLargerOfWordAndCharEstimate(t *testing.T) {
	// A single very long "word" with no spaces should fall back to the
	// char-based estimate since the word-count estimate is tiny.
	long := ""
	for i := 0; i < 400; i++ {
		long += "x"
	}
	got := EstimateTokens(long)
	want := ceilDiv(len([]rune(long)), 4)
	if got != want {
		t.Fatalf("expected char-based estimate %d, got %d", want, got)
	}
}

func TestEstimateMessageTokensIncludesOverhead(t *testing.T) {
	m := NewTextMessage("user", "hello there")
	got := EstimateMessageTokens(m)
	want := EstimateTokens(m.Text()) + perMessageOverhead
	if got != want {
		t.Fatalf("expected %d, got %d", want, got)
	}
}

func TestEstimateMessagesTokensSumsAllMessages(t *testing.T) {
	msgs := []Message{
		NewTextMessage("system", "be nice"),
		NewTextMessage("user", "hello there"),
		NewTextMessage("assistant", "hi, how can I help?"),
	}
	var want int
	for _, m := range msgs {
		want += EstimateMessageTokens(m)
	}
	if got := EstimateMessagesTokens(msgs); got != want {
		t.Fatalf("expected %d, got %d", want, got)
	}
}

func TestCeilDivNonPositive(t *testing.T) {
	if got := ceilDiv(0, 4); got != 0 {
		t.Fatalf("expected 0 for n<=0, got %d", got)
	}
	if got := ceilDiv(-5, 4); got != 0 {
		t.Fatalf("expected 0 for negative n, got %d", got)
	}
}

func TestCeilDivRoundsUp(t *testing.T) {
	if got := ceilDiv(9, 4); got != 3 {
		t.Fatalf("expected ceil(9/4)=3, got %d", got)
	}
	if got := ceilDiv(8, 4); got != 2 {
		t.Fatalf("expected ceil(8/4)=2, got %d", got)
	}
}
