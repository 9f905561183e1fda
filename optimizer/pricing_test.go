package optimizer

import (
	"io"
	"testing"

	"github.com/evansantos/slimclaw/config"
	"github.com/rs/zerolog"
)

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func TestPricingCacheDisabledServesHardcodedTable(t *testing.T) {
	pc := NewPricingCache(config.DynamicPricing{Enabled: false}, testLogger())
	p := pc.Get("claude-opus-4-5")

	if p.InputPer1k != hardcodedPricing["claude-opus-4-5"].InputPer1k {
		t.Fatalf("expected hardcoded opus pricing, got %+v", p)
	}
}

func TestPricingCacheUnknownModelFallsBackToGeneric(t *testing.T) {
	pc := NewPricingCache(config.DynamicPricing{Enabled: false}, testLogger())
	p := pc.Get("some-totally-unknown-model-xyz")

	if p != genericDefaultPricing {
		t.Fatalf("expected generic default pricing, got %+v", p)
	}
}

func TestHardcodedOrDefaultMatchesSubstring(t *testing.T) {
	p := hardcodedOrDefault("anthropic/claude-opus-4-5-20260101")
	if p.InputPer1k != hardcodedPricing["claude-opus-4-5"].InputPer1k {
		t.Fatalf("expected substring match against hardcoded table, got %+v", p)
	}
}

func TestIsRelevantModelEmptyListMatchesEverything(t *testing.T) {
	if !isRelevantModel("anything/goes", nil) {
		t.Fatal("expected an empty relevant list to match any model")
	}
}

func TestIsRelevantModelPrefixMatch(t *testing.T) {
	relevant := []string{"openai", "anthropic"}
	if !isRelevantModel("openai/gpt-4o", relevant) {
		t.Fatal("expected openai/gpt-4o to match the openai prefix")
	}
	if isRelevantModel("mistralai/mixtral", relevant) {
		t.Fatal("expected mistralai model to not match openai/anthropic prefixes")
	}
}

func TestIsRelevantModelExactMatch(t *testing.T) {
	if !isRelevantModel("anthropic", []string{"anthropic"}) {
		t.Fatal("expected exact provider name to match")
	}
}

func TestPricingCacheEnabledWithoutAPIURLFallsBackGracefully(t *testing.T) {
	pc := NewPricingCache(config.DynamicPricing{
		Enabled: true,
		TTLMs:   int64(60000),
	}, testLogger())

	// No cache entry yet and no API URL configured: Get should still
	// return synchronously without blocking, serving the hardcoded table.
	p := pc.Get("claude-haiku-4-5")
	if p.InputPer1k != hardcodedPricing["claude-haiku-4-5"].InputPer1k {
		t.Fatalf("expected hardcoded fallback while no fetch has completed, got %+v", p)
	}
}
