package optimizer

import "testing"

func TestResolveProviderExactMatch(t *testing.T) {
	tierProviders := map[string]string{"openrouter/some-model": "openrouter"}
	res := ResolveProvider("openrouter/some-model", tierProviders)

	if res.Provider != "openrouter" || res.Source != SourceTierProviders {
		t.Fatalf("expected exact match to openrouter, got %+v", res)
	}
}

func TestResolveProviderPrefixGlob(t *testing.T) {
	tierProviders := map[string]string{"mistralai/*": "openrouter"}
	res := ResolveProvider("mistralai/mixtral-8x7b", tierProviders)

	if res.Provider != "openrouter" || res.MatchedPattern != "mistralai/*" {
		t.Fatalf("expected prefix glob match, got %+v", res)
	}
}

func TestResolveProviderWildcard(t *testing.T) {
	tierProviders := map[string]string{"*": "openrouter"}
	res := ResolveProvider("some-unprefixed-model", tierProviders)

	if res.Provider != "openrouter" || res.MatchedPattern != "*" {
		t.Fatalf("expected wildcard match, got %+v", res)
	}
}

func TestResolveProviderNativeInference(t *testing.T) {
	res := ResolveProvider("anthropic/claude-opus-4-5", map[string]string{})

	if res.Provider != "anthropic" || res.Source != SourceNative {
		t.Fatalf("expected native inference from prefix, got %+v", res)
	}
}

func TestResolveProviderDefault(t *testing.T) {
	res := ResolveProvider("gpt-4", nil)

	if res.Provider != defaultProvider || res.Source != SourceDefault {
		t.Fatalf("expected default provider fallback, got %+v", res)
	}
}

func TestResolveProviderPrecedence(t *testing.T) {
	// Exact match beats prefix glob, which beats wildcard.
	tierProviders := map[string]string{
		"openrouter/specific-model": "exact-provider",
		"openrouter/*":              "glob-provider",
		"*":                         "wildcard-provider",
	}
	res := ResolveProvider("openrouter/specific-model", tierProviders)
	if res.Provider != "exact-provider" {
		t.Fatalf("expected exact match to win, got %+v", res)
	}

	res = ResolveProvider("openrouter/other-model", tierProviders)
	if res.Provider != "glob-provider" {
		t.Fatalf("expected prefix glob to win over wildcard, got %+v", res)
	}
}
