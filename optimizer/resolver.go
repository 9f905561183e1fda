package optimizer

import "strings"

// ProviderSource names where a provider resolution came from.
type ProviderSource string

const (
	SourceTierProviders ProviderSource = "tierProviders"
	SourceNative        ProviderSource = "native"
	SourceDefault       ProviderSource = "default"
)

// ProviderResolution is the result of resolving a model id to a
// provider.
type ProviderResolution struct {
	Provider       string
	Source         ProviderSource
	MatchedPattern string
}

// defaultProvider is returned when no other match applies.
const defaultProvider = "anthropic"

// ResolveProvider maps modelID to a provider using tierProviders (a
// glob → provider mapping), falling back to inference from the model id
// itself and finally a process default.
//
// Match order: exact key, then prefix glob "X/*", then wildcard "*",
// then inference from the segment before the first "/", then default.
func ResolveProvider(modelID string, tierProviders map[string]string) ProviderResolution {
	if p, ok := tierProviders[modelID]; ok {
		return ProviderResolution{Provider: p, Source: SourceTierProviders, MatchedPattern: modelID}
	}

	if idx := strings.Index(modelID, "/"); idx >= 0 {
		prefix := modelID[:idx]
		pattern := prefix + "/*"
		if p, ok := tierProviders[pattern]; ok {
			return ProviderResolution{Provider: p, Source: SourceTierProviders, MatchedPattern: pattern}
		}
	}

	if p, ok := tierProviders["*"]; ok {
		return ProviderResolution{Provider: p, Source: SourceTierProviders, MatchedPattern: "*"}
	}

	if idx := strings.Index(modelID, "/"); idx >= 0 {
		return ProviderResolution{Provider: modelID[:idx], Source: SourceNative}
	}

	return ProviderResolution{Provider: defaultProvider, Source: SourceDefault}
}
