// Process-wide credential map for the sidecar's forward path. Resolves a
// provider name to {baseUrl, apiKey}, reading apiKeyEnv indirection from
// config.ProviderOverrides and falling back to a built-in base URL table
// for the well-known providers the gateway used to dial directly.

package provider

import (
	"fmt"
	"os"

	"github.com/evansantos/slimclaw/config"
)

// Credential is the resolved {baseUrl, apiKey} pair for one provider.
type Credential struct {
	BaseURL string
	APIKey  string
}

// builtinBaseURLs covers the providers the gateway's connectors used to
// dial directly, so a deployment needs only to set the API key env var
// and not also repeat the base URL in providerOverrides.
var builtinBaseURLs = map[string]string{
	"openai":    "https://api.openai.com",
	"anthropic": "https://api.anthropic.com",
	"google":    "https://generativelanguage.googleapis.com",
	"mistralai": "https://api.mistral.ai",
	"meta-llama": "https://openrouter.ai/api",
	"groq":      "https://api.groq.com/openai",
	"cohere":    "https://api.cohere.ai",
	"together":  "https://api.together.xyz",
	"openrouter": "https://openrouter.ai/api",
}

// builtinAPIKeyEnv covers the default env var a provider's key is read
// from when providerOverrides does not set apiKeyEnv explicitly.
var builtinAPIKeyEnv = map[string]string{
	"openai":     "OPENAI_API_KEY",
	"anthropic":  "ANTHROPIC_API_KEY",
	"google":     "GOOGLE_API_KEY",
	"mistralai":  "MISTRAL_API_KEY",
	"groq":       "GROQ_API_KEY",
	"cohere":     "COHERE_API_KEY",
	"together":   "TOGETHER_API_KEY",
	"openrouter": "OPENROUTER_API_KEY",
}

// CredentialStore resolves a provider name to forwarding credentials,
// built once at startup from config.ProxyConfig.ProviderOverrides
// layered over the builtin defaults.
type CredentialStore struct {
	creds map[string]Credential
}

// NewCredentialStore builds a store from the sidecar's proxy config.
// Unknown providers (no override and no builtin entry) are simply
// absent from the map; Resolve reports that as an error.
func NewCredentialStore(cfg config.ProxyConfig) *CredentialStore {
	s := &CredentialStore{creds: make(map[string]Credential)}

	for name, baseURL := range builtinBaseURLs {
		s.creds[name] = Credential{
			BaseURL: baseURL,
			APIKey:  os.Getenv(builtinAPIKeyEnv[name]),
		}
	}

	for name, override := range cfg.ProviderOverrides {
		c := s.creds[name]
		if override.BaseURL != "" {
			c.BaseURL = override.BaseURL
		}
		if override.APIKey != "" {
			c.APIKey = override.APIKey
		} else if override.APIKeyEnv != "" {
			c.APIKey = os.Getenv(override.APIKeyEnv)
		}
		s.creds[name] = c
	}

	return s
}

// Resolve returns the credential for providerName, or an error if no
// base URL is known for it — the §4.13 step 4 "unknown provider" case.
func (s *CredentialStore) Resolve(providerName string) (Credential, error) {
	c, ok := s.creds[providerName]
	if !ok || c.BaseURL == "" {
		return Credential{}, fmt.Errorf("no credentials configured for provider %q", providerName)
	}
	return c, nil
}
