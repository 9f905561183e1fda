// Package config defines SlimClaw's configuration schema and loads it
// from environment variables (with an optional .env file) or from a JSON
// file, mirroring how the rest of this codebase's gateway services are
// configured.
package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// ConfigError wraps a configuration validation failure. Per the error
// taxonomy, config errors are rejected at construction time and surfaced
// to the caller — they are never recovered from internally.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// Config is the top-level SlimClaw configuration.
type Config struct {
	Enabled bool   `json:"enabled"`
	Mode    string `json:"mode"` // "shadow" | "active"

	Windowing WindowingConfig `json:"windowing"`
	Routing   RoutingConfig   `json:"routing"`
	Caching   CachingConfig   `json:"caching"`
	Metrics   MetricsConfig   `json:"metrics"`
	Proxy     ProxyConfig     `json:"proxy"`

	// Server/ambient fields, not part of spec §6 but required to run the
	// process — analogous to the teacher's flat Addr/Env/GracefulTimeout.
	Addr            string        `json:"-"`
	Env             string        `json:"-"`
	GracefulTimeout time.Duration `json:"-"`
	LogLevel        string        `json:"-"`
	RedisURL        string        `json:"-"`
	BaseDir         string        `json:"-"`
	SharedSecret    string        `json:"-"`

	MaxBodyBytes     int64  `json:"-"`
	APIKeyHeader     string `json:"-"`
	RateLimitEnabled bool   `json:"-"`
	RateLimitRPM     int    `json:"-"`
	RateLimitBurst   int    `json:"-"`
}

type WindowingConfig struct {
	Enabled            bool `json:"enabled"`
	MaxMessages        int  `json:"maxMessages"`
	MaxTokens          int  `json:"maxTokens"`
	SummarizeThreshold int  `json:"summarizeThreshold"`
}

type RoutingConfig struct {
	Enabled           bool              `json:"enabled"`
	AllowDowngrade    bool              `json:"allowDowngrade"`
	MinConfidence     float64           `json:"minConfidence"`
	PinnedModels      []string          `json:"pinnedModels"`
	Tiers             TierModels        `json:"tiers"`
	TierProviders     map[string]string `json:"tierProviders"`
	ReasoningBudget   int               `json:"reasoningBudget"`
	OpenRouterHeaders OpenRouterHeaders `json:"openRouterHeaders"`
	Pricing           map[string]Price  `json:"pricing"`
	DynamicPricing    DynamicPricing    `json:"dynamicPricing"`
	LatencyTracking   LatencyTracking   `json:"latencyTracking"`
	Budget            BudgetConfig      `json:"budget"`
	ABTesting         ABTestingConfig   `json:"abTesting"`
}

type TierModels struct {
	Simple    string `json:"simple"`
	Mid       string `json:"mid"`
	Complex   string `json:"complex"`
	Reasoning string `json:"reasoning"`
}

// ForTier returns the configured model for tier, and whether one was set.
func (t TierModels) ForTier(tier string) (string, bool) {
	switch tier {
	case "simple":
		return t.Simple, t.Simple != ""
	case "mid":
		return t.Mid, t.Mid != ""
	case "complex":
		return t.Complex, t.Complex != ""
	case "reasoning":
		return t.Reasoning, t.Reasoning != ""
	default:
		return "", false
	}
}

type OpenRouterHeaders struct {
	HTTPReferer string `json:"HTTP-Referer"`
	XTitle      string `json:"X-Title"`
}

type Price struct {
	InputPer1k  float64 `json:"inputPer1k"`
	OutputPer1k float64 `json:"outputPer1k"`
}

type DynamicPricing struct {
	Enabled            bool     `json:"enabled"`
	TTLMs              int64    `json:"ttlMs"`
	TimeoutMs          int64    `json:"timeoutMs"`
	APIURL             string   `json:"apiUrl"`
	RelevantProviders  []string `json:"relevantProviders"`
	FallbackToHardcode bool     `json:"fallbackToHardcoded"`
}

type LatencyTracking struct {
	Enabled            bool `json:"enabled"`
	BufferSize         int  `json:"bufferSize"`
	OutlierThresholdMs int  `json:"outlierThresholdMs"`
}

type BudgetConfig struct {
	Enabled               bool               `json:"enabled"`
	Daily                 map[string]float64 `json:"daily"`
	Weekly                map[string]float64 `json:"weekly"`
	AlertThresholdPercent float64            `json:"alertThresholdPercent"`
	EnforcementAction     string             `json:"enforcementAction"` // downgrade|block|alert-only
}

type ABTestingConfig struct {
	Enabled     bool               `json:"enabled"`
	Experiments []ExperimentConfig `json:"experiments"`
}

type ExperimentConfig struct {
	ID         string          `json:"id"`
	Tier       string          `json:"tier"`
	Status     string          `json:"status"` // active|paused|concluded
	Variants   []VariantConfig `json:"variants"`
	StartedAt  *time.Time      `json:"startedAt,omitempty"`
	EndAt      *time.Time      `json:"endAt,omitempty"`
	MinSamples int             `json:"minSamples"`
}

type VariantConfig struct {
	ID     string  `json:"id"`
	Model  string  `json:"model"`
	Weight float64 `json:"weight"` // 0..100, must sum to 100 per experiment
}

type CachingConfig struct {
	Enabled           bool `json:"enabled"`
	InjectBreakpoints bool `json:"injectBreakpoints"`
	MinContentLength  int  `json:"minContentLength"`
}

type MetricsConfig struct {
	Enabled         bool   `json:"enabled"`
	LogPath         string `json:"logPath"`
	FlushIntervalMs int    `json:"flushIntervalMs"`
	RingBufferSize  int    `json:"ringBufferSize"`
}

type ProxyConfig struct {
	Enabled           bool                        `json:"enabled"`
	Port              int                         `json:"port"`
	DefaultAPI        string                      `json:"defaultApi"` // openai-completions|anthropic-messages
	VirtualModels     VirtualModelsConfig         `json:"virtualModels"`
	ProviderOverrides map[string]ProviderOverride `json:"providerOverrides"`
	RequestTimeout    int                         `json:"requestTimeout"` // ms
	RetryOnError      bool                        `json:"retryOnError"`
	FallbackModel     string                      `json:"fallbackModel"`
}

type VirtualModelsConfig struct {
	Auto struct {
		Enabled bool `json:"enabled"`
	} `json:"auto"`
}

type ProviderOverride struct {
	BaseURL   string `json:"baseUrl"`
	APIKeyEnv string `json:"apiKeyEnv"`
	APIKey    string `json:"apiKey"`
}

// Default returns the spec's documented default configuration.
func Default() *Config {
	cfg := &Config{
		Enabled: true,
		Mode:    "shadow",
		Windowing: WindowingConfig{
			Enabled:            true,
			MaxMessages:        10,
			MaxTokens:          4000,
			SummarizeThreshold: 8,
		},
		Routing: RoutingConfig{
			Enabled:         false,
			AllowDowngrade:  true,
			MinConfidence:   0.4,
			PinnedModels:    []string{},
			TierProviders:   map[string]string{},
			ReasoningBudget: 10000,
			OpenRouterHeaders: OpenRouterHeaders{
				HTTPReferer: "slimclaw",
				XTitle:      "SlimClaw",
			},
			Pricing: map[string]Price{},
			DynamicPricing: DynamicPricing{
				Enabled:            false,
				TTLMs:              int64((6 * time.Hour) / time.Millisecond),
				TimeoutMs:          10000,
				RelevantProviders:  []string{"openai", "anthropic", "google", "meta-llama", "mistralai"},
				FallbackToHardcode: true,
			},
			LatencyTracking: LatencyTracking{
				Enabled:            true,
				BufferSize:         100,
				OutlierThresholdMs: 60000,
			},
			Budget: BudgetConfig{
				Enabled:               false,
				Daily:                 map[string]float64{},
				Weekly:                map[string]float64{},
				AlertThresholdPercent: 80,
				EnforcementAction:     "alert-only",
			},
			ABTesting: ABTestingConfig{Enabled: false, Experiments: []ExperimentConfig{}},
		},
		Caching: CachingConfig{
			Enabled:           true,
			InjectBreakpoints: true,
			MinContentLength:  1000,
		},
		Metrics: MetricsConfig{
			Enabled:         true,
			LogPath:         "metrics",
			FlushIntervalMs: 10000,
			RingBufferSize:  1000,
		},
		Proxy: ProxyConfig{
			Enabled:           false,
			Port:              3334,
			DefaultAPI:        "openai-completions",
			ProviderOverrides: map[string]ProviderOverride{},
			RequestTimeout:    120000,
			RetryOnError:      false,
		},
		Addr:            ":3334",
		Env:             "development",
		GracefulTimeout: 15 * time.Second,
		LogLevel:        "info",
		BaseDir:         ".",

		MaxBodyBytes:     1 * 1024 * 1024,
		APIKeyHeader:     "Authorization",
		RateLimitEnabled: true,
		RateLimitRPM:     120,
		RateLimitBurst:   20,
	}
	cfg.Proxy.VirtualModels.Auto.Enabled = true
	return cfg
}

// Load reads configuration from environment variables and an optional
// .env file, overlaying onto spec defaults.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	cfg.Enabled = getEnvBool("SLIMCLAW_ENABLED", cfg.Enabled)
	cfg.Mode = getEnv("SLIMCLAW_MODE", cfg.Mode)

	cfg.Windowing.Enabled = getEnvBool("SLIMCLAW_WINDOWING_ENABLED", cfg.Windowing.Enabled)
	cfg.Windowing.MaxMessages = getEnvInt("SLIMCLAW_WINDOWING_MAX_MESSAGES", cfg.Windowing.MaxMessages)
	cfg.Windowing.MaxTokens = getEnvInt("SLIMCLAW_WINDOWING_MAX_TOKENS", cfg.Windowing.MaxTokens)
	cfg.Windowing.SummarizeThreshold = getEnvInt("SLIMCLAW_WINDOWING_SUMMARIZE_THRESHOLD", cfg.Windowing.SummarizeThreshold)

	cfg.Routing.Enabled = getEnvBool("SLIMCLAW_ROUTING_ENABLED", cfg.Routing.Enabled)
	cfg.Routing.AllowDowngrade = getEnvBool("SLIMCLAW_ROUTING_ALLOW_DOWNGRADE", cfg.Routing.AllowDowngrade)
	cfg.Routing.MinConfidence = getEnvFloat("SLIMCLAW_ROUTING_MIN_CONFIDENCE", cfg.Routing.MinConfidence)
	cfg.Routing.ReasoningBudget = getEnvInt("SLIMCLAW_ROUTING_REASONING_BUDGET", cfg.Routing.ReasoningBudget)
	cfg.Routing.Tiers.Simple = getEnv("SLIMCLAW_TIER_SIMPLE", cfg.Routing.Tiers.Simple)
	cfg.Routing.Tiers.Mid = getEnv("SLIMCLAW_TIER_MID", cfg.Routing.Tiers.Mid)
	cfg.Routing.Tiers.Complex = getEnv("SLIMCLAW_TIER_COMPLEX", cfg.Routing.Tiers.Complex)
	cfg.Routing.Tiers.Reasoning = getEnv("SLIMCLAW_TIER_REASONING", cfg.Routing.Tiers.Reasoning)

	cfg.Routing.DynamicPricing.Enabled = getEnvBool("SLIMCLAW_DYNAMIC_PRICING_ENABLED", cfg.Routing.DynamicPricing.Enabled)
	cfg.Routing.DynamicPricing.APIURL = getEnv("SLIMCLAW_DYNAMIC_PRICING_URL", cfg.Routing.DynamicPricing.APIURL)
	cfg.Routing.DynamicPricing.TTLMs = int64(getEnvInt("SLIMCLAW_DYNAMIC_PRICING_TTL_MS", int(cfg.Routing.DynamicPricing.TTLMs)))
	cfg.Routing.DynamicPricing.TimeoutMs = int64(getEnvInt("SLIMCLAW_DYNAMIC_PRICING_TIMEOUT_MS", int(cfg.Routing.DynamicPricing.TimeoutMs)))

	cfg.Routing.LatencyTracking.Enabled = getEnvBool("SLIMCLAW_LATENCY_TRACKING_ENABLED", cfg.Routing.LatencyTracking.Enabled)
	cfg.Routing.LatencyTracking.BufferSize = getEnvInt("SLIMCLAW_LATENCY_BUFFER_SIZE", cfg.Routing.LatencyTracking.BufferSize)
	cfg.Routing.LatencyTracking.OutlierThresholdMs = getEnvInt("SLIMCLAW_LATENCY_OUTLIER_THRESHOLD_MS", cfg.Routing.LatencyTracking.OutlierThresholdMs)

	cfg.Routing.Budget.Enabled = getEnvBool("SLIMCLAW_BUDGET_ENABLED", cfg.Routing.Budget.Enabled)
	cfg.Routing.Budget.AlertThresholdPercent = getEnvFloat("SLIMCLAW_BUDGET_ALERT_THRESHOLD_PERCENT", cfg.Routing.Budget.AlertThresholdPercent)
	cfg.Routing.Budget.EnforcementAction = getEnv("SLIMCLAW_BUDGET_ENFORCEMENT_ACTION", cfg.Routing.Budget.EnforcementAction)

	cfg.Routing.ABTesting.Enabled = getEnvBool("SLIMCLAW_AB_TESTING_ENABLED", cfg.Routing.ABTesting.Enabled)

	cfg.Caching.Enabled = getEnvBool("SLIMCLAW_CACHING_ENABLED", cfg.Caching.Enabled)
	cfg.Caching.InjectBreakpoints = getEnvBool("SLIMCLAW_CACHING_INJECT_BREAKPOINTS", cfg.Caching.InjectBreakpoints)
	cfg.Caching.MinContentLength = getEnvInt("SLIMCLAW_CACHING_MIN_CONTENT_LENGTH", cfg.Caching.MinContentLength)

	cfg.Metrics.Enabled = getEnvBool("SLIMCLAW_METRICS_ENABLED", cfg.Metrics.Enabled)
	cfg.Metrics.LogPath = getEnv("SLIMCLAW_METRICS_LOG_PATH", cfg.Metrics.LogPath)
	cfg.Metrics.FlushIntervalMs = getEnvInt("SLIMCLAW_METRICS_FLUSH_INTERVAL_MS", cfg.Metrics.FlushIntervalMs)
	cfg.Metrics.RingBufferSize = getEnvInt("SLIMCLAW_METRICS_RING_BUFFER_SIZE", cfg.Metrics.RingBufferSize)

	cfg.Proxy.Enabled = getEnvBool("SLIMCLAW_PROXY_ENABLED", cfg.Proxy.Enabled)
	cfg.Proxy.Port = getEnvInt("SLIMCLAW_PROXY_PORT", cfg.Proxy.Port)
	cfg.Proxy.DefaultAPI = getEnv("SLIMCLAW_PROXY_DEFAULT_API", cfg.Proxy.DefaultAPI)
	cfg.Proxy.VirtualModels.Auto.Enabled = getEnvBool("SLIMCLAW_PROXY_VIRTUAL_AUTO_ENABLED", true)
	cfg.Proxy.RequestTimeout = getEnvInt("SLIMCLAW_PROXY_REQUEST_TIMEOUT_MS", cfg.Proxy.RequestTimeout)
	cfg.Proxy.RetryOnError = getEnvBool("SLIMCLAW_PROXY_RETRY_ON_ERROR", cfg.Proxy.RetryOnError)
	cfg.Proxy.FallbackModel = getEnv("SLIMCLAW_PROXY_FALLBACK_MODEL", cfg.Proxy.FallbackModel)

	cfg.Addr = getEnv("SLIMCLAW_ADDR", fmt.Sprintf(":%d", cfg.Proxy.Port))
	cfg.Env = getEnv("ENV", cfg.Env)
	cfg.GracefulTimeout = time.Duration(getEnvInt("SLIMCLAW_GRACEFUL_TIMEOUT_SEC", 15)) * time.Second
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.RedisURL = getEnv("REDIS_URL", "")
	cfg.BaseDir = getEnv("SLIMCLAW_BASE_DIR", cfg.BaseDir)
	cfg.SharedSecret = getEnv("SLIMCLAW_SHARED_SECRET", "")

	cfg.MaxBodyBytes = int64(getEnvInt("SLIMCLAW_MAX_BODY_BYTES", int(cfg.MaxBodyBytes)))
	cfg.APIKeyHeader = getEnv("SLIMCLAW_API_KEY_HEADER", cfg.APIKeyHeader)
	cfg.RateLimitEnabled = getEnvBool("SLIMCLAW_RATE_LIMIT_ENABLED", cfg.RateLimitEnabled)
	cfg.RateLimitRPM = getEnvInt("SLIMCLAW_RATE_LIMIT_RPM", cfg.RateLimitRPM)
	cfg.RateLimitBurst = getEnvInt("SLIMCLAW_RATE_LIMIT_BURST", cfg.RateLimitBurst)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile reads a JSON configuration file, following the same
// Validate() pass as Load().
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate enforces the recognized-option constraints from spec §6 and
// rejects malformed config as a ConfigError, surfaced to the caller at
// construction time rather than recovered from internally.
func (c *Config) Validate() error {
	if c.Mode != "shadow" && c.Mode != "active" {
		return &ConfigError{Field: "mode", Reason: "must be \"shadow\" or \"active\""}
	}
	if c.Windowing.MaxMessages < 2 {
		return &ConfigError{Field: "windowing.maxMessages", Reason: "must be >= 2"}
	}
	if c.Windowing.MaxTokens < 500 {
		return &ConfigError{Field: "windowing.maxTokens", Reason: "must be >= 500"}
	}
	if c.Windowing.SummarizeThreshold < 2 {
		return &ConfigError{Field: "windowing.summarizeThreshold", Reason: "must be >= 2"}
	}
	if c.Routing.MinConfidence < 0 || c.Routing.MinConfidence > 1 {
		return &ConfigError{Field: "routing.minConfidence", Reason: "must be in [0,1]"}
	}
	switch c.Routing.Budget.EnforcementAction {
	case "downgrade", "block", "alert-only":
	default:
		return &ConfigError{Field: "routing.budget.enforcementAction", Reason: "must be one of downgrade|block|alert-only"}
	}
	if c.Routing.LatencyTracking.BufferSize <= 0 {
		return &ConfigError{Field: "routing.latencyTracking.bufferSize", Reason: "must be > 0"}
	}
	for _, exp := range c.Routing.ABTesting.Experiments {
		if len(exp.Variants) == 0 {
			return &ConfigError{Field: "routing.abTesting.experiments", Reason: fmt.Sprintf("experiment %q has no variants", exp.ID)}
		}
		total := 0.0
		for _, v := range exp.Variants {
			total += v.Weight
		}
		if math.Abs(total-100) > 0.01 {
			return &ConfigError{Field: "routing.abTesting.experiments", Reason: fmt.Sprintf("experiment %q variant weights sum to %.2f, want 100", exp.ID, total)}
		}
	}
	if c.Caching.MinContentLength < 0 {
		return &ConfigError{Field: "caching.minContentLength", Reason: "must be >= 0"}
	}
	if c.Metrics.RingBufferSize <= 0 {
		return &ConfigError{Field: "metrics.ringBufferSize", Reason: "must be > 0"}
	}
	if c.Proxy.Enabled {
		if c.Proxy.Port < 1024 || c.Proxy.Port > 65535 {
			return &ConfigError{Field: "proxy.port", Reason: "must be in [1024,65535]"}
		}
		switch c.Proxy.DefaultAPI {
		case "openai-completions", "anthropic-messages":
		default:
			return &ConfigError{Field: "proxy.defaultApi", Reason: "must be one of openai-completions|anthropic-messages"}
		}
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool { return c.Env == "development" }

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool { return c.Env == "production" }

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
