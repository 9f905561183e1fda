package optimizer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/evansantos/slimclaw/config"
	"github.com/rs/zerolog"
)

// hardcodedPricing is the built-in fallback table, used when dynamic
// pricing is disabled, before the first successful fetch, or when a
// refresh fails and no fresher entry exists.
var hardcodedPricing = map[string]ModelPricing{
	"claude-opus-4-5":   {InputPer1k: 0.015, OutputPer1k: 0.075},
	"claude-sonnet-4-5": {InputPer1k: 0.003, OutputPer1k: 0.015},
	"claude-haiku-4-5":  {InputPer1k: 0.0008, OutputPer1k: 0.004},
	"gpt-4o":            {InputPer1k: 0.0025, OutputPer1k: 0.01},
	"gpt-4o-mini":       {InputPer1k: 0.00015, OutputPer1k: 0.0006},
	"gemini-2.5-pro":    {InputPer1k: 0.00125, OutputPer1k: 0.005},
	"gemini-2.0-flash":  {InputPer1k: 0.0001, OutputPer1k: 0.0004},
}

// genericDefaultPricing is the ultra-generic fallback used for models
// with no hardcoded entry at all.
var genericDefaultPricing = ModelPricing{InputPer1k: 0.001, OutputPer1k: 0.002}

// PricingCache is the Dynamic Pricing Cache: a process-wide, TTL-backed
// model-pricing table with a single-flight asynchronous refresh
// against a configured pricing API, and a hardcoded fallback.
//
// The refresh discipline (one in-flight fetch guarded by a boolean
// flag, synchronous reads never block on network I/O) mirrors the
// gateway's background health poller.
type PricingCache struct {
	mu        sync.RWMutex
	cache     map[string]ModelPricing
	lastFetch time.Time
	haveFetch bool
	fetching  bool

	cfg    config.DynamicPricing
	client *http.Client
	log    zerolog.Logger
}

// NewPricingCache constructs a PricingCache. cfg.Enabled governs whether
// Get ever attempts a refresh; when false, Get serves the hardcoded
// table exclusively.
func NewPricingCache(cfg config.DynamicPricing, log zerolog.Logger) *PricingCache {
	timeout := time.Duration(cfg.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &PricingCache{
		cache:  make(map[string]ModelPricing),
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		log:    log,
	}
}

// Get returns the best available pricing for model: a fresh cache
// entry, else a non-blocking refresh is triggered and the stale entry
// (or hardcoded fallback) is returned immediately.
func (pc *PricingCache) Get(model string) ModelPricing {
	if !pc.cfg.Enabled {
		return hardcodedOrDefault(model)
	}

	pc.mu.RLock()
	entry, ok := pc.cache[model]
	lastFetch := pc.lastFetch
	haveFetch := pc.haveFetch
	fetching := pc.fetching
	pc.mu.RUnlock()

	ttl := time.Duration(pc.cfg.TTLMs) * time.Millisecond
	if ok && haveFetch && time.Since(lastFetch) <= ttl {
		return entry
	}

	stale := !haveFetch || time.Since(lastFetch) > ttl
	if !fetching && stale {
		go pc.refresh()
	}

	if ok {
		return entry
	}
	return hardcodedOrDefault(model)
}

func hardcodedOrDefault(model string) ModelPricing {
	if p, ok := hardcodedPricing[model]; ok {
		return p
	}
	for key, p := range hardcodedPricing {
		if strings.Contains(strings.ToLower(model), strings.ToLower(key)) {
			return p
		}
	}
	return genericDefaultPricing
}

// openRouterModel is the shape of one entry in the pricing provider's
// response.
type openRouterModel struct {
	ID      string `json:"id"`
	Pricing struct {
		Prompt     string `json:"prompt"`
		Completion string `json:"completion"`
	} `json:"pricing"`
}

type openRouterModelsResponse struct {
	Data []openRouterModel `json:"data"`
}

// refresh performs a single synchronous fetch-and-update cycle, guarded
// so only one refresh runs at a time. It never returns an error to its
// caller: all failures are logged at warn and leave the cache
// untouched, per the CacheRefreshFailure recovery policy.
func (pc *PricingCache) refresh() {
	pc.mu.Lock()
	if pc.fetching {
		pc.mu.Unlock()
		return
	}
	pc.fetching = true
	pc.mu.Unlock()

	defer func() {
		pc.mu.Lock()
		pc.fetching = false
		pc.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), pc.client.Timeout)
	defer cancel()

	updated, err := pc.fetchOnce(ctx)
	if err != nil {
		pc.log.Warn().Err(err).Msg("pricing cache refresh failed, keeping stale entries")
		return
	}

	pc.mu.Lock()
	for model, price := range updated {
		pc.cache[model] = price
	}
	pc.lastFetch = time.Now()
	pc.haveFetch = true
	pc.mu.Unlock()
}

func (pc *PricingCache) fetchOnce(ctx context.Context) (map[string]ModelPricing, error) {
	url := pc.cfg.APIURL
	if url == "" {
		return nil, fmt.Errorf("no pricing api url configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := pc.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("pricing api returned status %d", resp.StatusCode)
	}

	var parsed openRouterModelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("parse pricing response: %w", err)
	}

	relevant := pc.cfg.RelevantProviders
	out := make(map[string]ModelPricing)
	for _, m := range parsed.Data {
		if !isRelevantModel(m.ID, relevant) {
			continue
		}
		inputPerToken, err := strconv.ParseFloat(m.Pricing.Prompt, 64)
		if err != nil {
			continue
		}
		outputPerToken, err := strconv.ParseFloat(m.Pricing.Completion, 64)
		if err != nil {
			continue
		}
		inputPer1k := inputPerToken * 1000
		outputPer1k := outputPerToken * 1000
		if inputPer1k <= 0 || outputPer1k <= 0 {
			continue
		}
		out[m.ID] = ModelPricing{
			InputPer1k:  inputPer1k,
			OutputPer1k: outputPer1k,
			FetchedAt:   time.Now(),
		}
	}
	return out, nil
}

func isRelevantModel(modelID string, relevant []string) bool {
	if len(relevant) == 0 {
		return true
	}
	for _, prefix := range relevant {
		if strings.HasPrefix(modelID, prefix+"/") || modelID == prefix {
			return true
		}
	}
	return false
}
