// Single-port HTTP sidecar exposing an OpenAI-compatible
// /v1/chat/completions plus GET /health. Runs the optimization pipeline
// over the inbound request, forwards the optimized body to the resolved
// provider's base URL under a per-request deadline, and streams the
// response back verbatim. Debug headers surface the pipeline's intermediate
// decisions; X-SlimClaw-Bypass disables optimization entirely.

package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/evansantos/slimclaw/config"
	"github.com/evansantos/slimclaw/optimizer"
	"github.com/evansantos/slimclaw/provider"
)

// Sidecar is the HTTP server implementing §4.13's single-port proxy.
type Sidecar struct {
	cfg      *config.Config
	log      zerolog.Logger
	pipeline *optimizer.Pipeline
	creds    *provider.CredentialStore
	pool     *ConnectionPool

	shuttingDown chan struct{}
}

// NewSidecar constructs a Sidecar. pool may be the shared default pool.
func NewSidecar(cfg *config.Config, log zerolog.Logger, pipeline *optimizer.Pipeline, creds *provider.CredentialStore, pool *ConnectionPool) *Sidecar {
	return &Sidecar{
		cfg:          cfg,
		log:          log,
		pipeline:     pipeline,
		creds:        creds,
		pool:         pool,
		shuttingDown: make(chan struct{}),
	}
}

// BeginShutdown marks the sidecar as draining; new requests are
// rejected with 503 while in-flight ones are allowed to finish.
func (s *Sidecar) BeginShutdown() {
	select {
	case <-s.shuttingDown:
	default:
		close(s.shuttingDown)
	}
}

func (s *Sidecar) isShuttingDown() bool {
	select {
	case <-s.shuttingDown:
		return true
	default:
		return false
	}
}

// Health handles GET /health. Any other method gets 405.
func (s *Sidecar) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// chatRequest is the minimal OpenAI-compatible request shape the
// sidecar needs to read; unrecognized fields are forwarded verbatim
// through the raw field map ChatCompletions decodes alongside it.
type chatRequest struct {
	Model    string               `json:"model"`
	Messages []optimizer.Message  `json:"messages"`
	Stream   bool                 `json:"stream"`
}

func (s *Sidecar) writeError(w http.ResponseWriter, status int, errType, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]interface{}{
			"type":    errType,
			"message": message,
		},
	})
}

// ChatCompletions handles POST /v1/chat/completions per §4.13.
func (s *Sidecar) ChatCompletions(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "only POST is supported")
		return
	}
	if s.isShuttingDown() {
		s.writeError(w, http.StatusServiceUnavailable, "shutting_down", "server is draining, retry shortly")
		return
	}

	bodyBytes, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_request", "failed to read request body: "+err.Error())
		return
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(bodyBytes, &raw); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON: "+err.Error())
		return
	}
	var req chatRequest
	if err := json.Unmarshal(bodyBytes, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_request", "malformed request: "+err.Error())
		return
	}
	if req.Model == "" || len(req.Messages) == 0 {
		s.writeError(w, http.StatusBadRequest, "invalid_request", "model and messages are required")
		return
	}

	requestID := optimizer.NewRequestID()
	w.Header().Set("X-SlimClaw-Request-Id", requestID)

	if r.Header.Get("X-SlimClaw-Bypass") == "true" {
		w.Header().Set("X-SlimClaw-Enabled", "false")
		s.forwardBypass(w, r, requestID, req.Model, raw, start)
		return
	}

	reqCtx := optimizer.RequestContext{
		OriginalModel: req.Model,
		PinnedHeader:  r.Header.Get("X-Model-Pinned"),
		SessionKey:    r.Header.Get("X-SlimClaw-Session-Key"),
		AgentID:       r.Header.Get("X-SlimClaw-Agent-Id"),
	}

	result := s.pipeline.Run(r.Context(), optimizer.OptimizationContext{
		RequestID: requestID,
		Messages:  req.Messages,
		ReqCtx:    reqCtx,
	})

	targetModel := result.Routing.TargetModel
	if s.cfg.Mode == "shadow" {
		// Shadow mode keeps the caller's model; the routing
		// recommendation is debug-header-only. The windowed,
		// cache-marked messages are still forwarded.
		targetModel = req.Model
	}

	s.setDebugHeaders(w, requestID, result, reqCtx)

	resolution := optimizer.ResolveProvider(targetModel, s.cfg.Routing.TierProviders)
	cred, err := s.creds.Resolve(resolution.Provider)
	if err != nil {
		s.log.Error().Err(err).Str("provider", resolution.Provider).Str("model", targetModel).Msg("unknown provider for target model")
		s.writeError(w, http.StatusBadGateway, "unknown_provider", err.Error())
		return
	}

	raw["model"] = mustMarshal(targetModel)
	raw["messages"] = mustMarshal(result.Messages)
	forwardBody, err := json.Marshal(raw)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "internal_error", "failed to rebuild request body")
		return
	}

	s.forward(w, r, cred, forwardBody, requestID, result, start)
}

// forwardBypass skips the optimization pipeline entirely and forwards
// the original body verbatim to the originally requested model's
// provider.
func (s *Sidecar) forwardBypass(w http.ResponseWriter, r *http.Request, requestID, model string, raw map[string]json.RawMessage, start time.Time) {
	resolution := optimizer.ResolveProvider(model, s.cfg.Routing.TierProviders)
	cred, err := s.creds.Resolve(resolution.Provider)
	if err != nil {
		s.writeError(w, http.StatusBadGateway, "unknown_provider", err.Error())
		return
	}
	body, err := json.Marshal(raw)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "internal_error", "failed to re-marshal request body")
		return
	}
	s.forward(w, r, cred, body, requestID, optimizer.OptimizationResult{}, start)
}

func (s *Sidecar) setDebugHeaders(w http.ResponseWriter, requestID string, result optimizer.OptimizationResult, reqCtx optimizer.RequestContext) {
	h := w.Header()
	h.Set("X-SlimClaw-Enabled", strconv.FormatBool(s.cfg.Enabled))
	h.Set("X-SlimClaw-Mode", s.cfg.Mode)
	h.Set("X-SlimClaw-Original-Tokens", strconv.Itoa(result.OriginalTokens))
	h.Set("X-SlimClaw-Optimized-Tokens", strconv.Itoa(result.OptimizedTokens))
	tokensSaved := result.OriginalTokens - result.OptimizedTokens
	if tokensSaved < 0 {
		tokensSaved = 0
	}
	h.Set("X-SlimClaw-Tokens-Saved", strconv.Itoa(tokensSaved))
	h.Set("X-SlimClaw-Savings-Percent", fmt.Sprintf("%.2f", result.Shadow.CostDelta.SavingsPercent))

	if result.Windowing.Method != optimizer.WindowingNone {
		h.Set("X-SlimClaw-Windowing", "applied")
		if result.Windowing.TrimmedMessageCount > 0 {
			h.Set("X-SlimClaw-Trimmed-Messages", strconv.Itoa(result.Windowing.TrimmedMessageCount))
		}
	} else {
		h.Set("X-SlimClaw-Windowing", "skipped")
	}

	if result.CacheStats.BreakpointsInjected > 0 {
		h.Set("X-SlimClaw-Caching", "applied")
		h.Set("X-SlimClaw-Cache-Breakpoints", strconv.Itoa(result.CacheStats.BreakpointsInjected))
	} else {
		h.Set("X-SlimClaw-Caching", "skipped")
	}

	h.Set("X-SlimClaw-Classification", string(result.Classification.Tier))
	if result.Routing.Applied {
		h.Set("X-SlimClaw-Routing", "applied")
	} else {
		h.Set("X-SlimClaw-Routing", "skipped")
	}

	if reqCtx.AgentID != "" {
		h.Set("X-SlimClaw-Agent-Id", reqCtx.AgentID)
	}
	if reqCtx.SessionKey != "" {
		h.Set("X-SlimClaw-Session-Key", reqCtx.SessionKey)
	}
}

func (s *Sidecar) requestTimeout() time.Duration {
	ms := s.cfg.Proxy.RequestTimeout
	if ms <= 0 {
		ms = 120000
	}
	return time.Duration(ms) * time.Millisecond
}

// forward sends body to cred.BaseURL and streams the response back
// verbatim, preserving status and content-type, under a per-request
// deadline.
func (s *Sidecar) forward(w http.ResponseWriter, r *http.Request, cred provider.Credential, body []byte, requestID string, result optimizer.OptimizationResult, start time.Time) {
	ctx, cancel := context.WithTimeout(r.Context(), s.requestTimeout())
	defer cancel()

	url := cred.BaseURL + "/v1/chat/completions"
	fwReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "internal_error", "failed to build forward request")
		return
	}
	fwReq.Header.Set("Content-Type", "application/json")
	fwReq.Header.Set("Authorization", "Bearer "+cred.APIKey)
	if hdrs := s.cfg.Routing.OpenRouterHeaders; hdrs.HTTPReferer != "" || hdrs.XTitle != "" {
		if hdrs.HTTPReferer != "" {
			fwReq.Header.Set("HTTP-Referer", hdrs.HTTPReferer)
		}
		if hdrs.XTitle != "" {
			fwReq.Header.Set("X-Title", hdrs.XTitle)
		}
	}

	client := s.pool.GetClient(providerClientKey(url), s.requestTimeout())
	resp, err := client.Do(fwReq)
	if err != nil {
		latencyMs := float64(time.Since(start).Milliseconds())
		if ctx.Err() == context.DeadlineExceeded {
			s.writeError(w, http.StatusGatewayTimeout, "forward_timeout", "upstream request timed out")
		} else {
			s.writeError(w, http.StatusBadGateway, "forward_error", "upstream request failed: "+err.Error())
		}
		s.log.Error().Err(err).Str("req_id", requestID).Dur("elapsed", time.Since(start)).Msg("forward failed")
		s.recordOutcome(requestID, result, latencyMs, nil, nil, nil, nil, 0)
		return
	}
	defer resp.Body.Close()

	for k, vv := range resp.Header {
		for _, v := range vv {
			w.Header().Add(k, v)
		}
	}
	// Total forward latency isn't known until the upstream body is fully
	// drained, so it can't be set as a regular header before WriteHeader.
	// Declare it as a trailer instead; Go's HTTP/1.1 chunked writer and
	// HTTP/2 both support trailers announced via the "Trailer" header.
	w.Header().Set("Trailer", "X-SlimClaw-Latency-Ms")
	w.WriteHeader(resp.StatusCode)

	flusher, _ := w.(http.Flusher)
	buf := make([]byte, 4096)
	var usage *chatUsage
	var accumulated bytes.Buffer
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			w.Write(buf[:n])
			accumulated.Write(buf[:n])
			if flusher != nil {
				flusher.Flush()
			}
		}
		if readErr != nil {
			break
		}
	}
	usage = extractUsage(accumulated.Bytes())

	latencyMs := float64(time.Since(start).Milliseconds())
	var inputTokens, outputTokens *int
	var cacheRead, cacheWrite *int
	var costUSD float64
	if usage != nil {
		inputTokens = &usage.PromptTokens
		outputTokens = &usage.CompletionTokens
		pricing := s.pipeline.Pricing.Get(result.Routing.TargetModel)
		costUSD = float64(usage.PromptTokens)/1000*pricing.InputPer1k + float64(usage.CompletionTokens)/1000*pricing.OutputPer1k
	}
	w.Header().Set("X-SlimClaw-Latency-Ms", strconv.FormatInt(time.Since(start).Milliseconds(), 10))

	s.recordOutcome(requestID, result, latencyMs, inputTokens, outputTokens, cacheRead, cacheWrite, costUSD)
}

func (s *Sidecar) recordOutcome(requestID string, result optimizer.OptimizationResult, latencyMs float64, inputTokens, outputTokens, cacheRead, cacheWrite *int, costUSD float64) {
	s.pipeline.RecordOutcome(requestID, result, s.cfg.Mode, latencyMs, inputTokens, outputTokens, cacheRead, cacheWrite, costUSD)
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// extractUsage scans a non-streaming JSON body (or the last [DONE]-
// preceding SSE data frame carrying usage) for a top-level "usage"
// object. Returns nil when absent, e.g. providers that omit usage on
// stream chunks.
func extractUsage(body []byte) *chatUsage {
	var withUsage struct {
		Usage *chatUsage `json:"usage"`
	}
	if err := json.Unmarshal(body, &withUsage); err == nil && withUsage.Usage != nil {
		return withUsage.Usage
	}
	var last *chatUsage
	for _, line := range bytes.Split(body, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if !bytes.HasPrefix(line, []byte("data:")) {
			continue
		}
		payload := bytes.TrimSpace(line[len("data:"):])
		if bytes.Equal(payload, []byte("[DONE]")) {
			break
		}
		withUsage.Usage = nil
		if err := json.Unmarshal(payload, &withUsage); err == nil && withUsage.Usage != nil {
			last = withUsage.Usage
		}
	}
	return last
}

func mustMarshal(v interface{}) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("null")
	}
	return b
}

func providerClientKey(url string) string {
	return url
}
