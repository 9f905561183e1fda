// Sidecar router with middleware chain: CORS → Security Headers → Request
// ID → Recoverer → Request Logger → Body Size Limit → Auth → Rate Limit →
// Header Normalization → Timeout. Routes: /health, /v1/chat/completions,
// /v1/models, and the read-only /v1/optimizer/* introspection API.

package router

import (
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/evansantos/slimclaw/config"
	scmw "github.com/evansantos/slimclaw/middleware"
	"github.com/evansantos/slimclaw/optimizer"
	"github.com/evansantos/slimclaw/proxy"
)

// New returns a configured chi Router with the full middleware chain
// and the sidecar's routes mounted.
func New(cfg *config.Config, appLogger zerolog.Logger, sidecar *proxy.Sidecar, introspect *Introspection) http.Handler {
	r := chi.NewRouter()

	// --- Middleware chain (order matters) ---
	r.Use(scmw.CORSMiddleware([]string{"*"}))
	r.Use(scmw.SecurityHeadersMiddleware)
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(mwRequestLogger(appLogger))
	r.Use(mwMaxBodySize(cfg.MaxBodyBytes))

	// --- Health endpoint (no auth required) ---
	r.Get("/health", sidecar.Health)

	authMW := scmw.NewAuthMiddleware(appLogger, cfg.APIKeyHeader, cfg.SharedSecret)
	rateLimiter := scmw.NewRateLimiter(appLogger, cfg.RateLimitEnabled, cfg.RateLimitRPM, cfg.RateLimitBurst)
	headerNorm := scmw.NewHeaderNormalization(appLogger)
	timeoutMW := scmw.NewTimeoutMiddleware(appLogger, cfg)

	r.Route("/v1", func(r chi.Router) {
		r.Use(authMW.Handler)
		r.Use(rateLimiter.Handler)
		r.Use(headerNorm.Handler)
		r.Use(timeoutMW.Handler)

		r.Post("/chat/completions", sidecar.ChatCompletions)
		r.Get("/models", introspect.Models)

		r.Get("/optimizer/stats", introspect.Stats)
		r.Get("/optimizer/metrics/{date}", introspect.MetricsForDate)
		r.Get("/optimizer/budget", introspect.Budget)
		r.Get("/optimizer/experiments", introspect.Experiments)
		r.Get("/optimizer/experiments/{id}", introspect.Experiment)
	})

	return r
}

// mwMaxBodySize returns middleware that limits the request body size.
func mwMaxBodySize(maxBytes int64) func(http.Handler) http.Handler {
	if maxBytes <= 0 {
		maxBytes = 1 * 1024 * 1024
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			max := maxBytes
			if v := os.Getenv("SLIMCLAW_MAX_BODY_BYTES"); v != "" {
				if parsed, err := strconv.ParseInt(v, 10, 64); err == nil && parsed > 0 {
					max = parsed
				}
			}

			if r.ContentLength > 0 && r.ContentLength > max {
				http.Error(w, `{"error":"request_too_large","message":"request body too large"}`, http.StatusRequestEntityTooLarge)
				return
			}

			r.Body = http.MaxBytesReader(w, r.Body, max)
			next.ServeHTTP(w, r)
		})
	}
}

func mwRequestLogger(appLogger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(rw, r)
			dur := time.Since(start)
			reqID := chimw.GetReqID(r.Context())
			appLogger.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("req_id", reqID).
				Int("status", rw.Status()).
				Dur("duration", dur).
				Msg("request completed")
		})
	}
}

// tierDefaultModels is referenced by introspect.Models to advertise the
// models routing can target, mirroring the gateway's old /v1/models
// listing without a provider registry to enumerate.
var tierDefaultModels = []optimizer.ComplexityTier{
	optimizer.TierSimple, optimizer.TierMid, optimizer.TierComplex, optimizer.TierReasoning,
}
