// Response header scrubbing middleware. The sidecar's forward path
// copies the upstream provider's response headers verbatim onto the
// client response (proxy/sidecar.go); this wraps the ResponseWriter so
// that copy never leaks the provider's own auth, rate-limit, or
// infrastructure headers to the caller.

package middleware

import (
	"net/http"

	"github.com/rs/zerolog"
)

// HeaderNormalization scrubs upstream provider headers from responses
// before they reach the client.
type HeaderNormalization struct {
	logger zerolog.Logger
}

// NewHeaderNormalization creates a new header normalization middleware.
func NewHeaderNormalization(logger zerolog.Logger) *HeaderNormalization {
	return &HeaderNormalization{logger: logger}
}

// headersToStripFromResponse are upstream headers that should not
// leak to the client when the sidecar forwards a provider response
// verbatim.
var headersToStripFromResponse = []string{
	"x-api-key",
	"anthropic-version",
	"openai-organization",
	"openai-processing-ms",
	"x-ratelimit-limit-requests",
	"x-ratelimit-limit-tokens",
	"x-ratelimit-remaining-requests",
	"x-ratelimit-remaining-tokens",
	"x-ratelimit-reset-requests",
	"x-ratelimit-reset-tokens",
	"cf-ray",
	"cf-cache-status",
	"server",       // don't leak the provider's server software
	"x-request-id", // provider's internal request ID, distinct from ours
}

// slimclawResponseHeaders are headers SlimClaw always sets on responses.
var slimclawResponseHeaders = map[string]string{
	"X-SlimClaw-Sidecar": "true",
	"X-Powered-By":       "SlimClaw Optimizer",
}

// Handler returns the HTTP middleware handler.
func (h *HeaderNormalization) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wrapped := &headerNormWriter{
			ResponseWriter: w,
			logger:         h.logger,
		}
		next.ServeHTTP(wrapped, r)
	})
}

// headerNormWriter wraps http.ResponseWriter to scrub response headers
// the moment the handler commits to a status code, before any body
// bytes (including streamed chunks) are written.
type headerNormWriter struct {
	http.ResponseWriter
	logger      zerolog.Logger
	wroteHeader bool
}

func (hw *headerNormWriter) WriteHeader(code int) {
	if hw.wroteHeader {
		return
	}
	hw.wroteHeader = true

	for _, header := range headersToStripFromResponse {
		if hw.ResponseWriter.Header().Get(header) != "" {
			hw.logger.Debug().Str("header", header).Msg("stripped upstream header from response")
			hw.ResponseWriter.Header().Del(header)
		}
	}

	for k, v := range slimclawResponseHeaders {
		hw.ResponseWriter.Header().Set(k, v)
	}

	hw.ResponseWriter.WriteHeader(code)
}

func (hw *headerNormWriter) Write(b []byte) (int, error) {
	if !hw.wroteHeader {
		hw.WriteHeader(http.StatusOK)
	}
	return hw.ResponseWriter.Write(b)
}

// Flush supports streaming by delegating to the underlying writer.
func (hw *headerNormWriter) Flush() {
	if f, ok := hw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
