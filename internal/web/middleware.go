package web

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"

	"github.com/motiveproxy/motiveproxy/internal/apierr"
)

// recoverMiddleware converts handler panics into internal errors instead of
// letting net/http tear down the connection with no body.
func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.writeError(w, r, apierr.E(apierr.KindInternal, "panic",
					fmt.Sprintf("handler panic: %v", rec)))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// exemptPath reports whether security checks are skipped for the path.
// Liveness probes and metric scrapers do not carry API keys and must not
// count against rate limits.
func exemptPath(path string) bool {
	return path == "/health" || path == "/metrics"
}

// securityMiddleware enforces rate limits and optional API-key auth before
// any handler runs.
func (s *Server) securityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if exemptPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		if s.limiter != nil {
			if allowed, reason := s.limiter.Allow(clientIP(r)); !allowed {
				s.writeError(w, r, apierr.E(apierr.KindRateLimited, "rate_limit_exceeded", reason))
				return
			}
		}

		if len(s.cfg.APIKeys) > 0 && !s.authorized(r) {
			s.writeError(w, r, apierr.E(apierr.KindUnauthorized, "invalid_api_key",
				"invalid or missing API key"))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// authorized checks the configured API-key header against the key list in
// constant time per candidate.
func (s *Server) authorized(r *http.Request) bool {
	presented := r.Header.Get(s.cfg.APIKeyHeader)
	if presented == "" {
		return false
	}
	for _, key := range s.cfg.APIKeys {
		if subtle.ConstantTimeCompare([]byte(presented), []byte(key)) == 1 {
			return true
		}
	}
	return false
}

// clientIP extracts the caller's address, preferring reverse-proxy headers:
// first hop of X-Forwarded-For, then X-Real-Ip, then the direct peer.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	if real := r.Header.Get("X-Real-Ip"); real != "" {
		return real
	}
	host := r.RemoteAddr
	if i := strings.LastIndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}
	return host
}
