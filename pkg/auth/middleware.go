package auth

import (
	"net"
	"net/http"

	"chatsync/pkg/logger"
)

// Middleware rate-limits requests keyed by the acting user, falling back
// to the remote IP when no user header is present. Health checks and the
// metrics endpoint pass through unlimited.
func Middleware(rps float64, burst int) func(http.Handler) http.Handler {
	limiters := &limiterPool{rps: rps, burst: burst}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/healthz" || r.URL.Path == "/metrics" {
				next.ServeHTTP(w, r)
				return
			}
			key := ActorID(r)
			if key == "" {
				key = clientIP(r)
			}
			if !limiters.Allow(key) {
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				logger.Warn("rate_limited", "key", key, "path", r.URL.Path)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ActorID returns the identity a request acts as. Empty when the caller
// sent no X-User-ID header.
func ActorID(r *http.Request) string {
	return r.Header.Get("X-User-ID")
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
