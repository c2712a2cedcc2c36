package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/stockflow/reminderd/internal/redis"
)

// KeyFunc extracts the rate-limit key from a request.
type KeyFunc func(r *http.Request) string

// CallerKeyFunc keys the limiter by the caller's address; behind the chi
// RealIP middleware this is the client IP.
func CallerKeyFunc(r *http.Request) string {
	return r.RemoteAddr
}

// RateLimitMiddleware guards the run endpoint with the Redis fixed-window
// limiter. A nil limiter (Redis not configured) disables limiting, and a
// limiter error fails open: an unreachable Redis must not block operators.
func RateLimitMiddleware(limiter *redis.RateLimiter, logger *zap.Logger, keyFunc KeyFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter == nil {
				next.ServeHTTP(w, r)
				return
			}

			key := keyFunc(r)
			result, err := limiter.Allow(r.Context(), key)
			if err != nil {
				logger.Warn("rate limiter unavailable, allowing request",
					zap.Error(err),
					zap.String("key", key),
				)
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))

			if !result.Allowed {
				w.Header().Set("Retry-After", strconv.FormatInt(result.ResetAt.Unix(), 10))
				w.Header().Set("Content-Type", "application/problem+json")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(ErrorResponse{
					Type:   "rate_limited",
					Title:  "Too many requests",
					Status: http.StatusTooManyRequests,
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
