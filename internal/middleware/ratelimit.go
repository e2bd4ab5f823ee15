package middleware

import (
	"net/http"
	"strings"
	"sync"

	"github.com/radiusdt/vector-analytics/internal/config"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RateLimitRecorder counts rejected requests.
type RateLimitRecorder interface {
	RecordRateLimitHit(endpoint, scope string)
}

// RateLimitMiddleware implements token bucket rate limiting on the
// analytics API. Health and metrics endpoints are never limited.
type RateLimitMiddleware struct {
	cfg           config.RateLimitConfig
	logger        *zap.Logger
	metrics       RateLimitRecorder
	globalLimiter *rate.Limiter

	// Per-IP limiters for more granular control
	mu         sync.RWMutex
	ipLimiters map[string]*rate.Limiter
}

// NewRateLimitMiddleware creates a new rate limiting middleware.
func NewRateLimitMiddleware(cfg config.RateLimitConfig, logger *zap.Logger) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		cfg:           cfg,
		logger:        logger,
		globalLimiter: rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Burst),
		ipLimiters:    make(map[string]*rate.Limiter),
	}
}

func (rl *RateLimitMiddleware) SetMetrics(m RateLimitRecorder) {
	rl.metrics = m
}

// Handler wraps an http.Handler with a per-client and a global limit.
func (rl *RateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.cfg.Enabled || !rl.isAPIEndpoint(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		ip := rl.getClientIP(r)
		if !rl.getIPLimiter(ip).Allow() {
			rl.reject(w, r, "ip", ip)
			return
		}
		if !rl.globalLimiter.Allow() {
			rl.reject(w, r, "global", ip)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimitMiddleware) reject(w http.ResponseWriter, r *http.Request, scope, ip string) {
	rl.logger.Warn("rate limit exceeded",
		zap.String("scope", scope),
		zap.String("ip", ip),
		zap.String("path", r.URL.Path),
	)
	if rl.metrics != nil {
		rl.metrics.RecordRateLimitHit(r.URL.Path, scope)
	}
	rl.tooManyRequests(w)
}

// getIPLimiter returns or creates a rate limiter for the given IP.
func (rl *RateLimitMiddleware) getIPLimiter(ip string) *rate.Limiter {
	rl.mu.RLock()
	limiter, exists := rl.ipLimiters[ip]
	rl.mu.RUnlock()

	if exists {
		return limiter
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	// Double-check after acquiring write lock
	if limiter, exists = rl.ipLimiters[ip]; exists {
		return limiter
	}

	limiter = rate.NewLimiter(rate.Limit(rl.cfg.IPRPS), rl.cfg.IPBurst)
	rl.ipLimiters[ip] = limiter

	return limiter
}

// getClientIP extracts the client IP from the request.
func (rl *RateLimitMiddleware) getClientIP(r *http.Request) string {
	// Check X-Forwarded-For header (for proxies/load balancers)
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	ip := r.RemoteAddr
	if idx := strings.LastIndex(ip, ":"); idx != -1 {
		ip = ip[:idx]
	}
	return ip
}

// isAPIEndpoint returns true if the path serves analytics data.
func (rl *RateLimitMiddleware) isAPIEndpoint(path string) bool {
	return strings.HasPrefix(path, "/api/")
}

// tooManyRequests sends a 429 response.
func (rl *RateLimitMiddleware) tooManyRequests(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Retry-After", "1")
	w.WriteHeader(http.StatusTooManyRequests)
	w.Write([]byte(`{"status":"error","error":{"code":"rate_limited","message":"rate limit exceeded","retryable":true}}`))
}

// CleanupIPLimiters drops all per-IP limiters. Call periodically.
func (rl *RateLimitMiddleware) CleanupIPLimiters() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.ipLimiters = make(map[string]*rate.Limiter)
	rl.logger.Debug("cleaned up IP rate limiters")
}
