package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

// LoginLimiter throttles credential attempts per client IP with a token
// bucket. It guards only the login route; authenticated traffic is governed
// by the per-user store-backed limiter inside the dispatch pipeline.
type LoginLimiter struct {
	mu     sync.Mutex
	perIP  map[string]*rate.Limiter
	limit  rate.Limit
	burst  int
	perMin int
}

// NewLoginLimiter allows perMin attempts per minute with the given burst.
func NewLoginLimiter(perMin, burst int) *LoginLimiter {
	if perMin < 1 {
		perMin = 1
	}
	if burst < 1 {
		burst = perMin
	}
	return &LoginLimiter{
		perIP:  make(map[string]*rate.Limiter),
		limit:  rate.Limit(float64(perMin) / 60.0),
		burst:  burst,
		perMin: perMin,
	}
}

func (l *LoginLimiter) limiter(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if lim, ok := l.perIP[ip]; ok {
		return lim
	}
	lim := rate.NewLimiter(l.limit, l.burst)
	l.perIP[ip] = lim
	return lim
}

// Middleware rejects over-limit attempts with 429, Retry-After, and the
// X-RateLimit-Limit header before the password is ever checked.
func (l *LoginLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lim := l.limiter(ClientIP(r))
		reservation := lim.Reserve()
		if delay := reservation.Delay(); delay > 0 {
			reservation.Cancel()
			w.Header().Set("Retry-After", strconv.Itoa(int(delay.Seconds())+1))
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(l.perMin))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"RATE_LIMITED","message":"too many login attempts"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ClientIP resolves the caller address, preferring proxy headers so the
// limiter keys on the real client rather than the load balancer.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx > 0 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	addr := r.RemoteAddr
	if idx := strings.LastIndex(addr, ":"); idx >= 0 {
		addr = addr[:idx]
	}
	return addr
}
