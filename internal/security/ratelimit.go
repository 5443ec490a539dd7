package security

import (
	"net/http"
	"sync"
	"time"
)

// RateLimiter implementa rate limiting com janela deslizante em memória
type RateLimiter struct {
	requests map[string][]time.Time
	mu       sync.Mutex
	limits   map[string]RateLimit
	now      func() time.Time
	audit    *AuditLogger
}

type RateLimit struct {
	MaxRequests int
	Window      time.Duration
}

// DefaultLimits cobre os endpoints que alteram sessões ou créditos
func DefaultLimits() map[string]RateLimit {
	return map[string]RateLimit{
		"start-session":      {MaxRequests: 10, Window: 1 * time.Minute},
		"submit-session":     {MaxRequests: 10, Window: 1 * time.Minute},
		"add-credits":        {MaxRequests: 20, Window: 1 * time.Minute},
		"verify-certificate": {MaxRequests: 30, Window: 1 * time.Minute},
	}
}

func NewRateLimiter(limits map[string]RateLimit, audit *AuditLogger) *RateLimiter {
	if limits == nil {
		limits = DefaultLimits()
	}
	return &RateLimiter{
		requests: make(map[string][]time.Time),
		limits:   limits,
		now:      time.Now,
		audit:    audit,
	}
}

// Allow registra a requisição da chave e verifica se cabe na janela do endpoint
func (rl *RateLimiter) Allow(key, endpoint string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	limit, exists := rl.limits[endpoint]
	if !exists {
		return true
	}

	now := rl.now()
	windowStart := now.Add(-limit.Window)

	valid := rl.requests[key][:0]
	for _, t := range rl.requests[key] {
		if t.After(windowStart) {
			valid = append(valid, t)
		}
	}
	if len(valid) >= limit.MaxRequests {
		rl.requests[key] = valid
		return false
	}
	rl.requests[key] = append(valid, now)
	return true
}

// Sweep remove chaves sem requisições dentro da maior janela configurada
func (rl *RateLimiter) Sweep() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	var longest time.Duration
	for _, l := range rl.limits {
		if l.Window > longest {
			longest = l.Window
		}
	}
	cutoff := rl.now().Add(-longest)
	for key, reqs := range rl.requests {
		if len(reqs) == 0 || !reqs[len(reqs)-1].After(cutoff) {
			delete(rl.requests, key)
		}
	}
}

// Middleware limita por usuário autenticado quando houver, senão pelo IP do cliente
func (rl *RateLimiter) Middleware(endpoint string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		subject, _ := r.Context().Value(UserIDKey).(string)
		if subject == "" {
			subject = clientIP(r)
		}
		key := subject + ":" + endpoint

		if !rl.Allow(key, endpoint) {
			if rl.audit != nil {
				rl.audit.LogRateLimit(endpoint, key)
			}
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", "60")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error": "too many requests, try again later"}`))
			return
		}
		next(w, r)
	}
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return forwarded
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	return r.RemoteAddr
}
