// Package gateway provides ingest API gateway functionality, currently
// per-client rate limiting.
package gateway

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/watchtowerhq/watchtower/internal/config"
)

// Result is the outcome of one rate limit check.
type Result struct {
	Allowed    bool
	Remaining  int
	Limit      int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// BreachFunc is invoked once per rejected request so breaches can be
// recorded as security events. It must not block.
type BreachFunc func(r *http.Request, clientID string)

// RateLimiter enforces a fixed per-client requests/minute budget.
// Counters live in Redis when a client is provided, otherwise in
// process memory. A Redis failure fails open.
type RateLimiter struct {
	redis    *redis.Client
	logger   *zap.Logger
	cfg      config.GatewayConfig
	onBreach BreachFunc

	mu    sync.Mutex
	local map[string]*localWindow
}

type localWindow struct {
	count   int
	resetAt time.Time
}

// NewRateLimiter creates a rate limiter. redisClient may be nil.
func NewRateLimiter(redisClient *redis.Client, cfg config.GatewayConfig, onBreach BreachFunc, logger *zap.Logger) *RateLimiter {
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = 300
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RateLimiter{
		redis:    redisClient,
		logger:   logger,
		cfg:      cfg,
		onBreach: onBreach,
		local:    make(map[string]*localWindow),
	}
}

var incrScript = redis.NewScript(`
	local current = redis.call('INCR', KEYS[1])
	if current == 1 then
		redis.call('PEXPIRE', KEYS[1], ARGV[1])
	end
	return current
`)

// Check counts one request for clientID against the minute budget.
func (rl *RateLimiter) Check(ctx context.Context, clientID string) (*Result, error) {
	limit := rl.cfg.RequestsPerMinute
	now := time.Now()

	if rl.redis == nil {
		return rl.checkLocal(clientID, limit, now), nil
	}

	key := fmt.Sprintf("watchtower:ratelimit:%s:minute", clientID)
	current, err := incrScript.Run(ctx, rl.redis, []string{key}, 60000).Int()
	if err != nil {
		rl.logger.Warn("rate limit check failed, allowing request", zap.Error(err))
		return &Result{Allowed: true, Limit: limit, Remaining: limit}, nil
	}

	ttl, _ := rl.redis.TTL(ctx, key).Result()
	res := &Result{
		Allowed:   current <= limit,
		Limit:     limit,
		Remaining: max(limit-current, 0),
		ResetAt:   now.Add(ttl),
	}
	if !res.Allowed {
		res.RetryAfter = ttl
	}
	return res, nil
}

func (rl *RateLimiter) checkLocal(clientID string, limit int, now time.Time) *Result {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	w, ok := rl.local[clientID]
	if !ok || now.After(w.resetAt) {
		w = &localWindow{resetAt: now.Add(time.Minute)}
		rl.local[clientID] = w
	}
	w.count++

	res := &Result{
		Allowed:   w.count <= limit,
		Limit:     limit,
		Remaining: max(limit-w.count, 0),
		ResetAt:   w.resetAt,
	}
	if !res.Allowed {
		res.RetryAfter = time.Until(w.resetAt)
	}
	return res
}

// Middleware enforces the limit on every request it wraps. Disabled
// limiters pass requests straight through.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.cfg.Enabled {
			next.ServeHTTP(w, r)
			return
		}

		clientID := ClientIP(r)
		result, err := rl.Check(r.Context(), clientID)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))

		if !result.Allowed {
			if rl.onBreach != nil {
				rl.onBreach(r, clientID)
			}
			retry := int(result.RetryAfter.Seconds())
			w.Header().Set("Retry-After", strconv.Itoa(retry))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprintf(w, `{"error":"rate_limit_exceeded","retry_after":%d}`, retry)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// ClientIP extracts the originating client address, preferring proxy
// headers over the socket address.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return xff
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}
