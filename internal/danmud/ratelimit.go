package danmud

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// RateLimitConfig defines rate limits for a specific method or globally.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustainable rate.
	RequestsPerSecond float64

	// BurstSize is the maximum number of requests allowed in a burst.
	BurstSize int
}

// DefaultRateLimits provides defaults per RPC.
var DefaultRateLimits = map[string]RateLimitConfig{
	// Comment injection is the only call that drives the actuator.
	MethodInject: {RequestsPerSecond: 20, BurstSize: 40},

	MethodStatus: {RequestsPerSecond: 100, BurstSize: 200},
	MethodPing:   {RequestsPerSecond: 1000, BurstSize: 1000},
}

type methodLimiter struct {
	limiter  *rate.Limiter
	requests atomic.Int64
	denied   atomic.Int64
}

func newMethodLimiter(cfg RateLimitConfig) *methodLimiter {
	return &methodLimiter{limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.BurstSize)}
}

func (m *methodLimiter) allow() bool {
	m.requests.Add(1)
	if m.limiter.Allow() {
		return true
	}
	m.denied.Add(1)
	return false
}

// RateLimiter manages rate limits for multiple methods.
type RateLimiter struct {
	mu       sync.RWMutex
	limiters map[string]*methodLimiter
	configs  map[string]RateLimitConfig

	global       *methodLimiter
	globalConfig *RateLimitConfig

	enabled bool
}

// RateLimiterOption configures the RateLimiter.
type RateLimiterOption func(*RateLimiter)

// WithMethodLimits sets custom limits for specific methods.
func WithMethodLimits(limits map[string]RateLimitConfig) RateLimiterOption {
	return func(rl *RateLimiter) {
		for method, cfg := range limits {
			rl.configs[method] = cfg
		}
	}
}

// WithGlobalLimit sets a limit applied to all methods.
func WithGlobalLimit(cfg RateLimitConfig) RateLimiterOption {
	return func(rl *RateLimiter) {
		rl.globalConfig = &cfg
		rl.global = newMethodLimiter(cfg)
	}
}

// WithEnabled enables or disables rate limiting.
func WithEnabled(enabled bool) RateLimiterOption {
	return func(rl *RateLimiter) {
		rl.enabled = enabled
	}
}

// NewRateLimiter creates a rate limiter with the default limits and opts.
func NewRateLimiter(opts ...RateLimiterOption) *RateLimiter {
	rl := &RateLimiter{
		limiters: make(map[string]*methodLimiter),
		configs:  make(map[string]RateLimitConfig),
		enabled:  true,
	}
	for method, cfg := range DefaultRateLimits {
		rl.configs[method] = cfg
	}
	for _, opt := range opts {
		opt(rl)
	}
	return rl
}

// Allow checks if a request to the given method is allowed.
func (rl *RateLimiter) Allow(method string) bool {
	if !rl.IsEnabled() {
		return true
	}
	if rl.global != nil && !rl.global.allow() {
		return false
	}

	limiter := rl.limiterFor(method)
	if limiter == nil {
		return true
	}
	return limiter.allow()
}

func (rl *RateLimiter) limiterFor(method string) *methodLimiter {
	rl.mu.RLock()
	limiter, ok := rl.limiters[method]
	rl.mu.RUnlock()
	if ok {
		return limiter
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if limiter, ok = rl.limiters[method]; ok {
		return limiter
	}
	cfg, ok := rl.configs[method]
	if !ok {
		return nil
	}
	limiter = newMethodLimiter(cfg)
	rl.limiters[method] = limiter
	return limiter
}

// MethodStats reports limiter usage for one method.
type MethodStats struct {
	Method         string
	Available      float64
	RequestsPerSec float64
	BurstSize      int
	TotalRequests  int64
	DeniedRequests int64
}

// Stats returns statistics for all configured methods.
func (rl *RateLimiter) Stats() []MethodStats {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	stats := make([]MethodStats, 0, len(rl.configs))
	for method, cfg := range rl.configs {
		ms := MethodStats{
			Method:         method,
			RequestsPerSec: cfg.RequestsPerSecond,
			BurstSize:      cfg.BurstSize,
			Available:      float64(cfg.BurstSize),
		}
		if limiter, ok := rl.limiters[method]; ok {
			ms.Available = limiter.limiter.Tokens()
			ms.TotalRequests = limiter.requests.Load()
			ms.DeniedRequests = limiter.denied.Load()
		}
		stats = append(stats, ms)
	}
	return stats
}

// GlobalStats returns statistics for the global limit, if set.
func (rl *RateLimiter) GlobalStats() *MethodStats {
	if rl.global == nil || rl.globalConfig == nil {
		return nil
	}
	return &MethodStats{
		Method:         "global",
		Available:      rl.global.limiter.Tokens(),
		RequestsPerSec: rl.globalConfig.RequestsPerSecond,
		BurstSize:      rl.globalConfig.BurstSize,
		TotalRequests:  rl.global.requests.Load(),
		DeniedRequests: rl.global.denied.Load(),
	}
}

// SetEnabled enables or disables rate limiting at runtime.
func (rl *RateLimiter) SetEnabled(enabled bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.enabled = enabled
}

// IsEnabled returns whether rate limiting is enabled.
func (rl *RateLimiter) IsEnabled() bool {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return rl.enabled
}

// UnaryServerInterceptor returns a gRPC unary interceptor that applies rate limiting.
func (rl *RateLimiter) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		if !rl.Allow(info.FullMethod) {
			return nil, status.Errorf(codes.ResourceExhausted,
				"rate limit exceeded for method %s", info.FullMethod)
		}
		return handler(ctx, req)
	}
}
