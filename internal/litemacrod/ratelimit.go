package litemacrod

import (
	"context"
	"sort"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Limit is a token bucket rate: RequestsPerSecond refill, BurstSize capacity.
type Limit struct {
	RequestsPerSecond float64
	BurstSize         int
}

// DefaultLimits are the per-method limits.
var DefaultLimits = map[string]Limit{
	// Reload rereads and compiles the macro file.
	FullMethod(MethodReload): {RequestsPerSecond: 1, BurstSize: 5},

	FullMethod(MethodExecute): {RequestsPerSecond: 50, BurstSize: 100},

	FullMethod(MethodListMacros):   {RequestsPerSecond: 100, BurstSize: 200},
	FullMethod(MethodListSessions): {RequestsPerSecond: 100, BurstSize: 200},
	FullMethod(MethodPing):         {RequestsPerSecond: 1000, BurstSize: 1000},

	// Counts new streams, not messages on them.
	FullMethod(MethodConnect): {RequestsPerSecond: 10, BurstSize: 20},
}

type bucket struct {
	mu      sync.Mutex
	limit   Limit
	tokens  float64
	updated time.Time
	total   int64
	denied  int64
}

func newBucket(limit Limit) *bucket {
	return &bucket{
		limit:   limit,
		tokens:  float64(limit.BurstSize),
		updated: time.Now(),
	}
}

// refill must be called with mu held.
func (b *bucket) refill(now time.Time) {
	b.tokens += now.Sub(b.updated).Seconds() * b.limit.RequestsPerSecond
	if capacity := float64(b.limit.BurstSize); b.tokens > capacity {
		b.tokens = capacity
	}
	b.updated = now
}

func (b *bucket) take() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.total++
	b.refill(time.Now())
	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	b.denied++
	return false
}

func (b *bucket) snapshot(method string) LimitStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill(time.Now())
	return LimitStats{
		Method:            method,
		Available:         b.tokens,
		RequestsPerSecond: b.limit.RequestsPerSecond,
		BurstSize:         b.limit.BurstSize,
		Total:             b.total,
		Denied:            b.denied,
	}
}

// LimitStats reports one bucket.
type LimitStats struct {
	Method            string
	Available         float64
	RequestsPerSecond float64
	BurstSize         int
	Total             int64
	Denied            int64
}

// RateLimiter applies a global limit and per-method limits to RPCs.
type RateLimiter struct {
	global  *bucket
	methods map[string]*bucket
}

// RateLimiterOption configures the RateLimiter.
type RateLimiterOption func(*RateLimiter)

// WithMethodLimit overrides or adds one method's limit.
func WithMethodLimit(method string, limit Limit) RateLimiterOption {
	return func(rl *RateLimiter) {
		rl.methods[method] = newBucket(limit)
	}
}

// WithGlobalLimit caps all RPCs together.
func WithGlobalLimit(limit Limit) RateLimiterOption {
	return func(rl *RateLimiter) {
		if limit.RequestsPerSecond > 0 && limit.BurstSize > 0 {
			rl.global = newBucket(limit)
		}
	}
}

// NewRateLimiter creates a limiter seeded with DefaultLimits.
func NewRateLimiter(opts ...RateLimiterOption) *RateLimiter {
	rl := &RateLimiter{methods: make(map[string]*bucket, len(DefaultLimits))}
	for method, limit := range DefaultLimits {
		rl.methods[method] = newBucket(limit)
	}
	for _, opt := range opts {
		opt(rl)
	}
	return rl
}

// Allow consumes a token for method. Methods without a limit only count
// against the global bucket.
func (rl *RateLimiter) Allow(method string) bool {
	if rl.global != nil && !rl.global.take() {
		return false
	}
	if b, ok := rl.methods[method]; ok {
		return b.take()
	}
	return true
}

// Stats returns per-method statistics sorted by method.
func (rl *RateLimiter) Stats() []LimitStats {
	out := make([]LimitStats, 0, len(rl.methods))
	for method, b := range rl.methods {
		out = append(out, b.snapshot(method))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Method < out[j].Method })
	return out
}

// GlobalStats returns the global bucket, or nil when there is none.
func (rl *RateLimiter) GlobalStats() *LimitStats {
	if rl.global == nil {
		return nil
	}
	stats := rl.global.snapshot("global")
	return &stats
}

// UnaryServerInterceptor rejects unary calls over the limit.
func (rl *RateLimiter) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if !rl.Allow(info.FullMethod) {
			return nil, status.Errorf(codes.ResourceExhausted, "rate limit exceeded for method %s", info.FullMethod)
		}
		return handler(ctx, req)
	}
}

// StreamServerInterceptor rejects new streams over the limit.
func (rl *RateLimiter) StreamServerInterceptor() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if !rl.Allow(info.FullMethod) {
			return status.Errorf(codes.ResourceExhausted, "rate limit exceeded for stream %s", info.FullMethod)
		}
		return handler(srv, ss)
	}
}
