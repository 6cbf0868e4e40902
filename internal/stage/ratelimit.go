package stage

import (
	"context"
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"github.com/allaspectsdev/forkline/internal/pipeline"
)

// RateLimiter is a pipeline.Middleware that enforces a token-bucket limit,
// either globally or per client IP. Rejected requests receive 429 with a
// Retry-After header and never reach the rest of the chain.
type RateLimiter struct {
	limit  rate.Limit
	burst  int
	global *rate.Limiter
	// per-client buckets, bounded so idle clients are evicted
	clients *lru.Cache[string, *rate.Limiter]
}

// Compile-time assertion that RateLimiter implements pipeline.Middleware.
var _ pipeline.Middleware = (*RateLimiter)(nil)

// RateLimit returns a limiter shared by every request.
func RateLimit(limit rate.Limit, burst int) *RateLimiter {
	return &RateLimiter{
		limit:  limit,
		burst:  burst,
		global: rate.NewLimiter(limit, burst),
	}
}

// PerClientRateLimit returns a limiter keyed by client IP, tracking at most
// maxClients buckets.
func PerClientRateLimit(limit rate.Limit, burst, maxClients int) (*RateLimiter, error) {
	if maxClients <= 0 {
		maxClients = 10000
	}
	clients, err := lru.New[string, *rate.Limiter](maxClients)
	if err != nil {
		return nil, fmt.Errorf("ratelimit: creating LRU: %w", err)
	}
	return &RateLimiter{limit: limit, burst: burst, clients: clients}, nil
}

// Process implements pipeline.Middleware.
func (rl *RateLimiter) Process(ctx context.Context, req *pipeline.Request, next *pipeline.Next) (*pipeline.Response, error) {
	limiter := rl.limiterFor(req)

	res := limiter.Reserve()
	if !res.OK() {
		return tooManyRequests(1), nil
	}
	if delay := res.Delay(); delay > 0 {
		res.Cancel()
		return tooManyRequests(int(math.Ceil(delay.Seconds()))), nil
	}
	return next.Process(ctx, req)
}

func (rl *RateLimiter) limiterFor(req *pipeline.Request) *rate.Limiter {
	if rl.clients == nil {
		return rl.global
	}
	key := clientIP(req.RemoteAddr)
	if l, ok := rl.clients.Get(key); ok {
		return l
	}
	l := rate.NewLimiter(rl.limit, rl.burst)
	// Another request for the same client may have raced us; keep theirs.
	if prev, ok, _ := rl.clients.PeekOrAdd(key, l); ok {
		return prev
	}
	return l
}

func tooManyRequests(retryAfter int) *pipeline.Response {
	if retryAfter < 1 {
		retryAfter = 1
	}
	resp := pipeline.Text(http.StatusTooManyRequests, "Too Many Requests")
	resp.SetHeader("Retry-After", strconv.Itoa(retryAfter))
	return resp
}

func clientIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
