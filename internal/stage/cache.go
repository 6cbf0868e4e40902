package stage

import (
	"context"
	"crypto/sha256"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/allaspectsdev/forkline/internal/pipeline"
)

// CacheHeader reports whether a response was served from the cache.
const CacheHeader = "X-Cache"

// cacheEntry is a stored copy of a successful response.
type cacheEntry struct {
	status    int
	header    http.Header
	body      []byte
	expiresAt time.Time
}

func (e *cacheEntry) expired(now time.Time) bool {
	return now.After(e.expiresAt)
}

// Cache is a pipeline.Middleware that keeps successful GET and HEAD responses
// in an in-memory LRU. A hit short-circuits the chain. Requests carrying an
// Authorization header bypass the cache entirely.
type Cache struct {
	memory *lru.Cache[string, *cacheEntry]
	ttl    time.Duration
	now    func() time.Time
	vary   []string
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// VaryOn adds request headers to the cache key. A response whose Vary header
// names a header outside this set, or is "*", is never stored.
func VaryOn(headers ...string) CacheOption {
	return func(c *Cache) {
		for _, h := range headers {
			name := http.CanonicalHeaderKey(strings.TrimSpace(h))
			if name != "" && !slices.Contains(c.vary, name) {
				c.vary = append(c.vary, name)
			}
		}
		slices.Sort(c.vary)
	}
}

// Compile-time assertion that Cache implements pipeline.Middleware.
var _ pipeline.Middleware = (*Cache)(nil)

// NewCache creates a Cache holding at most size entries for ttl each.
func NewCache(size int, ttl time.Duration, opts ...CacheOption) (*Cache, error) {
	if size <= 0 {
		size = 1000
	}
	memory, err := lru.New[string, *cacheEntry](size)
	if err != nil {
		return nil, fmt.Errorf("cache: creating LRU: %w", err)
	}
	c := &Cache{memory: memory, ttl: ttl, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Process implements pipeline.Middleware.
func (c *Cache) Process(ctx context.Context, req *pipeline.Request, next *pipeline.Next) (*pipeline.Response, error) {
	if !cacheable(req) {
		return next.Process(ctx, req)
	}

	key := c.cacheKey(req)
	if entry, ok := c.memory.Get(key); ok {
		if !entry.expired(c.now()) {
			resp := &pipeline.Response{
				StatusCode: entry.status,
				Header:     entry.header.Clone(),
				Body:       append([]byte(nil), entry.body...),
			}
			resp.SetHeader(CacheHeader, "HIT")
			return resp, nil
		}
		c.memory.Remove(key)
	}

	resp, err := next.Process(ctx, req)
	if err != nil || resp == nil {
		return resp, err
	}

	if c.storable(resp) {
		c.memory.Add(key, &cacheEntry{
			status:    resp.StatusCode,
			header:    resp.Header.Clone(),
			body:      append([]byte(nil), resp.Body...),
			expiresAt: c.now().Add(c.ttl),
		})
	}
	resp.SetHeader(CacheHeader, "MISS")
	return resp, nil
}

// Len returns the number of cached entries, including expired ones not yet
// evicted.
func (c *Cache) Len() int {
	return c.memory.Len()
}

// Purge drops every entry.
func (c *Cache) Purge() {
	c.memory.Purge()
}

func cacheable(req *pipeline.Request) bool {
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		return false
	}
	return req.Header.Get("Authorization") == ""
}

func (c *Cache) storable(resp *pipeline.Response) bool {
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false
	}
	cc := strings.ToLower(resp.Header.Get("Cache-Control"))
	if strings.Contains(cc, "no-store") || strings.Contains(cc, "private") {
		return false
	}
	for _, line := range resp.Header.Values("Vary") {
		for _, name := range strings.Split(line, ",") {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			if name == "*" || !slices.Contains(c.vary, http.CanonicalHeaderKey(name)) {
				return false
			}
		}
	}
	return true
}

// cacheKey computes a SHA-256 key from the method, host, path, query and
// the values of every VaryOn header.
func (c *Cache) cacheKey(req *pipeline.Request) string {
	h := sha256.New()
	h.Write([]byte(req.Method))
	h.Write([]byte{0})
	h.Write([]byte(req.Host))
	h.Write([]byte{0})
	h.Write([]byte(req.Path))
	h.Write([]byte{0})
	h.Write([]byte(req.RawQuery))
	for _, name := range c.vary {
		h.Write([]byte{0})
		h.Write([]byte(name))
		h.Write([]byte{'='})
		h.Write([]byte(strings.Join(req.Header.Values(name), ",")))
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}
