package shield

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Rule defines a request budget over a sliding window.
type Rule struct {
	MaxRequests int
	Window      time.Duration
}

type bucket struct {
	mu      sync.Mutex
	count   int
	resetAt time.Time
}

// RateLimiter provides per-IP, per-endpoint rate limiting with static
// rules. A default rule covers every endpoint; overrides tighten or relax
// individual ones. Expired buckets are garbage collected in the background.
type RateLimiter struct {
	defaultRule Rule
	overrides   map[string]Rule // "METHOD /path"
	exclude     []string        // path prefixes never limited
	buckets     sync.Map
}

// LimiterOption configures a RateLimiter.
type LimiterOption func(*RateLimiter)

// WithOverride sets a per-endpoint rule, keyed "METHOD /path".
func WithOverride(endpoint string, rule Rule) LimiterOption {
	return func(rl *RateLimiter) { rl.overrides[endpoint] = rule }
}

// WithExclude skips rate limiting for paths under the given prefixes.
func WithExclude(prefixes ...string) LimiterOption {
	return func(rl *RateLimiter) { rl.exclude = append(rl.exclude, prefixes...) }
}

// NewRateLimiter creates a rate limiter with the given default rule.
// A zero MaxRequests disables the default rule; only overrides apply then.
func NewRateLimiter(defaultRule Rule, opts ...LimiterOption) *RateLimiter {
	rl := &RateLimiter{
		defaultRule: defaultRule,
		overrides:   make(map[string]Rule),
	}
	for _, o := range opts {
		o(rl)
	}
	return rl
}

// StartGC evicts expired buckets every 5 minutes until done is closed.
func (rl *RateLimiter) StartGC(done <-chan struct{}) {
	tick := time.NewTicker(5 * time.Minute)
	go func() {
		defer tick.Stop()
		for {
			select {
			case <-done:
				return
			case <-tick.C:
				rl.gc()
			}
		}
	}()
}

func (rl *RateLimiter) gc() {
	now := time.Now()
	rl.buckets.Range(func(key, value any) bool {
		b := value.(*bucket)
		b.mu.Lock()
		expired := now.After(b.resetAt)
		b.mu.Unlock()
		if expired {
			rl.buckets.Delete(key)
		}
		return true
	})
}

func (rl *RateLimiter) rule(endpoint string) (Rule, bool) {
	if r, ok := rl.overrides[endpoint]; ok {
		return r, r.MaxRequests > 0
	}
	return rl.defaultRule, rl.defaultRule.MaxRequests > 0
}

func (rl *RateLimiter) allow(ip, endpoint string) bool {
	cfg, enabled := rl.rule(endpoint)
	if !enabled {
		return true
	}

	key := ip + ":" + endpoint
	now := time.Now()

	val, loaded := rl.buckets.LoadOrStore(key, &bucket{
		count:   1,
		resetAt: now.Add(cfg.Window),
	})
	if !loaded {
		return true
	}

	b := val.(*bucket)
	b.mu.Lock()
	defer b.mu.Unlock()
	if now.After(b.resetAt) {
		b.count = 1
		b.resetAt = now.Add(cfg.Window)
		return true
	}
	b.count++
	return b.count <= cfg.MaxRequests
}

// Middleware enforces the rate limits, answering 429 with a JSON body.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, prefix := range rl.exclude {
			if strings.HasPrefix(r.URL.Path, prefix) {
				next.ServeHTTP(w, r)
				return
			}
		}

		endpoint := r.Method + " " + r.URL.Path
		ip := ExtractIP(r)

		if rl.allow(ip, endpoint) {
			next.ServeHTTP(w, r)
			return
		}

		slog.Warn("ratelimit: request blocked", "ip", ip, "endpoint", endpoint)

		cfg, _ := rl.rule(endpoint)
		w.Header().Set("Retry-After", strconv.Itoa(int(cfg.Window/time.Second)))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]string{
			"error": "rate limit exceeded",
		})
	})
}
