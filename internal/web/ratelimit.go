package web

import (
	"net"
	"net/http"
	"strconv"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"clinicweb/internal/config"
	appLog "clinicweb/internal/log"
)

// clientLimiter throttles requests per client address. The table of
// limiters is an LRU so a flood of distinct addresses cannot grow it
// without bound.
type clientLimiter struct {
	limit rate.Limit
	burst int

	mu      sync.Mutex
	clients *lru.Cache[string, *rate.Limiter]
}

func newClientLimiter(cfg config.RateLimitConfig) (*clientLimiter, error) {
	size := cfg.MaxClients
	if size <= 0 {
		size = 1024
	}
	cache, err := lru.New[string, *rate.Limiter](size)
	if err != nil {
		return nil, err
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &clientLimiter{
		limit:   rate.Limit(cfg.RPS),
		burst:   burst,
		clients: cache,
	}, nil
}

// Allow consumes one token for key.
func (l *clientLimiter) Allow(key string) bool {
	l.mu.Lock()
	lim, ok := l.clients.Get(key)
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.clients.Add(key, lim)
	}
	l.mu.Unlock()
	return lim.Allow()
}

// retryAfter is the whole number of seconds until one token is available.
func (l *clientLimiter) retryAfter() int {
	if l.limit <= 0 {
		return 60
	}
	secs := int(1/float64(l.limit) + 0.999)
	if secs < 1 {
		secs = 1
	}
	return secs
}

// wrap rejects over-limit requests with 429 and calls deny to render the
// response body.
func (l *clientLimiter) wrap(next http.HandlerFunc, deny func(http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := clientIP(r)
		if !l.Allow(key) {
			appLog.Info("rate limited", "client", key, "path", r.URL.Path)
			w.Header().Set("Retry-After", strconv.Itoa(l.retryAfter()))
			deny(w, r)
			return
		}
		next(w, r)
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
