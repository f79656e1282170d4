package api

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"logwarden/metrics"

	"github.com/gorilla/mux"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

// defaultMaxRateLimitClients bounds the limiter cache when the config leaves it unset.
const defaultMaxRateLimitClients = 10000

// clientLimiters hands out one token bucket per client. The least recently
// seen client is evicted once the cache is full; its bucket restarts full.
type clientLimiters struct {
	cache *lru.Cache[string, *rate.Limiter]
	limit rate.Limit
	burst int
}

func newClientLimiters(rps float64, burst, maxClients int) *clientLimiters {
	if maxClients <= 0 {
		maxClients = defaultMaxRateLimitClients
	}
	// lru.New only fails on a non-positive size.
	cache, _ := lru.New[string, *rate.Limiter](maxClients)
	return &clientLimiters{cache: cache, limit: rate.Limit(rps), burst: burst}
}

func (c *clientLimiters) get(client string) *rate.Limiter {
	if l, ok := c.cache.Get(client); ok {
		return l
	}
	fresh := rate.NewLimiter(c.limit, c.burst)
	if prev, ok, _ := c.cache.PeekOrAdd(client, fresh); ok {
		return prev
	}
	return fresh
}

func (a *API) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.limiters.get(a.clientIP(r)).Allow() {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "Too many requests", nil, "", a.logger)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *API) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" && a.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *API) originAllowed(origin string) bool {
	for _, allowed := range a.config.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// accessLogMiddleware records one debug line and one counter sample per
// request, labelled by route template so ids do not explode cardinality.
func (a *API) accessLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := "unmatched"
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		metrics.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		a.logger.Debugw("HTTP request",
			"method", r.Method,
			"route", route,
			"status", rec.status,
			"duration", time.Since(start),
			"client", a.clientIP(r))
	})
}

// clientIP returns the rate-limit key for r. Forwarded headers are honoured
// only when the direct peer is a trusted proxy.
func (a *API) clientIP(r *http.Request) string {
	peer, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		peer = r.RemoteAddr
	}
	if !a.config.TrustProxy || !inNetworks(peer, a.config.TrustedProxyNetworks) {
		return peer
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); net.ParseIP(ip) != nil {
			return ip
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); net.ParseIP(xri) != nil {
		return xri
	}
	return peer
}

// inNetworks reports whether ip is one of networks, given as CIDRs or bare addresses.
func inNetworks(ip string, networks []string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	for _, n := range networks {
		if _, ipNet, err := net.ParseCIDR(n); err == nil {
			if ipNet.Contains(parsed) {
				return true
			}
			continue
		}
		if other := net.ParseIP(n); other != nil && other.Equal(parsed) {
			return true
		}
	}
	return false
}
