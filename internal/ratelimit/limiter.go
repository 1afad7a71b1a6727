// Package ratelimit provides per-client request rate limiting for the web
// dashboard.
package ratelimit

import (
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

type entry struct {
	limiter  *rate.Limiter
	lastSeen atomic.Int64 // unix nanos
}

// Limiter tracks per-client request rates using a token bucket algorithm.
type Limiter struct {
	rate    rate.Limit
	burst   int
	clients sync.Map // map[string]*entry

	stop     chan struct{}
	stopOnce sync.Once
}

// New creates a Limiter that allows r requests per second with the given burst size.
// A background goroutine evicts stale entries every 60 seconds.
// Call Stop to release resources.
func New(r float64, burst int) *Limiter {
	l := &Limiter{
		rate:  rate.Limit(r),
		burst: burst,
		stop:  make(chan struct{}),
	}
	go l.cleanup()
	return l
}

// Allow reports whether a request from the given client should be permitted.
func (l *Limiter) Allow(client string) bool {
	now := time.Now()
	v, ok := l.clients.Load(client)
	if !ok {
		e := &entry{limiter: rate.NewLimiter(l.rate, l.burst)}
		v, _ = l.clients.LoadOrStore(client, e)
	}
	e := v.(*entry)
	e.lastSeen.Store(now.UnixNano())
	return e.limiter.AllowN(now, 1)
}

// Stop terminates the background cleanup goroutine. It is safe to call more
// than once.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}

const staleAfter = 5 * time.Minute

func (l *Limiter) cleanup() {
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case now := <-ticker.C:
			l.evict(now)
		}
	}
}

func (l *Limiter) evict(now time.Time) {
	l.clients.Range(func(key, value any) bool {
		e := value.(*entry)
		if now.Sub(time.Unix(0, e.lastSeen.Load())) > staleAfter {
			l.clients.Delete(key)
		}
		return true
	})
}

// Middleware rejects requests over the limit with 429 Too Many Requests.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow(ClientIP(r)) {
			w.Header().Set("Retry-After", "1")
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ClientIP returns the IP portion of the request's remote address (strips the port).
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
