package httpapi

import (
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type keyLimiter struct {
	lim *rate.Limiter
	ts  time.Time
}

// limiter hands out one token bucket per caller and forgets idle callers.
type limiter struct {
	mu   sync.Mutex
	m    map[string]*keyLimiter
	r    rate.Limit
	b    int
	ttl  time.Duration
	stop chan struct{}
	once sync.Once
}

func newLimiter(r rate.Limit, burst int, ttl time.Duration) *limiter {
	return &limiter{m: make(map[string]*keyLimiter), r: r, b: burst, ttl: ttl, stop: make(chan struct{})}
}

func (l *limiter) allow(key string) bool {
	l.mu.Lock()
	kl, ok := l.m[key]
	if !ok {
		kl = &keyLimiter{lim: rate.NewLimiter(l.r, l.b)}
		l.m[key] = kl
	}
	kl.ts = time.Now()
	l.mu.Unlock()
	return kl.lim.Allow()
}

func (l *limiter) gc(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.sweep(time.Now())
		}
	}
}

func (l *limiter) sweep(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for k, v := range l.m {
		if now.Sub(v.ts) > l.ttl {
			delete(l.m, k)
		}
	}
}

func (l *limiter) close() {
	l.once.Do(func() { close(l.stop) })
}

func clientIP(remote net.Addr) string {
	if remote == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(remote.String())
	if err != nil {
		return remote.String()
	}
	return host
}
