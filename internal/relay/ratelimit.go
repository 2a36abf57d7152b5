package relay

import (
	"net"
	"net/http"
	"sync"

	"golang.org/x/time/rate"
)

// Credential-guessing protection on the auth endpoints.
const (
	authRatePerMinute = 10
	authBurst         = 5
)

// ipLimiter keeps one token bucket per remote IP.
type ipLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rateVal  rate.Limit
	burst    int
}

func newIPLimiter(perMinute float64, burst int) *ipLimiter {
	return &ipLimiter{
		limiters: make(map[string]*rate.Limiter),
		rateVal:  rate.Limit(perMinute / 60),
		burst:    burst,
	}
}

func (l *ipLimiter) allow(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	l.mu.Lock()
	lim, ok := l.limiters[host]
	if !ok {
		lim = rate.NewLimiter(l.rateVal, l.burst)
		l.limiters[host] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}

// checkAuthRate writes 429 and returns false when the caller's IP is over the
// auth-endpoint budget.
func (s *Server) checkAuthRate(w http.ResponseWriter, r *http.Request) bool {
	if s.authLimiter.allow(r.RemoteAddr) {
		return true
	}
	writeError(w, http.StatusTooManyRequests, "too many attempts, slow down")
	return false
}
