package websocket

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"
)

const (
	rateLimiterIdleTTL    = 10 * time.Minute
	rateLimiterSweepEvery = 5 * time.Minute
)

// LimitReason describes why a handshake was rejected before upgrade.
type LimitReason string

const (
	LimitReasonGlobal LimitReason = "global_limit"
	LimitReasonPerIP  LimitReason = "per_ip_limit"
	LimitReasonRate   LimitReason = "rate_limit"
)

type LimitsConfig struct {
	MaxConnections       int
	MaxPerIP             int
	ConnectionsPerSecond float64
	Burst                int
}

// ConnectionLimits caps concurrent streaming connections per instance and
// per client IP, and throttles how fast one IP may open new ones.
type ConnectionLimits struct {
	clock    clockwork.Clock
	max      int64
	maxPerIP int
	rate     rate.Limit
	burst    int

	current atomic.Int64

	mu        sync.Mutex
	perIP     map[string]int
	limiters  map[string]*ipLimiter
	nextSweep time.Time
}

type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewConnectionLimits(cfg LimitsConfig, clock clockwork.Clock) *ConnectionLimits {
	return &ConnectionLimits{
		clock:     clock,
		max:       int64(cfg.MaxConnections),
		maxPerIP:  cfg.MaxPerIP,
		rate:      rate.Limit(cfg.ConnectionsPerSecond),
		burst:     cfg.Burst,
		perIP:     make(map[string]int),
		limiters:  make(map[string]*ipLimiter),
		nextSweep: clock.Now().Add(rateLimiterSweepEvery),
	}
}

// Acquire reserves a slot for ip. On success the caller must Release it.
func (l *ConnectionLimits) Acquire(ip string) (bool, LimitReason) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	if !l.allowRate(ip, now) {
		return false, LimitReasonRate
	}

	if l.current.Load() >= l.max {
		return false, LimitReasonGlobal
	}
	if l.perIP[ip] >= l.maxPerIP {
		return false, LimitReasonPerIP
	}

	l.current.Add(1)
	l.perIP[ip]++
	return true, ""
}

func (l *ConnectionLimits) Release(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	count, ok := l.perIP[ip]
	if !ok {
		return
	}
	if count <= 1 {
		delete(l.perIP, ip)
	} else {
		l.perIP[ip] = count - 1
	}
	l.current.Add(-1)
}

func (l *ConnectionLimits) Current() int64 {
	return l.current.Load()
}

func (l *ConnectionLimits) Max() int64 {
	return l.max
}

// CountForIP returns the open connections held by ip.
func (l *ConnectionLimits) CountForIP(ip string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.perIP[ip]
}

// allowRate must be called with mu held.
func (l *ConnectionLimits) allowRate(ip string, now time.Time) bool {
	if now.After(l.nextSweep) {
		cutoff := now.Add(-rateLimiterIdleTTL)
		for key, entry := range l.limiters {
			if entry.lastSeen.Before(cutoff) {
				delete(l.limiters, key)
			}
		}
		l.nextSweep = now.Add(rateLimiterSweepEvery)
	}

	entry, ok := l.limiters[ip]
	if !ok {
		entry = &ipLimiter{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.limiters[ip] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}
