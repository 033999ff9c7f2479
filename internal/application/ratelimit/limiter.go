// Package ratelimit applies per-tenant and per-recipient token buckets
// at minute, hour and day windows. The limiter is process-local and sits
// at the orchestrator's admission boundary: nothing is enqueued without
// tokens in every referenced bucket.
package ratelimit

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/notifyx/notifyx/internal/domain"
)

// Window names a limiting window.
type Window string

const (
	WindowMinute Window = "minute"
	WindowHour   Window = "hour"
	WindowDay    Window = "day"
)

// Windows lists all limiting windows.
var Windows = []Window{WindowMinute, WindowHour, WindowDay}

func (w Window) duration() time.Duration {
	switch w {
	case WindowMinute:
		return time.Minute
	case WindowHour:
		return time.Hour
	case WindowDay:
		return 24 * time.Hour
	default:
		return time.Minute
	}
}

// Limits holds the per-window capacities for one scope. A zero capacity
// disables that window.
type Limits struct {
	PerMinute int `json:"per_minute"`
	PerHour   int `json:"per_hour"`
	PerDay    int `json:"per_day"`
}

func (l Limits) capacity(w Window) int {
	switch w {
	case WindowMinute:
		return l.PerMinute
	case WindowHour:
		return l.PerHour
	case WindowDay:
		return l.PerDay
	default:
		return 0
	}
}

// Config holds limiter configuration.
type Config struct {
	Enabled   bool   `json:"enabled"`
	Tenant    Limits `json:"tenant"`
	Recipient Limits `json:"recipient"`
}

// DefaultConfig returns default limiter configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:   true,
		Tenant:    Limits{PerMinute: 600, PerHour: 10000, PerDay: 100000},
		Recipient: Limits{PerMinute: 10, PerHour: 100, PerDay: 500},
	}
}

// Key identifies one bucket group: a tenant, or a recipient within a
// tenant when RecipientID is set.
type Key struct {
	TenantID    string
	RecipientID string
}

type bucketSet struct {
	buckets map[Window]*rate.Limiter
}

// Limiter is a token-bucket rate limiter keyed by (tenant) and
// (tenant, recipient) across minute/hour/day windows. Acquisition is
// all-or-nothing: either every referenced bucket yields a token or none
// is consumed.
type Limiter struct {
	mu     sync.Mutex
	sets   map[Key]*bucketSet
	config Config

	allowed  atomic.Int64
	rejected atomic.Int64
}

// New creates a limiter from config.
func New(config Config) *Limiter {
	return &Limiter{
		sets:   make(map[Key]*bucketSet),
		config: config,
	}
}

func (l *Limiter) limitsFor(key Key) Limits {
	if key.RecipientID != "" {
		return l.config.Recipient
	}
	return l.config.Tenant
}

// set returns the bucket set for a key, creating it on first use.
// Callers must hold l.mu.
func (l *Limiter) set(key Key) *bucketSet {
	if s, ok := l.sets[key]; ok {
		return s
	}
	limits := l.limitsFor(key)
	s := &bucketSet{buckets: make(map[Window]*rate.Limiter, len(Windows))}
	for _, w := range Windows {
		capacity := limits.capacity(w)
		if capacity <= 0 {
			continue
		}
		// Refill spreads the window's capacity evenly across its duration;
		// the burst equals the capacity so a fresh bucket admits a full
		// window at once.
		refill := rate.Limit(float64(capacity) / w.duration().Seconds())
		s.buckets[w] = rate.NewLimiter(refill, capacity)
	}
	l.sets[key] = s
	return s
}

// TryAcquire consumes one token from every bucket referenced by keys.
// It returns true only if all buckets had a token; on failure no token
// is consumed anywhere.
func (l *Limiter) TryAcquire(keys ...Key) bool {
	if !l.config.Enabled || len(keys) == 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	type claim struct {
		bucket *rate.Limiter
		res    *rate.Reservation
	}
	var claims []claim
	ok := true
	now := time.Now()

	for _, key := range keys {
		s := l.set(key)
		for _, w := range Windows {
			bucket, exists := s.buckets[w]
			if !exists {
				continue
			}
			res := bucket.ReserveN(now, 1)
			if !res.OK() || res.DelayFrom(now) > 0 {
				res.CancelAt(now)
				ok = false
				break
			}
			claims = append(claims, claim{bucket: bucket, res: res})
		}
		if !ok {
			break
		}
	}

	if !ok {
		// All-or-nothing: hand back every token already claimed.
		for _, c := range claims {
			c.res.CancelAt(now)
		}
		l.rejected.Add(1)
		return false
	}

	l.allowed.Add(1)
	return true
}

// Check is like TryAcquire for a single event admission: it builds the
// tenant key plus one recipient key per target and acquires atomically.
// On rejection it returns a RateLimitedError naming the scope.
func (l *Limiter) Check(tenantID string, recipientIDs []string) error {
	keys := make([]Key, 0, 1+len(recipientIDs))
	keys = append(keys, Key{TenantID: tenantID})
	for _, id := range recipientIDs {
		keys = append(keys, Key{TenantID: tenantID, RecipientID: id})
	}
	if l.TryAcquire(keys...) {
		return nil
	}
	scope := "tenant"
	if len(recipientIDs) > 0 {
		scope = "tenant+recipient"
	}
	return domain.NewRateLimitedError(tenantID, scope)
}

// StatsSnapshot reports limiter counters.
type StatsSnapshot struct {
	Allowed  int64 `json:"allowed"`
	Rejected int64 `json:"rejected"`
}

// Stats returns a consistent copy of the limiter counters.
func (l *Limiter) Stats() StatsSnapshot {
	return StatsSnapshot{
		Allowed:  l.allowed.Load(),
		Rejected: l.rejected.Load(),
	}
}
