package enrichment

import (
	"context"
	"math"
	"sync"
	"time"
)

const (
	DefaultMinInterval = 60 * time.Second
	DefaultDailyLimit  = 50
)

// Clock returns the current time. Tests inject a fixed or stepping clock.
type Clock func() time.Time

// Denial reasons reported by Reserve.
const (
	DenyInterval = "min_interval"
	DenyDaily    = "daily_limit"
)

// Quota is the limiter state kept by a CounterStore.
type Quota struct {
	LastCallAt time.Time
	Day        string // YYYY-MM-DD in the limiter location
	Calls      int
}

// Reservation is the outcome of Reserve.
type Reservation struct {
	Allowed    bool
	Reason     string
	RetryAfter time.Duration
	DailyCalls int
}

// Status is a snapshot of the limiter for the status endpoint.
type Status struct {
	CanMakeCall          bool       `json:"canMakeCall"`
	DailyCalls           int        `json:"dailyCalls"`
	MaxDailyCalls        int        `json:"maxDailyCalls"`
	SecondsUntilNextCall int64      `json:"secondsUntilNextCall"`
	LastCallTime         *time.Time `json:"lastCallTime,omitempty"`
}

// Limiter spaces enrichment calls and caps them per day. A reservation is
// recorded before the call is made, so a failed call still counts.
type Limiter struct {
	mu          sync.Mutex
	store       CounterStore
	clock       Clock
	minInterval time.Duration
	dailyLimit  int
	loc         *time.Location
}

// NewLimiter returns a limiter over store. Zero values select the defaults:
// 60s spacing, 50 calls a day, time.Now and the local time zone.
func NewLimiter(store CounterStore, clock Clock, minInterval time.Duration, dailyLimit int, loc *time.Location) *Limiter {
	if clock == nil {
		clock = time.Now
	}
	if minInterval <= 0 {
		minInterval = DefaultMinInterval
	}
	if dailyLimit <= 0 {
		dailyLimit = DefaultDailyLimit
	}
	if loc == nil {
		loc = time.Local
	}
	if store == nil {
		store = NewMemoryStore()
	}
	return &Limiter{
		store:       store,
		clock:       clock,
		minInterval: minInterval,
		dailyLimit:  dailyLimit,
		loc:         loc,
	}
}

// Reserve checks both limits and, when they allow it, records a call at the
// current time.
func (l *Limiter) Reserve(ctx context.Context) (Reservation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	var res Reservation
	_, err := l.store.Update(ctx, func(q *Quota) bool {
		res = l.evaluate(*q, now)
		if !res.Allowed {
			return false
		}
		res.DailyCalls++
		q.Day = l.day(now)
		q.Calls = res.DailyCalls
		q.LastCallAt = now
		return true
	})
	if err != nil {
		return Reservation{}, err
	}
	return res, nil
}

// Status reports the limiter state without reserving anything.
func (l *Limiter) Status(ctx context.Context) (Status, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	q, err := l.store.Load(ctx)
	if err != nil {
		return Status{}, err
	}

	now := l.clock()
	res := l.evaluate(q, now)
	st := Status{
		CanMakeCall:   res.Allowed,
		DailyCalls:    res.DailyCalls,
		MaxDailyCalls: l.dailyLimit,
	}
	if !q.LastCallAt.IsZero() {
		last := q.LastCallAt
		st.LastCallTime = &last
		remaining := max(0, l.minInterval-now.Sub(q.LastCallAt))
		st.SecondsUntilNextCall = int64(math.Ceil(remaining.Seconds()))
	}
	return st, nil
}

// MaxDailyCalls returns the configured daily cap.
func (l *Limiter) MaxDailyCalls() int { return l.dailyLimit }

func (l *Limiter) evaluate(q Quota, now time.Time) Reservation {
	calls := q.Calls
	if q.Day != l.day(now) {
		calls = 0
	}

	res := Reservation{DailyCalls: calls}
	if calls >= l.dailyLimit {
		res.Reason = DenyDaily
		res.RetryAfter = l.untilTomorrow(now)
		return res
	}
	if !q.LastCallAt.IsZero() {
		if since := now.Sub(q.LastCallAt); since < l.minInterval {
			res.Reason = DenyInterval
			res.RetryAfter = l.minInterval - since
			return res
		}
	}
	res.Allowed = true
	return res
}

func (l *Limiter) day(t time.Time) string {
	return t.In(l.loc).Format(time.DateOnly)
}

func (l *Limiter) untilTomorrow(now time.Time) time.Duration {
	local := now.In(l.loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day()+1, 0, 0, 0, 0, l.loc)
	return midnight.Sub(now)
}
