// Package ratelimit enforces per-source request budgets: a daily cap that
// resets on the calendar date of a configured time zone, and a sliding
// one-hour window.
package ratelimit

import (
	"sort"
	"sync"
	"time"
)

// HourlyWindow is the sliding window of the hourly cap
const HourlyWindow = time.Hour

const dateLayout = "2006-01-02"

// Budget is a source's request allowance
type Budget struct {
	DailyCap  int `json:"daily_cap"`
	HourlyCap int `json:"hourly_cap"`
}

// Usage is a point-in-time view of one source's consumption
type Usage struct {
	SourceID       string    `json:"source_id"`
	DailyCount     int       `json:"daily_count"`
	DailyCap       int       `json:"daily_cap"`
	DailyResetDate string    `json:"daily_reset_date"`
	HourlyCount    int       `json:"hourly_count"`
	HourlyCap      int       `json:"hourly_cap"`
	TotalCalls     int64     `json:"total_calls"`
	Denied         int64     `json:"denied"`
	LastCallAt     time.Time `json:"last_call_at,omitempty"`
}

// state is one source's budget bookkeeping, guarded by its own mutex
type state struct {
	mu             sync.Mutex
	budget         Budget
	dailyCount     int
	dailyResetDate string
	hourly         []time.Time // ascending; replaced, never mutated in place
	totalCalls     int64
	denied         int64
	lastCallAt     time.Time
}

// Option configures a Limiter
type Option func(*Limiter)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// WithLocation sets the time zone whose calendar date drives daily resets
func WithLocation(loc *time.Location) Option {
	return func(l *Limiter) {
		if loc != nil {
			l.loc = loc
		}
	}
}

// Limiter tracks budgets for every configured source.
// The limiter-wide lock only guards the source map.
type Limiter struct {
	mu      sync.RWMutex
	sources map[string]*state
	now     func() time.Time
	loc     *time.Location
}

// NewLimiter creates a limiter with the given per-source budgets
func NewLimiter(budgets map[string]Budget, opts ...Option) *Limiter {
	l := &Limiter{
		sources: make(map[string]*state, len(budgets)),
		now:     time.Now,
		loc:     time.UTC,
	}
	for _, opt := range opts {
		opt(l)
	}
	for id, b := range budgets {
		l.sources[id] = &state{budget: b}
	}
	return l
}

// SetBudget adds a source or replaces its caps, keeping its counters
func (l *Limiter) SetBudget(sourceID string, b Budget) {
	l.mu.Lock()
	st, ok := l.sources[sourceID]
	if !ok {
		l.sources[sourceID] = &state{budget: b}
		l.mu.Unlock()
		return
	}
	l.mu.Unlock()

	st.mu.Lock()
	st.budget = b
	st.mu.Unlock()
}

// TryAcquire records one request for sourceID and returns true if the budget
// allows it. A denied attempt leaves the counters untouched. Unknown sources
// are always denied.
func (l *Limiter) TryAcquire(sourceID string) bool {
	l.mu.RLock()
	st, ok := l.sources[sourceID]
	l.mu.RUnlock()
	if !ok {
		return false
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	now := l.now()
	l.roll(st, now)

	if st.dailyCount >= st.budget.DailyCap || len(st.hourly) >= st.budget.HourlyCap {
		st.denied++
		return false
	}

	st.dailyCount++
	next := make([]time.Time, len(st.hourly), len(st.hourly)+1)
	copy(next, st.hourly)
	st.hourly = append(next, now)
	st.totalCalls++
	st.lastCallAt = now
	return true
}

// Usage returns a snapshot of every source's consumption
func (l *Limiter) Usage() map[string]Usage {
	l.mu.RLock()
	ids := make([]string, 0, len(l.sources))
	states := make([]*state, 0, len(l.sources))
	for id, st := range l.sources {
		ids = append(ids, id)
		states = append(states, st)
	}
	l.mu.RUnlock()

	now := l.now()
	out := make(map[string]Usage, len(ids))
	for i, st := range states {
		st.mu.Lock()
		l.roll(st, now)
		out[ids[i]] = Usage{
			SourceID:       ids[i],
			DailyCount:     st.dailyCount,
			DailyCap:       st.budget.DailyCap,
			DailyResetDate: st.dailyResetDate,
			HourlyCount:    len(st.hourly),
			HourlyCap:      st.budget.HourlyCap,
			TotalCalls:     st.totalCalls,
			Denied:         st.denied,
			LastCallAt:     st.lastCallAt,
		}
		st.mu.Unlock()
	}
	return out
}

// Sources returns the configured source IDs, sorted
func (l *Limiter) Sources() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	ids := make([]string, 0, len(l.sources))
	for id := range l.sources {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// roll resets the daily counter on a date change and prunes the hourly
// window; caller holds st.mu
func (l *Limiter) roll(st *state, now time.Time) {
	today := now.In(l.loc).Format(dateLayout)
	if st.dailyResetDate != today {
		st.dailyCount = 0
		st.dailyResetDate = today
	}

	cutoff := now.Add(-HourlyWindow)
	drop := 0
	for drop < len(st.hourly) && !st.hourly[drop].After(cutoff) {
		drop++
	}
	if drop > 0 {
		kept := make([]time.Time, len(st.hourly)-drop)
		copy(kept, st.hourly[drop:])
		st.hourly = kept
	}
}
