// Package cache holds the keyed TTL store shared by pollers, the aggregator
// and the query layer. Freshness is per category; entries past their TTL stay
// readable (flagged stale) until a sweep removes them after MaxAge.
package cache

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/XavierBriggs/Delphi/internal/metrics"
)

// Category selects the freshness window of an entry
type Category string

const (
	CategoryProps     Category = "props"
	CategoryGames     Category = "games"
	CategoryOdds      Category = "odds"
	CategorySnapshots Category = "snapshots"
)

// DefaultMaxAge is the age past which a sweep deletes an entry
const DefaultMaxAge = 24 * time.Hour

// DefaultTTLs returns the reference freshness windows
func DefaultTTLs() map[Category]time.Duration {
	return map[Category]time.Duration{
		CategoryProps:     15 * time.Minute,
		CategoryGames:     30 * time.Minute,
		CategoryOdds:      5 * time.Minute,
		CategorySnapshots: 30 * time.Second,
	}
}

// Config configures a Store
type Config struct {
	TTLs   map[Category]time.Duration // merged over DefaultTTLs
	MaxAge time.Duration              // DefaultMaxAge when zero
}

// Entry is one cached value plus its bookkeeping
type Entry struct {
	Key          string
	MarketKey    string
	Payload      any
	Category     Category
	WrittenAt    time.Time
	LastAccessAt time.Time
	HitCount     int
	RefreshCount int
}

// Item is a read-only view of an entry returned by Collect and Scan
type Item struct {
	Key       string
	MarketKey string
	Payload   any
	Category  Category
	WrittenAt time.Time
	Fresh     bool
}

// Option configures a Store
type Option func(*Store)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// Store is a concurrency-safe TTL cache. One mutex serializes every mutation,
// hit accounting included, so readers never observe a half-written entry.
// Payloads must be treated as immutable once stored.
type Store struct {
	mu       sync.Mutex
	entries  map[string]*Entry
	byMarket map[string]map[string]struct{}
	ttls     map[Category]time.Duration
	maxAge   time.Duration
	now      func() time.Time

	hits   int64
	misses int64
}

// NewStore creates a store
func NewStore(cfg Config, opts ...Option) (*Store, error) {
	ttls := DefaultTTLs()
	for category, ttl := range cfg.TTLs {
		ttls[category] = ttl
	}
	for category, ttl := range ttls {
		if ttl <= 0 {
			return nil, fmt.Errorf("%w: %s=%s", ErrInvalidTTL, category, ttl)
		}
	}

	maxAge := cfg.MaxAge
	if maxAge == 0 {
		maxAge = DefaultMaxAge
	}
	if maxAge < 0 {
		return nil, fmt.Errorf("%w: max age %s", ErrInvalidTTL, maxAge)
	}

	s := &Store{
		entries:  make(map[string]*Entry),
		byMarket: make(map[string]map[string]struct{}),
		ttls:     ttls,
		maxAge:   maxAge,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Get returns the payload stored under key and whether it is still within
// its category TTL. A found entry has its hit count and access time updated.
func (s *Store) Get(key string) (payload any, fresh bool, found bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		s.misses++
		metrics.RecordCacheLookup(false, false)
		return nil, false, false
	}

	now := s.now()
	entry.HitCount++
	entry.LastAccessAt = now
	s.hits++

	fresh = s.isFresh(entry, now)
	metrics.RecordCacheLookup(true, fresh)
	return entry.Payload, fresh, true
}

// Put stores payload under key, replacing any previous entry. marketKey may be
// empty for entries that do not belong to a single market.
func (s *Store) Put(key, marketKey string, payload any, category Category) error {
	if _, ok := s.ttls[category]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownCategory, category)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	entry := &Entry{
		Key:          key,
		MarketKey:    marketKey,
		Payload:      payload,
		Category:     category,
		WrittenAt:    now,
		LastAccessAt: now,
	}

	if prev, ok := s.entries[key]; ok {
		entry.RefreshCount = prev.RefreshCount + 1
		entry.HitCount = prev.HitCount
		if prev.MarketKey != marketKey {
			s.unindex(prev)
		}
	}

	s.entries[key] = entry
	if marketKey != "" {
		keys, ok := s.byMarket[marketKey]
		if !ok {
			keys = make(map[string]struct{})
			s.byMarket[marketKey] = keys
		}
		keys[key] = struct{}{}
	}
	return nil
}

// Sweep deletes every entry older than MaxAge and returns how many were removed
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for key, entry := range s.entries {
		if now.Sub(entry.WrittenAt) > s.maxAge {
			s.unindex(entry)
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}

// Collect returns every entry indexed under marketKey, optionally restricted
// to the given categories, ordered by key. Hit accounting is not touched.
func (s *Store) Collect(marketKey string, categories ...Category) []Item {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := s.byMarket[marketKey]
	if len(keys) == 0 {
		return nil
	}

	now := s.now()
	items := make([]Item, 0, len(keys))
	for key := range keys {
		entry := s.entries[key]
		if entry == nil || !matches(entry.Category, categories) {
			continue
		}
		items = append(items, s.item(entry, now))
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Key < items[j].Key })
	return items
}

// Scan returns every entry of a category ordered by key without hit accounting
func (s *Store) Scan(category Category) []Item {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var items []Item
	for _, entry := range s.entries {
		if entry.Category == category {
			items = append(items, s.item(entry, now))
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Key < items[j].Key })
	return items
}

// Clear removes every entry and resets hit counters. Returns the number removed.
func (s *Store) Clear() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.entries)
	s.entries = make(map[string]*Entry)
	s.byMarket = make(map[string]map[string]struct{})
	s.hits = 0
	s.misses = 0
	return n
}

// Len returns the number of entries
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// MarketKeys returns every market key with at least one entry, sorted
func (s *Store) MarketKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.byMarket))
	for k := range s.byMarket {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// TTLs returns a copy of the category TTL table
func (s *Store) TTLs() map[Category]time.Duration {
	out := make(map[Category]time.Duration, len(s.ttls))
	for k, v := range s.ttls {
		out[k] = v
	}
	return out
}

// MaxAge returns the sweep threshold
func (s *Store) MaxAge() time.Duration {
	return s.maxAge
}

func (s *Store) isFresh(entry *Entry, now time.Time) bool {
	return now.Sub(entry.WrittenAt) < s.ttls[entry.Category]
}

func (s *Store) item(entry *Entry, now time.Time) Item {
	return Item{
		Key:       entry.Key,
		MarketKey: entry.MarketKey,
		Payload:   entry.Payload,
		Category:  entry.Category,
		WrittenAt: entry.WrittenAt,
		Fresh:     s.isFresh(entry, now),
	}
}

// unindex removes entry from the market index; caller holds s.mu
func (s *Store) unindex(entry *Entry) {
	if entry.MarketKey == "" {
		return
	}
	keys := s.byMarket[entry.MarketKey]
	delete(keys, entry.Key)
	if len(keys) == 0 {
		delete(s.byMarket, entry.MarketKey)
	}
}

func matches(c Category, categories []Category) bool {
	if len(categories) == 0 {
		return true
	}
	for _, want := range categories {
		if c == want {
			return true
		}
	}
	return false
}
