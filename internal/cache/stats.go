package cache

import (
	"sort"
	"time"
)

// Stats is a point-in-time summary of the store
type Stats struct {
	Entries    int                        `json:"entries"`
	Hits       int64                      `json:"hits"`
	Misses     int64                      `json:"misses"`
	HitRate    float64                    `json:"hit_rate"`
	Categories map[Category]CategoryStats `json:"categories"`
}

// CategoryStats summarizes one category
type CategoryStats struct {
	Entries    int           `json:"entries"`
	Fresh      int           `json:"fresh"`
	Stale      int           `json:"stale"`
	TTL        time.Duration `json:"ttl"`
	OldestAge  time.Duration `json:"oldest_age"`
	AverageAge time.Duration `json:"average_age"`
}

// EntryInfo describes one entry for operator inspection
type EntryInfo struct {
	Key          string        `json:"key"`
	MarketKey    string        `json:"market_key,omitempty"`
	Category     Category      `json:"category"`
	Age          time.Duration `json:"age"`
	ExpiresIn    time.Duration `json:"expires_in"` // negative once stale
	HitCount     int           `json:"hit_count"`
	RefreshCount int           `json:"refresh_count"`
}

// Stats computes entry counts, hit rate and per-category ages
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	stats := Stats{
		Entries:    len(s.entries),
		Hits:       s.hits,
		Misses:     s.misses,
		Categories: make(map[Category]CategoryStats, len(s.ttls)),
	}
	if total := s.hits + s.misses; total > 0 {
		stats.HitRate = float64(s.hits) / float64(total)
	}

	totals := make(map[Category]time.Duration)
	for category, ttl := range s.ttls {
		stats.Categories[category] = CategoryStats{TTL: ttl}
	}
	for _, entry := range s.entries {
		cs := stats.Categories[entry.Category]
		age := now.Sub(entry.WrittenAt)
		cs.Entries++
		if s.isFresh(entry, now) {
			cs.Fresh++
		} else {
			cs.Stale++
		}
		if age > cs.OldestAge {
			cs.OldestAge = age
		}
		totals[entry.Category] += age
		stats.Categories[entry.Category] = cs
	}
	for category, cs := range stats.Categories {
		if cs.Entries > 0 {
			cs.AverageAge = totals[category] / time.Duration(cs.Entries)
			stats.Categories[category] = cs
		}
	}
	return stats
}

// Entries lists every entry with its age and remaining freshness, ordered by key
func (s *Store) Entries() []EntryInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	out := make([]EntryInfo, 0, len(s.entries))
	for _, entry := range s.entries {
		age := now.Sub(entry.WrittenAt)
		out = append(out, EntryInfo{
			Key:          entry.Key,
			MarketKey:    entry.MarketKey,
			Category:     entry.Category,
			Age:          age,
			ExpiresIn:    s.ttls[entry.Category] - age,
			HitCount:     entry.HitCount,
			RefreshCount: entry.RefreshCount,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// CountByCategory returns entry counts keyed by category name
func (s Stats) CountByCategory() map[string]int {
	out := make(map[string]int, len(s.Categories))
	for category, cs := range s.Categories {
		out[string(category)] = cs.Entries
	}
	return out
}
