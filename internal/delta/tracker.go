package delta

import (
	"sort"
	"sync"
	"time"

	"github.com/XavierBriggs/Delphi/pkg/models"
	"github.com/shopspring/decimal"
)

// DefaultDepth is the number of distinct price levels kept per (source, market)
const DefaultDepth = 10

// lineEpsilon ignores sub-thousandth line noise
var lineEpsilon = decimal.New(1, -3)

// ChangeType indicates the type of change detected
type ChangeType string

const (
	ChangeTypeNew       ChangeType = "new"
	ChangeTypePriceOnly ChangeType = "price"
	ChangeTypeLineOnly  ChangeType = "line"
	ChangeTypeBoth      ChangeType = "price_and_line"
	ChangeTypeNone      ChangeType = "none"
)

// Level is one observed price level of a market at a source
type Level struct {
	Line       decimal.Decimal `json:"line"`
	OverPrice  int             `json:"over_price"`
	UnderPrice int             `json:"under_price"`
	ObservedAt time.Time       `json:"observed_at"`
}

// Delta represents a detected change
type Delta struct {
	Quote      models.SourceQuote
	ChangeType ChangeType
	Previous   *Level
}

// series is the bounded change history of one (source, market); oldest first.
// current and prior are the two latest observations, changed or not.
type series struct {
	levels   []Level
	current  Level
	prior    *Level
	lastSeen time.Time
}

// Tracker detects changes in quotes by comparing against the last level seen
// for the same origin and market, and keeps a bounded history of changes.
// Repeated identical quotes do not advance the change history, but they do
// replace the observation Previous reports.
type Tracker struct {
	mu      sync.RWMutex
	depth   int
	markets map[string]map[string]*series // market key -> origin -> series
}

// NewTracker creates a tracker keeping depth levels per series
func NewTracker(depth int) *Tracker {
	if depth < 2 {
		depth = DefaultDepth
	}
	return &Tracker{
		depth:   depth,
		markets: make(map[string]map[string]*series),
	}
}

// Observe records quotes and returns only those that changed
func (t *Tracker) Observe(quotes []models.SourceQuote) []Delta {
	if len(quotes) == 0 {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	deltas := make([]Delta, 0, len(quotes))
	for _, q := range quotes {
		market := q.MarketKey.String()
		origins, ok := t.markets[market]
		if !ok {
			origins = make(map[string]*series)
			t.markets[market] = origins
		}

		level := Level{Line: q.Line, OverPrice: q.OverPrice, UnderPrice: q.UnderPrice, ObservedAt: q.ObservedAt}

		s, ok := origins[q.Origin()]
		if !ok {
			s = &series{}
			origins[q.Origin()] = s
		} else {
			prior := s.current
			s.prior = &prior
		}
		s.current = level
		s.lastSeen = q.ObservedAt

		if len(s.levels) == 0 {
			s.levels = append(s.levels, level)
			deltas = append(deltas, Delta{Quote: q, ChangeType: ChangeTypeNew})
			continue
		}

		last := s.levels[len(s.levels)-1]
		change := compare(level, last)
		if change == ChangeTypeNone {
			continue
		}

		s.levels = append(s.levels, level)
		if len(s.levels) > t.depth {
			s.levels = append([]Level(nil), s.levels[len(s.levels)-t.depth:]...)
		}
		prev := last
		deltas = append(deltas, Delta{Quote: q, ChangeType: change, Previous: &prev})
	}
	return deltas
}

// Previous returns, per origin, the observation immediately preceding the
// latest one for a market. Origins observed only once are absent.
func (t *Tracker) Previous(marketKey string) map[string]models.SourceQuote {
	t.mu.RLock()
	defer t.mu.RUnlock()

	origins := t.markets[marketKey]
	out := make(map[string]models.SourceQuote, len(origins))
	for origin, s := range origins {
		if s.prior == nil {
			continue
		}
		prev := *s.prior
		out[origin] = models.SourceQuote{
			Line:       prev.Line,
			OverPrice:  prev.OverPrice,
			UnderPrice: prev.UnderPrice,
			ObservedAt: prev.ObservedAt,
		}
	}
	return out
}

// History returns the recorded levels of one origin for a market, oldest first
func (t *Tracker) History(marketKey, origin string) []Level {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s := t.markets[marketKey][origin]
	if s == nil {
		return nil
	}
	return append([]Level(nil), s.levels...)
}

// Origins lists the origins tracked for a market, sorted
func (t *Tracker) Origins(marketKey string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]string, 0, len(t.markets[marketKey]))
	for origin := range t.markets[marketKey] {
		out = append(out, origin)
	}
	sort.Strings(out)
	return out
}

// Prune drops series not observed since cutoff and returns how many were removed
func (t *Tracker) Prune(cutoff time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for market, origins := range t.markets {
		for origin, s := range origins {
			if s.lastSeen.Before(cutoff) {
				delete(origins, origin)
				removed++
			}
		}
		if len(origins) == 0 {
			delete(t.markets, market)
		}
	}
	return removed
}

// Reset forgets everything
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.markets = make(map[string]map[string]*series)
}

// compare compares a new level against the last recorded one
func compare(cur, last Level) ChangeType {
	priceChanged := cur.OverPrice != last.OverPrice || cur.UnderPrice != last.UnderPrice
	lineChanged := cur.Line.Sub(last.Line).Abs().GreaterThan(lineEpsilon)

	switch {
	case priceChanged && lineChanged:
		return ChangeTypeBoth
	case priceChanged:
		return ChangeTypePriceOnly
	case lineChanged:
		return ChangeTypeLineOnly
	default:
		return ChangeTypeNone
	}
}
