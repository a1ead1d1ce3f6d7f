package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Consensus is the best single estimate of a market derived from all sources
type Consensus struct {
	Line       decimal.Decimal `json:"line"`
	OverPrice  int             `json:"over_price"`
	UnderPrice int             `json:"under_price"`
	Confidence float64         `json:"confidence"` // [0,1], higher when sources agree
}

// MarketMetrics summarizes depth and movement across sources
type MarketMetrics struct {
	TotalVolume   int64   `json:"total_volume"`
	LineMovement  float64 `json:"line_movement"`
	PriceMovement float64 `json:"price_movement"`
	Volatility    float64 `json:"volatility"` // [0,1]
}

// Pricing is the de-vigged view of the consensus prices
type Pricing struct {
	Vig                  float64 `json:"vig"` // percent
	FairOverProbability  float64 `json:"fair_over_probability"`
	FairUnderProbability float64 `json:"fair_under_probability"`
	FairOverOdds         float64 `json:"fair_over_odds"`
	FairUnderOdds        float64 `json:"fair_under_odds"`
}

// OddsSnapshot is the aggregation output for one market. Snapshots are never
// mutated after they are built; hand out Clone()s.
type OddsSnapshot struct {
	MarketKey     string        `json:"market_key"`
	Sources       []SourceQuote `json:"sources"`
	Consensus     Consensus     `json:"consensus"`
	MarketMetrics MarketMetrics `json:"market_metrics"`
	Pricing       Pricing       `json:"pricing"`
	Stale         bool          `json:"stale"` // no contributing source entry is within its TTL
	ComputedAt    time.Time     `json:"computed_at"`
}

// Clone returns a deep copy
func (s OddsSnapshot) Clone() OddsSnapshot {
	s.Sources = CloneQuotes(s.Sources)
	return s
}
