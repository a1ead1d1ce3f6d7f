// Package aggregator merges per-source quotes into one consensus snapshot per
// market. Compute is a pure function of its inputs.
package aggregator

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/XavierBriggs/Delphi/pkg/models"
	"github.com/XavierBriggs/Delphi/pkg/oddsmath"
	"github.com/shopspring/decimal"
)

// ConfidenceScale is the combined variance at which confidence reaches zero
const ConfidenceScale = 100.0

// linePlaces is the decimal precision of the consensus line
const linePlaces = 4

// Compute builds a snapshot from quotes. previous maps a quote origin to the
// level it held before its most recent change and drives the movement
// metrics. The result is identical for the same inputs regardless of order.
func Compute(marketKey string, quotes []models.SourceQuote, previous map[string]models.SourceQuote, now time.Time) (models.OddsSnapshot, error) {
	if len(quotes) == 0 {
		return models.OddsSnapshot{}, ErrNoQuotes
	}

	sources := models.CloneQuotes(quotes)
	sort.Slice(sources, func(i, j int) bool {
		if sources[i].SourceID != sources[j].SourceID {
			return sources[i].SourceID < sources[j].SourceID
		}
		return sources[i].Provider < sources[j].Provider
	})

	for _, q := range sources {
		if err := q.Validate(); err != nil {
			return models.OddsSnapshot{}, fmt.Errorf("market %s source %s: %w", marketKey, q.Origin(), err)
		}
	}

	n := len(sources)
	lines := make([]float64, n)
	overs := make([]float64, n)
	unders := make([]float64, n)
	lineSum := decimal.Zero
	var totalVolume int64
	for i, q := range sources {
		lineSum = lineSum.Add(q.Line)
		lines[i] = q.Line.InexactFloat64()
		overs[i] = float64(q.OverPrice)
		unders[i] = float64(q.UnderPrice)
		totalVolume += q.VolumeOrZero()
	}

	overPrice, err := consensusPrice(overs)
	if err != nil {
		return models.OddsSnapshot{}, err
	}
	underPrice, err := consensusPrice(unders)
	if err != nil {
		return models.OddsSnapshot{}, err
	}

	lineVar := variance(lines)
	priceVar := (variance(overs) + variance(unders)) / 2

	snap := models.OddsSnapshot{
		MarketKey: marketKey,
		Sources:   sources,
		Consensus: models.Consensus{
			Line:       lineSum.DivRound(decimal.NewFromInt(int64(n)), linePlaces),
			OverPrice:  overPrice,
			UnderPrice: underPrice,
			Confidence: clamp(1-(lineVar+priceVar)/ConfidenceScale, 0, 1),
		},
		MarketMetrics: models.MarketMetrics{
			TotalVolume: totalVolume,
			Volatility:  math.Min(1, math.Sqrt(lineVar)/10),
		},
		ComputedAt: now,
	}
	snap.MarketMetrics.LineMovement, snap.MarketMetrics.PriceMovement = movement(sources, previous)

	pricing, err := price(overPrice, underPrice)
	if err != nil {
		return models.OddsSnapshot{}, err
	}
	snap.Pricing = pricing

	return snap, nil
}

// consensusPrice averages American prices. When the mean lands strictly
// inside (-100, 100) the sources straddle even money and the American scale
// is discontinuous there, so the side is averaged as implied probability.
func consensusPrice(prices []float64) (int, error) {
	mean := 0.0
	for _, p := range prices {
		mean += p
	}
	mean /= float64(len(prices))

	if mean > -100 && mean < 100 {
		prob := 0.0
		for _, p := range prices {
			ip, err := oddsmath.ImpliedProbability(int(p))
			if err != nil {
				return 0, err
			}
			prob += ip
		}
		return oddsmath.ProbabilityToAmerican(prob / float64(len(prices)))
	}

	return int(math.Round(mean)), nil
}

// movement is the mean, over all sources, of the absolute change since each
// source's previous level. Sources without history contribute zero.
func movement(sources []models.SourceQuote, previous map[string]models.SourceQuote) (line, price float64) {
	for _, q := range sources {
		prev, ok := previous[q.Origin()]
		if !ok {
			continue
		}
		line += q.Line.Sub(prev.Line).Abs().InexactFloat64()
		price += (math.Abs(float64(q.OverPrice-prev.OverPrice)) + math.Abs(float64(q.UnderPrice-prev.UnderPrice))) / 2
	}
	n := float64(len(sources))
	return line / n, price / n
}

func price(over, under int) (models.Pricing, error) {
	vig, err := oddsmath.Vig(over, under)
	if err != nil {
		return models.Pricing{}, err
	}
	pOver, pUnder, err := oddsmath.Devig(over, under)
	if err != nil {
		return models.Pricing{}, err
	}
	fairOver, fairUnder, err := oddsmath.FairOddsPair(over, under)
	if err != nil {
		return models.Pricing{}, err
	}
	return models.Pricing{
		Vig:                  vig,
		FairOverProbability:  pOver,
		FairUnderProbability: pUnder,
		FairOverOdds:         fairOver,
		FairUnderOdds:        fairUnder,
	}, nil
}

// variance is the population variance
func variance(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	mean := 0.0
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))

	v := 0.0
	for _, x := range xs {
		d := x - mean
		v += d * d
	}
	return v / float64(len(xs))
}

func clamp(x, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, x))
}
