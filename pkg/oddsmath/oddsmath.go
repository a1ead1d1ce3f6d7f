// Package oddsmath converts between American odds, implied probability, vig and
// fair (de-vigged) odds. Every function is pure.
package oddsmath

import "math"

// minMagnitude is the smallest absolute value a real American price can take.
const minMagnitude = 100.0

// oddsTolerance absorbs float error when validating computed fair odds.
const oddsTolerance = 1e-9

// ValidateOdds rejects odds that are undefined in the American convention.
func ValidateOdds(odds int) error {
	return validate(float64(odds))
}

func validate(odds float64) error {
	if odds == 0 || math.IsNaN(odds) || math.IsInf(odds, 0) || math.Abs(odds) < minMagnitude-oddsTolerance {
		return &InvalidOddsError{Odds: odds}
	}
	return nil
}

// ImpliedProbability converts American odds to the bookmaker's implied probability.
// +150 -> 0.4, -150 -> 0.6.
func ImpliedProbability(odds int) (float64, error) {
	if err := ValidateOdds(odds); err != nil {
		return 0, err
	}
	return implied(float64(odds)), nil
}

func implied(odds float64) float64 {
	if odds > 0 {
		return 100 / (odds + 100)
	}
	a := math.Abs(odds)
	return a / (a + 100)
}

// Vig returns the bookmaker margin of a two-way market in percent.
// A -110/-110 market carries roughly 4.76%.
func Vig(overOdds, underOdds int) (float64, error) {
	pOver, err := ImpliedProbability(overOdds)
	if err != nil {
		return 0, err
	}
	pUnder, err := ImpliedProbability(underOdds)
	if err != nil {
		return 0, err
	}
	return (pOver + pUnder - 1) * 100, nil
}

// Devig normalizes both sides' implied probabilities so they sum to 1.
func Devig(overOdds, underOdds int) (pOver, pUnder float64, err error) {
	rawOver, err := ImpliedProbability(overOdds)
	if err != nil {
		return 0, 0, err
	}
	rawUnder, err := ImpliedProbability(underOdds)
	if err != nil {
		return 0, 0, err
	}
	total := rawOver + rawUnder
	return rawOver / total, rawUnder / total, nil
}

// FairOdds is the inverse of ImpliedProbability. The result is not rounded.
func FairOdds(p float64) (float64, error) {
	if math.IsNaN(p) || p <= 0 || p >= 1 {
		return 0, ErrInvalidProbability
	}
	if p >= 0.5 {
		return -(p / (1 - p)) * 100, nil
	}
	return ((1 - p) / p) * 100, nil
}

// FairOddsPair returns de-vigged American odds for both sides of a market.
func FairOddsPair(overOdds, underOdds int) (fairOver, fairUnder float64, err error) {
	pOver, pUnder, err := Devig(overOdds, underOdds)
	if err != nil {
		return 0, 0, err
	}
	if fairOver, err = FairOdds(pOver); err != nil {
		return 0, 0, err
	}
	if fairUnder, err = FairOdds(pUnder); err != nil {
		return 0, 0, err
	}
	return fairOver, fairUnder, nil
}

// Edge is the expected return, in percent of stake, of betting at marketOdds
// when fairOdds reflects the true price. Positive means value.
func Edge(marketOdds int, fairOdds float64) (float64, error) {
	if err := ValidateOdds(marketOdds); err != nil {
		return 0, err
	}
	if err := validate(fairOdds); err != nil {
		return 0, err
	}
	return (implied(fairOdds)/implied(float64(marketOdds)) - 1) * 100, nil
}

// ProbabilityToAmerican converts a probability to the nearest integral American price.
func ProbabilityToAmerican(p float64) (int, error) {
	odds, err := FairOdds(p)
	if err != nil {
		return 0, err
	}
	return int(math.Round(odds)), nil
}
