package oddsmath

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidOdds indicates an American odds value that has no meaning (0 or |odds| < 100).
	ErrInvalidOdds = errors.New("invalid american odds")
	// ErrInvalidProbability indicates a probability outside the open interval (0, 1).
	ErrInvalidProbability = errors.New("probability must be in (0, 1)")
)

// InvalidOddsError reports the offending odds value.
type InvalidOddsError struct {
	Odds float64
}

func (e *InvalidOddsError) Error() string {
	if e.Odds == 0 {
		return fmt.Sprintf("%s: 0 is undefined", ErrInvalidOdds)
	}
	return fmt.Sprintf("%s: %v (magnitude must be at least 100)", ErrInvalidOdds, e.Odds)
}

// Is lets errors.Is match ErrInvalidOdds.
func (e *InvalidOddsError) Is(target error) bool {
	return target == ErrInvalidOdds
}
