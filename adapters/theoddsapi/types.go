package theoddsapi

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// API response structures matching The Odds API JSON format

type oddsResponse struct {
	ID           string      `json:"id"`
	SportKey     string      `json:"sport_key"`
	SportTitle   string      `json:"sport_title,omitempty"`
	CommenceTime string      `json:"commence_time"`
	HomeTeam     string      `json:"home_team"`
	AwayTeam     string      `json:"away_team"`
	Bookmakers   []bookmaker `json:"bookmakers"`
}

type bookmaker struct {
	Key        string   `json:"key"`
	Title      string   `json:"title"`
	LastUpdate string   `json:"last_update"`
	Markets    []market `json:"markets"`
}

type market struct {
	Key        string    `json:"key"`
	LastUpdate string    `json:"last_update,omitempty"`
	Outcomes   []outcome `json:"outcomes"`
}

type outcome struct {
	Name        string   `json:"name"`                  // Over / Under
	Description string   `json:"description,omitempty"` // player or team for props and team totals
	Price       int      `json:"price"`
	Point       *float64 `json:"point,omitempty"`
}

type eventResponse struct {
	ID           string `json:"id"`
	SportKey     string `json:"sport_key"`
	SportTitle   string `json:"sport_title"`
	CommenceTime string `json:"commence_time"`
	HomeTeam     string `json:"home_team"`
	AwayTeam     string `json:"away_team"`
}

// pair is one side-matched over/under line
type pair struct {
	description string
	line        decimal.Decimal
	over        int
	under       int
}

// pairOutcomes matches Over and Under outcomes sharing a description and
// point. Outcomes without a point or without their opposite side are dropped.
func pairOutcomes(outcomes []outcome) []pair {
	type sides struct {
		pair
		hasOver, hasUnder bool
	}
	byKey := make(map[string]*sides)
	var keys []string

	for _, o := range outcomes {
		if o.Point == nil {
			continue
		}
		line := decimal.NewFromFloat(*o.Point)
		key := o.Description + "|" + line.String()
		s, ok := byKey[key]
		if !ok {
			s = &sides{pair: pair{description: o.Description, line: line}}
			byKey[key] = s
			keys = append(keys, key)
		}
		switch strings.ToLower(o.Name) {
		case "over":
			s.over, s.hasOver = o.Price, true
		case "under":
			s.under, s.hasUnder = o.Price, true
		}
	}

	sort.Strings(keys)
	out := make([]pair, 0, len(keys))
	for _, k := range keys {
		if s := byKey[k]; s.hasOver && s.hasUnder {
			out = append(out, s.pair)
		}
	}
	return out
}

func parseTime(s string, fallback time.Time) time.Time {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	return fallback
}

func gameStatus(commence, now time.Time) string {
	if !commence.IsZero() && now.After(commence) {
		return "live"
	}
	return "upcoming"
}
