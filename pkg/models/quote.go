package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/XavierBriggs/Delphi/pkg/oddsmath"
	"github.com/shopspring/decimal"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// ErrInvalidMarketKey is returned by ParseMarketKey for malformed keys.
var ErrInvalidMarketKey = errors.New("invalid market key")

// MarketKey identifies one bettable proposition: subject + prop type + game.
type MarketKey struct {
	GameID   string
	Subject  string // player or team slug, "game" for game-level totals
	PropType string // e.g. player_points, totals
}

// String returns the canonical form gameID:subject:propType
func (k MarketKey) String() string {
	return k.GameID + ":" + k.Subject + ":" + k.PropType
}

// ParseMarketKey inverts MarketKey.String
func ParseMarketKey(s string) (MarketKey, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return MarketKey{}, fmt.Errorf("%w: %q", ErrInvalidMarketKey, s)
	}
	return MarketKey{GameID: parts[0], Subject: parts[1], PropType: parts[2]}, nil
}

// SourceQuote is one upstream view of a two-way (over/under) market
type SourceQuote struct {
	SourceID   string          `json:"source_id"` // bookmaker or provider that priced the market
	Provider   string          `json:"provider"`  // poller source that fetched it
	MarketKey  MarketKey       `json:"-"`
	Line       decimal.Decimal `json:"line"`
	OverPrice  int             `json:"over_price"`  // American odds
	UnderPrice int             `json:"under_price"` // American odds
	Volume     *int64          `json:"volume,omitempty"`
	ObservedAt time.Time       `json:"observed_at"`
}

// Validate checks the quote invariants: both prices are real American odds
// and volume, when present, is non-negative.
func (q SourceQuote) Validate() error {
	if q.SourceID == "" {
		return fmt.Errorf("quote missing source id")
	}
	if err := oddsmath.ValidateOdds(q.OverPrice); err != nil {
		return fmt.Errorf("over price: %w", err)
	}
	if err := oddsmath.ValidateOdds(q.UnderPrice); err != nil {
		return fmt.Errorf("under price: %w", err)
	}
	if q.Volume != nil && *q.Volume < 0 {
		return fmt.Errorf("negative volume %d", *q.Volume)
	}
	return nil
}

// Origin identifies the (provider, source) pair a quote came from. Two
// providers can both carry the same bookmaker.
func (q SourceQuote) Origin() string {
	if q.Provider == "" || q.Provider == q.SourceID {
		return q.SourceID
	}
	return q.Provider + "/" + q.SourceID
}

// VolumeOrZero treats a missing volume as zero
func (q SourceQuote) VolumeOrZero() int64 {
	if q.Volume == nil {
		return 0
	}
	return *q.Volume
}

// Clone returns a copy that shares no pointers with q
func (q SourceQuote) Clone() SourceQuote {
	if q.Volume != nil {
		v := *q.Volume
		q.Volume = &v
	}
	return q
}

// CloneQuotes deep-copies a quote slice
func CloneQuotes(quotes []SourceQuote) []SourceQuote {
	if quotes == nil {
		return nil
	}
	out := make([]SourceQuote, len(quotes))
	for i, q := range quotes {
		out[i] = q.Clone()
	}
	return out
}

// Game is the metadata a provider reports for a scheduled game
type Game struct {
	GameID          string    `json:"game_id"`
	ProviderEventID string    `json:"provider_event_id,omitempty"` // the provider's own event ID
	SportKey        string    `json:"sport_key"`
	HomeTeam        string    `json:"home_team"`
	AwayTeam        string    `json:"away_team"`
	CommenceTime    time.Time `json:"commence_time"`
	Status          string    `json:"status"` // upcoming, live, completed
	Provider        string    `json:"provider"`
}

// FetchResult is the normalized output of one upstream fetch
type FetchResult struct {
	Props []SourceQuote // player props
	Odds  []SourceQuote // game-level markets (totals, team totals)
	Games []Game
}

// Empty reports whether the fetch produced nothing at all
func (r *FetchResult) Empty() bool {
	return r == nil || (len(r.Props) == 0 && len(r.Odds) == 0 && len(r.Games) == 0)
}

// Slug normalizes a display name to a key-safe identifier ("LeBron James" -> "lebron_james").
// Diacritics fold to their base letter; letters without a Latin base are kept
// lowercased. A name with no letters or digits yields "".
func Slug(name string) string {
	// chains carry buffers, so each call builds its own
	foldMarks := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(foldMarks, strings.TrimSpace(name))
	if err != nil {
		folded = strings.TrimSpace(name)
	}

	var b strings.Builder
	lastUnderscore := false
	for _, c := range folded {
		switch {
		case unicode.IsLetter(c) || unicode.IsDigit(c):
			b.WriteRune(unicode.ToLower(c))
			lastUnderscore = false
		case c == ' ' || c == '_' || c == '-':
			if !lastUnderscore && b.Len() > 0 {
				b.WriteRune('_')
				lastUnderscore = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}
