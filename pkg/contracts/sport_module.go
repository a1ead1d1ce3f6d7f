package contracts

import (
	"time"

	"github.com/XavierBriggs/Delphi/pkg/models"
)

// SportModule supplies sport-specific market lists and quote validation to adapters
type SportModule interface {
	// GetSportKey returns the unique identifier for this sport (e.g., "basketball_nba")
	GetSportKey() string

	// GetDisplayName returns the human-readable name (e.g., "NBA Basketball")
	GetDisplayName() string

	// GetGameMarkets returns the game-level markets with an over/under line
	GetGameMarkets() []string

	// GetPropsMarkets returns the player prop markets
	GetPropsMarkets() []string

	// MapVendorMarketKey translates a provider's market/stat key to the internal prop type.
	// Returns false when the market is not tracked.
	MapVendorMarketKey(vendor, key string) (string, bool)

	// IsPropsMarket reports whether an internal market key is a player prop
	IsPropsMarket(key string) bool

	// NormalizeTeamName standardizes vendor spellings of team names
	NormalizeTeamName(name string) string

	// CanonicalGameID derives a provider-independent game ID from the teams
	// and start time so quotes for one game merge across providers.
	// Returns "" when the inputs cannot identify a game.
	CanonicalGameID(homeTeam, awayTeam string, commence time.Time) string

	// ValidateGame rejects malformed game metadata
	ValidateGame(game models.Game, now time.Time) error

	// ValidateQuote performs sport-specific validation on a normalized quote
	ValidateQuote(q models.SourceQuote) error
}
