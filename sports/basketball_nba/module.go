package basketball_nba

import (
	"fmt"
	"time"
	_ "time/tzdata" // league timezone must resolve on hosts without zoneinfo

	"github.com/XavierBriggs/Delphi/pkg/contracts"
	"github.com/XavierBriggs/Delphi/pkg/models"
)

var _ contracts.SportModule = (*Module)(nil)

// Module implements the SportModule interface for NBA Basketball
type Module struct {
	config   *Config
	location *time.Location
}

// NewModule creates a new NBA sport module
func NewModule() *Module {
	cfg := DefaultConfig()
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		loc = time.UTC
	}
	return &Module{
		config:   cfg,
		location: loc,
	}
}

// Config exposes the module configuration
func (m *Module) Config() *Config {
	return m.config
}

// GetSportKey returns the sport identifier
func (m *Module) GetSportKey() string {
	return m.config.SportKey
}

// GetDisplayName returns the human-readable name
func (m *Module) GetDisplayName() string {
	return m.config.DisplayName
}

// GetGameMarkets returns game-level over/under markets
func (m *Module) GetGameMarkets() []string {
	return GameMarkets()
}

// GetPropsMarkets returns player prop markets
func (m *Module) GetPropsMarkets() []string {
	return PropsMarkets()
}

// MapVendorMarketKey delegates to the package mapping
func (m *Module) MapVendorMarketKey(vendor, key string) (string, bool) {
	return MapVendorMarketKey(vendor, key)
}

// IsPropsMarket reports whether key is an NBA player prop
func (m *Module) IsPropsMarket(key string) bool {
	return IsPropsMarket(key)
}

// NormalizeTeamName delegates to the package helper
func (m *Module) NormalizeTeamName(name string) string {
	return NormalizeTeamName(name)
}

// CanonicalGameID names a game by its local start date and normalized teams
func (m *Module) CanonicalGameID(homeTeam, awayTeam string, commence time.Time) string {
	return CanonicalGameID(m.NormalizeTeamName(homeTeam), m.NormalizeTeamName(awayTeam), commence, m.location)
}

// ValidateGame delegates to the package helper
func (m *Module) ValidateGame(game models.Game, now time.Time) error {
	return ValidateGame(&game, now)
}

// ValidateQuote performs NBA-specific validation
func (m *Module) ValidateQuote(q models.SourceQuote) error {
	if err := q.Validate(); err != nil {
		return err
	}

	propType := q.MarketKey.PropType
	var maxLine float64
	switch {
	case IsPropsMarket(propType):
		maxLine = m.config.MaxPropLine
	case IsGameMarket(propType):
		maxLine = m.config.MaxGameLine
	default:
		return fmt.Errorf("invalid market for NBA: %s", propType)
	}

	line := q.Line.InexactFloat64()
	if line <= 0 {
		return fmt.Errorf("market %s requires a positive line, got %s", propType, q.Line)
	}
	if line > maxLine {
		return fmt.Errorf("line %s exceeds %.0f for %s", q.Line, maxLine, propType)
	}

	return nil
}
