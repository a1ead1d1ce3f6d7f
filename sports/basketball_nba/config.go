package basketball_nba

// Config contains NBA-specific market configuration
type Config struct {
	SportKey    string
	DisplayName string

	// Regions passed to providers that partition books by region
	Regions []string

	// League identifier used by providers that key by league instead of sport
	LeagueID string

	// Timezone whose calendar date names a game in canonical game IDs
	Timezone string

	// MaxGameLine and MaxPropLine bound plausible over/under lines
	MaxGameLine float64
	MaxPropLine float64
}

// DefaultConfig returns the NBA defaults
func DefaultConfig() *Config {
	return &Config{
		SportKey:    "basketball_nba",
		DisplayName: "NBA Basketball",
		Regions:     []string{"us", "us2"},
		LeagueID:    "NBA",
		Timezone:    "America/New_York",
		MaxGameLine: 400,
		MaxPropLine: 150,
	}
}
