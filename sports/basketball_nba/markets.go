package basketball_nba

// GameMarkets returns the game-level over/under markets for NBA
func GameMarkets() []string {
	return []string{"totals", "team_totals"}
}

// PropsMarkets returns the list of over/under player prop markets for NBA
func PropsMarkets() []string {
	return []string{
		"player_points",
		"player_rebounds",
		"player_assists",
		"player_threes",
		"player_points_rebounds_assists",
		"player_points_rebounds",
		"player_points_assists",
		"player_rebounds_assists",
		"player_steals",
		"player_blocks",
		"player_turnovers",
	}
}

// sportsGameOddsStats maps SportsGameOdds statIDs to internal prop types
var sportsGameOddsStats = map[string]string{
	"points":                  "player_points",
	"rebounds":                "player_rebounds",
	"assists":                 "player_assists",
	"threePointersMade":       "player_threes",
	"points+rebounds+assists": "player_points_rebounds_assists",
	"points+rebounds":         "player_points_rebounds",
	"points+assists":          "player_points_assists",
	"rebounds+assists":        "player_rebounds_assists",
	"steals":                  "player_steals",
	"blocks":                  "player_blocks",
	"turnovers":               "player_turnovers",
}

// MapVendorMarketKey translates vendor market keys to internal keys.
// The Odds API already uses the internal names.
func MapVendorMarketKey(vendor, key string) (string, bool) {
	switch vendor {
	case "sportsgameodds":
		propType, ok := sportsGameOddsStats[key]
		return propType, ok
	default:
		if IsPropsMarket(key) || IsGameMarket(key) {
			return key, true
		}
		return "", false
	}
}

var (
	propsSet = toSet(PropsMarkets())
	gameSet  = toSet(GameMarkets())
)

// IsPropsMarket returns true if the market is a player prop
func IsPropsMarket(marketKey string) bool {
	return propsSet[marketKey]
}

// IsGameMarket returns true if the market is a game-level over/under
func IsGameMarket(marketKey string) bool {
	return gameSet[marketKey]
}

func toSet(keys []string) map[string]bool {
	m := make(map[string]bool, len(keys))
	for _, k := range keys {
		m[k] = true
	}
	return m
}
