package basketball_nba

import (
	"fmt"
	"strings"
	"time"

	"github.com/XavierBriggs/Delphi/pkg/models"
)

// ValidateGame checks if an NBA game is valid
func ValidateGame(game *models.Game, now time.Time) error {
	if game.GameID == "" {
		return fmt.Errorf("game id cannot be empty")
	}

	if game.HomeTeam == "" {
		return fmt.Errorf("home team cannot be empty")
	}

	if game.AwayTeam == "" {
		return fmt.Errorf("away team cannot be empty")
	}

	if game.HomeTeam == game.AwayTeam {
		return fmt.Errorf("home and away teams cannot be the same")
	}

	if !game.CommenceTime.IsZero() && game.CommenceTime.Before(now.Add(-24*time.Hour)) {
		return fmt.Errorf("game commence time is too far in the past")
	}

	return nil
}

// NormalizeTeamName standardizes team names from vendors
// Handles variations like "LA Lakers" vs "Los Angeles Lakers"
func NormalizeTeamName(name string) string {
	name = strings.TrimSpace(name)

	replacements := map[string]string{
		"LA Lakers":   "Los Angeles Lakers",
		"LA Clippers": "Los Angeles Clippers",
		"NY Knicks":   "New York Knicks",
		"GS Warriors": "Golden State Warriors",
		"SA Spurs":    "San Antonio Spurs",
		"OKC Thunder": "Oklahoma City Thunder",
		"NO Pelicans": "New Orleans Pelicans",
	}

	if normalized, ok := replacements[name]; ok {
		return normalized
	}

	return name
}

// CanonicalGameID names a game independently of the provider reporting it:
// the local start date, then away and home team slugs ("20250109_boston_celtics_at_los_angeles_lakers").
// Team names must already be normalized. Returns "" when any part is missing.
func CanonicalGameID(homeTeam, awayTeam string, commence time.Time, loc *time.Location) string {
	home, away := models.Slug(homeTeam), models.Slug(awayTeam)
	if home == "" || away == "" || commence.IsZero() {
		return ""
	}
	if loc == nil {
		loc = time.UTC
	}
	return commence.In(loc).Format("20060102") + "_" + away + "_at_" + home
}
