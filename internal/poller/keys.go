package poller

import "github.com/XavierBriggs/Delphi/internal/cache"

// OddsKey is the cache key of one source's game-level quotes for a market
func OddsKey(sourceID, marketKey string) string {
	return "odds:" + sourceID + ":" + marketKey
}

// PropsKey is the cache key of one source's player prop quotes for a market
func PropsKey(sourceID, marketKey string) string {
	return "props:" + sourceID + ":" + marketKey
}

// GamesKey is the cache key of one source's game metadata
func GamesKey(sourceID string) string {
	return "games:" + sourceID
}

// QuoteCategories are the cache categories holding quote payloads
var QuoteCategories = []cache.Category{cache.CategoryOdds, cache.CategoryProps}
