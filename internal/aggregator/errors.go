package aggregator

import "errors"

// ErrNoQuotes indicates a market has no cached quotes to aggregate
var ErrNoQuotes = errors.New("no quotes for market")
