package query

import "errors"

// ErrNotFound indicates no cached data exists for a market. Callers must not
// expect a placeholder snapshot.
var ErrNotFound = errors.New("market not found")
