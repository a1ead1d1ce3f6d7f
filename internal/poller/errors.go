package poller

import (
	"errors"
	"fmt"
)

// ErrFetchTimeout indicates the upstream did not answer within the fetch timeout
var ErrFetchTimeout = errors.New("fetch timed out")

// Stage names where a poll failed
const (
	StageFetch     = "fetch"
	StageNormalize = "normalize"
)

// SourceFetchError is returned for any fetch or normalize failure of a source
type SourceFetchError struct {
	SourceID string
	Stage    string
	Err      error
}

func (e *SourceFetchError) Error() string {
	return fmt.Sprintf("source %s %s: %v", e.SourceID, e.Stage, e.Err)
}

func (e *SourceFetchError) Unwrap() error {
	return e.Err
}
