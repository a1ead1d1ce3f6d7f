// Package poller implements the per-source polling pipeline.
//
// A Poller, on each call to Poll:
//   - skips if its previous poll still holds the source
//   - asks the rate limiter for budget and records a denial without error
//   - fetches with a hard timeout, dropping results that arrive late
//   - normalizes, drops invalid quotes individually, and writes one cache
//     entry per (category, source, market)
//   - feeds the movement tracker and reports the outcome through events,
//     metrics and Status
//
// Failures are contained: the cache keeps its previous entries and sibling
// pollers are unaffected.
package poller
