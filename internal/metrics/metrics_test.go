package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestInit_Idempotent(t *testing.T) {
	assert.NotPanics(t, func() {
		Init()
		Init()
	})
}

func TestRecordPoll(t *testing.T) {
	before := testutil.ToFloat64(PollsTotal.WithLabelValues("test-source", "denied"))
	RecordPoll("test-source", "denied", 0)
	assert.Equal(t, before+1, testutil.ToFloat64(PollsTotal.WithLabelValues("test-source", "denied")))
}

func TestRecordCacheLookup(t *testing.T) {
	miss := testutil.ToFloat64(CacheLookups.WithLabelValues("miss"))
	stale := testutil.ToFloat64(CacheLookups.WithLabelValues("hit_stale"))

	RecordCacheLookup(false, false)
	RecordCacheLookup(true, false)

	assert.Equal(t, miss+1, testutil.ToFloat64(CacheLookups.WithLabelValues("miss")))
	assert.Equal(t, stale+1, testutil.ToFloat64(CacheLookups.WithLabelValues("hit_stale")))
}

func TestRecordRateLimitUsage(t *testing.T) {
	RecordRateLimitUsage("test-source", 7, 3)
	assert.Equal(t, 7.0, testutil.ToFloat64(RateLimitUsage.WithLabelValues("test-source", "daily")))
	assert.Equal(t, 3.0, testutil.ToFloat64(RateLimitUsage.WithLabelValues("test-source", "hourly")))
	RecordHTTPRequest("/health", "200", time.Millisecond)
}
