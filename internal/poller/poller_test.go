package poller

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/XavierBriggs/Delphi/internal/cache"
	"github.com/XavierBriggs/Delphi/internal/delta"
	"github.com/XavierBriggs/Delphi/internal/events"
	"github.com/XavierBriggs/Delphi/internal/ratelimit"
	"github.com/XavierBriggs/Delphi/pkg/contracts"
	"github.com/XavierBriggs/Delphi/pkg/models"
	"github.com/XavierBriggs/Delphi/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	lebron = testutil.NewTestKey("g1", "lebron_james")
	total  = models.MarketKey{GameID: "g1", Subject: "game", PropType: "totals"}
)

type harness struct {
	source   *testutil.MockQuoteSource
	store    *cache.Store
	limiter  *ratelimit.Limiter
	tracker  *delta.Tracker
	recorder *events.Recorder
	poller   *Poller
}

func newHarness(t *testing.T, budget ratelimit.Budget, timeout time.Duration) *harness {
	t.Helper()
	store, err := cache.NewStore(cache.Config{})
	require.NoError(t, err)

	h := &harness{
		source: &testutil.MockQuoteSource{
			ID: "theoddsapi",
			Result: &models.FetchResult{
				Props: []models.SourceQuote{
					testutil.NewTestQuote(lebron, "fanduel", 24.5, -110, -110),
					testutil.NewTestQuote(lebron, "draftkings", 25.5, -105, -115),
				},
				Odds: []models.SourceQuote{
					testutil.NewTestQuote(total, "fanduel", 223.5, -110, -110),
				},
				Games: []models.Game{testutil.NewTestGame("g1", "Los Angeles Lakers", "Boston Celtics", 3)},
			},
		},
		store:    store,
		limiter:  ratelimit.NewLimiter(map[string]ratelimit.Budget{"theoddsapi": budget}),
		tracker:  delta.NewTracker(0),
		recorder: &events.Recorder{},
	}
	h.poller = New(Config{FetchTimeout: timeout}, h.source, h.limiter, h.store,
		WithTracker(h.tracker),
		WithSink(h.recorder),
	)
	return h
}

var roomy = ratelimit.Budget{DailyCap: 100, HourlyCap: 100}

func TestPoll_SuccessWritesEntries(t *testing.T) {
	h := newHarness(t, roomy, time.Second)

	res := h.poller.Poll(context.Background(), "tick-1")
	require.NoError(t, res.Err)
	assert.Equal(t, OutcomeSuccess, res.Outcome)
	assert.Equal(t, 3, res.Quotes)
	assert.Equal(t, 3, res.Changed, "first sighting counts as new")
	assert.Equal(t, 1, res.Games)
	assert.Equal(t, []string{total.String(), lebron.String()}, res.Markets)

	payload, fresh, found := h.store.Get(PropsKey("theoddsapi", lebron.String()))
	require.True(t, found)
	assert.True(t, fresh)
	quotes := payload.([]models.SourceQuote)
	require.Len(t, quotes, 2)
	assert.Equal(t, "draftkings", quotes[0].SourceID, "sorted by source")
	assert.Equal(t, "theoddsapi", quotes[0].Provider)

	_, _, found = h.store.Get(OddsKey("theoddsapi", total.String()))
	assert.True(t, found)

	games, _, found := h.store.Get(GamesKey("theoddsapi"))
	require.True(t, found)
	assert.Equal(t, "theoddsapi", games.([]models.Game)[0].Provider)

	success := h.recorder.ByType(events.PollSuccess)
	require.Len(t, success, 1)
	assert.Equal(t, "tick-1", success[0].TickID)
	assert.Equal(t, 3, success[0].Quotes)

	st := h.poller.Status()
	assert.Equal(t, int64(1), st.Successes)
	assert.Equal(t, int64(3), st.QuotesIngested)
	assert.False(t, st.LastSuccessAt.IsZero())
}

func TestPoll_DropsInvalidQuotesIndividually(t *testing.T) {
	h := newHarness(t, roomy, time.Second)
	bad := testutil.NewTestQuote(lebron, "betmgm", 24.5, 50, -110)
	h.source.SetResult(&models.FetchResult{
		Props: []models.SourceQuote{bad, testutil.NewTestQuote(lebron, "fanduel", 24.5, -110, -110)},
	})

	res := h.poller.Poll(context.Background(), "")
	assert.Equal(t, OutcomeSuccess, res.Outcome)
	assert.Equal(t, 1, res.Quotes)
	assert.Equal(t, 1, res.Rejected)

	payload, _, _ := h.store.Get(PropsKey("theoddsapi", lebron.String()))
	assert.Len(t, payload.([]models.SourceQuote), 1)
}

func TestPoll_CustomValidator(t *testing.T) {
	h := newHarness(t, roomy, time.Second)
	h.poller = New(Config{}, h.source, h.limiter, h.store, WithValidator(func(q models.SourceQuote) error {
		if q.MarketKey.PropType == "totals" {
			return errors.New("not tracked")
		}
		return q.Validate()
	}))

	res := h.poller.Poll(context.Background(), "")
	assert.Equal(t, 2, res.Quotes)
	assert.Equal(t, 1, res.Rejected)
}

func TestPoll_DeniedByBudget(t *testing.T) {
	h := newHarness(t, ratelimit.Budget{DailyCap: 1, HourlyCap: 1}, time.Second)

	require.Equal(t, OutcomeSuccess, h.poller.Poll(context.Background(), "").Outcome)

	res := h.poller.Poll(context.Background(), "tick-2")
	assert.Equal(t, OutcomeDenied, res.Outcome)
	assert.NoError(t, res.Err, "denial is not an error")
	assert.Equal(t, int64(1), h.source.Fetches(), "no network call when denied")

	denied := h.recorder.ByType(events.PollDenied)
	require.Len(t, denied, 1)
	assert.Equal(t, "tick-2", denied[0].TickID)
	assert.Equal(t, int64(1), h.poller.Status().Denied)
}

func TestPoll_FetchErrorLeavesCacheUntouched(t *testing.T) {
	h := newHarness(t, roomy, time.Second)
	require.Equal(t, OutcomeSuccess, h.poller.Poll(context.Background(), "").Outcome)
	before, _, _ := h.store.Get(PropsKey("theoddsapi", lebron.String()))

	upstream := errors.New("502 bad gateway")
	h.source.FetchFunc = func(context.Context) ([]byte, error) { return nil, upstream }

	for i := 0; i < 2; i++ {
		res := h.poller.Poll(context.Background(), "")
		assert.Equal(t, OutcomeFailed, res.Outcome)

		var fetchErr *SourceFetchError
		require.ErrorAs(t, res.Err, &fetchErr)
		assert.Equal(t, StageFetch, fetchErr.Stage)
		assert.ErrorIs(t, res.Err, upstream)
	}

	after, _, _ := h.store.Get(PropsKey("theoddsapi", lebron.String()))
	assert.Equal(t, before, after)

	st := h.poller.Status()
	assert.Equal(t, 2, st.ConsecutiveFailures)
	assert.Equal(t, int64(2), st.Failures)
	assert.Contains(t, st.LastError, "502 bad gateway")
	assert.Len(t, h.recorder.ByType(events.PollFailure), 2)

	h.source.FetchFunc = nil
	require.Equal(t, OutcomeSuccess, h.poller.Poll(context.Background(), "").Outcome)
	assert.Equal(t, 0, h.poller.Status().ConsecutiveFailures)
}

func TestPoll_NormalizeError(t *testing.T) {
	h := newHarness(t, roomy, time.Second)
	h.source.NormalizeFunc = func([]byte, time.Time) (*models.FetchResult, error) {
		return nil, errors.New("unexpected payload")
	}

	res := h.poller.Poll(context.Background(), "")
	var fetchErr *SourceFetchError
	require.ErrorAs(t, res.Err, &fetchErr)
	assert.Equal(t, StageNormalize, fetchErr.Stage)
	assert.Equal(t, 0, h.store.Len())
}

func TestPoll_TimeoutDropsLateResult(t *testing.T) {
	h := newHarness(t, roomy, 20*time.Millisecond)
	release := make(chan struct{})
	h.source.FetchFunc = func(context.Context) ([]byte, error) {
		<-release // ignores cancellation, like a misbehaving client
		return []byte("{}"), nil
	}

	res := h.poller.Poll(context.Background(), "")
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.ErrorIs(t, res.Err, ErrFetchTimeout)

	close(release)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, h.store.Len(), "late result must not reach the cache")
}

func TestPoll_TimeoutHonoredByContextAwareSource(t *testing.T) {
	h := newHarness(t, roomy, 20*time.Millisecond)
	h.source.Delay = time.Second

	start := time.Now()
	res := h.poller.Poll(context.Background(), "")
	assert.ErrorIs(t, res.Err, ErrFetchTimeout)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestPoll_BusyWhilePreviousPollRuns(t *testing.T) {
	h := newHarness(t, roomy, time.Second)
	release := make(chan struct{})
	h.source.FetchFunc = func(ctx context.Context) ([]byte, error) {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return []byte("{}"), nil
	}

	done := make(chan Result, 1)
	go func() { done <- h.poller.Poll(context.Background(), "") }()
	require.Eventually(t, func() bool { return h.source.Fetches() == 1 }, time.Second, 5*time.Millisecond)

	res := h.poller.Poll(context.Background(), "")
	assert.Equal(t, OutcomeBusy, res.Outcome)

	close(release)
	assert.Equal(t, OutcomeSuccess, (<-done).Outcome)
	assert.Equal(t, int64(1), h.poller.Status().Skipped)
	assert.Equal(t, int64(1), h.source.Fetches())
}

type reportingSource struct {
	*testutil.MockQuoteSource
}

func (reportingSource) RateLimits() contracts.RateLimits {
	return contracts.RateLimits{RequestsRemaining: 42, RequestsUsed: 8}
}

func TestStatus_ProviderLimits(t *testing.T) {
	h := newHarness(t, roomy, time.Second)
	p := New(Config{}, reportingSource{h.source}, h.limiter, h.store)

	st := p.Status()
	require.NotNil(t, st.ProviderLimits)
	assert.Equal(t, 42, st.ProviderLimits.RequestsRemaining)
	assert.Nil(t, h.poller.Status().ProviderLimits)
}
