package ratelimit_test

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurihiro0119/github-repo-activity/internal/clock"
	"github.com/kurihiro0119/github-repo-activity/internal/ratelimit"
)

var start = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

func rateHeaders(limit, remaining int, reset time.Time) http.Header {
	h := http.Header{}
	h.Set(ratelimit.HeaderLimit, strconv.Itoa(limit))
	h.Set(ratelimit.HeaderRemaining, strconv.Itoa(remaining))
	h.Set(ratelimit.HeaderReset, strconv.FormatInt(reset.Unix(), 10))
	return h
}

func TestAcquire_DecrementsWithoutWaiting(t *testing.T) {
	clk := clock.NewFake(start)
	tr := ratelimit.New(clk, ratelimit.WithLimit(10))

	for i := 0; i < 3; i++ {
		require.NoError(t, tr.Acquire(context.Background()))
	}

	assert.Equal(t, 7, tr.Snapshot().Remaining)
	assert.Empty(t, clk.Sleeps())
}

func TestAcquire_WaitsForResetWhenExhausted(t *testing.T) {
	clk := clock.NewFake(start)
	tr := ratelimit.New(clk, ratelimit.WithLimit(5000), ratelimit.WithResetMargin(5*time.Second))
	reset := start.Add(time.Minute)
	tr.Observe(rateHeaders(5000, 1, reset))

	require.NoError(t, tr.Acquire(context.Background()))
	assert.True(t, clk.Now().Before(reset))

	require.NoError(t, tr.Acquire(context.Background()))
	assert.WithinDuration(t, reset.Add(5*time.Second), clk.Now(), 0)
	assert.Equal(t, []time.Duration{65 * time.Second}, clk.Sleeps())
	assert.Equal(t, 4999, tr.Snapshot().Remaining)
}

func TestAcquire_ObservedValuesWin(t *testing.T) {
	clk := clock.NewFake(start)
	tr := ratelimit.New(clk, ratelimit.WithLimit(100))

	require.NoError(t, tr.Acquire(context.Background()))
	tr.Observe(rateHeaders(100, 42, start.Add(time.Hour)))

	b := tr.Snapshot()
	assert.Equal(t, 42, b.Remaining)
	assert.Equal(t, start.Add(time.Hour).Unix(), b.ResetAt.Unix())
	assert.Equal(t, start, b.LastObservedAt)
}

func TestObserve_IgnoresMissingHeaders(t *testing.T) {
	tr := ratelimit.New(clock.NewFake(start), ratelimit.WithLimit(50))
	tr.Observe(http.Header{})
	assert.Equal(t, 50, tr.Snapshot().Remaining)
}

func TestAcquire_ConcurrentWorkersShareOneBudget(t *testing.T) {
	clk := clock.NewFake(start)
	tr := ratelimit.New(clk, ratelimit.WithLimit(100), ratelimit.WithResetMargin(0))
	reset := start.Add(30 * time.Second)
	tr.Observe(rateHeaders(100, 2, reset))

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- tr.Acquire(context.Background())
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	// two requests fit the observed budget, the remaining eight had to wait
	// for the reset and drew from a single refill
	assert.False(t, clk.Now().Before(reset))
	assert.Equal(t, 92, tr.Snapshot().Remaining)
}

func TestSuspend_BlocksUntilGivenTime(t *testing.T) {
	clk := clock.NewFake(start)
	tr := ratelimit.New(clk, ratelimit.WithResetMargin(time.Second))

	tr.Suspend(start.Add(10 * time.Second))
	require.NoError(t, tr.Acquire(context.Background()))

	assert.Equal(t, start.Add(11*time.Second), clk.Now())
}

func TestObserve_KeepsInFlightReservations(t *testing.T) {
	clk := clock.NewFake(start)
	tr := ratelimit.New(clk, ratelimit.WithResetMargin(0))
	reset := start.Add(time.Minute)
	tr.Observe(rateHeaders(5000, 2, reset))

	// two workers take the last two units
	require.NoError(t, tr.Acquire(context.Background()))
	require.NoError(t, tr.Acquire(context.Background()))
	assert.Equal(t, 2, tr.Snapshot().InFlight)

	// the first response was counted before the second request arrived
	tr.Observe(rateHeaders(5000, 1, reset))
	b := tr.Snapshot()
	assert.Equal(t, 0, b.Remaining)
	assert.Equal(t, 1, b.InFlight)

	// a third worker must wait for the reset
	require.NoError(t, tr.Acquire(context.Background()))
	assert.WithinDuration(t, reset, clk.Now(), 0)
	assert.Equal(t, []time.Duration{time.Minute}, clk.Sleeps())
}

func TestRelease_SettlesWithoutTouchingBudget(t *testing.T) {
	tr := ratelimit.New(clock.NewFake(start), ratelimit.WithLimit(10))

	require.NoError(t, tr.Acquire(context.Background()))
	tr.Release()
	tr.Release()

	b := tr.Snapshot()
	assert.Equal(t, 0, b.InFlight)
	assert.Equal(t, 9, b.Remaining)
}

func TestSuspend_HoldSurvivesObserve(t *testing.T) {
	clk := clock.NewFake(start)
	tr := ratelimit.New(clk, ratelimit.WithResetMargin(0))
	holdUntil := start.Add(30 * time.Second)

	tr.Suspend(holdUntil)
	// another worker's response still reports plenty of primary budget
	tr.Observe(rateHeaders(5000, 4000, start.Add(time.Hour)))
	assert.Equal(t, holdUntil, tr.Snapshot().HoldUntil)

	require.NoError(t, tr.Acquire(context.Background()))
	assert.Equal(t, holdUntil, clk.Now())
	assert.Equal(t, 3999, tr.Snapshot().Remaining)
	assert.True(t, tr.Snapshot().HoldUntil.IsZero())
}

func TestAcquire_CancelledWhileWaiting(t *testing.T) {
	tr := ratelimit.New(clock.NewFake(start))
	tr.Suspend(start.Add(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, tr.Acquire(ctx), context.Canceled)
}

func TestRetryAfter(t *testing.T) {
	h := http.Header{}
	_, ok := ratelimit.RetryAfter(h)
	assert.False(t, ok)

	h.Set(ratelimit.HeaderRetry, "17")
	d, ok := ratelimit.RetryAfter(h)
	assert.True(t, ok)
	assert.Equal(t, 17*time.Second, d)
}
