package executor_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-github/v55/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurihiro0119/github-repo-activity/internal/clock"
	apperrors "github.com/kurihiro0119/github-repo-activity/internal/errors"
	"github.com/kurihiro0119/github-repo-activity/internal/executor"
	"github.com/kurihiro0119/github-repo-activity/internal/ratelimit"
)

var start = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

// newTestClient creates a go-github client pointed at an httptest server.
func newTestClient(t *testing.T, handler http.Handler) *github.Client {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := github.NewClient(server.Client())
	base, err := url.Parse(server.URL + "/")
	require.NoError(t, err)
	client.BaseURL = base
	return client
}

func newExecutor(clk *clock.Fake, policy executor.RetryPolicy) *executor.Executor {
	tracker := ratelimit.New(clk, ratelimit.WithResetMargin(0))
	return executor.New(tracker, clk, policy, nil)
}

func getRepo(client *github.Client) executor.Request {
	return func(ctx context.Context) (*github.Response, error) {
		_, resp, err := client.Repositories.Get(ctx, "octo", "hello")
		return resp, err
	}
}

// sequence answers with the given status codes in order, then 200.
func sequence(calls *int32, statuses ...int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n := int(atomic.AddInt32(calls, 1))
		if n <= len(statuses) {
			w.WriteHeader(statuses[n-1])
			fmt.Fprint(w, `{"message":"failure"}`)
			return
		}
		fmt.Fprint(w, `{"id":1,"name":"hello","full_name":"octo/hello"}`)
	}
}

func TestExecute_RetriesServerErrors(t *testing.T) {
	var calls int32
	client := newTestClient(t, sequence(&calls, http.StatusBadGateway, http.StatusServiceUnavailable))
	clk := clock.NewFake(start)
	exec := newExecutor(clk, executor.RetryPolicy{MaxAttempts: 5, BaseDelay: time.Second})

	err := exec.Execute(context.Background(), "get repo", getRepo(client))

	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.Len(t, clk.Sleeps(), 2)
}

func TestExecute_ExhaustsAttempts(t *testing.T) {
	var calls int32
	client := newTestClient(t, sequence(&calls, 500, 500, 500, 500, 500))
	clk := clock.NewFake(start)
	exec := newExecutor(clk, executor.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second})

	err := exec.Execute(context.Background(), "get repo", getRepo(client))

	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeExhausted, apperrors.CodeOf(err))
	assert.Equal(t, "Exhausted", apperrors.FetchKind(err))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestExecute_ClientErrorsAreNotRetried(t *testing.T) {
	tests := []struct {
		status int
		code   apperrors.ErrCode
	}{
		{http.StatusNotFound, apperrors.ErrCodeNotFound},
		{http.StatusForbidden, apperrors.ErrCodeForbidden},
		{http.StatusUnauthorized, apperrors.ErrCodeUnauthorized},
		{http.StatusUnprocessableEntity, apperrors.ErrCodeBadRequest},
	}

	for _, tt := range tests {
		t.Run(strconv.Itoa(tt.status), func(t *testing.T) {
			var calls int32
			client := newTestClient(t, sequence(&calls, tt.status))
			exec := newExecutor(clock.NewFake(start), executor.DefaultRetryPolicy())

			err := exec.Execute(context.Background(), "get repo", getRepo(client))

			require.Error(t, err)
			assert.Equal(t, tt.code, apperrors.CodeOf(err))
			assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
		})
	}
}

func TestExecute_RateLimitWaitsDoNotCountAsAttempts(t *testing.T) {
	var calls int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) <= 2 {
			w.Header().Set("Retry-After", "10")
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprint(w, `{"message":"slow down"}`)
			return
		}
		fmt.Fprint(w, `{"id":1,"name":"hello"}`)
	}))
	clk := clock.NewFake(start)
	exec := newExecutor(clk, executor.RetryPolicy{MaxAttempts: 1})

	err := exec.Execute(context.Background(), "get repo", getRepo(client))

	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.Equal(t, start.Add(20*time.Second), clk.Now())
}

// getRepoFreshClient builds a new client for every attempt, so go-github's own
// wall-clock hold after a secondary limit does not interfere with the fake clock.
func getRepoFreshClient(t *testing.T, handler http.Handler) executor.Request {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	base, err := url.Parse(server.URL + "/")
	require.NoError(t, err)

	return func(ctx context.Context) (*github.Response, error) {
		client := github.NewClient(server.Client())
		client.BaseURL = base
		_, resp, err := client.Repositories.Get(ctx, "octo", "hello")
		return resp, err
	}
}

func TestExecute_SecondaryLimitWaits(t *testing.T) {
	tests := []struct {
		name       string
		retryAfter string
		want       time.Duration
	}{
		{"retry after header", "30", 30 * time.Second},
		{"no retry after", "", 2 * time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int32
			req := getRepoFreshClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if atomic.AddInt32(&calls, 1) == 1 {
					if tt.retryAfter != "" {
						w.Header().Set("Retry-After", tt.retryAfter)
					}
					w.WriteHeader(http.StatusForbidden)
					fmt.Fprint(w, `{"message":"You have exceeded a secondary rate limit.",`+
						`"documentation_url":"https://docs.github.com/rest/overview/resources-in-the-rest-api#secondary-rate-limits"}`)
					return
				}
				fmt.Fprint(w, `{"id":1,"name":"hello"}`)
			}))
			clk := clock.NewFake(start)
			tracker := ratelimit.New(clk, ratelimit.WithResetMargin(0))
			exec := executor.New(tracker, clk, executor.RetryPolicy{
				MaxAttempts:   1,
				SecondaryWait: 2 * time.Minute,
			}, nil)

			err := exec.Execute(context.Background(), "get repo", req)

			require.NoError(t, err)
			assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
			assert.Equal(t, start.Add(tt.want), clk.Now())
			assert.Equal(t, []time.Duration{tt.want}, clk.Sleeps())
			assert.Equal(t, 0, tracker.Snapshot().InFlight)
		})
	}
}

func TestExecute_PrimaryLimitWaitsForReset(t *testing.T) {
	reset := start.Add(time.Minute)
	var calls int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(ratelimit.HeaderLimit, "5000")
		w.Header().Set(ratelimit.HeaderReset, strconv.FormatInt(reset.Unix(), 10))
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set(ratelimit.HeaderRemaining, "0")
			w.WriteHeader(http.StatusForbidden)
			fmt.Fprint(w, `{"message":"API rate limit exceeded"}`)
			return
		}
		w.Header().Set(ratelimit.HeaderRemaining, "4999")
		fmt.Fprint(w, `{"id":1,"name":"hello"}`)
	}))
	clk := clock.NewFake(start)
	tracker := ratelimit.New(clk, ratelimit.WithResetMargin(0))
	exec := executor.New(tracker, clk, executor.RetryPolicy{MaxAttempts: 1}, nil)

	err := exec.Execute(context.Background(), "get repo", getRepo(client))

	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	assert.Equal(t, reset.Unix(), clk.Now().Unix())
	assert.Equal(t, 4999, tracker.Snapshot().Remaining)
}

func TestExecute_AcceptedIsRetried(t *testing.T) {
	var calls int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusAccepted)
			fmt.Fprint(w, `{}`)
			return
		}
		fmt.Fprint(w, `{"id":1,"name":"hello"}`)
	}))
	exec := newExecutor(clock.NewFake(start), executor.DefaultRetryPolicy())

	require.NoError(t, exec.Execute(context.Background(), "get repo", getRepo(client)))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestExecute_TimeoutIsNetworkFailure(t *testing.T) {
	var calls int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		select {
		case <-r.Context().Done():
		case <-time.After(500 * time.Millisecond):
		}
	}))
	exec := newExecutor(clock.NewFake(start), executor.RetryPolicy{
		MaxAttempts:    2,
		RequestTimeout: 20 * time.Millisecond,
	})

	err := exec.Execute(context.Background(), "get repo", getRepo(client))

	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeExhausted, apperrors.CodeOf(err))
	appErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrCodeNetwork, apperrors.CodeOf(appErr.Err))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestExecute_CancelledBeforeSending(t *testing.T) {
	var calls int32
	client := newTestClient(t, sequence(&calls))
	exec := newExecutor(clock.NewFake(start), executor.DefaultRetryPolicy())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := exec.Execute(ctx, "get repo", getRepo(client))

	assert.True(t, apperrors.IsCancelled(err))
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
}
