// Package executor sends single GitHub API requests under the shared rate
// budget, retrying transient failures with exponential backoff.
package executor

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/go-github/v55/github"
	"github.com/gregjones/httpcache"

	"github.com/kurihiro0119/github-repo-activity/internal/clock"
	apperrors "github.com/kurihiro0119/github-repo-activity/internal/errors"
	"github.com/kurihiro0119/github-repo-activity/internal/ratelimit"
)

// Request performs one API call. It must honor ctx, which carries the
// per-request timeout.
type Request func(ctx context.Context) (*github.Response, error)

// Doer executes requests; *Executor is the production implementation.
type Doer interface {
	Execute(ctx context.Context, name string, req Request) error
}

// RetryPolicy controls how failed requests are retried
type RetryPolicy struct {
	MaxAttempts    int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	RequestTimeout time.Duration
	// SecondaryWait is used when a rate-limit rejection carries no reset
	// time or Retry-After.
	SecondaryWait time.Duration
}

// DefaultRetryPolicy returns the policy used when none is configured
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    5,
		BaseDelay:      time.Second,
		MaxDelay:       time.Minute,
		RequestTimeout: 30 * time.Second,
		SecondaryWait:  time.Minute,
	}
}

// State is the lifecycle state of one logical request
type State int

const (
	StatePending State = iota
	StateWaiting
	StateSending
	StateSucceeded
	StateRetryableFailed
	StatePermanentFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateWaiting:
		return "waiting"
	case StateSending:
		return "sending"
	case StateSucceeded:
		return "succeeded"
	case StateRetryableFailed:
		return "retryable_failed"
	case StatePermanentFailed:
		return "permanent_failed"
	}
	return "unknown"
}

// afterSend is the transition out of StateSending for each outcome class
var afterSend = map[apperrors.Class]State{
	apperrors.ClassNone:        StateSucceeded,
	apperrors.ClassRateLimited: StateWaiting,
	apperrors.ClassTransient:   StateRetryableFailed,
	apperrors.ClassPermanent:   StatePermanentFailed,
	apperrors.ClassCancelled:   StatePermanentFailed,
}

// Executor issues requests through the rate budget
type Executor struct {
	budget *ratelimit.Tracker
	clock  clock.Clock
	policy RetryPolicy
	logger *slog.Logger
}

// New creates an Executor. Zero policy fields fall back to DefaultRetryPolicy.
func New(budget *ratelimit.Tracker, clk clock.Clock, policy RetryPolicy, logger *slog.Logger) *Executor {
	def := DefaultRetryPolicy()
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = def.MaxAttempts
	}
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = def.BaseDelay
	}
	if policy.MaxDelay <= 0 {
		policy.MaxDelay = def.MaxDelay
	}
	if policy.SecondaryWait <= 0 {
		policy.SecondaryWait = def.SecondaryWait
	}
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		budget: budget,
		clock:  clk,
		policy: policy,
		logger: logger,
	}
}

// Policy returns the effective retry policy
func (e *Executor) Policy() RetryPolicy {
	return e.policy
}

// Execute runs req until it succeeds, fails permanently, runs out of
// attempts, or ctx is cancelled. Rate-limited outcomes wait for the budget to
// reset and do not count as attempts. Returned errors are *AppError values.
func (e *Executor) Execute(ctx context.Context, name string, req Request) error {
	bo := e.newBackOff()
	state := StatePending
	attempts := 0
	var lastErr *apperrors.AppError

	for {
		switch state {
		case StatePending:
			state = StateWaiting

		case StateWaiting:
			if err := e.budget.Acquire(ctx); err != nil {
				return apperrors.NewCancelledError(err)
			}
			state = StateSending

		case StateSending:
			attempts++
			appErr, retryAt := e.send(ctx, req)
			class := apperrors.ClassNone
			if appErr != nil {
				class = appErr.Class()
				lastErr = appErr
			}
			state = afterSend[class]

			switch class {
			case apperrors.ClassRateLimited:
				attempts--
				e.budget.Suspend(retryAt)
				e.logger.Warn("request rate limited",
					"request", name,
					"retry_at", retryAt.Format(time.RFC3339),
					"error", appErr)
			case apperrors.ClassTransient:
				e.logger.Info("request failed",
					"request", name,
					"attempt", attempts,
					"max_attempts", e.policy.MaxAttempts,
					"error", appErr)
			}

		case StateRetryableFailed:
			if attempts >= e.policy.MaxAttempts {
				lastErr = apperrors.NewExhaustedError(attempts, lastErr)
				state = StatePermanentFailed
				continue
			}
			delay := bo.NextBackOff()
			if err := e.clock.SleepUntil(ctx, e.clock.Now().Add(delay)); err != nil {
				return apperrors.NewCancelledError(err)
			}
			state = StateWaiting

		case StateSucceeded:
			return nil

		case StatePermanentFailed:
			return lastErr
		}
	}
}

func (e *Executor) send(ctx context.Context, req Request) (*apperrors.AppError, time.Time) {
	reqCtx := ctx
	if e.policy.RequestTimeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, e.policy.RequestTimeout)
		defer cancel()
	}

	resp, err := req(reqCtx)
	// responses answered from the local cache carry stale budget headers
	if resp != nil && resp.Response != nil && resp.Header.Get(httpcache.XFromCache) == "" {
		e.budget.Observe(resp.Header)
	} else {
		e.budget.Release()
	}
	return e.classify(ctx, resp, err)
}

func (e *Executor) newBackOff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = e.policy.BaseDelay
	bo.MaxInterval = e.policy.MaxDelay
	bo.Multiplier = 2
	bo.MaxElapsedTime = 0
	bo.Reset()
	return bo
}
