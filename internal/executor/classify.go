package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/go-github/v55/github"

	apperrors "github.com/kurihiro0119/github-repo-activity/internal/errors"
	"github.com/kurihiro0119/github-repo-activity/internal/ratelimit"
)

// classify maps the outcome of one request onto the error taxonomy. For
// rate-limited outcomes it also returns the earliest time a retry may be sent.
func (e *Executor) classify(parent context.Context, resp *github.Response, err error) (*apperrors.AppError, time.Time) {
	if parent.Err() != nil {
		return apperrors.NewCancelledError(parent.Err()), time.Time{}
	}

	if err == nil {
		if resp != nil && resp.Response != nil && resp.StatusCode == http.StatusAccepted {
			return apperrors.NewServerError("result not ready (202 Accepted)", nil), time.Time{}
		}
		return nil, time.Time{}
	}

	now := e.clock.Now()

	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		until := rateErr.Rate.Reset.Time
		if !until.After(now) {
			until = now.Add(e.policy.SecondaryWait)
		}
		return apperrors.NewRateLimitedError("primary rate limit exceeded", err), until
	}

	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		wait := e.policy.SecondaryWait
		if abuseErr.RetryAfter != nil {
			wait = *abuseErr.RetryAfter
		}
		return apperrors.NewRateLimitedError("secondary rate limit exceeded", err), now.Add(wait)
	}

	var acceptedErr *github.AcceptedError
	if errors.As(err, &acceptedErr) {
		return apperrors.NewServerError("result not ready (202 Accepted)", err), time.Time{}
	}

	var respErr *github.ErrorResponse
	if errors.As(err, &respErr) && respErr.Response != nil {
		return e.classifyStatus(respErr.Response, err, now)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.NewNetworkError("request timed out", err), time.Time{}
	}
	var netErr net.Error
	var urlErr *url.Error
	if errors.As(err, &netErr) || errors.As(err, &urlErr) || errors.Is(err, io.ErrUnexpectedEOF) {
		return apperrors.NewNetworkError("request failed", err), time.Time{}
	}

	return apperrors.NewInternalError("unexpected request failure", err), time.Time{}
}

func (e *Executor) classifyStatus(r *http.Response, err error, now time.Time) (*apperrors.AppError, time.Time) {
	status := r.StatusCode
	msg := fmt.Sprintf("status %d", status)
	if r.Request != nil && r.Request.URL != nil {
		msg = fmt.Sprintf("%s %s: %d", r.Request.Method, r.Request.URL.Path, status)
	}

	switch {
	case status == http.StatusTooManyRequests,
		status == http.StatusForbidden && r.Header.Get(ratelimit.HeaderRemaining) == "0":
		return apperrors.NewRateLimitedError(msg, err), e.rateLimitedUntil(r.Header, now)
	case status == http.StatusUnauthorized:
		return &apperrors.AppError{Code: apperrors.ErrCodeUnauthorized, Message: msg, Err: err}, time.Time{}
	case status == http.StatusForbidden:
		return &apperrors.AppError{Code: apperrors.ErrCodeForbidden, Message: msg, Err: err}, time.Time{}
	case status == http.StatusNotFound:
		return &apperrors.AppError{Code: apperrors.ErrCodeNotFound, Message: msg, Err: err}, time.Time{}
	case status == http.StatusConflict:
		return &apperrors.AppError{Code: apperrors.ErrCodeConflict, Message: msg, Err: err}, time.Time{}
	case status >= 500:
		return apperrors.NewServerError(msg, err), time.Time{}
	default:
		return &apperrors.AppError{Code: apperrors.ErrCodeBadRequest, Message: msg, Err: err}, time.Time{}
	}
}

// rateLimitedUntil prefers Retry-After, then the reported reset time when the
// budget is spent, then the configured secondary wait.
func (e *Executor) rateLimitedUntil(h http.Header, now time.Time) time.Time {
	if d, ok := ratelimit.RetryAfter(h); ok {
		return now.Add(d)
	}
	if h.Get(ratelimit.HeaderRemaining) == "0" {
		if reset, err := strconv.ParseInt(h.Get(ratelimit.HeaderReset), 10, 64); err == nil {
			if t := time.Unix(reset, 0); t.After(now) {
				return t
			}
		}
	}
	return now.Add(e.policy.SecondaryWait)
}
