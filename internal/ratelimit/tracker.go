package ratelimit

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/kurihiro0119/github-repo-activity/internal/clock"
)

// GitHub rate limit response headers
const (
	HeaderLimit     = "X-RateLimit-Limit"
	HeaderRemaining = "X-RateLimit-Remaining"
	HeaderReset     = "X-RateLimit-Reset"
	HeaderRetry     = "Retry-After"
)

const (
	defaultLimit  = 5000 // GitHub API default limit for authenticated callers
	defaultWindow = time.Hour
	defaultMargin = 5 * time.Second
)

// Budget is a point-in-time view of the request budget
type Budget struct {
	Limit          int       `json:"limit"`
	Remaining      int       `json:"remaining"`
	InFlight       int       `json:"in_flight"`
	ResetAt        time.Time `json:"reset_at"`
	HoldUntil      time.Time `json:"hold_until,omitempty"`
	LastObservedAt time.Time `json:"last_observed_at"`
}

// Tracker is the request budget shared by every worker of a batch. Every
// request must pass through Acquire and then end with exactly one Observe
// (a response carrying budget headers) or Release (anything else).
type Tracker struct {
	mu         sync.Mutex
	clock      clock.Clock
	limit      int
	remaining  int
	inFlight   int
	resetAt    time.Time
	holdUntil  time.Time
	observedAt time.Time
	margin     time.Duration
	pacer      *rate.Limiter
	logger     *slog.Logger
}

// Option configures a Tracker
type Option func(*Tracker)

// WithLimit sets the full budget assumed after a reset
func WithLimit(limit int) Option {
	return func(t *Tracker) {
		if limit > 0 {
			t.limit = limit
			t.remaining = limit
		}
	}
}

// WithResetMargin sets how long to wait past the reported reset time
func WithResetMargin(margin time.Duration) Option {
	return func(t *Tracker) {
		if margin >= 0 {
			t.margin = margin
		}
	}
}

// WithPacing spaces requests to at most rps per second. Zero disables pacing.
func WithPacing(rps float64) Option {
	return func(t *Tracker) {
		if rps > 0 {
			t.pacer = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

// WithLogger sets the logger used for wait notices
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// New creates a Tracker that starts with an optimistic full budget
func New(clk clock.Clock, opts ...Option) *Tracker {
	if clk == nil {
		clk = clock.Real()
	}
	t := &Tracker{
		clock:     clk,
		limit:     defaultLimit,
		remaining: defaultLimit,
		resetAt:   clk.Now().Add(defaultWindow),
		margin:    defaultMargin,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Acquire blocks until a request may be sent and reserves one unit of budget.
// When the budget is spent it sleeps until the reset time plus the safety
// margin, then assumes a full budget until the next observation says otherwise.
// A hold set by Suspend is honored regardless of the remaining budget.
func (t *Tracker) Acquire(ctx context.Context) error {
	if t.pacer != nil {
		if err := t.pacer.Wait(ctx); err != nil {
			return err
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		t.mu.Lock()
		now := t.clock.Now()
		if !t.holdUntil.IsZero() {
			if releaseAt := t.holdUntil.Add(t.margin); now.Before(releaseAt) {
				t.mu.Unlock()
				t.logger.Warn("requests held after rate limit rejection",
					"until", releaseAt.Format(time.RFC3339),
					"wait", releaseAt.Sub(now).Round(time.Second))
				if err := t.clock.SleepUntil(ctx, releaseAt); err != nil {
					return err
				}
				continue
			}
			t.holdUntil = time.Time{}
		}

		if t.remaining > 0 {
			t.remaining--
			t.inFlight++
			t.mu.Unlock()
			return nil
		}

		releaseAt := t.resetAt.Add(t.margin)
		if t.resetAt.IsZero() || !now.Before(releaseAt) {
			t.remaining = t.limit
			t.resetAt = now.Add(defaultWindow)
			t.mu.Unlock()
			continue
		}
		t.mu.Unlock()

		t.logger.Warn("rate budget exhausted, waiting for reset",
			"reset_at", releaseAt.Format(time.RFC3339),
			"wait", releaseAt.Sub(now).Round(time.Second))
		if err := t.clock.SleepUntil(ctx, releaseAt); err != nil {
			return err
		}
	}
}

// Observe settles one acquired request with the budget its response
// reported. Requests still in flight were sent after the remote side counted,
// so they stay deducted from the reported remaining count. Headers without a
// remaining count only settle the request.
func (t *Tracker) Observe(h http.Header) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.settle()
	remaining, err := strconv.Atoi(h.Get(HeaderRemaining))
	if err != nil || remaining < 0 {
		return
	}

	t.remaining = max(0, remaining-t.inFlight)
	t.observedAt = t.clock.Now()
	if limit, err := strconv.Atoi(h.Get(HeaderLimit)); err == nil && limit > 0 {
		t.limit = limit
	}
	if reset, err := strconv.ParseInt(h.Get(HeaderReset), 10, 64); err == nil && reset > 0 {
		t.resetAt = time.Unix(reset, 0)
	}
}

// Release settles an acquired request that produced no budget information,
// such as a transport failure or a response served from cache
func (t *Tracker) Release() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.settle()
}

func (t *Tracker) settle() {
	if t.inFlight > 0 {
		t.inFlight--
	}
}

// Suspend holds every request until the given time. It is used when the
// remote side rejects a request for rate reasons; later observations do not
// lift the hold.
func (t *Tracker) Suspend(until time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if until.After(t.holdUntil) {
		t.holdUntil = until
	}
	t.remaining = 0
	t.resetAt = until
}

// Snapshot returns the current budget
func (t *Tracker) Snapshot() Budget {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Budget{
		Limit:          t.limit,
		Remaining:      t.remaining,
		InFlight:       t.inFlight,
		ResetAt:        t.resetAt,
		HoldUntil:      t.holdUntil,
		LastObservedAt: t.observedAt,
	}
}

// RetryAfter parses a Retry-After header given in seconds
func RetryAfter(h http.Header) (time.Duration, bool) {
	v := h.Get(HeaderRetry)
	if v == "" {
		return 0, false
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0, false
	}
	return time.Duration(secs) * time.Second, true
}
