// Package job collects the requested resources of one repository.
package job

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kurihiro0119/github-repo-activity/internal/clock"
	"github.com/kurihiro0119/github-repo-activity/internal/domain"
	apperrors "github.com/kurihiro0119/github-repo-activity/internal/errors"
	"github.com/kurihiro0119/github-repo-activity/internal/pager"
)

// DefaultChunkSize is how many records are handed to the sink at once
const DefaultChunkSize = 100

// Fetcher produces the records of one resource kind
type Fetcher interface {
	Fetch(spec domain.FetchSpec) pager.Stream[domain.Record]
}

// Sink persists records as they stream in. BeginCollection replaces the
// stored collection of a repository and kind; SaveRecords appends to it.
type Sink interface {
	BeginCollection(ctx context.Context, repo domain.OwnerRepo, kind domain.ResourceKind, collectedAt time.Time) error
	SaveRecords(ctx context.Context, records []*domain.StoredRecord) error
}

// Limits caps the number of items fetched per resource kind; 0 is unlimited
type Limits map[domain.ResourceKind]int

// DefaultLimits returns the default item caps
func DefaultLimits() Limits {
	return Limits{
		domain.KindCommits:      500,
		domain.KindIssues:       200,
		domain.KindPullRequests: 200,
		domain.KindContributors: 100,
		domain.KindStars:        100,
		domain.KindBranches:     0,
		domain.KindEvents:       300,
	}
}

// Runner runs the resource fetches of a job one after another
type Runner struct {
	fetcher   Fetcher
	sink      Sink
	limits    Limits
	chunkSize int
	clock     clock.Clock
	logger    *slog.Logger
}

// Option configures a Runner
type Option func(*Runner)

// WithLimits sets per-kind item caps
func WithLimits(limits Limits) Option {
	return func(r *Runner) {
		r.limits = limits
	}
}

// WithChunkSize sets the sink chunk size
func WithChunkSize(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.chunkSize = n
		}
	}
}

// WithClock sets the clock used for timestamps
func WithClock(clk clock.Clock) Option {
	return func(r *Runner) {
		r.clock = clk
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRunner creates a Runner. sink may be nil, in which case records are
// only counted.
func NewRunner(fetcher Fetcher, sink Sink, opts ...Option) *Runner {
	r := &Runner{
		fetcher:   fetcher,
		sink:      sink,
		limits:    DefaultLimits(),
		chunkSize: DefaultChunkSize,
		clock:     clock.Real(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run fetches kinds of repo in catalogue order. A failing resource does not
// stop the job; its status records the error and any items gathered before
// it.
func (r *Runner) Run(ctx context.Context, repo domain.OwnerRepo, kinds []domain.ResourceKind) *domain.JobResult {
	kinds = domain.OrderKinds(kinds)
	result := &domain.JobResult{
		Repo:      repo,
		Requested: kinds,
		Resources: make(map[domain.ResourceKind]*domain.ResourceStatus, len(kinds)),
		StartedAt: r.clock.Now(),
	}

	log := r.logger.With("repo", repo.String())
	log.Info("job started", "resources", len(kinds))

	for _, kind := range kinds {
		if err := ctx.Err(); err != nil {
			result.Resources[kind] = failedStatus(apperrors.NewCancelledError(err))
			continue
		}

		began := r.clock.Now()
		status := r.runResource(ctx, repo, kind)
		result.Resources[kind] = status

		attrs := []any{
			"kind", string(kind),
			"state", string(status.State),
			"items", status.ItemCount,
			"duration", r.clock.Now().Sub(began),
		}
		if status.State == domain.ResourceOK {
			log.Info("resource collected", attrs...)
		} else {
			log.Warn("resource incomplete", append(attrs, "error", status.Error)...)
		}
	}

	if err := ctx.Err(); err != nil {
		result.Error = apperrors.NewCancelledError(err).Error()
	}
	result.FinishedAt = r.clock.Now()
	result.Settle()

	log.Info("job finished",
		"status", string(result.Status),
		"items", result.ItemCount(),
		"duration", result.Duration().Round(time.Millisecond))
	return result
}

func (r *Runner) runResource(ctx context.Context, repo domain.OwnerRepo, kind domain.ResourceKind) *domain.ResourceStatus {
	spec := domain.FetchSpec{
		Kind:    kind,
		Repo:    repo,
		ItemCap: r.limits[kind],
	}
	collectedAt := r.clock.Now()
	stream := r.fetcher.Fetch(spec)

	var (
		seq, saved int
		begun      bool
		buf        []*domain.StoredRecord
		err        error
	)
	begin := func() error {
		if begun || r.sink == nil {
			return nil
		}
		if err := r.sink.BeginCollection(ctx, repo, kind, collectedAt); err != nil {
			return fmt.Errorf("failed to start %s collection of %s: %w", kind, repo, err)
		}
		begun = true
		return nil
	}
	flush := func() error {
		if len(buf) == 0 {
			return nil
		}
		if err := begin(); err != nil {
			return err
		}
		if r.sink != nil {
			if err := r.sink.SaveRecords(ctx, buf); err != nil {
				return fmt.Errorf("failed to save %s records of %s: %w", kind, repo, err)
			}
		}
		saved += len(buf)
		buf = nil
		return nil
	}

	for stream.Next(ctx) {
		data, mErr := json.Marshal(stream.Item())
		if mErr != nil {
			err = apperrors.NewInternalError(fmt.Sprintf("failed to encode %s record", kind), mErr)
			break
		}
		buf = append(buf, &domain.StoredRecord{
			ID:          uuid.NewString(),
			Repo:        repo,
			Kind:        kind,
			Seq:         seq,
			Data:        data,
			CollectedAt: collectedAt,
		})
		seq++
		if len(buf) >= r.chunkSize {
			if err = flush(); err != nil {
				break
			}
		}
	}
	if err == nil {
		// items gathered before a fetch error are still kept
		err = stream.Err()
		if fErr := flush(); fErr != nil && err == nil {
			err = fErr
		}
		// an empty result still replaces the previous collection; a failed
		// fetch with nothing gathered leaves it in place
		if err == nil {
			err = begin()
		}
	}

	return resourceStatus(saved, err)
}

func resourceStatus(n int, err error) *domain.ResourceStatus {
	switch {
	case err == nil:
		return &domain.ResourceStatus{State: domain.ResourceOK, ItemCount: n}
	case n > 0:
		return &domain.ResourceStatus{
			State:     domain.ResourcePartial,
			ItemCount: n,
			Error:     err.Error(),
			ErrorKind: apperrors.FetchKind(err),
		}
	default:
		return failedStatus(err)
	}
}

func failedStatus(err error) *domain.ResourceStatus {
	return &domain.ResourceStatus{
		State:     domain.ResourceFailed,
		Error:     err.Error(),
		ErrorKind: apperrors.FetchKind(err),
	}
}
