// Package scheduler runs collection jobs on a bounded pool of workers.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/kurihiro0119/github-repo-activity/internal/clock"
	"github.com/kurihiro0119/github-repo-activity/internal/domain"
	apperrors "github.com/kurihiro0119/github-repo-activity/internal/errors"
)

// DefaultWorkers is used when a batch asks for fewer than one worker
const DefaultWorkers = 3

// JobRunner collects one repository
type JobRunner interface {
	Run(ctx context.Context, repo domain.OwnerRepo, kinds []domain.ResourceKind) *domain.JobResult
}

// Scheduler fans jobs out to workers and gathers their results
type Scheduler struct {
	runner JobRunner
	clock  clock.Clock
	logger *slog.Logger
	// OnJobDone is called once per finished job, in completion order, from
	// the goroutine that called RunBatch or RunJobs.
	OnJobDone func(*domain.JobResult)
}

// Option configures a Scheduler
type Option func(*Scheduler)

// WithClock sets the clock used for report timestamps
func WithClock(clk clock.Clock) Option {
	return func(s *Scheduler) {
		s.clock = clk
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithJobDone sets the OnJobDone hook
func WithJobDone(fn func(*domain.JobResult)) Option {
	return func(s *Scheduler) {
		s.OnJobDone = fn
	}
}

// New creates a Scheduler
func New(runner JobRunner, opts ...Option) *Scheduler {
	s := &Scheduler{
		runner: runner,
		clock:  clock.Real(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RunBatch collects the same kinds from every repository
func (s *Scheduler) RunBatch(ctx context.Context, repos []domain.OwnerRepo, kinds []domain.ResourceKind, workers int) *domain.BatchReport {
	jobs := make([]domain.JobRequest, len(repos))
	for i, repo := range repos {
		jobs[i] = domain.JobRequest{Repo: repo, Kinds: kinds}
	}
	return s.RunJobs(ctx, jobs, workers)
}

// RunJobs runs jobs with at most workers of them in flight. Every job yields
// exactly one result, even when it panics or the context is cancelled
// before it starts. Results appear in the report in completion order.
func (s *Scheduler) RunJobs(ctx context.Context, jobs []domain.JobRequest, workers int) *domain.BatchReport {
	if workers < 1 {
		workers = DefaultWorkers
	}
	report := &domain.BatchReport{StartedAt: s.clock.Now()}
	s.logger.Info("batch started", "jobs", len(jobs), "workers", workers)

	results := make(chan *domain.JobResult, len(jobs))

	var g errgroup.Group
	g.SetLimit(workers)
	go func() {
		for _, req := range jobs {
			g.Go(func() error {
				results <- s.runJob(ctx, req)
				return nil
			})
		}
		_ = g.Wait()
		close(results)
	}()

	for result := range results {
		report.Add(result)
		if s.OnJobDone != nil {
			s.OnJobDone(result)
		}
	}

	report.Cancelled = ctx.Err() != nil
	report.FinishedAt = s.clock.Now()
	s.logger.Info("batch finished",
		"succeeded", report.Succeeded,
		"partial", report.Partial,
		"failed", report.Failed,
		"cancelled", report.Cancelled)
	return report
}

func (s *Scheduler) runJob(ctx context.Context, req domain.JobRequest) (result *domain.JobResult) {
	kinds := domain.OrderKinds(req.Kinds)

	if err := ctx.Err(); err != nil {
		return s.failedJob(req.Repo, kinds, apperrors.NewCancelledError(err))
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("job panicked", "repo", req.Repo.String(), "panic", r)
			result = s.failedJob(req.Repo, kinds, apperrors.NewInternalError(fmt.Sprintf("panic: %v", r), nil))
		}
	}()

	result = s.runner.Run(ctx, req.Repo, kinds)
	if err := ctx.Err(); err != nil && result.Status != domain.JobSucceeded {
		result.Status = domain.JobFailed
		result.Error = apperrors.NewCancelledError(err).Error()
	}
	return result
}

func (s *Scheduler) failedJob(repo domain.OwnerRepo, kinds []domain.ResourceKind, err *apperrors.AppError) *domain.JobResult {
	now := s.clock.Now()
	result := &domain.JobResult{
		Repo:       repo,
		Requested:  kinds,
		Resources:  make(map[domain.ResourceKind]*domain.ResourceStatus, len(kinds)),
		Status:     domain.JobFailed,
		Error:      err.Error(),
		StartedAt:  now,
		FinishedAt: now,
	}
	for _, k := range kinds {
		result.Resources[k] = &domain.ResourceStatus{
			State:     domain.ResourceFailed,
			Error:     err.Error(),
			ErrorKind: apperrors.FetchKind(err),
		}
	}
	return result
}
