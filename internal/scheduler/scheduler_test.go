package scheduler_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurihiro0119/github-repo-activity/internal/domain"
	apperrors "github.com/kurihiro0119/github-repo-activity/internal/errors"
	"github.com/kurihiro0119/github-repo-activity/internal/scheduler"
)

type runnerFunc func(ctx context.Context, repo domain.OwnerRepo, kinds []domain.ResourceKind) *domain.JobResult

func (f runnerFunc) Run(ctx context.Context, repo domain.OwnerRepo, kinds []domain.ResourceKind) *domain.JobResult {
	return f(ctx, repo, kinds)
}

func result(repo domain.OwnerRepo, kinds []domain.ResourceKind, state domain.ResourceState) *domain.JobResult {
	r := &domain.JobResult{
		Repo:      repo,
		Requested: kinds,
		Resources: map[domain.ResourceKind]*domain.ResourceStatus{},
	}
	for _, k := range kinds {
		r.Resources[k] = &domain.ResourceStatus{State: state}
	}
	r.Settle()
	return r
}

func repos(names ...string) []domain.OwnerRepo {
	out := make([]domain.OwnerRepo, len(names))
	for i, n := range names {
		out[i] = domain.OwnerRepo{Owner: "octo", Name: n}
	}
	return out
}

func newScheduler(r scheduler.JobRunner, opts ...scheduler.Option) *scheduler.Scheduler {
	opts = append([]scheduler.Option{scheduler.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)
	return scheduler.New(r, opts...)
}

var kinds = []domain.ResourceKind{domain.KindOverview}

func TestRunBatch_IsolatesFailures(t *testing.T) {
	var inFlight, maxInFlight int32
	runner := runnerFunc(func(ctx context.Context, repo domain.OwnerRepo, kinds []domain.ResourceKind) *domain.JobResult {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			m := atomic.LoadInt32(&maxInFlight)
			if n <= m || atomic.CompareAndSwapInt32(&maxInFlight, m, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)

		if repo.Name == "r3" {
			return result(repo, kinds, domain.ResourceFailed)
		}
		return result(repo, kinds, domain.ResourceOK)
	})

	var done []string
	s := newScheduler(runner, scheduler.WithJobDone(func(r *domain.JobResult) {
		done = append(done, r.Repo.Name)
	}))

	report := s.RunBatch(context.Background(), repos("r1", "r2", "r3", "r4", "r5"), kinds, 2)

	assert.Equal(t, 4, report.Succeeded)
	assert.Equal(t, 1, report.Failed)
	assert.Len(t, report.Jobs, 5)
	assert.False(t, report.Cancelled)
	assert.LessOrEqual(t, atomic.LoadInt32(&maxInFlight), int32(2))
	assert.ElementsMatch(t, []string{"r1", "r2", "r3", "r4", "r5"}, done)
	for i, job := range report.Jobs {
		assert.Equal(t, done[i], job.Repo.Name, "report keeps completion order")
	}
}

func TestRunJobs_RecoversPanics(t *testing.T) {
	runner := runnerFunc(func(ctx context.Context, repo domain.OwnerRepo, kinds []domain.ResourceKind) *domain.JobResult {
		if repo.Name == "bad" {
			panic("nil map")
		}
		return result(repo, kinds, domain.ResourceOK)
	})

	report := newScheduler(runner).RunBatch(context.Background(), repos("good", "bad"), kinds, 2)

	require.Len(t, report.Jobs, 2)
	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, 1, report.Failed)
	for _, job := range report.Jobs {
		if job.Repo.Name == "bad" {
			assert.Equal(t, domain.JobFailed, job.Status)
			assert.Contains(t, job.Error, string(apperrors.ErrCodeInternal))
			assert.Contains(t, job.Error, "nil map")
		}
	}
}

func TestRunJobs_CancelledBeforeStart(t *testing.T) {
	var calls int32
	runner := runnerFunc(func(ctx context.Context, repo domain.OwnerRepo, kinds []domain.ResourceKind) *domain.JobResult {
		atomic.AddInt32(&calls, 1)
		return result(repo, kinds, domain.ResourceOK)
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report := newScheduler(runner).RunBatch(ctx, repos("a", "b", "c"), kinds, 2)

	assert.Zero(t, atomic.LoadInt32(&calls))
	assert.True(t, report.Cancelled)
	assert.Equal(t, 3, report.Failed)
	for _, job := range report.Jobs {
		assert.Contains(t, job.Error, string(apperrors.ErrCodeCancelled))
		assert.Equal(t, "Cancelled", job.Resources[domain.KindOverview].ErrorKind)
	}
}

func TestRunJobs_CancelledMidBatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var ran []string
	runner := runnerFunc(func(ctx context.Context, repo domain.OwnerRepo, kinds []domain.ResourceKind) *domain.JobResult {
		mu.Lock()
		ran = append(ran, repo.Name)
		mu.Unlock()
		if repo.Name == "second" {
			cancel()
			return result(repo, kinds, domain.ResourcePartial)
		}
		return result(repo, kinds, domain.ResourceOK)
	})

	report := newScheduler(runner).RunBatch(ctx, repos("first", "second", "third"), kinds, 1)

	assert.Equal(t, []string{"first", "second"}, ran)
	assert.True(t, report.Cancelled)
	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, 2, report.Failed)
	assert.Equal(t, "second", report.Jobs[1].Repo.Name)
	assert.Contains(t, report.Jobs[1].Error, string(apperrors.ErrCodeCancelled))
}

func TestRunJobs_DefaultsWorkers(t *testing.T) {
	runner := runnerFunc(func(ctx context.Context, repo domain.OwnerRepo, kinds []domain.ResourceKind) *domain.JobResult {
		return result(repo, kinds, domain.ResourceOK)
	})

	report := newScheduler(runner).RunJobs(context.Background(), []domain.JobRequest{
		{Repo: domain.OwnerRepo{Owner: "o", Name: "r"}, Kinds: []domain.ResourceKind{domain.KindStars, domain.KindOverview}},
	}, 0)

	require.Len(t, report.Jobs, 1)
	assert.Equal(t, []domain.ResourceKind{domain.KindOverview, domain.KindStars}, report.Jobs[0].Requested)
}
