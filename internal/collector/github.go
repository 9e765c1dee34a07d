package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/go-github/v55/github"

	"github.com/kurihiro0119/github-repo-activity/internal/aggregator"
	"github.com/kurihiro0119/github-repo-activity/internal/clock"
	"github.com/kurihiro0119/github-repo-activity/internal/domain"
	apperrors "github.com/kurihiro0119/github-repo-activity/internal/errors"
	"github.com/kurihiro0119/github-repo-activity/internal/executor"
	"github.com/kurihiro0119/github-repo-activity/internal/pager"
)

const defaultActivityWindow = 90 * 24 * time.Hour

// githubCollector implements Collector using the GitHub REST API
type githubCollector struct {
	client   *github.Client
	doer     executor.Doer
	ancestry AncestryChecker
	clock    clock.Clock
	window   time.Duration
	logger   *slog.Logger

	mu       sync.Mutex
	branches map[domain.OwnerRepo]string // default branch per repository
}

// Option configures the collector
type Option func(*githubCollector)

// WithAncestryChecker replaces the compare-API ancestry check
func WithAncestryChecker(a AncestryChecker) Option {
	return func(c *githubCollector) {
		c.ancestry = a
	}
}

// WithClock sets the clock used to compute activity windows
func WithClock(clk clock.Clock) Option {
	return func(c *githubCollector) {
		c.clock = clk
	}
}

// WithActivityWindow sets the default look-back of the activity summary
func WithActivityWindow(d time.Duration) Option {
	return func(c *githubCollector) {
		if d > 0 {
			c.window = d
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(c *githubCollector) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewGitHubCollector creates a collector that sends every request through doer
func NewGitHubCollector(client *github.Client, doer executor.Doer, opts ...Option) Collector {
	c := &githubCollector{
		client:   client,
		doer:     doer,
		clock:    clock.Real(),
		window:   defaultActivityWindow,
		logger:   slog.Default(),
		branches: make(map[domain.OwnerRepo]string),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.ancestry == nil {
		c.ancestry = NewCompareAncestry(client, doer)
	}
	return c
}

// Fetch dispatches on spec.Kind
func (c *githubCollector) Fetch(spec domain.FetchSpec) pager.Stream[domain.Record] {
	switch spec.Kind {
	case domain.KindOverview:
		return asRecords(c.Overview(spec))
	case domain.KindCommits:
		return asRecords(c.Commits(spec))
	case domain.KindIssues:
		return asRecords(c.Issues(spec))
	case domain.KindPullRequests:
		return asRecords(c.PullRequests(spec))
	case domain.KindContributors:
		return asRecords(c.Contributors(spec))
	case domain.KindBranches:
		return asRecords(c.Branches(spec))
	case domain.KindEvents:
		return asRecords(c.Events(spec))
	case domain.KindStars:
		return asRecords(c.Stars(spec))
	case domain.KindActivitySummary:
		return asRecords(c.ActivitySummary(spec))
	}
	return pager.Failed[domain.Record](apperrors.NewBadRequestError(fmt.Sprintf("unknown resource kind %q", spec.Kind)))
}

func asRecords[T domain.Record](s pager.Stream[T]) pager.Stream[domain.Record] {
	return pager.Map(s, func(v T) (domain.Record, bool) {
		return v, true
	})
}

func requestName(spec domain.FetchSpec, what string) string {
	return fmt.Sprintf("%s %s", spec.Repo, what)
}

// Overview retrieves repository metadata and languages
func (c *githubCollector) Overview(spec domain.FetchSpec) pager.Stream[domain.Overview] {
	owner, name := spec.Repo.Owner, spec.Repo.Name
	return pager.Lazy(func(ctx context.Context) ([]domain.Overview, error) {
		repo, err := c.getRepository(ctx, spec.Repo)
		if err != nil {
			return nil, err
		}

		var languages map[string]int
		err = c.doer.Execute(ctx, requestName(spec, "languages"), func(ctx context.Context) (*github.Response, error) {
			var resp *github.Response
			var err error
			languages, resp, err = c.client.Repositories.ListLanguages(ctx, owner, name)
			return resp, err
		})
		ov := toOverview(repo, languages)
		if err != nil {
			// metadata alone is still worth keeping
			return []domain.Overview{ov}, fmt.Errorf("failed to list languages for %s: %w", spec.Repo, err)
		}
		return []domain.Overview{ov}, nil
	})
}

func (c *githubCollector) getRepository(ctx context.Context, repo domain.OwnerRepo) (*github.Repository, error) {
	var r *github.Repository
	err := c.doer.Execute(ctx, repo.String()+" repository", func(ctx context.Context) (*github.Response, error) {
		var resp *github.Response
		var err error
		r, resp, err = c.client.Repositories.Get(ctx, repo.Owner, repo.Name)
		return resp, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get repository %s: %w", repo, err)
	}

	c.mu.Lock()
	c.branches[repo] = r.GetDefaultBranch()
	c.mu.Unlock()
	return r, nil
}

func (c *githubCollector) defaultBranch(ctx context.Context, repo domain.OwnerRepo) (string, error) {
	c.mu.Lock()
	branch, ok := c.branches[repo]
	c.mu.Unlock()
	if ok {
		return branch, nil
	}

	r, err := c.getRepository(ctx, repo)
	if err != nil {
		return "", err
	}
	return r.GetDefaultBranch(), nil
}

// Commits retrieves commits for a repository
func (c *githubCollector) Commits(spec domain.FetchSpec) pager.Stream[domain.Commit] {
	opts := github.CommitsListOptions{
		Since: spec.Since,
		Until: spec.Until,
	}

	pages := pager.Drain(c.doer, requestName(spec, "commits"), func(ctx context.Context, lo github.ListOptions) ([]*github.RepositoryCommit, *github.Response, error) {
		o := opts
		o.ListOptions = lo
		commits, resp, err := c.client.Repositories.ListCommits(ctx, spec.Repo.Owner, spec.Repo.Name, &o)
		if err != nil && resp != nil && resp.StatusCode == http.StatusConflict {
			// empty repository
			return nil, resp, nil
		}
		return commits, resp, err
	}, spec.ItemCap)

	return pager.Map(pages, func(rc *github.RepositoryCommit) (domain.Commit, bool) {
		return toCommit(rc), true
	})
}

// Issues retrieves issues for a repository; the API mixes in pull requests,
// which are dropped here.
func (c *githubCollector) Issues(spec domain.FetchSpec) pager.Stream[domain.Issue] {
	opts := github.IssueListByRepoOptions{
		State:     "all",
		Sort:      "created",
		Direction: "desc",
		Since:     spec.Since,
	}

	pages := pager.Drain(c.doer, requestName(spec, "issues"), func(ctx context.Context, lo github.ListOptions) ([]*github.Issue, *github.Response, error) {
		o := opts
		o.ListOptions = lo
		return c.client.Issues.ListByRepo(ctx, spec.Repo.Owner, spec.Repo.Name, &o)
	}, 0)

	issues := pager.Map(pages, func(is *github.Issue) (domain.Issue, bool) {
		if is.IsPullRequest() {
			return domain.Issue{}, false
		}
		return toIssue(is), true
	})
	return pager.Limit(issues, spec.ItemCap)
}

// PullRequests retrieves pull requests, newest first. Listing stops at the
// first pull request created before spec.Since.
func (c *githubCollector) PullRequests(spec domain.FetchSpec) pager.Stream[domain.PullRequest] {
	opts := github.PullRequestListOptions{
		State:     "all",
		Sort:      "created",
		Direction: "desc",
	}

	pages := pager.Drain(c.doer, requestName(spec, "pull requests"), func(ctx context.Context, lo github.ListOptions) ([]*github.PullRequest, *github.Response, error) {
		o := opts
		o.ListOptions = lo
		return c.client.PullRequests.List(ctx, spec.Repo.Owner, spec.Repo.Name, &o)
	}, spec.ItemCap)

	if !spec.Since.IsZero() {
		// PRs are sorted by created date desc, so we can stop here
		pages = pager.TakeWhile(pages, func(pr *github.PullRequest) bool {
			return !pr.GetCreatedAt().Time.Before(spec.Since)
		})
	}

	return pager.Map(pages, func(pr *github.PullRequest) (domain.PullRequest, bool) {
		if !spec.Until.IsZero() && pr.GetCreatedAt().Time.After(spec.Until) {
			return domain.PullRequest{}, false
		}
		return toPullRequest(pr), true
	})
}

// Contributors retrieves contributors for a repository
func (c *githubCollector) Contributors(spec domain.FetchSpec) pager.Stream[domain.Contributor] {
	pages := pager.Drain(c.doer, requestName(spec, "contributors"), func(ctx context.Context, lo github.ListOptions) ([]*github.Contributor, *github.Response, error) {
		return c.client.Repositories.ListContributors(ctx, spec.Repo.Owner, spec.Repo.Name, &github.ListContributorsOptions{ListOptions: lo})
	}, spec.ItemCap)

	return pager.Map(pages, func(ct *github.Contributor) (domain.Contributor, bool) {
		return domain.Contributor{
			Login:         ct.GetLogin(),
			ID:            ct.GetID(),
			Type:          ct.GetType(),
			Contributions: ct.GetContributions(),
		}, true
	})
}

// Branches retrieves branches for a repository
func (c *githubCollector) Branches(spec domain.FetchSpec) pager.Stream[domain.Branch] {
	pages := pager.Drain(c.doer, requestName(spec, "branches"), func(ctx context.Context, lo github.ListOptions) ([]*github.Branch, *github.Response, error) {
		return c.client.Repositories.ListBranches(ctx, spec.Repo.Owner, spec.Repo.Name, &github.BranchListOptions{ListOptions: lo})
	}, spec.ItemCap)

	return pager.Map(pages, func(b *github.Branch) (domain.Branch, bool) {
		return domain.Branch{
			Name:      b.GetName(),
			HeadSHA:   b.GetCommit().GetSHA(),
			Protected: b.GetProtected(),
		}, true
	})
}

// Stars retrieves stargazers for a repository
func (c *githubCollector) Stars(spec domain.FetchSpec) pager.Stream[domain.Star] {
	pages := pager.Drain(c.doer, requestName(spec, "stargazers"), func(ctx context.Context, lo github.ListOptions) ([]*github.Stargazer, *github.Response, error) {
		return c.client.Activity.ListStargazers(ctx, spec.Repo.Owner, spec.Repo.Name, &lo)
	}, spec.ItemCap)

	return pager.Map(pages, func(s *github.Stargazer) (domain.Star, bool) {
		return domain.Star{
			Login:     s.GetUser().GetLogin(),
			StarredAt: s.GetStarredAt().Time,
		}, true
	})
}

// Events retrieves repository events. The events are read in full (the API
// keeps at most a few hundred) because push classification needs the
// previous push on the same branch.
func (c *githubCollector) Events(spec domain.FetchSpec) pager.Stream[domain.Event] {
	return pager.Lazy(func(ctx context.Context) ([]domain.Event, error) {
		return c.collectEvents(ctx, spec)
	})
}

func (c *githubCollector) collectEvents(ctx context.Context, spec domain.FetchSpec) ([]domain.Event, error) {
	pages := pager.Drain(c.doer, requestName(spec, "events"), func(ctx context.Context, lo github.ListOptions) ([]*github.Event, *github.Response, error) {
		return c.client.Activity.ListRepositoryEvents(ctx, spec.Repo.Owner, spec.Repo.Name, &lo)
	}, spec.ItemCap)

	var raw []rawEvent
	for pages.Next(ctx) {
		ev := toRawEvent(pages.Item())
		if !spec.Since.IsZero() && ev.CreatedAt.Before(spec.Since) {
			continue
		}
		raw = append(raw, ev)
	}
	fetchErr := pages.Err()

	branch, err := c.defaultBranch(ctx, spec.Repo)
	if err != nil {
		c.logger.Warn("default branch unknown, direct pushes not flagged", "repo", spec.Repo.String(), "error", err)
	}

	events, err := deriveEvents(ctx, spec.Repo, raw, branch, c.ancestry, c.logger)
	if err != nil {
		return events, err
	}
	return events, fetchErr
}

// ActivitySummary aggregates commits and events inside the window
// [spec.Since, spec.Until]. A zero Since means the default look-back.
func (c *githubCollector) ActivitySummary(spec domain.FetchSpec) pager.Stream[domain.ActivitySummary] {
	return pager.Lazy(func(ctx context.Context) ([]domain.ActivitySummary, error) {
		window := spec
		if window.Until.IsZero() {
			window.Until = c.clock.Now()
		}
		if window.Since.IsZero() {
			window.Since = window.Until.Add(-c.window)
		}

		commitSpec := window
		commitSpec.Kind = domain.KindCommits
		commits, commitErr := pager.Collect(ctx, c.Commits(commitSpec))
		if commitErr != nil {
			commitErr = fmt.Errorf("activity summary commits: %w", commitErr)
		}

		var events []domain.Event
		var eventErr error
		if !apperrors.IsCancelled(commitErr) {
			eventSpec := window
			eventSpec.Kind = domain.KindEvents
			events, eventErr = c.collectEvents(ctx, eventSpec)
			if eventErr != nil {
				eventErr = fmt.Errorf("activity summary events: %w", eventErr)
			}
		}

		err := errors.Join(commitErr, eventErr)
		if err != nil && len(commits) == 0 && len(events) == 0 {
			return nil, err
		}

		// a summary over what was gathered is still returned with the error
		summary := aggregator.Summarize(commits, events, domain.TimeRange{
			Start:       window.Since,
			End:         window.Until,
			Granularity: "day",
		})
		summary.Incomplete = err != nil
		return []domain.ActivitySummary{summary}, err
	})
}

func toOverview(r *github.Repository, languages map[string]int) domain.Overview {
	ov := domain.Overview{
		FullName:      r.GetFullName(),
		Description:   r.GetDescription(),
		HTMLURL:       r.GetHTMLURL(),
		DefaultBranch: r.GetDefaultBranch(),
		Language:      r.GetLanguage(),
		Languages:     languages,
		License:       r.GetLicense().GetSPDXID(),
		Stars:         r.GetStargazersCount(),
		Forks:         r.GetForksCount(),
		Watchers:      r.GetSubscribersCount(),
		OpenIssues:    r.GetOpenIssuesCount(),
		SizeKB:        r.GetSize(),
		Private:       r.GetPrivate(),
		Archived:      r.GetArchived(),
		CreatedAt:     r.GetCreatedAt().Time,
		UpdatedAt:     r.GetUpdatedAt().Time,
		PushedAt:      r.GetPushedAt().Time,
	}
	if len(r.Topics) > 0 {
		ov.Topics = append([]string(nil), r.Topics...)
		sort.Strings(ov.Topics)
	}
	return ov
}

func toCommit(rc *github.RepositoryCommit) domain.Commit {
	c := domain.Commit{
		SHA:         rc.GetSHA(),
		HTMLURL:     rc.GetHTMLURL(),
		AuthorLogin: rc.GetAuthor().GetLogin(),
		Committer:   rc.GetCommitter().GetLogin(),
	}
	if commit := rc.GetCommit(); commit != nil {
		c.Message = commit.GetMessage()
		c.AuthorName = commit.GetAuthor().GetName()
		c.AuthorEmail = commit.GetAuthor().GetEmail()
		c.Date = commit.GetAuthor().GetDate().Time
	}
	for _, p := range rc.Parents {
		c.Parents = append(c.Parents, p.GetSHA())
	}
	return c
}

func toIssue(is *github.Issue) domain.Issue {
	issue := domain.Issue{
		Number:    is.GetNumber(),
		Title:     is.GetTitle(),
		State:     is.GetState(),
		Author:    is.GetUser().GetLogin(),
		Comments:  is.GetComments(),
		CreatedAt: is.GetCreatedAt().Time,
		UpdatedAt: is.GetUpdatedAt().Time,
		HTMLURL:   is.GetHTMLURL(),
	}
	for _, l := range is.Labels {
		issue.Labels = append(issue.Labels, l.GetName())
	}
	if is.ClosedAt != nil {
		t := is.ClosedAt.Time
		issue.ClosedAt = &t
	}
	return issue
}

func toPullRequest(pr *github.PullRequest) domain.PullRequest {
	state := pr.GetState()
	if pr.MergedAt != nil {
		state = "merged"
	}

	p := domain.PullRequest{
		Number:    pr.GetNumber(),
		Title:     pr.GetTitle(),
		State:     state,
		Author:    pr.GetUser().GetLogin(),
		Draft:     pr.GetDraft(),
		HeadRef:   pr.GetHead().GetRef(),
		BaseRef:   pr.GetBase().GetRef(),
		CreatedAt: pr.GetCreatedAt().Time,
		UpdatedAt: pr.GetUpdatedAt().Time,
		HTMLURL:   pr.GetHTMLURL(),
	}
	if pr.ClosedAt != nil {
		t := pr.ClosedAt.Time
		p.ClosedAt = &t
	}
	if pr.MergedAt != nil {
		t := pr.MergedAt.Time
		p.MergedAt = &t
	}
	return p
}
