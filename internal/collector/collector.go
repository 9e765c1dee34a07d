package collector

import (
	"github.com/kurihiro0119/github-repo-activity/internal/domain"
	"github.com/kurihiro0119/github-repo-activity/internal/pager"
)

// Collector defines the interface for collecting GitHub repository data.
// Every method returns a lazy stream; no request is sent before the first
// call to Next.
type Collector interface {
	// Fetch returns the records of spec.Kind
	Fetch(spec domain.FetchSpec) pager.Stream[domain.Record]

	// Overview retrieves repository metadata and languages
	Overview(spec domain.FetchSpec) pager.Stream[domain.Overview]

	// Commits retrieves commits on the default branch, newest first
	Commits(spec domain.FetchSpec) pager.Stream[domain.Commit]

	// Issues retrieves issues, excluding pull requests
	Issues(spec domain.FetchSpec) pager.Stream[domain.Issue]

	// PullRequests retrieves pull requests created since spec.Since
	PullRequests(spec domain.FetchSpec) pager.Stream[domain.PullRequest]

	// Contributors retrieves contributors ranked by commit count
	Contributors(spec domain.FetchSpec) pager.Stream[domain.Contributor]

	// Branches retrieves branches and their head commits
	Branches(spec domain.FetchSpec) pager.Stream[domain.Branch]

	// Events retrieves recent events with force-push, direct-push and
	// branch create/delete fields derived
	Events(spec domain.FetchSpec) pager.Stream[domain.Event]

	// Stars retrieves stargazers
	Stars(spec domain.FetchSpec) pager.Stream[domain.Star]

	// ActivitySummary aggregates commits and events inside the activity window
	ActivitySummary(spec domain.FetchSpec) pager.Stream[domain.ActivitySummary]
}
