package collector

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/go-github/v55/github"

	"github.com/kurihiro0119/github-repo-activity/internal/domain"
	"github.com/kurihiro0119/github-repo-activity/internal/executor"
)

// AncestryChecker answers whether one commit is reachable from another
type AncestryChecker interface {
	IsAncestor(ctx context.Context, repo domain.OwnerRepo, ancestor, descendant string) (bool, error)
}

// compareAncestry uses the compare API: descendant is ahead of (or
// identical to) ancestor exactly when ancestor is in its history.
type compareAncestry struct {
	client *github.Client
	doer   executor.Doer

	mu    sync.Mutex
	cache map[string]bool
}

// NewCompareAncestry creates an AncestryChecker backed by the compare API
func NewCompareAncestry(client *github.Client, doer executor.Doer) AncestryChecker {
	return &compareAncestry{
		client: client,
		doer:   doer,
		cache:  make(map[string]bool),
	}
}

func (a *compareAncestry) IsAncestor(ctx context.Context, repo domain.OwnerRepo, ancestor, descendant string) (bool, error) {
	if ancestor == descendant {
		return true, nil
	}

	key := repo.String() + ":" + ancestor + "..." + descendant
	a.mu.Lock()
	result, ok := a.cache[key]
	a.mu.Unlock()
	if ok {
		return result, nil
	}

	var cmp *github.CommitsComparison
	err := a.doer.Execute(ctx, fmt.Sprintf("%s compare %.7s...%.7s", repo, ancestor, descendant), func(ctx context.Context) (*github.Response, error) {
		var resp *github.Response
		var err error
		cmp, resp, err = a.client.Repositories.CompareCommits(ctx, repo.Owner, repo.Name, ancestor, descendant, &github.ListOptions{PerPage: 1})
		return resp, err
	})
	if err != nil {
		return false, err
	}

	switch cmp.GetStatus() {
	case "ahead", "identical":
		result = true
	default:
		result = false
	}

	a.mu.Lock()
	a.cache[key] = result
	a.mu.Unlock()
	return result, nil
}
