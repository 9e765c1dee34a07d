package domain

import (
	"fmt"
	"strings"
	"time"
)

// ResourceKind names a category of repository data
type ResourceKind string

const (
	KindOverview        ResourceKind = "overview"
	KindCommits         ResourceKind = "commits"
	KindIssues          ResourceKind = "issues"
	KindPullRequests    ResourceKind = "pull_requests"
	KindContributors    ResourceKind = "contributors"
	KindBranches        ResourceKind = "branches"
	KindEvents          ResourceKind = "events"
	KindStars           ResourceKind = "stars"
	KindActivitySummary ResourceKind = "activity_summary"
)

// AllKinds lists every resource kind in processing order
var AllKinds = []ResourceKind{
	KindOverview,
	KindCommits,
	KindIssues,
	KindPullRequests,
	KindContributors,
	KindBranches,
	KindEvents,
	KindStars,
	KindActivitySummary,
}

var kindAliases = map[string]ResourceKind{
	"prs":        KindPullRequests,
	"pulls":      KindPullRequests,
	"stargazers": KindStars,
	"summary":    KindActivitySummary,
	"activity":   KindActivitySummary,
}

// ParseResourceKind accepts a kind name or one of its short aliases
func ParseResourceKind(s string) (ResourceKind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, k := range AllKinds {
		if string(k) == s {
			return k, nil
		}
	}
	if k, ok := kindAliases[s]; ok {
		return k, nil
	}
	return "", fmt.Errorf("unknown resource kind %q", s)
}

// ParseResourceKinds parses a comma separated list. Empty input and "full"
// select every kind.
func ParseResourceKinds(s string) ([]ResourceKind, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "full" || s == "all" {
		return AllKinds, nil
	}
	var kinds []ResourceKind
	for _, part := range strings.Split(s, ",") {
		k, err := ParseResourceKind(part)
		if err != nil {
			return nil, err
		}
		kinds = append(kinds, k)
	}
	return OrderKinds(kinds), nil
}

// OrderKinds removes duplicates and sorts kinds into processing order
func OrderKinds(kinds []ResourceKind) []ResourceKind {
	want := make(map[ResourceKind]bool, len(kinds))
	for _, k := range kinds {
		want[k] = true
	}
	ordered := make([]ResourceKind, 0, len(want))
	for _, k := range AllKinds {
		if want[k] {
			ordered = append(ordered, k)
		}
	}
	return ordered
}

// FetchSpec describes one resource fetch
type FetchSpec struct {
	Kind ResourceKind
	Repo OwnerRepo
	// ItemCap bounds the number of records; 0 means unlimited.
	ItemCap int
	// Since and Until bound time-filtered kinds; zero values mean unbounded.
	Since time.Time
	Until time.Time
}
