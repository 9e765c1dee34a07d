package aggregator

import (
	"sort"
	"time"

	"github.com/kurihiro0119/github-repo-activity/internal/domain"
)

var categories = []string{
	domain.CategoryCommits,
	domain.CategoryPushes,
	domain.CategoryForcePushes,
	domain.CategoryDirectPushes,
	domain.CategoryBranchesCreated,
	domain.CategoryBranchesDeleted,
	domain.CategoryPullRequests,
	domain.CategoryIssues,
}

// Summarize buckets commits and events inside tr by period and category.
// Items outside the range are ignored. Every period of the range gets a
// bucket, including empty ones.
func Summarize(commits []domain.Commit, events []domain.Event, tr domain.TimeRange) domain.ActivitySummary {
	start, end := tr.Start.UTC(), tr.End.UTC()
	summary := domain.ActivitySummary{
		Range:  domain.TimeRange{Start: start, End: end, Granularity: tr.Granularity},
		Totals: make(map[string]int, len(categories)),
	}
	for _, c := range categories {
		summary.Totals[c] = 0
	}

	buckets := make(map[time.Time]map[string]int)
	count := func(t time.Time, category string) {
		t = t.UTC()
		if t.Before(start) || t.After(end) {
			return
		}
		period := truncateTime(t, tr.Granularity)
		if buckets[period] == nil {
			buckets[period] = make(map[string]int)
		}
		buckets[period][category]++
		summary.Totals[category]++
	}

	for _, c := range commits {
		count(c.Date, domain.CategoryCommits)
	}

	active := make(map[string]bool)
	for _, ev := range events {
		if ev.CreatedAt.UTC().Before(start) || ev.CreatedAt.UTC().After(end) {
			continue
		}
		switch ev.Type {
		case domain.EventTypePush:
			count(ev.CreatedAt, domain.CategoryPushes)
			if ev.ForcePush {
				count(ev.CreatedAt, domain.CategoryForcePushes)
				summary.ForcePushes = append(summary.ForcePushes, ev)
			}
			if ev.DirectPush {
				count(ev.CreatedAt, domain.CategoryDirectPushes)
			}
			if ev.Branch != "" {
				active[ev.Branch] = true
			}
		case domain.EventTypeCreate, domain.EventTypeDelete:
			switch ev.BranchAction {
			case domain.BranchCreated:
				count(ev.CreatedAt, domain.CategoryBranchesCreated)
			case domain.BranchDeleted:
				count(ev.CreatedAt, domain.CategoryBranchesDeleted)
			}
		case domain.EventTypePullRequest:
			count(ev.CreatedAt, domain.CategoryPullRequests)
		case domain.EventTypeIssues:
			count(ev.CreatedAt, domain.CategoryIssues)
		}
	}

	for branch := range active {
		summary.ActiveBranches = append(summary.ActiveBranches, branch)
	}
	sort.Strings(summary.ActiveBranches)

	if start.IsZero() || end.Before(start) {
		return summary
	}
	for period := truncateTime(start, tr.Granularity); !period.After(end); period = getNextPeriod(period, tr.Granularity) {
		counts := buckets[period]
		if counts == nil {
			counts = map[string]int{}
		}
		summary.Buckets = append(summary.Buckets, domain.ActivityBucket{
			Start:  period,
			End:    getNextPeriod(period, tr.Granularity),
			Counts: counts,
		})
	}
	return summary
}

// truncateTime truncates a time to the start of the period
func truncateTime(t time.Time, granularity string) time.Time {
	switch granularity {
	case "day":
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	case "week":
		// Get the start of the week (Monday)
		weekday := int(t.Weekday())
		if weekday == 0 {
			weekday = 7
		}
		return time.Date(t.Year(), t.Month(), t.Day()-weekday+1, 0, 0, 0, 0, t.Location())
	case "month":
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
	default:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	}
}

// getNextPeriod returns the start of the next period
func getNextPeriod(t time.Time, granularity string) time.Time {
	switch granularity {
	case "week":
		return t.AddDate(0, 0, 7)
	case "month":
		return t.AddDate(0, 1, 0)
	default:
		return t.AddDate(0, 0, 1)
	}
}
