package domain

import "time"

// TimeRange represents a time range for activity buckets
type TimeRange struct {
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Granularity string    `json:"granularity"` // "day", "week", "month"
}

// Activity categories counted by the summary
const (
	CategoryCommits         = "commits"
	CategoryPushes          = "pushes"
	CategoryForcePushes     = "force_pushes"
	CategoryDirectPushes    = "direct_pushes"
	CategoryBranchesCreated = "branches_created"
	CategoryBranchesDeleted = "branches_deleted"
	CategoryPullRequests    = "pull_request_events"
	CategoryIssues          = "issue_events"
)

// ActivityBucket holds category counts for one period
type ActivityBucket struct {
	Start  time.Time      `json:"start"`
	End    time.Time      `json:"end"`
	Counts map[string]int `json:"counts"`
}

// ActivitySummary aggregates commits and events inside a window
type ActivitySummary struct {
	Range          TimeRange        `json:"range"`
	Totals         map[string]int   `json:"totals"`
	Buckets        []ActivityBucket `json:"buckets"`
	ActiveBranches []string         `json:"active_branches,omitempty"`
	ForcePushes    []Event          `json:"force_pushes,omitempty"`
	// Incomplete is set when a windowed fetch failed part-way
	Incomplete bool `json:"incomplete,omitempty"`
}

func (ActivitySummary) ResourceKind() ResourceKind { return KindActivitySummary }
