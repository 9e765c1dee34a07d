package domain

import "time"

// GitHub event types the event derivation understands
const (
	EventTypePush        = "PushEvent"
	EventTypeCreate      = "CreateEvent"
	EventTypeDelete      = "DeleteEvent"
	EventTypePullRequest = "PullRequestEvent"
	EventTypeIssues      = "IssuesEvent"
)

// BranchAction is derived from create/delete events on branch refs
type BranchAction string

const (
	BranchCreated BranchAction = "created"
	BranchDeleted BranchAction = "deleted"
)

// Event is a repository event with derived push and branch fields
type Event struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	Actor       string    `json:"actor"`
	CreatedAt   time.Time `json:"created_at"`
	Ref         string    `json:"ref,omitempty"`
	RefType     string    `json:"ref_type,omitempty"`
	Branch      string    `json:"branch,omitempty"`
	Action      string    `json:"action,omitempty"`
	Before      string    `json:"before,omitempty"`
	Head        string    `json:"head,omitempty"`
	CommitCount int       `json:"commit_count,omitempty"`
	// ForcePush is set when Head does not descend from the previous branch head.
	ForcePush bool `json:"force_push"`
	// DirectPush is a push straight to the default branch.
	DirectPush   bool         `json:"direct_push"`
	BranchAction BranchAction `json:"branch_action,omitempty"`
}

func (Event) ResourceKind() ResourceKind { return KindEvents }

// IsPush reports whether the event is a push
func (e *Event) IsPush() bool {
	return e.Type == EventTypePush
}
