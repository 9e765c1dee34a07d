package domain

import "time"

// Record is one item produced by a resource fetch. Records are plain values
// that serialize to JSON without cycles.
type Record interface {
	ResourceKind() ResourceKind
}

// Overview is repository metadata plus its language breakdown
type Overview struct {
	FullName      string         `json:"full_name"`
	Description   string         `json:"description,omitempty"`
	HTMLURL       string         `json:"html_url"`
	DefaultBranch string         `json:"default_branch"`
	Language      string         `json:"language,omitempty"`
	Languages     map[string]int `json:"languages,omitempty"`
	Topics        []string       `json:"topics,omitempty"`
	License       string         `json:"license,omitempty"`
	Stars         int            `json:"stars"`
	Forks         int            `json:"forks"`
	Watchers      int            `json:"watchers"`
	OpenIssues    int            `json:"open_issues"`
	SizeKB        int            `json:"size_kb"`
	Private       bool           `json:"private"`
	Archived      bool           `json:"archived"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	PushedAt      time.Time      `json:"pushed_at"`
}

func (Overview) ResourceKind() ResourceKind { return KindOverview }

// Commit is one commit on the default branch
type Commit struct {
	SHA         string    `json:"sha"`
	Message     string    `json:"message"`
	AuthorLogin string    `json:"author_login,omitempty"`
	AuthorName  string    `json:"author_name,omitempty"`
	AuthorEmail string    `json:"author_email,omitempty"`
	Committer   string    `json:"committer,omitempty"`
	Date        time.Time `json:"date"`
	Parents     []string  `json:"parents,omitempty"`
	HTMLURL     string    `json:"html_url"`
}

func (Commit) ResourceKind() ResourceKind { return KindCommits }

// Issue excludes pull requests
type Issue struct {
	Number    int        `json:"number"`
	Title     string     `json:"title"`
	State     string     `json:"state"`
	Author    string     `json:"author"`
	Labels    []string   `json:"labels,omitempty"`
	Comments  int        `json:"comments"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`
	HTMLURL   string     `json:"html_url"`
}

func (Issue) ResourceKind() ResourceKind { return KindIssues }

// PullRequest is one pull request; State is "merged" for merged ones
type PullRequest struct {
	Number    int        `json:"number"`
	Title     string     `json:"title"`
	State     string     `json:"state"`
	Author    string     `json:"author"`
	Draft     bool       `json:"draft"`
	HeadRef   string     `json:"head_ref"`
	BaseRef   string     `json:"base_ref"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`
	MergedAt  *time.Time `json:"merged_at,omitempty"`
	HTMLURL   string     `json:"html_url"`
}

func (PullRequest) ResourceKind() ResourceKind { return KindPullRequests }

// Contributor is a commit author ranked by contributions
type Contributor struct {
	Login         string `json:"login"`
	ID            int64  `json:"id"`
	Type          string `json:"type"`
	Contributions int    `json:"contributions"`
}

func (Contributor) ResourceKind() ResourceKind { return KindContributors }

// Branch is a branch and its head commit
type Branch struct {
	Name      string `json:"name"`
	HeadSHA   string `json:"head_sha"`
	Protected bool   `json:"protected"`
}

func (Branch) ResourceKind() ResourceKind { return KindBranches }

// Star is one stargazer
type Star struct {
	Login     string    `json:"login"`
	StarredAt time.Time `json:"starred_at"`
}

func (Star) ResourceKind() ResourceKind { return KindStars }
