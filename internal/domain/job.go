package domain

import (
	"time"
)

// ResourceState is the terminal state of one resource within a job
type ResourceState string

const (
	ResourceOK      ResourceState = "ok"
	ResourcePartial ResourceState = "partial"
	ResourceFailed  ResourceState = "failed"
)

// ResourceStatus reports how one resource kind ended
type ResourceStatus struct {
	State     ResourceState `json:"state"`
	ItemCount int           `json:"item_count"`
	Error     string        `json:"error,omitempty"`
	ErrorKind string        `json:"error_kind,omitempty"`
}

// JobStatus is the overall outcome of a job
type JobStatus string

const (
	JobSucceeded JobStatus = "succeeded"
	JobPartial   JobStatus = "partial"
	JobFailed    JobStatus = "failed"
)

// JobRequest asks for a set of resource kinds from one repository
type JobRequest struct {
	Repo  OwnerRepo      `json:"repo"`
	Kinds []ResourceKind `json:"kinds"`
}

// JobResult is the outcome of collecting one repository
type JobResult struct {
	Repo      OwnerRepo                        `json:"repo"`
	Requested []ResourceKind                   `json:"requested"`
	Resources map[ResourceKind]*ResourceStatus `json:"resources"`
	Status    JobStatus                        `json:"status"`
	// Error carries a job-level cause such as a panic or cancellation.
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Duration returns how long the job ran
func (r *JobResult) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// ItemCount sums records over all resources
func (r *JobResult) ItemCount() int {
	n := 0
	for _, st := range r.Resources {
		n += st.ItemCount
	}
	return n
}

// Settle derives Status from the per-resource states: succeeded when every
// requested resource is ok, partial when at least one yielded data, failed
// otherwise.
func (r *JobResult) Settle() {
	ok, some := 0, 0
	for _, k := range r.Requested {
		st, found := r.Resources[k]
		if !found {
			continue
		}
		switch st.State {
		case ResourceOK:
			ok++
			some++
		case ResourcePartial:
			some++
		}
	}
	switch {
	case len(r.Requested) > 0 && ok == len(r.Requested):
		r.Status = JobSucceeded
	case some > 0:
		r.Status = JobPartial
	default:
		r.Status = JobFailed
	}
}

// BatchReport collects job results in completion order
type BatchReport struct {
	BatchID    string       `json:"batch_id"`
	Jobs       []*JobResult `json:"jobs"`
	Succeeded  int          `json:"succeeded"`
	Partial    int          `json:"partial"`
	Failed     int          `json:"failed"`
	Cancelled  bool         `json:"cancelled"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
}

// Add appends a finished job and updates the counters
func (b *BatchReport) Add(r *JobResult) {
	b.Jobs = append(b.Jobs, r)
	switch r.Status {
	case JobSucceeded:
		b.Succeeded++
	case JobPartial:
		b.Partial++
	default:
		b.Failed++
	}
}
