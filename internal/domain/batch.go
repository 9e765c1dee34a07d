package domain

import (
	"encoding/json"
	"time"
)

// Batch status values
const (
	BatchInProgress = "in_progress"
	BatchCompleted  = "completed"
	BatchCancelled  = "cancelled"
)

// CollectionBatch represents a batch collection job
type CollectionBatch struct {
	ID         string         `json:"id"`
	Repos      []OwnerRepo    `json:"repos"`
	Kinds      []ResourceKind `json:"kinds"`
	Workers    int            `json:"workers"`
	Status     string         `json:"status"`
	Succeeded  int            `json:"succeeded"`
	Partial    int            `json:"partial"`
	Failed     int            `json:"failed"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
}

// StoredRecord is a persisted record with its position in the fetched sequence
type StoredRecord struct {
	ID          string          `json:"id"`
	Repo        OwnerRepo       `json:"repo"`
	Kind        ResourceKind    `json:"kind"`
	Seq         int             `json:"seq"`
	Data        json.RawMessage `json:"data"`
	CollectedAt time.Time       `json:"collected_at"`
}
