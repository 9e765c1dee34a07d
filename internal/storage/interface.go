package storage

import (
	"context"
	"time"

	"github.com/kurihiro0119/github-repo-activity/internal/domain"
)

// Storage is the abstract interface for the persistence layer
type Storage interface {
	// Record operations. BeginCollection replaces whatever is stored for
	// repo and kind with an empty collection taken at collectedAt;
	// SaveRecords appends to it.
	BeginCollection(ctx context.Context, repo domain.OwnerRepo, kind domain.ResourceKind, collectedAt time.Time) error
	SaveRecords(ctx context.Context, records []*domain.StoredRecord) error
	GetRecords(ctx context.Context, repo domain.OwnerRepo, kind domain.ResourceKind, limit int) ([]*domain.StoredRecord, error)

	// Batch operations
	CreateBatch(ctx context.Context, batch *domain.CollectionBatch) error
	GetBatch(ctx context.Context, batchID string) (*domain.CollectionBatch, error)
	ListBatches(ctx context.Context, limit int) ([]*domain.CollectionBatch, error)
	UpdateBatch(ctx context.Context, batch *domain.CollectionBatch) error

	// Job results are upserted per batch and repository
	SaveJobResult(ctx context.Context, batchID string, result *domain.JobResult) error
	GetJobResults(ctx context.Context, batchID string) ([]*domain.JobResult, error)

	// Migration
	Migrate(ctx context.Context) error

	// Connection management
	Close() error
}

// DefaultListLimit is used when a caller passes a non-positive limit
const DefaultListLimit = 100

// Limit normalizes a list limit
func Limit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return limit
}
