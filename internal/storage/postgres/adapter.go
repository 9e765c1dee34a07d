package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	_ "github.com/lib/pq"

	"github.com/kurihiro0119/github-repo-activity/internal/domain"
	apperrors "github.com/kurihiro0119/github-repo-activity/internal/errors"
	"github.com/kurihiro0119/github-repo-activity/internal/storage"
)

// postgresStorage implements the Storage interface for PostgreSQL
type postgresStorage struct {
	db *sql.DB
}

// NewPostgresStorage creates a new PostgreSQL storage instance
func NewPostgresStorage(connStr string) (storage.Storage, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	s := &postgresStorage{db: db}
	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Migrate runs database migrations
func (s *postgresStorage) Migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS records (
		id UUID PRIMARY KEY,
		owner TEXT NOT NULL,
		repo TEXT NOT NULL,
		kind TEXT NOT NULL,
		seq INTEGER NOT NULL,
		data JSONB NOT NULL,
		collected_at TIMESTAMPTZ NOT NULL,
		UNIQUE (owner, repo, kind, seq)
	);

	CREATE INDEX IF NOT EXISTS idx_records_owner_repo_kind ON records(owner, repo, kind);

	CREATE TABLE IF NOT EXISTS collection_batches (
		id TEXT PRIMARY KEY,
		repos JSONB NOT NULL,
		kinds JSONB NOT NULL,
		workers INTEGER NOT NULL,
		status TEXT NOT NULL,
		succeeded INTEGER NOT NULL DEFAULT 0,
		partial INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		finished_at TIMESTAMPTZ
	);

	CREATE INDEX IF NOT EXISTS idx_collection_batches_status ON collection_batches(status);
	CREATE INDEX IF NOT EXISTS idx_collection_batches_created_at ON collection_batches(created_at);

	CREATE TABLE IF NOT EXISTS batch_jobs (
		batch_id TEXT NOT NULL REFERENCES collection_batches(id) ON DELETE CASCADE,
		owner TEXT NOT NULL,
		repo TEXT NOT NULL,
		status TEXT NOT NULL,
		items INTEGER NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		result JSONB NOT NULL,
		started_at TIMESTAMPTZ NOT NULL,
		finished_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (batch_id, owner, repo)
	);

	CREATE INDEX IF NOT EXISTS idx_batch_jobs_status ON batch_jobs(status);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// BeginCollection drops the records of the previous collection
func (s *postgresStorage) BeginCollection(ctx context.Context, repo domain.OwnerRepo, kind domain.ResourceKind, collectedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM records WHERE owner = $1 AND repo = $2 AND kind = $3
	`, repo.Owner, repo.Name, string(kind))
	return err
}

// SaveRecords appends a chunk of records in one transaction
func (s *postgresStorage) SaveRecords(ctx context.Context, records []*domain.StoredRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO records (id, owner, repo, kind, seq, data, collected_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (owner, repo, kind, seq) DO UPDATE SET
			id = EXCLUDED.id,
			data = EXCLUDED.data,
			collected_at = EXCLUDED.collected_at
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range records {
		_, err = stmt.ExecContext(ctx,
			r.ID,
			r.Repo.Owner,
			r.Repo.Name,
			string(r.Kind),
			r.Seq,
			string(r.Data),
			r.CollectedAt,
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// GetRecords retrieves stored records in fetch order; limit <= 0 returns all
func (s *postgresStorage) GetRecords(ctx context.Context, repo domain.OwnerRepo, kind domain.ResourceKind, limit int) ([]*domain.StoredRecord, error) {
	var limitArg any
	if limit > 0 {
		limitArg = limit
	}

	query := `
		SELECT id, owner, repo, kind, seq, data, collected_at
		FROM records
		WHERE owner = $1 AND repo = $2 AND kind = $3
		ORDER BY seq
		LIMIT $4
	`
	rows, err := s.db.QueryContext(ctx, query, repo.Owner, repo.Name, string(kind), limitArg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*domain.StoredRecord
	for rows.Next() {
		var r domain.StoredRecord
		var kindStr string
		var data []byte
		if err := rows.Scan(&r.ID, &r.Repo.Owner, &r.Repo.Name, &kindStr, &r.Seq, &data, &r.CollectedAt); err != nil {
			return nil, err
		}
		r.Kind = domain.ResourceKind(kindStr)
		r.Data = json.RawMessage(data)
		records = append(records, &r)
	}

	return records, rows.Err()
}

// CreateBatch inserts a new batch
func (s *postgresStorage) CreateBatch(ctx context.Context, batch *domain.CollectionBatch) error {
	if batch.CreatedAt.IsZero() {
		batch.CreatedAt = time.Now()
	}
	if batch.UpdatedAt.IsZero() {
		batch.UpdatedAt = batch.CreatedAt
	}
	reposJSON, err := json.Marshal(batch.Repos)
	if err != nil {
		return err
	}
	kindsJSON, err := json.Marshal(batch.Kinds)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO collection_batches
		(id, repos, kinds, workers, status, succeeded, partial, failed, created_at, updated_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err = s.db.ExecContext(ctx, query,
		batch.ID, string(reposJSON), string(kindsJSON), batch.Workers, batch.Status,
		batch.Succeeded, batch.Partial, batch.Failed,
		batch.CreatedAt, batch.UpdatedAt, batch.FinishedAt)
	return err
}

// GetBatch retrieves a batch by ID
func (s *postgresStorage) GetBatch(ctx context.Context, batchID string) (*domain.CollectionBatch, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, repos, kinds, workers, status, succeeded, partial, failed, created_at, updated_at, finished_at
		FROM collection_batches
		WHERE id = $1
	`, batchID)

	batch, err := scanBatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("batch " + batchID)
	}
	return batch, err
}

// ListBatches returns the most recent batches first
func (s *postgresStorage) ListBatches(ctx context.Context, limit int) ([]*domain.CollectionBatch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, repos, kinds, workers, status, succeeded, partial, failed, created_at, updated_at, finished_at
		FROM collection_batches
		ORDER BY created_at DESC
		LIMIT $1
	`, storage.Limit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var batches []*domain.CollectionBatch
	for rows.Next() {
		batch, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, batch)
	}
	return batches, rows.Err()
}

// UpdateBatch updates status and counters of a batch
func (s *postgresStorage) UpdateBatch(ctx context.Context, batch *domain.CollectionBatch) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE collection_batches
		SET status = $1, succeeded = $2, partial = $3, failed = $4, updated_at = $5, finished_at = $6
		WHERE id = $7
	`, batch.Status, batch.Succeeded, batch.Partial, batch.Failed, batch.UpdatedAt, batch.FinishedAt, batch.ID)
	if err != nil {
		return err
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return apperrors.NewNotFoundError("batch " + batch.ID)
	}
	return nil
}

// SaveJobResult saves or updates the result of one repository in a batch
func (s *postgresStorage) SaveJobResult(ctx context.Context, batchID string, result *domain.JobResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO batch_jobs
		(batch_id, owner, repo, status, items, error, result, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (batch_id, owner, repo) DO UPDATE SET
			status = EXCLUDED.status,
			items = EXCLUDED.items,
			error = EXCLUDED.error,
			result = EXCLUDED.result,
			started_at = EXCLUDED.started_at,
			finished_at = EXCLUDED.finished_at
	`
	_, err = s.db.ExecContext(ctx, query,
		batchID, result.Repo.Owner, result.Repo.Name, string(result.Status),
		result.ItemCount(), result.Error, string(resultJSON),
		result.StartedAt, result.FinishedAt)
	return err
}

// GetJobResults returns the job results of a batch in completion order
func (s *postgresStorage) GetJobResults(ctx context.Context, batchID string) ([]*domain.JobResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT result
		FROM batch_jobs
		WHERE batch_id = $1
		ORDER BY finished_at, owner, repo
	`, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*domain.JobResult
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var r domain.JobResult
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, err
		}
		results = append(results, &r)
	}
	return results, rows.Err()
}

// Close closes the database connection
func (s *postgresStorage) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanBatch(row scanner) (*domain.CollectionBatch, error) {
	var b domain.CollectionBatch
	var reposJSON, kindsJSON []byte
	var finishedAt sql.NullTime

	err := row.Scan(&b.ID, &reposJSON, &kindsJSON, &b.Workers, &b.Status,
		&b.Succeeded, &b.Partial, &b.Failed, &b.CreatedAt, &b.UpdatedAt, &finishedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(reposJSON, &b.Repos); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(kindsJSON, &b.Kinds); err != nil {
		return nil, err
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		b.FinishedAt = &t
	}
	return &b, nil
}
