package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"math"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/kurihiro0119/github-repo-activity/internal/domain"
	apperrors "github.com/kurihiro0119/github-repo-activity/internal/errors"
	"github.com/kurihiro0119/github-repo-activity/internal/storage"
)

// sqliteStorage implements the Storage interface for SQLite
type sqliteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(dbPath string) (storage.Storage, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, err
	}

	s := &sqliteStorage{db: db}
	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Migrate runs database migrations
func (s *sqliteStorage) Migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS records (
		id TEXT PRIMARY KEY,
		owner TEXT NOT NULL,
		repo TEXT NOT NULL,
		kind TEXT NOT NULL,
		seq INTEGER NOT NULL,
		data TEXT NOT NULL,
		collected_at TIMESTAMP NOT NULL,
		UNIQUE (owner, repo, kind, seq)
	);

	CREATE INDEX IF NOT EXISTS idx_records_owner_repo_kind ON records(owner, repo, kind);

	CREATE TABLE IF NOT EXISTS collection_batches (
		id TEXT PRIMARY KEY,
		repos TEXT NOT NULL,
		kinds TEXT NOT NULL,
		workers INTEGER NOT NULL,
		status TEXT NOT NULL,
		succeeded INTEGER NOT NULL DEFAULT 0,
		partial INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		finished_at TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_collection_batches_status ON collection_batches(status);
	CREATE INDEX IF NOT EXISTS idx_collection_batches_created_at ON collection_batches(created_at);

	CREATE TABLE IF NOT EXISTS batch_jobs (
		batch_id TEXT NOT NULL,
		owner TEXT NOT NULL,
		repo TEXT NOT NULL,
		status TEXT NOT NULL,
		items INTEGER NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		result TEXT NOT NULL,
		started_at TIMESTAMP NOT NULL,
		finished_at TIMESTAMP NOT NULL,
		PRIMARY KEY (batch_id, owner, repo),
		FOREIGN KEY (batch_id) REFERENCES collection_batches(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_batch_jobs_status ON batch_jobs(status);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// BeginCollection drops the records of the previous collection
func (s *sqliteStorage) BeginCollection(ctx context.Context, repo domain.OwnerRepo, kind domain.ResourceKind, collectedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM records WHERE owner = ? AND repo = ? AND kind = ?
	`, repo.Owner, repo.Name, string(kind))
	return err
}

// SaveRecords appends a chunk of records in one transaction
func (s *sqliteStorage) SaveRecords(ctx context.Context, records []*domain.StoredRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO records (id, owner, repo, kind, seq, data, collected_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
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
func (s *sqliteStorage) GetRecords(ctx context.Context, repo domain.OwnerRepo, kind domain.ResourceKind, limit int) ([]*domain.StoredRecord, error) {
	if limit <= 0 {
		limit = math.MaxInt32
	}

	query := `
		SELECT id, owner, repo, kind, seq, data, collected_at
		FROM records
		WHERE owner = ? AND repo = ? AND kind = ?
		ORDER BY seq
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, repo.Owner, repo.Name, string(kind), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*domain.StoredRecord
	for rows.Next() {
		var r domain.StoredRecord
		var kindStr, dataStr string
		if err := rows.Scan(&r.ID, &r.Repo.Owner, &r.Repo.Name, &kindStr, &r.Seq, &dataStr, &r.CollectedAt); err != nil {
			return nil, err
		}
		r.Kind = domain.ResourceKind(kindStr)
		r.Data = json.RawMessage(dataStr)
		records = append(records, &r)
	}

	return records, rows.Err()
}

// CreateBatch inserts a new batch
func (s *sqliteStorage) CreateBatch(ctx context.Context, batch *domain.CollectionBatch) error {
	reposJSON, kindsJSON, err := encodeBatch(batch)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO collection_batches
		(id, repos, kinds, workers, status, succeeded, partial, failed, created_at, updated_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		batch.ID, reposJSON, kindsJSON, batch.Workers, batch.Status,
		batch.Succeeded, batch.Partial, batch.Failed,
		batch.CreatedAt, batch.UpdatedAt, batch.FinishedAt)
	return err
}

// GetBatch retrieves a batch by ID
func (s *sqliteStorage) GetBatch(ctx context.Context, batchID string) (*domain.CollectionBatch, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, repos, kinds, workers, status, succeeded, partial, failed, created_at, updated_at, finished_at
		FROM collection_batches
		WHERE id = ?
	`, batchID)

	batch, err := scanBatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("batch " + batchID)
	}
	return batch, err
}

// ListBatches returns the most recent batches first
func (s *sqliteStorage) ListBatches(ctx context.Context, limit int) ([]*domain.CollectionBatch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, repos, kinds, workers, status, succeeded, partial, failed, created_at, updated_at, finished_at
		FROM collection_batches
		ORDER BY created_at DESC
		LIMIT ?
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
func (s *sqliteStorage) UpdateBatch(ctx context.Context, batch *domain.CollectionBatch) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE collection_batches
		SET status = ?, succeeded = ?, partial = ?, failed = ?, updated_at = ?, finished_at = ?
		WHERE id = ?
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

// SaveJobResult saves or replaces the result of one repository in a batch
func (s *sqliteStorage) SaveJobResult(ctx context.Context, batchID string, result *domain.JobResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return err
	}

	query := `
		INSERT OR REPLACE INTO batch_jobs
		(batch_id, owner, repo, status, items, error, result, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		batchID, result.Repo.Owner, result.Repo.Name, string(result.Status),
		result.ItemCount(), result.Error, string(resultJSON),
		result.StartedAt, result.FinishedAt)
	return err
}

// GetJobResults returns the job results of a batch in completion order
func (s *sqliteStorage) GetJobResults(ctx context.Context, batchID string) ([]*domain.JobResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT result
		FROM batch_jobs
		WHERE batch_id = ?
		ORDER BY finished_at, owner, repo
	`, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*domain.JobResult
	for rows.Next() {
		var resultStr string
		if err := rows.Scan(&resultStr); err != nil {
			return nil, err
		}
		var r domain.JobResult
		if err := json.Unmarshal([]byte(resultStr), &r); err != nil {
			return nil, err
		}
		results = append(results, &r)
	}
	return results, rows.Err()
}

// Close closes the database connection
func (s *sqliteStorage) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanBatch(row scanner) (*domain.CollectionBatch, error) {
	var b domain.CollectionBatch
	var reposStr, kindsStr string
	var finishedAt sql.NullTime

	err := row.Scan(&b.ID, &reposStr, &kindsStr, &b.Workers, &b.Status,
		&b.Succeeded, &b.Partial, &b.Failed, &b.CreatedAt, &b.UpdatedAt, &finishedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(reposStr), &b.Repos); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(kindsStr), &b.Kinds); err != nil {
		return nil, err
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		b.FinishedAt = &t
	}
	return &b, nil
}

func encodeBatch(batch *domain.CollectionBatch) (string, string, error) {
	if batch.CreatedAt.IsZero() {
		batch.CreatedAt = time.Now()
	}
	if batch.UpdatedAt.IsZero() {
		batch.UpdatedAt = batch.CreatedAt
	}

	reposJSON, err := json.Marshal(batch.Repos)
	if err != nil {
		return "", "", err
	}
	kindsJSON, err := json.Marshal(batch.Kinds)
	if err != nil {
		return "", "", err
	}
	return string(reposJSON), string(kindsJSON), nil
}
