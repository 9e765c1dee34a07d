// Package document stores records and batches as JSON files.
//
// Layout under the data directory:
//
//	{owner}_{repo}/{kind}_{YYYYmmdd_HHMMSS}.jsonl  one file per collection, a record per line
//	batches/{id}.json                              batch plus job results
package document

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/kurihiro0119/github-repo-activity/internal/domain"
	apperrors "github.com/kurihiro0119/github-repo-activity/internal/errors"
	"github.com/kurihiro0119/github-repo-activity/internal/storage"
)

const timestampLayout = "20060102_150405"

type batchDocument struct {
	Batch *domain.CollectionBatch `json:"batch"`
	Jobs  []*domain.JobResult     `json:"jobs"`
}

// documentStore implements the Storage interface on the file system
type documentStore struct {
	dir string
	mu  sync.Mutex
}

// NewDocumentStorage creates a file based storage rooted at dir
func NewDocumentStorage(dir string) (storage.Storage, error) {
	s := &documentStore{dir: dir}
	if err := s.Migrate(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

// Migrate creates the directory layout
func (s *documentStore) Migrate(ctx context.Context) error {
	return os.MkdirAll(filepath.Join(s.dir, "batches"), 0o755)
}

func (s *documentStore) repoDir(repo domain.OwnerRepo) string {
	return filepath.Join(s.dir, repo.Owner+"_"+repo.Name)
}

func (s *documentStore) recordPath(repo domain.OwnerRepo, kind domain.ResourceKind, collectedAt time.Time) string {
	name := fmt.Sprintf("%s_%s.jsonl", kind, collectedAt.UTC().Format(timestampLayout))
	return filepath.Join(s.repoDir(repo), name)
}

func (s *documentStore) batchPath(id string) string {
	return filepath.Join(s.dir, "batches", id+".json")
}

// BeginCollection creates the empty document of a new collection
func (s *documentStore) BeginCollection(ctx context.Context, repo domain.OwnerRepo, kind domain.ResourceKind, collectedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.recordPath(repo, kind, collectedAt)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, nil, 0o644)
}

// SaveRecords appends records, one JSON document per line, to the file of
// their collection
func (s *documentStore) SaveRecords(ctx context.Context, records []*domain.StoredRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lines := make(map[string]*bytes.Buffer)
	var order []string
	for _, r := range records {
		path := s.recordPath(r.Repo, r.Kind, r.CollectedAt)
		buf, ok := lines[path]
		if !ok {
			buf = &bytes.Buffer{}
			lines[path] = buf
			order = append(order, path)
		}
		if err := json.NewEncoder(buf).Encode(r); err != nil {
			return err
		}
	}

	for _, path := range order {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := appendFile(path, lines[path].Bytes()); err != nil {
			return err
		}
	}
	return nil
}

// GetRecords reads the latest collection of a kind; limit <= 0 returns all
func (s *documentStore) GetRecords(ctx context.Context, repo domain.OwnerRepo, kind domain.ResourceKind, limit int) ([]*domain.StoredRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	paths, err := filepath.Glob(filepath.Join(s.repoDir(repo), string(kind)+"_*.jsonl"))
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, nil
	}
	// timestamps in the names sort chronologically
	sort.Strings(paths)
	latest := paths[len(paths)-1]

	f, err := os.Open(latest)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	records := []*domain.StoredRecord{}
	dec := json.NewDecoder(f)
	for limit <= 0 || len(records) < limit {
		var r domain.StoredRecord
		if err := dec.Decode(&r); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("failed to decode %s: %w", latest, err)
		}
		records = append(records, &r)
	}
	return records, nil
}

// CreateBatch writes a new batch document
func (s *documentStore) CreateBatch(ctx context.Context, batch *domain.CollectionBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.batchPath(batch.ID)
	if _, err := os.Stat(path); err == nil {
		return apperrors.NewBadRequestError(fmt.Sprintf("batch %s already exists", batch.ID))
	}
	return writeJSON(path, &batchDocument{Batch: batch})
}

func (s *documentStore) readBatch(id string) (*batchDocument, error) {
	var doc batchDocument
	if err := readJSON(s.batchPath(id), &doc); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, apperrors.NewNotFoundError("batch " + id)
		}
		return nil, err
	}
	return &doc, nil
}

// GetBatch retrieves a batch by ID
func (s *documentStore) GetBatch(ctx context.Context, batchID string) (*domain.CollectionBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.readBatch(batchID)
	if err != nil {
		return nil, err
	}
	return doc.Batch, nil
}

// ListBatches returns the most recent batches first
func (s *documentStore) ListBatches(ctx context.Context, limit int) ([]*domain.CollectionBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	paths, err := filepath.Glob(filepath.Join(s.dir, "batches", "*.json"))
	if err != nil {
		return nil, err
	}

	var batches []*domain.CollectionBatch
	for _, path := range paths {
		var doc batchDocument
		if err := readJSON(path, &doc); err != nil {
			return nil, err
		}
		if doc.Batch != nil {
			batches = append(batches, doc.Batch)
		}
	}
	sort.Slice(batches, func(i, j int) bool {
		return batches[i].CreatedAt.After(batches[j].CreatedAt)
	})

	if limit = storage.Limit(limit); len(batches) > limit {
		batches = batches[:limit]
	}
	return batches, nil
}

// UpdateBatch replaces the batch summary and keeps its job results
func (s *documentStore) UpdateBatch(ctx context.Context, batch *domain.CollectionBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.readBatch(batch.ID)
	if err != nil {
		return err
	}
	doc.Batch = batch
	return writeJSON(s.batchPath(batch.ID), doc)
}

// SaveJobResult adds or replaces the result of one repository in a batch
func (s *documentStore) SaveJobResult(ctx context.Context, batchID string, result *domain.JobResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.readBatch(batchID)
	if err != nil {
		return err
	}

	replaced := false
	for i, job := range doc.Jobs {
		if job.Repo == result.Repo {
			doc.Jobs[i] = result
			replaced = true
			break
		}
	}
	if !replaced {
		doc.Jobs = append(doc.Jobs, result)
	}
	return writeJSON(s.batchPath(batchID), doc)
}

// GetJobResults returns the job results of a batch in the order they were saved
func (s *documentStore) GetJobResults(ctx context.Context, batchID string) ([]*domain.JobResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.readBatch(batchID)
	if err != nil {
		return nil, err
	}
	return doc.Jobs, nil
}

// Close is a no-op
func (s *documentStore) Close() error {
	return nil
}

func appendFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return nil
}

// writeJSON replaces path atomically
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
