package document

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurihiro0119/github-repo-activity/internal/domain"
	apperrors "github.com/kurihiro0119/github-repo-activity/internal/errors"
)

var repo = domain.OwnerRepo{Owner: "octo", Name: "hello"}

func record(kind domain.ResourceKind, seq int, at time.Time) *domain.StoredRecord {
	return &domain.StoredRecord{
		ID:          "id",
		Repo:        repo,
		Kind:        kind,
		Seq:         seq,
		Data:        json.RawMessage(`{"seq":` + string(rune('0'+seq)) + `}`),
		CollectedAt: at,
	}
}

func TestSaveRecords_TimestampedDocuments(t *testing.T) {
	dir := t.TempDir()
	s, err := NewDocumentStorage(dir)
	require.NoError(t, err)
	ctx := context.Background()

	first := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	require.NoError(t, s.BeginCollection(ctx, repo, domain.KindCommits, first))
	require.NoError(t, s.SaveRecords(ctx, []*domain.StoredRecord{record(domain.KindCommits, 0, first), record(domain.KindCommits, 1, first)}))
	require.NoError(t, s.SaveRecords(ctx, []*domain.StoredRecord{record(domain.KindCommits, 2, first)}))

	data, err := os.ReadFile(filepath.Join(dir, "octo_hello", "commits_20240506_070809.jsonl"))
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(string(data)), "\n"), 3)

	got, err := s.GetRecords(ctx, repo, domain.KindCommits, 0)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, 2, got[2].Seq)
	assert.JSONEq(t, `{"seq":2}`, string(got[2].Data))

	// a later collection becomes the current one
	second := first.Add(time.Hour)
	require.NoError(t, s.BeginCollection(ctx, repo, domain.KindCommits, second))
	require.NoError(t, s.SaveRecords(ctx, []*domain.StoredRecord{record(domain.KindCommits, 0, second)}))

	got, err = s.GetRecords(ctx, repo, domain.KindCommits, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].CollectedAt.Equal(second))

	limited, err := s.GetRecords(ctx, repo, domain.KindCommits, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	none, err := s.GetRecords(ctx, repo, domain.KindStars, 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestBeginCollection_EmptyCollectionIsCurrent(t *testing.T) {
	s, err := NewDocumentStorage(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	first := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	require.NoError(t, s.BeginCollection(ctx, repo, domain.KindCommits, first))
	require.NoError(t, s.SaveRecords(ctx, []*domain.StoredRecord{record(domain.KindCommits, 0, first)}))

	require.NoError(t, s.BeginCollection(ctx, repo, domain.KindCommits, first.Add(time.Hour)))

	got, err := s.GetRecords(ctx, repo, domain.KindCommits, 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestBatchDocuments(t *testing.T) {
	dir := t.TempDir()
	s, err := NewDocumentStorage(dir)
	require.NoError(t, err)
	ctx := context.Background()
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.CreateBatch(ctx, &domain.CollectionBatch{ID: "a", Status: domain.BatchInProgress, CreatedAt: created}))
	require.NoError(t, s.CreateBatch(ctx, &domain.CollectionBatch{ID: "b", Status: domain.BatchInProgress, CreatedAt: created.Add(time.Minute)}))
	assert.Error(t, s.CreateBatch(ctx, &domain.CollectionBatch{ID: "a"}))

	result := &domain.JobResult{Repo: repo, Status: domain.JobPartial}
	require.NoError(t, s.SaveJobResult(ctx, "a", result))
	require.NoError(t, s.SaveJobResult(ctx, "a", &domain.JobResult{Repo: repo, Status: domain.JobSucceeded}))
	require.NoError(t, s.SaveJobResult(ctx, "a", &domain.JobResult{Repo: domain.OwnerRepo{Owner: "octo", Name: "other"}, Status: domain.JobFailed}))

	require.NoError(t, s.UpdateBatch(ctx, &domain.CollectionBatch{ID: "a", Status: domain.BatchCompleted, CreatedAt: created, Succeeded: 1, Failed: 1}))

	jobs, err := s.GetJobResults(ctx, "a")
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, domain.JobSucceeded, jobs[0].Status)

	batch, err := s.GetBatch(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, domain.BatchCompleted, batch.Status)

	batches, err := s.ListBatches(ctx, 0)
	require.NoError(t, err)
	require.Len(t, batches, 2)
	assert.Equal(t, "b", batches[0].ID)

	_, err = os.Stat(filepath.Join(dir, "batches", "a.json"))
	assert.NoError(t, err)

	_, err = s.GetBatch(ctx, "missing")
	assert.True(t, apperrors.IsNotFound(err))
	assert.True(t, apperrors.IsNotFound(s.SaveJobResult(ctx, "missing", result)))
}
