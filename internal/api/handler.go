package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/kurihiro0119/github-repo-activity/internal/domain"
	apperrors "github.com/kurihiro0119/github-repo-activity/internal/errors"
)

// ReportReader is the read side of storage that the API serves
type ReportReader interface {
	GetBatch(ctx context.Context, batchID string) (*domain.CollectionBatch, error)
	ListBatches(ctx context.Context, limit int) ([]*domain.CollectionBatch, error)
	GetJobResults(ctx context.Context, batchID string) ([]*domain.JobResult, error)
	GetRecords(ctx context.Context, repo domain.OwnerRepo, kind domain.ResourceKind, limit int) ([]*domain.StoredRecord, error)
}

// BatchDetail is a batch together with its job results
type BatchDetail struct {
	Batch *domain.CollectionBatch `json:"batch"`
	Jobs  []*domain.JobResult     `json:"jobs"`
}

// Handler handles API requests
type Handler struct {
	store ReportReader
}

// NewHandler creates a new API handler
func NewHandler(store ReportReader) *Handler {
	return &Handler{
		store: store,
	}
}

// ListBatches returns recent collection batches
// GET /api/v1/batches
func (h *Handler) ListBatches(c *gin.Context) {
	limit := parseIntQuery(c, "limit", 20)

	batches, err := h.store.ListBatches(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	if batches == nil {
		batches = []*domain.CollectionBatch{}
	}

	c.JSON(http.StatusOK, gin.H{
		"data": batches,
	})
}

// GetBatch returns a batch and the results of its jobs
// GET /api/v1/batches/:id
func (h *Handler) GetBatch(c *gin.Context) {
	id := c.Param("id")

	batch, err := h.store.GetBatch(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	jobs, err := h.store.GetJobResults(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	if jobs == nil {
		jobs = []*domain.JobResult{}
	}

	c.JSON(http.StatusOK, gin.H{
		"data": BatchDetail{Batch: batch, Jobs: jobs},
	})
}

// GetRecords returns the stored records of one resource kind
// GET /api/v1/repos/:owner/:repo/records/:kind
func (h *Handler) GetRecords(c *gin.Context) {
	repo := domain.OwnerRepo{Owner: c.Param("owner"), Name: c.Param("repo")}
	kind, err := domain.ParseResourceKind(c.Param("kind"))
	if err != nil {
		respondError(c, apperrors.NewBadRequestError(err.Error()))
		return
	}
	limit := parseIntQuery(c, "limit", 100)

	records, err := h.store.GetRecords(c.Request.Context(), repo, kind, limit)
	if err != nil {
		respondError(c, err)
		return
	}

	data := make([]any, 0, len(records))
	for _, r := range records {
		data = append(data, r.Data)
	}

	c.JSON(http.StatusOK, gin.H{
		"data":  data,
		"count": len(data),
	})
}

// parseIntQuery parses an integer query parameter with a default value
func parseIntQuery(c *gin.Context, key string, defaultValue int) int {
	valueStr := c.Query(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil || value <= 0 {
		return defaultValue
	}
	return value
}

// HealthCheck returns the health status of the API
// GET /health
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

// respondError sends an error response
func respondError(c *gin.Context, err error) {
	if appErr, ok := apperrors.As(err); ok {
		status := http.StatusInternalServerError
		switch appErr.Code {
		case apperrors.ErrCodeNotFound:
			status = http.StatusNotFound
		case apperrors.ErrCodeUnauthorized:
			status = http.StatusUnauthorized
		case apperrors.ErrCodeForbidden:
			status = http.StatusForbidden
		case apperrors.ErrCodeBadRequest:
			status = http.StatusBadRequest
		case apperrors.ErrCodeConflict:
			status = http.StatusConflict
		case apperrors.ErrCodeRateLimited:
			status = http.StatusTooManyRequests
		case apperrors.ErrCodeNetwork, apperrors.ErrCodeServer, apperrors.ErrCodeExhausted:
			status = http.StatusBadGateway
		}
		c.JSON(status, gin.H{
			"error": gin.H{
				"code":    appErr.Code,
				"message": appErr.Message,
			},
		})
		return
	}

	c.JSON(http.StatusInternalServerError, gin.H{
		"error": gin.H{
			"code":    "INTERNAL_ERROR",
			"message": err.Error(),
		},
	})
}
