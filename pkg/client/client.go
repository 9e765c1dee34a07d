package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/kurihiro0119/github-repo-activity/internal/domain"
	apperrors "github.com/kurihiro0119/github-repo-activity/internal/errors"
)

// Client is the API client for github-repo-activity
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// BatchDetail is a batch together with its job results
type BatchDetail struct {
	Batch *domain.CollectionBatch `json:"batch"`
	Jobs  []*domain.JobResult     `json:"jobs"`
}

// NewClient creates a new API client
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// ListBatches retrieves recent collection batches
func (c *Client) ListBatches(ctx context.Context, limit int) ([]*domain.CollectionBatch, error) {
	params := url.Values{}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	var response struct {
		Data []*domain.CollectionBatch `json:"data"`
	}
	if err := c.get(ctx, "/api/v1/batches", params, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// GetBatch retrieves a batch and its job results
func (c *Client) GetBatch(ctx context.Context, batchID string) (*BatchDetail, error) {
	path := fmt.Sprintf("/api/v1/batches/%s", url.PathEscape(batchID))

	var response struct {
		Data *BatchDetail `json:"data"`
	}
	if err := c.get(ctx, path, nil, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// GetRecords retrieves the stored records of one resource kind
func (c *Client) GetRecords(ctx context.Context, repo domain.OwnerRepo, kind domain.ResourceKind, limit int) ([]json.RawMessage, error) {
	path := fmt.Sprintf("/api/v1/repos/%s/%s/records/%s", url.PathEscape(repo.Owner), url.PathEscape(repo.Name), kind)
	params := url.Values{}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	var response struct {
		Data []json.RawMessage `json:"data"`
	}
	if err := c.get(ctx, path, params, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// HealthCheck checks if the API is healthy
func (c *Client) HealthCheck(ctx context.Context) error {
	var response struct {
		Status string `json:"status"`
	}
	if err := c.get(ctx, "/health", nil, &response); err != nil {
		return err
	}
	if response.Status != "ok" {
		return fmt.Errorf("unhealthy status: %s", response.Status)
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values, result interface{}) error {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return err
	}
	if len(params) > 0 {
		u.RawQuery = params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return decodeError(resp.Status, body)
	}

	return json.NewDecoder(resp.Body).Decode(result)
}

// decodeError turns an {"error": {"code", "message"}} body back into an AppError
func decodeError(status string, body []byte) error {
	var envelope struct {
		Error struct {
			Code    apperrors.ErrCode `json:"code"`
			Message string            `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.Error.Code == "" {
		return fmt.Errorf("API error: %s - %s", status, string(body))
	}
	return &apperrors.AppError{
		Code:    envelope.Error.Code,
		Message: envelope.Error.Message,
	}
}
