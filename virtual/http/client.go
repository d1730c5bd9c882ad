package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/pixelvault/moderation-server/virtual"
)

// Client talks to the virtual-image record store's HTTP API.
type Client struct {
	log  *zap.Logger
	base string
	http *retryablehttp.Client
}

func NewClient(log *zap.Logger, baseURL string) *Client {
	c := retryablehttp.NewClient()
	c.RetryMax = 3
	c.Logger = nil
	return &Client{
		log:  log,
		base: baseURL,
		http: c,
	}
}

func (c *Client) GetUploadOrder(ctx context.Context, ownerID, jobID string) ([]string, error) {
	u := fmt.Sprintf("%s/v1/owners/%s/jobs/%s/upload-order",
		c.base, url.PathEscape(ownerID), url.PathEscape(jobID))

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "upload order request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, virtual.ErrOrderUnavailable
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, errors.Errorf("upload order request returned %d: %s", resp.StatusCode, body)
	}

	var out struct {
		VirtualImageIDs []string `json:"virtualImageIds"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, errors.Wrap(err, "failed to decode upload order response")
	}
	return out.VirtualImageIDs, nil
}

func (c *Client) BulkUpdate(ctx context.Context, ownerID, jobID string, updates []*virtual.ImageUpdate) (*virtual.BulkUpdateResult, error) {
	u := fmt.Sprintf("%s/v1/owners/%s/jobs/%s/bulk-update",
		c.base, url.PathEscape(ownerID), url.PathEscape(jobID))

	body, err := json.Marshal(struct {
		Updates []*virtual.ImageUpdate `json:"updates"`
	}{Updates: updates})
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal bulk update")
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "bulk update request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, errors.Errorf("bulk update returned %d: %s", resp.StatusCode, respBody)
	}

	var out virtual.BulkUpdateResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, errors.Wrap(err, "failed to decode bulk update response")
	}
	return &out, nil
}
