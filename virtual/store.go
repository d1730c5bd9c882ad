package virtual

import (
	"context"
	"encoding/json"
	"errors"
)

var ErrOrderUnavailable = errors.New("upload order unavailable")

// ImageUpdate is the correlation unit pushed to the virtual-image record
// store for one analyzed image.
type ImageUpdate struct {
	VirtualImageID  string          `json:"virtualImageId"`
	IsFlagged       bool            `json:"isFlagged"`
	ConfidenceScore float64         `json:"confidenceScore"`
	MatchedLabels   []string        `json:"matchedLabels,omitempty"`
	RawAnalysis     json.RawMessage `json:"rawAnalysis,omitempty"`
}

// BulkUpdateResult reports how the downstream store handled a batch.
type BulkUpdateResult struct {
	Processed int `json:"processedCount"`
	Failed    int `json:"failedCount"`
}

// Store is the boundary to the external virtual-image record store. The
// correlation table (upload order -> record id) is maintained by the
// store's own writers; this service only reads it.
type Store interface {
	// GetUploadOrder returns the owner's record ids for a job in upload
	// order.
	GetUploadOrder(ctx context.Context, ownerID, jobID string) ([]string, error)

	// BulkUpdate applies moderation results to the records.
	BulkUpdate(ctx context.Context, ownerID, jobID string, updates []*ImageUpdate) (*BulkUpdateResult, error)
}
