package analysis

import (
	"context"
	"errors"
)

var ErrJobNotFound = errors.New("analysis job not found")

// State is the external service's view of a submitted job.
type State string

const (
	StateQueued     State = "QUEUED"
	StateInProgress State = "IN_PROGRESS"
	StateSucceeded  State = "SUCCEEDED"
	StateFailed     State = "FAILED"
)

// Status is one status-query result.
type Status struct {
	State   State
	Message string
}

// SubmitInput describes one batch submission. The manifest lists the input
// images; results are written under the output prefix in the same
// job-scoped bucket.
type SubmitInput struct {
	ManifestBucket string
	ManifestKey    string
	OutputBucket   string
	OutputPrefix   string
	MinConfidence  float32
}

// Client is the boundary to the asynchronous vision-analysis service. The
// service itself is opaque: images go in via Submit, state comes back via
// GetStatus, and result artifacts appear in the output location.
type Client interface {
	Submit(ctx context.Context, input SubmitInput) (externalJobID string, err error)
	GetStatus(ctx context.Context, externalJobID string) (*Status, error)
}
