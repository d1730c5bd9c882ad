package job

import (
	"context"
	"errors"
	"time"
)

var (
	ErrExists            = errors.New("job already exists")
	ErrNotFound          = errors.New("job not found")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Status is the job's lifecycle state. Transitions move forward only; a
// terminal job never changes again.
type Status string

const (
	StatusUploading  Status = "uploading"
	StatusSubmitted  Status = "submitted"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

func (s Status) rank() int {
	switch s {
	case StatusUploading:
		return 0
	case StatusSubmitted:
		return 1
	case StatusProcessing:
		return 2
	case StatusCompleted, StatusFailed:
		return 3
	default:
		return -1
	}
}

// CanAdvance reports whether moving from one status to another preserves
// the forward-only invariant.
func CanAdvance(from, to Status) bool {
	if from.Terminal() {
		return false
	}
	return to.rank() > from.rank()
}

// Job is one batch moderation submission. Records are never deleted; they
// form the audit trail.
type Job struct {
	ID                  string
	OwnerID             string
	Status              Status
	TotalImages         int
	ProcessedImages     int
	NSFWDetected        int
	ExternalJobID       string
	TempStorageLocation string
	MinConfidence       float64
	ErrorMessage        string
	CreatedAt           time.Time
	CompletedAt         *time.Time
}

// Clone creates a deep copy
func (j *Job) Clone() *Job {
	out := *j
	if j.CompletedAt != nil {
		at := *j.CompletedAt
		out.CompletedAt = &at
	}
	return &out
}

// Store persists job records. Mutations enforce the forward-only status
// invariant; callers never observe a job moving backwards.
type Store interface {
	CreateJob(ctx context.Context, job *Job) error
	GetJob(ctx context.Context, id string) (*Job, error)

	// SetExternalJob records the analysis service's job id.
	SetExternalJob(ctx context.Context, id, externalJobID string) error

	// AdvanceStatus moves the job from one non-terminal status to a later
	// one. Returns ErrInvalidTransition when the current status is not
	// `from` or the move is not forward.
	AdvanceStatus(ctx context.Context, id string, from, to Status) error

	// TryMarkCompleted is the single-writer completion transition: it only
	// succeeds when the job is currently processing, so exactly one of any
	// concurrent callers wins. Sets the aggregate counts and completedAt.
	TryMarkCompleted(ctx context.Context, id string, processedImages, nsfwDetected int) (bool, error)

	// MarkFailed moves any non-terminal job to failed with the message.
	// Returns ErrInvalidTransition for already-terminal jobs.
	MarkFailed(ctx context.Context, id, message string) error
}
