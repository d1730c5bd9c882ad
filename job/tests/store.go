package tests

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/pixelvault/moderation-server/job"
)

func RunStoreTests(t *testing.T, s job.Store, teardown func()) {
	for _, tf := range []func(t *testing.T, s job.Store){
		testCreateAndGet,
		testCreateDuplicate,
		testAdvanceStatus,
		testMonotonicStatuses,
		testTryMarkCompleted,
		testMarkFailed,
	} {
		tf(t, s)
		teardown()
	}
}

func newTestJob() *job.Job {
	return &job.Job{
		ID:                  uuid.NewString(),
		OwnerID:             "owner-1",
		Status:              job.StatusUploading,
		TotalImages:         3,
		TempStorageLocation: "moderation-job-bucket",
		MinConfidence:       80,
		CreatedAt:           time.Now().UTC(),
	}
}

func testCreateAndGet(t *testing.T, s job.Store) {
	ctx := context.Background()

	_, err := s.GetJob(ctx, uuid.NewString())
	require.ErrorIs(t, err, job.ErrNotFound)

	j := newTestJob()
	require.NoError(t, s.CreateJob(ctx, j))

	got, err := s.GetJob(ctx, j.ID)
	require.NoError(t, err)
	require.Equal(t, j.ID, got.ID)
	require.Equal(t, j.OwnerID, got.OwnerID)
	require.Equal(t, job.StatusUploading, got.Status)
	require.Equal(t, 3, got.TotalImages)
	require.Equal(t, j.TempStorageLocation, got.TempStorageLocation)
	require.Empty(t, got.ErrorMessage)
	require.Nil(t, got.CompletedAt)
	require.WithinDuration(t, j.CreatedAt, got.CreatedAt, time.Second)
}

func testCreateDuplicate(t *testing.T, s job.Store) {
	ctx := context.Background()

	j := newTestJob()
	require.NoError(t, s.CreateJob(ctx, j))
	require.ErrorIs(t, s.CreateJob(ctx, j), job.ErrExists)
}

func testAdvanceStatus(t *testing.T, s job.Store) {
	ctx := context.Background()

	j := newTestJob()
	require.NoError(t, s.CreateJob(ctx, j))

	require.NoError(t, s.SetExternalJob(ctx, j.ID, "ext-123"))
	require.NoError(t, s.AdvanceStatus(ctx, j.ID, job.StatusUploading, job.StatusSubmitted))
	require.NoError(t, s.AdvanceStatus(ctx, j.ID, job.StatusSubmitted, job.StatusProcessing))

	got, err := s.GetJob(ctx, j.ID)
	require.NoError(t, err)
	require.Equal(t, job.StatusProcessing, got.Status)
	require.Equal(t, "ext-123", got.ExternalJobID)

	// Stale `from` fails.
	err = s.AdvanceStatus(ctx, j.ID, job.StatusSubmitted, job.StatusProcessing)
	require.ErrorIs(t, err, job.ErrInvalidTransition)

	// Unknown job.
	err = s.AdvanceStatus(ctx, uuid.NewString(), job.StatusUploading, job.StatusSubmitted)
	require.ErrorIs(t, err, job.ErrNotFound)
}

func testMonotonicStatuses(t *testing.T, s job.Store) {
	ctx := context.Background()

	j := newTestJob()
	j.Status = job.StatusProcessing
	require.NoError(t, s.CreateJob(ctx, j))

	ok, err := s.TryMarkCompleted(ctx, j.ID, 3, 1)
	require.NoError(t, err)
	require.True(t, ok)

	// A terminal job rejects every further transition.
	err = s.AdvanceStatus(ctx, j.ID, job.StatusCompleted, job.StatusProcessing)
	require.ErrorIs(t, err, job.ErrInvalidTransition)
	require.ErrorIs(t, s.MarkFailed(ctx, j.ID, "too late"), job.ErrInvalidTransition)

	got, err := s.GetJob(ctx, j.ID)
	require.NoError(t, err)
	require.Equal(t, job.StatusCompleted, got.Status)
	require.Empty(t, got.ErrorMessage)
}

func testTryMarkCompleted(t *testing.T, s job.Store) {
	ctx := context.Background()

	j := newTestJob()
	j.Status = job.StatusProcessing
	require.NoError(t, s.CreateJob(ctx, j))

	ok, err := s.TryMarkCompleted(ctx, j.ID, 2, 1)
	require.NoError(t, err)
	require.True(t, ok)

	// Only the first caller wins.
	ok, err = s.TryMarkCompleted(ctx, j.ID, 2, 1)
	require.NoError(t, err)
	require.False(t, ok)

	got, err := s.GetJob(ctx, j.ID)
	require.NoError(t, err)
	require.Equal(t, job.StatusCompleted, got.Status)
	require.Equal(t, 2, got.ProcessedImages)
	require.Equal(t, 1, got.NSFWDetected)
	require.NotNil(t, got.CompletedAt)

	// Not from a non-processing status either.
	j2 := newTestJob()
	require.NoError(t, s.CreateJob(ctx, j2))
	ok, err = s.TryMarkCompleted(ctx, j2.ID, 0, 0)
	require.NoError(t, err)
	require.False(t, ok)

	_, err = s.TryMarkCompleted(ctx, uuid.NewString(), 0, 0)
	require.ErrorIs(t, err, job.ErrNotFound)
}

func testMarkFailed(t *testing.T, s job.Store) {
	ctx := context.Background()

	j := newTestJob()
	j.Status = job.StatusProcessing
	require.NoError(t, s.CreateJob(ctx, j))

	require.NoError(t, s.MarkFailed(ctx, j.ID, "quota exceeded"))

	got, err := s.GetJob(ctx, j.ID)
	require.NoError(t, err)
	require.Equal(t, job.StatusFailed, got.Status)
	require.Equal(t, "quota exceeded", got.ErrorMessage)
	require.Nil(t, got.CompletedAt)

	require.ErrorIs(t, s.MarkFailed(ctx, uuid.NewString(), "x"), job.ErrNotFound)
}
