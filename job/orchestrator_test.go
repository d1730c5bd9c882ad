package job_test

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pixelvault/moderation-server/analysis"
	analysismem "github.com/pixelvault/moderation-server/analysis/memory"
	"github.com/pixelvault/moderation-server/job"
	jobmem "github.com/pixelvault/moderation-server/job/memory"
	"github.com/pixelvault/moderation-server/results"
	storagemem "github.com/pixelvault/moderation-server/storage/memory"
	"github.com/pixelvault/moderation-server/virtual"
	virtualmem "github.com/pixelvault/moderation-server/virtual/memory"
)

type env struct {
	jobs     job.Store
	storage  *storagemem.Store
	analysis *analysismem.Client
	virtual  *virtualmem.Store
	orch     *job.Orchestrator
}

func setup(t *testing.T) *env {
	log := zap.NewNop()

	e := &env{
		jobs:     jobmem.NewInMemory(),
		storage:  storagemem.NewInMemory(),
		analysis: analysismem.NewClient(),
		virtual:  virtualmem.NewInMemory(),
	}

	poller := job.NewPoller(log, e.analysis, e.storage, job.DefaultStalenessThreshold)
	normalizer := results.NewNormalizer(log)
	propagator := virtual.NewPropagator(log, e.virtual, 0)

	e.orch = job.NewOrchestrator(log, e.jobs, e.storage, e.analysis, poller, normalizer, propagator)
	return e
}

func (e *env) submit(t *testing.T, keys ...string) *job.Job {
	j, err := e.orch.Submit(context.Background(), job.SubmitParams{
		OwnerID:   "owner-1",
		Bucket:    "job-bucket",
		ImageKeys: keys,
	})
	require.NoError(t, err)
	return j
}

func (e *env) requireBucketDeleted(t *testing.T, bucket string) {
	require.Eventually(t, func() bool {
		_, err := e.storage.ListAll(context.Background(), bucket)
		return err != nil
	}, 2*time.Second, 10*time.Millisecond, "cleanup should delete the bucket")
}

const resultJSONL = `{"Source": {"S3Object": {"Bucket": "job-bucket", "Name": "in/one.jpg"}}, "ModerationLabels": [{"Name": "Explicit Nudity", "Confidence": 92.0}]}
this line is not valid json
{"Source": {"S3Object": {"Bucket": "job-bucket", "Name": "in/two.jpg"}}, "ModerationLabels": [{"Name": "Beach", "Confidence": 55.0}]}
`

func TestOrchestrator_EndToEndSuccess(t *testing.T) {
	ctx := context.Background()
	e := setup(t)

	j := e.submit(t, "in/one.jpg", "in/two.jpg", "in/three.jpg")
	require.Equal(t, job.StatusSubmitted, j.Status)
	require.NotEmpty(t, j.ExternalJobID)
	require.Equal(t, 3, j.TotalImages)

	// The input manifest was staged in the job bucket.
	manifest, err := e.storage.Fetch(ctx, "job-bucket", "input/manifest.jsonl")
	require.NoError(t, err)
	require.Contains(t, string(manifest), "s3://job-bucket/in/one.jpg")

	e.virtual.SetUploadOrder("owner-1", j.ID, []string{"rec-1", "rec-2"})
	require.NoError(t, e.storage.Put(ctx, "job-bucket", "output/results-0.jsonl", []byte(resultJSONL)))
	e.analysis.SetStatus(j.ExternalJobID, analysis.Status{State: analysis.StateSucceeded})

	resp, err := e.orch.Status(ctx, j.ID)
	require.NoError(t, err)
	require.Equal(t, job.StatusCompleted, resp.Status)
	require.Equal(t, 100, resp.Progress)
	require.Equal(t, 3, resp.TotalImages)
	require.Equal(t, 2, resp.ProcessedImages) // the malformed line is skipped
	require.Equal(t, 1, resp.NSFWDetected)

	require.Len(t, resp.Results, 2)
	require.Equal(t, "one", resp.Results[0].ImageID)
	require.True(t, resp.Results[0].IsFlagged)
	require.Equal(t, "Explicit Content", resp.Results[0].Category)
	require.False(t, resp.Results[1].IsFlagged)

	require.Len(t, resp.Groups, 1)
	require.Equal(t, "explicit", resp.Groups[0].CategoryID)
	require.Equal(t, []string{"one"}, resp.Groups[0].ImageIDs)

	// Propagated by upload position.
	applied := e.virtual.Applied("owner-1", j.ID)
	require.Len(t, applied, 2)
	require.Equal(t, "rec-1", applied[0].VirtualImageID)
	require.True(t, applied[0].IsFlagged)
	require.Equal(t, "rec-2", applied[1].VirtualImageID)
	require.False(t, applied[1].IsFlagged)

	// Durable record reflects the terminal state.
	stored, err := e.jobs.GetJob(ctx, j.ID)
	require.NoError(t, err)
	require.Equal(t, job.StatusCompleted, stored.Status)
	require.Equal(t, 2, stored.ProcessedImages)
	require.Equal(t, 1, stored.NSFWDetected)
	require.NotNil(t, stored.CompletedAt)

	e.requireBucketDeleted(t, "job-bucket")

	// Terminal polls are side-effect-free and return cached data.
	resp2, err := e.orch.Status(ctx, j.ID)
	require.NoError(t, err)
	require.Equal(t, job.StatusCompleted, resp2.Status)
	require.Empty(t, resp2.Results)
	require.Equal(t, "virtual-image-store", resp2.ResultsLocation)

	require.Zero(t, job.LockCount(e.orch))
}

func TestOrchestrator_GroupCategoryMatchesResultCategory(t *testing.T) {
	ctx := context.Background()
	e := setup(t)

	j := e.submit(t, "in/one.jpg")
	e.virtual.SetUploadOrder("owner-1", j.ID, []string{"rec-1"})
	// Flagged solely through the parent name; the label name on its own
	// matches nothing in the display taxonomy.
	require.NoError(t, e.storage.Put(ctx, "job-bucket", "output/results-0.jsonl",
		[]byte(`{"Source": "in/one.jpg", "ModerationLabels": [{"Name": "Exposed Nipple", "ParentName": "Explicit Nudity", "Confidence": 94}]}`)))
	e.analysis.SetStatus(j.ExternalJobID, analysis.Status{State: analysis.StateSucceeded})

	resp, err := e.orch.Status(ctx, j.ID)
	require.NoError(t, err)
	require.Equal(t, job.StatusCompleted, resp.Status)

	require.Len(t, resp.Results, 1)
	require.True(t, resp.Results[0].IsFlagged)
	require.Len(t, resp.Groups, 1)

	// The group must carry the same category as the per-image result.
	require.Equal(t, "Explicit Content", resp.Results[0].Category)
	require.Equal(t, resp.Results[0].Category, resp.Groups[0].DisplayName)
	require.Equal(t, "explicit", resp.Groups[0].CategoryID)
}

func TestOrchestrator_LockReleasedOnTerminalOutcome(t *testing.T) {
	ctx := context.Background()
	e := setup(t)

	j := e.submit(t, "in/one.jpg")
	require.NoError(t, e.storage.Put(ctx, "job-bucket", "output/results-0.jsonl",
		[]byte(`{"Source": "in/one.jpg", "ModerationLabels": []}`)))
	e.analysis.SetStatus(j.ExternalJobID, analysis.Status{State: analysis.StateSucceeded})

	// Propagation fails (no correlation table yet); the lock entry stays
	// for the retry.
	resp, err := e.orch.Status(ctx, j.ID)
	require.NoError(t, err)
	require.Equal(t, job.StatusProcessing, resp.Status)
	require.Equal(t, 1, job.LockCount(e.orch))

	// The provider then reports the job failed; the terminal transition
	// must drop the entry.
	e.analysis.SetStatus(j.ExternalJobID, analysis.Status{State: analysis.StateFailed, Message: "expired"})
	resp, err = e.orch.Status(ctx, j.ID)
	require.NoError(t, err)
	require.Equal(t, job.StatusFailed, resp.Status)
	require.Zero(t, job.LockCount(e.orch))
}

func TestOrchestrator_ProviderFailure(t *testing.T) {
	ctx := context.Background()
	e := setup(t)

	j := e.submit(t, "in/one.jpg")
	e.analysis.SetStatus(j.ExternalJobID, analysis.Status{State: analysis.StateFailed, Message: "quota exceeded"})

	resp, err := e.orch.Status(ctx, j.ID)
	require.NoError(t, err)
	require.Equal(t, job.StatusFailed, resp.Status)
	require.Equal(t, "quota exceeded", resp.Error)

	stored, err := e.jobs.GetJob(ctx, j.ID)
	require.NoError(t, err)
	require.Equal(t, job.StatusFailed, stored.Status)
	require.Equal(t, "quota exceeded", stored.ErrorMessage)
	require.Nil(t, stored.CompletedAt)

	// No propagation was attempted.
	require.Empty(t, e.virtual.Applied("owner-1", j.ID))

	e.requireBucketDeleted(t, "job-bucket")
}

func TestOrchestrator_StillProcessing(t *testing.T) {
	ctx := context.Background()
	e := setup(t)

	j := e.submit(t, "in/one.jpg")
	e.analysis.SetStatus(j.ExternalJobID, analysis.Status{State: analysis.StateInProgress})

	resp, err := e.orch.Status(ctx, j.ID)
	require.NoError(t, err)
	require.Equal(t, job.StatusProcessing, resp.Status)
	require.Greater(t, resp.Progress, 0)
	require.Less(t, resp.Progress, 100)
	require.Empty(t, resp.Results)

	stored, err := e.jobs.GetJob(ctx, j.ID)
	require.NoError(t, err)
	require.Equal(t, job.StatusProcessing, stored.Status)
	require.Zero(t, stored.ProcessedImages)
}

func TestOrchestrator_TransientPollError(t *testing.T) {
	ctx := context.Background()
	e := setup(t)

	j := e.submit(t, "in/one.jpg")
	e.analysis.FailWith(errors.New("connection reset"))

	resp, err := e.orch.Status(ctx, j.ID)
	require.NoError(t, err)
	require.Equal(t, job.StatusProcessing, resp.Status)
	require.NotEmpty(t, resp.Notice)

	// Transient faults never kill the job.
	stored, err := e.jobs.GetJob(ctx, j.ID)
	require.NoError(t, err)
	require.Equal(t, job.StatusProcessing, stored.Status)
}

func TestOrchestrator_PropagationFailureDefersCompletion(t *testing.T) {
	ctx := context.Background()
	e := setup(t)

	j := e.submit(t, "in/one.jpg")
	require.NoError(t, e.storage.Put(ctx, "job-bucket", "output/results-0.jsonl",
		[]byte(`{"Source": "in/one.jpg", "ModerationLabels": []}`)))
	e.analysis.SetStatus(j.ExternalJobID, analysis.Status{State: analysis.StateSucceeded})

	// Correlation table not written yet.
	resp, err := e.orch.Status(ctx, j.ID)
	require.NoError(t, err)
	require.Equal(t, job.StatusProcessing, resp.Status)
	require.NotEmpty(t, resp.Notice)

	stored, err := e.jobs.GetJob(ctx, j.ID)
	require.NoError(t, err)
	require.Equal(t, job.StatusProcessing, stored.Status)

	// A later poll retries the whole completion step.
	e.virtual.SetUploadOrder("owner-1", j.ID, []string{"rec-1"})

	resp, err = e.orch.Status(ctx, j.ID)
	require.NoError(t, err)
	require.Equal(t, job.StatusCompleted, resp.Status)
	require.Len(t, e.virtual.Applied("owner-1", j.ID), 1)
}

func TestOrchestrator_SubmitValidation(t *testing.T) {
	ctx := context.Background()
	e := setup(t)

	_, err := e.orch.Submit(ctx, job.SubmitParams{Bucket: "b", ImageKeys: []string{"k"}})
	require.ErrorIs(t, err, job.ErrInvalidRequest)

	_, err = e.orch.Submit(ctx, job.SubmitParams{OwnerID: "o", ImageKeys: []string{"k"}})
	require.ErrorIs(t, err, job.ErrInvalidRequest)

	_, err = e.orch.Submit(ctx, job.SubmitParams{OwnerID: "o", Bucket: "b"})
	require.ErrorIs(t, err, job.ErrInvalidRequest)
}

func TestOrchestrator_SubmitAnalysisFailure(t *testing.T) {
	ctx := context.Background()
	e := setup(t)

	e.analysis.FailWith(errors.New("service unavailable"))

	_, err := e.orch.Submit(ctx, job.SubmitParams{
		OwnerID:   "owner-1",
		Bucket:    "job-bucket",
		ImageKeys: []string{"in/one.jpg"},
	})
	require.Error(t, err)

	e.requireBucketDeleted(t, "job-bucket")
}

func TestOrchestrator_StatusValidation(t *testing.T) {
	ctx := context.Background()
	e := setup(t)

	_, err := e.orch.Status(ctx, "")
	require.ErrorIs(t, err, job.ErrInvalidRequest)

	_, err = e.orch.Status(ctx, "no-such-job")
	require.ErrorIs(t, err, job.ErrNotFound)
}

func TestOrchestrator_SalvageStaleJob(t *testing.T) {
	ctx := context.Background()
	e := setup(t)

	log := zap.NewNop()
	// Short staleness threshold so a just-created job counts as stale.
	poller := job.NewPoller(log, e.analysis, e.storage, time.Nanosecond)
	normalizer := results.NewNormalizer(log)
	propagator := virtual.NewPropagator(log, e.virtual, 0)
	e.orch = job.NewOrchestrator(log, e.jobs, e.storage, e.analysis, poller, normalizer, propagator)

	j := e.submit(t, "in/one.jpg")
	e.analysis.SetStatus(j.ExternalJobID, analysis.Status{State: analysis.StateInProgress})
	e.virtual.SetUploadOrder("owner-1", j.ID, []string{"rec-1"})
	require.NoError(t, e.storage.Put(ctx, "job-bucket", "output/results-0.jsonl",
		[]byte(`{"Source": "in/one.jpg", "ModerationLabels": [{"Name": "Violence", "Confidence": 99}]}`)))

	// Provider still says in-progress, but results are already in the bucket.
	resp, err := e.orch.Status(ctx, j.ID)
	require.NoError(t, err)
	require.Equal(t, job.StatusCompleted, resp.Status)
	require.Equal(t, 1, resp.NSFWDetected)
}
