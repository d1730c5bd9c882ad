package job

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/pixelvault/moderation-server/analysis"
	"github.com/pixelvault/moderation-server/results"
	"github.com/pixelvault/moderation-server/storage"
	"github.com/pixelvault/moderation-server/taxonomy"
	"github.com/pixelvault/moderation-server/virtual"
)

var ErrInvalidRequest = errors.New("invalid request")

const (
	manifestKey           = "input/manifest.jsonl"
	outputPrefix          = "output/"
	defaultCleanupTimeout = 2 * time.Minute
)

// Orchestrator owns the end-to-end job sequencing: polling, parsing,
// classification, propagation, the terminal status transition and the
// fire-and-forget storage cleanup.
type Orchestrator struct {
	log        *zap.Logger
	store      Store
	storage    storage.Store
	analysis   analysis.Client
	poller     *Poller
	normalizer *results.Normalizer
	propagator *virtual.Propagator

	cleanupTimeout time.Duration

	// Serializes the completion path per job within this process. The
	// durable guard is the store's conditional TryMarkCompleted; this lock
	// additionally keeps concurrent polls from both running propagation.
	// Entries are dropped once the job reaches a terminal state.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewOrchestrator(
	log *zap.Logger,
	store Store,
	storageStore storage.Store,
	analysisClient analysis.Client,
	poller *Poller,
	normalizer *results.Normalizer,
	propagator *virtual.Propagator,
) *Orchestrator {
	return &Orchestrator{
		log:            log,
		store:          store,
		storage:        storageStore,
		analysis:       analysisClient,
		poller:         poller,
		normalizer:     normalizer,
		propagator:     propagator,
		cleanupTimeout: defaultCleanupTimeout,
		locks:          make(map[string]*sync.Mutex),
	}
}

// SubmitParams describes one batch submission. The images are expected to
// already be staged in the job-scoped bucket.
type SubmitParams struct {
	OwnerID       string
	Bucket        string
	ImageKeys     []string
	MinConfidence float64
}

// ImageResult is the per-image view returned on the completion response.
type ImageResult struct {
	ImageID         string   `json:"imageId"`
	SourcePath      string   `json:"sourcePath,omitempty"`
	IsFlagged       bool     `json:"isFlagged"`
	ConfidenceScore float64  `json:"confidenceScore"`
	MatchedLabels   []string `json:"matchedLabels,omitempty"`
	Category        string   `json:"category,omitempty"`
}

// CategoryGroup is one smart-album grouping of flagged images.
type CategoryGroup struct {
	CategoryID     string   `json:"categoryId"`
	DisplayName    string   `json:"displayName"`
	ImageIDs       []string `json:"imageIds"`
	MeanConfidence float64  `json:"meanConfidence"`
}

// StatusResponse is the caller-facing view of a job.
type StatusResponse struct {
	JobID           string          `json:"jobId"`
	Status          Status          `json:"status"`
	Progress        int             `json:"progress"`
	TotalImages     int             `json:"totalImages"`
	ProcessedImages int             `json:"processedImages,omitempty"`
	NSFWDetected    int             `json:"nsfwDetected,omitempty"`
	Results         []ImageResult   `json:"results,omitempty"`
	Groups          []CategoryGroup `json:"groups,omitempty"`
	ResultsLocation string          `json:"resultsLocation,omitempty"`
	Error           string          `json:"error,omitempty"`
	Notice          string          `json:"notice,omitempty"`
}

// Submit creates the job record, stages the input manifest in the job's
// ephemeral bucket and submits the batch to the analysis service.
func (o *Orchestrator) Submit(ctx context.Context, p SubmitParams) (*Job, error) {
	switch {
	case p.OwnerID == "":
		return nil, errors.Wrap(ErrInvalidRequest, "owner id is required")
	case p.Bucket == "":
		return nil, errors.Wrap(ErrInvalidRequest, "bucket is required")
	case len(p.ImageKeys) == 0:
		return nil, errors.Wrap(ErrInvalidRequest, "at least one image is required")
	}

	minConfidence := p.MinConfidence
	if minConfidence <= 0 {
		minConfidence = results.DefaultThreshold
	}

	j := &Job{
		ID:                  uuid.NewString(),
		OwnerID:             p.OwnerID,
		Status:              StatusUploading,
		TotalImages:         len(p.ImageKeys),
		TempStorageLocation: p.Bucket,
		MinConfidence:       minConfidence,
		CreatedAt:           time.Now().UTC(),
	}
	if err := o.store.CreateJob(ctx, j); err != nil {
		return nil, err
	}

	if err := o.storage.Put(ctx, p.Bucket, manifestKey, buildManifest(p.Bucket, p.ImageKeys)); err != nil {
		o.abortSubmission(ctx, j, "failed to stage input manifest")
		return nil, errors.Wrap(err, "failed to stage input manifest")
	}

	externalID, err := o.analysis.Submit(ctx, analysis.SubmitInput{
		ManifestBucket: p.Bucket,
		ManifestKey:    manifestKey,
		OutputBucket:   p.Bucket,
		OutputPrefix:   outputPrefix,
		MinConfidence:  float32(minConfidence),
	})
	if err != nil {
		o.abortSubmission(ctx, j, "analysis submission failed: "+err.Error())
		return nil, errors.Wrap(err, "analysis submission failed")
	}

	if err := o.store.SetExternalJob(ctx, j.ID, externalID); err != nil {
		return nil, err
	}
	if err := o.store.AdvanceStatus(ctx, j.ID, StatusUploading, StatusSubmitted); err != nil {
		return nil, err
	}

	j.ExternalJobID = externalID
	j.Status = StatusSubmitted

	o.log.Info("Submitted moderation job",
		zap.String("job_id", j.ID),
		zap.String("external_job_id", externalID),
		zap.Int("total_images", j.TotalImages))
	return j, nil
}

// buildManifest produces the line-delimited input manifest the analysis
// service reads.
func buildManifest(bucket string, keys []string) []byte {
	var buf bytes.Buffer
	for _, key := range keys {
		line, _ := json.Marshal(map[string]string{
			"source-ref": fmt.Sprintf("s3://%s/%s", bucket, key),
		})
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

func (o *Orchestrator) abortSubmission(ctx context.Context, j *Job, message string) {
	if err := o.store.MarkFailed(ctx, j.ID, message); err != nil {
		o.log.Error("Failed to mark job failed", zap.String("job_id", j.ID), zap.Error(err))
	}
	o.triggerCleanup(j)
}

// Status answers one caller poll. For terminal jobs it is side-effect-free
// and returns cached data; otherwise it performs one self-contained poll of
// the external service and advances the job as far as the result allows.
func (o *Orchestrator) Status(ctx context.Context, jobID string) (*StatusResponse, error) {
	if jobID == "" {
		return nil, errors.Wrap(ErrInvalidRequest, "job id is required")
	}

	j, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if j.Status.Terminal() {
		return o.terminalResponse(j), nil
	}

	if j.Status == StatusUploading {
		return &StatusResponse{
			JobID:       j.ID,
			Status:      StatusUploading,
			TotalImages: j.TotalImages,
		}, nil
	}

	if j.Status == StatusSubmitted {
		err := o.store.AdvanceStatus(ctx, j.ID, StatusSubmitted, StatusProcessing)
		switch {
		case err == nil:
			j.Status = StatusProcessing
		case errors.Is(err, ErrInvalidTransition):
			// Lost a race with a concurrent poll; re-read.
			if j, err = o.store.GetJob(ctx, jobID); err != nil {
				return nil, err
			}
			if j.Status.Terminal() {
				return o.terminalResponse(j), nil
			}
		default:
			return nil, err
		}
	}

	pr, err := o.poller.Poll(ctx, j)
	if err != nil {
		// Transient upstream faults must not kill the job.
		o.log.Warn("Poll failed; reporting job as still processing",
			zap.String("job_id", j.ID), zap.Error(err))
		resp := o.processingResponse(j, progressEstimate(time.Since(j.CreatedAt)))
		resp.Notice = "analysis status temporarily unavailable"
		return resp, nil
	}

	switch pr.State {
	case PollFailed:
		return o.failJob(ctx, j, pr.Message)
	case PollResultsReady:
		return o.complete(ctx, j, pr.Files)
	default:
		return o.processingResponse(j, pr.Progress), nil
	}
}

func (o *Orchestrator) failJob(ctx context.Context, j *Job, message string) (*StatusResponse, error) {
	if err := o.store.MarkFailed(ctx, j.ID, message); err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			cur, err := o.store.GetJob(ctx, j.ID)
			if err != nil {
				return nil, err
			}
			o.releaseLock(j.ID)
			return o.terminalResponse(cur), nil
		}
		return nil, err
	}

	o.log.Info("Job failed by analysis provider",
		zap.String("job_id", j.ID), zap.String("message", message))
	o.triggerCleanup(j)
	o.releaseLock(j.ID)

	j.Status = StatusFailed
	j.ErrorMessage = message
	return o.terminalResponse(j), nil
}

// complete runs the terminal success path: normalize, classify, propagate,
// then the single-writer completion transition, then cleanup.
func (o *Orchestrator) complete(ctx context.Context, j *Job, files []results.File) (*StatusResponse, error) {
	lock := o.lockFor(j.ID)
	lock.Lock()
	defer lock.Unlock()

	// Re-read under the lock; a concurrent poll may already have finished.
	cur, err := o.store.GetJob(ctx, j.ID)
	if err != nil {
		return nil, err
	}
	if cur.Status.Terminal() {
		o.releaseLock(j.ID)
		return o.terminalResponse(cur), nil
	}

	normalized := o.normalizer.Normalize(files, j.MinConfidence)
	nsfwDetected := 0
	for _, rec := range normalized {
		if rec.IsFlagged {
			nsfwDetected++
		}
	}

	if _, err := o.propagator.Propagate(ctx, j.OwnerID, j.ID, normalized); err != nil {
		// Propagation failure blocks completion; the job record stays at
		// processing and the next poll retries the whole step.
		o.log.Error("Propagation failed; completion deferred",
			zap.String("job_id", j.ID), zap.Error(err))
		resp := o.processingResponse(j, progressEstimate(time.Since(j.CreatedAt)))
		resp.Notice = "results pending propagation"
		return resp, nil
	}

	won, err := o.store.TryMarkCompleted(ctx, j.ID, len(normalized), nsfwDetected)
	if err != nil {
		return nil, err
	}
	if !won {
		cur, err := o.store.GetJob(ctx, j.ID)
		if err != nil {
			return nil, err
		}
		o.releaseLock(j.ID)
		return o.terminalResponse(cur), nil
	}

	o.log.Info("Job completed",
		zap.String("job_id", j.ID),
		zap.Int("processed_images", len(normalized)),
		zap.Int("nsfw_detected", nsfwDetected))
	o.triggerCleanup(j)
	o.releaseLock(j.ID)

	resp := &StatusResponse{
		JobID:           j.ID,
		Status:          StatusCompleted,
		Progress:        100,
		TotalImages:     j.TotalImages,
		ProcessedImages: len(normalized),
		NSFWDetected:    nsfwDetected,
		Groups:          groupFlagged(normalized),
	}
	for _, rec := range normalized {
		r := ImageResult{
			ImageID:         rec.ImageID,
			SourcePath:      rec.SourcePath,
			IsFlagged:       rec.IsFlagged,
			ConfidenceScore: rec.ConfidenceScore,
			MatchedLabels:   rec.MatchedLabels,
		}
		if rec.AssignedCategory != nil {
			r.Category = rec.AssignedCategory.DisplayName
		}
		resp.Results = append(resp.Results, r)
	}
	return resp, nil
}

// groupFlagged derives the smart-album grouping from each flagged result's
// assigned category, so a group's name always agrees with the per-image
// classification in the same response.
func groupFlagged(normalized []results.Normalized) []CategoryGroup {
	var items []taxonomy.Item
	for _, rec := range normalized {
		if !rec.IsFlagged || rec.AssignedCategory == nil {
			continue
		}
		items = append(items, taxonomy.Item{
			ImageID:    rec.ImageID,
			Category:   *rec.AssignedCategory,
			Confidence: rec.ConfidenceScore * 100,
		})
	}
	if len(items) == 0 {
		return nil
	}

	groups := taxonomy.GroupByCategory(items)
	out := make([]CategoryGroup, 0, len(groups))
	for _, g := range groups {
		out = append(out, CategoryGroup{
			CategoryID:     g.Category.ID,
			DisplayName:    g.Category.DisplayName,
			ImageIDs:       g.ImageIDs,
			MeanConfidence: g.MeanConfidence,
		})
	}
	return out
}

func (o *Orchestrator) processingResponse(j *Job, progress int) *StatusResponse {
	return &StatusResponse{
		JobID:       j.ID,
		Status:      StatusProcessing,
		Progress:    progress,
		TotalImages: j.TotalImages,
	}
}

func (o *Orchestrator) terminalResponse(j *Job) *StatusResponse {
	resp := &StatusResponse{
		JobID:           j.ID,
		Status:          j.Status,
		TotalImages:     j.TotalImages,
		ProcessedImages: j.ProcessedImages,
		NSFWDetected:    j.NSFWDetected,
	}
	switch j.Status {
	case StatusCompleted:
		resp.Progress = 100
		resp.ResultsLocation = "virtual-image-store"
	case StatusFailed:
		resp.Error = j.ErrorMessage
	}
	return resp
}

// triggerCleanup reclaims the job's ephemeral bucket without blocking the
// caller-visible response. Failures are logged, never surfaced to the job.
func (o *Orchestrator) triggerCleanup(j *Job) {
	bucket := j.TempStorageLocation
	jobID := j.ID
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), o.cleanupTimeout)
		defer cancel()

		if err := o.storage.DeleteBucket(ctx, bucket); err != nil {
			o.log.Warn("Ephemeral storage cleanup failed",
				zap.String("job_id", jobID),
				zap.String("bucket", bucket),
				zap.Error(err))
		}
	}()
}

func (o *Orchestrator) lockFor(id string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()

	lock, ok := o.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		o.locks[id] = lock
	}
	return lock
}

func (o *Orchestrator) releaseLock(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	delete(o.locks, id)
}
