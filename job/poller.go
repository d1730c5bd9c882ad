package job

import (
	"context"
	"path"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/pixelvault/moderation-server/analysis"
	"github.com/pixelvault/moderation-server/results"
	"github.com/pixelvault/moderation-server/storage"
)

// DefaultStalenessThreshold is the job age past which an in-progress status
// from the analysis service is no longer trusted and the output bucket is
// checked directly.
const DefaultStalenessThreshold = 5 * time.Minute

// Expected processing duration, only used to derive the user-facing
// progress estimate. Never used to infer completion.
const processingEstimate = 5 * time.Minute

type PollState int

const (
	PollProcessing PollState = iota
	PollResultsReady
	PollFailed
)

// PollResult is one self-contained poll of a job's external state.
type PollResult struct {
	State    PollState
	Progress int
	Message  string
	Files    []results.File
}

// Poller queries the analysis service for a job's state and, on terminal
// success, pulls the raw result artifacts from the job's ephemeral bucket.
type Poller struct {
	log       *zap.Logger
	analysis  analysis.Client
	storage   storage.Store
	staleness time.Duration
}

func NewPoller(log *zap.Logger, analysisClient analysis.Client, store storage.Store, staleness time.Duration) *Poller {
	if staleness <= 0 {
		staleness = DefaultStalenessThreshold
	}
	return &Poller{
		log:       log,
		analysis:  analysisClient,
		storage:   store,
		staleness: staleness,
	}
}

// Poll returns the job's current external state. A returned error means the
// status query itself failed; callers treat that as transient and must not
// fail the job.
func (p *Poller) Poll(ctx context.Context, j *Job) (*PollResult, error) {
	st, err := p.analysis.GetStatus(ctx, j.ExternalJobID)
	if err != nil {
		return nil, errors.Wrap(err, "analysis status query failed")
	}

	switch st.State {
	case analysis.StateFailed:
		return &PollResult{State: PollFailed, Message: st.Message}, nil

	case analysis.StateSucceeded:
		files, err := p.fetchResults(ctx, j)
		if err != nil {
			return nil, err
		}
		return &PollResult{State: PollResultsReady, Files: files}, nil

	default:
		age := time.Since(j.CreatedAt)

		// The provider's status reporting lags near completion. Past the
		// staleness threshold, check the output bucket directly and salvage
		// any results already written.
		if age > p.staleness {
			files, err := p.fetchResults(ctx, j)
			if err == nil && len(files) > 0 {
				p.log.Info("Salvaging results for stale in-progress job",
					zap.String("job_id", j.ID),
					zap.Duration("age", age),
					zap.Int("files", len(files)))
				return &PollResult{State: PollResultsReady, Files: files}, nil
			}
		}

		return &PollResult{State: PollProcessing, Progress: progressEstimate(age)}, nil
	}
}

func (p *Poller) fetchResults(ctx context.Context, j *Job) ([]results.File, error) {
	objects, err := p.storage.ListAll(ctx, j.TempStorageLocation)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list result bucket")
	}

	var files []results.File
	for _, obj := range objects {
		if !isResultArtifact(obj.Key) {
			continue
		}
		data, err := p.storage.Fetch(ctx, j.TempStorageLocation, obj.Key)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to fetch result artifact %q", obj.Key)
		}
		files = append(files, results.File{Name: obj.Key, Data: data})
	}
	return files, nil
}

// isResultArtifact recognizes final result files by fixed name conventions,
// excluding manifests and metadata the service writes alongside them.
func isResultArtifact(key string) bool {
	base := strings.ToLower(path.Base(key))
	if strings.Contains(base, "manifest") || strings.HasSuffix(base, ".metadata") {
		return false
	}
	if strings.HasSuffix(base, ".jsonl") || strings.HasSuffix(base, ".ndjson") {
		return true
	}
	return strings.Contains(base, "result") && strings.HasSuffix(base, ".json")
}

// progressEstimate maps job age to a monotonically increasing percentage,
// capped below 100 so progress alone never looks like completion.
func progressEstimate(age time.Duration) int {
	if age < 0 {
		age = 0
	}
	pct := 5 + int(age*90/processingEstimate)
	if pct > 95 {
		pct = 95
	}
	return pct
}
