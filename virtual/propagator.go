package virtual

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/pixelvault/moderation-server/results"
)

// DefaultDelay is the fixed pause before propagation, tolerating eventual
// consistency of the correlation table's writers. A race mitigation, not a
// correctness guarantee.
const DefaultDelay = 2 * time.Second

// Propagator pushes normalized moderation results to the virtual-image
// record store, correlating results to records by upload position.
type Propagator struct {
	log   *zap.Logger
	store Store
	delay time.Duration
}

func NewPropagator(log *zap.Logger, store Store, delay time.Duration) *Propagator {
	if delay < 0 {
		delay = DefaultDelay
	}
	return &Propagator{
		log:   log,
		store: store,
		delay: delay,
	}
}

// Propagate builds one ImageUpdate per result by positional correlation and
// submits them in a single bulk update. Results without a correlation entry
// are skipped with a warning; they never fail the batch.
func (p *Propagator) Propagate(ctx context.Context, ownerID, jobID string, recs []results.Normalized) (*BulkUpdateResult, error) {
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	order, err := p.store.GetUploadOrder(ctx, ownerID, jobID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load upload order")
	}

	updates := make([]*ImageUpdate, 0, len(recs))
	for i, rec := range recs {
		if i >= len(order) || order[i] == "" {
			p.log.Warn("No correlation entry for result; skipping",
				zap.String("job_id", jobID),
				zap.String("image_id", rec.ImageID),
				zap.Int("position", i))
			continue
		}
		updates = append(updates, &ImageUpdate{
			VirtualImageID:  order[i],
			IsFlagged:       rec.IsFlagged,
			ConfidenceScore: rec.ConfidenceScore,
			MatchedLabels:   rec.MatchedLabels,
			RawAnalysis:     rec.Raw,
		})
	}

	if len(updates) == 0 {
		p.log.Warn("No updates to propagate", zap.String("job_id", jobID))
		return &BulkUpdateResult{}, nil
	}

	res, err := p.store.BulkUpdate(ctx, ownerID, jobID, updates)
	if err != nil {
		return nil, errors.Wrap(err, "bulk update failed")
	}

	p.log.Info("Propagated moderation results",
		zap.String("job_id", jobID),
		zap.Int("processed", res.Processed),
		zap.Int("failed", res.Failed))
	return res, nil
}
