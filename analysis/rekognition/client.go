package rekognition

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	rek "github.com/aws/aws-sdk-go-v2/service/rekognition"
	"github.com/aws/aws-sdk-go-v2/service/rekognition/types"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/pixelvault/moderation-server/analysis"
)

// Client drives AWS Rekognition bulk media-analysis jobs.
type Client struct {
	log *zap.Logger
	rek *rek.Client
}

func NewClient(log *zap.Logger, rekClient *rek.Client) *Client {
	return &Client{
		log: log,
		rek: rekClient,
	}
}

func (c *Client) Submit(ctx context.Context, input analysis.SubmitInput) (string, error) {
	out, err := c.rek.StartMediaAnalysisJob(ctx, &rek.StartMediaAnalysisJobInput{
		Input: &types.MediaAnalysisInput{
			S3Object: &types.S3Object{
				Bucket: aws.String(input.ManifestBucket),
				Name:   aws.String(input.ManifestKey),
			},
		},
		OperationsConfig: &types.MediaAnalysisOperationsConfig{
			DetectModerationLabels: &types.MediaAnalysisDetectModerationLabelsConfig{
				MinConfidence: aws.Float32(input.MinConfidence),
			},
		},
		OutputConfig: &types.MediaAnalysisOutputConfig{
			S3Bucket:    aws.String(input.OutputBucket),
			S3KeyPrefix: aws.String(input.OutputPrefix),
		},
	})
	if err != nil {
		return "", errors.Wrap(err, "failed to start media analysis job")
	}

	jobID := aws.ToString(out.JobId)
	c.log.Info("Submitted media analysis job",
		zap.String("external_job_id", jobID),
		zap.String("manifest", input.ManifestBucket+"/"+input.ManifestKey))
	return jobID, nil
}

func (c *Client) GetStatus(ctx context.Context, externalJobID string) (*analysis.Status, error) {
	out, err := c.rek.GetMediaAnalysisJob(ctx, &rek.GetMediaAnalysisJobInput{
		JobId: aws.String(externalJobID),
	})
	if err != nil {
		var notFound *types.ResourceNotFoundException
		if errors.As(err, &notFound) {
			return nil, analysis.ErrJobNotFound
		}
		return nil, errors.Wrap(err, "failed to get media analysis job")
	}

	st := &analysis.Status{State: mapState(out.Status)}
	if out.FailureDetails != nil {
		st.Message = aws.ToString(out.FailureDetails.Message)
	}
	return st, nil
}

func mapState(s types.MediaAnalysisJobStatus) analysis.State {
	switch s {
	case types.MediaAnalysisJobStatusCreated, types.MediaAnalysisJobStatusQueued:
		return analysis.StateQueued
	case types.MediaAnalysisJobStatusInProgress:
		return analysis.StateInProgress
	case types.MediaAnalysisJobStatusSucceeded:
		return analysis.StateSucceeded
	case types.MediaAnalysisJobStatusFailed:
		return analysis.StateFailed
	default:
		return analysis.StateInProgress
	}
}
