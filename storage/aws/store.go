package aws

import (
	"bytes"
	"context"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	aws_s3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pixelvault/moderation-server/storage"
)

// Concurrency bound for object deletes within one listing page.
const deleteConcurrency = 16

// Store is the AWS S3 implementation of the storage.Store interface.
type Store struct {
	log    *zap.Logger
	client *aws_s3.Client
}

func NewStore(log *zap.Logger, client *aws_s3.Client) *Store {
	return &Store{
		log:    log,
		client: client,
	}
}

func (s *Store) Put(ctx context.Context, bucket, key string, data []byte) error {
	if key == "" {
		return errors.New("key cannot be empty")
	}

	_, err := s.client.PutObject(ctx, &aws_s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return errors.Wrap(err, "failed to upload object to s3")
	}
	return nil
}

func (s *Store) ListAll(ctx context.Context, bucket string) ([]storage.Object, error) {
	var objects []storage.Object
	var continuation *string
	for {
		out, err := s.client.ListObjectsV2(ctx, &aws_s3.ListObjectsV2Input{
			Bucket:            aws.String(bucket),
			ContinuationToken: continuation,
		})
		if err != nil {
			return nil, mapError(err, "failed to list bucket")
		}

		for _, obj := range out.Contents {
			objects = append(objects, storage.Object{
				Key:  aws.ToString(obj.Key),
				Size: aws.ToInt64(obj.Size),
			})
		}

		if !aws.ToBool(out.IsTruncated) {
			return objects, nil
		}
		continuation = out.NextContinuationToken
	}
}

func (s *Store) Fetch(ctx context.Context, bucket, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &aws_s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, mapError(err, "failed to download object from s3")
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read object data")
	}
	return data, nil
}

// DeleteBucket drains the bucket page by page, deleting the objects of each
// page concurrently, then deletes the empty bucket container.
func (s *Store) DeleteBucket(ctx context.Context, bucket string) error {
	var continuation *string
	deleted := 0
	for {
		out, err := s.client.ListObjectsV2(ctx, &aws_s3.ListObjectsV2Input{
			Bucket:            aws.String(bucket),
			ContinuationToken: continuation,
		})
		if err != nil {
			return mapError(err, "failed to list bucket for deletion")
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(deleteConcurrency)
		for _, obj := range out.Contents {
			key := aws.ToString(obj.Key)
			g.Go(func() error {
				_, err := s.client.DeleteObject(gctx, &aws_s3.DeleteObjectInput{
					Bucket: aws.String(bucket),
					Key:    aws.String(key),
				})
				return errors.Wrapf(err, "failed to delete object %q", key)
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
		deleted += len(out.Contents)

		if !aws.ToBool(out.IsTruncated) {
			break
		}
		continuation = out.NextContinuationToken
	}

	if _, err := s.client.DeleteBucket(ctx, &aws_s3.DeleteBucketInput{
		Bucket: aws.String(bucket),
	}); err != nil {
		return mapError(err, "failed to delete bucket")
	}

	s.log.Info("Deleted ephemeral bucket",
		zap.String("bucket", bucket),
		zap.Int("objects", deleted))
	return nil
}

func mapError(err error, msg string) error {
	var noKey *types.NoSuchKey
	if errors.As(err, &noKey) {
		return storage.ErrNotFound
	}
	var noBucket *types.NoSuchBucket
	if errors.As(err, &noBucket) {
		return storage.ErrBucketNotFound
	}
	return errors.Wrap(err, msg)
}
