package uploader

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/pkg/errors"
)

type s3Store struct {
	client *s3.Client
}

// NewS3Store wraps an S3 client as a BlobStore.
func NewS3Store(client *s3.Client) BlobStore {
	return &s3Store{client: client}
}

func (s *s3Store) Put(ctx context.Context, bucket, key string, body io.Reader, size int64, contentType string) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        &bucket,
		Key:           &key,
		Body:          body,
		ContentLength: &size,
		ContentType:   &contentType,
	})
	if err != nil {
		return errors.Wrapf(err, "failed to upload s3://%s/%s", bucket, key)
	}
	return nil
}

func (s *s3Store) URL(bucket, region, key string) string {
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", bucket, region, key)
}
