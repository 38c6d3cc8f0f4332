package artifact

import (
	"bytes"
	"context"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Archiver uploads finished result artifacts to an S3-compatible object
// store. It is an optional collaborator: the coordinator runs without one
// when no endpoint is configured.
type Archiver struct {
	client *minio.Client
	bucket string
}

// New connects to the object store and ensures the bucket exists
func New(ctx context.Context, endpoint, accessKey, secretKey, bucket string, useSSL bool) (*Archiver, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("object store connection: %w", err)
	}

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("bucket check: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("bucket create: %w", err)
		}
	}

	return &Archiver{client: client, bucket: bucket}, nil
}

// ArchiveResults stores the job's CSV artifact as <jobId>-results.csv
func (a *Archiver) ArchiveResults(ctx context.Context, jobID string, csv []byte) error {
	object := fmt.Sprintf("%s-results.csv", jobID)
	_, err := a.client.PutObject(ctx, a.bucket, object, bytes.NewReader(csv), int64(len(csv)), minio.PutObjectOptions{
		ContentType: "text/csv",
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", object, err)
	}
	return nil
}
