package sync

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/alfredjeanlab/onix/internal/model"
)

const (
	snapshotContentType = "application/x-ndjson"
	// digestMetadataKey holds the hex SHA-256 of the uploaded body.
	digestMetadataKey = "onix-sha256"
)

// ErrSnapshotCorrupt is returned by Read when an object's body does not
// match the digest recorded at upload.
var ErrSnapshotCorrupt = errors.New("snapshot digest mismatch")

// objectStore is the part of *s3.Client the destination calls.
type objectStore interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Destination stores the snapshot as a single object in an
// S3-compatible bucket.
type S3Destination struct {
	objects objectStore
	bucket  string
	key     string
}

// NewS3Destination builds a client from the default AWS credential chain.
// A non-empty endpoint switches to path-style addressing, which MinIO and
// most other S3-compatible servers need.
func NewS3Destination(ctx context.Context, bucket, key, region, endpoint string) (*S3Destination, error) {
	if bucket == "" || key == "" {
		return nil, fmt.Errorf("s3 destination needs a bucket and key: %w", model.ErrInvalidArgument)
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Destination{objects: client, bucket: bucket, key: key}, nil
}

func (d *S3Destination) Name() string { return fmt.Sprintf("s3://%s/%s", d.bucket, d.key) }

// Write replaces the object, tagging it with the body's digest.
func (d *S3Destination) Write(ctx context.Context, data []byte) error {
	sum := sha256.Sum256(data)
	in := &s3.PutObjectInput{
		Bucket:        aws.String(d.bucket),
		Key:           aws.String(d.key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(snapshotContentType),
		Metadata:      map[string]string{digestMetadataKey: hex.EncodeToString(sum[:])},
	}
	if _, err := d.objects.PutObject(ctx, in); err != nil {
		return fmt.Errorf("upload %s: %w", d.Name(), err)
	}
	return nil
}

// Read downloads the snapshot. Objects uploaded without a digest are
// returned as-is.
func (d *S3Destination) Read(ctx context.Context) ([]byte, error) {
	out, err := d.objects.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(d.key),
	})
	var missing *types.NoSuchKey
	switch {
	case errors.As(err, &missing):
		return nil, fmt.Errorf("snapshot %s: %w", d.Name(), model.ErrNotFound)
	case err != nil:
		return nil, fmt.Errorf("download %s: %w", d.Name(), err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", d.Name(), err)
	}
	if want, ok := out.Metadata[digestMetadataKey]; ok {
		sum := sha256.Sum256(data)
		if hex.EncodeToString(sum[:]) != want {
			return nil, fmt.Errorf("%s: %w", d.Name(), ErrSnapshotCorrupt)
		}
	}
	return data, nil
}
