package debugdump

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/jkaberg/hass-byd-vehicle/pkg/log"
	"github.com/jkaberg/hass-byd-vehicle/pkg/options"
)

// objectPutter is the part of *minio.Client used for dumps.
type objectPutter interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

type s3Store struct {
	client objectPutter
	bucket string
	prefix string
}

func newS3Store(ctx context.Context, opts *options.S3Options) (*s3Store, error) {
	if opts == nil {
		return nil, fmt.Errorf("s3 options are required for the s3 dump target")
	}
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKeyID, opts.SecretAccessKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, opts.BucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket existence: %w", err)
	}
	switch {
	case exists:
	case !opts.CreateBucket:
		return nil, fmt.Errorf("bucket %q does not exist", opts.BucketName)
	default:
		log.Info("Bucket does not exist, creating...", "bucket", opts.BucketName)
		if err := client.MakeBucket(ctx, opts.BucketName, minio.MakeBucketOptions{Region: opts.Region}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return &s3Store{client: client, bucket: opts.BucketName, prefix: opts.Prefix}, nil
}

func (s *s3Store) put(ctx context.Context, name string, data []byte) error {
	_, err := s.client.PutObject(ctx, s.bucket, s.prefix+name, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	return err
}

func (s *s3Store) String() string { return "s3:" + s.bucket + "/" + s.prefix }
