package archive

import (
	"context"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/ajitpratap0/harvester/pkg/config"
	"github.com/ajitpratap0/harvester/pkg/errors"
)

const (
	s3PartSize    = 8 * 1024 * 1024
	s3Concurrency = 4
)

// S3Uploader writes objects to an S3 bucket with the multipart upload manager.
type S3Uploader struct {
	bucket   string
	uploader *manager.Uploader
}

// NewS3 loads the default AWS credential chain for cfg.Region. A custom
// endpoint switches to path-style addressing for S3-compatible stores.
func NewS3(ctx context.Context, cfg config.ArchiveConfig) (*S3Uploader, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to load AWS configuration")
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = s3PartSize
		u.Concurrency = s3Concurrency
	})
	return &S3Uploader{bucket: cfg.Bucket, uploader: uploader}, nil
}

// Put implements Uploader.
func (u *S3Uploader) Put(ctx context.Context, key, localPath string) error {
	f, err := os.Open(localPath) //nolint:gosec // G304: paths come from the sink
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = u.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(contentType(localPath)),
	})
	return err
}

// Close implements Uploader.
func (u *S3Uploader) Close() error { return nil }
