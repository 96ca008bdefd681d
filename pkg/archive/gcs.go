package archive

import (
	"context"
	"io"
	"os"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/ajitpratap0/harvester/pkg/config"
	"github.com/ajitpratap0/harvester/pkg/errors"
)

// GCSUploader writes objects to a Cloud Storage bucket.
type GCSUploader struct {
	client *storage.Client
	bucket *storage.BucketHandle
}

// NewGCS creates a client from cfg.CredentialsFile or application default
// credentials. cfg.Endpoint points the client at an emulator.
func NewGCS(ctx context.Context, cfg config.ArchiveConfig) (*GCSUploader, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint), option.WithoutAuthentication())
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to create GCS client")
	}
	return &GCSUploader{client: client, bucket: client.Bucket(cfg.Bucket)}, nil
}

// Put implements Uploader.
func (u *GCSUploader) Put(ctx context.Context, key, localPath string) error {
	f, err := os.Open(localPath) //nolint:gosec // G304: paths come from the sink
	if err != nil {
		return err
	}
	defer f.Close()

	w := u.bucket.Object(key).NewWriter(ctx)
	w.ContentType = contentType(localPath)
	if _, err := io.Copy(w, f); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

// Close implements Uploader.
func (u *GCSUploader) Close() error {
	return u.client.Close()
}

func contentType(name string) string {
	switch {
	case strings.HasSuffix(name, ".json"):
		return "application/json"
	case strings.HasSuffix(name, ".jsonl"):
		return "application/x-ndjson"
	default:
		return "application/octet-stream"
	}
}
