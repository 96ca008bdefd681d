// Package archive uploads the outputs of a finished run to object storage.
// Objects are keyed <prefix>/<service>/<run_id>/<file>.
package archive

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/ajitpratap0/harvester/pkg/config"
	"github.com/ajitpratap0/harvester/pkg/errors"
)

// Uploader stores one local file under an object key.
type Uploader interface {
	Put(ctx context.Context, key, localPath string) error
	Close() error
}

// Archiver uploads run outputs through an Uploader.
type Archiver struct {
	uploader Uploader
	bucket   string
	prefix   string
	kind     string
	log      *zap.Logger
}

// New builds the archiver selected by cfg.Type. A disabled config yields nil.
func New(ctx context.Context, cfg config.ArchiveConfig, log *zap.Logger) (*Archiver, error) {
	if !cfg.Enabled() {
		return nil, nil
	}
	if cfg.Bucket == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "archive.bucket is required")
	}

	var (
		up  Uploader
		err error
	)
	switch cfg.Type {
	case "s3":
		up, err = NewS3(ctx, cfg)
	case "gcs":
		up, err = NewGCS(ctx, cfg)
	default:
		return nil, errors.Newf(errors.ErrorTypeConfig, "unknown archive type %q", cfg.Type)
	}
	if err != nil {
		return nil, err
	}
	return NewWithUploader(cfg, up, log), nil
}

// NewWithUploader creates an archiver over an existing uploader.
func NewWithUploader(cfg config.ArchiveConfig, up Uploader, log *zap.Logger) *Archiver {
	if log == nil {
		log = zap.NewNop()
	}
	return &Archiver{uploader: up, bucket: cfg.Bucket, prefix: cfg.Prefix, kind: cfg.Type, log: log}
}

// ObjectKey returns the key of file for a run of service.
func ObjectKey(prefix, service, runID, file string) string {
	parts := make([]string, 0, 4)
	if p := strings.Trim(prefix, "/"); p != "" {
		parts = append(parts, p)
	}
	parts = append(parts, service, runID, filepath.Base(file))
	return path.Join(parts...)
}

// Upload stores every file and returns the URLs of the uploaded objects.
// It stops at the first failure.
func (a *Archiver) Upload(ctx context.Context, service, runID string, files []string) ([]string, error) {
	urls := make([]string, 0, len(files))
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return urls, err
		}
		if _, err := os.Stat(f); err != nil {
			return urls, errors.Wrap(err, errors.ErrorTypeSink, "archive input is missing").
				WithDetail("file", f)
		}
		key := ObjectKey(a.prefix, service, runID, f)
		if err := a.uploader.Put(ctx, key, f); err != nil {
			return urls, errors.Wrap(err, errors.ErrorTypeSink, "failed to archive output").
				WithDetail("file", f).
				WithDetail("key", key)
		}
		url := a.URL(key)
		a.log.Info("archived output", zap.String("file", f), zap.String("object", url))
		urls = append(urls, url)
	}
	return urls, nil
}

// URL renders a key as s3://bucket/key or gs://bucket/key.
func (a *Archiver) URL(key string) string {
	scheme := "s3"
	if a.kind == "gcs" {
		scheme = "gs"
	}
	return scheme + "://" + a.bucket + "/" + key
}

// Close releases the uploader.
func (a *Archiver) Close() error {
	return a.uploader.Close()
}
