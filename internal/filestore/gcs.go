package filestore

import (
	"context"
	"io"
	"os"
	"time"

	"cloud.google.com/go/storage"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/option"
)

// GCS stores objects in a Google Cloud Storage bucket. Download links
// are V4 signed URLs, so they keep working after the service restarts.
type GCS struct {
	client *storage.Client
	bucket string
}

// NewGCS connects using the service account key at saKeyPath, or
// ambient credentials when saKeyPath is empty.
func NewGCS(ctx context.Context, bucket, saKeyPath string) (*GCS, error) {
	var opts []option.ClientOption
	if saKeyPath != "" {
		if _, err := os.Stat(saKeyPath); os.IsNotExist(err) {
			return nil, errors.Errorf("service account key not found at %s", saKeyPath)
		}
		opts = append(opts, option.WithCredentialsFile(saKeyPath))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "create gcs client")
	}
	return &GCS{client: client, bucket: bucket}, nil
}

func (g *GCS) Upload(ctx context.Context, key string, body io.Reader) error {
	w := g.client.Bucket(g.bucket).Object(key).NewWriter(ctx)
	w.ContentType = "application/octet-stream"
	w.CacheControl = "no-cache, no-store, must-revalidate"

	if _, err := io.Copy(w, body); err != nil {
		w.Close()
		return errors.Wrapf(err, "write gs://%s/%s", g.bucket, key)
	}
	if err := w.Close(); err != nil {
		return errors.Wrapf(err, "close gs://%s/%s", g.bucket, key)
	}
	log.Debug().Str("bucket", g.bucket).Str("key", key).Msg("stored file in gcs")
	return nil
}

func (g *GCS) Delete(ctx context.Context, key string) error {
	err := g.client.Bucket(g.bucket).Object(key).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return errors.Wrapf(err, "delete gs://%s/%s", g.bucket, key)
	}
	return nil
}

func (g *GCS) DownloadLink(ctx context.Context, key string, expiry time.Duration) (string, error) {
	if _, err := g.client.Bucket(g.bucket).Object(key).Attrs(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return "", ErrNotFound
		}
		return "", errors.Wrapf(err, "stat gs://%s/%s", g.bucket, key)
	}
	url, err := g.client.Bucket(g.bucket).SignedURL(key, &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  "GET",
		Expires: time.Now().Add(expiry),
	})
	if err != nil {
		return "", errors.Wrapf(err, "sign url for gs://%s/%s", g.bucket, key)
	}
	return url, nil
}

func (g *GCS) Close() error { return g.client.Close() }
