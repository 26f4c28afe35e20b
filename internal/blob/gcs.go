package blob

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/lyceum-app/lyceum/internal/core"
)

// GCS stores attachments in a Google Cloud Storage bucket.
type GCS struct {
	client *storage.Client
	bucket string
}

// NewGCS connects with the given service account key file; an empty path
// falls back to ambient application default credentials.
func NewGCS(ctx context.Context, bucket, credentialsFile string) (*GCS, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("blob: gcs client: %w", err)
	}
	return &GCS{client: client, bucket: bucket}, nil
}

// Upload implements Store.
func (g *GCS) Upload(ctx context.Context, key string, contentType string, content io.Reader) (Info, error) {
	w := g.client.Bucket(g.bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentType
	w.CacheControl = "no-cache, no-store, must-revalidate"
	size, err := io.Copy(w, content)
	if err != nil {
		_ = w.Close()
		return Info{}, &core.TransientError{Err: fmt.Errorf("blob: upload %s: %w", key, err)}
	}
	if err := w.Close(); err != nil {
		return Info{}, &core.TransientError{Err: fmt.Errorf("blob: upload %s: %w", key, err)}
	}
	return Info{Key: key, Size: size, ContentType: contentType}, nil
}

// Open implements Store.
func (g *GCS) Open(ctx context.Context, key string) (io.ReadCloser, Info, error) {
	obj := g.client.Bucket(g.bucket).Object(key)
	r, err := obj.NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, Info{}, fmt.Errorf("%w: attachment %s", core.ErrNotFound, key)
	}
	if err != nil {
		return nil, Info{}, &core.TransientError{Err: fmt.Errorf("blob: open %s: %w", key, err)}
	}
	info := Info{Key: key, Size: r.Attrs.Size, ContentType: r.Attrs.ContentType}
	return r, info, nil
}

// Remove implements Store.
func (g *GCS) Remove(ctx context.Context, key string) error {
	err := g.client.Bucket(g.bucket).Object(key).Delete(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil
	}
	if err != nil {
		return &core.TransientError{Err: fmt.Errorf("blob: remove %s: %w", key, err)}
	}
	return nil
}
