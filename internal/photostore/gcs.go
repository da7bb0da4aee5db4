package photostore

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCS reads photos from Cloud Storage.
type GCS struct {
	Client *storage.Client
}

// NewGCS creates a Cloud Storage client, optionally from a credentials file.
func NewGCS(ctx context.Context, credentialsFile string) (*GCS, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("storage init: %w", err)
	}
	return &GCS{Client: client}, nil
}

func (g *GCS) Stat(ctx context.Context, rawURL string) (*ObjectInfo, error) {
	loc, err := ParseURL(rawURL)
	if err != nil {
		return nil, err
	}
	attrs, err := g.Client.Bucket(loc.Bucket).Object(loc.Object).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, rawURL)
	}
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", rawURL, err)
	}
	info := &ObjectInfo{
		URL:         rawURL,
		ContentType: attrs.ContentType,
		Size:        attrs.Size,
	}
	applyMetadata(info, attrs.Metadata)
	return info, nil
}

func (g *GCS) Read(ctx context.Context, rawURL string) ([]byte, string, error) {
	loc, err := ParseURL(rawURL)
	if err != nil {
		return nil, "", err
	}
	rc, err := g.Client.Bucket(loc.Bucket).Object(loc.Object).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, "", fmt.Errorf("%w: %s", ErrObjectNotFound, rawURL)
	}
	if err != nil {
		return nil, "", fmt.Errorf("read %s: %w", rawURL, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, "", fmt.Errorf("read %s: %w", rawURL, err)
	}
	return data, rc.Attrs.ContentType, nil
}

func (g *GCS) Close() error {
	return g.Client.Close()
}
