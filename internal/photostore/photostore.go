// Package photostore reads scan photo objects and the capture metadata the
// uploader attaches to them. URLs use gs://bucket/object for Cloud Storage or
// file:// for local development.
package photostore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
)

// ErrObjectNotFound reports a missing photo object.
var ErrObjectNotFound = errors.New("photo object not found")

// Metadata keys written by the uploader alongside each photo.
const (
	MetaWidth      = "width"
	MetaHeight     = "height"
	MetaBrightness = "brightness"
	MetaPose       = "pose"
	MetaOutfit     = "outfit"
)

// ObjectInfo is what QC needs to know about one photo without decoding it.
type ObjectInfo struct {
	URL         string
	ContentType string
	Size        int64
	Width       int
	Height      int
	// Brightness is mean luminance in [0,1]; nil when the uploader did not measure it.
	Brightness *float64
	Pose       string
	Outfit     string
}

// Orientation returns "portrait", "landscape", or "square"; empty when dimensions are unknown.
func (o ObjectInfo) Orientation() string {
	switch {
	case o.Width <= 0 || o.Height <= 0:
		return ""
	case o.Height > o.Width:
		return "portrait"
	case o.Width > o.Height:
		return "landscape"
	default:
		return "square"
	}
}

// AspectRatio returns width/height, or 0 when unknown.
func (o ObjectInfo) AspectRatio() float64 {
	if o.Width <= 0 || o.Height <= 0 {
		return 0
	}
	return float64(o.Width) / float64(o.Height)
}

// Store inspects and reads photo objects.
type Store interface {
	Stat(ctx context.Context, rawURL string) (*ObjectInfo, error)
	Read(ctx context.Context, rawURL string) ([]byte, string, error)
}

// Location is a parsed object URL.
type Location struct {
	Scheme string
	Bucket string
	Object string
	Path   string
}

// ParseURL splits gs:// and file:// URLs. A bare path is treated as file://.
func ParseURL(rawURL string) (Location, error) {
	trimmed := strings.TrimSpace(rawURL)
	if trimmed == "" {
		return Location{}, errors.New("empty photo url")
	}
	if !strings.Contains(trimmed, "://") {
		return Location{Scheme: "file", Path: trimmed}, nil
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return Location{}, fmt.Errorf("parse photo url %q: %w", rawURL, err)
	}
	switch u.Scheme {
	case "gs":
		object := strings.TrimPrefix(u.Path, "/")
		if u.Host == "" || object == "" {
			return Location{}, fmt.Errorf("photo url %q must be gs://bucket/object", rawURL)
		}
		return Location{Scheme: "gs", Bucket: u.Host, Object: object}, nil
	case "file":
		return Location{Scheme: "file", Path: u.Host + u.Path}, nil
	default:
		return Location{}, fmt.Errorf("unsupported photo url scheme %q", u.Scheme)
	}
}

// Router dispatches to the Cloud Storage or local backend by URL scheme. The
// Cloud Storage client is created on first use so local setups need no credentials.
type Router struct {
	Local *Local

	newGCS  func(ctx context.Context) (*GCS, error)
	gcsOnce sync.Once
	gcs     *GCS
	gcsErr  error
}

// NewRouter builds a router; newGCS may be nil to disable gs:// URLs.
func NewRouter(local *Local, newGCS func(ctx context.Context) (*GCS, error)) *Router {
	return &Router{Local: local, newGCS: newGCS}
}

func (r *Router) backend(ctx context.Context, loc Location) (Store, error) {
	if loc.Scheme == "file" {
		if r.Local == nil {
			return nil, errors.New("local photo store not configured")
		}
		return r.Local, nil
	}
	if r.newGCS == nil {
		return nil, errors.New("cloud storage not configured")
	}
	r.gcsOnce.Do(func() {
		r.gcs, r.gcsErr = r.newGCS(ctx)
	})
	if r.gcsErr != nil {
		return nil, r.gcsErr
	}
	return r.gcs, nil
}

func (r *Router) Stat(ctx context.Context, rawURL string) (*ObjectInfo, error) {
	loc, err := ParseURL(rawURL)
	if err != nil {
		return nil, err
	}
	store, err := r.backend(ctx, loc)
	if err != nil {
		return nil, err
	}
	return store.Stat(ctx, rawURL)
}

func (r *Router) Read(ctx context.Context, rawURL string) ([]byte, string, error) {
	loc, err := ParseURL(rawURL)
	if err != nil {
		return nil, "", err
	}
	store, err := r.backend(ctx, loc)
	if err != nil {
		return nil, "", err
	}
	return store.Read(ctx, rawURL)
}

// Close releases the Cloud Storage client if one was created.
func (r *Router) Close() error {
	if r.gcs != nil {
		return r.gcs.Close()
	}
	return nil
}

func applyMetadata(info *ObjectInfo, meta map[string]string) {
	if v, err := strconv.Atoi(strings.TrimSpace(meta[MetaWidth])); err == nil {
		info.Width = v
	}
	if v, err := strconv.Atoi(strings.TrimSpace(meta[MetaHeight])); err == nil {
		info.Height = v
	}
	if v, err := strconv.ParseFloat(strings.TrimSpace(meta[MetaBrightness]), 64); err == nil {
		info.Brightness = &v
	}
	info.Pose = strings.ToLower(strings.TrimSpace(meta[MetaPose]))
	info.Outfit = strings.TrimSpace(meta[MetaOutfit])
}
