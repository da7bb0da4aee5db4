package photostore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// Local reads photos from disk. Capture metadata lives in a JSON sidecar next
// to the photo (front.jpg -> front.jpg.json) holding the same keys the
// uploader sets as Cloud Storage object metadata.
type Local struct {
	Root string
}

func (l *Local) resolve(rawURL string) (string, error) {
	loc, err := ParseURL(rawURL)
	if err != nil {
		return "", err
	}
	if loc.Scheme != "file" {
		return "", fmt.Errorf("local store cannot read %q", rawURL)
	}
	path := filepath.FromSlash(loc.Path)
	if !filepath.IsAbs(path) && l.Root != "" {
		path = filepath.Join(l.Root, path)
	}
	return path, nil
}

func (l *Local) Stat(_ context.Context, rawURL string) (*ObjectInfo, error) {
	path, err := l.resolve(rawURL)
	if err != nil {
		return nil, err
	}
	st, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, rawURL)
	}
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", rawURL, err)
	}
	if st.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrObjectNotFound, rawURL)
	}
	info := &ObjectInfo{
		URL:         rawURL,
		ContentType: contentType(path),
		Size:        st.Size(),
	}
	meta, err := readSidecar(path + ".json")
	if err != nil {
		return nil, err
	}
	applyMetadata(info, meta)
	return info, nil
}

func (l *Local) Read(_ context.Context, rawURL string) ([]byte, string, error) {
	path, err := l.resolve(rawURL)
	if err != nil {
		return nil, "", err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, "", fmt.Errorf("%w: %s", ErrObjectNotFound, rawURL)
	}
	if err != nil {
		return nil, "", fmt.Errorf("read %s: %w", rawURL, err)
	}
	ct := contentType(path)
	if ct == "" {
		ct = http.DetectContentType(data)
	}
	return data, ct, nil
}

func contentType(path string) string {
	ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if idx := strings.IndexByte(ct, ';'); idx >= 0 {
		ct = ct[:idx]
	}
	return ct
}

func readSidecar(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read metadata %s: %w", path, err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode metadata %s: %w", path, err)
	}
	meta := make(map[string]string, len(raw))
	for k, v := range raw {
		meta[k] = fmt.Sprint(v)
	}
	return meta, nil
}
