package photostore_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"scanpipe/internal/photostore"
	"scanpipe/internal/testsupport"
)

func TestParseURL(t *testing.T) {
	cases := []struct {
		raw    string
		scheme string
		bucket string
		object string
		path   string
		bad    bool
	}{
		{raw: "gs://scans/u1/front.jpg", scheme: "gs", bucket: "scans", object: "u1/front.jpg"},
		{raw: "file:///tmp/front.jpg", scheme: "file", path: "/tmp/front.jpg"},
		{raw: "file://u1/front.jpg", scheme: "file", path: "u1/front.jpg"},
		{raw: "u1/front.jpg", scheme: "file", path: "u1/front.jpg"},
		{raw: "gs://scans", bad: true},
		{raw: "s3://bucket/key", bad: true},
		{raw: "  ", bad: true},
	}
	for _, tc := range cases {
		loc, err := photostore.ParseURL(tc.raw)
		if tc.bad {
			if err == nil {
				t.Fatalf("%q: expected error", tc.raw)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%q: %v", tc.raw, err)
		}
		if loc.Scheme != tc.scheme || loc.Bucket != tc.bucket || loc.Object != tc.object || loc.Path != tc.path {
			t.Fatalf("%q: unexpected location %+v", tc.raw, loc)
		}
	}
}

func TestLocalStatReadsSidecarMetadata(t *testing.T) {
	root := t.TempDir()
	photo := filepath.Join(root, "u1", "front.jpg")
	testsupport.WriteFile(t, photo, 4096)
	sidecar := `{"width": 720, "height": 1280, "brightness": 0.52, "pose": "Front", "outfit": "black-shorts"}`
	if err := os.WriteFile(photo+".json", []byte(sidecar), 0o644); err != nil {
		t.Fatalf("write sidecar: %v", err)
	}

	store := &photostore.Local{Root: root}
	info, err := store.Stat(context.Background(), "file://u1/front.jpg")
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.ContentType != "image/jpeg" || info.Size != 4096 {
		t.Fatalf("unexpected object info %+v", info)
	}
	if info.Width != 720 || info.Height != 1280 || info.Orientation() != "portrait" {
		t.Fatalf("dimensions not parsed: %+v", info)
	}
	if info.Brightness == nil || *info.Brightness != 0.52 {
		t.Fatalf("brightness not parsed: %v", info.Brightness)
	}
	if info.Pose != "front" || info.Outfit != "black-shorts" {
		t.Fatalf("pose/outfit not parsed: %+v", info)
	}

	data, ct, err := store.Read(context.Background(), "file://u1/front.jpg")
	if err != nil || len(data) != 4096 || ct != "image/jpeg" {
		t.Fatalf("Read = %d bytes, %q, %v", len(data), ct, err)
	}
}

func TestLocalMissingObject(t *testing.T) {
	store := &photostore.Local{Root: t.TempDir()}
	_, err := store.Stat(context.Background(), "file://u1/missing.jpg")
	if !errors.Is(err, photostore.ErrObjectNotFound) {
		t.Fatalf("expected ErrObjectNotFound, got %v", err)
	}
}

func TestRouterWithoutCloudStorage(t *testing.T) {
	root := t.TempDir()
	testsupport.WriteFile(t, filepath.Join(root, "side.png"), 10)
	router := photostore.NewRouter(&photostore.Local{Root: root}, nil)

	info, err := router.Stat(context.Background(), "file://side.png")
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.ContentType != "image/png" {
		t.Fatalf("unexpected content type %q", info.ContentType)
	}
	if _, err := router.Stat(context.Background(), "gs://bucket/side.png"); err == nil {
		t.Fatal("expected gs:// to fail without a cloud storage factory")
	}
}
