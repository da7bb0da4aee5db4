package testsupport

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// WriteFile fills the target path with the requested number of bytes using a
// simple repeating pattern. A size <= 0 writes a single byte.
func WriteFile(t testing.TB, path string, size int64) {
	t.Helper()

	if size <= 0 {
		size = 1
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()

	const chunkSize = 32 * 1024
	buf := make([]byte, chunkSize)
	for i := range buf {
		buf[i] = 0x42
	}

	remaining := size
	for remaining > 0 {
		toWrite := int64(chunkSize)
		if remaining < toWrite {
			toWrite = remaining
		}
		if _, err := f.Write(buf[:toWrite]); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
		remaining -= toWrite
	}
}

// WriteScanPhotos stages front/side/back photos with passing QC sidecars
// under root, matching the URLs NewScan assigns for (userID, date).
func WriteScanPhotos(t testing.TB, root, userID, date string) {
	t.Helper()

	dir := filepath.Join(root, "photos", userID, date)
	for _, angle := range []string{"front", "side", "back"} {
		photo := filepath.Join(dir, angle+".jpg")
		WriteFile(t, photo, 200_000)
		sidecar := fmt.Sprintf(`{"width": 1080, "height": 1920, "brightness": 0.5, "pose": %q, "outfit": "black-shorts"}`, angle)
		if err := os.WriteFile(photo+".json", []byte(sidecar), 0o644); err != nil {
			t.Fatalf("write sidecar %s: %v", photo, err)
		}
	}
}
