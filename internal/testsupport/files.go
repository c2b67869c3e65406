package testsupport

import (
	"os"
	"path/filepath"
	"testing"
)

// DeviceBytes returns size bytes where every 2048-byte block starts with its
// block number, so a misplaced chunk shows up as a content mismatch.
func DeviceBytes(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		block := i / 2048
		switch i % 2048 {
		case 0:
			data[i] = byte(block >> 8)
		case 1:
			data[i] = byte(block)
		default:
			data[i] = byte('a' + i%26)
		}
	}
	return data
}

// WriteFile creates path with data, making parent directories as needed.
func WriteFile(t testing.TB, path string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
