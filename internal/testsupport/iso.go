package testsupport

import (
	"bytes"
	"os"
	"testing"

	"github.com/kdomanski/iso9660"
)

// WriteISO builds an ISO 9660 image at path with the given root files.
func WriteISO(t testing.TB, path, label string, files map[string]string) {
	t.Helper()
	writer, err := iso9660.NewWriter()
	if err != nil {
		t.Fatalf("iso9660.NewWriter: %v", err)
	}
	defer func() { _ = writer.Cleanup() }()
	for name, content := range files {
		if err := writer.AddFile(bytes.NewReader([]byte(content)), name); err != nil {
			t.Fatalf("add %s to image: %v", name, err)
		}
	}
	out, err := os.Create(path)
	if err != nil {
		t.Fatalf("create image: %v", err)
	}
	defer out.Close()
	if err := writer.WriteTo(out, label); err != nil {
		t.Fatalf("write image: %v", err)
	}
}
