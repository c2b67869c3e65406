// Package manifest writes and reads the JSON sidecar stored next to each
// committed disc image.
package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/google/renameio/v2"
)

// Suffix is appended to the image path to form the sidecar path.
const Suffix = ".json"

// Manifest describes how an image was produced.
type Manifest struct {
	Image       string    `json:"image"`
	CycleID     string    `json:"cycle_id"`
	DevicePath  string    `json:"device_path"`
	VolumeLabel string    `json:"volume_label"`
	BlockSize   int64     `json:"block_size"`
	BlockCount  int64     `json:"block_count"`
	Bytes       int64     `json:"bytes"`
	InsertedAt  time.Time `json:"inserted_at"`
	CommittedAt time.Time `json:"committed_at"`
	CopySeconds float64   `json:"copy_seconds"`
	Host        string    `json:"host,omitempty"`
}

// PathFor returns the sidecar location for image.
func PathFor(image string) string {
	return image + Suffix
}

// Write stores m beside its image. The sidecar is replaced atomically so a
// reader never sees a partial document.
func Write(m Manifest) (string, error) {
	if m.Image == "" {
		return "", errors.New("manifest image path is required")
	}
	if m.Host == "" {
		m.Host, _ = os.Hostname()
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode manifest: %w", err)
	}
	data = append(data, '\n')

	path := PathFor(m.Image)
	pending, err := renameio.NewPendingFile(path, renameio.WithPermissions(0o644))
	if err != nil {
		return "", fmt.Errorf("create pending manifest: %w", err)
	}
	defer func() { _ = pending.Cleanup() }()

	if _, err := pending.Write(data); err != nil {
		return "", fmt.Errorf("write manifest: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return "", fmt.Errorf("replace manifest: %w", err)
	}
	return path, nil
}

// Read loads the sidecar for image. It returns fs.ErrNotExist when the image
// has none.
func Read(image string) (Manifest, error) {
	data, err := os.ReadFile(PathFor(image))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Manifest{}, err
		}
		return Manifest{}, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("decode manifest %s: %w", PathFor(image), err)
	}
	return m, nil
}
