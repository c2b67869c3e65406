// Package inspect reads back committed disc images: the ISO 9660 volume
// label, the root directory listing and the sidecar manifest if one exists.
package inspect

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"

	"github.com/kdomanski/iso9660"

	"discarchive/internal/manifest"
)

// Entry is one root directory member.
type Entry struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
	Dir  bool   `json:"dir"`
}

// Report summarizes an image file.
type Report struct {
	Path     string             `json:"path"`
	Size     int64              `json:"size"`
	Label    string             `json:"label"`
	Entries  []Entry            `json:"entries"`
	Manifest *manifest.Manifest `json:"manifest,omitempty"`
}

// Image opens path as an ISO 9660 image and lists its root directory.
func Image(path string) (Report, error) {
	file, err := os.Open(path)
	if err != nil {
		return Report{}, fmt.Errorf("open image: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return Report{}, fmt.Errorf("stat image: %w", err)
	}
	if info.IsDir() {
		return Report{}, fmt.Errorf("%s is a directory", path)
	}

	img, err := iso9660.OpenImage(file)
	if err != nil {
		return Report{}, fmt.Errorf("read iso9660 image %s: %w", path, err)
	}
	label, err := img.Label()
	if err != nil {
		return Report{}, fmt.Errorf("read volume label: %w", err)
	}
	root, err := img.RootDir()
	if err != nil {
		return Report{}, fmt.Errorf("read root directory: %w", err)
	}
	children, err := root.GetChildren()
	if err != nil {
		return Report{}, fmt.Errorf("list root directory: %w", err)
	}

	report := Report{Path: path, Size: info.Size(), Label: label}
	for _, child := range children {
		report.Entries = append(report.Entries, Entry{Name: child.Name(), Size: child.Size(), Dir: child.IsDir()})
	}
	sort.Slice(report.Entries, func(i, j int) bool { return report.Entries[i].Name < report.Entries[j].Name })

	m, err := manifest.Read(path)
	switch {
	case err == nil:
		report.Manifest = &m
	case errors.Is(err, fs.ErrNotExist):
	default:
		return report, err
	}
	return report, nil
}

// LabelMatches reports whether the image label equals the label recorded in
// its manifest. Images without a manifest always match.
func (r Report) LabelMatches() bool {
	return r.Manifest == nil || r.Manifest.VolumeLabel == r.Label
}
