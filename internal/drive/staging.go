package drive

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// StagedPattern names in-progress copies in the staging directory.
const StagedPattern = ".discarchive-*.partial"

// stagedArtifact is the temporary file a copy writes into. It is renamed to
// the operator's name on commit and removed otherwise.
type stagedArtifact struct {
	path string
	file *os.File
}

func createStaged(dir string) (*stagedArtifact, error) {
	file, err := os.CreateTemp(dir, StagedPattern)
	if err != nil {
		return nil, fmt.Errorf("create staged image in %s: %w", dir, err)
	}
	return &stagedArtifact{path: file.Name(), file: file}, nil
}

// seal flushes and closes the file so it can be renamed.
func (a *stagedArtifact) seal() error {
	if a.file == nil {
		return nil
	}
	file := a.file
	a.file = nil
	if err := file.Sync(); err != nil {
		_ = file.Close()
		return fmt.Errorf("sync staged image: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("close staged image: %w", err)
	}
	return nil
}

func (a *stagedArtifact) discard() error {
	if a == nil {
		return nil
	}
	if a.file != nil {
		_ = a.file.Close()
		a.file = nil
	}
	if err := os.Remove(a.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// CleanStaleArtifacts removes staged copies left behind by an earlier process
// and returns their paths. Partial copies are never resumed.
func CleanStaleArtifacts(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, StagedPattern))
	if err != nil {
		return nil, err
	}
	var removed []string
	var errs []error
	for _, path := range matches {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		removed = append(removed, path)
	}
	return removed, errors.Join(errs...)
}
