package preflight

import (
	"errors"
	"fmt"
	"os"

	"github.com/c2h5oh/datasize"
	"golang.org/x/sys/unix"
)

// ErrInsufficientSpace is returned when a directory cannot hold a copy.
var ErrInsufficientSpace = errors.New("insufficient free space")

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// FreeBytes returns the space available to unprivileged writers under path.
func FreeBytes(path string) (uint64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, fmt.Errorf("statfs %s: %w", path, err)
	}
	return stat.Bavail * uint64(stat.Bsize), nil
}

// CheckFreeSpace reports whether path keeps at least reserve bytes free.
func CheckFreeSpace(name, path string, reserve int64) Result {
	free, err := FreeBytes(path)
	if err != nil {
		return Result{Name: name, Detail: err.Error()}
	}
	detail := fmt.Sprintf("%s free in %s", datasize.ByteSize(free).HumanReadable(), path)
	if int64(free) < reserve {
		return Result{Name: name, Detail: fmt.Sprintf("%s (below reserve of %s)", detail, datasize.ByteSize(reserve).HumanReadable())}
	}
	return Result{Name: name, Passed: true, Detail: detail}
}

// SpaceChecker returns a function that fails when dir cannot hold need
// bytes on top of reserve.
func SpaceChecker(reserve datasize.ByteSize) func(dir string, need int64) error {
	return spaceChecker(reserve, FreeBytes)
}

func spaceChecker(reserve datasize.ByteSize, free func(string) (uint64, error)) func(string, int64) error {
	return func(dir string, need int64) error {
		available, err := free(dir)
		if err != nil {
			return err
		}
		want := uint64(max(need, 0)) + reserve.Bytes()
		if available < want {
			return fmt.Errorf("%w: %s needs %s, %s available",
				ErrInsufficientSpace, dir,
				datasize.ByteSize(want).HumanReadable(),
				datasize.ByteSize(available).HumanReadable())
		}
		return nil
	}
}
