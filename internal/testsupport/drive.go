package testsupport

import (
	"context"
	"fmt"
	"io/fs"
	"strings"
	"sync"
)

// Geometry of the volume FakeDrive reports through isoinfo.
const (
	FakeBlockSize  = 2048
	FakeBlockCount = 4
	FakeLabel      = "HOLIDAY"
)

// ExitError mimics a process that ran and exited non-zero.
type ExitError int

func (e ExitError) Error() string { return fmt.Sprintf("exit status %d", int(e)) }

// ExitCode reports the simulated exit status.
func (e ExitError) ExitCode() int { return int(e) }

// FakeDrive scripts lsscsi, blkid, isoinfo and eject for a single optical
// drive at /dev/sr0 next to a hard disk.
type FakeDrive struct {
	mu          sync.Mutex
	present     bool
	lsscsiErr   error
	ejectErr    error
	ejectCalls  int
	actuateArgs [][]string
}

// FakeDriveOption customizes a FakeDrive.
type FakeDriveOption func(*FakeDrive)

// WithDisc starts the fake with a disc in the tray.
func WithDisc() FakeDriveOption {
	return func(f *FakeDrive) { f.present = true }
}

// WithInventoryError makes lsscsi fail with err.
func WithInventoryError(err error) FakeDriveOption {
	return func(f *FakeDrive) { f.lsscsiErr = err }
}

// WithEjectError makes every eject invocation fail with err.
func WithEjectError(err error) FakeDriveOption {
	return func(f *FakeDrive) { f.ejectErr = err }
}

// NewFakeDrive returns an empty drive unless options say otherwise.
func NewFakeDrive(opts ...FakeDriveOption) *FakeDrive {
	f := &FakeDrive{}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Run implements disc.Executor.
func (f *FakeDrive) Run(_ context.Context, binary string, args []string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch binary {
	case "lsscsi":
		if f.lsscsiErr != nil {
			return nil, f.lsscsiErr
		}
		return []byte("[0:0:0:0]    disk    ATA      Samsung SSD 860  4B6Q  /dev/sda \n" +
			"[1:0:0:0]    cd/dvd  HL-DT-ST DVDRAM GH24NSD1 LG00  /dev/sr0 \n"), nil
	case "blkid":
		out := "/dev/sda1: UUID=\"1c3f\" TYPE=\"ext4\"\n"
		if f.present {
			out += "/dev/sr0: LABEL=\"" + FakeLabel + "\" TYPE=\"iso9660\"\n"
		}
		return []byte(out), nil
	case "isoinfo":
		return []byte(IsoinfoHeader(FakeLabel, FakeBlockSize, FakeBlockCount)), nil
	case "eject":
		f.ejectCalls++
		f.actuateArgs = append(f.actuateArgs, args)
		return nil, f.ejectErr
	}
	return nil, &fs.PathError{Op: "exec", Path: binary, Err: fs.ErrNotExist}
}

// SetPresent inserts or removes the disc.
func (f *FakeDrive) SetPresent(present bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.present = present
}

// EjectCalls counts eject invocations, tray closes included.
func (f *FakeDrive) EjectCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ejectCalls
}

// ActuatorArgs returns the argument lists eject was invoked with.
func (f *FakeDrive) ActuatorArgs() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]string(nil), f.actuateArgs...)
}

// IsoinfoHeader renders the primary volume descriptor dump isoinfo -d prints.
func IsoinfoHeader(label string, blockSize, blockCount int) string {
	lines := []string{
		"CD-ROM is in ISO 9660 format",
		"System id: LINUX",
		"Volume id: " + label,
		"Volume set id: ",
		"Publisher id: ",
		"Data preparer id: ",
		"Application id: GENISOIMAGE",
		"Copyright File id: ",
		"Abstract File id: ",
		"Bibliographic File id: ",
		"Volume set size is: 1",
		"Volume set sequence number is: 1",
		fmt.Sprintf("Logical block size is: %d", blockSize),
		fmt.Sprintf("Volume size is: %d", blockCount),
	}
	return strings.Join(lines, "\n") + "\n"
}
