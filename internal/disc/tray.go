package disc

import (
	"fmt"
	"strings"

	"golang.org/x/sys/unix"
)

// ioctlCDROMDriveStatus is the Linux ioctl number for CDROM_DRIVE_STATUS.
const ioctlCDROMDriveStatus = 0x5326

// TrayStatus is the result of a CDROM_DRIVE_STATUS ioctl.
type TrayStatus int

const (
	TrayNoInfo   TrayStatus = 0
	TrayNoDisc   TrayStatus = 1
	TrayOpen     TrayStatus = 2
	TrayNotReady TrayStatus = 3
	TrayDiscOK   TrayStatus = 4
)

func (s TrayStatus) String() string {
	switch s {
	case TrayNoInfo:
		return "no_info"
	case TrayNoDisc:
		return "no_disc"
	case TrayOpen:
		return "tray_open"
	case TrayNotReady:
		return "not_ready"
	case TrayDiscOK:
		return "disc_ok"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// TrayProber reads the tray state of a drive.
type TrayProber func(devicePath string) (TrayStatus, error)

// ProbeTray queries the drive with CDROM_DRIVE_STATUS.
func ProbeTray(devicePath string) (TrayStatus, error) {
	devicePath = strings.TrimSpace(devicePath)
	if devicePath == "" {
		return TrayNoInfo, fmt.Errorf("empty device path")
	}

	fd, err := unix.Open(devicePath, unix.O_RDONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return TrayNoInfo, fmt.Errorf("open %s: %w", devicePath, err)
	}
	defer unix.Close(fd) //nolint:errcheck

	status, err := unix.IoctlRetInt(fd, ioctlCDROMDriveStatus)
	if err != nil {
		return TrayNoInfo, fmt.Errorf("ioctl CDROM_DRIVE_STATUS on %s: %w", devicePath, err)
	}
	return TrayStatus(status), nil
}
