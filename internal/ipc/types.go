package ipc

import (
	"discarchive/internal/catalog"
	"discarchive/internal/daemon"
	"discarchive/internal/drive"
)

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// StatusResponse is the daemon status as reported over the socket.
type StatusResponse = daemon.Status

// DrivesRequest lists every discovered drive.
type DrivesRequest struct{}

// DrivesResponse holds drive snapshots in discovery order.
type DrivesResponse struct {
	Drives []drive.Snapshot `json:"drives"`
}

// DriveRequest names one drive by 1-based index or device path.
type DriveRequest struct {
	Drive string `json:"drive"`
}

// DriveResponse is the snapshot of a single drive.
type DriveResponse struct {
	Drive drive.Snapshot `json:"drive"`
}

// SubmitNameRequest names the finished copy on a drive. An empty name keeps
// the volume label suggestion.
type SubmitNameRequest struct {
	Drive string `json:"drive"`
	Name  string `json:"name"`
}

// ResolveOverwriteRequest answers the overwrite prompt on a drive.
type ResolveOverwriteRequest struct {
	Drive  string `json:"drive"`
	Accept bool   `json:"accept"`
}

// TrayRequest targets the eject and close actions.
type TrayRequest struct {
	Drive string `json:"drive"`
}

// TrayResponse reports a completed tray action.
type TrayResponse struct {
	Device string `json:"device"`
}

// CatalogRequest limits how many records are returned; zero uses the default.
type CatalogRequest struct {
	Limit int `json:"limit"`
}

// CatalogResponse holds recent records and the outcome summary.
type CatalogResponse struct {
	Records []catalog.Record `json:"records"`
	Summary catalog.Summary  `json:"summary"`
}

// StopRequest stops the daemon.
type StopRequest struct{}

// StopResponse indicates stop result.
type StopResponse struct {
	Stopped bool `json:"stopped"`
}

// LogTailRequest reads the current run log. A negative offset starts at the
// last Limit lines.
type LogTailRequest struct {
	Offset     int64  `json:"offset"`
	Limit      int    `json:"limit"`
	Follow     bool   `json:"follow"`
	WaitMillis int    `json:"wait_millis"`
	Drive      string `json:"drive,omitempty"`
	Level      string `json:"level,omitempty"`
}

// LogTailResponse contains log lines and the offset to resume from.
type LogTailResponse struct {
	Lines  []string `json:"lines"`
	Offset int64    `json:"offset"`
}

// TestNotificationRequest triggers a test notification.
type TestNotificationRequest struct{}

// TestNotificationResponse reports the notification result.
type TestNotificationResponse struct {
	Sent    bool   `json:"sent"`
	Message string `json:"message"`
}
