// Package daemon runs the long-lived discarchive process.
//
// It discovers optical drives once at startup, then owns one drive engine per
// drive, a shared presence poller, and the optional netlink monitor that nudges
// it. Cycle events from the engines are recorded to the catalog, sidecar
// manifests, metrics, and notifications on per-drive recorder goroutines so a
// slow sink never stalls a copy. A flock on the state directory keeps a second
// instance from touching the same drives.
//
// The HTTP API here is read-only; operator actions arrive over the IPC socket
// and land on the exported Daemon methods.
package daemon
