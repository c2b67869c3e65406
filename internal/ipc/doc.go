// Package ipc exposes the daemon over JSON-RPC on a Unix socket and ships the
// matching client used by the CLI.
//
// Methods are registered under the "Discarchive" receiver. Drives are named by
// their 1-based discovery index or by device path, exactly as the daemon
// resolves them.
package ipc
