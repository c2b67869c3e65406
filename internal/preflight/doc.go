// Package preflight checks that the host can archive discs before and while
// the daemon runs.
//
// RunAll covers the output, staging and state directories and the free space
// reserve. CheckSystemDeps reports the drive tools for the status command.
// SpaceChecker is handed to each drive engine so a copy that cannot fit is
// refused before the first byte is written.
package preflight
