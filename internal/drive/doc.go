// Package drive owns the per-drive lifecycle: the Handle that holds a drive's
// observable state and the Engine that walks it through insertion cycles.
//
// A cycle starts when the presence poller reports media, reads the volume
// descriptor, streams the block device into a staged file, waits for the
// operator to name the image and renames the staged file into place. Status
// writes only happen through Handle methods, which reject any edge that is
// not in the lifecycle table.
package drive
