// Package catalog records every insertion cycle and its outcome in a SQLite
// database under the state directory.
//
// One row is written when a cycle ends: the image was committed, the copy
// failed, metadata could not be read, or the daemon stopped before a name
// was chosen. The catalog is history only; nothing in the lifecycle reads it
// back.
package catalog
