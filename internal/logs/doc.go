// Package logs tails the daemon's JSON run log for `discarchive logs`.
//
// Reads are bounded: a negative offset returns the last N matching lines, and
// follow mode polls for appended lines until its wait expires or the context
// is canceled. A Filter narrows the output to one drive or a minimum level.
package logs
