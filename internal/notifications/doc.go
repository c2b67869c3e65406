// Package notifications pushes archive events to an ntfy topic.
//
// The daemon calls it when an image is saved, when a disc cannot be archived
// and once at startup. Without a configured topic NewService returns a no-op
// implementation, so callers never check whether notifications are enabled.
package notifications
