package drive

import (
	"time"

	"discarchive/internal/disc"
)

// EventKind classifies engine events delivered to an Observer.
type EventKind string

const (
	EventMetadataFailed EventKind = "metadata_failed"
	EventCopyStarted    EventKind = "copy_started"
	EventCopyFinished   EventKind = "copy_finished"
	EventCopyFailed     EventKind = "copy_failed"
	EventCommitted      EventKind = "committed"
	EventCommitFailed   EventKind = "commit_failed"
	EventDiscRemoved    EventKind = "disc_removed"
	// EventAbandoned reports a cycle dropped by shutdown before commit.
	EventAbandoned EventKind = "abandoned"
)

// Event is one step of an insertion cycle.
type Event struct {
	Kind       EventKind
	DevicePath string
	CycleID    string
	Volume     disc.VolumeInfo
	State      State // after the event
	ImagePath  string
	Bytes      int64
	StartedAt  time.Time
	At         time.Time
	CopyTime   time.Duration
	Err        error
}

// Observer receives engine events synchronously on the engine goroutine.
// Implementations must not block for long.
type Observer interface {
	HandleEvent(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) HandleEvent(ev Event) { f(ev) }

type nopObserver struct{}

func (nopObserver) HandleEvent(Event) {}
