package drive

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"discarchive/internal/disc"
)

// ProgressScale is the fixed upper bound of Snapshot.Progress.
const ProgressScale = 1000

// Handle is the shared state of one discovered drive. The presence flag is
// written by the poller; every status write goes through the methods below,
// which reject edges outside the lifecycle table.
type Handle struct {
	index      int
	devicePath string
	outputDir  string
	stat       func(string) (os.FileInfo, error)

	hasDisc atomic.Bool

	mu        sync.Mutex
	state     State
	progress  int
	volume    disc.VolumeInfo
	suggested string
	cycleID   string
	lastError string
	tray      disc.TrayStatus
	updatedAt time.Time
	changed   chan struct{}
	subs      map[int]*subscriber
	nextSub   int
}

// NewHandle creates the handle for the drive at devicePath. index is the
// 1-based position in discovery order; relative image names resolve against
// outputDir.
func NewHandle(index int, devicePath, outputDir string) *Handle {
	return &Handle{
		index:      index,
		devicePath: devicePath,
		outputDir:  outputDir,
		stat:       os.Stat,
		state:      State{Kind: Setup},
		updatedAt:  time.Now(),
		changed:    make(chan struct{}),
		subs:       make(map[int]*subscriber),
	}
}

// DevicePath returns the block device path, e.g. /dev/sr0.
func (h *Handle) DevicePath() string { return h.devicePath }

// Index returns the 1-based discovery position.
func (h *Handle) Index() int { return h.index }

// HasDisc reports the last presence observation.
func (h *Handle) HasDisc() bool { return h.hasDisc.Load() }

// SetPresent records a presence observation and wakes the engine when it
// changes. It reports whether the value changed.
func (h *Handle) SetPresent(present bool) bool {
	if h.hasDisc.Swap(present) == present {
		return false
	}
	h.mu.Lock()
	h.publishLocked()
	h.mu.Unlock()
	return true
}

// SetTray records the last tray probe result.
func (h *Handle) SetTray(status disc.TrayStatus) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.tray == status {
		return
	}
	h.tray = status
	h.publishLocked()
}

// State returns the current lifecycle state.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Changed returns a channel closed at the next observable change. Callers
// must fetch it before reading state to avoid missing a wake-up.
func (h *Handle) Changed() <-chan struct{} {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.changed
}

// Transition moves the drive to next if the edge is legal.
func (h *Handle) Transition(next State) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.transitionLocked(next)
}

func (h *Handle) transitionLocked(next State) error {
	if !CanTransition(h.state.Kind, next.Kind) {
		return &TransitionError{From: h.state, To: next.Kind}
	}
	h.state = next
	if next.Kind == NoDisc {
		h.progress = 0
	}
	h.publishLocked()
	return nil
}

// SubmitName applies the operator's image name. It is only legal while the
// drive waits for a name. A name that does not exist yet moves the drive to
// Saving; an existing file moves it to ConfirmingName.
func (h *Handle) SubmitName(name string) (State, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return h.State(), ErrNameRequired
	}
	target := name
	if !filepath.IsAbs(target) {
		target = filepath.Join(h.outputDir, target)
	}
	target = filepath.Clean(target)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state.Kind != WaitingForName {
		return h.state, &TransitionError{From: h.state, To: Saving}
	}

	next := State{Kind: Saving, Name: target}
	info, err := h.stat(target)
	switch {
	case err == nil && info.IsDir():
		return h.state, fmt.Errorf("image name %s: %w", target, fs.ErrExist)
	case err == nil:
		next = State{Kind: ConfirmingName, Name: target}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return h.state, fmt.Errorf("check image name %s: %w", target, err)
	}
	if err := h.transitionLocked(next); err != nil {
		return h.state, err
	}
	h.lastError = ""
	return h.state, nil
}

// ResolveOverwrite answers the overwrite question raised by SubmitName.
func (h *Handle) ResolveOverwrite(accept bool) (State, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state.Kind != ConfirmingName {
		to := WaitingForName
		if accept {
			to = Saving
		}
		return h.state, &TransitionError{From: h.state, To: to}
	}
	next := State{Kind: WaitingForName}
	if accept {
		next = State{Kind: Saving, Name: h.state.Name}
	}
	if err := h.transitionLocked(next); err != nil {
		return h.state, err
	}
	return h.state, nil
}

// beginCycle resets the per-cycle fields for a new insertion.
func (h *Handle) beginCycle(cycleID string, volume disc.VolumeInfo) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cycleID = cycleID
	h.volume = volume
	h.suggested = volume.SuggestedImageName()
	h.progress = 0
	h.lastError = ""
	h.publishLocked()
}

// fail moves the drive to next and records cause for display.
func (h *Handle) fail(next State, cause error) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.transitionLocked(next); err != nil {
		return err
	}
	if cause != nil {
		h.lastError = cause.Error()
	}
	return nil
}

// setProgress publishes a new progress value in [0, ProgressScale]. It only
// wakes subscribers when the value changes.
func (h *Handle) setProgress(value int) {
	value = max(0, min(value, ProgressScale))
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state.Kind != Copying || value == h.progress {
		return
	}
	h.progress = value
	h.publishLocked()
}

// Snapshot returns a copy of the observable fields.
func (h *Handle) Snapshot() Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.snapshotLocked()
}

func (h *Handle) snapshotLocked() Snapshot {
	return Snapshot{
		Index:         h.index,
		DevicePath:    h.devicePath,
		State:         h.state,
		Message:       h.state.Message(),
		HasDisc:       h.hasDisc.Load(),
		Progress:      h.progress,
		Volume:        h.volume,
		SuggestedName: h.suggested,
		CycleID:       h.cycleID,
		LastError:     h.lastError,
		Tray:          h.tray.String(),
		UpdatedAt:     h.updatedAt,
	}
}

func (h *Handle) publishLocked() {
	h.updatedAt = time.Now()
	close(h.changed)
	h.changed = make(chan struct{})
	if len(h.subs) == 0 {
		return
	}
	snap := h.snapshotLocked()
	for _, sub := range h.subs {
		sub.offer(snap)
	}
}

// Subscribe streams snapshots after every change. A slow consumer loses the
// oldest buffered snapshot, never the newest. The returned function
// unsubscribes and closes the channel.
func (h *Handle) Subscribe(buffer int) (<-chan Snapshot, func()) {
	if buffer < 1 {
		buffer = 1
	}
	sub := &subscriber{ch: make(chan Snapshot, buffer)}
	h.mu.Lock()
	id := h.nextSub
	h.nextSub++
	h.subs[id] = sub
	sub.offer(h.snapshotLocked())
	h.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(sub.ch)
		})
	}
}

type subscriber struct {
	ch chan Snapshot
}

// offer is called with the handle mutex held, so sends never race close.
func (s *subscriber) offer(snap Snapshot) {
	for {
		select {
		case s.ch <- snap:
			return
		default:
		}
		select {
		case <-s.ch:
		default:
		}
	}
}

// Snapshot is an immutable view of a drive for display and RPC.
type Snapshot struct {
	Index         int             `json:"index"`
	DevicePath    string          `json:"device_path"`
	State         State           `json:"state"`
	Message       string          `json:"message"`
	HasDisc       bool            `json:"has_disc"`
	Progress      int             `json:"progress"`
	Volume        disc.VolumeInfo `json:"volume"`
	SuggestedName string          `json:"suggested_name,omitempty"`
	CycleID       string          `json:"cycle_id,omitempty"`
	LastError     string          `json:"last_error,omitempty"`
	Tray          string          `json:"tray,omitempty"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Percent converts Progress to a 0-100 float.
func (s Snapshot) Percent() float64 {
	return float64(s.Progress) * 100 / ProgressScale
}
