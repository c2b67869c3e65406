package drive

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"testing/iotest"
	"time"

	"go.uber.org/goleak"

	"discarchive/internal/disc"
)

type fakeMetadata struct {
	info disc.VolumeInfo
	err  error
}

func (f fakeMetadata) FetchVolumeInfo(context.Context, string) (disc.VolumeInfo, error) {
	return f.info, f.err
}

type fakeEjector struct {
	mu    sync.Mutex
	calls int
	ok    bool
}

func (f *fakeEjector) Eject(context.Context, string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.ok, nil
}

func (f *fakeEjector) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) HandleEvent(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) Kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]EventKind, 0, len(r.events))
	for _, ev := range r.events {
		kinds = append(kinds, ev.Kind)
	}
	return kinds
}

func (r *eventRecorder) Find(kind EventKind) (Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range r.events {
		if ev.Kind == kind {
			return ev, true
		}
	}
	return Event{}, false
}

func readerOpener(data []byte) SourceOpener {
	return func(string) (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}
}

type engineFixture struct {
	handle   *Handle
	events   *eventRecorder
	ejector  *fakeEjector
	dir      string
	cancel   context.CancelFunc
	done     chan error
	stopOnce sync.Once
}

func startEngine(t *testing.T, deps Deps, opts Options) *engineFixture {
	t.Helper()
	dir := t.TempDir()
	f := &engineFixture{
		handle:  NewHandle(1, "/dev/sr0", dir),
		events:  &eventRecorder{},
		ejector: &fakeEjector{ok: true},
		dir:     dir,
		done:    make(chan error, 1),
	}
	deps.Observer = f.events
	if deps.Ejector == nil {
		deps.Ejector = f.ejector
	}
	if opts.PollInterval == 0 {
		opts.PollInterval = 20 * time.Millisecond
	}
	engine := NewEngine(f.handle, deps, opts)
	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	go func() { f.done <- engine.Run(ctx) }()
	t.Cleanup(func() { f.stop(t) })
	waitForState(t, f.handle, NoDisc)
	return f
}

func (f *engineFixture) stop(t *testing.T) {
	t.Helper()
	f.stopOnce.Do(func() {
		f.cancel()
		select {
		case err := <-f.done:
			if err != nil {
				t.Errorf("Run returned %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("engine did not stop")
		}
	})
}

func waitForState(t *testing.T, h *Handle, kind StateKind) State {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		changed := h.Changed()
		if state := h.State(); state.Kind == kind {
			return state
		}
		select {
		case <-changed:
		case <-deadline:
			t.Fatalf("timed out waiting for %s, state is %s", kind, h.State())
		}
	}
}

func partials(t *testing.T, dir string) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, StagedPattern))
	if err != nil {
		t.Fatal(err)
	}
	return matches
}

func assertKinds(t *testing.T, got []EventKind, want ...EventKind) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events = %v, want %v", got, want)
		}
	}
}

func TestEngineCommitsOneImagePerInsertion(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	data := bytes.Repeat([]byte("discarchive!"), 700)
	volume := disc.VolumeInfo{Name: "FOO", BlockSize: 2048, BlockCount: 4}
	f := startEngine(t, Deps{
		Metadata: fakeMetadata{info: volume},
		Open:     readerOpener(data),
	}, Options{BufferSize: 1000})

	f.handle.SetPresent(true)
	waitForState(t, f.handle, WaitingForName)
	snap := f.handle.Snapshot()
	if snap.Progress != ProgressScale || snap.SuggestedName != "FOO.iso" {
		t.Fatalf("after copy: progress %d, suggested %q", snap.Progress, snap.SuggestedName)
	}
	if got := partials(t, f.dir); len(got) != 1 {
		t.Fatalf("expected one staged file, got %v", got)
	}

	if _, err := f.handle.SubmitName("FOO.iso"); err != nil {
		t.Fatalf("SubmitName: %v", err)
	}
	waitForState(t, f.handle, Done)

	image := filepath.Join(f.dir, "FOO.iso")
	got, err := os.ReadFile(image)
	if err != nil {
		t.Fatalf("read image: %v", err)
	}
	if !bytes.Equal(got, data[:volume.TotalBytes()]) {
		t.Fatalf("image has %d bytes, want the first %d bytes of the device", len(got), volume.TotalBytes())
	}
	if left := partials(t, f.dir); len(left) != 0 {
		t.Fatalf("staged files left behind: %v", left)
	}

	f.handle.SetPresent(false)
	waitForState(t, f.handle, NoDisc)
	f.stop(t)

	committed, ok := f.events.Find(EventCommitted)
	if !ok || committed.ImagePath != image || committed.Bytes != volume.TotalBytes() || committed.CycleID == "" {
		t.Fatalf("unexpected committed event %+v", committed)
	}

	assertKinds(t, f.events.Kinds(), EventCopyStarted, EventCopyFinished, EventCommitted, EventDiscRemoved)
	if f.ejector.Calls() != 0 {
		t.Fatalf("eject called %d times without eject_after_commit", f.ejector.Calls())
	}
}

func TestEngineEjectsAfterCommitWhenConfigured(t *testing.T) {
	f := startEngine(t, Deps{
		Metadata: fakeMetadata{info: disc.VolumeInfo{Name: "A", BlockSize: 2048, BlockCount: 1}},
		Open:     readerOpener(make([]byte, 2048)),
	}, Options{EjectAfterCommit: true})

	f.handle.SetPresent(true)
	waitForState(t, f.handle, WaitingForName)
	if _, err := f.handle.SubmitName("A.iso"); err != nil {
		t.Fatal(err)
	}
	waitForState(t, f.handle, Done)
	f.stop(t)
	if f.ejector.Calls() != 1 {
		t.Fatalf("eject calls = %d, want 1", f.ejector.Calls())
	}
}

func TestEngineMetadataFailureEjectsAndSkips(t *testing.T) {
	cause := &disc.Error{Kind: disc.KindParse, Tool: "isoinfo"}
	ejector := &fakeEjector{}
	f := startEngine(t, Deps{
		Metadata: fakeMetadata{err: cause},
		Ejector:  ejector,
		Open: func(string) (io.ReadCloser, error) {
			t.Error("device opened after metadata failure")
			return nil, errors.New("unexpected open")
		},
	}, Options{EjectOnMetadataFailure: true})

	f.handle.SetPresent(true)
	waitForState(t, f.handle, Done)
	if ejector.Calls() != 1 {
		t.Fatalf("eject calls = %d, want 1", ejector.Calls())
	}
	if f.handle.Snapshot().LastError == "" {
		t.Fatal("metadata failure not recorded")
	}

	f.handle.SetPresent(false)
	waitForState(t, f.handle, NoDisc)
	f.stop(t)
	assertKinds(t, f.events.Kinds(), EventMetadataFailed, EventDiscRemoved)
}

func TestEngineCopyFailures(t *testing.T) {
	volume := disc.VolumeInfo{Name: "BAD", BlockSize: 2048, BlockCount: 2}
	tests := []struct {
		name  string
		deps  Deps
		opts  func(dir string) Options
		state StateKind
	}{
		{
			name: "read error",
			deps: Deps{Open: func(string) (io.ReadCloser, error) {
				return io.NopCloser(iotest.ErrReader(errors.New("medium error"))), nil
			}},
			state: CopyReadError,
		},
		{
			name: "open error",
			deps: Deps{Open: func(string) (io.ReadCloser, error) {
				return nil, os.ErrPermission
			}},
			state: CopyReadError,
		},
		{
			name: "staging unavailable",
			deps: Deps{Open: readerOpener(make([]byte, 4096))},
			opts: func(dir string) Options {
				return Options{StagingDir: filepath.Join(dir, "missing")}
			},
			state: CopyWriteError,
		},
		{
			name: "insufficient space",
			deps: Deps{
				Open: readerOpener(make([]byte, 4096)),
				CheckSpace: func(string, int64) error {
					return errors.New("not enough space")
				},
			},
			state: CopyWriteError,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps := tt.deps
			deps.Metadata = fakeMetadata{info: volume}
			var opts Options
			if tt.opts != nil {
				opts = tt.opts(t.TempDir())
			}
			f := startEngine(t, deps, opts)

			f.handle.SetPresent(true)
			waitForState(t, f.handle, tt.state)
			if left := partials(t, f.dir); len(left) != 0 {
				t.Fatalf("staged files left behind: %v", left)
			}

			f.handle.SetPresent(false)
			waitForState(t, f.handle, NoDisc)
			f.stop(t)
			assertKinds(t, f.events.Kinds(), EventCopyStarted, EventCopyFailed, EventDiscRemoved)
		})
	}
}

func TestEngineCommitFailureKeepsStagedCopy(t *testing.T) {
	f := startEngine(t, Deps{
		Metadata: fakeMetadata{info: disc.VolumeInfo{Name: "X", BlockSize: 2048, BlockCount: 1}},
		Open:     readerOpener(make([]byte, 2048)),
	}, Options{})

	f.handle.SetPresent(true)
	waitForState(t, f.handle, WaitingForName)
	if _, err := f.handle.SubmitName(filepath.Join("no-such-dir", "X.iso")); err != nil {
		t.Fatalf("SubmitName: %v", err)
	}
	waitForState(t, f.handle, WaitingForName)
	if f.handle.Snapshot().LastError == "" {
		t.Fatal("commit failure not recorded")
	}
	if got := partials(t, f.dir); len(got) != 1 {
		t.Fatalf("staged copy should survive a failed commit, got %v", got)
	}

	if _, err := f.handle.SubmitName("X.iso"); err != nil {
		t.Fatalf("second SubmitName: %v", err)
	}
	waitForState(t, f.handle, Done)
	f.stop(t)
	assertKinds(t, f.events.Kinds(), EventCopyStarted, EventCopyFinished, EventCommitFailed, EventCommitted)
}

type gatedReader struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (r *gatedReader) Read(p []byte) (int, error) {
	r.once.Do(func() { close(r.started) })
	<-r.release
	return len(p), nil
}

func TestEngineShutdownAbandonsCopy(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	reader := &gatedReader{started: make(chan struct{}), release: make(chan struct{})}
	f := startEngine(t, Deps{
		Metadata: fakeMetadata{info: disc.VolumeInfo{Name: "BIG", BlockSize: 2048, BlockCount: 1 << 20}},
		Open: func(string) (io.ReadCloser, error) {
			return io.NopCloser(reader), nil
		},
	}, Options{BufferSize: 4096})

	f.handle.SetPresent(true)
	select {
	case <-reader.started:
	case <-time.After(5 * time.Second):
		t.Fatal("copy never started")
	}
	f.cancel()
	close(reader.release)
	f.stop(t)

	if left := partials(t, f.dir); len(left) != 0 {
		t.Fatalf("staged files left behind: %v", left)
	}
	assertKinds(t, f.events.Kinds(), EventCopyStarted, EventAbandoned)
	if f.handle.State().Kind != Copying {
		t.Fatalf("state after shutdown = %s", f.handle.State())
	}
}
