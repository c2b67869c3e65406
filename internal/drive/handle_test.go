package drive

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"discarchive/internal/disc"
)

// waitingHandle returns a handle that has finished a copy and waits for a name.
func waitingHandle(t *testing.T, outputDir string) *Handle {
	t.Helper()
	h := NewHandle(1, "/dev/sr0", outputDir)
	for _, kind := range []StateKind{NoDisc, Copying, WaitingForName} {
		if err := h.Transition(State{Kind: kind}); err != nil {
			t.Fatalf("transition to %s: %v", kind, err)
		}
	}
	return h
}

func TestSubmitNameForNewTargetMovesToSaving(t *testing.T) {
	dir := t.TempDir()
	h := waitingHandle(t, dir)

	state, err := h.SubmitName("  FOO.iso ")
	if err != nil {
		t.Fatalf("SubmitName: %v", err)
	}
	want := State{Kind: Saving, Name: filepath.Join(dir, "FOO.iso")}
	if state != want {
		t.Fatalf("state = %s, want %s", state, want)
	}
}

func TestSubmitNameForExistingTargetNeedsConfirmation(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "FOO.iso")
	if err := os.WriteFile(target, []byte("old"), 0o644); err != nil {
		t.Fatalf("write existing image: %v", err)
	}
	h := waitingHandle(t, dir)

	state, err := h.SubmitName(target)
	if err != nil {
		t.Fatalf("SubmitName: %v", err)
	}
	if state.Kind != ConfirmingName || state.Name != target {
		t.Fatalf("state = %s, want confirming_name(%s)", state, target)
	}

	state, err = h.ResolveOverwrite(false)
	if err != nil {
		t.Fatalf("decline: %v", err)
	}
	if state.Kind != WaitingForName {
		t.Fatalf("decline left state %s", state)
	}

	if _, err := h.SubmitName("FOO.iso"); err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	state, err = h.ResolveOverwrite(true)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if state.Kind != Saving || state.Name != target {
		t.Fatalf("accept left state %s", state)
	}
}

func TestSubmitNameRejections(t *testing.T) {
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, "images"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	t.Run("empty", func(t *testing.T) {
		h := waitingHandle(t, dir)
		if _, err := h.SubmitName("   "); !errors.Is(err, ErrNameRequired) {
			t.Fatalf("expected ErrNameRequired, got %v", err)
		}
	})
	t.Run("directory", func(t *testing.T) {
		h := waitingHandle(t, dir)
		if _, err := h.SubmitName("images"); !errors.Is(err, fs.ErrExist) {
			t.Fatalf("expected fs.ErrExist, got %v", err)
		}
		if h.State().Kind != WaitingForName {
			t.Fatalf("state changed to %s", h.State())
		}
	})
	t.Run("not waiting", func(t *testing.T) {
		h := NewHandle(1, "/dev/sr0", dir)
		if err := h.Transition(State{Kind: NoDisc}); err != nil {
			t.Fatal(err)
		}
		if _, err := h.SubmitName("FOO.iso"); !errors.Is(err, ErrIllegalTransition) {
			t.Fatalf("expected ErrIllegalTransition, got %v", err)
		}
	})
	t.Run("stat failure", func(t *testing.T) {
		h := waitingHandle(t, dir)
		h.stat = func(string) (os.FileInfo, error) { return nil, fs.ErrPermission }
		if _, err := h.SubmitName("FOO.iso"); !errors.Is(err, fs.ErrPermission) {
			t.Fatalf("expected permission error, got %v", err)
		}
	})
}

func TestResolveOverwriteOnlyFromConfirmingName(t *testing.T) {
	h := waitingHandle(t, t.TempDir())
	for _, accept := range []bool{true, false} {
		if _, err := h.ResolveOverwrite(accept); !errors.Is(err, ErrIllegalTransition) {
			t.Fatalf("ResolveOverwrite(%v) from waiting: %v", accept, err)
		}
	}
	if h.State().Kind != WaitingForName {
		t.Fatalf("state changed to %s", h.State())
	}
}

func TestSetPresentWakesWaiters(t *testing.T) {
	h := NewHandle(1, "/dev/sr0", t.TempDir())
	changed := h.Changed()
	if !h.SetPresent(true) {
		t.Fatal("first SetPresent(true) should report a change")
	}
	select {
	case <-changed:
	case <-time.After(time.Second):
		t.Fatal("Changed channel not closed")
	}
	if h.SetPresent(true) {
		t.Fatal("repeated SetPresent(true) should not report a change")
	}
	if !h.HasDisc() {
		t.Fatal("HasDisc should be true")
	}
}

func TestProgressOnlyWhileCopying(t *testing.T) {
	h := NewHandle(1, "/dev/sr0", t.TempDir())
	_ = h.Transition(State{Kind: NoDisc})
	h.setProgress(500)
	if got := h.Snapshot().Progress; got != 0 {
		t.Fatalf("progress outside copying = %d", got)
	}
	_ = h.Transition(State{Kind: Copying})
	h.setProgress(5000)
	snap := h.Snapshot()
	if snap.Progress != ProgressScale || snap.Percent() != 100 {
		t.Fatalf("progress = %d (%.1f%%), want clamped to scale", snap.Progress, snap.Percent())
	}
}

func TestBeginCycleSuggestsName(t *testing.T) {
	h := NewHandle(2, "/dev/sr1", t.TempDir())
	h.beginCycle("cycle-1", disc.VolumeInfo{Name: "HOLIDAY_2004", BlockSize: 2048, BlockCount: 10})
	snap := h.Snapshot()
	if snap.SuggestedName != "HOLIDAY_2004.iso" || snap.CycleID != "cycle-1" || snap.Index != 2 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestSubscribeKeepsNewestSnapshot(t *testing.T) {
	h := NewHandle(1, "/dev/sr0", t.TempDir())
	updates, unsubscribe := h.Subscribe(1)

	for _, kind := range []StateKind{NoDisc, Copying, WaitingForName} {
		if err := h.Transition(State{Kind: kind}); err != nil {
			t.Fatal(err)
		}
	}

	snap := <-updates
	if snap.State.Kind != WaitingForName {
		t.Fatalf("slow subscriber got %s, want newest state", snap.State)
	}
	select {
	case extra := <-updates:
		t.Fatalf("unexpected buffered snapshot %s", extra.State)
	default:
	}

	unsubscribe()
	unsubscribe()
	if _, ok := <-updates; ok {
		t.Fatal("channel should be closed after unsubscribe")
	}
	if err := h.Transition(State{Kind: Saving, Name: "x"}); err != nil {
		t.Fatalf("publish after unsubscribe: %v", err)
	}
}

func TestCleanStaleArtifacts(t *testing.T) {
	dir := t.TempDir()
	stale := []string{".discarchive-123.partial", ".discarchive-abc.partial"}
	for _, name := range append(stale, "KEEP.iso") {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o600); err != nil {
			t.Fatal(err)
		}
	}

	removed, err := CleanStaleArtifacts(dir)
	if err != nil {
		t.Fatalf("CleanStaleArtifacts: %v", err)
	}
	if len(removed) != len(stale) {
		t.Fatalf("removed %v, want %d files", removed, len(stale))
	}
	if _, err := os.Stat(filepath.Join(dir, "KEEP.iso")); err != nil {
		t.Fatalf("committed image removed: %v", err)
	}
}
