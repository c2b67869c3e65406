package daemon

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"discarchive/internal/disc"
	"discarchive/internal/metrics"
)

type scriptedPresence struct {
	mu      sync.Mutex
	entries []disc.PresenceEntry
	err     error
	calls   int
}

func (s *scriptedPresence) ProbePresence(context.Context) ([]disc.PresenceEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.entries, s.err
}

func (s *scriptedPresence) set(entries []disc.PresenceEntry, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries, s.err = entries, err
}

func (s *scriptedPresence) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestPresencePollerSetsEveryHandle(t *testing.T) {
	handles := testHandles("/dev/sr0", "/dev/sr1")
	source := &scriptedPresence{entries: []disc.PresenceEntry{{Path: "/dev/sr1", Info: ` LABEL="HOLIDAY"`}}}
	trays := map[string]disc.TrayStatus{"/dev/sr0": disc.TrayOpen, "/dev/sr1": disc.TrayDiscOK}
	probe := func(path string) (disc.TrayStatus, error) { return trays[path], nil }
	p := newPresencePoller(source, handles, time.Hour, probe, metrics.New(), nil)

	p.poll(context.Background())

	if handles[0].HasDisc() {
		t.Error("/dev/sr0 should have no disc")
	}
	if !handles[1].HasDisc() {
		t.Error("/dev/sr1 should have a disc")
	}
	if got := handles[0].Snapshot().Tray; got != "tray_open" {
		t.Errorf("tray = %q, want tray_open", got)
	}
}

func TestPresencePollerFailureKeepsLastObservation(t *testing.T) {
	handles := testHandles("/dev/sr0")
	source := &scriptedPresence{entries: []disc.PresenceEntry{{Path: "/dev/sr0"}}}
	m := metrics.New()
	p := newPresencePoller(source, handles, time.Hour, nil, m, nil)

	p.poll(context.Background())
	source.set(nil, &disc.Error{Kind: disc.KindLaunchFail, Tool: "blkid", Err: errors.New("exit status 4")})
	p.poll(context.Background())

	if !handles[0].HasDisc() {
		t.Fatal("a failed poll must not clear presence")
	}
	expected := `
# HELP discarchive_presence_poll_failures_total Presence polls that could not run or parse.
# TYPE discarchive_presence_poll_failures_total counter
discarchive_presence_poll_failures_total 1
`
	if err := testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "discarchive_presence_poll_failures_total"); err != nil {
		t.Fatal(err)
	}
}

func TestPresencePollerNudgeTriggersPoll(t *testing.T) {
	handles := testHandles("/dev/sr0")
	source := &scriptedPresence{}
	p := newPresencePoller(source, handles, time.Hour, nil, metrics.New(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.run(ctx) }()

	waitFor(t, func() bool { return source.callCount() == 1 })
	source.set([]disc.PresenceEntry{{Path: "/dev/sr0"}}, nil)
	p.Nudge()
	p.Nudge()
	waitFor(t, handles[0].HasDisc)

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run returned %v", err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
