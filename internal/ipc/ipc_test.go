package ipc_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"discarchive/internal/config"
	"discarchive/internal/daemon"
	"discarchive/internal/drive"
	"discarchive/internal/ipc"
	"discarchive/internal/logging"
	"discarchive/internal/testsupport"
)

type harness struct {
	cfg     *config.Config
	fake    *testsupport.FakeDrive
	daemon  *daemon.Daemon
	client  *ipc.Client
	logPath string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t, testsupport.WithoutAPI())
	fake := testsupport.NewFakeDrive()
	tools := daemon.NewToolset(cfg)
	tools.Exec = fake
	data := testsupport.DeviceBytes(testsupport.FakeBlockSize * testsupport.FakeBlockCount)
	logPath := filepath.Join(cfg.Paths.LogDir, "ipc-test.log")

	d, err := daemon.New(context.Background(), cfg, logging.NewNop(),
		daemon.WithToolset(tools),
		daemon.WithSourceOpener(func(string) (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		}),
		daemon.WithTrayProber(nil),
		daemon.WithLogPath(logPath),
	)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	srv, err := ipc.NewServer(context.Background(), cfg.SocketPath(), d, logging.NewNop())
	if err != nil {
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping IPC server test: %v", err)
		}
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()
	t.Cleanup(func() { _ = srv.Close() })

	client, err := ipc.Dial(cfg.SocketPath())
	if err != nil {
		t.Fatalf("ipc.Dial: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return &harness{cfg: cfg, fake: fake, daemon: d, client: client, logPath: logPath}
}

func (h *harness) waitForState(t *testing.T, kind drive.StateKind) drive.Snapshot {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		resp, err := h.client.Drive("1")
		if err != nil {
			t.Fatalf("Drive RPC failed: %v", err)
		}
		if resp.Drive.State.Kind == kind {
			return resp.Drive
		}
		if time.Now().After(deadline) {
			t.Fatalf("drive stuck in %s, want %s", resp.Drive.State, kind)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestIPCStatusAndDrives(t *testing.T) {
	h := newHarness(t)

	status, err := h.client.Status()
	if err != nil {
		t.Fatalf("Status RPC failed: %v", err)
	}
	if !status.Running || status.SessionID == "" || status.PID != os.Getpid() {
		t.Fatalf("unexpected status %+v", status)
	}
	if status.LogPath != h.logPath {
		t.Fatalf("log path = %q", status.LogPath)
	}

	drives, err := h.client.Drives()
	if err != nil {
		t.Fatalf("Drives RPC failed: %v", err)
	}
	if len(drives.Drives) != 1 || drives.Drives[0].DevicePath != "/dev/sr0" {
		t.Fatalf("unexpected drives %+v", drives.Drives)
	}

	h.waitForState(t, drive.NoDisc)
	if _, err := h.client.Drive("9"); err == nil || !strings.Contains(err.Error(), daemon.ErrUnknownDrive.Error()) {
		t.Fatalf("Drive(9) = %v", err)
	}
}

func TestIPCArchiveCycle(t *testing.T) {
	h := newHarness(t)
	h.waitForState(t, drive.NoDisc)

	if _, err := h.client.SubmitName("1", "early.iso"); err == nil {
		t.Fatal("expected SubmitName to fail without a finished copy")
	}

	h.fake.SetPresent(true)
	snap := h.waitForState(t, drive.WaitingForName)
	if snap.SuggestedName != testsupport.FakeLabel+".iso" {
		t.Fatalf("suggested name = %q", snap.SuggestedName)
	}

	resp, err := h.client.SubmitName("/dev/sr0", "")
	if err != nil {
		t.Fatalf("SubmitName RPC failed: %v", err)
	}
	if resp.Drive.DevicePath != "/dev/sr0" {
		t.Fatalf("unexpected snapshot %+v", resp.Drive)
	}
	h.waitForState(t, drive.Done)

	image := filepath.Join(h.cfg.Paths.OutputDir, testsupport.FakeLabel+".iso")
	if _, err := os.Stat(image); err != nil {
		t.Fatalf("image missing: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		cat, err := h.client.Catalog(10)
		if err != nil {
			t.Fatalf("Catalog RPC failed: %v", err)
		}
		if len(cat.Records) == 1 {
			if cat.Records[0].ImagePath != image || cat.Summary.Total != 1 {
				t.Fatalf("unexpected catalog %+v", cat)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("catalog record never appeared")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestIPCTrayActions(t *testing.T) {
	h := newHarness(t)

	ejected, err := h.client.Eject("1")
	if err != nil {
		t.Fatalf("Eject RPC failed: %v", err)
	}
	if ejected.Device != "/dev/sr0" {
		t.Fatalf("device = %q", ejected.Device)
	}
	if _, err := h.client.CloseTray("/dev/sr0"); err != nil {
		t.Fatalf("Close RPC failed: %v", err)
	}
	if h.fake.EjectCalls() != 2 {
		t.Fatalf("eject calls = %d", h.fake.EjectCalls())
	}
	if _, err := h.client.Eject("/dev/sr7"); err == nil {
		t.Fatal("expected unknown drive error")
	}
}

func TestIPCLogTail(t *testing.T) {
	h := newHarness(t)
	content := `{"level":"INFO","msg":"first","drive":"/dev/sr0"}
{"level":"WARN","msg":"second","drive":"/dev/sr1"}
{"level":"INFO","msg":"third","drive":"/dev/sr0"}
`
	if err := os.WriteFile(h.logPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}

	resp, err := h.client.LogTail(ipc.LogTailRequest{Offset: -1, Limit: 2})
	if err != nil {
		t.Fatalf("LogTail RPC failed: %v", err)
	}
	if len(resp.Lines) != 2 || !strings.Contains(resp.Lines[1], "third") {
		t.Fatalf("unexpected lines %#v", resp.Lines)
	}

	filtered, err := h.client.LogTail(ipc.LogTailRequest{Offset: 0, Drive: "/dev/sr0"})
	if err != nil {
		t.Fatalf("filtered LogTail RPC failed: %v", err)
	}
	if len(filtered.Lines) != 2 || filtered.Offset != resp.Offset {
		t.Fatalf("unexpected filtered result %+v", filtered)
	}
}

func TestIPCStop(t *testing.T) {
	h := newHarness(t)

	resp, err := h.client.Stop()
	if err != nil {
		t.Fatalf("Stop RPC failed: %v", err)
	}
	if !resp.Stopped {
		t.Fatal("expected Stopped=true")
	}
	select {
	case <-h.daemon.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("daemon did not stop")
	}
	if err := h.daemon.Err(); err != nil && !errors.Is(err, context.Canceled) {
		t.Fatalf("daemon exit error: %v", err)
	}
}
