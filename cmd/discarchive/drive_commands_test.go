package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"discarchive/internal/drive"
	"discarchive/internal/testsupport"
)

func TestDrivesCommand(t *testing.T) {
	env := setupCLITestEnv(t)
	env.waitForState(t, drive.NoDisc)

	out, _, err := runCLI(t, []string{"drives"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("drives: %v", err)
	}
	requireContains(t, out, "/dev/sr0")
	requireContains(t, out, "no_disc")

	out, _, err = runCLI(t, []string{"drives", "--json"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("drives --json: %v", err)
	}
	requireContains(t, out, `"device_path": "/dev/sr0"`)
	requireContains(t, out, `"kind": "no_disc"`)
}

func TestNameAndConfirmOverwrite(t *testing.T) {
	env := setupCLITestEnv(t)
	env.waitForState(t, drive.NoDisc)

	existing := filepath.Join(env.cfg.Paths.OutputDir, testsupport.FakeLabel+".iso")
	testsupport.WriteFile(t, existing, []byte("old image"))

	if _, _, err := runCLI(t, []string{"name", "1"}, env.socketPath, env.configPath); err == nil {
		t.Fatal("expected name to fail before a disc is copied")
	}

	env.fake.SetPresent(true)
	env.waitForState(t, drive.WaitingForName)

	out, _, err := runCLI(t, []string{"name", "1"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("name: %v", err)
	}
	requireContains(t, out, "already exists")
	requireContains(t, out, "discarchive confirm 1 --yes")

	if _, _, err := runCLI(t, []string{"confirm", "1"}, env.socketPath, env.configPath); err == nil {
		t.Fatal("expected confirm without --yes/--no to fail")
	}

	out, _, err = runCLI(t, []string{"confirm", "/dev/sr0", "--no"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("confirm --no: %v", err)
	}
	requireContains(t, out, "waiting for a new name")

	if _, _, err := runCLI(t, []string{"name", "1"}, env.socketPath, env.configPath); err != nil {
		t.Fatalf("second name: %v", err)
	}
	env.waitForState(t, drive.ConfirmingName)
	if _, _, err := runCLI(t, []string{"confirm", "1", "--yes"}, env.socketPath, env.configPath); err != nil {
		t.Fatalf("confirm --yes: %v", err)
	}
	env.waitForState(t, drive.Done)

	info, err := os.Stat(existing)
	if err != nil {
		t.Fatalf("stat image: %v", err)
	}
	if info.Size() != testsupport.FakeBlockSize*testsupport.FakeBlockCount {
		t.Fatalf("image size = %d, overwrite did not happen", info.Size())
	}

	waitFor(t, 3*time.Second, func() bool {
		out, _, err := runCLI(t, []string{"catalog", "list"}, env.socketPath, env.configPath)
		return err == nil && strings.Contains(out, "committed") && strings.Contains(out, testsupport.FakeLabel)
	})
}

func TestNameWithExplicitFile(t *testing.T) {
	env := setupCLITestEnv(t)
	env.fake.SetPresent(true)
	env.waitForState(t, drive.WaitingForName)

	out, _, err := runCLI(t, []string{"name", "/dev/sr0", "vacation.iso"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("name: %v", err)
	}
	target := filepath.Join(env.cfg.Paths.OutputDir, "vacation.iso")
	if !strings.Contains(out, "Saving "+target) && !strings.Contains(out, "Done.") {
		t.Fatalf("unexpected output %q", out)
	}
	env.waitForState(t, drive.Done)
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("image missing: %v", err)
	}
}

func TestTrayCommandsThroughDaemon(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"eject", "1"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("eject: %v", err)
	}
	requireContains(t, out, "/dev/sr0: tray opened")

	out, _, err = runCLI(t, []string{"close", "/dev/sr0"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	requireContains(t, out, "/dev/sr0: tray closed")
	if env.fake.EjectCalls() != 2 {
		t.Fatalf("eject calls = %d", env.fake.EjectCalls())
	}

	if _, _, err := runCLI(t, []string{"eject", "4"}, env.socketPath, env.configPath); err == nil {
		t.Fatal("expected unknown drive error")
	}
}

func TestTrayCommandsDirect(t *testing.T) {
	cfg, configPath := newCLIConfig(t)
	bin := filepath.Join(testsupport.BaseDir(cfg), "bin")
	testsupport.StubBinaries(t, bin, "#!/bin/sh\nexit 0\n", "eject")

	out, _, err := runCLI(t, []string{"eject", "--direct", "/dev/sr3"}, "", configPath)
	if err != nil {
		t.Fatalf("eject --direct: %v", err)
	}
	requireContains(t, out, "/dev/sr3: tray opened")

	testsupport.StubBinaries(t, bin, "#!/bin/sh\nexit 1\n", "eject")
	_, _, err = runCLI(t, []string{"close", "--direct", "/dev/sr3"}, "", configPath)
	if err == nil {
		t.Fatal("expected close to fail when eject keeps failing")
	}
}

func TestDrivesWithoutDaemon(t *testing.T) {
	cfg, configPath := newCLIConfig(t)
	_, _, err := runCLI(t, []string{"drives"}, cfg.SocketPath(), configPath)
	if err == nil {
		t.Fatal("expected error without daemon")
	}
	requireContains(t, err.Error(), "discarchive start")
}

func TestRenderDrivesTable(t *testing.T) {
	snaps := []drive.Snapshot{
		{Index: 1, DevicePath: "/dev/sr0", State: drive.State{Kind: drive.CopyReadError}, LastError: "Error reading disk."},
		{Index: 2, DevicePath: "/dev/sr1", State: drive.State{Kind: drive.WaitingForName}, SuggestedName: "MOVIE.iso"},
	}
	got := renderDrivesTable(snaps, false)
	for _, want := range []string{"copy_read_error", "Error reading disk.", "suggested MOVIE.iso", "waiting_for_name"} {
		requireContains(t, got, want)
	}
	if strings.Contains(got, ansiReset) {
		t.Fatal("uncolored table must not contain escape codes")
	}
	requireContains(t, renderDrivesTable(snaps, true), ansiRed+"copy_read_error"+ansiReset)
}
