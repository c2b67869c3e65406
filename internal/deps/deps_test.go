package deps

import (
	"os"
	"path/filepath"
	"testing"

	"discarchive/internal/config"
)

func TestCheckBinaries(t *testing.T) {
	binDir := t.TempDir()
	present := filepath.Join(binDir, "present")
	if err := os.WriteFile(present, []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	reqs := []Requirement{
		{Name: "Present", Command: present},
		{Name: "Missing", Command: "clearly-not-present-binary"},
		{Name: "Blank", Command: "  ", Optional: true},
	}

	results := CheckBinaries(reqs)
	if len(results) != len(reqs) {
		t.Fatalf("expected %d results, got %d", len(reqs), len(results))
	}
	if !results[0].Available || results[0].Path != present || results[0].Detail != "" {
		t.Fatalf("unexpected status for present binary: %#v", results[0])
	}
	if results[1].Available || results[1].Detail == "" {
		t.Fatalf("expected missing binary to be unavailable with detail: %#v", results[1])
	}
	if results[2].Detail != "command not configured" {
		t.Fatalf("unexpected detail for blank command: %q", results[2].Detail)
	}

	missing := Missing(results)
	if len(missing) != 1 || missing[0] != "Missing" {
		t.Fatalf("Missing = %v, want only required binaries", missing)
	}
}

func TestDriveToolsFollowsConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Tools.Isoinfo = "/opt/cdrtools/bin/isoinfo"
	reqs := DriveTools(cfg.Tools)
	if len(reqs) != 4 {
		t.Fatalf("expected four tools, got %d", len(reqs))
	}
	if reqs[2].Command != "/opt/cdrtools/bin/isoinfo" {
		t.Fatalf("isoinfo command = %q", reqs[2].Command)
	}
	if !reqs[3].Optional {
		t.Fatal("eject should be optional")
	}
}
