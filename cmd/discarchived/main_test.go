package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.toml")
	content := "[paths]\noutput_dir = \"" + filepath.Join(dir, "out") + "\"\nstate_dir = \"" + filepath.Join(dir, "state") + "\"\n"
	if err := os.WriteFile(good, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := loadConfig(good)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.SocketPath() != filepath.Join(dir, "state", "discarchive.sock") {
		t.Fatalf("socket path = %q", cfg.SocketPath())
	}

	bad := filepath.Join(dir, "bad.toml")
	if err := os.WriteFile(bad, []byte("[logging]\nlevel = \"loud\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := loadConfig(bad); err == nil || !strings.Contains(err.Error(), "logging.level") {
		t.Fatalf("loadConfig(bad) = %v", err)
	}
}

func TestDaemonCommandRejectsArgs(t *testing.T) {
	cmd := newDaemonCommand()
	var stderr bytes.Buffer
	cmd.SetErr(&stderr)
	cmd.SetOut(&stderr)
	cmd.SetArgs([]string{"extra"})
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected positional arguments to be rejected")
	}
}

func TestDaemonFlagsOptions(t *testing.T) {
	cmd := newDaemonCommand()
	flags := daemonFlags{socketPath: " /run/discarchive.sock ", logLevel: "debug "}
	opts := flags.options(cmd)
	if opts.SocketPath != "/run/discarchive.sock" || opts.LogLevel != "debug" || opts.Stderr == nil {
		t.Fatalf("unexpected options %+v", opts)
	}
}
