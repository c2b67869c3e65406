package main

import (
	"bytes"
	"context"
	"fmt"
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

type cliTestEnv struct {
	cfg        *config.Config
	fake       *testsupport.FakeDrive
	daemon     *daemon.Daemon
	server     *ipc.Server
	socketPath string
	configPath string
	logPath    string
}

// setupCLITestEnv hosts a daemon with a scripted drive and its IPC server in
// the test process.
func setupCLITestEnv(t *testing.T, opts ...testsupport.ConfigOption) *cliTestEnv {
	t.Helper()
	cfg, configPath := newCLIConfig(t, opts...)

	fake := testsupport.NewFakeDrive()
	tools := daemon.NewToolset(cfg)
	tools.Exec = fake
	data := testsupport.DeviceBytes(testsupport.FakeBlockSize * testsupport.FakeBlockCount)
	logPath := filepath.Join(cfg.Paths.LogDir, "discarchive-test.log")
	testsupport.WriteFile(t, logPath, nil)

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
			t.Skipf("skipping CLI test: %v", err)
		}
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()
	t.Cleanup(func() { _ = srv.Close() })

	return &cliTestEnv{
		cfg:        cfg,
		fake:       fake,
		daemon:     d,
		server:     srv,
		socketPath: cfg.SocketPath(),
		configPath: configPath,
		logPath:    logPath,
	}
}

// newCLIConfig builds a test config and writes the matching config.toml.
func newCLIConfig(t *testing.T, opts ...testsupport.ConfigOption) (*config.Config, string) {
	t.Helper()
	cfg := testsupport.NewConfig(t, append([]testsupport.ConfigOption{testsupport.WithoutAPI()}, opts...)...)
	home := filepath.Join(testsupport.BaseDir(cfg), "home")
	if err := os.MkdirAll(home, 0o755); err != nil {
		t.Fatalf("mkdir home: %v", err)
	}
	t.Setenv("HOME", home)
	configPath := filepath.Join(home, ".config", "discarchive", "config.toml")
	writeTestConfig(t, configPath, cfg)
	return cfg, configPath
}

func runCLI(t *testing.T, args []string, socket, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if socket != "" {
		flags = append(flags, "--socket", socket)
	}
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	content := fmt.Sprintf(`[paths]
output_dir = %q
state_dir = %q
log_dir = %q
api_bind = ""

[drive]
poll_interval = 1
actuator_delay = 0.01
netlink_enabled = false

[catalog]
path = %q
`, cfg.Paths.OutputDir, cfg.Paths.StateDir, cfg.Paths.LogDir, cfg.Catalog.Path)
	testsupport.WriteFile(t, path, []byte(content))
}

func (e *cliTestEnv) waitForState(t *testing.T, kind drive.StateKind) drive.Snapshot {
	t.Helper()
	var last drive.Snapshot
	waitFor(t, 3*time.Second, func() bool {
		snap, err := e.daemon.Drive("1")
		if err != nil {
			t.Fatalf("Drive: %v", err)
		}
		last = snap
		return snap.State.Kind == kind
	})
	return last
}

func waitFor(t *testing.T, duration time.Duration, fn func() bool) {
	t.Helper()
	deadline := time.Now().Add(duration)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", duration)
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
