package daemonctl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"discarchive/internal/catalog"
	"discarchive/internal/config"
	"discarchive/internal/deps"
	"discarchive/internal/ipc"
	"discarchive/internal/preflight"
)

// ErrDaemonNotRunning indicates daemon IPC is unavailable.
var ErrDaemonNotRunning = errors.New("daemon not running")

// LaunchOptions controls daemon process launch behavior.
type LaunchOptions struct {
	SocketPath string
	ConfigPath string
	LogLevel   string
}

// StartState describes what EnsureStarted found or did.
type StartState string

const (
	StartStateStarted        StartState = "started"
	StartStateAlreadyRunning StartState = "already_running"
)

// StartResult captures daemon start orchestration state.
type StartResult struct {
	State StartState
	PID   int
}

// Launch starts a detached discarchive daemon process.
func Launch(executablePath string, opts LaunchOptions) error {
	if strings.TrimSpace(executablePath) == "" {
		return errors.New("resolve executable: executable path is empty")
	}

	args := []string{"daemon"}
	if socket := strings.TrimSpace(opts.SocketPath); socket != "" {
		args = append(args, "--socket", socket)
	}
	if cfg := strings.TrimSpace(opts.ConfigPath); cfg != "" {
		args = append(args, "--config", cfg)
	}
	if level := strings.TrimSpace(opts.LogLevel); level != "" {
		args = append(args, "--log-level", level)
	}

	proc := exec.Command(executablePath, args...)
	proc.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := proc.Start(); err != nil {
		return fmt.Errorf("launch daemon: %w", err)
	}
	return proc.Process.Release()
}

// WaitForClient waits for IPC socket availability and returns a connected client.
func WaitForClient(socketPath string, timeout time.Duration) (*ipc.Client, error) {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		client, err := ipc.Dial(socketPath)
		if err == nil {
			return client, nil
		}
		lastErr = err
		time.Sleep(200 * time.Millisecond)
	}
	if lastErr == nil {
		lastErr = errors.New("timeout waiting for daemon")
	}
	return nil, fmt.Errorf("daemon failed to start: %w", lastErr)
}

// EnsureStarted launches the daemon unless its socket already answers.
// The daemon only opens its socket after taking the instance lock, so a
// reachable socket means a running daemon.
func EnsureStarted(socketPath, executablePath string, opts LaunchOptions, waitTimeout time.Duration) (StartResult, error) {
	state := StartStateAlreadyRunning
	client, err := ipc.Dial(socketPath)
	if err != nil {
		if launchErr := Launch(executablePath, opts); launchErr != nil {
			return StartResult{}, launchErr
		}
		client, err = WaitForClient(socketPath, waitTimeout)
		if err != nil {
			return StartResult{}, err
		}
		state = StartStateStarted
	}
	defer client.Close()

	status, err := client.Status()
	if err != nil {
		return StartResult{}, fmt.Errorf("query daemon status: %w", err)
	}
	return StartResult{State: state, PID: status.PID}, nil
}

// WaitForShutdown waits for daemon IPC to disappear or report not-running.
func WaitForShutdown(socketPath string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		client, err := ipc.Dial(socketPath)
		if err != nil {
			if isDaemonUnavailable(err) {
				return nil
			}
			lastErr = err
			time.Sleep(200 * time.Millisecond)
			continue
		}
		status, statusErr := client.Status()
		_ = client.Close()
		if statusErr == nil && !status.Running {
			return nil
		}
		if statusErr != nil {
			lastErr = statusErr
		} else {
			lastErr = errors.New("daemon still running")
		}
		time.Sleep(200 * time.Millisecond)
	}
	if lastErr == nil {
		lastErr = errors.New("timeout waiting for shutdown")
	}
	return fmt.Errorf("daemon did not stop: %w", lastErr)
}

// ProcessInfo returns whether daemon IPC is reachable and the daemon PID when available.
func ProcessInfo(socketPath string) (bool, int, error) {
	client, err := ipc.Dial(socketPath)
	if err != nil {
		if isDaemonUnavailable(err) {
			return false, 0, nil
		}
		return false, 0, err
	}
	defer client.Close()
	status, err := client.Status()
	if err != nil {
		return true, 0, err
	}
	return true, status.PID, nil
}

// ReadPID returns the pid recorded in pidPath, or 0 when there is none.
func ReadPID(pidPath string) (int, error) {
	data, err := os.ReadFile(pidPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("read daemon pid file %q: %w", pidPath, err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("daemon pid file %q is malformed", pidPath)
	}
	return pid, nil
}

// ForceKillProcess sends SIGKILL to the daemon and removes its pid file. The
// instance lock is released by the kernel when the process dies.
func ForceKillProcess(pidPath string, fallbackPID int) (int, error) {
	pid, err := ReadPID(pidPath)
	if err != nil {
		return 0, err
	}
	if pid == 0 {
		pid = fallbackPID
	}
	if pid <= 0 {
		return 0, fmt.Errorf("unable to determine daemon pid (pid file: %s)", pidPath)
	}
	if pid == os.Getpid() {
		return 0, fmt.Errorf("refusing to kill current process (pid %d)", pid)
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return 0, fmt.Errorf("locate daemon process %d: %w", pid, err)
	}
	if err := proc.Kill(); err != nil {
		return 0, fmt.Errorf("kill daemon process %d: %w", pid, err)
	}
	if err := os.Remove(pidPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return 0, fmt.Errorf("remove pid file %q: %w", pidPath, err)
	}
	return pid, nil
}

// StopResult captures daemon stop/termination outcome.
type StopResult struct {
	StopAcknowledged bool
	ForcedKill       bool
	PID              int
}

// StopAndTerminate requests daemon stop and force-kills the process if still
// alive after gracePeriod.
func StopAndTerminate(socketPath string, cfg *config.Config, gracePeriod time.Duration) (StopResult, error) {
	client, err := ipc.Dial(socketPath)
	if err != nil {
		if isDaemonUnavailable(err) {
			return StopResult{}, ErrDaemonNotRunning
		}
		return StopResult{}, err
	}
	pid := 0
	if status, statusErr := client.Status(); statusErr == nil {
		pid = status.PID
	}
	resp, err := client.Stop()
	_ = client.Close()
	if err != nil {
		return StopResult{}, err
	}
	result := StopResult{PID: pid, StopAcknowledged: resp.Stopped}

	if err := WaitForShutdown(socketPath, gracePeriod); err == nil {
		return result, nil
	}
	alive, livePID, aliveErr := ProcessInfo(socketPath)
	if aliveErr != nil || !alive {
		return result, nil
	}
	if livePID == 0 {
		livePID = pid
	}
	if cfg == nil {
		return result, errors.New("daemon still running and no configuration to locate its pid file")
	}
	killedPID, err := ForceKillProcess(cfg.PIDPath(), livePID)
	if err != nil {
		return result, fmt.Errorf("failed to stop daemon process: %w", err)
	}
	_ = os.Remove(socketPath)
	result.ForcedKill = true
	result.PID = killedPID
	return result, nil
}

// StatusLine is one row of the status report.
type StatusLine struct {
	Label    string `json:"label"`
	Severity string `json:"severity"`
	Detail   string `json:"detail"`
}

// DependencySummary aggregates dependency readiness.
type DependencySummary struct {
	Total           int    `json:"total"`
	Available       int    `json:"available"`
	MissingRequired int    `json:"missing_required"`
	MissingOptional int    `json:"missing_optional"`
	Severity        string `json:"severity"`
	Detail          string `json:"detail"`
}

// Snapshot is everything `discarchive status` reports. Daemon is nil when the
// daemon is not reachable.
type Snapshot struct {
	Daemon            *ipc.StatusResponse `json:"daemon,omitempty"`
	Dependencies      []deps.Status       `json:"dependencies"`
	DependencySummary DependencySummary   `json:"dependency_summary"`
	SystemChecks      []StatusLine        `json:"system_checks"`
	Catalog           *catalog.Summary    `json:"catalog,omitempty"`
}

// Running reports whether the daemon answered.
func (s *Snapshot) Running() bool {
	return s.Daemon != nil && s.Daemon.Running
}

// BuildStatusSnapshot collects daemon status and falls back to local checks
// when the daemon is down.
func BuildStatusSnapshot(ctx context.Context, socketPath string, cfg *config.Config) (*Snapshot, error) {
	if cfg == nil {
		return nil, errors.New("configuration not available")
	}
	snap := &Snapshot{}

	if client, err := ipc.Dial(socketPath); err == nil {
		if resp, statusErr := client.Status(); statusErr == nil {
			snap.Daemon = resp
		}
		if snap.Daemon != nil && cfg.Catalog.Enabled {
			if resp, catErr := client.Catalog(1); catErr == nil {
				snap.Catalog = &resp.Summary
			}
		}
		_ = client.Close()
	}

	if snap.Daemon != nil && len(snap.Daemon.Dependencies) > 0 {
		snap.Dependencies = snap.Daemon.Dependencies
	} else {
		snap.Dependencies = preflight.CheckSystemDeps(cfg)
	}
	if snap.Catalog == nil && !snap.Running() {
		queryCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if summary, err := offlineCatalogSummary(queryCtx, cfg); err == nil {
			snap.Catalog = summary
		}
	}
	snap.DependencySummary = BuildDependencySummary(snap.Dependencies)
	snap.SystemChecks = BuildSystemChecks(cfg, snap.Daemon)
	return snap, nil
}

// CatalogRecords reads the catalog from the daemon when it is running and
// from the database file otherwise.
func CatalogRecords(ctx context.Context, socketPath string, cfg *config.Config, limit int) (*ipc.CatalogResponse, error) {
	if client, err := ipc.Dial(socketPath); err == nil {
		defer client.Close()
		return client.Catalog(limit)
	}
	if cfg == nil || !cfg.Catalog.Enabled {
		return nil, errors.New("catalog disabled")
	}
	store, err := openExistingCatalog(cfg)
	if err != nil {
		return nil, err
	}
	defer store.Close()
	records, err := store.List(ctx, limit)
	if err != nil {
		return nil, err
	}
	summary, err := store.Summarize(ctx)
	if err != nil {
		return nil, err
	}
	return &ipc.CatalogResponse{Records: records, Summary: summary}, nil
}

func openExistingCatalog(cfg *config.Config) (*catalog.Store, error) {
	if _, err := os.Stat(cfg.Catalog.Path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("catalog %s does not exist yet", cfg.Catalog.Path)
		}
		return nil, fmt.Errorf("stat catalog: %w", err)
	}
	return catalog.Open(cfg.Catalog.Path)
}

func offlineCatalogSummary(ctx context.Context, cfg *config.Config) (*catalog.Summary, error) {
	if !cfg.Catalog.Enabled {
		return nil, errors.New("catalog disabled")
	}
	store, err := openExistingCatalog(cfg)
	if err != nil {
		return nil, err
	}
	defer store.Close()
	summary, err := store.Summarize(ctx)
	if err != nil {
		return nil, err
	}
	return &summary, nil
}

func isDaemonUnavailable(err error) bool {
	return errors.Is(err, os.ErrNotExist) ||
		errors.Is(err, syscall.ENOENT) ||
		errors.Is(err, syscall.ECONNREFUSED)
}

// BuildSystemChecks resolves status lines that combine runtime state and
// config checks.
func BuildSystemChecks(cfg *config.Config, status *ipc.StatusResponse) []StatusLine {
	lines := make([]StatusLine, 0, 6)
	running := status != nil && status.Running
	if running {
		lines = append(lines, StatusLine{Label: "Discarchive", Severity: "ok", Detail: fmt.Sprintf("Running (pid %d)", status.PID)})
		busy := 0
		for _, snap := range status.Drives {
			if !snap.State.Settled() && snap.HasDisc {
				busy++
			}
		}
		lines = append(lines, StatusLine{
			Label:    "Drives",
			Severity: drivesSeverity(len(status.Drives)),
			Detail:   fmt.Sprintf("%d discovered, %d busy", len(status.Drives), busy),
		})
	} else {
		lines = append(lines, StatusLine{Label: "Discarchive", Severity: "warn", Detail: "Not running (run `discarchive start`)"})
	}

	for _, result := range preflight.RunAll(context.Background(), cfg) {
		severity := "ok"
		if !result.Passed {
			severity = "error"
		}
		lines = append(lines, StatusLine{Label: result.Name, Severity: severity, Detail: result.Detail})
	}

	if strings.TrimSpace(cfg.Notifications.NtfyTopic) != "" {
		lines = append(lines, StatusLine{Label: "Notifications", Severity: "ok", Detail: "Configured"})
	} else {
		lines = append(lines, StatusLine{Label: "Notifications", Severity: "info", Detail: "Not configured"})
	}

	switch {
	case running && status.Netlink:
		lines = append(lines, StatusLine{Label: "Disc Detection", Severity: "ok", Detail: "Polling with netlink wakeups"})
	case running:
		lines = append(lines, StatusLine{Label: "Disc Detection", Severity: "ok", Detail: fmt.Sprintf("Polling every %s", cfg.PollInterval())})
	default:
		lines = append(lines, StatusLine{Label: "Disc Detection", Severity: "info", Detail: "Inactive (daemon not running)"})
	}
	return lines
}

func drivesSeverity(count int) string {
	if count == 0 {
		return "warn"
	}
	return "ok"
}

// BuildDependencySummary computes aggregate dependency readiness.
func BuildDependencySummary(statuses []deps.Status) DependencySummary {
	if len(statuses) == 0 {
		return DependencySummary{Severity: "info", Detail: "No dependency checks configured"}
	}

	missingRequired := 0
	missingOptional := 0
	for _, dep := range statuses {
		if dep.Available {
			continue
		}
		if dep.Optional {
			missingOptional++
		} else {
			missingRequired++
		}
	}

	missing := missingRequired + missingOptional
	available := len(statuses) - missing
	severity := "ok"
	if missingRequired > 0 {
		severity = "error"
	} else if missingOptional > 0 {
		severity = "warn"
	}
	detail := fmt.Sprintf("%d/%d available (missing: %d required, %d optional)", available, len(statuses), missingRequired, missingOptional)
	if missing == 0 {
		detail = fmt.Sprintf("%d/%d available", available, len(statuses))
	}

	return DependencySummary{
		Total:           len(statuses),
		Available:       available,
		MissingRequired: missingRequired,
		MissingOptional: missingOptional,
		Severity:        severity,
		Detail:          detail,
	}
}
