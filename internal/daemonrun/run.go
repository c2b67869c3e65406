package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/google/renameio/v2"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"discarchive/internal/config"
	"discarchive/internal/daemon"
	"discarchive/internal/deps"
	"discarchive/internal/disc"
	"discarchive/internal/ipc"
	"discarchive/internal/logging"
	"discarchive/internal/preflight"
)

// Options configures daemon process runtime behavior.
type Options struct {
	// LogLevel overrides [logging] level when set.
	LogLevel string
	// SocketPath overrides the IPC socket location derived from state_dir.
	SocketPath string
	// Stderr receives operator hints for fatal startup errors.
	Stderr io.Writer
	// DaemonOptions are passed through to daemon.New.
	DaemonOptions []daemon.Option
}

// Run hosts the daemon in this process until a signal, a Stop request over
// IPC, or a fatal engine error.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) (runErr error) {
	if cfg == nil {
		return errors.New("config is required")
	}
	stderr := opts.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}
	if level := strings.TrimSpace(opts.LogLevel); level != "" {
		overridden := *cfg
		overridden.Logging.Level = level
		cfg = &overridden
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("prepare directories: %w", err)
	}
	logger, logPath, err := logging.NewFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	sessionID := uuid.NewString()
	logger = logging.WithSession(logger, sessionID)

	logging.CleanupOldLogs(logger, cfg.Logging.RetentionDays,
		logging.RetentionTarget{Dir: cfg.Paths.LogDir, Pattern: logging.RunLogPattern, Exclude: []string{logPath}},
	)
	logDependencySnapshot(logger, preflight.CheckSystemDeps(cfg))
	logPreflight(signalCtx, logger, cfg)

	daemonOpts := append([]daemon.Option{
		daemon.WithSessionID(sessionID),
		daemon.WithLogPath(logPath),
	}, opts.DaemonOptions...)
	d, err := daemon.New(signalCtx, cfg, logger, daemonOpts...)
	if err != nil {
		if hint := disc.Hint(err); hint != "" {
			fmt.Fprintln(stderr, hint)
		}
		logging.ErrorWithContext(logger, "daemon setup failed", "daemon_setup_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check that lsscsi lists the optical drives"),
			logging.String(logging.FieldImpact, "no drives are archived"),
		)
		return fmt.Errorf("create daemon: %w", err)
	}

	// Start takes the instance lock; nothing that touches shared paths may run
	// before it succeeds.
	if err := d.Start(signalCtx); err != nil {
		_ = d.Close()
		return err
	}

	pidPath := cfg.PIDPath()
	if err := writePIDFile(pidPath); err != nil {
		logging.WarnWithContext(logger, "pid file not written", "pid_file_failed",
			logging.String("path", pidPath),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check state_dir permissions"),
			logging.String(logging.FieldImpact, "discarchive stop falls back to the socket only"),
		)
	}

	socketPath := strings.TrimSpace(opts.SocketPath)
	if socketPath == "" {
		socketPath = cfg.SocketPath()
	}
	ipcServer, err := ipc.NewServer(signalCtx, socketPath, d, logger)
	if err != nil {
		_ = d.Close()
		_ = os.Remove(pidPath)
		return fmt.Errorf("start IPC server: %w", err)
	}
	ipcServer.Serve()

	defer func() {
		var result *multierror.Error
		if err := ipcServer.Close(); err != nil {
			result = multierror.Append(result, err)
		}
		if err := d.Close(); err != nil {
			result = multierror.Append(result, err)
		}
		if err := os.Remove(pidPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			result = multierror.Append(result, fmt.Errorf("remove pid file: %w", err))
		}
		if err := result.ErrorOrNil(); err != nil {
			logging.WarnWithContext(logger, "shutdown incomplete", "daemon_shutdown_errors",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "remove stale files under state_dir"),
				logging.String(logging.FieldImpact, "the next start may need manual cleanup"),
			)
			if runErr == nil {
				runErr = err
			}
		}
	}()

	select {
	case <-signalCtx.Done():
		logger.Info("discarchive daemon shutting down",
			logging.String(logging.FieldEventType, "daemon_shutdown"),
			logging.String("reason", "signal"),
		)
		d.Stop()
	case <-d.Done():
		logger.Info("discarchive daemon shutting down",
			logging.String(logging.FieldEventType, "daemon_shutdown"),
			logging.String("reason", "stopped"),
		)
	}
	return d.Err()
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	return renameio.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644)
}

func logDependencySnapshot(logger *slog.Logger, statuses []deps.Status) {
	attrs := []logging.Attr{logging.String(logging.FieldEventType, "dependency_snapshot")}
	for _, status := range statuses {
		attrs = append(attrs, logging.Bool(status.Command+"_available", status.Available))
	}
	logger.Info("dependency snapshot", logging.Args(attrs...)...)
	if missing := deps.Missing(statuses); len(missing) > 0 {
		logging.WarnWithContext(logger, "drive tools missing", "dependency_missing",
			logging.String("missing", strings.Join(missing, ", ")),
			logging.String(logging.FieldErrorHint, "install the listed tools or fix [tools] in config.toml"),
			logging.String(logging.FieldImpact, "discovery, presence or eject will fail"),
		)
	}
}

func logPreflight(ctx context.Context, logger *slog.Logger, cfg *config.Config) {
	for _, result := range preflight.Failed(preflight.RunAll(ctx, cfg)) {
		logging.WarnWithContext(logger, "preflight check failed", "preflight_failed",
			logging.String("check", result.Name),
			logging.String("detail", result.Detail),
			logging.String(logging.FieldErrorHint, "fix the directory or free space before inserting discs"),
			logging.String(logging.FieldImpact, "copies may fail"),
		)
	}
}
