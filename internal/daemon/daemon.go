package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"discarchive/internal/catalog"
	"discarchive/internal/config"
	"discarchive/internal/deps"
	"discarchive/internal/disc"
	"discarchive/internal/drive"
	"discarchive/internal/logging"
	"discarchive/internal/metrics"
	"discarchive/internal/notifications"
	"discarchive/internal/preflight"
)

var (
	// ErrUnknownDrive is returned when a drive reference matches no handle.
	ErrUnknownDrive = errors.New("unknown drive")
	// ErrAlreadyRunning is returned by Start when the lock is held.
	ErrAlreadyRunning = errors.New("another discarchive daemon instance is already running")
	// ErrEjectFailed is the operator-facing eject failure.
	ErrEjectFailed = errors.New("Failed to eject disk drive.")
	// ErrCloseFailed is the operator-facing tray close failure.
	ErrCloseFailed = errors.New("Failed to close disk drive.")
)

// Daemon owns the discovered drives, one engine per drive, the presence
// poller, and the sinks that record what the engines do.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	tools    disc.Toolset
	actuator *disc.Actuator
	catalog  *catalog.Store
	metrics  *metrics.Metrics
	notifier notifications.Service

	openDevice drive.SourceOpener
	trayProbe  disc.TrayProber

	handles   []*drive.Handle
	poller    *presencePoller
	netlink   *netlinkMonitor
	api       *apiServer
	sessionID string
	logPath   string

	lockPath string
	lock     *flock.Flock

	running   atomic.Bool
	mu        sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
	runErr    error
	startedAt time.Time
}

// Option customizes a Daemon at construction.
type Option func(*Daemon)

// WithToolset replaces the external tool configuration derived from config.
func WithToolset(tools disc.Toolset) Option {
	return func(d *Daemon) { d.tools = tools }
}

// WithSourceOpener replaces how engines open the raw device.
func WithSourceOpener(open drive.SourceOpener) Option {
	return func(d *Daemon) { d.openDevice = open }
}

// WithTrayProber replaces the CDROM_DRIVE_STATUS probe. A nil prober
// disables tray probing.
func WithTrayProber(probe disc.TrayProber) Option {
	return func(d *Daemon) { d.trayProbe = probe }
}

// WithNotifier replaces the configured notification service.
func WithNotifier(svc notifications.Service) Option {
	return func(d *Daemon) { d.notifier = svc }
}

// WithMetrics shares an existing metrics registry.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Daemon) { d.metrics = m }
}

// WithSessionID reuses a session id the caller already tagged its logger with.
func WithSessionID(id string) Option {
	return func(d *Daemon) {
		if id != "" {
			d.sessionID = id
		}
	}
}

// WithLogPath records the run log file served by LogPath.
func WithLogPath(path string) Option {
	return func(d *Daemon) { d.logPath = path }
}

// NewToolset maps the [tools] section onto a disc.Toolset.
func NewToolset(cfg *config.Config) disc.Toolset {
	tools := disc.DefaultToolset()
	tools.Lsscsi = cfg.Tools.Lsscsi
	tools.Blkid = cfg.Tools.Blkid
	tools.Isoinfo = cfg.Tools.Isoinfo
	tools.Eject = cfg.Tools.Eject
	tools.Timeout = cfg.CommandTimeout()
	tools.Inventory.StripTrailing = cfg.Tools.InventoryStripTrailing
	return tools
}

// New discovers the optical drives and opens the catalog. Discovery failures
// are fatal; disc.Hint explains them to the operator.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("daemon requires config")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	d := &Daemon{
		cfg:       cfg,
		logger:    logger,
		tools:     NewToolset(cfg),
		trayProbe: disc.ProbeTray,
		sessionID: uuid.NewString(),
		lockPath:  cfg.LockPath(),
		lock:      flock.New(cfg.LockPath()),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.metrics == nil {
		d.metrics = metrics.New()
	}
	if d.notifier == nil {
		d.notifier = notifications.NewService(cfg)
	}
	d.actuator = d.tools.Actuator(cfg.Drive.ActuatorAttempts, cfg.ActuatorDelay())

	devices, err := d.tools.Discover(ctx)
	if err != nil {
		return nil, fmt.Errorf("discover drives: %w", err)
	}
	for i, device := range devices {
		d.handles = append(d.handles, drive.NewHandle(i+1, device, cfg.Paths.OutputDir))
	}
	logger.Info("drives discovered",
		logging.String(logging.FieldEventType, "drives_discovered"),
		logging.Int("drive_count", len(devices)),
		logging.String("drives", strings.Join(devices, ",")),
	)

	if cfg.Catalog.Enabled {
		store, err := catalog.Open(cfg.Catalog.Path)
		if err != nil {
			return nil, fmt.Errorf("open catalog: %w", err)
		}
		d.catalog = store
	}

	d.poller = newPresencePoller(d.tools, d.handles, cfg.PollInterval(), d.trayProbe, d.metrics, logger)
	if cfg.Drive.NetlinkEnabled {
		d.netlink = newNetlinkMonitor(d.handles, d.poller.Nudge, logger)
	}
	d.api = newAPIServer(cfg, d, logger)
	return d, nil
}

// Start acquires the instance lock and launches the engines and the poller.
// It returns once everything is running; use Done to wait for exit.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return ErrAlreadyRunning
	}

	d.cleanStaleArtifacts()

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.api.start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return err
	}
	if err := d.netlink.Start(runCtx); err != nil {
		cancel()
		d.api.stop()
		_ = d.lock.Unlock()
		return err
	}

	d.cancel = cancel
	d.done = make(chan struct{})
	d.runErr = nil
	d.startedAt = time.Now()
	d.running.Store(true)

	recorders := make([]*cycleRecorder, 0, len(d.handles))
	var sinks sync.WaitGroup
	group, groupCtx := errgroup.WithContext(runCtx)
	for _, h := range d.handles {
		rec := newCycleRecorder(d.cfg, d.catalog, d.notifier, d.metrics, d.logger)
		recorders = append(recorders, rec)
		sinks.Go(rec.run)
		sinks.Go(func() { watchDrive(groupCtx, h, d.metrics) })

		engine := drive.NewEngine(h, drive.Deps{
			Metadata:   d.tools,
			Ejector:    d.actuator,
			Open:       d.openDevice,
			CheckSpace: preflight.SpaceChecker(d.cfg.Drive.MinFreeSpace),
			Observer:   rec,
			Logger:     d.logger,
		}, drive.Options{
			StagingDir:             d.cfg.Paths.StagingDir,
			BufferSize:             int64(d.cfg.Drive.BufferSize.Bytes()),
			PollInterval:           d.cfg.PollInterval(),
			EjectOnMetadataFailure: d.cfg.Drive.EjectOnMetadataFailure,
			EjectAfterCommit:       d.cfg.Drive.EjectAfterCommit,
		})
		group.Go(func() error { return engine.Run(groupCtx) })
	}
	group.Go(func() error { return d.poller.run(groupCtx) })

	if d.cfg.Notifications.Startup {
		sinks.Go(func() {
			notifyCtx, cancel := context.WithTimeout(groupCtx, d.cfg.NotificationTimeout())
			defer cancel()
			if err := d.notifier.NotifyDaemonStarted(notifyCtx, d.devicePaths()); err != nil {
				d.metrics.NotificationFailed()
				d.logger.Debug("startup notification failed", logging.Error(err))
			}
		})
	}

	done := d.done
	go func() {
		err := group.Wait()
		for _, rec := range recorders {
			rec.close()
		}
		sinks.Wait()
		d.finish(err)
		close(done)
	}()

	d.logger.Info("discarchive daemon started",
		logging.String(logging.FieldEventType, "daemon_started"),
		logging.String("lock", d.lockPath),
		logging.String(logging.FieldSessionID, d.sessionID),
		logging.Int("drive_count", len(d.handles)),
	)
	return nil
}

func (d *Daemon) finish(err error) {
	d.netlink.Stop()
	d.api.stop()
	if unlockErr := d.lock.Unlock(); unlockErr != nil {
		logging.WarnWithContext(d.logger, "failed to release daemon lock", "lock_release_failed",
			logging.Error(unlockErr),
			logging.String(logging.FieldErrorHint, "remove "+d.lockPath+" if the next start reports a running instance"),
			logging.String(logging.FieldImpact, "next start may be refused"),
		)
	}
	d.mu.Lock()
	d.runErr = err
	d.mu.Unlock()
	d.running.Store(false)
	if err != nil {
		logging.ErrorWithContext(d.logger, "discarchive daemon stopped on error", "daemon_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the drive state machine log lines above"),
		)
		return
	}
	d.logger.Info("discarchive daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
}

func (d *Daemon) cleanStaleArtifacts() {
	dirs := []string{d.cfg.Paths.StagingDir}
	if d.cfg.Paths.OutputDir != d.cfg.Paths.StagingDir {
		dirs = append(dirs, d.cfg.Paths.OutputDir)
	}
	for _, dir := range dirs {
		removed, err := drive.CleanStaleArtifacts(dir)
		for _, path := range removed {
			d.logger.Info("removed stale partial image",
				logging.String(logging.FieldEventType, "stale_partial_removed"),
				logging.String("path", path),
			)
		}
		if err != nil {
			logging.WarnWithContext(d.logger, "stale partial images not removed", "stale_partial_cleanup_failed",
				logging.String("dir", dir),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "remove .discarchive-*.partial files manually"),
				logging.String(logging.FieldImpact, "disk space stays allocated"),
			)
		}
	}
}

// Stop cancels the engines and waits until every goroutine has exited.
func (d *Daemon) Stop() {
	d.mu.Lock()
	cancel, done := d.cancel, d.done
	d.cancel = nil
	d.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Done is closed when a started daemon has fully stopped. It is nil before
// Start.
func (d *Daemon) Done() <-chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.done
}

// Err reports why the last run ended. Cancellation is not an error.
func (d *Daemon) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.runErr
}

// Close stops the daemon and releases the catalog.
func (d *Daemon) Close() error {
	d.Stop()
	var result *multierror.Error
	if d.catalog != nil {
		if err := d.catalog.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close catalog: %w", err))
		}
	}
	if err := d.lock.Unlock(); err != nil {
		result = multierror.Append(result, fmt.Errorf("release lock: %w", err))
	}
	return result.ErrorOrNil()
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool             `json:"running"`
	PID          int              `json:"pid"`
	SessionID    string           `json:"session_id"`
	StartedAt    time.Time        `json:"started_at,omitzero"`
	LockPath     string           `json:"lock_path"`
	CatalogPath  string           `json:"catalog_path,omitempty"`
	LogPath      string           `json:"log_path,omitempty"`
	APIAddr      string           `json:"api_addr,omitempty"`
	Netlink      bool             `json:"netlink"`
	Drives       []drive.Snapshot `json:"drives"`
	Dependencies []deps.Status    `json:"dependencies"`
}

// Status returns the current daemon status.
func (d *Daemon) Status(context.Context) Status {
	d.mu.Lock()
	startedAt := d.startedAt
	d.mu.Unlock()
	status := Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		SessionID:    d.sessionID,
		StartedAt:    startedAt,
		LockPath:     d.lockPath,
		LogPath:      d.logPath,
		APIAddr:      d.APIAddr(),
		Netlink:      d.netlink.Running(),
		Drives:       d.Drives(),
		Dependencies: preflight.CheckSystemDeps(d.cfg),
	}
	if d.catalog != nil {
		status.CatalogPath = d.catalog.Path()
	}
	return status
}

// LogPath is the run log of this process, or empty when logging to a file is off.
func (d *Daemon) LogPath() string { return d.logPath }

// Metrics exposes the registry the daemon reports to.
func (d *Daemon) Metrics() *metrics.Metrics { return d.metrics }

// APIAddr is the bound HTTP address, or empty when the API is off or stopped.
func (d *Daemon) APIAddr() string {
	if addr := d.api.Addr(); addr != nil {
		return addr.String()
	}
	return ""
}

// Drives returns a snapshot of every drive in discovery order.
func (d *Daemon) Drives() []drive.Snapshot {
	snaps := make([]drive.Snapshot, 0, len(d.handles))
	for _, h := range d.handles {
		snaps = append(snaps, h.Snapshot())
	}
	return snaps
}

func (d *Daemon) devicePaths() []string {
	paths := make([]string, 0, len(d.handles))
	for _, h := range d.handles {
		paths = append(paths, h.DevicePath())
	}
	return paths
}

// Handle resolves ref, a 1-based discovery index or a device path.
func (d *Daemon) Handle(ref string) (*drive.Handle, error) {
	ref = strings.TrimSpace(ref)
	if index, err := strconv.Atoi(ref); err == nil {
		if index < 1 || index > len(d.handles) {
			return nil, fmt.Errorf("%w %q: %d drive(s) discovered", ErrUnknownDrive, ref, len(d.handles))
		}
		return d.handles[index-1], nil
	}
	for _, h := range d.handles {
		if h.DevicePath() == ref {
			return h, nil
		}
	}
	return nil, fmt.Errorf("%w %q", ErrUnknownDrive, ref)
}

// Drive returns the snapshot of the drive named by ref.
func (d *Daemon) Drive(ref string) (drive.Snapshot, error) {
	h, err := d.Handle(ref)
	if err != nil {
		return drive.Snapshot{}, err
	}
	return h.Snapshot(), nil
}

// SubmitName names the finished copy on the drive. An empty name uses the
// suggested volume name.
func (d *Daemon) SubmitName(ref, name string) (drive.Snapshot, error) {
	h, err := d.Handle(ref)
	if err != nil {
		return drive.Snapshot{}, err
	}
	if strings.TrimSpace(name) == "" {
		name = h.Snapshot().SuggestedName
	}
	state, err := h.SubmitName(name)
	if err != nil {
		return h.Snapshot(), err
	}
	d.logger.Info("image name submitted",
		logging.String(logging.FieldEventType, "name_submitted"),
		logging.String(logging.FieldDrive, h.DevicePath()),
		logging.String(logging.FieldState, state.Kind.String()),
		logging.String("image", state.Name),
	)
	return h.Snapshot(), nil
}

// ResolveOverwrite answers the overwrite question for the drive.
func (d *Daemon) ResolveOverwrite(ref string, accept bool) (drive.Snapshot, error) {
	h, err := d.Handle(ref)
	if err != nil {
		return drive.Snapshot{}, err
	}
	state, err := h.ResolveOverwrite(accept)
	if err != nil {
		return h.Snapshot(), err
	}
	d.logger.Info("overwrite resolved",
		logging.String(logging.FieldEventType, "overwrite_resolved"),
		logging.String(logging.FieldDrive, h.DevicePath()),
		logging.Bool("accepted", accept),
		logging.String(logging.FieldState, state.Kind.String()),
	)
	return h.Snapshot(), nil
}

// EjectTray opens the tray of the drive named by ref.
func (d *Daemon) EjectTray(ctx context.Context, ref string) error {
	return d.actuate(ctx, ref, "eject", d.actuator.EjectOrError, ErrEjectFailed)
}

// CloseTray retracts the tray of the drive named by ref.
func (d *Daemon) CloseTray(ctx context.Context, ref string) error {
	return d.actuate(ctx, ref, "close", d.actuator.CloseOrError, ErrCloseFailed)
}

func (d *Daemon) actuate(ctx context.Context, ref, action string, fn func(context.Context, string) error, failure error) error {
	h, err := d.Handle(ref)
	if err != nil {
		return err
	}
	if err := fn(ctx, h.DevicePath()); err != nil {
		d.metrics.ActuatorFailed(action)
		logging.WarnWithContext(d.logger, "tray "+action+" failed", "actuator_failed",
			logging.String(logging.FieldDrive, h.DevicePath()),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the drive is not busy and the eject tool is installed"),
			logging.String(logging.FieldImpact, "tray position unchanged"),
		)
		return fmt.Errorf("%w %s: %w", failure, h.DevicePath(), err)
	}
	d.poller.Nudge()
	return nil
}

// Catalog lists recent cycle records, newest first.
func (d *Daemon) Catalog(ctx context.Context, limit int) ([]catalog.Record, error) {
	if d.catalog == nil {
		return nil, errors.New("catalog disabled")
	}
	return d.catalog.List(ctx, limit)
}

// CatalogSummary counts recorded cycles per outcome.
func (d *Daemon) CatalogSummary(ctx context.Context) (catalog.Summary, error) {
	if d.catalog == nil {
		return catalog.Summary{}, errors.New("catalog disabled")
	}
	return d.catalog.Summarize(ctx)
}

// TestNotification sends a test notification using the current configuration.
func (d *Daemon) TestNotification(ctx context.Context) (bool, string, error) {
	if strings.TrimSpace(d.cfg.Notifications.NtfyTopic) == "" {
		return false, "ntfy topic not configured", nil
	}
	if err := d.notifier.TestNotification(ctx); err != nil {
		d.metrics.NotificationFailed()
		return false, "failed to send notification", err
	}
	return true, "test notification sent", nil
}
