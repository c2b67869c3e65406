package daemon

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/pilebones/go-udev/netlink"

	"discarchive/internal/drive"
	"discarchive/internal/logging"
)

// netlinkMonitor listens for udev media-change events on the discovered
// drives and nudges the presence poller so insertions are seen before the
// next tick. Polling keeps working when the socket cannot be opened.
type netlinkMonitor struct {
	logger  *slog.Logger
	nudge   func()
	devices map[string]struct{}

	mu      sync.Mutex
	conn    *netlink.UEventConn
	quit    chan struct{}
	stopped chan struct{}
	running bool
}

func newNetlinkMonitor(handles []*drive.Handle, nudge func(), logger *slog.Logger) *netlinkMonitor {
	if len(handles) == 0 || nudge == nil {
		return nil
	}
	devices := make(map[string]struct{}, len(handles))
	for _, h := range handles {
		devices[h.DevicePath()] = struct{}{}
	}
	return &netlinkMonitor{
		logger:  logging.NewComponentLogger(logger, "netlink-monitor"),
		nudge:   nudge,
		devices: devices,
	}
}

// Start begins listening for udev netlink events.
func (m *netlinkMonitor) Start(ctx context.Context) error {
	if m == nil {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return nil
	}

	conn := new(netlink.UEventConn)
	if err := conn.Connect(netlink.UdevEvent); err != nil {
		logging.WarnWithContext(m.logger, "failed to connect to netlink socket; relying on polling", "netlink_connect_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "ensure the daemon has permission to access netlink sockets"),
			logging.String(logging.FieldImpact, "insertions are detected at the poll interval"),
		)
		return nil
	}

	m.conn = conn
	m.quit = make(chan struct{})
	m.stopped = make(chan struct{})
	m.running = true

	go m.monitorLoop(ctx, conn, m.quit, m.stopped)

	m.logger.Info("netlink monitor started",
		logging.String(logging.FieldEventType, "netlink_monitor_started"),
		logging.Int("drive_count", len(m.devices)),
	)
	return nil
}

// Stop shuts down the netlink monitor and waits for its loop to exit.
func (m *netlinkMonitor) Stop() {
	if m == nil {
		return
	}

	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	close(m.quit)
	stopped := m.stopped
	conn := m.conn
	m.conn = nil
	m.running = false
	m.mu.Unlock()

	<-stopped
	_ = conn.Close()
	m.logger.Info("netlink monitor stopped",
		logging.String(logging.FieldEventType, "netlink_monitor_stopped"),
	)
}

// Running reports whether the netlink monitor is active.
func (m *netlinkMonitor) Running() bool {
	if m == nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *netlinkMonitor) monitorLoop(ctx context.Context, conn *netlink.UEventConn, quit, stopped chan struct{}) {
	defer close(stopped)
	queue := make(chan netlink.UEvent)
	errs := make(chan error)
	monitorQuit := conn.Monitor(queue, errs, buildMatcher())
	defer close(monitorQuit)

	for {
		select {
		case <-ctx.Done():
			return
		case <-quit:
			return
		case uevent := <-queue:
			m.handleEvent(uevent)
		case err := <-errs:
			logging.WarnWithContext(m.logger, "netlink monitor error", "netlink_monitor_error",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check kernel netlink subsystem"),
				logging.String(logging.FieldImpact, "insertions may wait for the next poll"),
			)
		}
	}
}

// buildMatcher matches optical block devices being added or changing media.
func buildMatcher() netlink.Matcher {
	action := "change|add"
	rules := &netlink.RuleDefinitions{}
	rules.AddRule(netlink.RuleDefinition{
		Action: &action,
		Env: map[string]string{
			"SUBSYSTEM": "block",
			"ID_CDROM":  "1",
		},
	})
	return rules
}

func (m *netlinkMonitor) handleEvent(uevent netlink.UEvent) {
	devname := extractDeviceName(uevent)
	if _, ok := m.devices[devname]; !ok {
		m.logger.Debug("ignoring event for undiscovered device",
			logging.String("device", devname),
			logging.String("action", string(uevent.Action)),
		)
		return
	}
	m.logger.Debug("media change event",
		logging.String(logging.FieldEventType, "netlink_media_change"),
		logging.String(logging.FieldDrive, devname),
		logging.String("action", string(uevent.Action)),
	)
	m.nudge()
}

// extractDeviceName gets the device path from a uevent.
func extractDeviceName(uevent netlink.UEvent) string {
	if devname := uevent.Env["DEVNAME"]; devname != "" {
		if !strings.HasPrefix(devname, "/") {
			devname = "/dev/" + devname
		}
		return devname
	}

	// DEVPATH looks like /devices/pci.../block/sr0
	devpath := uevent.Env["DEVPATH"]
	if devpath == "" {
		return ""
	}
	parts := strings.Split(devpath, "/")
	return "/dev/" + parts[len(parts)-1]
}
