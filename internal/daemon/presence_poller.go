package daemon

import (
	"context"
	"log/slog"
	"time"

	"discarchive/internal/disc"
	"discarchive/internal/drive"
	"discarchive/internal/logging"
	"discarchive/internal/metrics"
)

// presenceSource lists the block devices that currently carry readable media.
type presenceSource interface {
	ProbePresence(ctx context.Context) ([]disc.PresenceEntry, error)
}

// presencePoller is the only writer of every handle's presence flag.
type presencePoller struct {
	source    presenceSource
	handles   []*drive.Handle
	interval  time.Duration
	trayProbe disc.TrayProber
	metrics   *metrics.Metrics
	logger    *slog.Logger
	nudge     chan struct{}
}

func newPresencePoller(source presenceSource, handles []*drive.Handle, interval time.Duration, trayProbe disc.TrayProber, m *metrics.Metrics, logger *slog.Logger) *presencePoller {
	if interval <= 0 {
		interval = drive.DefaultPollInterval
	}
	return &presencePoller{
		source:    source,
		handles:   handles,
		interval:  interval,
		trayProbe: trayProbe,
		metrics:   m,
		logger:    logging.NewComponentLogger(logger, "presence-poller"),
		nudge:     make(chan struct{}, 1),
	}
}

// Nudge requests an immediate poll. It never blocks; nudges that arrive
// while one is pending collapse into it.
func (p *presencePoller) Nudge() {
	select {
	case p.nudge <- struct{}{}:
	default:
	}
}

func (p *presencePoller) run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		p.poll(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-p.nudge:
		}
	}
}

func (p *presencePoller) poll(ctx context.Context) {
	entries, err := p.source.ProbePresence(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		p.metrics.PollFailed()
		hint := disc.Hint(err)
		if hint == "" {
			hint = "check that blkid is installed and runnable"
		}
		logging.WarnWithContext(p.logger, "presence poll failed", "presence_poll_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, hint),
			logging.String(logging.FieldImpact, "disc changes are picked up on the next poll"),
		)
		return
	}
	for _, h := range p.handles {
		present := disc.Present(entries, h.DevicePath())
		if h.SetPresent(present) {
			p.logger.Debug("presence changed",
				logging.String(logging.FieldDrive, h.DevicePath()),
				logging.Bool("has_disc", present),
			)
		}
		p.metrics.SetHasDisc(h.DevicePath(), present)
		if p.trayProbe == nil {
			continue
		}
		status, err := p.trayProbe(h.DevicePath())
		if err != nil {
			p.logger.Debug("tray probe failed",
				logging.String(logging.FieldDrive, h.DevicePath()),
				logging.Error(err),
			)
			continue
		}
		h.SetTray(status)
	}
}
