package daemon

import (
	"context"
	"log/slog"
	"time"

	"discarchive/internal/catalog"
	"discarchive/internal/config"
	"discarchive/internal/drive"
	"discarchive/internal/logging"
	"discarchive/internal/manifest"
	"discarchive/internal/metrics"
	"discarchive/internal/notifications"
)

const (
	recorderBuffer  = 32
	recorderTimeout = 15 * time.Second
)

// cycleRecorder fans engine events out to the catalog, manifest, notifier and
// metrics. HandleEvent runs on the engine goroutine and only enqueues; run
// does the slow work on its own goroutine.
type cycleRecorder struct {
	catalog       *catalog.Store
	notifier      notifications.Service
	metrics       *metrics.Metrics
	logger        *slog.Logger
	writeManifest bool
	notifyCommit  bool
	notifyFailure bool
	timeout       time.Duration

	events chan drive.Event
}

func newCycleRecorder(cfg *config.Config, store *catalog.Store, notifier notifications.Service, m *metrics.Metrics, logger *slog.Logger) *cycleRecorder {
	timeout := recorderTimeout
	if t := cfg.NotificationTimeout(); t > timeout {
		timeout = t
	}
	return &cycleRecorder{
		catalog:       store,
		notifier:      notifier,
		metrics:       m,
		logger:        logging.NewComponentLogger(logger, "recorder"),
		writeManifest: cfg.Drive.WriteManifest,
		notifyCommit:  cfg.Notifications.Commit,
		notifyFailure: cfg.Notifications.Failure,
		timeout:       timeout,
		events:        make(chan drive.Event, recorderBuffer),
	}
}

// HandleEvent implements drive.Observer.
func (r *cycleRecorder) HandleEvent(ev drive.Event) {
	select {
	case r.events <- ev:
	default:
		logging.WarnWithContext(r.logger, "cycle event dropped", "recorder_overflow",
			logging.String(logging.FieldDrive, ev.DevicePath),
			logging.String(logging.FieldCycleID, ev.CycleID),
			logging.String("event", string(ev.Kind)),
			logging.String(logging.FieldErrorHint, "check catalog and notification latency"),
			logging.String(logging.FieldImpact, "the catalog may miss this cycle"),
		)
	}
}

func (r *cycleRecorder) run() {
	for ev := range r.events {
		r.record(ev)
	}
}

// close must only be called once the engine feeding this recorder has exited.
func (r *cycleRecorder) close() {
	close(r.events)
}

// outcomeFor maps the events that end a cycle onto catalog outcomes.
func outcomeFor(ev drive.Event) (catalog.Outcome, bool) {
	switch ev.Kind {
	case drive.EventCommitted:
		return catalog.OutcomeCommitted, true
	case drive.EventCopyFailed:
		if ev.State.Kind == drive.CopyReadError {
			return catalog.OutcomeReadError, true
		}
		return catalog.OutcomeWriteError, true
	case drive.EventMetadataFailed:
		return catalog.OutcomeMetadataFailed, true
	case drive.EventAbandoned:
		return catalog.OutcomeAbandoned, true
	}
	return "", false
}

func (r *cycleRecorder) record(ev drive.Event) {
	outcome, final := outcomeFor(ev)
	if !final {
		return
	}
	// Events keep flowing during shutdown, after the engine context is gone.
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	logger := r.logger.With(
		logging.String(logging.FieldDrive, ev.DevicePath),
		logging.String(logging.FieldCycleID, ev.CycleID),
	)

	r.metrics.CycleFinished(string(outcome))
	if outcome == catalog.OutcomeCommitted {
		r.metrics.ImageCommitted(ev.Bytes, ev.CopyTime)
	}
	r.storeRecord(ctx, logger, ev, outcome)

	switch outcome {
	case catalog.OutcomeCommitted:
		if r.writeManifest {
			r.storeManifest(logger, ev)
		}
		if r.notifyCommit {
			r.notify(logger, r.notifier.NotifyImageCommitted(ctx, notifications.Image{
				Path:     ev.ImagePath,
				Label:    ev.Volume.Name,
				Device:   ev.DevicePath,
				Bytes:    ev.Bytes,
				CopyTime: ev.CopyTime,
			}))
		}
	case catalog.OutcomeAbandoned:
	default:
		if r.notifyFailure {
			r.notify(logger, r.notifier.NotifyCycleFailed(ctx, ev.DevicePath, ev.Volume.Name, failureReason(ev)))
		}
	}
}

func failureReason(ev drive.Event) string {
	reason := ev.State.Message()
	if ev.Kind == drive.EventMetadataFailed {
		reason = "Could not read the volume metadata."
	}
	if ev.Err != nil {
		reason += " " + ev.Err.Error()
	}
	return reason
}

func (r *cycleRecorder) storeRecord(ctx context.Context, logger *slog.Logger, ev drive.Event, outcome catalog.Outcome) {
	if r.catalog == nil || ev.CycleID == "" {
		return
	}
	rec := catalog.Record{
		CycleID:     ev.CycleID,
		DevicePath:  ev.DevicePath,
		VolumeLabel: ev.Volume.Name,
		BlockSize:   ev.Volume.BlockSize,
		BlockCount:  ev.Volume.BlockCount,
		TotalBytes:  ev.Volume.TotalBytes(),
		Outcome:     outcome,
		ImagePath:   ev.ImagePath,
		StartedAt:   ev.StartedAt,
		FinishedAt:  ev.At,
	}
	if ev.Err != nil {
		rec.ErrorMessage = ev.Err.Error()
	}
	if _, err := r.catalog.Record(ctx, rec); err != nil {
		logging.WarnWithContext(logger, "catalog record failed", "catalog_write_failed",
			logging.Error(err),
			logging.String("outcome", string(outcome)),
			logging.String(logging.FieldErrorHint, "check the catalog database path and disk space"),
			logging.String(logging.FieldImpact, "this cycle is missing from the catalog"),
		)
	}
}

func (r *cycleRecorder) storeManifest(logger *slog.Logger, ev drive.Event) {
	path, err := manifest.Write(manifest.Manifest{
		Image:       ev.ImagePath,
		CycleID:     ev.CycleID,
		DevicePath:  ev.DevicePath,
		VolumeLabel: ev.Volume.Name,
		BlockSize:   ev.Volume.BlockSize,
		BlockCount:  ev.Volume.BlockCount,
		Bytes:       ev.Bytes,
		InsertedAt:  ev.StartedAt,
		CommittedAt: ev.At,
		CopySeconds: ev.CopyTime.Seconds(),
	})
	if err != nil {
		logging.WarnWithContext(logger, "manifest not written", "manifest_write_failed",
			logging.String("image", ev.ImagePath),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check output directory permissions"),
			logging.String(logging.FieldImpact, "image saved without a sidecar"),
		)
		return
	}
	logger.Debug("manifest written", logging.String("path", path))
}

func (r *cycleRecorder) notify(logger *slog.Logger, err error) {
	if err == nil {
		return
	}
	r.metrics.NotificationFailed()
	logging.WarnWithContext(logger, "notification failed", "notification_failed",
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "check ntfy_topic and network reachability"),
		logging.String(logging.FieldImpact, "operator was not notified"),
	)
}

// watchDrive mirrors a drive's snapshots into the state and progress gauges.
func watchDrive(ctx context.Context, h *drive.Handle, m *metrics.Metrics) {
	updates, unsubscribe := h.Subscribe(4)
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-updates:
			m.SetDriveState(snap.DevicePath, snap.State.Kind.String())
			m.SetDriveProgress(snap.DevicePath, float64(snap.Progress)/drive.ProgressScale)
		}
	}
}
