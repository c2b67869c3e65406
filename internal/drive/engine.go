package drive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"discarchive/internal/copier"
	"discarchive/internal/disc"
	"discarchive/internal/fileutil"
	"discarchive/internal/logging"
)

const (
	DefaultPollInterval = 5 * time.Second
	DefaultBufferSize   = 1 << 20
)

// MetadataSource reads the volume descriptor of the inserted disc.
type MetadataSource interface {
	FetchVolumeInfo(ctx context.Context, devicePath string) (disc.VolumeInfo, error)
}

// Ejector opens the drive tray. It reports false when every attempt failed.
type Ejector interface {
	Eject(ctx context.Context, devicePath string) (bool, error)
}

// SourceOpener opens the raw block device for reading.
type SourceOpener func(devicePath string) (io.ReadCloser, error)

// SpaceChecker fails when dir cannot hold need more bytes.
type SpaceChecker func(dir string, need int64) error

// Deps are the collaborators an Engine calls out to.
type Deps struct {
	Metadata   MetadataSource
	Ejector    Ejector
	Open       SourceOpener
	CheckSpace SpaceChecker
	Observer   Observer
	Logger     *slog.Logger
}

// Options tune an Engine.
type Options struct {
	StagingDir             string
	BufferSize             int64
	PollInterval           time.Duration
	EjectOnMetadataFailure bool
	EjectAfterCommit       bool
}

// Engine drives one Handle through insertion cycles: detect media, read
// metadata, stream the device into a staged file, wait for a name, commit.
type Engine struct {
	handle *Handle
	deps   Deps
	opts   Options
	logger *slog.Logger

	staged *stagedArtifact
	cycle  cycleInfo
}

type cycleInfo struct {
	id        string
	volume    disc.VolumeInfo
	startedAt time.Time
	copyTime  time.Duration
	bytes     int64
}

// NewEngine wires an engine for handle.
func NewEngine(handle *Handle, deps Deps, opts Options) *Engine {
	if deps.Open == nil {
		deps.Open = openDevice
	}
	if deps.Observer == nil {
		deps.Observer = nopObserver{}
	}
	if opts.StagingDir == "" {
		opts.StagingDir = handle.outputDir
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	logger := logging.NewComponentLogger(deps.Logger, "engine").With(logging.String(logging.FieldDrive, handle.DevicePath()))
	return &Engine{handle: handle, deps: deps, opts: opts, logger: logger}
}

func openDevice(devicePath string) (io.ReadCloser, error) {
	return os.Open(devicePath)
}

// Run advances the lifecycle until ctx is cancelled. It returns nil on
// cancellation and an error only when the state machine itself is violated.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.handle.Transition(State{Kind: NoDisc}); err != nil {
		return fmt.Errorf("start engine for %s: %w", e.handle.DevicePath(), err)
	}
	e.logger.Debug("engine started", logging.String(logging.FieldEventType, "engine_started"))

	ticker := time.NewTicker(e.opts.PollInterval)
	defer ticker.Stop()
	defer e.abandon()

	for {
		changed := e.handle.Changed()
		if err := e.step(ctx); err != nil {
			return fmt.Errorf("drive %s: %w", e.handle.DevicePath(), err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-changed:
		case <-ticker.C:
		}
	}
}

func (e *Engine) step(ctx context.Context) error {
	if ctx.Err() != nil {
		return nil
	}
	state := e.handle.State()
	switch state.Kind {
	case NoDisc:
		if e.handle.HasDisc() {
			return e.runCycle(ctx)
		}
	case Saving:
		return e.commit(ctx, state.Name)
	case Done, CopyReadError, CopyWriteError:
		if !e.handle.HasDisc() {
			if err := e.handle.Transition(State{Kind: NoDisc}); err != nil {
				return err
			}
			e.logger.Info("disc removed", logging.String(logging.FieldEventType, "disc_removed"))
			e.emit(EventDiscRemoved, nil)
		}
	}
	return nil
}

func (e *Engine) runCycle(ctx context.Context) error {
	e.cycle = cycleInfo{id: uuid.NewString(), startedAt: time.Now()}
	ctx = logging.ContextWithCycle(ctx, e.cycle.id)
	logger := logging.WithContext(ctx, e.logger)

	volume, err := e.deps.Metadata.FetchVolumeInfo(ctx, e.handle.DevicePath())
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return e.metadataFailed(ctx, logger, err)
	}
	e.cycle.volume = volume
	e.handle.beginCycle(e.cycle.id, volume)

	if err := e.handle.Transition(State{Kind: Copying}); err != nil {
		return err
	}
	logger.Info("copy started",
		logging.String(logging.FieldEventType, "copy_started"),
		logging.String("volume_label", volume.Name),
		logging.Bytes("size", volume.TotalBytes()),
	)
	e.emit(EventCopyStarted, nil)

	copyStart := time.Now()
	err = e.copyImage(ctx, logger, volume)
	e.cycle.copyTime = time.Since(copyStart)
	switch {
	case err == nil:
		if err := e.handle.Transition(State{Kind: WaitingForName}); err != nil {
			return err
		}
		logger.Info("copy finished; waiting for a name",
			logging.String(logging.FieldEventType, "copy_finished"),
			logging.Bytes("copied", e.cycle.bytes),
			logging.Duration("elapsed", e.cycle.copyTime),
			logging.String("suggested_name", volume.SuggestedImageName()),
		)
		e.emit(EventCopyFinished, nil)
		return nil
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		return nil
	}

	_ = e.staged.discard()
	e.staged = nil
	next := CopyWriteError
	if errors.Is(err, copier.ErrRead) {
		next = CopyReadError
	}
	if ferr := e.handle.fail(State{Kind: next}, err); ferr != nil {
		return ferr
	}
	logging.WarnWithContext(logger, "copy failed", "copy_failed",
		logging.Error(err),
		logging.String(logging.FieldState, next.String()),
		logging.String(logging.FieldErrorHint, copyFailureHint(next)),
		logging.String(logging.FieldImpact, "no image was saved for this disc"),
	)
	e.emit(EventCopyFailed, err)
	return nil
}

func copyFailureHint(kind StateKind) string {
	if kind == CopyReadError {
		return "clean the disc and reinsert it"
	}
	return "check free space and permissions of the staging directory"
}

func (e *Engine) metadataFailed(ctx context.Context, logger *slog.Logger, cause error) error {
	hint := disc.Hint(cause)
	if hint == "" {
		hint = "the disc may not carry an ISO 9660 filesystem"
	}
	logging.WarnWithContext(logger, "volume metadata unavailable", "metadata_failed",
		logging.Error(cause),
		logging.String(logging.FieldErrorHint, hint),
		logging.String(logging.FieldImpact, "disc skipped"),
	)
	if e.opts.EjectOnMetadataFailure && e.deps.Ejector != nil {
		e.ejectBestEffort(ctx, logger, "eject after metadata failure did not succeed")
	}
	if err := e.handle.fail(State{Kind: Done}, cause); err != nil {
		return err
	}
	e.emit(EventMetadataFailed, cause)
	return nil
}

func (e *Engine) ejectBestEffort(ctx context.Context, logger *slog.Logger, msg string) {
	ok, err := e.deps.Ejector.Eject(ctx, e.handle.DevicePath())
	if err == nil && ok {
		return
	}
	if err == nil {
		err = disc.ErrActuatorFailed
	}
	logging.WarnWithContext(logger, msg, "eject_failed",
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "open the tray manually"),
		logging.String(logging.FieldImpact, "disc remains in the drive"),
	)
}

func (e *Engine) copyImage(ctx context.Context, logger *slog.Logger, volume disc.VolumeInfo) error {
	src, err := e.deps.Open(e.handle.DevicePath())
	if err != nil {
		return &copier.Error{Op: copier.OpRead, Err: err}
	}
	defer src.Close()

	total := volume.TotalBytes()
	if e.deps.CheckSpace != nil {
		if err := e.deps.CheckSpace(e.opts.StagingDir, total); err != nil {
			return &copier.Error{Op: copier.OpWrite, Err: err}
		}
	}
	staged, err := createStaged(e.opts.StagingDir)
	if err != nil {
		return &copier.Error{Op: copier.OpWrite, Err: err}
	}
	e.staged = staged

	var copied int64
	sampler := logging.NewProgressSampler(10)
	onProgress := func(n int) {
		copied += int64(n)
		value := ProgressScale
		if total > 0 {
			value = int(copied * ProgressScale / total)
		}
		e.handle.setProgress(value)
		if percent := float64(value) / 10; sampler.ShouldLog(percent) {
			logger.Debug("copy progress",
				logging.Float64(logging.FieldProgress, percent),
				logging.Bytes("copied", copied),
			)
		}
	}
	if total == 0 {
		e.handle.setProgress(ProgressScale)
	}
	if err := copier.CopyContext(ctx, src, staged.file, total, e.opts.BufferSize, onProgress); err != nil {
		return err
	}
	if err := staged.seal(); err != nil {
		return &copier.Error{Op: copier.OpWrite, Offset: copied, Err: err}
	}
	e.cycle.bytes = copied
	return nil
}

func (e *Engine) commit(ctx context.Context, target string) error {
	logger := logging.WithContext(logging.ContextWithCycle(ctx, e.cycle.id), e.logger)
	if e.staged == nil {
		return e.commitFailed(logger, target, errors.New("no staged image to commit"))
	}
	if err := fileutil.MoveFile(e.staged.path, target); err != nil {
		return e.commitFailed(logger, target, err)
	}
	e.staged = nil
	if err := e.handle.Transition(State{Kind: Done}); err != nil {
		return err
	}
	logger.Info("image saved",
		logging.String(logging.FieldEventType, "image_committed"),
		logging.String("image", target),
		logging.Bytes("size", e.cycle.bytes),
	)
	e.emitImage(EventCommitted, target, nil)
	if e.opts.EjectAfterCommit && e.deps.Ejector != nil {
		e.ejectBestEffort(ctx, logger, "eject after commit did not succeed")
	}
	return nil
}

func (e *Engine) commitFailed(logger *slog.Logger, target string, cause error) error {
	if err := e.handle.fail(State{Kind: WaitingForName}, cause); err != nil {
		return err
	}
	logging.WarnWithContext(logger, "image save failed", "commit_failed",
		logging.String("image", target),
		logging.Error(cause),
		logging.String(logging.FieldErrorHint, "choose another name or check the output directory"),
		logging.String(logging.FieldImpact, "the copy is kept until a name succeeds"),
	)
	e.emitImage(EventCommitFailed, target, cause)
	return nil
}

// abandon drops an uncommitted staged copy when the engine stops.
func (e *Engine) abandon() {
	if e.staged == nil {
		return
	}
	if err := e.staged.discard(); err != nil {
		logging.WarnWithContext(e.logger, "staged image not removed", "staging_cleanup_failed",
			logging.String("path", e.staged.path),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "remove the .partial file manually"),
			logging.String(logging.FieldImpact, "disk space stays allocated"),
		)
	}
	e.staged = nil
	e.logger.Info("cycle abandoned at shutdown",
		logging.String(logging.FieldEventType, "cycle_abandoned"),
		logging.String(logging.FieldCycleID, e.cycle.id),
	)
	e.emit(EventAbandoned, context.Canceled)
}

func (e *Engine) emit(kind EventKind, err error) {
	e.emitImage(kind, "", err)
}

func (e *Engine) emitImage(kind EventKind, image string, err error) {
	e.deps.Observer.HandleEvent(Event{
		Kind:       kind,
		DevicePath: e.handle.DevicePath(),
		CycleID:    e.cycle.id,
		Volume:     e.cycle.volume,
		State:      e.handle.State(),
		ImagePath:  image,
		Bytes:      e.cycle.bytes,
		StartedAt:  e.cycle.startedAt,
		At:         time.Now(),
		CopyTime:   e.cycle.copyTime,
		Err:        err,
	})
}
