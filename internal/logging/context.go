package logging

import (
	"context"
	"log/slog"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldDrive is the device path of the drive a record concerns.
	FieldDrive = "drive"
	// FieldCycleID identifies one insertion cycle on a drive.
	FieldCycleID = "cycle_id"
	// FieldState is the lifecycle state name.
	FieldState = "state"
	// FieldEventType classifies a record for filtering.
	FieldEventType = "event_type"
	// FieldErrorHint tells the operator what to try next.
	FieldErrorHint = "error_hint"
	// FieldImpact is the standardized key for user-facing consequence of a warning.
	FieldImpact = "impact"
	// FieldProgress is a 0-100 percentage.
	FieldProgress = "progress_percent"
)

type contextKey int

const (
	driveKey contextKey = iota
	cycleKey
)

// ContextWithDrive tags ctx with a drive device path.
func ContextWithDrive(ctx context.Context, devicePath string) context.Context {
	return context.WithValue(ctx, driveKey, devicePath)
}

// ContextWithCycle tags ctx with an insertion cycle identifier.
func ContextWithCycle(ctx context.Context, cycleID string) context.Context {
	return context.WithValue(ctx, cycleKey, cycleID)
}

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 2)
	if drive, ok := ctx.Value(driveKey).(string); ok && drive != "" {
		fields = append(fields, slog.String(FieldDrive, drive))
	}
	if cycle, ok := ctx.Value(cycleKey).(string); ok && cycle != "" {
		fields = append(fields, slog.String(FieldCycleID, cycle))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(attrsToArgs(fields)...)
}
