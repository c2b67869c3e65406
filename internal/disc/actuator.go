package disc

import (
	"context"
	"fmt"
	"time"
)

// DefaultActuatorAttempts caps eject/close retries.
const DefaultActuatorAttempts = 5

// Actuator opens and closes drive trays through the eject utility.
type Actuator struct {
	Exec     Executor
	Binary   string
	Attempts int
	Delay    time.Duration
}

// Actuator returns an actuator sharing the toolset's executor and eject binary.
func (t Toolset) Actuator(attempts int, delay time.Duration) *Actuator {
	return &Actuator{
		Exec:     t.executor(),
		Binary:   orDefault(t.Eject, DefaultEjectBinary),
		Attempts: attempts,
		Delay:    delay,
	}
}

// Eject opens the tray. It reports whether any attempt succeeded.
func (a *Actuator) Eject(ctx context.Context, devicePath string) (bool, error) {
	return a.attempt(ctx, devicePath)
}

// Close retracts the tray. It reports whether any attempt succeeded.
func (a *Actuator) Close(ctx context.Context, devicePath string) (bool, error) {
	return a.attempt(ctx, "-t", devicePath)
}

// EjectOrError is Eject with exhaustion reported as ErrActuatorFailed.
func (a *Actuator) EjectOrError(ctx context.Context, devicePath string) error {
	return orActuatorError(a.Eject(ctx, devicePath))
}

// CloseOrError is Close with exhaustion reported as ErrActuatorFailed.
func (a *Actuator) CloseOrError(ctx context.Context, devicePath string) error {
	return orActuatorError(a.Close(ctx, devicePath))
}

func orActuatorError(ok bool, err error) error {
	if err != nil {
		return err
	}
	if !ok {
		return ErrActuatorFailed
	}
	return nil
}

func (a *Actuator) attempt(ctx context.Context, args ...string) (bool, error) {
	attempts := a.Attempts
	if attempts <= 0 {
		attempts = DefaultActuatorAttempts
	}
	binary := orDefault(a.Binary, DefaultEjectBinary)
	exec := a.Exec
	if exec == nil {
		exec = commandExecutor{}
	}

	for i := 0; i < attempts; i++ {
		if i > 0 && a.Delay > 0 {
			select {
			case <-ctx.Done():
				return false, ctx.Err()
			case <-time.After(a.Delay):
			}
		}
		_, err := exec.Run(ctx, binary, args)
		if err == nil {
			return true, nil
		}
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		if _, ran := exitStatus(err); !ran {
			return false, newError(KindLaunchFail, binary, fmt.Errorf("run %v: %w", args, err))
		}
	}
	return false, nil
}
