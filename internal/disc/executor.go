package disc

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"time"
)

// Executor abstracts command execution for drive tooling.
type Executor interface {
	Run(ctx context.Context, binary string, args []string) ([]byte, error)
}

// commandExecutor executes commands using os/exec.
type commandExecutor struct{}

func (commandExecutor) Run(ctx context.Context, binary string, args []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, binary, args...) //nolint:gosec
	return cmd.Output()
}

// NewExecutor returns the os/exec backed executor.
func NewExecutor() Executor {
	return commandExecutor{}
}

// Default binary names for the external tools.
const (
	DefaultLsscsiBinary  = "lsscsi"
	DefaultBlkidBinary   = "blkid"
	DefaultIsoinfoBinary = "isoinfo"
	DefaultEjectBinary   = "eject"
)

// Toolset bundles the external commands used to observe and actuate drives.
type Toolset struct {
	Exec    Executor
	Lsscsi  string
	Blkid   string
	Isoinfo string
	Eject   string

	// Timeout bounds each tool invocation. Zero disables the bound.
	Timeout time.Duration

	Inventory InventoryOptions
}

// DefaultToolset returns a toolset using the stock binaries on PATH.
func DefaultToolset() Toolset {
	return Toolset{
		Exec:      commandExecutor{},
		Lsscsi:    DefaultLsscsiBinary,
		Blkid:     DefaultBlkidBinary,
		Isoinfo:   DefaultIsoinfoBinary,
		Eject:     DefaultEjectBinary,
		Timeout:   30 * time.Second,
		Inventory: DefaultInventoryOptions(),
	}
}

func (t Toolset) executor() Executor {
	if t.Exec == nil {
		return commandExecutor{}
	}
	return t.Exec
}

func (t Toolset) run(ctx context.Context, binary string, args ...string) ([]byte, error) {
	if t.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.Timeout)
		defer cancel()
	}
	return t.executor().Run(ctx, strings.TrimSpace(binary), args)
}

type exitCoder interface {
	ExitCode() int
}

// exitStatus reports the exit code when err describes a process that ran and
// exited non-zero. Launch failures report false.
func exitStatus(err error) (int, bool) {
	var coder exitCoder
	if errors.As(err, &coder) {
		return coder.ExitCode(), true
	}
	return 0, false
}

func orDefault(value, fallback string) string {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		return trimmed
	}
	return fallback
}
