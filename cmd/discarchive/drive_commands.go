package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"discarchive/internal/config"
	"discarchive/internal/daemon"
	"discarchive/internal/drive"
	"discarchive/internal/ipc"
)

func newDriveCommands(ctx *commandContext) []*cobra.Command {
	var drivesJSON bool
	drivesCmd := &cobra.Command{
		Use:   "drives",
		Short: "List optical drives and their archive state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Drives()
				if err != nil {
					return err
				}
				if drivesJSON {
					return writeJSON(cmd, resp.Drives)
				}
				out := cmd.OutOrStdout()
				if len(resp.Drives) == 0 {
					fmt.Fprintln(out, "No optical drives discovered")
					return nil
				}
				fmt.Fprint(out, renderDrivesTable(resp.Drives, shouldColorize(out)))
				return nil
			})
		},
	}
	drivesCmd.Flags().BoolVar(&drivesJSON, "json", false, "Output as JSON")

	nameCmd := &cobra.Command{
		Use:   "name <drive> [file]",
		Short: "Name the image of a copied disc (omit file to accept the suggestion)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := ""
			if len(args) == 2 {
				name = args[1]
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.SubmitName(args[0], name)
				if err != nil {
					return err
				}
				writeNameOutcome(cmd.OutOrStdout(), resp.Drive)
				return nil
			})
		},
	}

	var accept, decline bool
	confirmCmd := &cobra.Command{
		Use:   "confirm <drive>",
		Short: "Answer the overwrite question for a drive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if accept == decline {
				return errors.New("pass exactly one of --yes or --no")
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.ResolveOverwrite(args[0], accept)
				if err != nil {
					return err
				}
				writeNameOutcome(cmd.OutOrStdout(), resp.Drive)
				return nil
			})
		},
	}
	confirmCmd.Flags().BoolVarP(&accept, "yes", "y", false, "Overwrite the existing image")
	confirmCmd.Flags().BoolVarP(&decline, "no", "n", false, "Keep the existing image and choose another name")

	return []*cobra.Command{
		drivesCmd,
		nameCmd,
		confirmCmd,
		newTrayCommand(ctx, "eject", "Open a drive tray"),
		newTrayCommand(ctx, "close", "Close a drive tray"),
	}
}

func newTrayCommand(ctx *commandContext, action, short string) *cobra.Command {
	var direct bool
	cmd := &cobra.Command{
		Use:   action + " <drive>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if direct {
				device, err := actuateDirect(cmd.Context(), ctx.configValue(), action, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s: tray %s\n", device, trayVerb(action))
				return nil
			}
			return ctx.withClient(func(client *ipc.Client) error {
				call := client.Eject
				if action == "close" {
					call = client.CloseTray
				}
				resp, err := call(args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s: tray %s\n", resp.Device, trayVerb(action))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&direct, "direct", false, "Run the eject tool directly instead of asking the daemon")
	return cmd
}

func trayVerb(action string) string {
	if action == "close" {
		return "closed"
	}
	return "opened"
}

// actuateDirect drives the tray without a daemon. Numeric references are
// resolved against a fresh drive inventory.
func actuateDirect(ctx context.Context, cfg *config.Config, action, ref string) (string, error) {
	if cfg == nil {
		return "", errors.New("configuration not available")
	}
	tools := daemon.NewToolset(cfg)
	device := strings.TrimSpace(ref)
	if index, err := strconv.Atoi(device); err == nil {
		paths, err := tools.Discover(ctx)
		if err != nil {
			return "", err
		}
		if index < 1 || index > len(paths) {
			return "", fmt.Errorf("%w %q: %d drive(s) discovered", daemon.ErrUnknownDrive, ref, len(paths))
		}
		device = paths[index-1]
	}
	actuator := tools.Actuator(cfg.Drive.ActuatorAttempts, cfg.ActuatorDelay())
	if action == "close" {
		return device, actuator.CloseOrError(ctx, device)
	}
	return device, actuator.EjectOrError(ctx, device)
}

func renderDrivesTable(drives []drive.Snapshot, colorize bool) string {
	rows := make([][]string, 0, len(drives))
	for _, snap := range drives {
		rows = append(rows, []string{
			strconv.Itoa(snap.Index),
			snap.DevicePath,
			paint(snap.State.Kind.String(), stateKind(snap.State), colorize),
			driveVolume(snap),
			driveProgress(snap),
			driveDetail(snap),
		})
	}
	return renderTable(
		[]string{"#", "Device", "State", "Volume", "Progress", "Detail"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
	)
}

func driveVolume(snap drive.Snapshot) string {
	if snap.Volume.Name == "" && snap.Volume.BlockCount == 0 {
		return ""
	}
	return fmt.Sprintf("%s (%s)", snap.Volume.Name, humanize.IBytes(uint64(max(snap.Volume.TotalBytes(), 0))))
}

func driveProgress(snap drive.Snapshot) string {
	switch snap.State.Kind {
	case drive.Copying, drive.WaitingForName, drive.ConfirmingName, drive.Saving, drive.Done:
		return fmt.Sprintf("%.1f%%", snap.Percent())
	}
	return ""
}

func driveDetail(snap drive.Snapshot) string {
	switch {
	case snap.LastError != "":
		return snap.LastError
	case snap.State.Kind == drive.WaitingForName && snap.SuggestedName != "":
		return "suggested " + snap.SuggestedName
	case snap.State.Name != "":
		return snap.State.Name
	case !snap.UpdatedAt.IsZero():
		return "since " + humanize.RelTime(snap.UpdatedAt, time.Now(), "ago", "from now")
	}
	return ""
}

func writeNameOutcome(out io.Writer, snap drive.Snapshot) {
	switch snap.State.Kind {
	case drive.ConfirmingName:
		fmt.Fprintf(out, "%s already exists; run `discarchive confirm %d --yes` to overwrite or --no to pick another name\n",
			snap.State.Name, snap.Index)
	case drive.Saving:
		fmt.Fprintf(out, "Saving %s\n", snap.State.Name)
	case drive.WaitingForName:
		fmt.Fprintf(out, "%s: waiting for a new name\n", snap.DevicePath)
	default:
		fmt.Fprintf(out, "%s: %s\n", snap.DevicePath, snap.State.Message())
	}
}
