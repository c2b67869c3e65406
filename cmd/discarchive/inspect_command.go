package main

import (
	"fmt"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"discarchive/internal/inspect"
)

func newInspectCommand() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:         "inspect <image>",
		Short:       "Show the volume label, root listing and manifest of an image",
		Args:        cobra.ExactArgs(1),
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := inspect.Image(args[0])
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, report)
			}

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			printSection(out, "Image", colorize)
			fmt.Fprintln(out, renderStatusLine("Path", statusInfo, report.Path, colorize))
			fmt.Fprintln(out, renderStatusLine("Size", statusInfo, humanize.IBytes(uint64(report.Size)), colorize))
			labelKind := statusOK
			if !report.LabelMatches() {
				labelKind = statusWarn
			}
			fmt.Fprintln(out, renderStatusLine("Volume label", labelKind, report.Label, colorize))

			if m := report.Manifest; m != nil {
				fmt.Fprintln(out)
				printSection(out, "Manifest", colorize)
				fmt.Fprintln(out, renderStatusLine("Cycle", statusInfo, m.CycleID, colorize))
				fmt.Fprintln(out, renderStatusLine("Device", statusInfo, m.DevicePath, colorize))
				fmt.Fprintln(out, renderStatusLine("Label", labelKind, m.VolumeLabel, colorize))
				fmt.Fprintln(out, renderStatusLine("Geometry", statusInfo,
					fmt.Sprintf("%d blocks of %d bytes", m.BlockCount, m.BlockSize), colorize))
				sizeKind := statusOK
				if m.Bytes != report.Size {
					sizeKind = statusWarn
				}
				fmt.Fprintln(out, renderStatusLine("Recorded size", sizeKind, humanize.IBytes(uint64(max(m.Bytes, 0))), colorize))
				fmt.Fprintln(out, renderStatusLine("Committed", statusInfo, humanize.Time(m.CommittedAt), colorize))
			}

			fmt.Fprintln(out)
			printSection(out, "Root directory", colorize)
			if len(report.Entries) == 0 {
				fmt.Fprintln(out, "Empty")
				return nil
			}
			rows := make([][]string, 0, len(report.Entries))
			for _, entry := range report.Entries {
				size := strconv.FormatInt(entry.Size, 10)
				name := entry.Name
				if entry.Dir {
					name += "/"
					size = ""
				}
				rows = append(rows, []string{name, size})
			}
			fmt.Fprint(out, renderTable([]string{"Name", "Bytes"}, rows, []columnAlignment{alignLeft, alignRight}))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}
