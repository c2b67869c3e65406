package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"discarchive/internal/ipc"
)

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var (
		lines  int
		follow bool
		device string
		level  string
	)
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show the daemon run log",
		RunE: func(cmd *cobra.Command, args []string) error {
			if lines <= 0 {
				return fmt.Errorf("--lines must be positive, got %d", lines)
			}
			out := cmd.OutOrStdout()
			return ctx.withClient(func(client *ipc.Client) error {
				req := ipc.LogTailRequest{
					Offset: -1,
					Limit:  lines,
					Drive:  strings.TrimSpace(device),
					Level:  strings.TrimSpace(level),
				}
				for {
					resp, err := client.LogTail(req)
					if err != nil {
						return err
					}
					for _, line := range resp.Lines {
						fmt.Fprintln(out, line)
					}
					if !follow {
						return nil
					}
					if err := cmd.Context().Err(); err != nil {
						if errors.Is(err, context.Canceled) {
							return nil
						}
						return err
					}
					req.Offset = resp.Offset
					req.Limit = 0
					req.Follow = true
					req.WaitMillis = 1000
				}
			})
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of recent lines to show")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing new lines")
	cmd.Flags().StringVar(&device, "drive", "", "Only show lines for this device path")
	cmd.Flags().StringVar(&level, "level", "", "Minimum level (debug, info, warn, error)")
	return cmd
}
