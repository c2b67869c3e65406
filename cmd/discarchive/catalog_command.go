package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"discarchive/internal/catalog"
	"discarchive/internal/daemonctl"
)

func newCatalogCommand(ctx *commandContext) *cobra.Command {
	catalogCmd := &cobra.Command{
		Use:   "catalog",
		Short: "Inspect the archive history",
	}

	var limit int
	var asJSON bool
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List recent archive cycles, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit <= 0 {
				return fmt.Errorf("--limit must be positive, got %d", limit)
			}
			resp, err := daemonctl.CatalogRecords(cmd.Context(), ctx.socketPath(), ctx.configValue(), limit)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, resp)
			}
			out := cmd.OutOrStdout()
			if len(resp.Records) == 0 {
				fmt.Fprintln(out, "No archive cycles recorded")
				return nil
			}
			fmt.Fprint(out, renderCatalogTable(resp.Records, shouldColorize(out)))
			writeCatalogSummary(out, resp.Summary)
			return nil
		},
	}
	listCmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of cycles to show")
	listCmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")

	catalogCmd.AddCommand(listCmd)
	return catalogCmd
}

func renderCatalogTable(records []catalog.Record, colorize bool) string {
	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		detail := rec.ImagePath
		if rec.ErrorMessage != "" {
			detail = rec.ErrorMessage
		}
		rows = append(rows, []string{
			strconv.FormatInt(rec.ID, 10),
			rec.FinishedAt.Local().Format("2006-01-02 15:04"),
			rec.DevicePath,
			rec.VolumeLabel,
			paint(string(rec.Outcome), outcomeKind(rec.Outcome), colorize),
			humanize.IBytes(uint64(max(rec.TotalBytes, 0))),
			rec.Duration().Round(time.Second).String(),
			detail,
		})
	}
	return renderTable(
		[]string{"ID", "Finished", "Device", "Label", "Outcome", "Size", "Took", "Image / Error"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
	)
}

func outcomeKind(outcome catalog.Outcome) statusKind {
	switch outcome {
	case catalog.OutcomeCommitted:
		return statusOK
	case catalog.OutcomeAbandoned:
		return statusWarn
	default:
		return statusError
	}
}
