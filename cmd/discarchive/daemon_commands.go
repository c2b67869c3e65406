package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"discarchive/internal/catalog"
	"discarchive/internal/daemonctl"
	"discarchive/internal/daemonrun"
	"discarchive/internal/deps"
)

func newDaemonCommands(ctx *commandContext) []*cobra.Command {
	var startLogLevel string
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the discarchive daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			exe, err := daemonExecutable()
			if err != nil {
				return err
			}
			opts := daemonLaunchOptions(ctx)
			opts.LogLevel = startLogLevel
			result, err := daemonctl.EnsureStarted(ctx.socketPath(), exe, opts, 10*time.Second)
			if err != nil {
				return err
			}
			switch result.State {
			case daemonctl.StartStateStarted:
				fmt.Fprintf(stdout, "Daemon started (pid %d)\n", result.PID)
			case daemonctl.StartStateAlreadyRunning:
				fmt.Fprintf(stdout, "Daemon already running (pid %d)\n", result.PID)
			}
			return nil
		},
	}
	startCmd.Flags().StringVar(&startLogLevel, "log-level", "", "Override the configured log level")

	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the discarchive daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			result, err := daemonctl.StopAndTerminate(ctx.socketPath(), ctx.configValue(), 5*time.Second)
			if errors.Is(err, daemonctl.ErrDaemonNotRunning) {
				fmt.Fprintln(stdout, "Daemon is not running")
				return nil
			}
			if err != nil {
				return err
			}
			if !result.StopAcknowledged {
				fmt.Fprintln(stdout, "Stop request sent")
			}
			if result.ForcedKill && result.PID > 0 {
				fmt.Fprintf(stdout, "Killed daemon process (pid %d)\n", result.PID)
			}
			fmt.Fprintln(stdout, "Daemon stopped")
			return nil
		},
	}

	var statusJSON bool
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon, dependency, drive and catalog status",
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := daemonctl.BuildStatusSnapshot(cmd.Context(), ctx.socketPath(), ctx.configValue())
			if err != nil {
				return err
			}
			if statusJSON {
				return writeJSON(cmd, snap)
			}
			writeStatus(cmd.OutOrStdout(), snap)
			return nil
		},
	}
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Output as JSON")

	return []*cobra.Command{startCmd, stopCmd, statusCmd}
}

func writeStatus(out io.Writer, snap *daemonctl.Snapshot) {
	colorize := shouldColorize(out)

	printSection(out, "System Status", colorize)
	for _, line := range snap.SystemChecks {
		fmt.Fprintln(out, renderStatusLine(line.Label, statusKindFromSeverity(line.Severity), line.Detail, colorize))
	}
	fmt.Fprintln(out)

	printSection(out, "Dependencies", colorize)
	for _, line := range dependencyLines(snap.Dependencies, snap.DependencySummary, colorize) {
		fmt.Fprintln(out, line)
	}

	if snap.Running() {
		fmt.Fprintln(out)
		printSection(out, "Drives", colorize)
		if len(snap.Daemon.Drives) == 0 {
			fmt.Fprintln(out, "No optical drives discovered")
		} else {
			fmt.Fprint(out, renderDrivesTable(snap.Daemon.Drives, colorize))
		}
	}

	if snap.Catalog != nil {
		fmt.Fprintln(out)
		printSection(out, "Catalog", colorize)
		writeCatalogSummary(out, *snap.Catalog)
	}
}

func dependencyLines(statuses []deps.Status, summary daemonctl.DependencySummary, colorize bool) []string {
	lines := make([]string, 0, len(statuses)+2)
	lines = append(lines, renderStatusLine("Summary", statusKindFromSeverity(summary.Severity), summary.Detail, colorize))
	var missing []string
	for _, dep := range statuses {
		if dep.Available {
			message := "Ready"
			if dep.Path != "" {
				message = fmt.Sprintf("Ready (%s)", dep.Path)
			}
			lines = append(lines, renderStatusLine(dep.Name, statusOK, message, colorize))
			continue
		}
		detail := strings.TrimSpace(dep.Detail)
		if detail == "" {
			detail = "not available"
		}
		kind := statusError
		if dep.Optional {
			kind = statusWarn
		}
		lines = append(lines, renderStatusLine(dep.Name, kind, detail, colorize))
		missing = append(missing, dep.Command)
	}
	if len(missing) > 0 {
		lines = append(lines, renderStatusLine("Missing", statusWarn,
			fmt.Sprintf("%s (install them or fix [tools] in config.toml)", strings.Join(missing, ", ")), colorize))
	}
	return lines
}

func writeCatalogSummary(out io.Writer, summary catalog.Summary) {
	if summary.Total == 0 {
		fmt.Fprintln(out, "No archive cycles recorded")
		return
	}
	outcomes := make([]string, 0, len(summary.ByOutcome))
	for outcome := range summary.ByOutcome {
		outcomes = append(outcomes, string(outcome))
	}
	sort.Strings(outcomes)
	rows := make([][]string, 0, len(outcomes)+1)
	for _, outcome := range outcomes {
		rows = append(rows, []string{outcome, fmt.Sprintf("%d", summary.ByOutcome[catalog.Outcome(outcome)])})
	}
	rows = append(rows, []string{"total", fmt.Sprintf("%d", summary.Total)})
	fmt.Fprint(out, renderTable([]string{"Outcome", "Cycles"}, rows, []columnAlignment{alignLeft, alignRight}))
	fmt.Fprintf(out, "Archived: %s\n", humanize.IBytes(uint64(max(summary.Bytes, 0))))
}

func newDaemonRunCommand(ctx *commandContext) *cobra.Command {
	var logLevel string
	cmd := &cobra.Command{
		Use:          "daemon",
		Short:        "Run the discarchive daemon in the foreground (internal)",
		Hidden:       true,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return daemonrun.Run(cmd.Context(), cfg, daemonrun.Options{
				LogLevel:   logLevel,
				SocketPath: strings.TrimSpace(*ctx.socketFlag),
				Stderr:     cmd.ErrOrStderr(),
			})
		},
	}
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Override the configured log level")
	return cmd
}

func daemonExecutable() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("resolve executable: %w", err)
	}
	return exe, nil
}

func daemonLaunchOptions(ctx *commandContext) daemonctl.LaunchOptions {
	opts := daemonctl.LaunchOptions{ConfigPath: ctx.configPath()}
	if ctx.socketFlag != nil {
		opts.SocketPath = strings.TrimSpace(*ctx.socketFlag)
	}
	return opts
}
