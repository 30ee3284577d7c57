// Package main is the entry point for the cronloop CLI.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/flemzord/cronloop/internal/config"
	"github.com/flemzord/cronloop/internal/health"
	"github.com/flemzord/cronloop/internal/schedule"
	"github.com/flemzord/cronloop/pkg/app"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "cronloop",
		Short:         "A cron-style job scheduler with overlap locks and health reporting",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		runCmd(), listCmd(), workCmd(), serveCmd(),
		installCmd(), uninstallCmd(), statusCmd(), clearCacheCmd(),
		serviceCmd(), versionCmd(),
	)
	return root
}

// addConfigFlag attaches the shared --config flag.
func addConfigFlag(cmd *cobra.Command) {
	cmd.Flags().StringP("config", "c", "", "Path to configuration file")
}

// buildApp wires the application from the --config flag. Logs go to
// stderr so command output stays parseable.
func buildApp(cmd *cobra.Command, quiet bool) (*app.App, error) {
	cfgPath, _ := cmd.Flags().GetString("config")
	if cfgPath == "" {
		cfgPath = config.FindPath()
	}

	cfg := config.Default()
	if cfgPath != "" {
		loaded, err := config.Load(cfgPath)
		if err != nil {
			return nil, err
		}
		if err := config.Validate(loaded); err != nil {
			return nil, err
		}
		cfg = loaded
	}

	var out io.Writer = os.Stderr
	if quiet {
		out = io.Discard
	}
	logger := slog.New(slog.NewTextHandler(out, nil))
	return app.New(cfg, logger)
}

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one due-check-and-run cycle",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := buildApp(cmd, false)
			if err != nil {
				return err
			}
			defer a.Close()

			summary := a.Engine.RunDueEvents(cmd.Context(), time.Now())
			for _, res := range summary.Results {
				switch {
				case res.Skipped:
					fmt.Printf("%s: skipped (%s)\n", res.EventID, res.SkipReason)
				case res.Background:
					fmt.Printf("%s: dispatched in background\n", res.EventID)
				case res.Err != nil:
					fmt.Printf("%s: FAILED after %s: %v\n", res.EventID, res.Duration.Round(time.Millisecond), res.Err)
				default:
					fmt.Printf("%s: ok (%s)\n", res.EventID, res.Duration.Round(time.Millisecond))
				}
			}
			if summary.Ran == 0 {
				fmt.Println("No events due.")
			}
			if !summary.AllSucceeded() {
				return fmt.Errorf("%d event(s) failed", failedCount(summary))
			}
			return nil
		},
	}
	addConfigFlag(cmd)
	return cmd
}

func listCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List scheduled events with next and last run times",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := buildApp(cmd, true)
			if err != nil {
				return err
			}
			defer a.Close()

			stats := a.Engine.Stats(time.Now())
			if len(stats.Events) == 0 {
				fmt.Println("No events registered.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tEXPRESSION\tNEXT RUN\tLAST RUN\tOK\tFAIL\tDESCRIPTION")
			for _, ev := range stats.Events {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
					ev.ID, ev.Expression,
					formatTime(ev.NextRun), formatTime(ev.LastRun),
					ev.Successes, ev.Failures, ev.Description)
			}
			return w.Flush()
		},
	}
	addConfigFlag(cmd)
	return cmd
}

func workCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "work",
		Short: "Start the worker loop (polls for due events until stopped)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfgPath, _ := cmd.Flags().GetString("config")
			interval, _ := cmd.Flags().GetDuration("interval")
			return app.Run(app.RunParams{
				ConfigPath: cfgPath,
				Version:    version,
				Interval:   interval,
			})
		},
	}
	addConfigFlag(cmd)
	cmd.Flags().Duration("interval", 0, "Poll interval (defaults to the configured worker interval)")
	return cmd
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the worker loop plus the status HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfgPath, _ := cmd.Flags().GetString("config")
			return app.Run(app.RunParams{
				ConfigPath: cfgPath,
				Version:    version,
				Serve:      true,
			})
		},
	}
	addConfigFlag(cmd)
	return cmd
}

func installCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "install",
		Short: "Install the crontab entry that runs due events every minute",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := buildApp(cmd, true)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.Crontab.Install(); err != nil {
				return err
			}
			fmt.Println("Installed:", a.Crontab.EntryLine())
			return nil
		},
	}
	addConfigFlag(cmd)
	return cmd
}

func uninstallCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "uninstall",
		Short: "Remove the managed crontab entry",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := buildApp(cmd, true)
			if err != nil {
				return err
			}
			defer a.Close()

			yes, _ := cmd.Flags().GetBool("yes")
			if !yes {
				confirmed := false
				err := huh.NewConfirm().
					Title("Remove the cronloop crontab entry?").
					Description("Scheduled events will stop running until reinstalled.").
					Value(&confirmed).
					Run()
				if err != nil {
					return err
				}
				if !confirmed {
					fmt.Println("Aborted.")
					return nil
				}
			}

			if err := a.Crontab.Uninstall(); err != nil {
				return err
			}
			fmt.Println("Uninstalled.")
			return nil
		},
	}
	addConfigFlag(cmd)
	cmd.Flags().BoolP("yes", "y", false, "Skip the confirmation prompt")
	return cmd
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show crontab status and the scheduler health verdict",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := buildApp(cmd, true)
			if err != nil {
				return err
			}
			defer a.Close()

			st, err := a.Crontab.Status()
			if err != nil {
				return err
			}
			if st.Installed {
				fmt.Println("Crontab entry: installed")
				fmt.Println(" ", st.Entry)
			} else {
				fmt.Println("Crontab entry: not installed")
			}

			check := a.Monitor.Check(time.Now())
			fmt.Println("Health:", check.Status)
			for _, issue := range check.Issues {
				fmt.Println("  issue:", issue)
			}
			for _, rec := range check.Recommendations {
				fmt.Println("  hint:", rec)
			}
			if check.Status == health.StatusUnhealthy {
				return fmt.Errorf("scheduler is unhealthy")
			}
			return nil
		},
	}
	addConfigFlag(cmd)
	return cmd
}

func clearCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clear-cache",
		Short: "Remove all overlap lock files",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := buildApp(cmd, true)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.Engine.Locks().Clear(); err != nil {
				return err
			}
			fmt.Println("Lock files cleared.")
			return nil
		},
	}
	addConfigFlag(cmd)
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("cronloop %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func failedCount(summary schedule.Summary) int {
	n := 0
	for _, res := range summary.Results {
		if res.Err != nil {
			n++
		}
	}
	return n
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}
