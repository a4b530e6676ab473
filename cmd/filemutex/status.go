package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"filemutex/internal/models"
)

func newStatusCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the state of the lock file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := opts.newService()
			if err != nil {
				return err
			}
			report, err := svc.Status()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if !report.Exists {
				fmt.Fprintf(out, "%s does not exist (run 'filemutex init')\n", report.Path)
				return nil
			}

			stateColor := color.New(color.FgGreen, color.Bold)
			if report.State == models.Held {
				stateColor = color.New(color.FgYellow, color.Bold)
			}
			if opts.cfg.NoColor {
				stateColor.DisableColor()
			}

			fmt.Fprintf(out, "Lock:     %s\n", report.Path)
			fmt.Fprintf(out, "State:    %s\n", stateColor.Sprint(report.State))
			fmt.Fprintf(out, "Modified: %s\n", report.ModTime.Format(time.RFC3339))
			if report.State == models.Held {
				fmt.Fprintf(out, "Held for: %s\n", formatDuration(report.HeldFor))
				if report.Stale {
					fmt.Fprintln(out, "Stale:    yes (run 'filemutex release' to recover)")
				}
			}
			return nil
		},
	}
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}
