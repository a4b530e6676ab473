package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newReleaseCmd(opts *options) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "release",
		Short: "Release a lock left Held by a crashed process",
		Long: `Release a lock left Held by a crashed process.

Without --force only a stale lock is released; see --stale-after.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := opts.newService()
			if err != nil {
				return err
			}
			changed, err := svc.Recover(cmd.Context(), force)
			if err != nil {
				return err
			}
			if changed {
				fmt.Fprintf(cmd.OutOrStdout(), "Released %s\n", svc.Path())
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "%s is already Ready\n", svc.Path())
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "release even if the lock is not stale")
	return cmd
}
