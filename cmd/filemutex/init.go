package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newInitCmd(opts *options) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the lock file in the Ready state",
		Long: `Create the lock file in the Ready state.

An existing lock file is left untouched unless --force is given. Forcing
while another process holds the lock breaks its exclusion.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := opts.newService()
			if err != nil {
				return err
			}
			created, err := svc.Init(force)
			if err != nil {
				return err
			}
			if created {
				fmt.Fprintf(cmd.OutOrStdout(), "Initialized %s\n", svc.Path())
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "%s already exists (use --force to reset it)\n", svc.Path())
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing lock file")
	return cmd
}
